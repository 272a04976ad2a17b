package lexical

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/amanindex/coreengine/internal/errors"
	"github.com/amanindex/coreengine/internal/lock"
)

// CompactionState is one repo's position in the three-phase state machine.
type CompactionState string

const (
	StateNormal           CompactionState = "NORMAL"
	StateFrozen           CompactionState = "FROZEN"
	StateFrozenRebuilding CompactionState = "FROZEN_REBUILDING"
)

// RebuildFunc asynchronously rebuilds the base lexical index from the
// current repository working set. Supplied by the caller (IndexingService);
// the core never hardcodes how the base is rebuilt (spec.md §4.4).
type RebuildFunc func(ctx context.Context, repoID, snapshotID string) error

// CompactionManager drives should_compact and the Freeze -> Rebuild ->
// Promote state machine. Exactly one compaction runs per repo at a time,
// serialized with a repo-scoped distributed lock (spec.md §5).
type CompactionManager struct {
	delta       *DeltaIndex
	tombstones  *TombstoneManager
	freeze      *FreezeBuffer
	locker      lock.Locker
	lockTTL     time.Duration
	triggerN    int
	triggerAge  time.Duration

	mu     sync.Mutex
	states map[string]CompactionState
}

// Config configures trigger thresholds (spec.md §4.4 defaults).
type Config struct {
	TriggerFileCount int
	TriggerAgeHours  float64
	LockTTL          time.Duration
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{TriggerFileCount: 200, TriggerAgeHours: 24, LockTTL: 30 * time.Second}
}

// NewCompactionManager wires a manager over an existing delta/tombstone pair.
func NewCompactionManager(delta *DeltaIndex, tombstones *TombstoneManager, locker lock.Locker, cfg Config) *CompactionManager {
	if cfg.TriggerFileCount <= 0 {
		cfg.TriggerFileCount = 200
	}
	if cfg.TriggerAgeHours <= 0 {
		cfg.TriggerAgeHours = 24
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	return &CompactionManager{
		delta:      delta,
		tombstones: tombstones,
		freeze:     NewFreezeBuffer(),
		locker:     locker,
		lockTTL:    cfg.LockTTL,
		triggerN:   cfg.TriggerFileCount,
		triggerAge: time.Duration(cfg.TriggerAgeHours * float64(time.Hour)),
		states:     make(map[string]CompactionState),
	}
}

// State returns the current compaction state for repoID (NORMAL if unseen).
func (c *CompactionManager) State(repoID string) CompactionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.states[repoID]; ok {
		return s
	}
	return StateNormal
}

func (c *CompactionManager) setState(repoID string, s CompactionState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states[repoID] = s
}

// ShouldCompact reports whether repoID's delta count or age has crossed its
// trigger threshold.
func (c *CompactionManager) ShouldCompact(ctx context.Context, repoID string) (bool, error) {
	n, err := c.delta.Count(ctx, repoID)
	if err != nil {
		return false, fmt.Errorf("count delta: %w", err)
	}
	if n >= c.triggerN {
		return true, nil
	}
	age, err := c.delta.Age(ctx, repoID)
	if err != nil {
		return false, fmt.Errorf("delta age: %w", err)
	}
	return age >= c.triggerAge, nil
}

// IndexFileDuringFreeze routes a write either straight to the delta (when
// NORMAL) or into the freeze buffer (when FROZEN/FROZEN_REBUILDING). Callers
// should route all delta writes through here once a manager is in use.
func (c *CompactionManager) IndexFileDuringFreeze(ctx context.Context, repoID, path, content string, baseVersionID *int64) error {
	if c.State(repoID) == StateNormal {
		return c.delta.IndexFile(ctx, repoID, path, content, baseVersionID)
	}
	c.freeze.BufferIndex(repoID, path, content, baseVersionID)
	return nil
}

// DeleteFileDuringFreeze is the delete-path analog of IndexFileDuringFreeze.
func (c *CompactionManager) DeleteFileDuringFreeze(ctx context.Context, repoID, path string, baseVersionID *int64) error {
	if c.State(repoID) == StateNormal {
		return c.delta.DeleteFile(ctx, repoID, path, baseVersionID)
	}
	c.freeze.BufferDelete(repoID, path, baseVersionID)
	return nil
}

// Compact runs the three-phase consolidation of delta into base: Freeze
// (mark read-only, buffer new writes), Rebuild (caller-supplied, asynchronous
// from the repo's perspective but awaited here), Promote (clear the previous
// delta rows and tombstones, replay buffered writes into the fresh delta,
// lift the freeze).
//
// On rebuild failure, Compact aborts without promoting: the freeze is lifted
// and buffered writes are replayed back into the existing (unrebuilt) delta.
func (c *CompactionManager) Compact(ctx context.Context, repoID, snapshotID string, rebuild RebuildFunc) error {
	l, err := c.locker.Acquire(ctx, "compaction:"+repoID, c.lockTTL)
	if err != nil {
		return fmt.Errorf("acquire compaction lock for %s: %w", repoID, err)
	}
	defer func() { _ = l.Release(ctx) }()

	c.setState(repoID, StateFrozen)
	slog.Info("lexical_compaction_freeze", slog.String("repo_id", repoID))

	c.setState(repoID, StateFrozenRebuilding)
	slog.Info("lexical_compaction_rebuild_start", slog.String("repo_id", repoID))

	if err := rebuild(ctx, repoID, snapshotID); err != nil {
		slog.Error("lexical_compaction_rebuild_failed",
			slog.String("repo_id", repoID), slog.String("error", err.Error()))
		c.replay(ctx, repoID, c.delta)
		c.setState(repoID, StateNormal)
		return errors.CompactionError("lexical compaction rebuild failed", err)
	}

	if err := c.delta.Clear(ctx, repoID); err != nil {
		c.setState(repoID, StateNormal)
		return errors.CompactionError("clearing pre-compaction delta rows failed", err)
	}
	if err := c.tombstones.Clear(ctx, repoID); err != nil {
		c.setState(repoID, StateNormal)
		return errors.CompactionError("clearing tombstones failed", err)
	}

	c.replay(ctx, repoID, c.delta)
	c.setState(repoID, StateNormal)
	slog.Info("lexical_compaction_promoted", slog.String("repo_id", repoID))
	return nil
}

// replay drains the freeze buffer for repoID and applies buffered ops, in
// arrival order, into dst.
func (c *CompactionManager) replay(ctx context.Context, repoID string, dst *DeltaIndex) {
	ops := c.freeze.Drain(repoID)
	for _, op := range ops {
		var err error
		switch op.kind {
		case freezeIndex:
			err = dst.IndexFile(ctx, repoID, op.path, op.content, op.baseVersionID)
		case freezeDelete:
			err = dst.DeleteFile(ctx, repoID, op.path, op.baseVersionID)
		}
		if err != nil {
			slog.Warn("lexical_compaction_replay_failed",
				slog.String("repo_id", repoID), slog.String("path", op.path), slog.String("error", err.Error()))
		}
	}
}
