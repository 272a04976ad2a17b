package version

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/amanindex/coreengine/internal/model"
)

// StalenessPolicy controls how the checker decides a version is too old to
// serve, per spec.md §4.8.
type StalenessPolicy struct {
	MaxAgeMinutes       int
	AllowCommitMismatch bool
}

// DefaultStalenessPolicy matches spec.md's documented defaults.
func DefaultStalenessPolicy() StalenessPolicy {
	return StalenessPolicy{MaxAgeMinutes: 60, AllowCommitMismatch: false}
}

// Checker validates a repo's latest (or a specific) index version against
// a StalenessPolicy.
type Checker struct {
	store  *Store
	policy StalenessPolicy
}

// NewChecker constructs a Checker over store with policy.
func NewChecker(store *Store, policy StalenessPolicy) *Checker {
	return &Checker{store: store, policy: policy}
}

// CheckVersion implements spec.md §4.8's check_version:
//   - requestedVersionID != 0: must exist and be COMPLETED, else invalid.
//   - otherwise: the latest COMPLETED version.
//   - staleness: commit mismatch (unless allowed) or age over max invalidate.
func (c *Checker) CheckVersion(ctx context.Context, repoID, currentCommit string, requestedVersionID int64) (valid bool, reason string, v *model.IndexVersion, err error) {
	if requestedVersionID != 0 {
		v, err = c.store.GetByID(ctx, repoID, requestedVersionID)
		if err != nil {
			return false, "", nil, err
		}
		if v == nil || v.Status != model.VersionCompleted {
			return false, fmt.Sprintf("requested version %d not found or not completed", requestedVersionID), v, nil
		}
		return true, "", v, nil
	}

	v, err = c.store.GetLatestVersion(ctx, repoID)
	if err != nil {
		return false, "", nil, err
	}
	if v == nil {
		return false, "No completed index version exists", nil, nil
	}

	if v.GitCommit != currentCommit && !c.policy.AllowCommitMismatch {
		return false, fmt.Sprintf("Index commit %s does not match current commit %s", v.GitCommit, currentCommit), v, nil
	}

	age := time.Since(v.IndexedAt)
	if age > time.Duration(c.policy.MaxAgeMinutes)*time.Minute {
		return false, fmt.Sprintf("Index too old: indexed %s ago, max age is %d minutes", age.Round(time.Second), c.policy.MaxAgeMinutes), v, nil
	}

	return true, "", v, nil
}

// Result is the outcome of a pre-search staleness gate.
type Result struct {
	IsValid             bool
	VersionID           int64
	StalenessSeconds    float64
	Reason              string
	AutoReindexTriggered bool
}

// AutoRebuildFunc triggers a rebuild for repoID; returning an error only
// logs -- the middleware does not propagate rebuild failures to the caller
// since the staleness result has already been computed.
type AutoRebuildFunc func(ctx context.Context, repoID string) error

// Metrics receives the middleware's staleness observations. Implementations
// typically wrap a Prometheus client; nil is a valid no-op.
type Metrics interface {
	ObserveStalenessSeconds(repoID string, seconds float64)
	IncVersionCheckTotal(repoID, status string)
}

// Alerter is notified when a staleness check fails. nil is a valid no-op.
type Alerter interface {
	Alert(ctx context.Context, repoID, reason string)
}

// Middleware wraps a Checker with metrics, alerting, and optional
// auto-rebuild, per spec.md §4.8's VersionCheckMiddleware.
type Middleware struct {
	checker     *Checker
	metrics     Metrics
	alerter     Alerter
	autoRebuild AutoRebuildFunc
}

// NewMiddleware constructs a Middleware. metrics, alerter, and autoRebuild
// are all optional (nil disables that behavior).
func NewMiddleware(checker *Checker, metrics Metrics, alerter Alerter, autoRebuild AutoRebuildFunc) *Middleware {
	return &Middleware{checker: checker, metrics: metrics, alerter: alerter, autoRebuild: autoRebuild}
}

// CheckBeforeRequest runs the staleness gate ahead of a search, recording
// metrics, alerting, and triggering an auto-rebuild when configured.
func (m *Middleware) CheckBeforeRequest(ctx context.Context, repoID, currentCommit string) (Result, error) {
	valid, reason, v, err := m.checker.CheckVersion(ctx, repoID, currentCommit, 0)
	if err != nil {
		return Result{}, err
	}

	res := Result{IsValid: valid, Reason: reason}
	staleness := 0.0
	if v != nil {
		res.VersionID = v.VersionID
		staleness = time.Since(v.IndexedAt).Seconds()
	}
	res.StalenessSeconds = staleness

	if m.metrics != nil {
		m.metrics.ObserveStalenessSeconds(repoID, staleness)
		status := "valid"
		if !valid {
			status = "stale"
		}
		m.metrics.IncVersionCheckTotal(repoID, status)
	}

	if !valid {
		if m.alerter != nil {
			m.alerter.Alert(ctx, repoID, reason)
		}
		if m.autoRebuild != nil {
			if err := m.autoRebuild(ctx, repoID); err != nil {
				slog.Error("auto_reindex_failed", slog.String("repo_id", repoID), slog.String("error", err.Error()))
			} else {
				res.AutoReindexTriggered = true
			}
		}
	}

	return res, nil
}
