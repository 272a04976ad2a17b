package watcher

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/amanindex/coreengine/internal/model"
	"github.com/amanindex/coreengine/internal/ports"
)

// OverlayUpdater is the subset of an overlay manager's API the feeder
// drives. Declared locally so this package depends on internal/model and
// internal/ports only, not on internal/overlay itself.
type OverlayUpdater interface {
	BuildOverlay(ctx context.Context, repoID, baseSnapshotID string, uncommittedFiles map[string]string, baseIRDocs map[string]*model.IRDocument) (*model.MergedSnapshot, error)
}

// OverlayFeeder drives a Watcher's debounced change batches into an
// OverlayUpdater, so queries against repoID see the developer's in-flight
// edits layered atop the last indexed commit without re-running full
// indexing on every keystroke.
type OverlayFeeder struct {
	RepoRoot       string
	RepoID         string
	BaseSnapshotID string
	Updater        OverlayUpdater
	IRBuilder      ports.IRBuilder
	Logger         *slog.Logger

	mu      sync.Mutex
	pending map[string]string
	baseIR  map[string]*model.IRDocument
}

// Run consumes w's batched event channel until it closes or ctx is
// cancelled, rebuilding the overlay for every debounced batch of changes.
func (f *OverlayFeeder) Run(ctx context.Context, w *HybridWatcher) {
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-w.Events():
			if !ok {
				return
			}
			f.handleBatch(ctx, batch, logger)
		}
	}
}

func (f *OverlayFeeder) handleBatch(ctx context.Context, batch []FileEvent, logger *slog.Logger) {
	f.mu.Lock()
	if f.pending == nil {
		f.pending = make(map[string]string)
	}
	if f.baseIR == nil {
		f.baseIR = make(map[string]*model.IRDocument)
	}

	for _, ev := range batch {
		if ev.IsDir || ev.Operation == OpGitignoreChange || ev.Operation == OpConfigChange {
			continue
		}
		if ev.Operation == OpDelete {
			delete(f.pending, ev.Path)
			delete(f.baseIR, ev.Path)
			continue
		}

		content, err := os.ReadFile(filepath.Join(f.RepoRoot, ev.Path))
		if err != nil {
			delete(f.pending, ev.Path)
			continue
		}
		f.pending[ev.Path] = string(content)

		if _, cached := f.baseIR[ev.Path]; !cached {
			if baseContent, ok := f.gitShowHead(ev.Path); ok {
				if ir, buildErr := f.IRBuilder.Build(ctx, ev.Path, baseContent); buildErr == nil {
					f.baseIR[ev.Path] = ir
				}
			}
		}
	}

	files := make(map[string]string, len(f.pending))
	for k, v := range f.pending {
		files[k] = v
	}
	baseIR := make(map[string]*model.IRDocument, len(f.baseIR))
	for k, v := range f.baseIR {
		baseIR[k] = v
	}
	f.mu.Unlock()

	if len(files) == 0 {
		return
	}

	merged, err := f.Updater.BuildOverlay(ctx, f.RepoID, f.BaseSnapshotID, files, baseIR)
	if err != nil {
		logger.Warn("overlay_feed_failed", slog.Int("files", len(files)), slog.String("error", err.Error()))
		return
	}
	logger.Info("overlay_updated", slog.Int("files", len(files)), slog.Int("conflicts", len(merged.Conflicts)))
}

// gitShowHead reads path's content as of HEAD, or (_, false) if the repo,
// git binary, or the path at HEAD is unavailable.
func (f *OverlayFeeder) gitShowHead(path string) (string, bool) {
	out, err := exec.Command("git", "-C", f.RepoRoot, "show", "HEAD:"+filepath.ToSlash(path)).Output()
	if err != nil {
		return "", false
	}
	return strings.TrimRight(string(out), "\n"), true
}
