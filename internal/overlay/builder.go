// Package overlay implements the local-overlay subsystem: building an
// OverlaySnapshot from uncommitted files, merging it with a base snapshot
// into a query-visible MergedSnapshot, and resolving the symbol conflicts
// that merge surfaces (spec.md §4.3).
package overlay

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/amanindex/coreengine/internal/errors"
	"github.com/amanindex/coreengine/internal/model"
	"github.com/amanindex/coreengine/internal/ports"
)

// DefaultMaxOverlayFiles is the spec's documented cap on uncommitted files
// considered per overlay build.
const DefaultMaxOverlayFiles = 50

// Builder builds an OverlaySnapshot from uncommitted files, computing the
// deterministic snapshot_id and the set of symbols the overlay affects
// relative to the base (spec.md §4.3 step 1-4).
type Builder struct {
	irBuilder       ports.IRBuilder
	maxOverlayFiles int
}

// NewBuilder constructs a Builder. maxOverlayFiles <= 0 uses the default (50).
func NewBuilder(irBuilder ports.IRBuilder, maxOverlayFiles int) *Builder {
	if maxOverlayFiles <= 0 {
		maxOverlayFiles = DefaultMaxOverlayFiles
	}
	return &Builder{irBuilder: irBuilder, maxOverlayFiles: maxOverlayFiles}
}

// BuildOverlay parses uncommitted files, computes affected symbols against
// baseIRDocs, and derives the overlay's deterministic snapshot_id.
//
// uncommittedFiles excess over maxOverlayFiles is dropped silently in
// file-iteration order -- the cap is a ceiling, not a sampling guarantee, so
// callers should not assume which files survive when the map is large.
func (b *Builder) BuildOverlay(ctx context.Context, baseSnapshotID, repoID string, uncommittedFiles map[string]string, baseIRDocs map[string]*model.IRDocument) (*model.OverlaySnapshot, error) {
	paths := make([]string, 0, len(uncommittedFiles))
	for p := range uncommittedFiles {
		paths = append(paths, p)
	}
	if len(paths) > b.maxOverlayFiles {
		paths = paths[:b.maxOverlayFiles]
	}

	overlay := &model.OverlaySnapshot{
		BaseSnapshotID:   baseSnapshotID,
		RepoID:           repoID,
		UncommittedFiles: make(map[string]*model.UncommittedFile, len(paths)),
		OverlayIRDocs:    make(map[string]*model.IRDocument, len(paths)),
		AffectedSymbols:  make(map[string]struct{}),
		InvalidatedFiles: make(map[string]struct{}),
	}

	for _, path := range paths {
		content := uncommittedFiles[path]
		hash := contentHash(content)
		_, inBase := baseIRDocs[path]
		uf := &model.UncommittedFile{
			FilePath:    path,
			Content:     content,
			Timestamp:   time.Now(),
			ContentHash: hash,
			IsNew:       !inBase,
		}
		overlay.UncommittedFiles[path] = uf

		ir, err := b.irBuilder.Build(ctx, path, content)
		if err != nil {
			slog.Warn("overlay_parse_failed", slog.String("path", path), slog.String("error", err.Error()))
			_ = errors.OverlayParseError(fmt.Sprintf("parsing %s failed", path), err)
			continue
		}
		overlay.OverlayIRDocs[path] = ir
		overlay.InvalidatedFiles[path] = struct{}{}

		if uf.IsNew {
			for id := range ir.Symbols {
				overlay.AffectedSymbols[id] = struct{}{}
			}
			continue
		}
		baseIR := baseIRDocs[path]
		for id := range affectedSymbolIDs(baseIR, ir) {
			overlay.AffectedSymbols[id] = struct{}{}
		}
	}

	overlay.SnapshotID = deriveSnapshotID(baseSnapshotID, overlay.UncommittedFiles)
	return overlay, nil
}

// affectedSymbolIDs implements spec.md §4.3 step 3 for one file present in
// both base and overlay: deleted, new, signature-changed, or range-changed
// symbol ids are all "affected".
func affectedSymbolIDs(baseIR, overlayIR *model.IRDocument) map[string]struct{} {
	out := make(map[string]struct{})
	if baseIR == nil || overlayIR == nil {
		return out
	}
	for id, baseSym := range baseIR.Symbols {
		overlaySym, ok := overlayIR.Symbols[id]
		if !ok {
			out[id] = struct{}{}
			continue
		}
		if baseSym.Signature != overlaySym.Signature {
			out[id] = struct{}{}
			continue
		}
		if baseSym.StartLine != overlaySym.StartLine || baseSym.EndLine != overlaySym.EndLine {
			out[id] = struct{}{}
		}
	}
	for id := range overlayIR.Symbols {
		if _, inBase := baseIR.Symbols[id]; !inBase {
			out[id] = struct{}{}
		}
	}
	return out
}

// deriveSnapshotID computes
// "overlay_" + first16Hex(SHA256(base_snapshot_id || sum(path||sha256(content))))
// per spec.md §6, sorting paths first so the id is deterministic regardless
// of map iteration order.
func deriveSnapshotID(baseSnapshotID string, files map[string]*model.UncommittedFile) string {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	h := sha256.New()
	h.Write([]byte(baseSnapshotID))
	for _, p := range paths {
		h.Write([]byte(p))
		h.Write([]byte(files[p].ContentHash))
	}
	sum := hex.EncodeToString(h.Sum(nil))
	return "overlay_" + sum[:16]
}

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
