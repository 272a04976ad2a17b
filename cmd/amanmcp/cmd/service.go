package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"

	"github.com/amanindex/coreengine/internal/config"
	"github.com/amanindex/coreengine/internal/idempotency"
	"github.com/amanindex/coreengine/internal/indexing"
	"github.com/amanindex/coreengine/internal/lexical"
	"github.com/amanindex/coreengine/internal/lock"
	"github.com/amanindex/coreengine/internal/overlay"
	"github.com/amanindex/coreengine/internal/parse"
	"github.com/amanindex/coreengine/internal/ports"
	"github.com/amanindex/coreengine/internal/store"
	"github.com/amanindex/coreengine/internal/version"
)

// wiredService bundles the IndexingService and the lower-level pieces
// (lexical base/delta/tombstones, compaction, version store) that the
// compact and version-status commands need directly, alongside the
// IRBuilder used by any overlay-aware caller. Every backend here is wired
// against the teacher's own store adapters or the spec's new lexical/
// version packages, following the port contracts in internal/ports.
type wiredService struct {
	Root    string
	DataDir string

	Service      *indexing.Service
	IRBuilder    ports.IRBuilder
	Lexical      *lexical.MergingLexicalIndex
	Compaction   *lexical.CompactionManager
	VersionStore *version.Store
	Overlay      *overlay.Manager

	closers []func() error
}

func (w *wiredService) Close() {
	for i := len(w.closers) - 1; i >= 0; i-- {
		_ = w.closers[i]()
	}
}

// wireService constructs every backend for repoRoot's .amanmcp data
// directory and composes an IndexingService from them. Vector and domain
// indexes are wired but inert without a bound Embedder -- providing the
// embedding model itself is out of core scope (spec.md §1) -- so
// IndexRepoFull/Incremental simply skip embedding work silently.
func wireService(repoRoot string) (*wiredService, error) {
	dataDir := filepath.Join(repoRoot, ".amanmcp")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	w := &wiredService{Root: repoRoot, DataDir: dataDir}

	// The lexical/vector/domain backends below are all local files under
	// dataDir; a second amanmcp process pointed at the same repo would
	// corrupt them with interleaved writes, so claim an exclusive
	// process-level lock for dataDir before opening any of them.
	repoLock := flock.New(filepath.Join(dataDir, ".lock"))
	locked, err := repoLock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire repo lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("another amanmcp process already holds %s (is a serve/watch already running?)", dataDir)
	}
	w.closers = append(w.closers, repoLock.Unlock)

	rootDir := func(string) string { return repoRoot }

	base, err := lexical.NewBaseLexicalIndex(filepath.Join(dataDir, "lexical_base.db"), rootDir)
	if err != nil {
		return nil, fmt.Errorf("open base lexical index: %w", err)
	}
	w.closers = append(w.closers, base.Close)

	delta, err := lexical.NewDeltaIndex(filepath.Join(dataDir, "lexical_delta.db"))
	if err != nil {
		return nil, fmt.Errorf("open delta lexical index: %w", err)
	}
	w.closers = append(w.closers, delta.Close)

	tombstones, err := lexical.NewTombstoneManager(delta.DB())
	if err != nil {
		return nil, fmt.Errorf("open tombstone manager: %w", err)
	}

	merged := lexical.NewMergingLexicalIndex(base, delta, tombstones)
	w.Lexical = merged

	locker := lock.NewMemoryLocker()
	w.Compaction = lexical.NewCompactionManager(delta, tombstones, locker, lexical.DefaultConfig())

	vectorAdapter := store.NewVectorIndexAdapter(filepath.Join(dataDir, "vector"), store.VectorStoreConfig{Dimensions: 256})

	fuzzyAdapter, err := store.NewTrigramFuzzyIndex(store.DefaultFuzzyPostingsCacheSize)
	if err != nil {
		return nil, fmt.Errorf("open fuzzy index: %w", err)
	}

	domainAdapter, err := store.NewBleveDomainIndex(filepath.Join(dataDir, "domain.bleve"))
	if err != nil {
		return nil, fmt.Errorf("open domain index: %w", err)
	}
	w.closers = append(w.closers, domainAdapter.Close)

	idemStore, err := idempotency.New(filepath.Join(dataDir, "idempotency.db"))
	if err != nil {
		return nil, fmt.Errorf("open idempotency store: %w", err)
	}
	w.closers = append(w.closers, idemStore.Close)

	versionStore, err := version.NewStore(filepath.Join(dataDir, "versions.db"))
	if err != nil {
		return nil, fmt.Errorf("open version store: %w", err)
	}
	w.closers = append(w.closers, versionStore.Close)
	w.VersionStore = versionStore

	irBuilder := parse.NewTreeSitterIRBuilder()
	overlayMgr := overlay.NewManager(overlay.NewBuilder(irBuilder, overlay.DefaultMaxOverlayFiles), overlay.NewGraphMerger(nil, overlay.DefaultCacheTTL))
	w.Overlay = overlayMgr

	opts := []indexing.Option{
		indexing.WithLexicalIndex(merged),
		indexing.WithVectorIndex(vectorAdapter),
		indexing.WithFuzzyIndex(fuzzyAdapter),
		indexing.WithDomainIndex(domainAdapter),
		indexing.WithIdempotencyStore(idemStore),
		indexing.WithRootDirResolver(rootDir),
		indexing.WithOverlayManager(overlayMgr),
	}

	if uri := os.Getenv("AMANMCP_NEO4J_URI"); uri != "" {
		user := os.Getenv("AMANMCP_NEO4J_USER")
		pass := os.Getenv("AMANMCP_NEO4J_PASSWORD")
		db := os.Getenv("AMANMCP_NEO4J_DATABASE")
		symGraph, err := store.NewNeo4jSymbolGraph(context.Background(), uri, user, pass, db)
		if err != nil {
			return nil, fmt.Errorf("connect symbol graph: %w", err)
		}
		w.closers = append(w.closers, func() error { return symGraph.Close(context.Background()) })
		opts = append(opts, indexing.WithSymbolIndex(symGraph))
	}

	w.Service = indexing.New(opts...)
	w.IRBuilder = irBuilder

	return w, nil
}

// repoIDFor derives a stable repo_id from a repository's absolute path.
func repoIDFor(root string) string {
	return filepath.Base(root)
}

// currentGitCommit shells out to git for HEAD's hash; "unknown" if the
// directory isn't a git repository or git isn't on PATH.
func currentGitCommit(root string) string {
	out, err := exec.Command("git", "-C", root, "rev-parse", "HEAD").Output()
	if err != nil {
		return "unknown"
	}
	return strings.TrimSpace(string(out))
}

// newVersionChecker builds a Checker over w's version store with the
// spec's documented staleness defaults.
func newVersionChecker(w *wiredService) *version.Checker {
	return version.NewChecker(w.VersionStore, version.DefaultStalenessPolicy())
}

// resolveRoot finds the project root for a CLI-supplied path argument. When
// arg is empty it first checks for an active session (amanmcp session use)
// before falling back to the current directory, then walks up for a
// project marker either way.
func resolveRoot(arg string) (string, error) {
	start := arg
	if start == "" {
		if active, ok := activeProjectPath(); ok {
			start = active
		} else {
			start = "."
		}
	}
	abs, err := filepath.Abs(start)
	if err != nil {
		return "", err
	}
	if root, err := config.FindProjectRoot(abs); err == nil {
		return root, nil
	}
	return abs, nil
}
