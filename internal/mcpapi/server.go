package mcpapi

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/amanindex/coreengine/internal/indexing"
	"github.com/amanindex/coreengine/internal/model"
	"github.com/amanindex/coreengine/internal/ports"
	"github.com/amanindex/coreengine/internal/search"
	"github.com/amanindex/coreengine/internal/version"
	pkgversion "github.com/amanindex/coreengine/pkg/version"
)

// Server bridges MCP clients to a single IndexingService. It owns no
// indexing state itself -- every tool handler is a thin decode/call/encode
// wrapper.
type Server struct {
	mcp       *mcp.Server
	svc       *indexing.Service
	staleCk   *version.Middleware // optional; nil disables the staleness gate
	repoRoot  string              // optional; enables build_overlay's git-HEAD base lookup
	irBuilder ports.IRBuilder     // optional; required for build_overlay
	logger    *slog.Logger
}

// NewServer constructs a Server over an already-wired IndexingService.
// staleCk is optional; when set, search consults it before querying.
// repoRoot/irBuilder are optional; when both are set, the build_overlay
// tool is fully functional (it reads base content via `git show HEAD:` and
// parses it with irBuilder).
func NewServer(svc *indexing.Service, staleCk *version.Middleware, repoRoot string, irBuilder ports.IRBuilder) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("indexing service is required")
	}
	s := &Server{
		svc:       svc,
		staleCk:   staleCk,
		repoRoot:  repoRoot,
		irBuilder: irBuilder,
		logger:    slog.Default(),
	}
	s.mcp = mcp.NewServer(
		&mcp.Implementation{Name: "coreengine", Version: pkgversion.Version},
		nil,
	)
	s.registerTools()
	return s, nil
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search",
		Description: "Hybrid search across every configured index (lexical, vector, symbol, fuzzy, domain), fused into one ranked list. Understands natural-language graph queries like 'callers of X'.",
	}, s.handleSearch)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "index_repo_full",
		Description: "Run a full reindex of a repository snapshot across every configured backend.",
	}, s.handleIndexRepoFull)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "index_repo_incremental",
		Description: "Apply an added/updated/deleted chunk diff to every configured backend.",
	}, s.handleIndexRepoIncremental)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "index_repo_two_phase",
		Description: "Reindex a repository snapshot in two phases: symbol+lexical+fuzzy synchronously, vector+domain in the background. Returns immediately once phase one completes.",
	}, s.handleIndexRepoTwoPhase)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "index_files",
		Description: "Reindex a small list of file paths, e.g. from an editor save hook.",
	}, s.handleIndexFiles)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "wait_until_idle",
		Description: "Block until the embedding queue drains or a timeout elapses.",
	}, s.handleWaitUntilIdle)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "build_overlay",
		Description: "Layer a set of uncommitted file edits atop the last indexed snapshot, so subsequent search calls for the repo see the developer's in-flight changes.",
	}, s.handleBuildOverlay)

	s.logger.Info("mcp_tools_registered", slog.Int("count", 7))
}

// SearchInput is the search tool's input schema.
type SearchInput struct {
	RepoID     string  `json:"repo_id" jsonschema:"the repository identifier to search within"`
	SnapshotID string  `json:"snapshot_id" jsonschema:"the indexed snapshot to query"`
	Query      string  `json:"query" jsonschema:"free-text or natural-language query"`
	Limit      int     `json:"limit,omitempty" jsonschema:"maximum number of results, default 10"`
	CurrentCommit string `json:"current_commit,omitempty" jsonschema:"current HEAD commit, used for the staleness gate"`
}

// SearchOutput is the search tool's output schema.
type SearchOutput struct {
	Results []SearchHitOutput `json:"results"`
	Stale   bool              `json:"stale,omitempty" jsonschema:"true if the staleness gate flagged this snapshot as out of date"`
	Reason  string            `json:"reason,omitempty"`
}

// SearchHitOutput mirrors model.SearchHit for the wire.
type SearchHitOutput struct {
	ChunkID  string         `json:"chunk_id"`
	FilePath string         `json:"file_path,omitempty"`
	SymbolID string         `json:"symbol_id,omitempty"`
	Score    float64        `json:"score"`
	Source   string         `json:"source"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func toHitOutput(h model.SearchHit) SearchHitOutput {
	return SearchHitOutput{
		ChunkID:  h.ChunkID,
		FilePath: h.FilePath,
		SymbolID: h.SymbolID,
		Score:    h.Score,
		Source:   string(h.Source),
		Metadata: h.Metadata,
	}
}

func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, in SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	if in.RepoID == "" {
		return nil, SearchOutput{}, mapError(ErrRepoIDEmpty)
	}
	if in.Query == "" {
		return nil, SearchOutput{}, mapError(ErrQueryEmpty)
	}
	if len(in.Query) > MaxQueryLength {
		return nil, SearchOutput{}, mapError(ErrQueryTooLong)
	}
	limit := in.Limit
	if limit <= 0 {
		limit = 10
	}

	out := SearchOutput{}
	if s.staleCk != nil && in.CurrentCommit != "" {
		res, err := s.staleCk.CheckBeforeRequest(ctx, in.RepoID, in.CurrentCommit)
		if err != nil {
			return nil, SearchOutput{}, mapError(err)
		}
		if !res.IsValid {
			out.Stale = true
			out.Reason = res.Reason
		}
	}

	hits, opErrs, err := s.svc.Search(ctx, in.RepoID, in.SnapshotID, in.Query, limit, search.Weights(nil))
	if err != nil {
		return nil, SearchOutput{}, mapError(err)
	}
	for _, oe := range opErrs {
		s.logger.Warn("search_backend_error", slog.String("operation", oe.Operation), slog.String("error", oe.Err.Error()))
	}

	out.Results = make([]SearchHitOutput, 0, len(hits))
	for _, h := range hits {
		out.Results = append(out.Results, toHitOutput(h))
	}
	return nil, out, nil
}

// IndexRepoFullInput is the index_repo_full tool's input schema.
type IndexRepoFullInput struct {
	RepoID     string         `json:"repo_id"`
	SnapshotID string         `json:"snapshot_id"`
	Chunks     []ChunkInput   `json:"chunks"`
}

// ChunkInput mirrors model.Chunk for the wire.
type ChunkInput struct {
	ChunkID   string `json:"chunk_id"`
	FilePath  string `json:"file_path"`
	Kind      string `json:"kind"`
	Language  string `json:"language,omitempty"`
	StartLine int    `json:"start_line,omitempty"`
	EndLine   int    `json:"end_line,omitempty"`
	Code      string `json:"code,omitempty"`
}

func toModelChunk(repoID, snapshotID string, c ChunkInput) model.Chunk {
	return model.Chunk{
		ChunkID:    c.ChunkID,
		RepoID:     repoID,
		SnapshotID: snapshotID,
		FilePath:   c.FilePath,
		Kind:       model.ContentType(c.Kind),
		Language:   c.Language,
		StartLine:  c.StartLine,
		EndLine:    c.EndLine,
		Code:       c.Code,
	}
}

// IndexResultOutput is shared by every indexing tool's output schema.
type IndexResultOutput struct {
	Errors []string `json:"errors,omitempty"`
}

func toErrorStrings(errs []indexing.OpError) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Error()
	}
	return out
}

func (s *Server) handleIndexRepoFull(ctx context.Context, _ *mcp.CallToolRequest, in IndexRepoFullInput) (*mcp.CallToolResult, IndexResultOutput, error) {
	if in.RepoID == "" {
		return nil, IndexResultOutput{}, mapError(ErrRepoIDEmpty)
	}
	chunks := make([]model.Chunk, 0, len(in.Chunks))
	sourceCodes := make(map[string]string, len(in.Chunks))
	for _, c := range in.Chunks {
		mc := toModelChunk(in.RepoID, in.SnapshotID, c)
		chunks = append(chunks, mc)
		sourceCodes[mc.ChunkID] = mc.Code
	}
	errs := s.svc.IndexRepoFull(ctx, in.RepoID, in.SnapshotID, chunks, nil, nil, sourceCodes)
	return nil, IndexResultOutput{Errors: toErrorStrings(errs)}, nil
}

// IndexRepoIncrementalInput is the index_repo_incremental tool's input schema.
type IndexRepoIncrementalInput struct {
	RepoID           string       `json:"repo_id"`
	SnapshotID       string       `json:"snapshot_id"`
	AddedChunks      []ChunkInput `json:"added_chunks,omitempty"`
	UpdatedChunks    []ChunkInput `json:"updated_chunks,omitempty"`
	DeletedChunkIDs  []string     `json:"deleted_chunk_ids,omitempty"`
	DeletedFilePaths []string     `json:"deleted_file_paths,omitempty"`
}

func (s *Server) handleIndexRepoIncremental(ctx context.Context, _ *mcp.CallToolRequest, in IndexRepoIncrementalInput) (*mcp.CallToolResult, IndexResultOutput, error) {
	if in.RepoID == "" {
		return nil, IndexResultOutput{}, mapError(ErrRepoIDEmpty)
	}
	sourceCodes := make(map[string]string)
	toChunks := func(ins []ChunkInput) []model.Chunk {
		out := make([]model.Chunk, 0, len(ins))
		for _, c := range ins {
			mc := toModelChunk(in.RepoID, in.SnapshotID, c)
			out = append(out, mc)
			sourceCodes[mc.ChunkID] = mc.Code
		}
		return out
	}
	refresh := model.RefreshResult{
		AddedChunks:      toChunks(in.AddedChunks),
		UpdatedChunks:    toChunks(in.UpdatedChunks),
		DeletedChunkIDs:  in.DeletedChunkIDs,
		DeletedFilePaths: in.DeletedFilePaths,
	}
	errs := s.svc.IndexRepoIncremental(ctx, in.RepoID, in.SnapshotID, refresh, nil, nil, sourceCodes)
	return nil, IndexResultOutput{Errors: toErrorStrings(errs)}, nil
}

// IndexRepoTwoPhaseInput is the index_repo_two_phase tool's input schema.
type IndexRepoTwoPhaseInput struct {
	RepoID     string       `json:"repo_id"`
	SnapshotID string       `json:"snapshot_id"`
	Chunks     []ChunkInput `json:"chunks"`
	Wait       bool         `json:"wait,omitempty" jsonschema:"block until the background phase finishes too, instead of returning after phase one"`
}

// IndexRepoTwoPhaseOutput is the index_repo_two_phase tool's output schema.
type IndexRepoTwoPhaseOutput struct {
	Phase1Completed bool     `json:"phase1_completed"`
	Phase2Done      bool     `json:"phase2_done"`
	Errors          []string `json:"errors,omitempty"`
}

func (s *Server) handleIndexRepoTwoPhase(ctx context.Context, _ *mcp.CallToolRequest, in IndexRepoTwoPhaseInput) (*mcp.CallToolResult, IndexRepoTwoPhaseOutput, error) {
	if in.RepoID == "" {
		return nil, IndexRepoTwoPhaseOutput{}, mapError(ErrRepoIDEmpty)
	}
	chunks := make([]model.Chunk, 0, len(in.Chunks))
	sourceCodes := make(map[string]string, len(in.Chunks))
	for _, c := range in.Chunks {
		mc := toModelChunk(in.RepoID, in.SnapshotID, c)
		chunks = append(chunks, mc)
		sourceCodes[mc.ChunkID] = mc.Code
	}

	phaseResult, err := s.svc.IndexRepoTwoPhase(ctx, in.RepoID, in.SnapshotID, chunks, nil, nil, sourceCodes)
	if err != nil {
		return nil, IndexRepoTwoPhaseOutput{}, mapError(err)
	}

	out := IndexRepoTwoPhaseOutput{
		Phase1Completed: phaseResult.Phase1Completed,
		Errors:          toErrorStrings(phaseResult.Errors),
	}
	if in.Wait {
		phase2Errs, err := s.svc.WaitForFullIndexing(ctx, phaseResult)
		if err != nil {
			return nil, out, mapError(err)
		}
		out.Phase2Done = true
		out.Errors = append(out.Errors, toErrorStrings(phase2Errs)...)
	}
	return nil, out, nil
}

// IndexFilesInput is the index_files tool's input schema.
type IndexFilesInput struct {
	RepoID    string   `json:"repo_id"`
	SnapshotID string  `json:"snapshot_id"`
	FilePaths []string `json:"file_paths"`
	Priority  int      `json:"priority,omitempty" jsonschema:"0=background, >=1=interactive agent call"`
	HeadSHA   string   `json:"head_sha,omitempty"`
}

// IndexFilesOutput is the index_files tool's output schema.
type IndexFilesOutput struct {
	Status       string   `json:"status"`
	IndexedCount int      `json:"indexed_count"`
	TotalFiles   int      `json:"total_files"`
	Errors       []string `json:"errors,omitempty"`
}

func (s *Server) handleIndexFiles(ctx context.Context, _ *mcp.CallToolRequest, in IndexFilesInput) (*mcp.CallToolResult, IndexFilesOutput, error) {
	if in.RepoID == "" {
		return nil, IndexFilesOutput{}, mapError(ErrRepoIDEmpty)
	}
	result, err := s.svc.IndexFiles(ctx, in.RepoID, in.SnapshotID, in.FilePaths, in.Priority, in.HeadSHA)
	if err != nil {
		return nil, IndexFilesOutput{}, mapError(err)
	}
	return nil, IndexFilesOutput{
		Status:       string(result.Status),
		IndexedCount: result.IndexedCount,
		TotalFiles:   result.TotalFiles,
		Errors:       toErrorStrings(result.Errors),
	}, nil
}

// WaitUntilIdleInput is the wait_until_idle tool's input schema.
type WaitUntilIdleInput struct {
	TimeoutSeconds int `json:"timeout_seconds,omitempty" jsonschema:"how long to wait before giving up, default 30"`
}

// WaitUntilIdleOutput is the wait_until_idle tool's output schema.
type WaitUntilIdleOutput struct {
	Idle bool `json:"idle"`
}

func (s *Server) handleWaitUntilIdle(ctx context.Context, _ *mcp.CallToolRequest, in WaitUntilIdleInput) (*mcp.CallToolResult, WaitUntilIdleOutput, error) {
	timeout := time.Duration(in.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return nil, WaitUntilIdleOutput{Idle: s.svc.WaitUntilIdle(ctx, timeout)}, nil
}

// BuildOverlayInput is the build_overlay tool's input schema.
type BuildOverlayInput struct {
	RepoID           string            `json:"repo_id"`
	BaseSnapshotID   string            `json:"base_snapshot_id"`
	UncommittedFiles map[string]string `json:"uncommitted_files" jsonschema:"path -> full file content for every edited file"`
}

// BuildOverlayOutput is the build_overlay tool's output schema.
type BuildOverlayOutput struct {
	SnapshotID       string   `json:"snapshot_id"`
	AffectedSymbols  int      `json:"affected_symbols"`
	ConflictCount    int      `json:"conflict_count"`
	BreakingChanges  int      `json:"breaking_changes"`
}

func (s *Server) handleBuildOverlay(ctx context.Context, _ *mcp.CallToolRequest, in BuildOverlayInput) (*mcp.CallToolResult, BuildOverlayOutput, error) {
	if in.RepoID == "" {
		return nil, BuildOverlayOutput{}, mapError(ErrRepoIDEmpty)
	}
	baseIRDocs := s.buildBaseIRDocs(ctx, in.UncommittedFiles)
	merged, err := s.svc.BuildOverlay(ctx, in.RepoID, in.BaseSnapshotID, in.UncommittedFiles, baseIRDocs)
	if err != nil {
		return nil, BuildOverlayOutput{}, mapError(err)
	}
	return nil, BuildOverlayOutput{
		SnapshotID:      merged.SnapshotID,
		AffectedSymbols: len(merged.SymbolIndex),
		ConflictCount:   len(merged.Conflicts),
		BreakingChanges: len(merged.BreakingChanges()),
	}, nil
}

// buildBaseIRDocs parses each edited path's committed (HEAD) content with
// the bound IRBuilder, so the overlay builder has something to diff
// against. Paths that can't be read from git, or whose parse fails, are
// simply absent from the result -- the overlay builder treats them as new.
func (s *Server) buildBaseIRDocs(ctx context.Context, uncommittedFiles map[string]string) map[string]*model.IRDocument {
	baseIRDocs := make(map[string]*model.IRDocument, len(uncommittedFiles))
	if s.irBuilder == nil || s.repoRoot == "" {
		return baseIRDocs
	}
	for path := range uncommittedFiles {
		out, err := exec.Command("git", "-C", s.repoRoot, "show", "HEAD:"+filepath.ToSlash(path)).Output()
		if err != nil {
			continue
		}
		ir, err := s.irBuilder.Build(ctx, path, strings.TrimRight(string(out), "\n"))
		if err != nil {
			continue
		}
		baseIRDocs[path] = ir
	}
	return baseIRDocs
}

// Serve starts the server on the given transport. Only "stdio" is
// implemented; any other value is rejected rather than silently ignored.
func (s *Server) Serve(ctx context.Context, transport string) error {
	s.logger.Info("mcp_server_starting", slog.String("transport", transport))

	switch transport {
	case "stdio", "":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && err != context.Canceled {
			s.logger.Error("mcp_server_stopped_with_error", slog.String("error", err.Error()))
			return err
		}
		s.logger.Info("mcp_server_stopped")
		return nil
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}

// Close releases server resources. The MCP server itself has no explicit
// shutdown hook -- it stops when ctx passed to Serve is cancelled.
func (s *Server) Close() error {
	return nil
}
