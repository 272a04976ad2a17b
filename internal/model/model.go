// Package model defines the data entities shared across the indexing
// pipeline: the chunked input from the parser, the unified search record
// derived from it, overlay/merge entities, and index-version bookkeeping.
package model

import "time"

// ContentType classifies the semantic kind of a Chunk.
type ContentType string

const (
	ContentFile     ContentType = "file"
	ContentClass    ContentType = "class"
	ContentFunction ContentType = "function"
	ContentMethod   ContentType = "method"
	ContentModule   ContentType = "module"
	ContentComment  ContentType = "comment"
	ContentDoc      ContentType = "doc"
)

// Symbol is a named entity extracted from source (function, class, etc).
type Symbol struct {
	ID         string
	Name       string
	FQN        string
	Kind       string
	Signature  string
	StartLine  int
	EndLine    int
	ParentID   string
	Visibility string
	IsTest     bool
}

// Chunk is the input unit handed to the transformer by the parser.
//
// chunk_id is unique per (repo_id, snapshot_id).
type Chunk struct {
	ChunkID    string
	RepoID     string
	SnapshotID string
	FilePath   string
	Kind       ContentType
	Language   string
	StartLine  int
	EndLine    int
	SymbolID   string
	Symbol     *Symbol
	Doc        string
	Signature  string
	Code       string
	Module     string
	ParentID   string
	IsEntry    bool
}

// RepoMapSnapshot carries importance scores keyed by chunk_id, produced by
// an external repo-mapping collaborator. Optional input to the transformer.
type RepoMapSnapshot struct {
	Scores map[string]float64
}

// IRDocument is the external parser's symbol/import/call-graph output for
// one file. Out of core scope; consumed as an opaque optional input.
type IRDocument struct {
	FilePath    string
	Symbols     map[string]*Symbol // keyed by symbol id
	CallEdges   []CallEdge
	ImportEdges []ImportEdge
}

// CallEdge is one caller->callee edge in the symbol graph.
type CallEdge struct {
	CallerID string
	CalleeID string
}

// ImportEdge is one importer-file -> imported-path edge.
type ImportEdge struct {
	ImporterPath string
	ImportedPath string
}

// IndexDocument is the unified record fed to the vector/fuzzy/domain
// indexes. (repo_id, snapshot_id, id) is unique; Content is never empty.
type IndexDocument struct {
	ID          string // == Chunk.ChunkID
	RepoID      string
	SnapshotID  string
	FilePath    string
	Language    string
	SymbolID    string
	SymbolName  string
	Content     string
	Identifiers []string
	Tags        map[string]string
	StartLine   int
	EndLine     int
}

// SearchSource identifies which backend produced a SearchHit.
type SearchSource string

const (
	SourceLexical SearchSource = "lexical"
	SourceVector  SearchSource = "vector"
	SourceSymbol  SearchSource = "symbol"
	SourceFuzzy   SearchSource = "fuzzy"
	SourceDomain  SearchSource = "domain"
	SourceRuntime SearchSource = "runtime"
	SourceFused   SearchSource = "fused"
)

// SearchHit is one scored match, annotated with its originating source.
// Score is monotone in relevance; callers should not assume a fixed range
// across sources prior to fusion.
type SearchHit struct {
	ChunkID  string
	FilePath string
	SymbolID string
	Score    float64
	Source   SearchSource
	Metadata map[string]any
}

// UncommittedFile is one edited file supplied to the overlay builder.
type UncommittedFile struct {
	FilePath    string
	Content     string
	Timestamp   time.Time
	ContentHash string // SHA256(Content)
	IsNew       bool
	IsDeleted   bool
}

// OverlaySnapshot layers uncommitted edits atop a base snapshot.
type OverlaySnapshot struct {
	SnapshotID       string // "overlay_" + first16Hex(sha256(...))
	BaseSnapshotID   string
	RepoID           string
	UncommittedFiles map[string]*UncommittedFile // path -> file
	OverlayIRDocs    map[string]*IRDocument      // path -> IR
	AffectedSymbols  map[string]struct{}         // symbol id set
	InvalidatedFiles map[string]struct{}

	// merged snapshot cache, consulted by GraphMerger
	cachedMerged   *MergedSnapshot
	cachedAt       time.Time
}

// CachedMerged returns the cached MergedSnapshot and the time it was
// produced, or (nil, zero) if nothing is cached. Mutation elsewhere in the
// snapshot must call InvalidateCache.
func (o *OverlaySnapshot) CachedMerged() (*MergedSnapshot, time.Time) {
	return o.cachedMerged, o.cachedAt
}

// SetCachedMerged stores a freshly merged snapshot with the current time.
func (o *OverlaySnapshot) SetCachedMerged(m *MergedSnapshot, at time.Time) {
	o.cachedMerged = m
	o.cachedAt = at
}

// InvalidateCache drops any cached merged snapshot.
func (o *OverlaySnapshot) InvalidateCache() {
	o.cachedMerged = nil
	o.cachedAt = time.Time{}
}

// ConflictType classifies a SymbolConflict.
type ConflictType string

const (
	ConflictSignatureChange ConflictType = "signature_change"
	ConflictDeletion        ConflictType = "deletion"
	ConflictMove            ConflictType = "move"
)

// SymbolConflict is a divergence between base and overlay for one symbol.
type SymbolConflict struct {
	SymbolID         string
	BaseSignature    string
	OverlaySignature string
	ConflictType     ConflictType
	Resolution       string // "overlay_wins" for the core policy
}

// IsBreakingChange applies the spec's documented heuristic:
//   - deletion is always breaking.
//   - signature_change is breaking iff the overlay signature is strictly
//     shorter than the base one (positional-removal heuristic).
//   - move is never breaking.
//
// This is a known-imprecise heuristic (spec.md §9 open question): it will
// misclassify a same-length signature rewrite (e.g. a shorter type alias)
// as non-breaking, and a longer-but-equivalent rewrite as breaking. A fuller
// fix needs a structural parameter-list diff, left as future work.
func (c *SymbolConflict) IsBreakingChange() bool {
	switch c.ConflictType {
	case ConflictDeletion:
		return true
	case ConflictSignatureChange:
		return len(c.OverlaySignature) < len(c.BaseSignature)
	case ConflictMove:
		return false
	default:
		return false
	}
}

// MergedSnapshot is the query-visible unification of base + overlay IR.
// Overlay symbols strictly override base symbols sharing the same id.
type MergedSnapshot struct {
	SnapshotID      string // "merged_" + overlay.SnapshotID
	IRDocuments     map[string]*IRDocument // file path -> IR
	SymbolIndex     map[string]*symbolEntry
	CallGraphEdges  []CallEdge
	ImportGraphEdges []ImportEdge
	Conflicts       []*SymbolConflict
}

type symbolEntry struct {
	Symbol   *Symbol
	FilePath string
}

// SymbolFile returns the file path a merged symbol id belongs to, or "" if
// unknown.
func (m *MergedSnapshot) SymbolFile(id string) string {
	if e, ok := m.SymbolIndex[id]; ok {
		return e.FilePath
	}
	return ""
}

// SymbolAt returns the merged Symbol for an id, or nil.
func (m *MergedSnapshot) SymbolAt(id string) *Symbol {
	if e, ok := m.SymbolIndex[id]; ok {
		return e.Symbol
	}
	return nil
}

// PutSymbol records a symbol at a file path in the merged symbol index.
func (m *MergedSnapshot) PutSymbol(id string, sym *Symbol, filePath string) {
	if m.SymbolIndex == nil {
		m.SymbolIndex = make(map[string]*symbolEntry)
	}
	m.SymbolIndex[id] = &symbolEntry{Symbol: sym, FilePath: filePath}
}

// BreakingChanges returns the subset of Conflicts considered breaking.
func (m *MergedSnapshot) BreakingChanges() []*SymbolConflict {
	var out []*SymbolConflict
	for _, c := range m.Conflicts {
		if c.IsBreakingChange() {
			out = append(out, c)
		}
	}
	return out
}

// IndexVersionStatus is the lifecycle state of an IndexVersion.
type IndexVersionStatus string

const (
	VersionIndexing IndexVersionStatus = "INDEXING"
	VersionCompleted IndexVersionStatus = "COMPLETED"
	VersionFailed    IndexVersionStatus = "FAILED"
)

// IndexVersion is a committed base index, one row per (repo_id, version_id).
// Only COMPLETED versions are queryable by default.
type IndexVersion struct {
	RepoID     string
	VersionID  int64 // monotone
	GitCommit  string
	IndexedAt  time.Time
	FileCount  int
	Status     IndexVersionStatus
	DurationMs int64
	Error      string
}

// Tombstone marks a base-present file as deleted in delta. Active while
// newer than the base it shadows; cleared on compaction.
type Tombstone struct {
	RepoID        string
	FilePath      string
	BaseVersionID int64
	DeletedAt     time.Time
}

// DeltaRecord is one uncommitted-file row in the lexical delta.
// (RepoID, FilePath) is unique within the delta.
type DeltaRecord struct {
	RepoID      string
	FilePath    string
	Content     string
	Deleted     bool
	LastUpdated time.Time
}

// RefreshResult is the parser collaborator's diff output fed to
// index_repo_incremental: the chunks added or changed since the last
// indexed snapshot, and the ids/paths of what disappeared.
type RefreshResult struct {
	AddedChunks      []Chunk
	UpdatedChunks    []Chunk
	DeletedChunkIDs  []string
	DeletedFilePaths []string
}
