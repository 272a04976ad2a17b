// Package transform converts parser-emitted Chunks into the unified
// IndexDocument records the vector/fuzzy/domain backends search over.
package transform

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/amanindex/coreengine/internal/model"
)

// defRegex matches "def <name>" / "class <name>" / "<name> =" identifier
// hints inside already-composed content, independent of source language.
var (
	defRegex    = regexp.MustCompile(`\bdef\s+([A-Za-z_][A-Za-z0-9_]*)`)
	classRegex  = regexp.MustCompile(`\bclass\s+([A-Za-z_][A-Za-z0-9_]*)`)
	assignRegex = regexp.MustCompile(`\b([A-Za-z_][A-Za-z0-9_]*)\s*=[^=]`)
)

// Transformer converts Chunks into IndexDocuments. It never fails per
// document: extraction errors are logged and a minimally populated
// document is emitted instead, so a bad chunk never drops out of a batch.
type Transformer struct {
	logger *slog.Logger
}

// Option configures a Transformer.
type Option func(*Transformer)

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transformer) { t.logger = l }
}

// New creates a Transformer.
func New(opts ...Option) *Transformer {
	t := &Transformer{logger: slog.Default()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Transform converts a batch of chunks into IndexDocuments. repomap and
// sourceCodes are optional; a nil map is treated as "no data available".
func (t *Transformer) Transform(chunks []model.Chunk, repomap *model.RepoMapSnapshot, sourceCodes map[string]string) []model.IndexDocument {
	docs := make([]model.IndexDocument, 0, len(chunks))
	for _, c := range chunks {
		docs = append(docs, t.transformOne(c, repomap, sourceCodes))
	}
	return docs
}

func (t *Transformer) transformOne(c model.Chunk, repomap *model.RepoMapSnapshot, sourceCodes map[string]string) (doc model.IndexDocument) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Warn("transform_panic_recovered",
				slog.String("chunk_id", c.ChunkID),
				slog.Any("panic", r))
			doc = t.fallback(c)
		}
	}()

	content, err := t.composeContent(c, sourceCodes)
	if err != nil {
		t.logger.Warn("transform_compose_failed",
			slog.String("chunk_id", c.ChunkID),
			slog.String("error", err.Error()))
		return t.fallback(c)
	}

	identifiers := t.extractIdentifiers(c, content)
	tags := t.buildTags(c, repomap)

	symbolID, symbolName := "", ""
	if c.Symbol != nil {
		symbolID = c.Symbol.ID
		symbolName = c.Symbol.Name
	} else {
		symbolID = c.SymbolID
	}

	return model.IndexDocument{
		ID:          c.ChunkID,
		RepoID:      c.RepoID,
		SnapshotID:  c.SnapshotID,
		FilePath:    c.FilePath,
		Language:    c.Language,
		SymbolID:    symbolID,
		SymbolName:  symbolName,
		Content:     content,
		Identifiers: identifiers,
		Tags:        tags,
		StartLine:   c.StartLine,
		EndLine:     c.EndLine,
	}
}

// fallback produces a minimally populated document so a single bad chunk
// never disappears from a batch (spec §4.1: "never fails per-document").
func (t *Transformer) fallback(c model.Chunk) model.IndexDocument {
	content := c.Code
	if content == "" {
		content = fmt.Sprintf("[META] kind=%s", c.Kind)
	}
	return model.IndexDocument{
		ID:         c.ChunkID,
		RepoID:     c.RepoID,
		SnapshotID: c.SnapshotID,
		FilePath:   c.FilePath,
		Language:   c.Language,
		Content:    content,
		Tags:       map[string]string{"kind": string(c.Kind)},
		StartLine:  c.StartLine,
		EndLine:    c.EndLine,
	}
}

// composeContent builds "[SUMMARY] ...\n[SIGNATURE] ...\n[CODE] ...\n[META] ..."
// omitting any section whose value is empty.
func (t *Transformer) composeContent(c model.Chunk, sourceCodes map[string]string) (string, error) {
	code := c.Code
	if code == "" && sourceCodes != nil {
		code = sourceCodes[c.ChunkID]
	}

	var sections []string
	if c.Doc != "" {
		sections = append(sections, "[SUMMARY] "+c.Doc)
	}
	if c.Signature != "" {
		sections = append(sections, "[SIGNATURE] "+c.Signature)
	}
	if code != "" {
		sections = append(sections, "[CODE] "+code)
	}

	meta := t.metaLine(c)
	if meta != "" {
		sections = append(sections, "[META] "+meta)
	}

	if len(sections) == 0 {
		return "", fmt.Errorf("chunk %s has no summary, signature, code, or meta", c.ChunkID)
	}
	return strings.Join(sections, "\n"), nil
}

func (t *Transformer) metaLine(c model.Chunk) string {
	var parts []string
	parts = append(parts, "kind="+string(c.Kind))
	if c.Module != "" {
		parts = append(parts, "module="+c.Module)
	}
	return strings.Join(parts, ",")
}

// extractIdentifiers returns the union of the symbol name, FQN parts split
// on "." and "/", and regex-extracted def/class/assignment hits, truncated
// to the top 10 deduped case-insensitively. Order: symbol name and FQN
// parts first, then content-derived hits, in order of appearance.
func (t *Transformer) extractIdentifiers(c model.Chunk, content string) []string {
	seen := make(map[string]struct{})
	var out []string

	add := func(id string) {
		id = strings.TrimSpace(id)
		if id == "" {
			return
		}
		key := strings.ToLower(id)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		out = append(out, id)
	}

	if c.Symbol != nil {
		add(c.Symbol.Name)
		for _, part := range splitFQN(c.Symbol.FQN) {
			add(part)
		}
	}

	for _, m := range defRegex.FindAllStringSubmatch(content, -1) {
		add(m[1])
	}
	for _, m := range classRegex.FindAllStringSubmatch(content, -1) {
		add(m[1])
	}
	for _, m := range assignRegex.FindAllStringSubmatch(content, -1) {
		add(m[1])
	}

	if len(out) > 10 {
		out = out[:10]
	}
	return out
}

func splitFQN(fqn string) []string {
	if fqn == "" {
		return nil
	}
	fqn = strings.NewReplacer("/", ".").Replace(fqn)
	return strings.Split(fqn, ".")
}

// buildTags always includes kind; repomap_score, module, visibility,
// parent_chunk_id, is_entrypoint, and is_test are included only when
// available.
func (t *Transformer) buildTags(c model.Chunk, repomap *model.RepoMapSnapshot) map[string]string {
	tags := map[string]string{"kind": string(c.Kind)}

	if repomap != nil {
		if score, ok := repomap.Scores[c.ChunkID]; ok {
			tags["repomap_score"] = strconv.FormatFloat(score, 'f', -1, 64)
		}
	}
	if c.Module != "" {
		tags["module"] = c.Module
	}
	if c.Symbol != nil && c.Symbol.Visibility != "" {
		tags["visibility"] = c.Symbol.Visibility
	}
	if c.ParentID != "" {
		tags["parent_chunk_id"] = c.ParentID
	}
	if c.IsEntry {
		tags["is_entrypoint"] = "true"
	}
	if c.Symbol != nil && c.Symbol.IsTest {
		tags["is_test"] = "true"
	}

	return tags
}
