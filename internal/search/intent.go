package search

import (
	"context"
	"regexp"
	"strings"

	"github.com/amanindex/coreengine/internal/model"
	"github.com/amanindex/coreengine/internal/ports"
)

// Intent classifies a free-text query for symbol-index routing.
type Intent string

const (
	IntentCallers   Intent = "callers"
	IntentCallees   Intent = "callees"
	IntentReferences Intent = "references"
	IntentImports   Intent = "imports"
	IntentSemantic  Intent = "semantic"
	IntentNameSearch Intent = "name_search"
)

// intentPattern pairs a regex whose last capture group is the target symbol
// with the Intent it signals. English-keyword only -- documented limitation
// (spec.md §9 open question), not addressed.
type intentPattern struct {
	intent  Intent
	pattern *regexp.Regexp
}

var intentPatterns = []intentPattern{
	{IntentCallers, regexp.MustCompile(`(?i)^(?:who\s+calls|callers\s+of|functions?\s+that\s+calls?)\s+(\S+)`)},
	{IntentCallees, regexp.MustCompile(`(?i)^(?:callees\s+of\s+(\S+)|what\s+does\s+(\S+)\s+call|functions?\s+(?:that\s+)?(\S+)\s+calls?)`)},
	{IntentReferences, regexp.MustCompile(`(?i)^references?\s+to\s+(\S+)`)},
	{IntentImports, regexp.MustCompile(`(?i)^(?:imports?|who\s+imports)\s+(\S+)`)},
}

// semanticWords signal natural-language queries that should prefer semantic
// (vector) search over a symbol-graph traversal.
var semanticWords = []string{
	"how", "why", "what", "where", "explain", "describe", "implement", "handle",
}

// Classify extracts an Intent and, for graph-traversal intents, the target
// symbol name from a free-text query.
//
// Routing order: keyword-pattern graph intents first (deterministic,
// cheap); then a semantic heuristic (question words, multi-word length);
// name_search is the default fallback.
func Classify(query string) (Intent, string) {
	q := strings.TrimSpace(query)
	for _, p := range intentPatterns {
		m := p.pattern.FindStringSubmatch(q)
		if m == nil {
			continue
		}
		target := lastNonEmpty(m[1:])
		return p.intent, strings.Trim(target, `"'.,;:()`)
	}

	if looksSemantic(q) {
		return IntentSemantic, ""
	}
	return IntentNameSearch, q
}

func looksSemantic(q string) bool {
	lower := strings.ToLower(q)
	words := strings.Fields(lower)
	if len(words) < 3 {
		return false
	}
	for _, w := range semanticWords {
		if strings.HasPrefix(lower, w+" ") || strings.Contains(lower, " "+w+" ") {
			return true
		}
	}
	return strings.HasSuffix(q, "?")
}

func lastNonEmpty(groups []string) string {
	for i := len(groups) - 1; i >= 0; i-- {
		if groups[i] != "" {
			return groups[i]
		}
	}
	return ""
}

// Route dispatches a classified query against a SymbolIndexPort, extracting
// the target symbol id via prefix match over symbolID against the port's
// name search when the classifier only has a bare name. Embedder/vector
// routing for IntentSemantic is left to the caller (internal/indexing),
// since it needs the symbol-embedding collection handle this package does
// not own.
func Route(ctx context.Context, idx ports.SymbolIndexPort, repoID, snapshotID, query string, limit int) (Intent, []model.SearchHit, error) {
	intent, target := Classify(query)

	resolveSymbol := func() (string, error) {
		hits, err := idx.Search(ctx, repoID, snapshotID, target, 1)
		if err != nil || len(hits) == 0 {
			return "", err
		}
		return hits[0].SymbolID, nil
	}

	switch intent {
	case IntentCallers:
		symID, err := resolveSymbol()
		if err != nil || symID == "" {
			return intent, nil, err
		}
		hits, err := idx.GetCallers(ctx, repoID, snapshotID, symID)
		return intent, limitHits(hits, limit), err
	case IntentCallees:
		symID, err := resolveSymbol()
		if err != nil || symID == "" {
			return intent, nil, err
		}
		hits, err := idx.GetCallees(ctx, repoID, snapshotID, symID)
		return intent, limitHits(hits, limit), err
	case IntentReferences, IntentImports:
		symID, err := resolveSymbol()
		if err != nil || symID == "" {
			return intent, nil, err
		}
		hits, err := idx.GetReferences(ctx, repoID, snapshotID, symID)
		return intent, limitHits(hits, limit), err
	default:
		hits, err := idx.Search(ctx, repoID, snapshotID, query, limit)
		return intent, hits, err
	}
}

func limitHits(hits []model.SearchHit, limit int) []model.SearchHit {
	if limit > 0 && len(hits) > limit {
		return hits[:limit]
	}
	return hits
}
