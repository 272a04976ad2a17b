package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/amanindex/coreengine/internal/model"
	"github.com/amanindex/coreengine/internal/ports"
)

// Neo4jSymbolGraph implements ports.SymbolIndexPort over a Neo4j graph
// database. Nodes are (repo_id, snapshot_id, symbol_id); CALLS and IMPORTS
// edges mirror model.CallEdge / model.ImportEdge.
type Neo4jSymbolGraph struct {
	mu     sync.RWMutex
	driver neo4j.DriverWithContext
	dbName string
	closed bool
}

var _ ports.SymbolIndexPort = (*Neo4jSymbolGraph)(nil)

// NewNeo4jSymbolGraph opens a driver against uri using basic auth and
// verifies connectivity.
func NewNeo4jSymbolGraph(ctx context.Context, uri, username, password, dbName string) (*Neo4jSymbolGraph, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("failed to verify neo4j connectivity: %w", err)
	}
	if dbName == "" {
		dbName = "neo4j"
	}
	return &Neo4jSymbolGraph{driver: driver, dbName: dbName}, nil
}

func (g *Neo4jSymbolGraph) session(ctx context.Context) neo4j.SessionWithContext {
	return g.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: g.dbName})
}

// IndexGraph writes all symbols and call/import edges from one IRDocument.
func (g *Neo4jSymbolGraph) IndexGraph(ctx context.Context, repoID, snapshotID string, graphDoc *model.IRDocument) error {
	if graphDoc == nil {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return fmt.Errorf("symbol graph is closed")
	}

	session := g.session(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for id, sym := range graphDoc.Symbols {
			if _, err := tx.Run(ctx, `
				MERGE (s:Symbol {repo_id: $repo, snapshot_id: $snapshot, symbol_id: $id})
				SET s.name = $name, s.fqn = $fqn, s.signature = $sig, s.file_path = $file, s.kind = $kind`,
				map[string]any{
					"repo": repoID, "snapshot": snapshotID, "id": id,
					"name": sym.Name, "fqn": sym.FQN, "sig": sym.Signature,
					"file": graphDoc.FilePath, "kind": sym.Kind,
				}); err != nil {
				return nil, fmt.Errorf("index symbol %s: %w", id, err)
			}
		}
		for _, edge := range graphDoc.CallEdges {
			if _, err := tx.Run(ctx, `
				MATCH (caller:Symbol {repo_id: $repo, snapshot_id: $snapshot, symbol_id: $caller})
				MATCH (callee:Symbol {repo_id: $repo, snapshot_id: $snapshot, symbol_id: $callee})
				MERGE (caller)-[:CALLS]->(callee)`,
				map[string]any{"repo": repoID, "snapshot": snapshotID, "caller": edge.CallerID, "callee": edge.CalleeID}); err != nil {
				return nil, fmt.Errorf("index call edge: %w", err)
			}
		}
		for _, edge := range graphDoc.ImportEdges {
			if _, err := tx.Run(ctx, `
				MERGE (a:File {repo_id: $repo, snapshot_id: $snapshot, path: $importer})
				MERGE (b:File {repo_id: $repo, snapshot_id: $snapshot, path: $imported})
				MERGE (a)-[:IMPORTS]->(b)`,
				map[string]any{"repo": repoID, "snapshot": snapshotID, "importer": edge.ImporterPath, "imported": edge.ImportedPath}); err != nil {
				return nil, fmt.Errorf("index import edge: %w", err)
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("index graph for %s: %w", repoID, err)
	}
	return nil
}

// Search performs a name/FQN substring match over symbols in scope.
func (g *Neo4jSymbolGraph) Search(ctx context.Context, repoID, snapshotID, query string, limit int) ([]model.SearchHit, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.closed {
		return nil, fmt.Errorf("symbol graph is closed")
	}

	session := g.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		rows, err := tx.Run(ctx, `
			MATCH (s:Symbol {repo_id: $repo, snapshot_id: $snapshot})
			WHERE toLower(s.name) CONTAINS toLower($q) OR toLower(s.fqn) CONTAINS toLower($q)
			RETURN s.symbol_id AS id, s.file_path AS file, s.name AS name
			LIMIT $limit`,
			map[string]any{"repo": repoID, "snapshot": snapshotID, "q": query, "limit": int64(limit)})
		if err != nil {
			return nil, err
		}
		return rows.Collect(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("search symbols: %w", err)
	}

	return recordsToHits(result, model.SourceSymbol, 1.0), nil
}

// GetCallers returns symbols with a CALLS edge into symbolID.
func (g *Neo4jSymbolGraph) GetCallers(ctx context.Context, repoID, snapshotID, symbolID string) ([]model.SearchHit, error) {
	return g.traverse(ctx, repoID, snapshotID, symbolID, `
		MATCH (caller:Symbol)-[:CALLS]->(callee:Symbol {repo_id: $repo, snapshot_id: $snapshot, symbol_id: $id})
		RETURN caller.symbol_id AS id, caller.file_path AS file, caller.name AS name`)
}

// GetCallees returns symbols symbolID has a CALLS edge into.
func (g *Neo4jSymbolGraph) GetCallees(ctx context.Context, repoID, snapshotID, symbolID string) ([]model.SearchHit, error) {
	return g.traverse(ctx, repoID, snapshotID, symbolID, `
		MATCH (caller:Symbol {repo_id: $repo, snapshot_id: $snapshot, symbol_id: $id})-[:CALLS]->(callee:Symbol)
		RETURN callee.symbol_id AS id, callee.file_path AS file, callee.name AS name`)
}

// GetReferences returns both callers and callees, treated uniformly as
// "references to" symbolID per spec's intent-routing description.
func (g *Neo4jSymbolGraph) GetReferences(ctx context.Context, repoID, snapshotID, symbolID string) ([]model.SearchHit, error) {
	callers, err := g.GetCallers(ctx, repoID, snapshotID, symbolID)
	if err != nil {
		return nil, err
	}
	callees, err := g.GetCallees(ctx, repoID, snapshotID, symbolID)
	if err != nil {
		return nil, err
	}
	return append(callers, callees...), nil
}

func (g *Neo4jSymbolGraph) traverse(ctx context.Context, repoID, snapshotID, symbolID, cypher string) ([]model.SearchHit, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.closed {
		return nil, fmt.Errorf("symbol graph is closed")
	}

	session := g.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		rows, err := tx.Run(ctx, cypher, map[string]any{"repo": repoID, "snapshot": snapshotID, "id": symbolID})
		if err != nil {
			return nil, err
		}
		return rows.Collect(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("traverse symbol graph: %w", err)
	}
	return recordsToHits(result, model.SourceSymbol, 1.0), nil
}

// GetNodeByID fetches the single node for symbolID, or nil if absent.
func (g *Neo4jSymbolGraph) GetNodeByID(ctx context.Context, repoID, snapshotID, symbolID string) (*model.SearchHit, error) {
	hits, err := g.Search(ctx, repoID, snapshotID, symbolID, 1)
	if err != nil {
		return nil, err
	}
	for _, h := range hits {
		if h.SymbolID == symbolID {
			return &h, nil
		}
	}
	if len(hits) > 0 {
		return &hits[0], nil
	}
	return nil, nil
}

// DeleteRepo removes all nodes/edges scoped to (repo_id, snapshot_id).
func (g *Neo4jSymbolGraph) DeleteRepo(ctx context.Context, repoID, snapshotID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return fmt.Errorf("symbol graph is closed")
	}

	session := g.session(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, `
			MATCH (n) WHERE n.repo_id = $repo AND n.snapshot_id = $snapshot
			DETACH DELETE n`, map[string]any{"repo": repoID, "snapshot": snapshotID})
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("delete repo %s: %w", repoID, err)
	}
	return nil
}

// Close releases the underlying driver.
func (g *Neo4jSymbolGraph) Close(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil
	}
	g.closed = true
	if g.driver != nil {
		return g.driver.Close(ctx)
	}
	return nil
}

func recordsToHits(rows any, source model.SearchSource, score float64) []model.SearchHit {
	records, ok := rows.([]*neo4j.Record)
	if !ok {
		return nil
	}
	hits := make([]model.SearchHit, 0, len(records))
	for _, rec := range records {
		id, _ := rec.Get("id")
		file, _ := rec.Get("file")
		name, _ := rec.Get("name")
		idStr, _ := id.(string)
		if idStr == "" {
			continue
		}
		fileStr, _ := file.(string)
		nameStr, _ := name.(string)
		hits = append(hits, model.SearchHit{
			ChunkID:  idStr,
			FilePath: fileStr,
			SymbolID: idStr,
			Score:    score,
			Source:   source,
			Metadata: map[string]any{"name": nameStr},
		})
	}
	return hits
}
