package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/notegraph/internal/engine"
)

// pathQuery grows directed paths breadth first from a start node. Each row
// carries the steps taken so far as a JSON array and, for the simple policy,
// the visited node ids framed by char(31). Paths are not extended past the
// goal. %s is the simple-policy membership test or empty.
const pathQuery = `
	WITH RECURSIVE paths(frontier, depth, steps, visited) AS (
		SELECT r.target_id, 1,
			json_array(json_object('id', r.id, 'type', r.type, 'source', r.source_id, 'target', r.target_id)),
			char(31) || r.source_id || char(31) || r.target_id || char(31)
		FROM relationships r
		WHERE r.source_id = ?1 AND r.target_id IS NOT NULL
		UNION ALL
		SELECT r.target_id, p.depth + 1,
			json_insert(p.steps, '$[#]', json_object('id', r.id, 'type', r.type, 'source', r.source_id, 'target', r.target_id)),
			p.visited || r.target_id || char(31)
		FROM paths p
		JOIN relationships r ON r.source_id = p.frontier
		WHERE p.depth < ?3
			AND r.target_id IS NOT NULL
			AND p.frontier <> ?2
			%s
	)
	SELECT steps, depth FROM paths
	WHERE frontier = ?2
	ORDER BY depth, steps
	LIMIT 1`

const simpleMembership = "AND instr(p.visited, char(31) || r.target_id || char(31)) = 0"

// connectedQuery collects every node within ?2 undirected hops of ?1.
// Relationships with a missing endpoint are ignored. UNION only merges equal
// (node, depth) rows, so the bound is capped at the node count: no node is
// further away than that.
const connectedQuery = `
	WITH RECURSIVE reachable(node, depth) AS (
		SELECT ?1, 0
		UNION
		SELECT CASE WHEN r.source_id = c.node THEN r.target_id ELSE r.source_id END, c.depth + 1
		FROM reachable c
		JOIN relationships r ON (r.source_id = c.node OR r.target_id = c.node)
		WHERE c.depth < MIN(?2, (SELECT COUNT(*) FROM nodes))
			AND r.source_id IS NOT NULL
			AND r.target_id IS NOT NULL
	)
	SELECT DISTINCT node FROM reachable`

// FindPath returns the shortest directed path (source to target edges only)
// from start to end with at most maxDepth steps. Among paths of equal length
// the one with the lowest step sequence wins. No path, or maxDepth < 1,
// yields an empty slice and no error.
//
// Under PathSimple a path never visits a node twice; under PathRevisit only
// maxDepth bounds the search.
func (db *DB) FindPath(ctx context.Context, start, end string, maxDepth int) (steps []PathStep, err error) {
	defer db.observe("find_path", time.Now(), &err)
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.checkOpen("find path"); err != nil {
		return nil, err
	}
	if maxDepth < 1 {
		return []PathStep{}, nil
	}
	if db.traversal == TraversalInMemory {
		return db.findPathInMemory(ctx, start, end, maxDepth)
	}

	membership := ""
	if db.policy == PathSimple {
		membership = simpleMembership
	}
	rows, err := db.backend.Execute(ctx, fmt.Sprintf(pathQuery, membership), start, end, maxDepth)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return []PathStep{}, nil
	}

	steps = []PathStep{}
	if err := json.Unmarshal([]byte(rows[0].String("steps")), &steps); err != nil {
		return nil, engine.Wrap(engine.ErrCodeQueryFailed, "find path: decode steps", err)
	}
	return steps, nil
}

// FindConnectedNodes returns every node reachable from id within depth hops,
// following relationships in either direction. The start node is included.
// An unknown id yields an empty slice.
func (db *DB) FindConnectedNodes(ctx context.Context, id string, depth int) (nodes []Node, err error) {
	defer db.observe("find_connected", time.Now(), &err)
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.checkOpen("find connected nodes"); err != nil {
		return nil, err
	}
	if depth < 0 {
		depth = 0
	}

	var ids []string
	if db.traversal == TraversalInMemory {
		ids, err = db.connectedInMemory(ctx, id, depth)
		if err != nil {
			return nil, err
		}
	} else {
		rows, err := db.backend.Execute(ctx, connectedQuery, id, depth)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			ids = append(ids, row.String("node"))
		}
	}

	return db.nodesIn(ctx, ids)
}

// MatchPattern returns every one-hop (source)-[relationship]->(target)
// triple whose source type, relationship type and target type match p.
// Empty pattern fields match anything. Dangling relationships never match.
func (db *DB) MatchPattern(ctx context.Context, p Pattern) (matches []Match, err error) {
	defer db.observe("match_pattern", time.Now(), &err)
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.checkOpen("match pattern"); err != nil {
		return nil, err
	}

	query := `
		SELECT s.id AS source_id, r.id AS relationship_id, t.id AS target_id
		FROM relationships r
		JOIN nodes s ON s.id = r.source_id
		JOIN nodes t ON t.id = r.target_id
		WHERE 1 = 1`
	args := []any{}
	if p.SourceType != "" {
		query += " AND s.type = ?"
		args = append(args, normalize(p.SourceType))
	}
	if len(p.RelationshipTypes) > 0 {
		query += " AND r.type IN (" + placeholders(len(p.RelationshipTypes)) + ")"
		for _, t := range p.RelationshipTypes {
			args = append(args, normalize(t))
		}
	}
	if p.TargetType != "" {
		query += " AND t.type = ?"
		args = append(args, normalize(p.TargetType))
	}
	query += " ORDER BY r.created_at, r.id"

	rows, err := db.backend.Execute(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return []Match{}, nil
	}

	var nodeIDs, edgeIDs []string
	for _, row := range rows {
		nodeIDs = append(nodeIDs, row.String("source_id"), row.String("target_id"))
		edgeIDs = append(edgeIDs, row.String("relationship_id"))
	}
	nodes, err := db.nodesByID(ctx, nodeIDs)
	if err != nil {
		return nil, err
	}
	edges, err := db.edgesByID(ctx, edgeIDs)
	if err != nil {
		return nil, err
	}

	matches = make([]Match, 0, len(rows))
	for _, row := range rows {
		matches = append(matches, Match{
			Source:       nodes[row.String("source_id")],
			Relationship: edges[row.String("relationship_id")],
			Target:       nodes[row.String("target_id")],
		})
	}
	return matches, nil
}
