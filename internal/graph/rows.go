package graph

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/roach88/notegraph/internal/engine"
)

// nodeSelect loads nodes with their properties aggregated into one JSON
// object per node. Callers append an optional WHERE clause before groupNodes.
const nodeSelect = `
	SELECT n.id, n.type, n.label, n.x, n.y, n.created_at, n.updated_at,
		json_group_object(p.key, p.value) FILTER (WHERE p.key IS NOT NULL) AS properties
	FROM nodes n
	LEFT JOIN node_properties p ON p.node_id = n.id`

const groupNodes = `
	GROUP BY n.id
	ORDER BY n.created_at, n.id`

const edgeSelect = `
	SELECT r.id, r.source_id, r.target_id, r.type, r.created_at,
		json_group_object(p.key, p.value) FILTER (WHERE p.key IS NOT NULL) AS properties
	FROM relationships r
	LEFT JOIN relationship_properties p ON p.relationship_id = r.id`

const groupEdges = `
	GROUP BY r.id
	ORDER BY r.created_at, r.id`

// queryNodes runs nodeSelect with an optional filter.
func (db *DB) queryNodes(ctx context.Context, where string, args ...any) ([]Node, error) {
	rows, err := db.backend.Execute(ctx, nodeSelect+" "+where+groupNodes, args...)
	if err != nil {
		return nil, err
	}
	nodes := make([]Node, 0, len(rows))
	for _, row := range rows {
		nodes = append(nodes, db.scanNode(row))
	}
	return nodes, nil
}

// queryEdges runs edgeSelect with an optional filter.
func (db *DB) queryEdges(ctx context.Context, where string, args ...any) ([]Relationship, error) {
	rows, err := db.backend.Execute(ctx, edgeSelect+" "+where+groupEdges, args...)
	if err != nil {
		return nil, err
	}
	edges := make([]Relationship, 0, len(rows))
	for _, row := range rows {
		edges = append(edges, db.scanEdge(row))
	}
	return edges, nil
}

// nodesIn loads the given nodes, oldest first. Unknown ids are skipped.
func (db *DB) nodesIn(ctx context.Context, ids []string) ([]Node, error) {
	if ids == nil {
		ids = []string{}
	}
	list, err := json.Marshal(ids)
	if err != nil {
		return nil, engine.Wrap(engine.ErrCodeQueryFailed, "load nodes", err)
	}
	return db.queryNodes(ctx, "WHERE n.id IN (SELECT value FROM json_each(?))", string(list))
}

// nodesByID loads the given nodes keyed by id.
func (db *DB) nodesByID(ctx context.Context, ids []string) (map[string]Node, error) {
	nodes, err := db.nodesIn(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}
	return byID, nil
}

// edgesByID loads the given relationships keyed by id.
func (db *DB) edgesByID(ctx context.Context, ids []string) (map[string]Relationship, error) {
	list, err := json.Marshal(ids)
	if err != nil {
		return nil, engine.Wrap(engine.ErrCodeQueryFailed, "load relationships", err)
	}
	edges, err := db.queryEdges(ctx, "WHERE r.id IN (SELECT value FROM json_each(?))", string(list))
	if err != nil {
		return nil, err
	}
	byID := make(map[string]Relationship, len(edges))
	for _, e := range edges {
		byID[e.ID] = e
	}
	return byID, nil
}

func (db *DB) scanNode(row engine.Row) Node {
	id := row.String("id")
	return Node{
		ID:         id,
		Type:       row.String("type"),
		Label:      row.String("label"),
		X:          row.Float("x"),
		Y:          row.Float("y"),
		CreatedAt:  db.parseTime(row.String("created_at"), "id", id),
		UpdatedAt:  db.parseTime(row.String("updated_at"), "id", id),
		Properties: db.decodeProperties(row.String("properties"), "node", id),
	}
}

func (db *DB) scanEdge(row engine.Row) Relationship {
	id := row.String("id")
	return Relationship{
		ID:         id,
		SourceID:   row.NullString("source_id"),
		TargetID:   row.NullString("target_id"),
		Type:       row.String("type"),
		CreatedAt:  db.parseTime(row.String("created_at"), "id", id),
		Properties: db.decodeProperties(row.String("properties"), "relationship", id),
	}
}

func (db *DB) parseTime(s string, attrs ...any) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		db.logger.Warn("malformed timestamp", append(attrs, "value", s, "error", err)...)
		return time.Time{}
	}
	return t
}

// decodeProperties parses the aggregated {key: stored text} object. A value
// the codec cannot parse is logged and left out.
func (db *DB) decodeProperties(raw, kind, id string) Properties {
	props := Properties{}
	if raw == "" {
		return props
	}

	var stored map[string]*string
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		db.logger.Warn("malformed property aggregate", "kind", kind, "id", id, "error", err)
		return props
	}

	for key, text := range stored {
		if text == nil {
			continue
		}
		value, err := db.codec.Decode(*text)
		if err != nil {
			db.logger.Warn("dropping malformed property", "kind", kind, "id", id, "key", key, "error", err)
			continue
		}
		props[key] = value
	}
	return props
}

// sortedKeys returns the keys of m in ascending order, so property rows are
// always written in the same order.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// placeholders returns "?, ?, ?" for n parameters.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
