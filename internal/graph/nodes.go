package graph

import (
	"context"
	"strings"
	"time"

	"github.com/roach88/notegraph/internal/engine"
)

const upsertNodeProperty = `
	INSERT INTO node_properties (node_id, key, value) VALUES (?, ?, ?)
	ON CONFLICT (node_id, key) DO UPDATE SET value = excluded.value`

// AddNode inserts a node with its properties and returns its id.
// An empty in.ID is generated.
func (db *DB) AddNode(ctx context.Context, in NodeInput) (id string, err error) {
	defer db.observe("add_node", time.Now(), &err)
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.checkOpen("add node"); err != nil {
		return "", err
	}
	if strings.TrimSpace(in.Type) == "" {
		return "", engine.Errorf(engine.ErrCodeQueryFailed, "add node", "node type is required")
	}

	id = in.ID
	if id == "" {
		id = db.ids.NewID()
	}
	now := db.timestamp()

	err = db.withTransaction(ctx, func(ctx context.Context) error {
		if err := db.backend.Run(ctx, `
			INSERT INTO nodes (id, type, label, x, y, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, id, normalize(in.Type), normalize(in.Label), in.X, in.Y, now, now); err != nil {
			return err
		}
		return db.insertNodeProperties(ctx, "add node", id, in.Properties)
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (db *DB) insertNodeProperties(ctx context.Context, op, id string, props Properties) error {
	encoded, err := encodeProperties(db.codec, op, props)
	if err != nil {
		return err
	}
	for _, key := range sortedKeys(encoded) {
		if err := db.backend.Run(ctx, upsertNodeProperty, id, key, encoded[key]); err != nil {
			return err
		}
	}
	return nil
}

// UpdateNode applies patch to the node. updated_at is always bumped.
// A non-nil patch.Properties replaces every stored property.
// Returns NOT_FOUND for an unknown id.
func (db *DB) UpdateNode(ctx context.Context, id string, patch NodePatch) (err error) {
	defer db.observe("update_node", time.Now(), &err)
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.checkOpen("update node"); err != nil {
		return err
	}

	sets := []string{}
	args := []any{}
	if patch.Type != nil {
		if strings.TrimSpace(*patch.Type) == "" {
			return engine.Errorf(engine.ErrCodeQueryFailed, "update node", "node type cannot be empty")
		}
		sets = append(sets, "type = ?")
		args = append(args, normalize(*patch.Type))
	}
	if patch.Label != nil {
		sets = append(sets, "label = ?")
		args = append(args, normalize(*patch.Label))
	}
	if patch.X != nil {
		sets = append(sets, "x = ?")
		args = append(args, *patch.X)
	}
	if patch.Y != nil {
		sets = append(sets, "y = ?")
		args = append(args, *patch.Y)
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, db.timestamp(), id)

	return db.withTransaction(ctx, func(ctx context.Context) error {
		if err := db.requireRow(ctx, "update node", "nodes", id); err != nil {
			return err
		}
		if err := db.backend.Run(ctx, "UPDATE nodes SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...); err != nil {
			return err
		}
		if patch.Properties == nil {
			return nil
		}
		if err := db.backend.Run(ctx, "DELETE FROM node_properties WHERE node_id = ?", id); err != nil {
			return err
		}
		return db.insertNodeProperties(ctx, "update node", id, patch.Properties)
	})
}

// DeleteNode removes a node and its properties. mode decides the fate of
// incident relationships: DeleteCascade removes them, KeepConnected nulls
// the matching endpoint so they survive as dangling edges.
// Returns NOT_FOUND for an unknown id.
func (db *DB) DeleteNode(ctx context.Context, id string, mode DeleteMode) (err error) {
	defer db.observe("delete_node", time.Now(), &err)
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.checkOpen("delete node"); err != nil {
		return err
	}

	var stmts []string
	switch mode {
	case DeleteCascade:
		stmts = []string{
			`DELETE FROM relationship_properties WHERE relationship_id IN (
				SELECT id FROM relationships WHERE source_id = ?1 OR target_id = ?1)`,
			"DELETE FROM relationships WHERE source_id = ?1 OR target_id = ?1",
			"DELETE FROM node_properties WHERE node_id = ?1",
			"DELETE FROM nodes WHERE id = ?1",
		}
	case KeepConnected:
		// Endpoints are nulled before the node row goes, so the schema's
		// ON DELETE CASCADE never reaches these relationships.
		stmts = []string{
			"DELETE FROM node_properties WHERE node_id = ?1",
			"UPDATE relationships SET source_id = NULL WHERE source_id = ?1",
			"UPDATE relationships SET target_id = NULL WHERE target_id = ?1",
			"DELETE FROM nodes WHERE id = ?1",
		}
	default:
		return engine.Errorf(engine.ErrCodeQueryFailed, "delete node", "unknown delete mode %d", mode)
	}

	return db.withTransaction(ctx, func(ctx context.Context) error {
		if err := db.requireRow(ctx, "delete node", "nodes", id); err != nil {
			return err
		}
		for _, stmt := range stmts {
			if err := db.backend.Run(ctx, stmt, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetNodes returns every node with its properties, oldest first.
func (db *DB) GetNodes(ctx context.Context) (nodes []Node, err error) {
	defer db.observe("get_nodes", time.Now(), &err)
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.checkOpen("get nodes"); err != nil {
		return nil, err
	}
	return db.queryNodes(ctx, "")
}

// GetNode returns one node. Returns NOT_FOUND for an unknown id.
func (db *DB) GetNode(ctx context.Context, id string) (node Node, err error) {
	defer db.observe("get_node", time.Now(), &err)
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.checkOpen("get node"); err != nil {
		return Node{}, err
	}
	nodes, err := db.queryNodes(ctx, "WHERE n.id = ?", id)
	if err != nil {
		return Node{}, err
	}
	if len(nodes) == 0 {
		return Node{}, engine.Errorf(engine.ErrCodeNotFound, "get node", "node %q not found", id)
	}
	return nodes[0], nil
}

// requireRow returns NOT_FOUND unless table has a row with the given id.
func (db *DB) requireRow(ctx context.Context, op, table, id string) error {
	rows, err := db.backend.Execute(ctx, "SELECT 1 AS found FROM "+table+" WHERE id = ?", id)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return engine.Errorf(engine.ErrCodeNotFound, op, "%s %q not found", strings.TrimSuffix(table, "s"), id)
	}
	return nil
}

// timeLayout is RFC 3339 with a fixed nine-digit fraction, so stored
// timestamps sort correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// timestamp returns the current time as stored in created_at/updated_at.
func (db *DB) timestamp() string {
	return db.clock.Now().UTC().Format(timeLayout)
}
