package graph

import (
	"context"
	"strings"
	"time"

	"github.com/roach88/notegraph/internal/engine"
)

const upsertEdgeProperty = `
	INSERT INTO relationship_properties (relationship_id, key, value) VALUES (?, ?, ?)
	ON CONFLICT (relationship_id, key) DO UPDATE SET value = excluded.value`

// AddEdge inserts a relationship from in.SourceID to in.TargetID and returns
// its id. Both endpoints must exist.
func (db *DB) AddEdge(ctx context.Context, in EdgeInput) (id string, err error) {
	defer db.observe("add_edge", time.Now(), &err)
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.checkOpen("add edge"); err != nil {
		return "", err
	}
	if strings.TrimSpace(in.Type) == "" {
		return "", engine.Errorf(engine.ErrCodeQueryFailed, "add edge", "relationship type is required")
	}
	if in.SourceID == "" || in.TargetID == "" {
		return "", engine.Errorf(engine.ErrCodeQueryFailed, "add edge", "source and target are required")
	}

	id = in.ID
	if id == "" {
		id = db.ids.NewID()
	}
	now := db.timestamp()

	err = db.withTransaction(ctx, func(ctx context.Context) error {
		if err := db.backend.Run(ctx, `
			INSERT INTO relationships (id, source_id, target_id, type, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, id, in.SourceID, in.TargetID, normalize(in.Type), now); err != nil {
			return err
		}
		return db.insertEdgeProperties(ctx, "add edge", id, in.Properties)
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (db *DB) insertEdgeProperties(ctx context.Context, op, id string, props Properties) error {
	encoded, err := encodeProperties(db.codec, op, props)
	if err != nil {
		return err
	}
	for _, key := range sortedKeys(encoded) {
		if err := db.backend.Run(ctx, upsertEdgeProperty, id, key, encoded[key]); err != nil {
			return err
		}
	}
	return nil
}

// UpdateEdge changes the relationship type and/or replaces its properties.
// Returns NOT_FOUND for an unknown id.
func (db *DB) UpdateEdge(ctx context.Context, id string, patch EdgePatch) (err error) {
	defer db.observe("update_edge", time.Now(), &err)
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.checkOpen("update edge"); err != nil {
		return err
	}
	if patch.Type != nil && strings.TrimSpace(*patch.Type) == "" {
		return engine.Errorf(engine.ErrCodeQueryFailed, "update edge", "relationship type cannot be empty")
	}

	return db.withTransaction(ctx, func(ctx context.Context) error {
		if err := db.requireRow(ctx, "update edge", "relationships", id); err != nil {
			return err
		}
		if patch.Type != nil {
			if err := db.backend.Run(ctx, "UPDATE relationships SET type = ? WHERE id = ?", normalize(*patch.Type), id); err != nil {
				return err
			}
		}
		if patch.Properties == nil {
			return nil
		}
		if err := db.backend.Run(ctx, "DELETE FROM relationship_properties WHERE relationship_id = ?", id); err != nil {
			return err
		}
		return db.insertEdgeProperties(ctx, "update edge", id, patch.Properties)
	})
}

// DeleteEdge removes a relationship and its properties.
// Returns NOT_FOUND for an unknown id.
func (db *DB) DeleteEdge(ctx context.Context, id string) (err error) {
	defer db.observe("delete_edge", time.Now(), &err)
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.checkOpen("delete edge"); err != nil {
		return err
	}

	return db.withTransaction(ctx, func(ctx context.Context) error {
		if err := db.requireRow(ctx, "delete edge", "relationships", id); err != nil {
			return err
		}
		if err := db.backend.Run(ctx, "DELETE FROM relationship_properties WHERE relationship_id = ?", id); err != nil {
			return err
		}
		return db.backend.Run(ctx, "DELETE FROM relationships WHERE id = ?", id)
	})
}

// GetEdges returns every relationship with its properties, oldest first.
// Dangling relationships are included with a nil endpoint.
func (db *DB) GetEdges(ctx context.Context) (edges []Relationship, err error) {
	defer db.observe("get_edges", time.Now(), &err)
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.checkOpen("get edges"); err != nil {
		return nil, err
	}
	return db.queryEdges(ctx, "")
}

// GetEdge returns one relationship. Returns NOT_FOUND for an unknown id.
func (db *DB) GetEdge(ctx context.Context, id string) (edge Relationship, err error) {
	defer db.observe("get_edge", time.Now(), &err)
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.checkOpen("get edge"); err != nil {
		return Relationship{}, err
	}
	edges, err := db.queryEdges(ctx, "WHERE r.id = ?", id)
	if err != nil {
		return Relationship{}, err
	}
	if len(edges) == 0 {
		return Relationship{}, engine.Errorf(engine.ErrCodeNotFound, "get edge", "relationship %q not found", id)
	}
	return edges[0], nil
}
