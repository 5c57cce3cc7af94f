package graph

import (
	"context"
	"slices"
)

// edgeRow is a relationship with both endpoints present.
type edgeRow struct {
	id, typ, source, target string
}

func (e edgeRow) step() PathStep {
	return PathStep{RelationshipID: e.id, Type: e.typ, SourceID: e.source, TargetID: e.target}
}

// loadEdgeRows loads every non-dangling relationship.
func (db *DB) loadEdgeRows(ctx context.Context) ([]edgeRow, error) {
	rows, err := db.backend.Execute(ctx, `
		SELECT id, type, source_id, target_id FROM relationships
		WHERE source_id IS NOT NULL AND target_id IS NOT NULL
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	edges := make([]edgeRow, 0, len(rows))
	for _, row := range rows {
		edges = append(edges, edgeRow{
			id:     row.String("id"),
			typ:    row.String("type"),
			source: row.String("source_id"),
			target: row.String("target_id"),
		})
	}
	return edges, nil
}

// partialPath is a path under construction. nodes lists every node on it,
// start included.
type partialPath struct {
	steps []edgeRow
	nodes []string
}

func (p partialPath) frontier() string {
	return p.nodes[len(p.nodes)-1]
}

// findPathInMemory is FindPath as a level-by-level search over relationship
// rows. It explores the same paths as pathQuery and applies the same
// tie-break.
func (db *DB) findPathInMemory(ctx context.Context, start, end string, maxDepth int) ([]PathStep, error) {
	edges, err := db.loadEdgeRows(ctx)
	if err != nil {
		return nil, err
	}
	outgoing := make(map[string][]edgeRow)
	for _, e := range edges {
		outgoing[e.source] = append(outgoing[e.source], e)
	}

	var level []partialPath
	for _, e := range outgoing[start] {
		level = append(level, partialPath{steps: []edgeRow{e}, nodes: []string{start, e.target}})
	}

	for depth := 1; len(level) > 0; depth++ {
		var best *partialPath
		for i := range level {
			if level[i].frontier() == end && (best == nil || lessSteps(level[i].steps, best.steps)) {
				best = &level[i]
			}
		}
		if best != nil {
			steps := make([]PathStep, len(best.steps))
			for i, e := range best.steps {
				steps[i] = e.step()
			}
			return steps, nil
		}
		if depth >= maxDepth {
			break
		}

		var next []partialPath
		for _, p := range level {
			for _, e := range outgoing[p.frontier()] {
				if db.policy == PathSimple && slices.Contains(p.nodes, e.target) {
					continue
				}
				next = append(next, partialPath{
					steps: append(slices.Clone(p.steps), e),
					nodes: append(slices.Clone(p.nodes), e.target),
				})
			}
		}
		level = next
	}
	return []PathStep{}, nil
}

// lessSteps orders equal-length paths by their relationship ids.
func lessSteps(a, b []edgeRow) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i].id != b[i].id {
			return a[i].id < b[i].id
		}
	}
	return len(a) < len(b)
}

// connectedInMemory is the undirected reachability of connectedQuery as a
// breadth-first search. The start id is always included.
func (db *DB) connectedInMemory(ctx context.Context, start string, depth int) ([]string, error) {
	edges, err := db.loadEdgeRows(ctx)
	if err != nil {
		return nil, err
	}
	adjacent := make(map[string][]string)
	for _, e := range edges {
		adjacent[e.source] = append(adjacent[e.source], e.target)
		adjacent[e.target] = append(adjacent[e.target], e.source)
	}

	reached := map[string]bool{start: true}
	order := []string{start}
	frontier := []string{start}
	for d := 0; d < depth && len(frontier) > 0; d++ {
		var next []string
		for _, id := range frontier {
			for _, n := range adjacent[id] {
				if !reached[n] {
					reached[n] = true
					order = append(order, n)
					next = append(next, n)
				}
			}
		}
		frontier = next
	}
	return order, nil
}
