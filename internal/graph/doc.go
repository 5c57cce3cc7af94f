// Package graph is the property-graph database core.
//
// A DB stores typed nodes and typed, directed relationships, each with a
// string-keyed bag of JSON values, in four relational tables. Every mutating
// operation runs inside a transaction; after each top-level commit the
// backend's Persist hook writes the durable image.
//
// Four access patterns are supported:
//
//   - lookup: GetNode, GetEdge, GetNodes, GetEdges
//   - path: FindPath, a directed, depth-bounded shortest path
//   - pattern: MatchPattern, one-hop (source type, relationship types, target type)
//   - neighbourhood: FindConnectedNodes, undirected reachability within a depth
//
// Path and neighbourhood queries run as recursive SQL by default. With
// WithTraversal(TraversalInMemory) they run as breadth-first searches over
// relationship rows loaded per call, with the same depth bounds and
// directedness.
//
// A DB serializes its public methods with a mutex. Entities are never cached:
// every read re-queries the backend.
package graph
