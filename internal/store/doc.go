// Package store provides the native SQLite engine behind both graph backends.
//
// A Store is a single-connection SQLite database that satisfies engine.Engine:
//   - file-backed (Open): owned by the host process, WAL journal
//   - in-memory (OpenMemory): owned by the sandboxed backend, persisted by
//     serializing the whole image
//
// # Schema
//
// schema.sql holds the on-disk contract: four tables (nodes, node_properties,
// relationships, relationship_properties) and four non-unique indexes. Every
// statement is CREATE ... IF NOT EXISTS and runs on every open.
//
// # Database Configuration
//
//   - foreign_keys=ON on every connection (schema cascades are enforced)
//   - WAL mode, synchronous=NORMAL, busy_timeout=5000 for file databases
//   - exactly one open connection: BEGIN/COMMIT issued through Run span the
//     statements that follow, which is what lets transactions be emulated by
//     plain messages on the resident side
//
// # Images
//
// Export serializes the main database with sqlite3_serialize. Images are
// always written in rollback-journal mode so that an image exported from a
// file database can be loaded into a memory database and vice versa.
package store
