// Package engine defines the storage engine contract that the graph core runs on.
//
// An Engine is a relational backend reached through parameterized SQL. Two
// concrete backends implement it:
//
//   - sandbox: an in-process SQLite image persisted as a single blob in a
//     key/value store after every commit
//   - resident: a file-backed SQLite engine owned by a host process and reached
//     only through request/response messages
//
// SINGLE CONNECTION SEMANTICS:
// Run and Execute issued inside an active Transaction observe each other's
// writes. Export only reflects committed state and refuses to run while a
// transaction is open.
//
// ERROR TAXONOMY:
// Every error that crosses this boundary is (or wraps) an *Error carrying a
// Code. Callers branch on codes with IsCode and the IsXxx helpers, never on
// message text. The original cause is always reachable through errors.Unwrap.
package engine
