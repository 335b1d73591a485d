// Package schema maps Go struct types to SQLite table definitions and
// composes the SQL text the executor runs.
//
// A Table[T] is built once, at startup, by reflecting over T's exported
// fields. Column names, storage-class affinities and constraint text come
// from `db`, `affinity` and `constraint` struct tags; affinity falls back
// to the field's Go type when untagged. Column order follows field
// declaration order and defines the positional tuple layout used by every
// composed statement.
//
// All statement composition is pure: the same inputs always produce the
// same SQL text, and no composer method touches a database. Composed
// statements for the common shapes are cached per table.
package schema
