// ABOUTME: Single-connection executor running statements against its exclusively-owned handle.
// ABOUTME: Covers raw execution, batched execution in one transaction, scripts and DDL.

package orm

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/litepool/litepool/schema"
)

// Executor runs table operations over one exclusively-owned connection
// handle. It is not safe for concurrent use; one goroutine at a time.
//
// The handle is expected to be capped at a single underlying connection
// (see sqlitedb.Open). A broken handle stays broken for the executor's
// lifetime: there is no automatic reconnection.
type Executor[T any] struct {
	db       *sql.DB
	tbl      *schema.Table[T]
	log      *slog.Logger
	rowFn    schema.RowFactory[T]
	validate bool
}

// Option configures an Executor.
type Option[T any] func(*Executor[T])

// WithLogger sets the executor's logger.
func WithLogger[T any](log *slog.Logger) Option[T] {
	return func(e *Executor[T]) { e.log = log }
}

// WithRowFactory replaces the default typed row scan with a caller-supplied
// transform. Applies to Select, SelectOne and SelectIter.
func WithRowFactory[T any](fn schema.RowFactory[T]) Option[T] {
	return func(e *Executor[T]) { e.rowFn = fn }
}

// WithoutValidation disables the Validate hook on typed row scans.
func WithoutValidation[T any]() Option[T] {
	return func(e *Executor[T]) { e.validate = false }
}

// New wraps the given connection handle with a typed executor for tbl.
func New[T any](db *sql.DB, tbl *schema.Table[T], opts ...Option[T]) *Executor[T] {
	e := &Executor[T]{
		db:       db,
		tbl:      tbl,
		log:      slog.Default().With("component", "orm", "table", tbl.Name()),
		validate: true,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Table returns the schema descriptor this executor operates on.
func (e *Executor[T]) Table() *schema.Table[T] { return e.tbl }

// DB exposes the underlying handle for direct statement execution.
func (e *Executor[T]) DB() *sql.DB { return e.db }

// Close closes the owned connection handle.
func (e *Executor[T]) Close() error { return e.db.Close() }

// checkArity verifies bind arity against the statement's placeholders
// before any engine call. A statement is never partially bound.
func checkArity(stmt string, args []any) error {
	if want := schema.Placeholders(stmt); want != len(args) {
		return fmt.Errorf("%w: statement wants %d args, got %d", ErrMalformedParams, want, len(args))
	}
	return nil
}

// Execute runs one statement and returns every result row as a positional
// tuple. Statements producing no rows return an empty result. Arguments
// bind positionally to `?` markers, or by name via sql.Named against
// `:name`, `@name` and `$name` markers.
func (e *Executor[T]) Execute(ctx context.Context, stmt string, args ...any) ([][]any, error) {
	if err := checkArity(stmt, args); err != nil {
		return nil, err
	}

	rows, err := e.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("executing statement: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading result columns: %w", err)
	}

	var out [][]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning result row: %w", err)
		}
		out = append(out, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating result rows: %w", err)
	}
	return out, nil
}

// Exec runs one statement for its side effects and returns the affected
// row count. Result rows, including RETURNING output, are discarded.
func (e *Executor[T]) Exec(ctx context.Context, stmt string, args ...any) (int64, error) {
	if err := checkArity(stmt, args); err != nil {
		return 0, err
	}
	res, err := e.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("executing statement: %w", err)
	}
	return res.RowsAffected()
}

// ExecuteMany applies the same statement to each parameter set inside one
// transaction. The first failing item aborts and rolls back the whole
// batch, surfaced as a BatchError carrying the item index. Returns the
// total affected row count.
func (e *Executor[T]) ExecuteMany(ctx context.Context, stmt string, argSets [][]any) (int64, error) {
	want := schema.Placeholders(stmt)
	for i, args := range argSets {
		if len(args) != want {
			return 0, fmt.Errorf("%w: item %d wants %d args, got %d", ErrMalformedParams, i, want, len(args))
		}
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning batch transaction: %w", err)
	}
	defer tx.Rollback()

	prepared, err := tx.PrepareContext(ctx, stmt)
	if err != nil {
		return 0, fmt.Errorf("preparing batch statement: %w", err)
	}
	defer prepared.Close()

	var affected int64
	for i, args := range argSets {
		res, err := prepared.ExecContext(ctx, args...)
		if err != nil {
			return 0, &BatchError{Index: i, Err: err}
		}
		if n, err := res.RowsAffected(); err == nil {
			affected += n
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing batch: %w", err)
	}
	return affected, nil
}

// ExecuteScript runs a multi-statement script. Result rows, including any
// RETURNING output, are discarded.
func (e *Executor[T]) ExecuteScript(ctx context.Context, script string) error {
	if _, err := e.db.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("executing script: %w", err)
	}
	return nil
}

// CreateTable creates the table defined by this executor's schema.
func (e *Executor[T]) CreateTable(ctx context.Context, opts schema.CreateOptions) error {
	stmt := e.tbl.CreateStmt(opts)
	if _, err := e.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("creating table %s: %w", e.tbl.Name(), err)
	}
	e.log.Debug("table created", "stmt", stmt)
	return nil
}

// CreateIndex creates an index over this executor's table.
func (e *Executor[T]) CreateIndex(ctx context.Context, opts schema.IndexOptions) error {
	stmt, err := e.tbl.CreateIndexStmt(opts)
	if err != nil {
		return err
	}
	if _, err := e.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("creating index %s: %w", opts.Name, err)
	}
	e.log.Debug("index created", "stmt", stmt)
	return nil
}
