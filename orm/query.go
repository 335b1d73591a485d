// ABOUTME: Typed table operations: select, insert, update, delete, paginated scan, existence.
// ABOUTME: Filters are equality column/value maps bound in deterministic sorted-column order.

package orm

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"

	"github.com/litepool/litepool/schema"
)

// Filter matches rows by column equality. Columns are bound in sorted
// name order so the same filter always composes the same statement.
type Filter map[string]any

func (f Filter) columns() []string {
	cols := make([]string, 0, len(f))
	for col := range f {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}

func (f Filter) args(cols []string) []any {
	args := make([]any, len(cols))
	for i, col := range cols {
		args[i] = f[col]
	}
	return args
}

// Query shapes a select or delete: equality filter, result ordering and a
// row limit. The zero value selects everything.
type Query struct {
	Where    Filter
	Distinct bool
	OrderBy  []schema.OrderBy
	Limit    int
}

// scanCurrent builds the typed result for the cursor's current row, going
// through the custom row factory when one is configured.
func (e *Executor[T]) scanCurrent(rows *sql.Rows, cols []string) (T, error) {
	if e.rowFn == nil {
		return e.tbl.ScanRow(rows, e.validate)
	}

	var zero T
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return zero, fmt.Errorf("scanning row of %s: %w", e.tbl.Name(), err)
	}
	return e.rowFn(cols, vals)
}

// SelectIter streams matching rows to yield, one at a time, on the
// calling goroutine. A non-nil error from yield aborts the iteration and
// is returned as-is; this is the cooperative cancellation point used by
// the pool's streaming bridge.
func (e *Executor[T]) SelectIter(ctx context.Context, q Query, yield func(T) error) error {
	whereCols := q.Where.columns()
	stmt, err := e.tbl.SelectStmt(schema.SelectOptions{
		Distinct: q.Distinct,
		Where:    whereCols,
		OrderBy:  q.OrderBy,
		Limit:    q.Limit,
	})
	if err != nil {
		return err
	}

	rows, err := e.db.QueryContext(ctx, stmt, q.Where.args(whereCols)...)
	if err != nil {
		return fmt.Errorf("selecting from %s: %w", e.tbl.Name(), err)
	}
	defer rows.Close()

	cols := e.tbl.ColumnNames()
	for rows.Next() {
		row, err := e.scanCurrent(rows, cols)
		if err != nil {
			return err
		}
		if err := yield(row); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating rows of %s: %w", e.tbl.Name(), err)
	}
	return nil
}

// Select returns all matching rows.
func (e *Executor[T]) Select(ctx context.Context, q Query) ([]T, error) {
	var out []T
	err := e.SelectIter(ctx, q, func(row T) error {
		out = append(out, row)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SelectOne returns the first matching row, or ErrNotFound.
func (e *Executor[T]) SelectOne(ctx context.Context, q Query) (T, error) {
	q.Limit = 1
	rows, err := e.Select(ctx, q)
	if err != nil {
		var zero T
		return zero, err
	}
	if len(rows) == 0 {
		var zero T
		return zero, fmt.Errorf("%w: no row in %s matches filter", ErrNotFound, e.tbl.Name())
	}
	return rows[0], nil
}

// Insert inserts exactly one row.
func (e *Executor[T]) Insert(ctx context.Context, row T) error {
	stmt, err := e.tbl.InsertStmt(schema.InsertOptions{})
	if err != nil {
		return err
	}
	if _, err := e.db.ExecContext(ctx, stmt, e.tbl.Values(row)...); err != nil {
		return fmt.Errorf("inserting into %s: %w", e.tbl.Name(), err)
	}
	return nil
}

// InsertMany inserts all rows inside one transaction and returns the
// inserted count. The first failing row aborts and rolls back the batch.
func (e *Executor[T]) InsertMany(ctx context.Context, rows []T) (int64, error) {
	return e.InsertManyOr(ctx, schema.ConflictNone, rows)
}

// InsertManyOr is InsertMany with an INSERT OR <action> conflict fallback.
func (e *Executor[T]) InsertManyOr(ctx context.Context, action schema.ConflictAction, rows []T) (int64, error) {
	stmt, err := e.tbl.InsertStmt(schema.InsertOptions{OnConflict: action})
	if err != nil {
		return 0, err
	}
	argSets := make([][]any, len(rows))
	for i, row := range rows {
		argSets[i] = e.tbl.Values(row)
	}
	return e.ExecuteMany(ctx, stmt, argSets)
}

// InsertMapped inserts one row binding only the given columns; unnamed
// columns take their schema defaults.
func (e *Executor[T]) InsertMapped(ctx context.Context, colValues Filter) error {
	if len(colValues) == 0 {
		return fmt.Errorf("%w: no columns to insert", ErrInvalidArgument)
	}
	cols := colValues.columns()
	stmt, err := e.tbl.InsertStmt(schema.InsertOptions{Columns: cols})
	if err != nil {
		return err
	}
	if _, err := e.db.ExecContext(ctx, stmt, colValues.args(cols)...); err != nil {
		return fmt.Errorf("inserting into %s: %w", e.tbl.Name(), err)
	}
	return nil
}

// Update assigns set on every row matching where and returns the affected
// count.
func (e *Executor[T]) Update(ctx context.Context, set, where Filter) (int64, error) {
	if len(set) == 0 {
		return 0, fmt.Errorf("%w: no set columns", ErrInvalidArgument)
	}
	setCols, whereCols := set.columns(), where.columns()
	stmt, err := e.tbl.UpdateStmt(setCols, whereCols)
	if err != nil {
		return 0, err
	}
	args := append(set.args(setCols), where.args(whereCols)...)
	res, err := e.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("updating %s: %w", e.tbl.Name(), err)
	}
	return res.RowsAffected()
}

// UpdateMany streams many (set values, where values) pairs through one
// UPDATE template inside one transaction. Pairs are zipped: iteration
// stops at the shorter of sets and wheres. At least one pair is required.
func (e *Executor[T]) UpdateMany(ctx context.Context, setCols, whereCols []string, sets, wheres [][]any) (int64, error) {
	n := min(len(sets), len(wheres))
	if n == 0 {
		return 0, fmt.Errorf("%w: update batch needs at least one (set, where) pair", ErrInvalidArgument)
	}

	stmt, err := e.tbl.UpdateStmt(setCols, whereCols)
	if err != nil {
		return 0, err
	}

	argSets := make([][]any, n)
	for i := 0; i < n; i++ {
		if len(sets[i]) != len(setCols) || len(wheres[i]) != len(whereCols) {
			return 0, fmt.Errorf("%w: item %d does not match set/where column count", ErrMalformedParams, i)
		}
		argSets[i] = append(append([]any{}, sets[i]...), wheres[i]...)
	}
	return e.ExecuteMany(ctx, stmt, argSets)
}

// Delete removes every row matching q and returns the affected count.
// OrderBy and Limit bound the deletion when set.
func (e *Executor[T]) Delete(ctx context.Context, q Query) (int64, error) {
	whereCols := q.Where.columns()
	stmt, err := e.tbl.DeleteStmt(schema.DeleteOptions{
		Where:   whereCols,
		OrderBy: q.OrderBy,
		Limit:   q.Limit,
	})
	if err != nil {
		return 0, err
	}
	res, err := e.db.ExecContext(ctx, stmt, q.Where.args(whereCols)...)
	if err != nil {
		return 0, fmt.Errorf("deleting from %s: %w", e.tbl.Name(), err)
	}
	return res.RowsAffected()
}

// DeleteReturning removes matching rows and streams each deleted row to
// yield. A non-nil error from yield aborts the iteration.
func (e *Executor[T]) DeleteReturning(ctx context.Context, q Query, yield func(T) error) error {
	whereCols := q.Where.columns()
	stmt, err := e.tbl.DeleteStmt(schema.DeleteOptions{
		Where:        whereCols,
		OrderBy:      q.OrderBy,
		Limit:        q.Limit,
		ReturningAll: true,
	})
	if err != nil {
		return err
	}

	rows, err := e.db.QueryContext(ctx, stmt, q.Where.args(whereCols)...)
	if err != nil {
		return fmt.Errorf("deleting from %s: %w", e.tbl.Name(), err)
	}
	defer rows.Close()

	cols := e.tbl.ColumnNames()
	for rows.Next() {
		row, err := e.scanCurrent(rows, cols)
		if err != nil {
			return err
		}
		if err := yield(row); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating deleted rows of %s: %w", e.tbl.Name(), err)
	}
	return nil
}

// ScanAll walks the whole table in rowid order, batchSize rows per engine
// call, seeking forward on the last seen rowid. The scan terminates when a
// batch comes back empty. Requires a rowid table: tables created WITHOUT
// ROWID cannot be scanned this way.
func (e *Executor[T]) ScanAll(ctx context.Context, batchSize int, yield func(T) error) error {
	if batchSize <= 0 {
		return fmt.Errorf("%w: batch size must be positive, got %d", ErrInvalidArgument, batchSize)
	}

	stmt := e.tbl.PaginatedScanStmt(batchSize)
	// rowids can be zero or negative, so the seek starts below every
	// representable rowid.
	last := int64(math.MinInt64)
	for {
		n, err := e.scanBatch(ctx, stmt, &last, yield)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
	}
}

func (e *Executor[T]) scanBatch(ctx context.Context, stmt string, last *int64, yield func(T) error) (int, error) {
	rows, err := e.db.QueryContext(ctx, stmt, *last)
	if err != nil {
		return 0, fmt.Errorf("scanning %s: %w", e.tbl.Name(), err)
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		var rowid int64
		row, err := e.tbl.ScanRowOffset(rows, e.validate, &rowid)
		if err != nil {
			return n, err
		}
		if err := yield(row); err != nil {
			return n, err
		}
		*last = rowid
		n++
	}
	if err := rows.Err(); err != nil {
		return n, fmt.Errorf("iterating scan batch of %s: %w", e.tbl.Name(), err)
	}
	return n, nil
}

// Exists reports whether at least one row matches the filter, using a
// COUNT query.
func (e *Executor[T]) Exists(ctx context.Context, where Filter) (bool, error) {
	whereCols := where.columns()
	stmt, err := e.tbl.SelectStmt(schema.SelectOptions{
		Count: true,
		Where: whereCols,
	})
	if err != nil {
		return false, err
	}

	var count int64
	row := e.db.QueryRowContext(ctx, stmt, where.args(whereCols)...)
	if err := row.Scan(&count); err != nil {
		return false, fmt.Errorf("counting rows of %s: %w", e.tbl.Name(), err)
	}
	return count > 0, nil
}
