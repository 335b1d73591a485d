// ABOUTME: High-level pool operations mirroring the single-connection executor.
// ABOUTME: Each submits a closure to a worker; blocking calls wait, streaming calls bridge.

package pool

import (
	"context"
	"fmt"

	"github.com/litepool/litepool/orm"
	"github.com/litepool/litepool/schema"
)

// Execute runs one statement on a worker and returns every result row as
// a positional tuple.
func (p *Pool[T]) Execute(ctx context.Context, stmt string, args ...any) ([][]any, error) {
	return run(ctx, p, func(exec *orm.Executor[T]) ([][]any, error) {
		return exec.Execute(ctx, stmt, args...)
	})
}

// Exec runs one statement for its side effects on a worker and returns
// the affected row count.
func (p *Pool[T]) Exec(ctx context.Context, stmt string, args ...any) (int64, error) {
	return run(ctx, p, func(exec *orm.Executor[T]) (int64, error) {
		return exec.Exec(ctx, stmt, args...)
	})
}

// ExecuteMany applies the statement to each parameter set inside one
// transaction on a single worker.
func (p *Pool[T]) ExecuteMany(ctx context.Context, stmt string, argSets [][]any) (int64, error) {
	return run(ctx, p, func(exec *orm.Executor[T]) (int64, error) {
		return exec.ExecuteMany(ctx, stmt, argSets)
	})
}

// ExecuteScript runs a multi-statement script on a worker.
func (p *Pool[T]) ExecuteScript(ctx context.Context, script string) error {
	_, err := run(ctx, p, func(exec *orm.Executor[T]) (struct{}, error) {
		return struct{}{}, exec.ExecuteScript(ctx, script)
	})
	return err
}

// CreateTable creates the pool's table.
func (p *Pool[T]) CreateTable(ctx context.Context, opts schema.CreateOptions) error {
	_, err := run(ctx, p, func(exec *orm.Executor[T]) (struct{}, error) {
		return struct{}{}, exec.CreateTable(ctx, opts)
	})
	return err
}

// CreateIndex creates an index over the pool's table.
func (p *Pool[T]) CreateIndex(ctx context.Context, opts schema.IndexOptions) error {
	_, err := run(ctx, p, func(exec *orm.Executor[T]) (struct{}, error) {
		return struct{}{}, exec.CreateIndex(ctx, opts)
	})
	return err
}

// Select returns all rows matching q.
func (p *Pool[T]) Select(ctx context.Context, q orm.Query) ([]T, error) {
	return run(ctx, p, func(exec *orm.Executor[T]) ([]T, error) {
		return exec.Select(ctx, q)
	})
}

// SelectOne returns the first row matching q, or orm.ErrNotFound.
func (p *Pool[T]) SelectOne(ctx context.Context, q orm.Query) (T, error) {
	return run(ctx, p, func(exec *orm.Executor[T]) (T, error) {
		return exec.SelectOne(ctx, q)
	})
}

// SelectStream streams rows matching q through the bounded hand-off
// bridge instead of buffering them all.
func (p *Pool[T]) SelectStream(ctx context.Context, q orm.Query) (*Stream[T], error) {
	return p.newStream(ctx, func(sctx context.Context, exec *orm.Executor[T], yield func(T) error) error {
		return exec.SelectIter(sctx, q, yield)
	})
}

// Insert inserts exactly one row.
func (p *Pool[T]) Insert(ctx context.Context, row T) error {
	_, err := run(ctx, p, func(exec *orm.Executor[T]) (struct{}, error) {
		return struct{}{}, exec.Insert(ctx, row)
	})
	return err
}

// InsertMany inserts all rows in one transaction on a single worker and
// returns the inserted count.
func (p *Pool[T]) InsertMany(ctx context.Context, rows []T) (int64, error) {
	return run(ctx, p, func(exec *orm.Executor[T]) (int64, error) {
		return exec.InsertMany(ctx, rows)
	})
}

// InsertManyOr is InsertMany with an INSERT OR <action> conflict fallback.
func (p *Pool[T]) InsertManyOr(ctx context.Context, action schema.ConflictAction, rows []T) (int64, error) {
	return run(ctx, p, func(exec *orm.Executor[T]) (int64, error) {
		return exec.InsertManyOr(ctx, action, rows)
	})
}

// InsertMapped inserts one row binding only the given columns.
func (p *Pool[T]) InsertMapped(ctx context.Context, colValues orm.Filter) error {
	_, err := run(ctx, p, func(exec *orm.Executor[T]) (struct{}, error) {
		return struct{}{}, exec.InsertMapped(ctx, colValues)
	})
	return err
}

// Update assigns set on every row matching where.
func (p *Pool[T]) Update(ctx context.Context, set, where orm.Filter) (int64, error) {
	return run(ctx, p, func(exec *orm.Executor[T]) (int64, error) {
		return exec.Update(ctx, set, where)
	})
}

// UpdateMany streams zipped (set values, where values) pairs through one
// UPDATE template in one transaction.
func (p *Pool[T]) UpdateMany(ctx context.Context, setCols, whereCols []string, sets, wheres [][]any) (int64, error) {
	return run(ctx, p, func(exec *orm.Executor[T]) (int64, error) {
		return exec.UpdateMany(ctx, setCols, whereCols, sets, wheres)
	})
}

// Delete removes every row matching q and returns the affected count.
func (p *Pool[T]) Delete(ctx context.Context, q orm.Query) (int64, error) {
	return run(ctx, p, func(exec *orm.Executor[T]) (int64, error) {
		return exec.Delete(ctx, q)
	})
}

// DeleteReturning removes matching rows and streams each deleted row back
// to the caller.
func (p *Pool[T]) DeleteReturning(ctx context.Context, q orm.Query) (*Stream[T], error) {
	return p.newStream(ctx, func(sctx context.Context, exec *orm.Executor[T], yield func(T) error) error {
		return exec.DeleteReturning(sctx, q, yield)
	})
}

// ScanAll streams the whole table in rowid order, batchSize rows per
// engine call. The batch size is validated before any work is scheduled.
func (p *Pool[T]) ScanAll(ctx context.Context, batchSize int) (*Stream[T], error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("%w: batch size must be positive, got %d", orm.ErrInvalidArgument, batchSize)
	}
	return p.newStream(ctx, func(sctx context.Context, exec *orm.Executor[T], yield func(T) error) error {
		return exec.ScanAll(sctx, batchSize, yield)
	})
}

// Exists reports whether at least one row matches the filter.
func (p *Pool[T]) Exists(ctx context.Context, where orm.Filter) (bool, error) {
	return run(ctx, p, func(exec *orm.Executor[T]) (bool, error) {
		return exec.Exists(ctx, where)
	})
}
