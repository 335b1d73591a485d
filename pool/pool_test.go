// ABOUTME: Pool lifecycle and dispatch tests: concurrency bounds, shutdown, rejection.

package pool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/litepool/litepool/orm"
	"github.com/litepool/litepool/schema"
	"github.com/litepool/litepool/sqlitedb"
)

type user struct {
	ID   int64  `db:"id" constraint:"PRIMARY KEY"`
	Name string `db:"name" constraint:"NOT NULL"`
	Age  int64  `db:"age"`
}

var userTable = schema.MustNew[user]("users")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestPool creates a pool over a fresh temporary database with the
// users table created.
func newTestPool(t *testing.T, workers int) *Pool[user] {
	t.Helper()

	p, err := New(Config{
		Factory: sqlitedb.FileFactory(filepath.Join(t.TempDir(), "pool.db")),
		Workers: workers,
		Logger:  testLogger(),
	}, userTable)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })

	require.NoError(t, p.CreateTable(context.Background(), schema.CreateOptions{}))
	return p
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Workers: 2}, userTable)
	require.ErrorIs(t, err, orm.ErrInvalidArgument, "a factory is required")

	_, err = New(Config{
		Factory: sqlitedb.MemoryFactory(""),
		Workers: 0,
	}, userTable)
	require.ErrorIs(t, err, orm.ErrInvalidArgument, "at least one worker is required")
}

func TestNew_FactoryFailureFailsFast(t *testing.T) {
	calls := 0
	boom := errors.New("factory broke")
	factory := sqlitedb.MemoryFactory("")

	p, err := New(Config{
		Factory: func() (*sql.DB, error) {
			calls++
			if calls == 3 {
				return nil, boom
			}
			return factory()
		},
		Workers: 3,
		Logger:  testLogger(),
	}, userTable)
	require.ErrorIs(t, err, boom)
	require.Nil(t, p)
}

func TestConcurrencyDegreeBoundedByWorkers(t *testing.T) {
	p := newTestPool(t, 2)

	// Two tasks that each wait for the other prove the pool really runs
	// two workers concurrently; the test times out otherwise.
	first := make(chan struct{})
	second := make(chan struct{})
	futA, err := Submit(p, func(_ context.Context, _ *orm.Executor[user]) (struct{}, error) {
		close(first)
		<-second
		return struct{}{}, nil
	})
	require.NoError(t, err)
	futB, err := Submit(p, func(_ context.Context, _ *orm.Executor[user]) (struct{}, error) {
		close(second)
		<-first
		return struct{}{}, nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = futA.Wait(ctx)
	require.NoError(t, err)
	_, err = futB.Wait(ctx)
	require.NoError(t, err)

	// Concurrency never exceeds the worker count.
	var current, peak atomic.Int32
	futures := make([]*Future[struct{}], 0, 8)
	for i := 0; i < 8; i++ {
		fut, err := Submit(p, func(_ context.Context, _ *orm.Executor[user]) (struct{}, error) {
			n := current.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			current.Add(-1)
			return struct{}{}, nil
		})
		require.NoError(t, err)
		futures = append(futures, fut)
	}
	for _, fut := range futures {
		_, err := fut.Wait(ctx)
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.GreaterOrEqual(t, peak.Load(), int32(2), "all workers participate under load")
}

func TestConcurrentBatchesScenario(t *testing.T) {
	p := newTestPool(t, 2)
	ctx := context.Background()

	// 1000 rows through 10 concurrent batches of 100.
	var wg sync.WaitGroup
	for batch := 0; batch < 10; batch++ {
		wg.Add(1)
		go func(batch int) {
			defer wg.Done()
			rows := make([]user, 100)
			for i := range rows {
				id := int64(batch*100 + i)
				rows[i] = user{ID: id, Name: fmt.Sprintf("user-%04d", id), Age: id % 80}
			}
			affected, err := p.InsertMany(ctx, rows)
			assert.NoError(t, err)
			assert.EqualValues(t, 100, affected)
		}(batch)
	}
	wg.Wait()

	rows, err := p.Execute(ctx, "SELECT count(*) FROM users")
	require.NoError(t, err)
	assert.EqualValues(t, 1000, rows[0][0])

	affected, err := p.Exec(ctx, "DELETE FROM users WHERE id < ?", int64(500))
	require.NoError(t, err)
	assert.EqualValues(t, 500, affected)

	rows, err = p.Execute(ctx, "SELECT count(*) FROM users")
	require.NoError(t, err)
	assert.EqualValues(t, 500, rows[0][0])
}

func TestShutdownIdempotent(t *testing.T) {
	p := newTestPool(t, 2)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close(), "second shutdown is a no-op")
	require.NoError(t, p.Shutdown(ShutdownOptions{Wait: true, CloseConnections: true}))
}

func TestSubmitAfterShutdown(t *testing.T) {
	p := newTestPool(t, 2)
	ctx := context.Background()
	require.NoError(t, p.Close())

	_, err := Submit(p, func(_ context.Context, _ *orm.Executor[user]) (struct{}, error) {
		return struct{}{}, nil
	})
	require.ErrorIs(t, err, ErrPoolClosed)

	require.ErrorIs(t, p.Insert(ctx, user{ID: 1, Name: "late"}), ErrPoolClosed)

	_, err = p.Select(ctx, orm.Query{})
	require.ErrorIs(t, err, ErrPoolClosed)
}

func TestFutureDoneChannel(t *testing.T) {
	p := newTestPool(t, 1)

	fut, err := Submit(p, func(_ context.Context, exec *orm.Executor[user]) (int64, error) {
		return exec.Exec(context.Background(),
			"INSERT INTO users (id, name, age) VALUES (?, ?, ?)", int64(1), "ada", int64(36))
	})
	require.NoError(t, err)

	select {
	case <-fut.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("future never completed")
	}
	affected, err := fut.Wait(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, affected)
}

func TestFutureWait_CallerContext(t *testing.T) {
	p := newTestPool(t, 1)

	release := make(chan struct{})
	defer close(release)
	fut, err := Submit(p, func(_ context.Context, _ *orm.Executor[user]) (struct{}, error) {
		<-release
		return struct{}{}, nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = fut.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded,
		"a context error abandons the wait, not the work")
}

func TestSelectOneThroughPool(t *testing.T) {
	p := newTestPool(t, 2)
	ctx := context.Background()

	require.NoError(t, p.Insert(ctx, user{ID: 7, Name: "grace", Age: 46}))

	row, err := p.SelectOne(ctx, orm.Query{Where: orm.Filter{"id": int64(7)}})
	require.NoError(t, err)
	assert.Equal(t, "grace", row.Name)

	_, err = p.SelectOne(ctx, orm.Query{Where: orm.Filter{"id": int64(8)}})
	require.ErrorIs(t, err, orm.ErrNotFound)

	exists, err := p.Exists(ctx, orm.Filter{"name": "grace"})
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestUpdateThroughPool(t *testing.T) {
	p := newTestPool(t, 2)
	ctx := context.Background()

	require.NoError(t, p.Insert(ctx, user{ID: 1, Name: "ada", Age: 36}))

	affected, err := p.Update(ctx, orm.Filter{"age": int64(37)}, orm.Filter{"id": int64(1)})
	require.NoError(t, err)
	assert.EqualValues(t, 1, affected)

	affected, err = p.UpdateMany(ctx,
		[]string{"age"}, []string{"id"},
		[][]any{{int64(40)}}, [][]any{{int64(1)}})
	require.NoError(t, err)
	assert.EqualValues(t, 1, affected)

	row, err := p.SelectOne(ctx, orm.Query{Where: orm.Filter{"id": int64(1)}})
	require.NoError(t, err)
	assert.EqualValues(t, 40, row.Age)
}
