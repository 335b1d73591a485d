// ABOUTME: Streaming surface tests: backpressure, mid-stream failure, early close,
// ABOUTME: and shutdown interaction with in-flight streams.

package pool

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/litepool/litepool/orm"
	"github.com/litepool/litepool/schema"
	"github.com/litepool/litepool/sqlitedb"
)

type event struct {
	ID  int64  `db:"id" constraint:"PRIMARY KEY"`
	Val string `db:"val"`
}

func (e *event) Validate() error {
	if e.Val == "poison" {
		return errors.New("poison value")
	}
	return nil
}

var eventTable = schema.MustNew[event]("events")

func newStreamPool(t *testing.T, workers, depth int) *Pool[user] {
	t.Helper()

	p, err := New(Config{
		Factory:     sqlitedb.FileFactory(filepath.Join(t.TempDir(), "stream.db")),
		Workers:     workers,
		StreamDepth: depth,
		Logger:      testLogger(),
	}, userTable)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })

	require.NoError(t, p.CreateTable(context.Background(), schema.CreateOptions{}))
	return p
}

func newEventPool(t *testing.T, workers int) *Pool[event] {
	t.Helper()

	p, err := New(Config{
		Factory: sqlitedb.FileFactory(filepath.Join(t.TempDir(), "events.db")),
		Workers: workers,
		Logger:  testLogger(),
	}, eventTable)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })

	require.NoError(t, p.CreateTable(context.Background(), schema.CreateOptions{}))
	return p
}

func seedUsers(t *testing.T, p *Pool[user], n int) {
	t.Helper()
	rows := make([]user, n)
	for i := range rows {
		id := int64(i + 1)
		rows[i] = user{ID: id, Name: fmt.Sprintf("user-%03d", id), Age: id % 80}
	}
	affected, err := p.InsertMany(context.Background(), rows)
	require.NoError(t, err)
	require.EqualValues(t, n, affected)
}

func TestSelectStream_AllRows(t *testing.T) {
	p := newStreamPool(t, 2, DefaultStreamDepth)
	seedUsers(t, p, 9)

	s, err := p.SelectStream(context.Background(), orm.Query{
		OrderBy: []schema.OrderBy{{Column: "id"}},
	})
	require.NoError(t, err)
	defer s.Close()

	var got []int64
	for s.Next() {
		got = append(got, s.Row().ID)
	}
	require.NoError(t, s.Err())
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7, 8, 9}, got)
	assert.False(t, s.Next(), "exhausted stream stays exhausted")
}

func TestSelectStream_MidStreamFailure(t *testing.T) {
	p := newEventPool(t, 2)
	ctx := context.Background()

	rows := make([]event, 100)
	for i := range rows {
		id := int64(i + 1)
		val := fmt.Sprintf("event-%03d", id)
		if id == 50 {
			val = "poison"
		}
		rows[i] = event{ID: id, Val: val}
	}
	_, err := p.InsertMany(ctx, rows)
	require.NoError(t, err)

	s, err := p.SelectStream(ctx, orm.Query{
		OrderBy: []schema.OrderBy{{Column: "id"}},
	})
	require.NoError(t, err)
	defer s.Close()

	var count int
	for s.Next() {
		count++
	}
	assert.Equal(t, 49, count, "rows before the bad one are delivered")
	require.Error(t, s.Err())
	assert.Contains(t, s.Err().Error(), "poison")
}

func TestStream_Backpressure(t *testing.T) {
	const depth = 4
	p := newStreamPool(t, 1, depth)
	seedUsers(t, p, 9)

	s, err := p.SelectStream(context.Background(), orm.Query{
		OrderBy: []schema.OrderBy{{Column: "id"}},
	})
	require.NoError(t, err)
	defer s.Close()

	// With the consumer paused the producer fills the hand-off buffer and
	// blocks; it never runs ahead by more than the configured depth.
	require.Eventually(t, func() bool {
		return len(s.items) == depth
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, depth, len(s.items))

	var got int
	for s.Next() {
		got++
	}
	require.NoError(t, s.Err())
	assert.Equal(t, 9, got, "pausing loses no rows")
}

func TestStream_CloseUnblocksProducer(t *testing.T) {
	p := newStreamPool(t, 1, 1)
	seedUsers(t, p, 100)

	s, err := p.SelectStream(context.Background(), orm.Query{
		OrderBy: []schema.OrderBy{{Column: "id"}},
	})
	require.NoError(t, err)
	require.True(t, s.Next())
	require.NoError(t, s.Close())

	// The abandoned producer must terminate, or shutdown would hang on it.
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, p.Close())
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pool shutdown blocked behind an abandoned stream")
	}
}

func TestStream_CallerContextCancel(t *testing.T) {
	p := newStreamPool(t, 1, 1)
	seedUsers(t, p, 100)

	ctx, cancel := context.WithCancel(context.Background())
	s, err := p.SelectStream(ctx, orm.Query{
		OrderBy: []schema.OrderBy{{Column: "id"}},
	})
	require.NoError(t, err)
	defer s.Close()

	require.True(t, s.Next())
	cancel()

	var extra int
	for s.Next() {
		extra++
	}
	assert.LessOrEqual(t, extra, 2, "buffered window plus at most one row after cancellation")
	if err := s.Err(); err != nil {
		assert.ErrorIs(t, err, context.Canceled)
	}
}

func TestSelectStream_AfterShutdown(t *testing.T) {
	p := newStreamPool(t, 1, 4)
	require.NoError(t, p.Close())

	_, err := p.SelectStream(context.Background(), orm.Query{})
	require.ErrorIs(t, err, ErrPoolClosed)

	_, err = p.ScanAll(context.Background(), 10)
	require.ErrorIs(t, err, ErrPoolClosed)
}

func TestStream_PoolShutdownMidStream(t *testing.T) {
	p := newStreamPool(t, 1, 2)
	seedUsers(t, p, 100)

	s, err := p.SelectStream(context.Background(), orm.Query{
		OrderBy: []schema.OrderBy{{Column: "id"}},
	})
	require.NoError(t, err)
	defer s.Close()
	require.True(t, s.Next())

	require.NoError(t, p.Shutdown(ShutdownOptions{Wait: true, CloseConnections: true}))

	got := 1
	for s.Next() {
		got++
	}
	assert.Less(t, got, 100, "shutdown stops the stream within the buffered window")
	// With the buffer full at shutdown the producer cannot always park
	// the error; delivery with buffer space free is exercised in
	// TestStream_ShutdownErrorDelivered.
	if err := s.Err(); err != nil {
		assert.ErrorIs(t, err, ErrPoolClosed)
	}
}

func TestStream_ShutdownErrorDelivered(t *testing.T) {
	p := newStreamPool(t, 1, 4)
	seedUsers(t, p, 10)

	// Park the only worker so the stream's producer is still queued when
	// shutdown begins: it then fails before yielding anything, with the
	// hand-off buffer empty, where error delivery is guaranteed.
	release := make(chan struct{})
	fut, err := Submit(p, func(_ context.Context, _ *orm.Executor[user]) (struct{}, error) {
		<-release
		return struct{}{}, nil
	})
	require.NoError(t, err)

	s, err := p.SelectStream(context.Background(), orm.Query{})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, p.Shutdown(ShutdownOptions{CloseConnections: true}))
	close(release)
	_, err = fut.Wait(context.Background())
	require.NoError(t, err)

	require.False(t, s.Next())
	require.ErrorIs(t, s.Err(), ErrPoolClosed)
}

func TestScanAll_Stream(t *testing.T) {
	p := newStreamPool(t, 2, DefaultStreamDepth)
	seedUsers(t, p, 23)

	s, err := p.ScanAll(context.Background(), 7)
	require.NoError(t, err)
	defer s.Close()

	seen := make(map[int64]bool)
	for s.Next() {
		row := s.Row()
		require.False(t, seen[row.ID], "row %d delivered twice", row.ID)
		seen[row.ID] = true
	}
	require.NoError(t, s.Err())
	assert.Len(t, seen, 23)

	_, err = p.ScanAll(context.Background(), 0)
	require.ErrorIs(t, err, orm.ErrInvalidArgument)
}

func TestDeleteReturning_Stream(t *testing.T) {
	p := newStreamPool(t, 2, DefaultStreamDepth)
	seedUsers(t, p, 10)
	ctx := context.Background()

	s, err := p.DeleteReturning(ctx, orm.Query{Where: orm.Filter{"age": int64(3)}})
	require.NoError(t, err)
	defer s.Close()

	var deleted []int64
	for s.Next() {
		deleted = append(deleted, s.Row().ID)
	}
	require.NoError(t, s.Err())
	assert.Equal(t, []int64{3}, deleted)

	exists, err := p.Exists(ctx, orm.Filter{"id": int64(3)})
	require.NoError(t, err)
	assert.False(t, exists)
}
