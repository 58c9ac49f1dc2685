package badger

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nicktill/campuspulse/pkg/docstore"
)

func TestBadgerStore_WriteAndList(t *testing.T) {
	store, err := New(Config{InMemory: true})
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	day := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)

	for i, mess := range []string{"Annapurna", "Kaveri", "Annapurna"} {
		_, err := store.Write(ctx, "messFoodRatings", string(rune('a'+i)), docstore.Fields{
			"messName":  mess,
			"rating":    i + 2,
			"timestamp": day.Add(time.Duration(i) * time.Hour),
		}, docstore.Create)
		require.NoError(t, err)
	}
	_, err = store.Write(ctx, "appointments", "x", docstore.Fields{"status": "scheduled"}, docstore.Create)
	require.NoError(t, err)

	docs, err := store.List(ctx, docstore.Query{
		Collection: "messFoodRatings",
		Where:      []docstore.Predicate{docstore.Where("messName", docstore.Eq, "Annapurna")},
		OrderBy:    "timestamp",
		Desc:       true,
	})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	require.Equal(t, "c", docs[0].ID)

	ts, ok := docs[0].Time("timestamp")
	require.True(t, ok)
	require.True(t, ts.Equal(day.Add(2*time.Hour)))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(4), stats.Documents)
	require.Equal(t, uint64(2), stats.Collections)
}

func TestBadgerStore_CreateConflictAndUpdate(t *testing.T) {
	store, err := New(Config{InMemory: true})
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	_, err = store.Write(ctx, "appointments", "a1", docstore.Fields{"status": "scheduled", "studentId": "u1"}, docstore.Create)
	require.NoError(t, err)

	_, err = store.Write(ctx, "appointments", "a1", docstore.Fields{"status": "scheduled"}, docstore.Create)
	require.ErrorIs(t, err, docstore.ErrAlreadyExists)

	_, err = store.Write(ctx, "appointments", "missing", docstore.Fields{"status": "completed"}, docstore.Update)
	require.ErrorIs(t, err, docstore.ErrNotFound)

	d, err := store.Write(ctx, "appointments", "a1", docstore.Fields{"status": "completed"}, docstore.Update)
	require.NoError(t, err)
	sid, _ := d.String("studentId")
	require.Equal(t, "u1", sid)
}

func TestBadgerStore_Persistence(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	{
		store, err := New(Config{Path: dir})
		require.NoError(t, err)
		_, err = store.Write(ctx, "campusInfo", "hospital", docstore.Fields{"emergencyStatus": "Priority Open"}, docstore.Merge)
		require.NoError(t, err)
		require.NoError(t, store.Close())
	}

	store, err := New(Config{Path: dir})
	require.NoError(t, err)
	defer store.Close()

	d, err := store.Get(ctx, "campusInfo", "hospital")
	require.NoError(t, err)
	status, _ := d.String("emergencyStatus")
	require.Equal(t, "Priority Open", status)
}

func TestBadgerStore_Listen(t *testing.T) {
	store, err := New(Config{InMemory: true})
	require.NoError(t, err)
	defer store.Close()

	ch, cancel := store.Listen("emergencyReports")
	defer cancel()

	_, err = store.Write(context.Background(), "emergencyReports", "r1", docstore.Fields{"type": "Fire"}, docstore.Create)
	require.NoError(t, err)

	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("expected change notice")
	}
}

func TestBadgerStore_CancelledContext(t *testing.T) {
	store, err := New(Config{InMemory: true})
	require.NoError(t, err)
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = store.List(ctx, docstore.Query{Collection: "appointments"})
	require.ErrorIs(t, err, context.Canceled)
}

// lateCancelCtx passes the first Err check and reports Done from then on.
type lateCancelCtx struct {
	context.Context
	checks atomic.Int32
	done   chan struct{}
}

func newLateCancelCtx() *lateCancelCtx {
	c := &lateCancelCtx{Context: context.Background(), done: make(chan struct{})}
	close(c.done)
	return c
}

func (c *lateCancelCtx) Done() <-chan struct{} { return c.done }

func (c *lateCancelCtx) Err() error {
	if c.checks.Add(1) == 1 {
		return nil
	}
	return context.Canceled
}

func TestBadgerStore_WriteCancelledInFlight(t *testing.T) {
	store, err := New(Config{InMemory: true})
	require.NoError(t, err)
	defer store.Close()

	ch, cancel := store.Listen("emergencyReports")
	defer cancel()

	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("r%d", i)
		_, err := store.Write(newLateCancelCtx(), "emergencyReports", id, docstore.Fields{"type": "Fire"}, docstore.Create)
		require.NoError(t, err)

		_, err = store.Get(context.Background(), "emergencyReports", id)
		require.NoError(t, err)

		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("no change notice for committed write %s", id)
		}
	}
}
