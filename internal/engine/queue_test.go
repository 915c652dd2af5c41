package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rangeplan/internal/ir"
)

func TestEventQueue_FIFO(t *testing.T) {
	q := newEventQueue()

	for _, ns := range []string{"A", "B", "C"} {
		require.True(t, q.Enqueue(Event{Type: EventTypeInsert, Namespace: ns}))
	}

	for _, want := range []string{"A", "B", "C"} {
		e, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, e.Namespace)
	}

	_, ok := q.TryDequeue()
	assert.False(t, ok, "dequeue from empty queue should return false")
}

func TestEventQueue_Enqueue_AfterClose(t *testing.T) {
	q := newEventQueue()
	q.Close()
	q.Close() // idempotent

	assert.False(t, q.Enqueue(Event{Type: EventTypeRun}))
	assert.Equal(t, 0, q.Len())
}

func TestEventQueue_ThreadSafe(t *testing.T) {
	q := newEventQueue()
	const goroutines = 50

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			q.Enqueue(Event{Type: EventTypeInsert, Namespace: fmt.Sprintf("ns-%d", i)})
		}(i)
	}
	wg.Wait()

	assert.Equal(t, goroutines, q.Len())
}

func TestEventType_String(t *testing.T) {
	assert.Equal(t, "add_index", EventTypeAddIndex.String())
	assert.Equal(t, "insert", EventTypeInsert.String())
	assert.Equal(t, "run", EventTypeRun.String())
	assert.Equal(t, "event(9)", EventType(9).String())
}

func TestEngine_ServeProcessesSubmittedEvents(t *testing.T) {
	e := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- e.Serve(ctx) }()

	reply, err := e.Submit(ctx, Event{
		Type:  EventTypeAddIndex,
		Index: &ir.IndexSpec{Namespace: testNS, KeyPattern: ir.MustParseKeyPattern(`{"a":1}`)},
	})
	require.NoError(t, err)
	assert.Equal(t, "a_1", reply.Index.Name)

	// Concurrent producers: the loop serializes every insert.
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := e.Submit(ctx, Event{
				Type:      EventTypeInsert,
				Namespace: testNS,
				Document:  ir.IRObject{IDField: ir.IRInt(int64(i)), "a": ir.IRInt(int64(i))},
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	reply, err = e.Submit(ctx, Event{
		Type:  EventTypeRun,
		Query: &Query{Namespace: testNS, Filter: ir.IRObject{"a": ir.IRObject{"$lt": ir.IRInt(3)}}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "1", "2"}, reply.Result.IDs)

	e.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Stop")
	}
}

func TestEngine_ServeReportsErrors(t *testing.T) {
	e := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = e.Serve(ctx) }()

	_, err := e.Submit(ctx, Event{Type: EventTypeRun, Query: &Query{Namespace: "db.none"}})
	assert.True(t, IsUnknownNamespace(err))

	_, err = e.Submit(ctx, Event{Type: EventTypeInsert, Namespace: testNS})
	assert.ErrorContains(t, err, "missing document")

	// The loop survives failed events.
	_, err = e.Submit(ctx, Event{Type: EventTypeInsert, Namespace: testNS, Document: ir.IRObject{"a": ir.IRInt(1)}})
	assert.NoError(t, err)
}

func TestEngine_ServeStopsOnContext(t *testing.T) {
	e := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- e.Serve(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	assert.False(t, e.Enqueue(Event{Type: EventTypeRun}), "queue closes with the loop")
}
