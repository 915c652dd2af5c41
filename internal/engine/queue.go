package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/rangeplan/internal/ir"
)

// EventType distinguishes between event kinds.
type EventType int

const (
	// EventTypeAddIndex declares an index.
	EventTypeAddIndex EventType = iota + 1
	// EventTypeInsert adds a document.
	EventTypeInsert
	// EventTypeRun executes a query.
	EventTypeRun
)

func (t EventType) String() string {
	switch t {
	case EventTypeAddIndex:
		return "add_index"
	case EventTypeInsert:
		return "insert"
	case EventTypeRun:
		return "run"
	}
	return fmt.Sprintf("event(%d)", int(t))
}

// Event is one request for the Serve loop. Exactly one of Index, Document
// and Query is set, matching Type.
type Event struct {
	Type      EventType
	Namespace string // target of EventTypeInsert
	Index     *ir.IndexSpec
	Document  ir.IRObject
	Query     *Query

	// Reply, if set, receives the outcome. It should be buffered: the loop
	// gives up on the send when its context ends.
	Reply chan<- Reply
}

// Reply is the outcome of one Event.
type Reply struct {
	ID     string       // inserted document ID
	Index  ir.IndexSpec // declared index
	Result *Result      // run result
	Err    error
}

// eventQueue is a thread-safe FIFO queue for events.
//
// The queue is unbounded, so Enqueue never blocks a caller on a busy
// Serve loop.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the Serve loop.
type eventQueue struct {
	mu     sync.Mutex
	events []Event
	closed bool
	signal chan struct{} // Signals event availability (buffered, size 1)
}

// newEventQueue creates an empty event queue.
func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]Event, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an event to the back of the queue.
// Thread-safe: may be called from any goroutine.
// Returns false if the queue is closed.
func (q *eventQueue) Enqueue(e Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.events = append(q.events, e)

	// Signal availability (non-blocking - buffer of 1 coalesces multiple signals)
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue attempts to dequeue without blocking.
// Returns (Event{}, false) if queue is empty.
func (q *eventQueue) TryDequeue() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return Event{}, false
	}

	e := q.events[0]

	// Nil out the slot so the backing array does not pin the event's
	// document or query.
	q.events[0] = Event{}

	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}

	return e, true
}

// Wait returns a channel that signals when events may be available.
// Use with select for context-aware waiting:
//
//	select {
//	case <-ctx.Done():
//	    return ctx.Err()
//	case <-q.Wait():
//	    // Try TryDequeue
//	}
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Close signals that no more events will be enqueued.
// Wakes any blocked waiters by closing the signal channel.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}

// Enqueue submits an event for processing by the Serve loop.
// Thread-safe: may be called from any goroutine.
//
// Returns false if the engine has been stopped.
func (e *Engine) Enqueue(ev Event) bool {
	return e.queue.Enqueue(ev)
}

// Submit enqueues ev and waits for its reply.
// Thread-safe: may be called from any goroutine while Serve runs.
func (e *Engine) Submit(ctx context.Context, ev Event) (Reply, error) {
	reply := make(chan Reply, 1)
	ev.Reply = reply
	if !e.queue.Enqueue(ev) {
		return Reply{}, fmt.Errorf("submit %s: engine stopped", ev.Type)
	}
	select {
	case r := <-reply:
		return r, r.Err
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
}

// Serve runs the single-writer event loop.
// Blocks until context is cancelled or Stop() is called.
//
// CRITICAL: Must be called from exactly ONE goroutine. Every collection
// mutation, run and store write happens in this goroutine.
//
// A failing event is logged and reported on its Reply channel; the loop
// keeps going.
func (e *Engine) Serve(ctx context.Context) error {
	e.logger.Info("engine starting")

	for {
		event, ok := e.queue.TryDequeue()
		if ok {
			reply := e.processEvent(ctx, event)
			if reply.Err != nil {
				logEventError(e.logger, event, reply.Err)
			}
			if event.Reply != nil {
				select {
				case event.Reply <- reply:
				case <-ctx.Done():
				}
			}
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping: context cancelled")
			e.queue.Close()
			return ctx.Err()

		case <-e.queue.Wait():
			// The signal channel closes with the queue; an empty closed
			// queue ends the loop.
			if e.queue.Len() == 0 {
				e.logger.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop gracefully shuts down the engine.
// Closes the event queue, which will cause Serve() to return once the
// queued events are processed.
func (e *Engine) Stop() {
	e.queue.Close()
}

// processEvent routes an event to the appropriate handler.
// CRITICAL: Called only from Serve() goroutine - single-writer guarantee.
func (e *Engine) processEvent(ctx context.Context, event Event) Reply {
	switch event.Type {
	case EventTypeAddIndex:
		if event.Index == nil {
			return Reply{Err: fmt.Errorf("add_index event missing index spec")}
		}
		spec, err := e.AddIndex(ctx, *event.Index)
		return Reply{Index: spec, Err: err}

	case EventTypeInsert:
		if event.Document == nil {
			return Reply{Err: fmt.Errorf("insert event missing document")}
		}
		id, err := e.Insert(ctx, event.Namespace, event.Document)
		return Reply{ID: id, Err: err}

	case EventTypeRun:
		if event.Query == nil {
			return Reply{Err: fmt.Errorf("run event missing query")}
		}
		res, err := e.Run(ctx, *event.Query)
		return Reply{Result: res, Err: err}

	default:
		return Reply{Err: fmt.Errorf("unknown event type: %d", event.Type)}
	}
}

// logEventError logs a failed event with enough context to resubmit it.
func logEventError(logger *slog.Logger, event Event, err error) {
	attrs := []any{"event_type", event.Type.String(), "error", err}
	switch {
	case event.Index != nil:
		attrs = append(attrs, "ns", event.Index.Namespace, "index", event.Index.Name)
	case event.Query != nil:
		attrs = append(attrs, "ns", event.Query.Namespace)
	default:
		attrs = append(attrs, "ns", event.Namespace)
	}
	logger.Error("event processing failed", attrs...)
}
