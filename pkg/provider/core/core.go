// Package core defines the provider contract every Strata backend adapter
// implements: lifecycle, the DataInput capability (resumable reads) and the
// DataOutput capability (ordered chunked writes).
//
// # Resumable reads
//
// Read returns a stream of (item, position) pairs. The position attached to
// an item is the cursor to resume from after that item: replaying Read with
// it yields exactly the remaining items, with no gaps and no duplicates under
// a fixed backend snapshot. Positions are plain serializable values — they
// carry only positional state, never fetch counts — so callers can persist
// them across process restarts.
//
// A stream is single-consumer: only one logical cursor walks it at a time.
// Abandon a stream by cancelling the context passed to Read; the provider
// stays usable for future reads.
//
// # Chunked writes
//
// Write accepts an ordered item slice and issues one native bulk call per
// chunk of at most the configured batch size, in order. Empty input is a
// no-op. There is no cross-chunk atomicity: if chunk k fails, chunks before k
// are already committed and the call surfaces the wrapped backend error.
// Whether retrying the whole write is safe depends on per-item idempotency
// (true for upsert-style vector and object writes, not guaranteed for
// relational inserts).
package core

import (
	"context"
)

// Family identifies the backend family a provider belongs to.
type Family string

const (
	FamilyObject     Family = "object"
	FamilyRelational Family = "relational"
	FamilyVector     Family = "vector"
	FamilyDocument   Family = "document"
	FamilyMessage    Family = "message"
)

// Provider is a connected handle to one external backend instance, scoped to
// one target (bucket, table, collection, topic). Providers are created by the
// adapter package's Connect function and destroyed by Close.
type Provider interface {
	// Name returns the provider's registered name (e.g. "postgres").
	Name() string
	// Family returns the backend family.
	Family() Family
	// Ping verifies the underlying connection is usable.
	Ping(ctx context.Context) error
	// Close releases the underlying client or pool. Idempotent; the handle
	// must not be reused afterwards.
	Close(ctx context.Context) error
}

// Pair couples an item with the position to resume from after consuming it.
type Pair[T, P any] struct {
	Item     T
	Position P
}

// Stream is a lazy sequence of (item, position) pairs produced by a read.
// Items is closed when the backend reports no more data; a mid-stream backend
// error is delivered on Errors and terminates the sequence. Both channels are
// closed when the stream ends for any reason.
type Stream[T, P any] struct {
	Items  <-chan Pair[T, P]
	Errors <-chan error
}

// DataInput is the resumable-read capability. T is the family item type and
// P the family position type.
type DataInput[T, P any] interface {
	Read(ctx context.Context, pos P) (*Stream[T, P], error)
}

// DataOutput is the batched-write capability.
type DataOutput[T any] interface {
	Write(ctx context.Context, items []T) error
}

// Emitter is the producing side of a Stream. Adapters drive it from a
// goroutine: Send for each item, Fail on a mid-stream error, Close when the
// backend reports end-of-data.
type Emitter[T, P any] struct {
	items  chan Pair[T, P]
	errors chan error
}

// NewStream creates a stream and its emitter. buffer sizes the item channel;
// the error channel always has capacity one.
func NewStream[T, P any](buffer int) (*Stream[T, P], *Emitter[T, P]) {
	if buffer <= 0 {
		buffer = 1
	}
	e := &Emitter[T, P]{
		items:  make(chan Pair[T, P], buffer),
		errors: make(chan error, 1),
	}
	return &Stream[T, P]{Items: e.items, Errors: e.errors}, e
}

// Send delivers one pair, honoring cancellation. Returns false when ctx is
// done, in which case the producer should stop.
func (e *Emitter[T, P]) Send(ctx context.Context, item T, pos P) bool {
	select {
	case e.items <- Pair[T, P]{Item: item, Position: pos}:
		return true
	case <-ctx.Done():
		return false
	}
}

// Fail reports a mid-stream error. At most one error is delivered per stream.
func (e *Emitter[T, P]) Fail(err error) {
	if err == nil {
		return
	}
	select {
	case e.errors <- err:
	default:
	}
}

// Close ends the stream. Must be called exactly once, after all Send/Fail
// calls.
func (e *Emitter[T, P]) Close() {
	close(e.items)
	close(e.errors)
}
