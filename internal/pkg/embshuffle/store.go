// Package embshuffle implements the per-worker shuffle store (spec.md
// §4.2, component C2): a map from channel name to an append-only batch
// log, single-writer-per-channel, with single- or multi-consumer reads
// depending on the owning stage's consumption mode.
//
// Adapted from the teacher's internal/pkg/corcache: corcache.CacheSystem
// was an ephemeral filesystem-shaped cache between MapReduce phases;
// Store keeps the same "ephemeral intermediate state" role but the
// contract is now open/append/subscribe/release over typed record
// batches instead of a FileSystem's byte streams.
package embshuffle

import (
	"context"
	"errors"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/emberql/emberql/plan"
)

var (
	ErrChannelExists   = errors.New("embshuffle: channel already open")
	ErrChannelNotFound = errors.New("embshuffle: channel not found")
	ErrReleased        = errors.New("embshuffle: channel released")
)

// Writer is the single-writer-per-channel producer handle (spec.md §4.2
// "open" operation result).
type Writer interface {
	// Append blocks while downstream backpressure is engaged.
	Append(rec arrow.Record) error
	// Close marks end-of-stream; readers observing backpressure wake and
	// observe end.
	Close() error
}

// Reader is a subscriber handle. Multi-consumer channels hand out
// independent readers, each seeing the full append-ordered sequence.
type Reader interface {
	// Next returns io.EOF once the writer has closed and this reader has
	// drained every batch, or ErrReleased if the channel was released
	// while this reader was still behind.
	Next(ctx context.Context) (arrow.Record, error)
	Close() error
}

// Store is the per-worker shuffle buffer contract.
type Store interface {
	Open(channel string, schema *arrow.Schema, consumption plan.ConsumptionMode) (Writer, error)
	Subscribe(channel string) (Reader, error)
	Release(channel string) error
}
