package embshuffle

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/emberql/emberql/plan"
)

// DefaultMaxBatches bounds how many un-consumed batches a channel buffers
// before Append blocks, the in-memory analogue of corcache.LocalCache's
// eviction-by-capacity policy (internal/pkg/corcache/local.go).
const DefaultMaxBatches = 64

type channelEntry struct {
	mu          sync.Mutex
	schema      *arrow.Schema
	consumption plan.ConsumptionMode
	maxBatches  int
	batches     []arrow.Record
	consumed    int // furthest cursor any reader has reached
	closed      bool
	released    bool
	readers     int32
	ready       chan struct{}
}

func newChannelEntry(schema *arrow.Schema, consumption plan.ConsumptionMode, maxBatches int) *channelEntry {
	return &channelEntry{
		schema:      schema,
		consumption: consumption,
		maxBatches:  maxBatches,
		ready:       make(chan struct{}),
	}
}

// signal wakes every waiter blocked on the current ready channel. Caller
// must hold c.mu.
func (c *channelEntry) signal() {
	close(c.ready)
	c.ready = make(chan struct{})
}

// MemoryStore is the default Store backend: channels live in process
// memory, bounded by batch count. Adapted from corcache.LocalCache, which
// held MapReduce intermediate files in a bounded in-process map; here the
// unit is a record batch rather than a file.
type MemoryStore struct {
	mu       sync.RWMutex
	channels map[string]*channelEntry
	maxBatch int
}

func NewMemoryStore(maxBatches int) *MemoryStore {
	if maxBatches <= 0 {
		maxBatches = DefaultMaxBatches
	}
	return &MemoryStore{
		channels: make(map[string]*channelEntry),
		maxBatch: maxBatches,
	}
}

func (s *MemoryStore) Open(channel string, schema *arrow.Schema, consumption plan.ConsumptionMode) (Writer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.channels[channel]; exists {
		return nil, ErrChannelExists
	}
	entry := newChannelEntry(schema, consumption, s.maxBatch)
	s.channels[channel] = entry
	return &memWriter{entry: entry}, nil
}

func (s *MemoryStore) Subscribe(channel string) (Reader, error) {
	s.mu.RLock()
	entry, exists := s.channels[channel]
	s.mu.RUnlock()
	if !exists {
		return nil, ErrChannelNotFound
	}
	atomic.AddInt32(&entry.readers, 1)
	return &memReader{entry: entry, store: s, channel: channel}, nil
}

func (s *MemoryStore) Release(channel string) error {
	s.mu.Lock()
	entry, exists := s.channels[channel]
	if exists {
		delete(s.channels, channel)
	}
	s.mu.Unlock()
	if !exists {
		return nil
	}
	entry.mu.Lock()
	entry.released = true
	entry.signal()
	entry.mu.Unlock()
	return nil
}

type memWriter struct {
	entry *channelEntry
}

func (w *memWriter) Append(rec arrow.Record) error {
	e := w.entry
	e.mu.Lock()
	for len(e.batches)-e.consumed >= e.maxBatches && !e.released && !e.closed {
		waitCh := e.ready
		e.mu.Unlock()
		<-waitCh
		e.mu.Lock()
	}
	if e.released {
		e.mu.Unlock()
		return ErrReleased
	}
	rec.Retain()
	e.batches = append(e.batches, rec)
	e.signal()
	e.mu.Unlock()
	return nil
}

func (w *memWriter) Close() error {
	e := w.entry
	e.mu.Lock()
	e.closed = true
	e.signal()
	e.mu.Unlock()
	return nil
}

type memReader struct {
	entry   *channelEntry
	store   *MemoryStore
	channel string
	cursor  int
	closed  bool
}

func (r *memReader) Next(ctx context.Context) (arrow.Record, error) {
	e := r.entry
	e.mu.Lock()
	for r.cursor >= len(e.batches) {
		if e.released {
			e.mu.Unlock()
			return nil, ErrReleased
		}
		if e.closed {
			e.mu.Unlock()
			r.onDrained()
			return nil, io.EOF
		}
		waitCh := e.ready
		e.mu.Unlock()
		select {
		case <-waitCh:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		e.mu.Lock()
	}
	rec := e.batches[r.cursor]
	r.cursor++
	if r.cursor > e.consumed {
		e.consumed = r.cursor
		e.signal()
	}
	e.mu.Unlock()
	rec.Retain()
	return rec, nil
}

// onDrained auto-releases single-consumer channels once their sole reader
// has reached end-of-stream (spec.md §4.2: "single-consumer channels
// release automatically when the one reader finishes").
func (r *memReader) onDrained() {
	if r.entry.consumption != plan.SingleConsumerMode {
		return
	}
	if atomic.LoadInt32(&r.entry.readers) <= 1 {
		_ = r.store.Release(r.channel)
	}
}

func (r *memReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	atomic.AddInt32(&r.entry.readers, -1)
	return nil
}
