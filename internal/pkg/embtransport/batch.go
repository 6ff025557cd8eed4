// Package embtransport implements the columnar stream transport (spec.md
// §4.1, component C1): a pull-based record-batch stream between
// driver/worker and worker/worker, with backpressure and prompt
// cancellation.
package embtransport

import (
	"bytes"
	"context"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// frameWriter turns a sequence of arrow.Record writes into a sequence of
// self-contained wire frames: the first frame carries the schema message,
// every later frame carries exactly one batch message, matching spec.md
// §4.1 "the schema is sent once at stream start... streams are chunked to
// permit incremental consumption".
type frameWriter struct {
	buf *bytes.Buffer
	w   *ipc.Writer
}

func newFrameWriter(schema *arrow.Schema) *frameWriter {
	buf := &bytes.Buffer{}
	return &frameWriter{
		buf: buf,
		w:   ipc.NewWriter(buf, ipc.WithSchema(schema), ipc.WithAllocator(memory.DefaultAllocator)),
	}
}

// WriteRecord appends one record and returns only the bytes newly produced
// since the last call (the schema message is folded into the first
// frame's bytes automatically, since ipc.Writer emits it lazily on the
// first Write).
func (fw *frameWriter) WriteRecord(rec arrow.Record) ([]byte, error) {
	before := fw.buf.Len()
	if err := fw.w.Write(rec); err != nil {
		return nil, err
	}
	out := make([]byte, fw.buf.Len()-before)
	copy(out, fw.buf.Bytes()[before:])
	fw.buf.Truncate(before)
	return out, nil
}

func (fw *frameWriter) Close() error {
	return fw.w.Close()
}

// Stream is the consumer-facing handle returned by fetch(channel): a
// finite lazy sequence of record batches in production order, followed by
// end-of-stream (spec.md §4.1 contract).
type Stream struct {
	pr      *io.PipeReader
	pw      *io.PipeWriter
	records chan arrow.Record
	errCh   chan error
	done    chan struct{}
}

// NewStream starts the background decode pump. Frames fed via Feed are
// piped into an arrow/ipc.Reader running in its own goroutine; decoded
// records are handed to the consumer over a small buffered channel, which
// is the transport's backpressure point (spec.md §4.1 "Flow control":
// buffer depth is configurable, default tens of batches).
func NewStream(bufferDepth int) *Stream {
	pr, pw := io.Pipe()
	s := &Stream{
		pr:      pr,
		pw:      pw,
		records: make(chan arrow.Record, bufferDepth),
		errCh:   make(chan error, 1),
		done:    make(chan struct{}),
	}
	go s.pump()
	return s
}

func (s *Stream) pump() {
	defer close(s.done)
	rr, err := ipc.NewReader(s.pr, ipc.WithAllocator(memory.DefaultAllocator))
	if err != nil {
		s.errCh <- err
		close(s.records)
		return
	}
	defer rr.Release()
	for rr.Next() {
		rec := rr.Record()
		rec.Retain()
		s.records <- rec
	}
	if err := rr.Err(); err != nil && err != io.EOF {
		s.errCh <- err
	}
	close(s.records)
}

// Feed appends one wire frame (as produced by frameWriter.WriteRecord) to
// the stream. It blocks if the consumer hasn't drained the buffer — the
// producer-side half of pull-based backpressure.
func (s *Stream) Feed(frame []byte) error {
	_, err := s.pw.Write(frame)
	return err
}

// CloseFeed marks production complete; the next Next() call observes
// end-of-stream once buffered records are drained.
func (s *Stream) CloseFeed() error {
	return s.pw.Close()
}

// FailFeed aborts the stream with cause, matching spec.md §4.1 "If the
// producer worker is lost mid-stream, the fetch fails with Unavailable".
func (s *Stream) FailFeed(cause error) error {
	return s.pw.CloseWithError(cause)
}

// Next returns the next batch, or io.EOF once the stream has ended
// cleanly, or the original production-side error otherwise.
func (s *Stream) Next(ctx context.Context) (arrow.Record, error) {
	select {
	case rec, ok := <-s.records:
		if !ok {
			select {
			case err := <-s.errCh:
				return nil, err
			default:
				return nil, io.EOF
			}
		}
		return rec, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close cancels the stream promptly, releasing producer resources — the
// consumer-initiated half of spec.md §4.1's cancellation requirement.
func (s *Stream) Close() error {
	_ = s.pr.CloseWithError(context.Canceled)
	<-s.done
	return nil
}
