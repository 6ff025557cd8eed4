package embworker

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/emberql/emberql/internal/pkg/embshuffle"
	"github.com/emberql/emberql/internal/pkg/embtransport"
)

// DataPlaneServer serves fetch/release for this worker's locally-hosted
// shuffle channels (component C1's worker-side endpoint, spec.md §4.1),
// backed by the same embshuffle.Store the Runtime writes task output into.
type DataPlaneServer struct {
	store embshuffle.Store
}

func NewDataPlaneServer(store embshuffle.Store) *DataPlaneServer {
	return &DataPlaneServer{store: store}
}

// Fetch streams channel's batches in append order, framed exactly as
// embtransport.Stream expects to decode them: a schema-carrying frame
// derived from the first record, then one frame per later batch, then
// FrameEnd.
func (s *DataPlaneServer) Fetch(t *embtransport.Ticket, stream embtransport.DataPlane_FetchServer) error {
	ctx := stream.Context()
	reader, err := s.store.Subscribe(t.Channel)
	if err != nil {
		if errors.Is(err, embshuffle.ErrChannelNotFound) {
			return status.Error(codes.NotFound, err.Error())
		}
		return status.Error(codes.Internal, err.Error())
	}
	defer reader.Close()

	var enc *frameEncoder
	for {
		rec, err := reader.Next(ctx)
		if err == io.EOF {
			return stream.Send(&embtransport.BatchFrame{Kind: embtransport.FrameEnd})
		}
		if errors.Is(err, embshuffle.ErrReleased) {
			return status.Error(codes.Unavailable, err.Error())
		}
		if err != nil {
			return status.Error(codes.Internal, err.Error())
		}

		if enc == nil {
			enc = newFrameEncoder(rec.Schema())
		}
		frame, encErr := enc.encode(rec)
		rec.Release()
		if encErr != nil {
			return status.Error(codes.Internal, encErr.Error())
		}
		if err := stream.Send(&embtransport.BatchFrame{Kind: embtransport.FrameBatch, Payload: frame}); err != nil {
			return err
		}
	}
}

// Release drops a locally-hosted channel (spec.md §6 RemoveStream's
// worker-side counterpart, reused directly since the contract is
// identical: idempotent, releases waiting readers).
func (s *DataPlaneServer) Release(ctx context.Context, req *embtransport.ReleaseRequest) (*embtransport.ReleaseResponse, error) {
	if err := s.store.Release(req.Channel); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &embtransport.ReleaseResponse{}, nil
}

// frameEncoder mirrors embtransport's unexported frameWriter: same
// incremental-bytes-since-last-write trick over an arrow/ipc.Writer, kept
// as a small local copy since frameWriter isn't exported outside its
// package.
type frameEncoder struct {
	buf *bytes.Buffer
	w   *ipc.Writer
}

func newFrameEncoder(schema *arrow.Schema) *frameEncoder {
	buf := &bytes.Buffer{}
	return &frameEncoder{
		buf: buf,
		w:   ipc.NewWriter(buf, ipc.WithSchema(schema), ipc.WithAllocator(memory.DefaultAllocator)),
	}
}

func (e *frameEncoder) encode(rec arrow.Record) ([]byte, error) {
	before := e.buf.Len()
	if err := e.w.Write(rec); err != nil {
		return nil, err
	}
	out := make([]byte, e.buf.Len()-before)
	copy(out, e.buf.Bytes()[before:])
	e.buf.Truncate(before)
	return out, nil
}
