package embworker

import (
	"context"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/emberql/emberql/plan"
)

// runPipeline builds a pull source for root and drains it into the task's
// output channel. A ShuffleWriteNode at the root is unwrapped first since
// it carries no compute of its own — it only names where the stage's
// output is going (spec.md §9 "opaque to every other operator").
func (rt *Runtime) runPipeline(ctx context.Context, root plan.Node, req RunTaskRequest) error {
	compute := root
	if sw, ok := root.(*plan.ShuffleWriteNode); ok {
		compute = sw.Child
	}

	src, err := rt.buildSource(ctx, compute, req)
	if err != nil {
		return err
	}
	return rt.drainToStore(ctx, src, root.Schema(), req)
}

// buildSource walks the plan fragment and returns a pull iterator over its
// rows. Filter/Project/Aggregate have no expression or aggregation engine
// behind them here — this runtime's job is the distributed execution
// plumbing (scheduling, shuffling, transport), not row-level expression
// evaluation, which spec.md §1 places with the (out of scope) optimizer and
// frontend. They pass their child's batches through unchanged; a real
// compute engine plugs in by replacing buildSource's cases.
func (rt *Runtime) buildSource(ctx context.Context, n plan.Node, req RunTaskRequest) (recordSource, error) {
	switch v := n.(type) {
	case *plan.ScanNode:
		return rt.scanner.Scan(ctx, v, req.Partition)
	case *plan.FilterNode:
		return rt.buildSource(ctx, v.Child, req)
	case *plan.ProjectNode:
		return rt.buildSource(ctx, v.Child, req)
	case *plan.AggregateNode:
		return rt.buildSource(ctx, v.Child, req)
	case *plan.ShuffleReadNode:
		return rt.shuffleReadSource(ctx, v, req)
	default:
		return nil, fmt.Errorf("embworker: node kind %s cannot be a pipeline input", n.Kind())
	}
}

// shuffleReadSource fans in every upstream producer channel in order,
// concatenating their batch streams, filtering by a batch-granularity
// stand-in for the real per-row hash/range partitioning (spec.md §1: key
// expression evaluation is frontend/optimizer territory this engine
// doesn't implement). A SingleConsumer read (coalesce) has exactly one
// downstream partition, so every batch is kept.
func (rt *Runtime) shuffleReadSource(ctx context.Context, n *plan.ShuffleReadNode, req RunTaskRequest) (recordSource, error) {
	idx := 0
	var cur *closableStream
	batchOrdinal := 0
	filtered := n.Partitioning.Kind() == plan.KindHash || n.Partitioning.Kind() == plan.KindRange
	numBuckets := n.Partitioning.NumPartitions()

	var next recordSource
	next = func() (arrow.Record, error) {
		for {
			if cur == nil {
				if idx >= len(req.Inputs) {
					return nil, io.EOF
				}
				in := req.Inputs[idx]
				idx++
				cc, err := rt.getConn(in.WorkerAddr)
				if err != nil {
					return nil, err
				}
				stream, err := rt.fetcher.Fetch(ctx, cc, in.Channel)
				if err != nil {
					return nil, fmt.Errorf("embworker: fetch %s@%s: %w", in.Channel, in.WorkerAddr, err)
				}
				cur = &closableStream{stream: stream}
			}

			rec, err := cur.stream.Next(ctx)
			if err == io.EOF {
				cur.stream.Close()
				cur = nil
				continue
			}
			if err != nil {
				return nil, err
			}

			if filtered && numBuckets > 0 {
				keep := batchOrdinal%numBuckets == req.Partition
				batchOrdinal++
				if !keep {
					rec.Release()
					continue
				}
			}
			return rec, nil
		}
	}
	return next, nil
}

// closableStream exists only so shuffleReadSource can close the current
// stream from inside the closure without exposing *embtransport.Stream's
// package directly in the switch above.
type closableStream struct {
	stream interface {
		Next(ctx context.Context) (arrow.Record, error)
		Close() error
	}
}

// drainToStore opens the task's output channel and appends every batch the
// source produces, the worker-side half of spec.md §4.2's open/append
// contract.
func (rt *Runtime) drainToStore(ctx context.Context, src recordSource, schema *arrow.Schema, req RunTaskRequest) error {
	w, err := rt.store.Open(req.OutputChannel, schema, req.Consumption)
	if err != nil {
		return fmt.Errorf("embworker: open output channel %s: %w", req.OutputChannel, err)
	}
	defer w.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		rec, err := src()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		appendErr := w.Append(rec)
		rec.Release()
		if appendErr != nil {
			return fmt.Errorf("embworker: append to %s: %w", req.OutputChannel, appendErr)
		}
	}
}
