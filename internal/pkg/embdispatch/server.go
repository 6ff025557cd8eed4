package embdispatch

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	log "github.com/sirupsen/logrus"

	"github.com/emberql/emberql"
	"github.com/emberql/emberql/internal/pkg/embtransport"
	"github.com/emberql/emberql/plan"
)

// operationState is the reattach buffer for one ExecutePlan operation: a
// growing, capacity-trimmed log of response frames, numbered from 1, that
// ExecutePlan and ReattachExecute both drain from — generalizing the
// teacher's activationLog single-shot handoff into a replayable multi-
// consumer log (spec.md §4.8 "Reattachability").
type operationState struct {
	mu     sync.Mutex
	buf    []*ExecutePlanResponse
	notify chan struct{}
	closed bool
	cap    int
	lastID uint64
	cancel context.CancelFunc
}

func newOperationState(capacity int) *operationState {
	if capacity <= 0 {
		capacity = 256
	}
	return &operationState{cap: capacity, notify: make(chan struct{})}
}

// publish appends one response frame, assigning it the next sequential
// response_id, and wakes any blocked subscribers.
func (s *operationState) publish(kind ResponseKind, payload []byte, code int32, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.lastID++
	resp := &ExecutePlanResponse{ResponseID: s.lastID, Kind: kind, BatchPayload: payload, ErrorCode: code, ErrorMessage: msg}
	s.buf = append(s.buf, resp)
	if len(s.buf) > s.cap {
		s.buf = s.buf[len(s.buf)-s.cap:]
	}
	if kind == RespDone || kind == RespError {
		s.closed = true
	}
	close(s.notify)
	s.notify = make(chan struct{})
}

// trimUntil discards buffered responses with response_id <= untilID,
// releasing their memory early (spec.md §4.8 ReleaseExecute "the client
// promises not to reattach before this point").
func (s *operationState) trimUntil(untilID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.buf) > 0 && s.buf[0].ResponseID <= untilID {
		s.buf = s.buf[1:]
	}
}

func (s *operationState) finish() {
	s.mu.Lock()
	already := s.closed
	s.mu.Unlock()
	if !already {
		s.publish(RespDone, nil, 0, "")
	}
}

// subscribe drains responses with response_id > afterID, blocking for new
// ones until the operation reaches a terminal frame or ctx is canceled.
func (s *operationState) subscribe(ctx context.Context, afterID uint64, send func(*ExecutePlanResponse) error) error {
	cursor := afterID
	for {
		s.mu.Lock()
		var next *ExecutePlanResponse
		if len(s.buf) > 0 {
			first := s.buf[0].ResponseID
			if cursor+1 < first {
				s.mu.Unlock()
				return fmt.Errorf("embdispatch: reattach cursor %d precedes buffered range starting at %d", cursor, first)
			}
			idx := int(cursor + 1 - first)
			if idx < len(s.buf) {
				next = s.buf[idx]
			}
		}
		if next == nil {
			if s.closed {
				s.mu.Unlock()
				return nil
			}
			wait := s.notify
			s.mu.Unlock()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-wait:
				continue
			}
		}
		s.mu.Unlock()

		if err := send(next); err != nil {
			return err
		}
		cursor = next.ResponseID
		if next.Kind == RespDone || next.Kind == RespError {
			return nil
		}
	}
}

type opKey struct {
	session emberql.SessionKey
	id      string
}

// Server implements DispatchServer (C8, spec.md §4.8), fronting a
// SessionManager: it decodes plans, submits them to the session's job
// runner, and relays each result partition's fetched batches back to the
// client as a response stream, buffering for reattach.
type Server struct {
	sessions *emberql.SessionManager
	cfg      *emberql.Config

	ops *lru.Cache
}

func NewServer(sessions *emberql.SessionManager, cfg *emberql.Config) (*Server, error) {
	ops, err := lru.NewWithEvict(4096, func(key interface{}, value interface{}) {
		if st, ok := value.(*operationState); ok && st.cancel != nil {
			st.cancel()
		}
	})
	if err != nil {
		return nil, err
	}
	return &Server{
		sessions: sessions,
		cfg:      cfg,
		ops:      ops,
	}, nil
}

func toSessionKey(dto SessionKeyDTO) emberql.SessionKey {
	return emberql.SessionKey{UserID: dto.UserID, SessionID: dto.SessionID}
}

func errResponse(operationID string, code emberql.Code, err error) *ExecutePlanResponse {
	return &ExecutePlanResponse{OperationID: operationID, Kind: RespError, ErrorCode: int32(code), ErrorMessage: err.Error()}
}

// ExecutePlan is spec.md §4.8 ExecutePlan: decode, submit, stream.
func (s *Server) ExecutePlan(req *ExecutePlanRequest, stream Dispatch_ExecutePlanServer) error {
	key := toSessionKey(req.Session)
	sess := s.sessions.GetOrCreate(key)
	sess.TrackActivity()

	root, err := plan.Decode(req.PlanBytes)
	if err != nil {
		return stream.Send(errResponse(req.OperationID, emberql.InvalidPlan, err))
	}

	operationID := req.OperationID
	if operationID == "" {
		operationID = uuid.NewString()
	}

	var prodCtx context.Context
	var cancel context.CancelFunc
	if req.Reattachable {
		prodCtx, cancel = context.WithCancel(context.Background())
	} else {
		prodCtx, cancel = context.WithCancel(stream.Context())
	}

	state := newOperationState(s.cfg.ReattachBufferCapacity)
	state.cancel = cancel
	k := opKey{session: key, id: operationID}
	s.ops.Add(k, state)
	sess.AddOperation(operationID)

	sink := make(chan []emberql.ResultPartition, 1)
	jobID, err := sess.Runner.SubmitJob(root, sink)
	if err != nil {
		cancel()
		s.ops.Remove(k)
		sess.RemoveOperation(operationID)
		return stream.Send(errResponse(operationID, emberql.InvalidPlan, err))
	}

	go s.runHeartbeat(prodCtx, state)
	go s.runProduction(prodCtx, state, sess, jobID, sink)

	err = state.subscribe(stream.Context(), 0, func(r *ExecutePlanResponse) error {
		out := *r
		out.OperationID = operationID
		return stream.Send(&out)
	})

	if !req.Reattachable {
		cancel()
		s.ops.Remove(k)
		sess.RemoveOperation(operationID)
	}
	return err
}

// ReattachExecute resumes an in-flight or buffered operation from
// LastResponseID (spec.md §4.8 "Reattachability").
func (s *Server) ReattachExecute(req *ReattachExecuteRequest, stream Dispatch_ReattachExecuteServer) error {
	key := toSessionKey(req.Session)
	sess := s.sessions.GetOrCreate(key)
	sess.TrackActivity()

	k := opKey{session: key, id: req.OperationID}
	v, ok := s.ops.Get(k)
	if !ok {
		return fmt.Errorf("embdispatch: no such operation %q to reattach to", req.OperationID)
	}
	state := v.(*operationState)

	var afterID uint64
	if req.HasLastResponseID {
		afterID = req.LastResponseID
	}
	return state.subscribe(stream.Context(), afterID, func(r *ExecutePlanResponse) error {
		out := *r
		out.OperationID = req.OperationID
		return stream.Send(&out)
	})
}

// AnalyzePlan decodes a plan without executing it and describes its output
// schema and operator tree (spec.md §4.8 AnalyzePlan).
func (s *Server) AnalyzePlan(ctx context.Context, req *AnalyzePlanRequest) (*AnalyzePlanResponse, error) {
	root, err := plan.Decode(req.PlanBytes)
	if err != nil {
		return nil, err
	}
	return &AnalyzePlanResponse{
		Fields:  fieldDescriptors(root),
		Explain: explain(root),
	}, nil
}

// Config reads a session's config snapshot (spec.md §4.8 Config). Only
// execution.mode, execution.batch_size and cluster.worker_max_count
// resolve. Set entries are not applied: each is logged and answered with
// the key's current value.
func (s *Server) Config(ctx context.Context, req *ConfigRequest) (*ConfigResponse, error) {
	key := toSessionKey(req.Session)
	sess := s.sessions.GetOrCreate(key)
	sess.TrackActivity()

	values := make(map[string]string)
	for _, k := range req.GetKeys {
		if v, ok := configValue(sess.Config, k); ok {
			values[k] = v
		}
	}
	for k := range req.Set {
		log.Debugf("embdispatch: Config set for %s/%s ignored, session config is cluster-wide and read-only", key.UserID, key.SessionID)
		if v, ok := configValue(sess.Config, k); ok {
			values[k] = v
		}
	}
	return &ConfigResponse{Values: values}, nil
}

func configValue(cfg *emberql.Config, key string) (string, bool) {
	switch key {
	case "execution.mode":
		return string(cfg.ExecutionMode), true
	case "execution.batch_size":
		return fmt.Sprintf("%d", cfg.BatchSize), true
	case "cluster.worker_max_count":
		return fmt.Sprintf("%d", cfg.WorkerMaxCount), true
	default:
		return "", false
	}
}

// Interrupt cancels a running operation's production loop (spec.md §4.8
// Interrupt).
func (s *Server) Interrupt(ctx context.Context, req *InterruptRequest) (*InterruptResponse, error) {
	key := toSessionKey(req.Session)
	k := opKey{session: key, id: req.OperationID}
	v, ok := s.ops.Get(k)
	if !ok {
		return &InterruptResponse{Interrupted: false}, nil
	}
	state := v.(*operationState)
	if state.cancel != nil {
		state.cancel()
	}
	return &InterruptResponse{Interrupted: true}, nil
}

// ReleaseExecute drops buffered responses up to UntilResponseID and, once
// the operation is terminal, forgets it (spec.md §4.8 ReleaseExecute).
func (s *Server) ReleaseExecute(ctx context.Context, req *ReleaseExecuteRequest) (*ReleaseExecuteResponse, error) {
	key := toSessionKey(req.Session)
	k := opKey{session: key, id: req.OperationID}
	if v, ok := s.ops.Get(k); ok {
		state := v.(*operationState)
		state.trimUntil(req.UntilResponseID)
		state.mu.Lock()
		closed := state.closed
		state.mu.Unlock()
		if closed {
			s.ops.Remove(k)
			if sess := s.sessions.GetOrCreate(key); sess != nil {
				sess.RemoveOperation(req.OperationID)
			}
		}
	}
	return &ReleaseExecuteResponse{}, nil
}

// ReleaseSession tears the session down entirely (spec.md §4.8
// ReleaseSession).
func (s *Server) ReleaseSession(ctx context.Context, req *ReleaseSessionRequest) (*ReleaseSessionResponse, error) {
	s.sessions.ReleaseSession(toSessionKey(req.Session))
	return &ReleaseSessionResponse{}, nil
}

func (s *Server) runHeartbeat(ctx context.Context, state *operationState) {
	interval := s.cfg.ReattachHeartbeat
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			state.publish(RespHeartbeat, nil, 0, "")
		}
	}
}

// runProduction drives one job to completion, relaying each result
// partition's batches into state as they're fetched (spec.md §4.5
// "Fetching the actual channel contents is the dispatcher's job").
func (s *Server) runProduction(ctx context.Context, state *operationState, sess *emberql.Session, jobID emberql.JobID, sink chan []emberql.ResultPartition) {
	defer state.finish()

	select {
	case partitions, ok := <-sink:
		if !ok || partitions == nil {
			st, jerr, found := sess.Runner.JobStatus(jobID)
			switch {
			case found && st == emberql.JobFailed:
				state.publish(RespError, nil, int32(emberql.Internal), jerr.Error())
			case found && st == emberql.JobCanceled:
				state.publish(RespError, nil, int32(emberql.Canceled), "job canceled")
			}
			return
		}
		for _, part := range partitions {
			if err := s.relayPartition(ctx, state, part); err != nil {
				state.publish(RespError, nil, int32(emberql.UpstreamLost), err.Error())
				return
			}
			if ctx.Err() != nil {
				return
			}
		}
	case <-ctx.Done():
		_ = sess.Runner.CancelJob(jobID)
	}
}

func (s *Server) relayPartition(ctx context.Context, state *operationState, part emberql.ResultPartition) error {
	cc, err := embtransport.Dial(part.WorkerAddr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", part.WorkerAddr, err)
	}
	defer cc.Close()

	client := embtransport.NewDataPlaneClient(cc)
	fetchStream, err := client.Fetch(ctx, &embtransport.Ticket{Channel: part.Channel})
	if err != nil {
		return fmt.Errorf("fetch %s: %w", part.Channel, err)
	}

	for {
		frame, err := fetchStream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if frame.Kind == embtransport.FrameEnd {
			return nil
		}
		state.publish(RespBatch, frame.Payload, 0, "")
	}
}
