package embworker

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// HeartbeatSink delivers this worker's liveness to the driver (spec.md §6
// ReportWorkerHeartbeat); a concrete client lives in internal/pkg/embcontrol.
type HeartbeatSink interface {
	ReportHeartbeat(ctx context.Context, workerID uint64) error
}

// RunHeartbeatLoop ticks every interval until ctx is canceled, the worker
// side of spec.md §4.3/§4.5's heartbeat contract ("a worker that stops
// heartbeating is presumed lost after worker_loss_threshold"). Errors are
// logged and swallowed — a single missed heartbeat isn't fatal, repeated
// ones are the driver's problem to detect, not this loop's to retry
// specially.
func RunHeartbeatLoop(ctx context.Context, workerID uint64, sink HeartbeatSink, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := sink.ReportHeartbeat(ctx, workerID); err != nil {
				log.Warnf("embworker: heartbeat report failed: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}
