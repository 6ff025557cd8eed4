// Package embfleet implements the C6 worker fleet manager (spec.md §4.6):
// the pluggable provider that provisions and reaps workers, enforcing
// worker_min_count/worker_max_count so the scheduler (C5) never has to.
//
// Adapted from the teacher's platform executors (lambda.go's lambdaExecutor,
// whisk.go's whiskExecutor), which implement a `Deploy`/`Start`/`Undeploy`
// triple keyed to a single FaaS invocation model. Here the fleet is long-
// lived workers rather than per-task invocations, so the contract collapses
// to spec.md's two operations, `ScaleUp`/`Stop`.
package embfleet

import (
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Provider is the raw, unbounded half of C6: something that can actually
// start or stop a worker process. BoundedProvider wraps one of these with
// worker_min_count/worker_max_count enforcement.
type Provider interface {
	// Launch starts count additional workers, each told to register back
	// at driverAddr. Best-effort: may return before any worker has
	// actually registered (spec.md §4.6 "never assumes success
	// synchronously").
	Launch(driverAddr string, count int) error
	// Terminate initiates a graceful stop of the worker identified by
	// workerID.
	Terminate(workerID uint64) error
}

// BoundedProvider adapts a Provider to emberql.FleetProvider, the interface
// the scheduler actually depends on, enforcing the min/max bounds spec.md
// §4.6 assigns to C6 rather than C5 ("C5 only asks; C6 enforces").
type BoundedProvider struct {
	mu sync.Mutex

	provider   Provider
	driverAddr string
	min        int
	max        int
	live       int
}

// NewBoundedProvider wraps provider with worker_min_count/worker_max_count
// enforcement. driverAddr is the address new workers are told to register
// against (spec.md §4.6 "passing the driver's bind address").
func NewBoundedProvider(provider Provider, driverAddr string, min, max int) *BoundedProvider {
	return &BoundedProvider{
		provider:   provider,
		driverAddr: driverAddr,
		min:        min,
		max:        max,
	}
}

// ScaleUp launches enough workers to bring the live count up to at least
// minWorkers, capped at worker_max_count. A request that would exceed the
// cap launches workers up to the cap and returns an error describing the
// shortfall, rather than silently under-provisioning.
func (p *BoundedProvider) ScaleUp(minWorkers int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	target := minWorkers
	if target < p.min {
		target = p.min
	}
	if target > p.max {
		target = p.max
	}
	need := target - p.live
	if need <= 0 {
		return nil
	}
	if err := p.provider.Launch(p.driverAddr, need); err != nil {
		return fmt.Errorf("embfleet: launch %d workers: %w", need, err)
	}
	p.live += need
	if target < minWorkers {
		return fmt.Errorf("embfleet: requested %d workers, launched %d (worker_max_count=%d)", minWorkers, need, p.max)
	}
	return nil
}

// Stop reaps workerID, refusing to go below worker_min_count on idle
// reclamation pressure (spec.md §4.6).
func (p *BoundedProvider) Stop(workerID uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.live <= p.min {
		log.Debugf("embfleet: refusing to stop worker %d, at worker_min_count=%d", workerID, p.min)
		return nil
	}
	if err := p.provider.Terminate(workerID); err != nil {
		return err
	}
	p.live--
	return nil
}
