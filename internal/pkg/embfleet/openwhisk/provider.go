// Package openwhisk implements a C6 fleet provider that runs the
// ember-worker binary as an Apache OpenWhisk action, reusing the teacher's
// corwhisk client unchanged (adapted from whisk.go's whiskExecutor).
package openwhisk

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/emberql/emberql/internal/pkg/corwhisk"
)

const defaultLaunchConcurrency = 16

// Provider runs ember-worker as an OpenWhisk action, one invocation per
// requested worker.
type Provider struct {
	client       *corwhisk.WhiskClient
	functionName string
	memory       int
	timeout      int
	concurrency  int64
}

type Config struct {
	FunctionName string
	Memory       int
	Timeout      int
	// MaxConcurrency bounds how many Invoke calls Launch issues in
	// flight at once. Zero uses defaultLaunchConcurrency.
	MaxConcurrency int64
}

func NewProvider(cfg Config) *Provider {
	concurrency := cfg.MaxConcurrency
	if concurrency <= 0 {
		concurrency = defaultLaunchConcurrency
	}
	return &Provider{
		client:       corwhisk.NewWhiskClient(),
		functionName: cfg.FunctionName,
		memory:       cfg.Memory,
		timeout:      cfg.Timeout,
		concurrency:  concurrency,
	}
}

// Deploy builds and registers the worker action, adapted from whisk.go's
// whiskExecutor.Deploy.
func (p *Provider) Deploy() error {
	return p.client.DeployFunction(corwhisk.WhiskFunctionConfig{
		FunctionName: p.functionName,
		Memory:       p.memory,
		Timeout:      p.timeout,
	})
}

func (p *Provider) Undeploy() error {
	return p.client.DeleteFunction(p.functionName)
}

// Launch fans invocations out up to MaxConcurrency at a time, the same
// weighted-semaphore bounding driver.go's runMapPhase applied to executor
// invocations.
func (p *Provider) Launch(driverAddr string, count int) error {
	sem := semaphore.NewWeighted(p.concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for i := 0; i < count; i++ {
		if err := sem.Acquire(context.Background(), 1); err != nil {
			return fmt.Errorf("openwhisk: acquire launch slot: %w", err)
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer sem.Release(1)
			if _, err := p.client.Invoke(p.functionName, map[string]string{"driver_addr": driverAddr}); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("openwhisk: invoke worker %d/%d: %w", i+1, count, err)
				}
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	return firstErr
}

// Terminate is a no-op for the same reason as the Lambda provider: an
// action's lifetime ends when its own invocation returns, driven by the
// worker's StopWorker RPC handler rather than an external signal.
func (p *Provider) Terminate(workerID uint64) error {
	log.Debugf("openwhisk: worker %d stop requested; relying on StopWorker RPC to end its own invocation", workerID)
	return nil
}
