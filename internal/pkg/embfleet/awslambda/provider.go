// Package awslambda implements a C6 fleet provider that runs the
// ember-worker binary as an AWS Lambda function, reusing the teacher's
// corlambda/coriam clients unchanged. This is the "externally orchestrated"
// case of spec.md §4.6: the orchestrator is AWS Lambda itself, and each
// Launch call invokes the function once per requested worker, the same way
// lambda.go's lambdaExecutor.RunMapper invoked one function call per map
// task — here one invocation runs one worker's lifetime instead of one
// task's.
package awslambda

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/emberql/emberql/internal/pkg/corbuild"
	"github.com/emberql/emberql/internal/pkg/coriam"
	"github.com/emberql/emberql/internal/pkg/corlambda"
)

const defaultLaunchConcurrency = 16

const functionRoleName = "EmberqlWorkerExecutionRole"

// workerInvocation is the payload handed to the Lambda-hosted worker
// binary, telling it which driver to register against — the Lambda
// analogue of embfleet.LocalProcessProvider's EMBER_DRIVER_ADDR env var,
// since Lambda invocation payloads (not env vars) are how this teacher
// convention passes per-invocation arguments (lambda.go's `task` payload).
type workerInvocation struct {
	DriverAddr string `json:"driver_addr"`
}

// Provider runs ember-worker as an AWS Lambda function.
type Provider struct {
	lambda       *corlambda.LambdaClient
	iam          *coriam.IAMClient
	functionName string
	roleARN      string
	manageRole   bool
	timeout      int64
	memory       int64
	concurrency  int64
}

type Config struct {
	FunctionName string
	ManageRole   bool
	RoleARN      string
	Timeout      int64
	MemorySize   int64
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
		lambda:       corlambda.NewLambdaClient(),
		iam:          coriam.NewIAMClient(),
		functionName: cfg.FunctionName,
		roleARN:      cfg.RoleARN,
		manageRole:   cfg.ManageRole,
		timeout:      cfg.Timeout,
		memory:       cfg.MemorySize,
		concurrency:  concurrency,
	}
}

// Deploy builds the current module as a Lambda deployment package and
// creates/updates the function, adapted from lambda.go's
// lambdaExecutor.Deploy.
func (p *Provider) Deploy() error {
	if hash, err := corbuild.CodeHash("."); err == nil {
		log.Debugf("awslambda: deploying source tree %s", hash)
	} else {
		log.Debugf("awslambda: code hash unavailable: %+v", err)
	}

	roleARN := p.roleARN
	if p.manageRole {
		var err error
		roleARN, err = p.iam.DeployPermissions(functionRoleName)
		if err != nil {
			return fmt.Errorf("awslambda: deploy permissions: %w", err)
		}
	}
	return p.lambda.DeployFunction(&corlambda.FunctionConfig{
		Name:       p.functionName,
		RoleARN:    roleARN,
		Timeout:    p.timeout,
		MemorySize: p.memory,
	})
}

// Undeploy tears the function and its managed IAM role down, adapted from
// lambda.go's lambdaExecutor.Undeploy.
func (p *Provider) Undeploy() error {
	if err := p.lambda.DeleteFunction(p.functionName); err != nil {
		log.Errorf("awslambda: delete function: %+v", err)
	}
	if p.manageRole {
		if err := p.iam.DeletePermissions(functionRoleName); err != nil {
			return fmt.Errorf("awslambda: delete permissions: %w", err)
		}
	}
	return nil
}

// Launch invokes the worker function once per requested worker, fanning
// invocations out up to MaxConcurrency at a time rather than one at a
// time — adapted from driver.go's runMapPhase, which bounded concurrent
// executor invocations the same way with a weighted semaphore. Each
// invocation's worker process runs until the driver stops it or Lambda's
// own execution timeout elapses.
func (p *Provider) Launch(driverAddr string, count int) error {
	payload, err := json.Marshal(workerInvocation{DriverAddr: driverAddr})
	if err != nil {
		return err
	}

	sem := semaphore.NewWeighted(p.concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for i := 0; i < count; i++ {
		if err := sem.Acquire(context.Background(), 1); err != nil {
			return fmt.Errorf("awslambda: acquire launch slot: %w", err)
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer sem.Release(1)
			if _, err := p.lambda.Invoke(p.functionName, payload); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("awslambda: invoke worker %d/%d: %w", i+1, count, err)
				}
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	return firstErr
}

// Terminate is a no-op: a Lambda-hosted worker's lifetime is bounded by
// its own invocation, not by an external kill signal, so graceful stop is
// the worker's StopWorker RPC handler returning rather than anything this
// provider can initiate from outside.
func (p *Provider) Terminate(workerID uint64) error {
	log.Debugf("awslambda: worker %d stop requested; relying on StopWorker RPC to end its own invocation", workerID)
	return nil
}
