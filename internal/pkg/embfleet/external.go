package embfleet

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

// MaxLaunchRetries mirrors corlambda.MaxLambdaRetries / corwhisk.MaxRetries:
// transient orchestrator-endpoint errors are retried a fixed number of
// times before giving up.
const MaxLaunchRetries = 3

// workerDescriptor is posted once per worker the orchestrator should
// start, analogous to whisk.go's Action payload or lambda.go's Invoke
// payload, but describing a long-lived worker instead of a single
// invocation.
type workerDescriptor struct {
	DriverAddr string `json:"driver_addr"`
}

type terminateRequest struct {
	WorkerID uint64 `json:"worker_id"`
}

// ExternalOrchestratorProvider posts worker descriptors to an external
// orchestrator's HTTP endpoint and relies on it to actually place and
// start the worker, polling nothing synchronously itself — the driver
// still waits for RegisterWorker to confirm readiness (spec.md §4.6),
// exactly as the teacher's whiskExecutor fires an HTTP invoke and lets
// handleWhiskRequest on the other end report back asynchronously.
type ExternalOrchestratorProvider struct {
	launchURL    string
	terminateURL string
	client       *http.Client
}

func NewExternalOrchestratorProvider(launchURL, terminateURL string) *ExternalOrchestratorProvider {
	return &ExternalOrchestratorProvider{
		launchURL:    launchURL,
		terminateURL: terminateURL,
		client:       &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *ExternalOrchestratorProvider) Launch(driverAddr string, count int) error {
	body, err := json.Marshal(workerDescriptor{DriverAddr: driverAddr})
	if err != nil {
		return err
	}
	for i := 0; i < count; i++ {
		var lastErr error
		for try := 0; try < MaxLaunchRetries; try++ {
			lastErr = p.post(p.launchURL, body)
			if lastErr == nil {
				break
			}
			log.Warnf("embfleet: worker launch request failed (attempt %d of %d): %+v", try+1, MaxLaunchRetries, lastErr)
		}
		if lastErr != nil {
			return fmt.Errorf("embfleet: orchestrator launch: %w", lastErr)
		}
	}
	return nil
}

func (p *ExternalOrchestratorProvider) Terminate(workerID uint64) error {
	body, err := json.Marshal(terminateRequest{WorkerID: workerID})
	if err != nil {
		return err
	}
	return p.post(p.terminateURL, body)
}

func (p *ExternalOrchestratorProvider) post(url string, body []byte) error {
	resp, err := p.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("embfleet: orchestrator responded %s", resp.Status)
	}
	return nil
}
