package embfleet

import (
	"fmt"
	"os"
	"os/exec"
	"sync"

	log "github.com/sirupsen/logrus"
)

// LocalProcessProvider forks cmd/ember-worker binaries on the same host,
// telling each one the driver's bind address via EMBER_DRIVER_ADDR —
// adapted from lambda.go's/whisk.go's environment-variable sniffing
// (runningInLambda/runningInWhisk check well-known env vars; here the child
// reads one to know where to register instead of which FaaS platform it's
// running under).
type LocalProcessProvider struct {
	mu   sync.Mutex
	bin  string
	args []string

	procs []*os.Process
}

// NewLocalProcessProvider spawns binPath (normally cmd/ember-worker's
// compiled output) with extraArgs appended after the injected
// EMBER_DRIVER_ADDR environment variable.
func NewLocalProcessProvider(binPath string, extraArgs ...string) *LocalProcessProvider {
	return &LocalProcessProvider{bin: binPath, args: extraArgs}
}

func (p *LocalProcessProvider) Launch(driverAddr string, count int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := 0; i < count; i++ {
		cmd := exec.Command(p.bin, p.args...)
		cmd.Env = append(os.Environ(), fmt.Sprintf("EMBER_DRIVER_ADDR=%s", driverAddr))
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("embfleet: spawn %s: %w", p.bin, err)
		}
		log.Infof("embfleet: spawned local worker pid=%d", cmd.Process.Pid)
		p.procs = append(p.procs, cmd.Process)
	}
	return nil
}

// Terminate stops the oldest still-tracked local worker process. The
// scheduler's WorkerID is driver-assigned at RegisterWorker time and this
// provider has no channel back from registration to PID, so — like the
// teacher's executors, which never correlate a specific Lambda/Whisk
// activation back to a kill target — it reaps FIFO rather than by exact
// identity; safe because idle reclamation only ever asks to stop one
// genuinely-idle worker at a time.
func (p *LocalProcessProvider) Terminate(workerID uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.procs) == 0 {
		return fmt.Errorf("embfleet: no local workers to stop for id %d", workerID)
	}
	proc := p.procs[0]
	p.procs = p.procs[1:]
	if err := proc.Signal(os.Interrupt); err != nil {
		return fmt.Errorf("embfleet: interrupt pid %d: %w", proc.Pid, err)
	}
	go proc.Wait()
	return nil
}
