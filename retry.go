package emberql

// retryDecision is what the scheduler does with a task that just failed or
// whose worker was lost (spec.md §4.5 "Retry policy", §7 "Propagation").
type retryDecision int

const (
	retryTask retryDecision = iota
	failJob
)

// decideRetry classifies a failure cause per spec.md §7's taxonomy and the
// task's attempt budget: transient causes get retried up to maxAttempts
// (attempts are 0-indexed, so the task may run at most maxAttempts+1
// times); deterministic causes fail the job immediately regardless of
// remaining budget.
func decideRetry(cause Code, attempt, maxAttempts int) retryDecision {
	if !cause.Retriable() {
		return failJob
	}
	if attempt >= maxAttempts {
		return failJob
	}
	return retryTask
}

// workerLossCause is the retry cause the scheduler attributes to tasks
// that were Running/Scheduled on a worker that just transitioned to
// Failed (spec.md §3 invariant 6, §4.5 "Worker loss detection"). Worker
// loss is always treated as transient, same as Unavailable/UpstreamLost.
const workerLossCause = Unavailable
