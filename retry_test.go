package emberql

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecideRetry_DeterministicCauseFailsImmediately(t *testing.T) {
	assert.Equal(t, failJob, decideRetry(InvalidPlan, 0, 5))
}

func TestDecideRetry_TransientCauseRetriesUnderBudget(t *testing.T) {
	assert.Equal(t, retryTask, decideRetry(Unavailable, 0, 2))
	assert.Equal(t, retryTask, decideRetry(UpstreamLost, 1, 2))
}

func TestDecideRetry_TransientCauseFailsOnceBudgetExhausted(t *testing.T) {
	assert.Equal(t, failJob, decideRetry(Unavailable, 2, 2))
	assert.Equal(t, failJob, decideRetry(Unavailable, 3, 2))
}

func TestWorkerLossCauseIsRetriable(t *testing.T) {
	assert.True(t, workerLossCause.Retriable())
}
