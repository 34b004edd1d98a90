package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimateCompletionNoProgress(t *testing.T) {
	now := time.Now()
	total := 100

	assert.Nil(t, EstimateCompletion(&total, 0, now.Add(-time.Minute), now))
	assert.Nil(t, EstimateCompletion(nil, 50, now.Add(-time.Minute), now))
	assert.Nil(t, EstimateCompletion(&total, 50, now, now))
	assert.Nil(t, EstimateCompletion(&total, 50, now.Add(time.Minute), now))
}

func TestEstimateCompletionNeverBeforeNow(t *testing.T) {
	now := time.Now()
	total := 100

	eta := EstimateCompletion(&total, 25, now.Add(-time.Minute), now)
	require.NotNil(t, eta)
	assert.False(t, eta.Before(now))
}

func TestEstimateCompletionScalesWithRate(t *testing.T) {
	now := time.Now()
	total := 100

	// 25 records in 60s means 75 remaining take 180s.
	eta := EstimateCompletion(&total, 25, now.Add(-time.Minute), now)
	require.NotNil(t, eta)
	assert.WithinDuration(t, now.Add(3*time.Minute), *eta, time.Second)
}

func TestEstimateCompletionProcessedBeyondTotal(t *testing.T) {
	now := time.Now()
	total := 10

	eta := EstimateCompletion(&total, 20, now.Add(-time.Minute), now)
	require.NotNil(t, eta)
	assert.WithinDuration(t, now, *eta, time.Millisecond)
}
