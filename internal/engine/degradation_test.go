package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDegradationState_ThirdConsecutiveFailureDegrades(t *testing.T) {
	d := NewDegradationState()

	d.RecordClaudeFailure()
	assert.False(t, d.IsDegraded())
	d.RecordClaudeFailure()
	assert.False(t, d.IsDegraded())
	d.RecordClaudeFailure()

	require.True(t, d.IsDegraded())
	assert.True(t, d.IsDegradedForClaude())
	snap := d.Snapshot()
	assert.Contains(t, snap.Reason, "claude")
	assert.False(t, snap.Since.IsZero())
}

func TestDegradationState_SuccessClearsOnlyMatchingReason(t *testing.T) {
	d := NewDegradationState()
	d.RecordClaudeFailure()
	d.RecordClaudeFailure()
	d.RecordClaudeFailure()
	require.True(t, d.IsDegraded())

	// A graph success shouldn't clear a claude-caused degradation.
	d.RecordGraphSuccess()
	assert.True(t, d.IsDegraded())

	d.RecordClaudeSuccess()
	assert.False(t, d.IsDegraded())
	assert.False(t, d.IsDegradedForClaude())
}

func TestDegradationState_GraphAndClaudeCountersAreIndependent(t *testing.T) {
	d := NewDegradationState()
	d.RecordClaudeFailure()
	d.RecordGraphFailure()
	d.RecordGraphFailure()
	d.RecordGraphFailure()

	require.True(t, d.IsDegraded())
	assert.False(t, d.IsDegradedForClaude())
	assert.Contains(t, d.Snapshot().Reason, "graph")
}

func TestDegradationState_SuccessResetsCounterBelowThreshold(t *testing.T) {
	d := NewDegradationState()
	d.RecordClaudeFailure()
	d.RecordClaudeFailure()
	d.RecordClaudeSuccess()
	d.RecordClaudeFailure()
	d.RecordClaudeFailure()

	assert.False(t, d.IsDegraded())
}
