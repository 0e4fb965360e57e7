package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func plan(statuses ...StepStatus) *Plan {
	p := &Plan{ID: "p1", Status: StatusRunning}
	for i, s := range statuses {
		p.Steps = append(p.Steps, &Step{ID: string(rune('a' + i)), Status: s})
	}
	return p
}

func TestNextStep(t *testing.T) {
	p := plan(StatusCompleted, StatusFailed, StatusPending, StatusPending)
	next := p.NextStep()
	require.NotNil(t, next)
	assert.Equal(t, "c", next.ID)

	assert.Nil(t, plan(StatusCompleted, StatusFailed).NextStep())
	assert.Nil(t, (&Plan{}).NextStep())
}

func TestCompleted(t *testing.T) {
	assert.True(t, plan(StatusCompleted, StatusCompleted).Completed())
	assert.False(t, plan(StatusCompleted, StatusRunning).Completed())
	assert.True(t, (&Plan{}).Completed())
}

func TestApplyUpdateKeepsTerminalPrefix(t *testing.T) {
	p := plan(StatusCompleted, StatusFailed, StatusRunning, StatusPending)
	p.ApplyUpdate([]*Step{
		{ID: "n1", Status: StatusPending},
		{ID: "n2", Status: StatusPending},
	})

	require.Len(t, p.Steps, 4)
	assert.Equal(t, "a", p.Steps[0].ID)
	assert.Equal(t, "b", p.Steps[1].ID)
	assert.Equal(t, "n1", p.Steps[2].ID)
	assert.Equal(t, "n2", p.Steps[3].ID)
}

func TestApplyUpdateTerminalAfterNonTerminal(t *testing.T) {
	// A completed step after a pending one is still part of the replaced
	// tail: only the terminal prefix survives.
	p := plan(StatusCompleted, StatusPending, StatusCompleted)
	p.ApplyUpdate([]*Step{{ID: "n1", Status: StatusPending}})

	require.Len(t, p.Steps, 2)
	assert.Equal(t, "a", p.Steps[0].ID)
	assert.Equal(t, "n1", p.Steps[1].ID)
}

func TestStepStatusTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusRunning.Terminal())
	assert.False(t, StatusPaused.Terminal())
}
