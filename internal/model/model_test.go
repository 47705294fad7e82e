package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualCreateValidate(t *testing.T) {
	valid := ManualCreate{
		ManualID: "m1",
		Title:    "Title",
		Steps: []ManualStepRequest{
			{StepNumber: 2, Title: "b"},
			{StepNumber: 1, Title: "a"},
			{StepNumber: 3, Title: "c"},
		},
	}
	assert.NoError(t, valid.Validate(), "unordered but contiguous steps are fine")

	tests := []struct {
		name string
		m    ManualCreate
	}{
		{"missing manual_id", ManualCreate{Title: "t", Steps: []ManualStepRequest{{StepNumber: 1, Title: "a"}}}},
		{"missing title", ManualCreate{ManualID: "m", Steps: []ManualStepRequest{{StepNumber: 1, Title: "a"}}}},
		{"no steps", ManualCreate{ManualID: "m", Title: "t"}},
		{"step zero", ManualCreate{ManualID: "m", Title: "t", Steps: []ManualStepRequest{{StepNumber: 0, Title: "a"}}}},
		{"gap in numbering", ManualCreate{ManualID: "m", Title: "t", Steps: []ManualStepRequest{
			{StepNumber: 1, Title: "a"}, {StepNumber: 3, Title: "b"},
		}}},
		{"duplicate number", ManualCreate{ManualID: "m", Title: "t", Steps: []ManualStepRequest{
			{StepNumber: 1, Title: "a"}, {StepNumber: 1, Title: "b"},
		}}},
		{"untitled step", ManualCreate{ManualID: "m", Title: "t", Steps: []ManualStepRequest{{StepNumber: 1}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.m.Validate())
		})
	}
}

func TestSessionStatus(t *testing.T) {
	assert.True(t, SessionStatusActive.Valid())
	assert.True(t, SessionStatusCompleted.Valid())
	assert.True(t, SessionStatusAbandoned.Valid())
	assert.False(t, SessionStatus("paused").Valid())

	assert.False(t, SessionStatusActive.Terminal())
	assert.True(t, SessionStatusCompleted.Terminal())
	assert.True(t, SessionStatusAbandoned.Terminal())
}

func TestSessionDurationSeconds(t *testing.T) {
	started := time.Now().UTC().Add(-10 * time.Minute)
	ended := started.Add(5 * time.Minute)

	s := Session{StartedAt: started, EndedAt: &ended}
	assert.InDelta(t, 300, s.DurationSeconds(), 0.1)

	active := Session{StartedAt: started}
	assert.InDelta(t, 600, active.DurationSeconds(), 1)
}

func TestMessageCreateValidate(t *testing.T) {
	assert.NoError(t, MessageCreate{Message: "hi", Sender: SenderUser}.Validate())
	assert.Error(t, MessageCreate{Sender: SenderUser}.Validate())
	assert.Error(t, MessageCreate{Message: "hi", Sender: "robot"}.Validate())
}

func TestStepStatusValid(t *testing.T) {
	assert.True(t, StepStatusDone.Valid())
	assert.True(t, StepStatusOngoing.Valid())
	assert.False(t, StepStatus("SKIPPED").Valid())
}
