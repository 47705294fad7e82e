package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ashita-ai/michibiki/internal/model"
)

func TestDecide(t *testing.T) {
	tests := []struct {
		name        string
		currentStep int
		totalSteps  int
		requested   int
		status      model.StepStatus
		want        decision
	}{
		{
			name:        "done at current step advances",
			currentStep: 3, totalSteps: 10, requested: 3, status: model.StepStatusDone,
			want: decision{advance: true, newStep: 4},
		},
		{
			name:        "done ahead of current step jumps forward",
			currentStep: 3, totalSteps: 10, requested: 7, status: model.StepStatusDone,
			want: decision{advance: true, newStep: 8},
		},
		{
			name:        "done behind current step does not rewind",
			currentStep: 5, totalSteps: 10, requested: 2, status: model.StepStatusDone,
			want: decision{newStep: 5},
		},
		{
			name:        "ongoing never advances",
			currentStep: 3, totalSteps: 10, requested: 3, status: model.StepStatusOngoing,
			want: decision{newStep: 3},
		},
		{
			name:        "ongoing ahead of current step never advances",
			currentStep: 3, totalSteps: 10, requested: 9, status: model.StepStatusOngoing,
			want: decision{newStep: 3},
		},
		{
			name:        "done on last step completes",
			currentStep: 10, totalSteps: 10, requested: 10, status: model.StepStatusDone,
			want: decision{advance: true, complete: true, newStep: 11},
		},
		{
			name:        "done jumping to last step completes",
			currentStep: 4, totalSteps: 10, requested: 10, status: model.StepStatusDone,
			want: decision{advance: true, complete: true, newStep: 11},
		},
		{
			name:        "single step manual completes immediately",
			currentStep: 1, totalSteps: 1, requested: 1, status: model.StepStatusDone,
			want: decision{advance: true, complete: true, newStep: 2},
		},
		{
			name:        "done mid-manual does not complete",
			currentStep: 1, totalSteps: 2, requested: 1, status: model.StepStatusDone,
			want: decision{advance: true, newStep: 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := decide(tt.currentStep, tt.totalSteps, tt.requested, tt.status)
			assert.Equal(t, tt.want, got)
		})
	}
}
