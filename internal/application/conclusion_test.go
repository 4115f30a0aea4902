package application

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ericfisherdev/hookrelay/internal/domain/model"
)

func completedRun(c model.Conclusion) model.WorkflowRun {
	return model.WorkflowRun{Status: model.RunStatusCompleted, Conclusion: model.Ptr(c)}
}

func TestOverallConclusion(t *testing.T) {
	tests := []struct {
		name string
		runs []model.WorkflowRun
		want model.Conclusion
	}{
		{"no runs", nil, model.ConclusionSuccess},
		{"all success", []model.WorkflowRun{completedRun("success"), completedRun("success")}, model.ConclusionSuccess},
		{"failure wins over cancelled", []model.WorkflowRun{completedRun("cancelled"), completedRun("failure")}, model.ConclusionFailure},
		{"cancelled wins over skipped", []model.WorkflowRun{completedRun("skipped"), completedRun("cancelled")}, model.ConclusionCancelled},
		{"skipped wins over neutral", []model.WorkflowRun{completedRun("neutral"), completedRun("skipped"), completedRun("success")}, model.ConclusionSkipped},
		{"action required wins over timed out", []model.WorkflowRun{completedRun("timed_out"), completedRun("action_required")}, model.ConclusionActionRequired},
		{"stale wins over timed out", []model.WorkflowRun{completedRun("timed_out"), completedRun("stale")}, model.ConclusionStale},
		{"timed out alone", []model.WorkflowRun{completedRun("timed_out"), completedRun("success")}, model.ConclusionTimedOut},
		{"unknown conclusion falls back to failure", []model.WorkflowRun{completedRun("startup_failure")}, model.ConclusionFailure},
		{"missing conclusion falls back to failure", []model.WorkflowRun{{Status: model.RunStatusCompleted}}, model.ConclusionFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, OverallConclusion(tt.runs))
		})
	}
}

func TestAggregateState(t *testing.T) {
	queued := model.WorkflowRun{Status: model.RunStatusQueued}
	running := model.WorkflowRun{Status: model.RunStatusInProgress}

	tests := []struct {
		name           string
		runs           []model.WorkflowRun
		wantStatus     model.RunStatus
		wantConclusion model.Conclusion
	}{
		{"all completed", []model.WorkflowRun{completedRun("success"), completedRun("failure")}, model.RunStatusCompleted, model.ConclusionFailure},
		{"one running", []model.WorkflowRun{completedRun("success"), running, queued}, model.RunStatusInProgress, ""},
		{"only queued", []model.WorkflowRun{queued, completedRun("success")}, model.RunStatusQueued, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, conclusion := AggregateState(tt.runs)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantConclusion, conclusion)
		})
	}
}
