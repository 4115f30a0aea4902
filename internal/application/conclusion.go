package application

import "github.com/ericfisherdev/hookrelay/internal/domain/model"

// conclusionPriority orders non-success conclusions; the first one present
// among the siblings decides the aggregate.
var conclusionPriority = []model.Conclusion{
	model.ConclusionFailure,
	model.ConclusionCancelled,
	model.ConclusionSkipped,
	model.ConclusionActionRequired,
	model.ConclusionNeutral,
	model.ConclusionStale,
	model.ConclusionTimedOut,
}

// OverallConclusion folds sibling run conclusions into one aggregate
// conclusion. Success requires every sibling to succeed; an unknown mix falls
// back to failure.
func OverallConclusion(runs []model.WorkflowRun) model.Conclusion {
	present := make(map[model.Conclusion]bool, len(runs))
	allSuccess := true
	for _, r := range runs {
		c := r.ConclusionValue()
		present[c] = true
		if c != model.ConclusionSuccess {
			allSuccess = false
		}
	}
	if allSuccess {
		return model.ConclusionSuccess
	}

	for _, c := range conclusionPriority {
		if present[c] {
			return c
		}
	}
	return model.ConclusionFailure
}

// allCompleted reports whether every run reached the completed status.
func allCompleted(runs []model.WorkflowRun) bool {
	for _, r := range runs {
		if !r.IsCompleted() {
			return false
		}
	}
	return true
}

// AggregateState derives the status of an aggregate from its runs. The
// conclusion is only meaningful once the status is completed.
func AggregateState(runs []model.WorkflowRun) (model.RunStatus, model.Conclusion) {
	if allCompleted(runs) {
		return model.RunStatusCompleted, OverallConclusion(runs)
	}
	for _, r := range runs {
		if r.Status == model.RunStatusInProgress {
			return model.RunStatusInProgress, ""
		}
	}
	return model.RunStatusQueued, ""
}
