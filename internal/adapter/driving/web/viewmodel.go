package web

import (
	"fmt"
	"time"

	vm "github.com/ericfisherdev/hookrelay/internal/adapter/driving/web/viewmodel"
	"github.com/ericfisherdev/hookrelay/internal/application"
	"github.com/ericfisherdev/hookrelay/internal/domain/model"
	"github.com/ericfisherdev/hookrelay/internal/domain/port/driven"
)

const shortSHALength = 7

func toIndexViewModel(keys []driven.PRCheckKey) vm.IndexViewModel {
	items := make([]vm.CheckListItemViewModel, 0, len(keys))
	for _, k := range keys {
		items = append(items, vm.CheckListItemViewModel{
			PRCheckID:  k.PRCheckID,
			Repository: k.RepoFullName,
			DetailPath: checkPath(k.PRCheckID),
		})
	}
	return vm.IndexViewModel{Checks: items}
}

// toCheckPageViewModel renders the aggregate made of runs. Superseded rows
// must already be filtered out.
func toCheckPageViewModel(prCheckID int64, runs []model.WorkflowRun) vm.CheckPageViewModel {
	status, conclusion := application.AggregateState(runs)

	page := vm.CheckPageViewModel{
		PRCheckID:   prCheckID,
		Status:      string(status),
		Conclusion:  string(conclusion),
		StatusClass: statusClass(status, conclusion),
		SummaryHTML: RenderMarkdown(application.FormatSummary(status, conclusion, runs)),
		Runs:        make([]vm.RunRowViewModel, 0, len(runs)),
		SyncPath:    checkPath(prCheckID) + "/sync",
	}

	if len(runs) > 0 {
		first := runs[0]
		page.Repository = first.RepoFullName
		page.PRNumber = first.PRNumber
		page.HookType = string(first.HookType)
		page.HeadSHA = shortSHA(first.HeadSHA)
		if first.PRNumber > 0 {
			page.PRURL = fmt.Sprintf("https://github.com/%s/pull/%d", first.RepoFullName, first.PRNumber)
		}
		page.Finalized = first.PRConclusion != nil
	}

	for _, run := range runs {
		page.Runs = append(page.Runs, toRunRowViewModel(run))
	}

	return page
}

func toRunRowViewModel(run model.WorkflowRun) vm.RunRowViewModel {
	row := vm.RunRowViewModel{
		Name:            run.Name,
		PipelineRunName: run.PipelineRunName,
		Status:          string(run.Status),
		StatusClass:     statusClass(run.Status, run.ConclusionValue()),
	}
	if run.Conclusion != nil {
		row.Conclusion = string(*run.Conclusion)
	}
	if run.WorkflowRunURL != nil {
		row.RunURL = *run.WorkflowRunURL
	}
	if run.Error != nil {
		row.Error = *run.Error
		row.StatusClass = "errored"
	}
	if !run.UpdatedAt.IsZero() {
		row.UpdatedAt = run.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return row
}

func statusClass(status model.RunStatus, conclusion model.Conclusion) string {
	if status != model.RunStatusCompleted {
		return "pending"
	}
	if conclusion == model.ConclusionSuccess {
		return "success"
	}
	return "failure"
}

func shortSHA(sha string) string {
	if len(sha) > shortSHALength {
		return sha[:shortSHALength]
	}
	return sha
}

func checkPath(prCheckID int64) string {
	return fmt.Sprintf("/checks/%d", prCheckID)
}
