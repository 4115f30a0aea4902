package application

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/ericfisherdev/hookrelay/internal/domain/model"
	"github.com/ericfisherdev/hookrelay/internal/domain/port/driven"
)

// Input names the dispatcher always supplies to a pipeline.
const (
	InputPipelineName        = "PIPELINE_NAME"
	InputSerializedVariables = "SERIALIZED_VARIABLES"
)

// DispatchRequest carries everything needed to dispatch the hooks triggered
// by one event.
type DispatchRequest struct {
	PR                 model.PullRequest
	Action             string
	Hooks              []model.Hook
	MergeCommitSHA     string
	PRCheckID          int64
	SlashCommandTokens []string
}

// Dispatcher validates triggered hooks against their workflow definitions,
// dispatches them, and records one ledger row per hook.
type Dispatcher struct {
	ghClient        driven.GitHubClient
	ghWriter        driven.GitHubWriter
	ledger          driven.RunLedger
	workflowFileExt string
	concurrency     int
	logger          *slog.Logger
}

// NewDispatcher creates a Dispatcher. concurrency bounds the number of hooks
// validated and dispatched in parallel; values below 1 mean sequential.
func NewDispatcher(
	ghClient driven.GitHubClient,
	ghWriter driven.GitHubWriter,
	ledger driven.RunLedger,
	workflowFileExt string,
	concurrency int,
	logger *slog.Logger,
) *Dispatcher {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Dispatcher{
		ghClient:        ghClient,
		ghWriter:        ghWriter,
		ledger:          ledger,
		workflowFileExt: workflowFileExt,
		concurrency:     concurrency,
		logger:          logger.With("component", "dispatcher"),
	}
}

// RunWorkflow dispatches every hook independently. The result preserves hook
// order; a hook that could not be dispatched carries an Error instead.
func (d *Dispatcher) RunWorkflow(ctx context.Context, req DispatchRequest) []model.TriggeredWorkflow {
	results := make([]model.TriggeredWorkflow, len(req.Hooks))

	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for i, hook := range req.Hooks {
		g.Go(func() error {
			results[i] = d.runOne(ctx, req, hook)
			return nil
		})
	}
	_ = g.Wait() // Per-hook failures are carried in results.

	var errored int
	for _, r := range results {
		if r.Error != "" {
			errored++
		}
	}
	d.logger.Info("workflows dispatched",
		"repo", req.PR.RepoFullName(),
		"pr", req.PR.Number,
		"pr_check_id", req.PRCheckID,
		"hooks", len(req.Hooks),
		"errored", errored,
	)

	return results
}

func (d *Dispatcher) runOne(ctx context.Context, req DispatchRequest, hook model.Hook) model.TriggeredWorkflow {
	pr := req.PR
	runName := hook.PipelineRunName(pr.HeadSHA)

	params := hook.PipelineParams.Clone()
	if hook.HookType == model.HookTypeOnSlashCommand {
		params = substituteCommandTokens(params, req.SlashCommandTokens)
	}

	inputs := model.Params{{Key: InputPipelineName, Value: runName}}
	inputs = inputs.Merge(hook.SharedParams)
	inputs = inputs.Merge(params)
	inputs = inputs.Set(InputSerializedVariables, serializeVariables(commonVariables(pr, req.Action, req.MergeCommitSHA)))
	inputMap := inputs.Map()

	run := &model.WorkflowRun{
		RepoFullName:      pr.RepoFullName(),
		Name:              hook.PipelineUniquePrefix,
		HeadSHA:           pr.HeadSHA,
		MergeCommitSHA:    req.MergeCommitSHA,
		PipelineRunName:   runName,
		WorkflowRunInputs: inputMap,
		PRNumber:          pr.Number,
		PRCheckID:         req.PRCheckID,
		HookType:          hook.HookType,
		Status:            model.RunStatusQueued,
	}

	result := model.TriggeredWorkflow{Name: runName, Inputs: inputMap}
	workflowFile := hook.PipelineName + d.workflowFileExt
	ref := pr.DefaultBranch
	if hook.PipelineRef != nil && *hook.PipelineRef != "" {
		ref = *hook.PipelineRef
	}

	if errMsg := d.validate(ctx, pr, workflowFile, ref, inputMap); errMsg != "" {
		result.Error = errMsg
		markErrored(run, errMsg)
		d.insert(ctx, run)
		return result
	}

	// The row must exist before the dispatch returns so that an early
	// workflow_job event can be correlated.
	d.insert(ctx, run)

	if err := d.ghWriter.DispatchWorkflow(ctx, pr.RepoFullName(), workflowFile, ref, inputMap); err != nil {
		d.logger.Error("workflow dispatch failed",
			"repo", pr.RepoFullName(),
			"workflow", workflowFile,
			"ref", ref,
			"error", err,
		)
		errMsg := fmt.Sprintf("Failed to dispatch workflow %s on ref %s in repo %s: %v", workflowFile, ref, pr.RepoFullName(), err)
		result.Error = errMsg
		markErrored(run, errMsg)
		if run.ID != 0 {
			if err := d.ledger.Update(ctx, *run); err != nil {
				d.logger.Error("record dispatch failure failed", "pipeline_run_name", runName, "error", err)
			}
		}
	}

	return result
}

// validate returns an empty string when the workflow exists and every
// required input is either supplied or defaulted.
func (d *Dispatcher) validate(ctx context.Context, pr model.PullRequest, workflowFile, ref string, inputs map[string]string) string {
	def, err := d.ghClient.FetchWorkflowDefinition(ctx, pr.RepoFullName(), workflowFile, ref)
	if err != nil || def == nil {
		d.logger.Warn("workflow lookup failed",
			"repo", pr.RepoFullName(),
			"workflow", workflowFile,
			"ref", ref,
			"error", err,
		)
		return fmt.Sprintf("Failed to get workflow %s, probably does not exist in repo %s", workflowFile, pr.RepoFullName())
	}

	for _, in := range def.Inputs {
		if !in.Required || in.Default != nil {
			continue
		}
		if _, ok := inputs[in.Name]; ok {
			continue
		}
		return fmt.Sprintf("Workflow %s requires input %s which is missing in %s and has no default value", workflowFile, in.Name, InputSerializedVariables)
	}

	return ""
}

func (d *Dispatcher) insert(ctx context.Context, run *model.WorkflowRun) {
	if err := d.ledger.Insert(ctx, run); err != nil {
		d.logger.Error("ledger insert failed",
			"repo", run.RepoFullName,
			"pipeline_run_name", run.PipelineRunName,
			"error", err,
		)
	}
}

func markErrored(run *model.WorkflowRun, msg string) {
	run.Status = model.RunStatusCompleted
	run.Conclusion = model.Ptr(model.ConclusionFailure)
	run.Error = model.Ptr(msg)
}

// commonVariables builds the variable bundle every pipeline receives.
func commonVariables(pr model.PullRequest, action, mergeCommitSHA string) model.Params {
	return model.Params{
		{Key: "PR_HEAD_REF", Value: pr.HeadRef},
		{Key: "PR_HEAD_SHA", Value: pr.HeadSHA},
		{Key: "PR_BASE_REF", Value: pr.BaseRef},
		{Key: "PR_BASE_SHA", Value: pr.BaseSHA},
		{Key: "PR_MERGE_SHA", Value: mergeCommitSHA},
		{Key: "PR_NUMBER", Value: strconv.Itoa(pr.Number)},
		{Key: "PR_ACTION", Value: model.NormalizeAction(pr, action)},
	}
}

func serializeVariables(vars model.Params) string {
	data, err := json.Marshal(vars)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// substituteCommandTokens replaces ${command}, ${args} and ${argN} (1-based)
// in parameter values with the tokens of the invoking slash command.
func substituteCommandTokens(params model.Params, tokens []string) model.Params {
	var command string
	var args []string
	if len(tokens) > 0 {
		command = tokens[0]
		args = tokens[1:]
	}

	pairs := []string{"${command}", command, "${args}", strings.Join(args, " ")}
	// Longest placeholders first so ${arg10} is not consumed by ${arg1}.
	for i := len(args); i >= 1; i-- {
		pairs = append(pairs, "${arg"+strconv.Itoa(i)+"}", args[i-1])
	}
	replacer := strings.NewReplacer(pairs...)

	out := make(model.Params, 0, len(params))
	for _, kv := range params {
		out = append(out, model.Param{Key: kv.Key, Value: replacer.Replace(kv.Value)})
	}
	return out
}
