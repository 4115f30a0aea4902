package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/hookrelay/internal/domain/model"
)

func testPR() model.PullRequest {
	return model.PullRequest{
		Number:        7,
		Owner:         "octo",
		Repo:          "app",
		DefaultBranch: "main",
		HeadRef:       "feature/login",
		HeadSHA:       "abc1234",
		BaseRef:       "main",
		BaseSHA:       "def5678",
	}
}

func TestRunWorkflow_Dispatches(t *testing.T) {
	gh := newFakeGitHub()
	gh.workflows["unit-tests.yaml"] = &model.WorkflowDefinition{Inputs: []model.WorkflowInput{
		{Name: InputPipelineName, Required: true},
		{Name: InputSerializedVariables, Required: true},
		{Name: "GO_VERSION", Required: true},
		{Name: "REGION", Required: true, Default: model.Ptr("us-east-1")},
	}}
	ledger := &fakeLedger{}
	d := NewDispatcher(gh, gh, ledger, ".yaml", 2, discardLogger())

	hook := testHook("platform-api-unit", "**")
	hook.PipelineName = "unit-tests"
	hook.SharedParams = model.Params{{Key: "REGION", Value: "eu-west-1"}, {Key: "GO_VERSION", Value: "1.24"}}
	hook.PipelineParams = model.Params{{Key: "GO_VERSION", Value: "1.25"}}

	results := d.RunWorkflow(context.Background(), DispatchRequest{
		PR:        testPR(),
		Action:    "synchronize",
		Hooks:     []model.Hook{hook},
		PRCheckID: 42,
	})

	require.Len(t, results, 1)
	assert.Empty(t, results[0].Error)
	assert.Equal(t, "platform-api-unit-abc1234", results[0].Name)

	require.Len(t, gh.dispatched, 1)
	call := gh.dispatched[0]
	assert.Equal(t, "octo/app", call.RepoFullName)
	assert.Equal(t, "unit-tests.yaml", call.WorkflowFile)
	assert.Equal(t, "main", call.Ref)
	assert.Equal(t, "platform-api-unit-abc1234", call.Inputs[InputPipelineName])
	assert.Equal(t, "1.25", call.Inputs["GO_VERSION"], "pipeline params override shared params")
	assert.Equal(t, "eu-west-1", call.Inputs["REGION"])

	var vars map[string]string
	require.NoError(t, json.Unmarshal([]byte(call.Inputs[InputSerializedVariables]), &vars))
	assert.Equal(t, map[string]string{
		"PR_HEAD_REF":  "feature/login",
		"PR_HEAD_SHA":  "abc1234",
		"PR_BASE_REF":  "main",
		"PR_BASE_SHA":  "def5678",
		"PR_MERGE_SHA": "",
		"PR_NUMBER":    "7",
		"PR_ACTION":    "opened",
	}, vars)

	rows := ledger.all()
	require.Len(t, rows, 1)
	assert.Equal(t, model.RunStatusQueued, rows[0].Status)
	assert.Equal(t, int64(42), rows[0].PRCheckID)
	assert.Equal(t, "platform-api-unit", rows[0].Name)
	assert.Equal(t, "platform-api-unit-abc1234", rows[0].PipelineRunName)
	assert.Nil(t, rows[0].Error)
	assert.Equal(t, call.Inputs, rows[0].WorkflowRunInputs)
}

func TestRunWorkflow_PipelineRef(t *testing.T) {
	gh := newFakeGitHub()
	gh.workflows["deploy.yml"] = &model.WorkflowDefinition{}
	d := NewDispatcher(gh, gh, &fakeLedger{}, ".yml", 1, discardLogger())

	hook := testHook("platform-api-deploy", "**")
	hook.PipelineName = "deploy"
	hook.PipelineRef = model.Ptr("release")

	results := d.RunWorkflow(context.Background(), DispatchRequest{PR: testPR(), Action: "opened", Hooks: []model.Hook{hook}, PRCheckID: 1})

	require.Empty(t, results[0].Error)
	require.Len(t, gh.dispatched, 1)
	assert.Equal(t, "release", gh.dispatched[0].Ref)
}

func TestRunWorkflow_ValidationErrors(t *testing.T) {
	tests := []struct {
		name      string
		workflow  *model.WorkflowDefinition
		wantError string
	}{
		{
			name:      "missing workflow",
			wantError: "Failed to get workflow unit.yaml, probably does not exist in repo octo/app",
		},
		{
			name: "required input without default",
			workflow: &model.WorkflowDefinition{Inputs: []model.WorkflowInput{
				{Name: "TARGET", Required: true},
			}},
			wantError: "Workflow unit.yaml requires input TARGET which is missing in SERIALIZED_VARIABLES and has no default value",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gh := newFakeGitHub()
			if tt.workflow != nil {
				gh.workflows["unit.yaml"] = tt.workflow
			}
			ledger := &fakeLedger{}
			d := NewDispatcher(gh, gh, ledger, ".yaml", 1, discardLogger())

			hook := testHook("platform-api-unit", "**")
			hook.PipelineName = "unit"

			results := d.RunWorkflow(context.Background(), DispatchRequest{PR: testPR(), Action: "opened", Hooks: []model.Hook{hook}, PRCheckID: 9})

			require.Len(t, results, 1)
			assert.Equal(t, tt.wantError, results[0].Error)
			assert.Empty(t, gh.dispatched)

			rows := ledger.all()
			require.Len(t, rows, 1, "an errored hook still gets a ledger row")
			assert.Equal(t, model.RunStatusCompleted, rows[0].Status)
			assert.Equal(t, model.ConclusionFailure, rows[0].ConclusionValue())
			assert.Equal(t, tt.wantError, rows[0].ErrorValue())
			assert.Equal(t, int64(9), rows[0].PRCheckID)
		})
	}
}

func TestRunWorkflow_OptionalAndSuppliedInputs(t *testing.T) {
	gh := newFakeGitHub()
	gh.workflows["unit.yaml"] = &model.WorkflowDefinition{Inputs: []model.WorkflowInput{
		{Name: "OPTIONAL"},
		{Name: "DEFAULTED", Required: true, Default: model.Ptr("")},
		{Name: "SUPPLIED", Required: true},
	}}
	d := NewDispatcher(gh, gh, &fakeLedger{}, ".yaml", 1, discardLogger())

	hook := testHook("platform-api-unit", "**")
	hook.PipelineName = "unit"
	hook.PipelineParams = model.Params{{Key: "SUPPLIED", Value: "yes"}}

	results := d.RunWorkflow(context.Background(), DispatchRequest{PR: testPR(), Action: "opened", Hooks: []model.Hook{hook}, PRCheckID: 1})

	assert.Empty(t, results[0].Error)
	assert.Len(t, gh.dispatched, 1)
}

func TestRunWorkflow_DispatchFailureRecorded(t *testing.T) {
	gh := newFakeGitHub()
	gh.workflows["unit.yaml"] = &model.WorkflowDefinition{}
	gh.dispatchErr["unit.yaml"] = errors.New("422 Unexpected inputs provided")
	ledger := &fakeLedger{}
	d := NewDispatcher(gh, gh, ledger, ".yaml", 1, discardLogger())

	hook := testHook("platform-api-unit", "**")
	hook.PipelineName = "unit"

	results := d.RunWorkflow(context.Background(), DispatchRequest{PR: testPR(), Action: "opened", Hooks: []model.Hook{hook}, PRCheckID: 3})

	require.Len(t, results, 1)
	assert.Contains(t, results[0].Error, "Failed to dispatch workflow unit.yaml on ref main in repo octo/app")
	assert.Contains(t, results[0].Error, "422 Unexpected inputs provided")

	rows := ledger.all()
	require.Len(t, rows, 1)
	assert.Equal(t, model.RunStatusCompleted, rows[0].Status)
	assert.Equal(t, results[0].Error, rows[0].ErrorValue())
}

func TestRunWorkflow_PreservesHookOrder(t *testing.T) {
	gh := newFakeGitHub()
	var hooks []model.Hook
	for i := range 12 {
		name := fmt.Sprintf("p%02d", i)
		if i%3 != 0 {
			gh.workflows[name+".yaml"] = &model.WorkflowDefinition{}
		}
		h := testHook("platform-api-"+name, "**")
		h.PipelineName = name
		hooks = append(hooks, h)
	}
	d := NewDispatcher(gh, gh, &fakeLedger{}, ".yaml", 4, discardLogger())

	results := d.RunWorkflow(context.Background(), DispatchRequest{PR: testPR(), Action: "opened", Hooks: hooks, PRCheckID: 1})

	require.Len(t, results, 12)
	for i, r := range results {
		assert.Equal(t, hooks[i].PipelineRunName("abc1234"), r.Name)
		assert.Equal(t, i%3 == 0, r.Error != "", "hook %d", i)
	}
	assert.Len(t, gh.dispatched, 8)
}

func TestRunWorkflow_SlashCommandSubstitution(t *testing.T) {
	gh := newFakeGitHub()
	gh.workflows["bench.yaml"] = &model.WorkflowDefinition{}
	d := NewDispatcher(gh, gh, &fakeLedger{}, ".yaml", 1, discardLogger())

	hook := testHook("platform-api-bench", "**")
	hook.HookType = model.HookTypeOnSlashCommand
	hook.PipelineName = "bench"
	hook.PipelineParams = model.Params{
		{Key: "CMD", Value: "${command}"},
		{Key: "ARGS", Value: "${args}"},
		{Key: "FIRST", Value: "--${arg1}"},
		{Key: "MISSING", Value: "${arg5}"},
	}

	d.RunWorkflow(context.Background(), DispatchRequest{
		PR:                 testPR(),
		Action:             "slash_command",
		Hooks:              []model.Hook{hook},
		PRCheckID:          1,
		SlashCommandTokens: []string{"bench", "cpu", "fast"},
	})

	require.Len(t, gh.dispatched, 1)
	inputs := gh.dispatched[0].Inputs
	assert.Equal(t, "bench", inputs["CMD"])
	assert.Equal(t, "cpu fast", inputs["ARGS"])
	assert.Equal(t, "--cpu", inputs["FIRST"])
	assert.Equal(t, "${arg5}", inputs["MISSING"], "placeholders without a token stay literal")
}

func TestSubstituteCommandTokens_DoubleDigitArgs(t *testing.T) {
	tokens := []string{"run", "a1", "a2", "a3", "a4", "a5", "a6", "a7", "a8", "a9", "a10"}
	out := substituteCommandTokens(model.Params{{Key: "X", Value: "${arg10}|${arg1}"}}, tokens)

	assert.Equal(t, "a10|a1", out[0].Value)
}

func TestCommonVariables_Action(t *testing.T) {
	tests := []struct {
		action string
		merged bool
		want   string
	}{
		{"opened", false, "opened"},
		{"reopened", false, "opened"},
		{"synchronize", false, "opened"},
		{"closed", false, "closed"},
		{"closed", true, "merged"},
		{"slash_command", false, "slash_command"},
	}

	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			pr := testPR()
			pr.Merged = tt.merged
			action, ok := commonVariables(pr, tt.action, "").Get("PR_ACTION")
			require.True(t, ok)
			assert.Equal(t, tt.want, action)
		})
	}
}
