package pages_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/hookrelay/internal/adapter/driving/web/templates"
	"github.com/ericfisherdev/hookrelay/internal/adapter/driving/web/templates/pages"
	vm "github.com/ericfisherdev/hookrelay/internal/adapter/driving/web/viewmodel"
)

func TestIndex_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, pages.Index(vm.IndexViewModel{}).Render(context.Background(), &buf))

	assert.Contains(t, buf.String(), "No checks have been recorded yet.")
	assert.NotContains(t, buf.String(), "<table")
}

func TestCheck_EscapesRunData(t *testing.T) {
	page := vm.CheckPageViewModel{
		Repository:  "acme/widgets",
		Status:      "completed",
		Conclusion:  "failure",
		StatusClass: "failure",
		SummaryHTML: "<p><strong>1 pipeline(s)</strong></p>",
		SyncPath:    "/checks/42/sync",
		CSRFToken:   `tok"en`,
		Runs: []vm.RunRowViewModel{{
			PipelineRunName: "ci-<b>lint</b>-abc",
			Status:          "completed",
			StatusClass:     "errored",
			RunURL:          "javascript:alert(1)",
			Error:           `workflow "lint.yaml" <missing>`,
		}},
	}

	var buf bytes.Buffer
	require.NoError(t, templates.Layout("acme/widgets", pages.Check(page)).Render(context.Background(), &buf))
	html := buf.String()

	assert.Contains(t, html, "<title>acme/widgets · hookrelay</title>")
	assert.Contains(t, html, `<span class="badge badge-failure">failure</span>`)
	assert.Contains(t, html, "ci-&lt;b&gt;lint&lt;/b&gt;-abc")
	assert.Contains(t, html, "&lt;missing&gt;")
	assert.Contains(t, html, `value="tok&#34;en"`)
	assert.NotContains(t, html, `href="javascript:`)
	assert.Contains(t, html, "<strong>1 pipeline(s)</strong>", "the sanitized summary is written as markup")
}
