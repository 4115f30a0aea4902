package pages

import (
	"context"
	"io"
	"strconv"

	"github.com/a-h/templ"

	"github.com/ericfisherdev/hookrelay/internal/adapter/driving/web/templates"
	vm "github.com/ericfisherdev/hookrelay/internal/adapter/driving/web/viewmodel"
)

// Check renders one aggregate check with its runs and summary.
func Check(page vm.CheckPageViewModel) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		hw := templates.NewHTMLWriter(w)

		state := page.Status
		if page.Conclusion != "" {
			state = page.Conclusion
		}
		hw.Raw(`<h1><span class="badge badge-`)
		hw.Text(page.StatusClass)
		hw.Raw(`">`)
		hw.Text(state)
		hw.Raw(`</span> `)
		hw.Text(page.Repository)
		if page.PRNumber > 0 {
			hw.Raw(` <a href="`)
			hw.URL(page.PRURL)
			hw.Raw(`">#`)
			hw.Text(strconv.Itoa(page.PRNumber))
			hw.Raw(`</a>`)
		}
		hw.Raw(`</h1>`)

		hw.Raw(`<p class="meta">`)
		hw.Text(page.HookType)
		hw.Raw(` on <code>`)
		hw.Text(page.HeadSHA)
		hw.Raw(`</code>`)
		if page.Finalized {
			hw.Raw(` · finalized`)
		}
		hw.Raw(`</p>`)

		hw.Raw(`<form method="post" action="`)
		hw.URL(page.SyncPath)
		hw.Raw(`"><input type="hidden" name="csrf_token" value="`)
		hw.Text(page.CSRFToken)
		hw.Raw(`"><button type="submit">Sync status</button></form>`)

		hw.Raw(`<table class="runs"><thead><tr><th>Pipeline</th><th>Status</th><th>Conclusion</th><th>Updated</th></tr></thead><tbody>`)
		for _, run := range page.Runs {
			hw.Component(ctx, runRow(run))
		}
		hw.Raw(`</tbody></table>`)

		hw.Raw(`<section class="summary">`)
		hw.Component(ctx, templ.Raw(page.SummaryHTML))
		hw.Raw(`</section>`)
		return hw.Err()
	})
}

func runRow(run vm.RunRowViewModel) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		hw := templates.NewHTMLWriter(w)
		hw.Raw(`<tr class="run-`)
		hw.Text(run.StatusClass)
		hw.Raw(`"><td>`)
		if run.RunURL != "" {
			hw.Raw(`<a href="`)
			hw.URL(run.RunURL)
			hw.Raw(`">`)
			hw.Text(run.PipelineRunName)
			hw.Raw(`</a>`)
		} else {
			hw.Text(run.PipelineRunName)
		}
		if run.Error != "" {
			hw.Raw(`<div class="error">`)
			hw.Text(run.Error)
			hw.Raw(`</div>`)
		}
		hw.Raw(`</td><td>`)
		hw.Text(run.Status)
		hw.Raw(`</td><td>`)
		hw.Text(run.Conclusion)
		hw.Raw(`</td><td>`)
		hw.Text(run.UpdatedAt)
		hw.Raw(`</td></tr>`)
		return hw.Err()
	})
}
