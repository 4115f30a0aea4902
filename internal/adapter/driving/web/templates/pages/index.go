// Package pages holds the templ components of the individual status pages.
package pages

import (
	"context"
	"io"
	"strconv"

	"github.com/a-h/templ"

	"github.com/ericfisherdev/hookrelay/internal/adapter/driving/web/templates"
	vm "github.com/ericfisherdev/hookrelay/internal/adapter/driving/web/viewmodel"
)

// Index lists recently updated aggregate checks.
func Index(page vm.IndexViewModel) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		hw := templates.NewHTMLWriter(w)
		hw.Raw(`<h1>Recent checks</h1>`)

		if len(page.Checks) == 0 {
			hw.Raw(`<p class="empty">No checks have been recorded yet.</p>`)
			return hw.Err()
		}

		hw.Raw(`<table class="runs"><thead><tr><th>Check</th><th>Repository</th></tr></thead><tbody>`)
		for _, c := range page.Checks {
			hw.Raw(`<tr><td><a href="`)
			hw.URL(c.DetailPath)
			hw.Raw(`">#`)
			hw.Text(strconv.FormatInt(c.PRCheckID, 10))
			hw.Raw(`</a></td><td>`)
			hw.Text(c.Repository)
			hw.Raw(`</td></tr>`)
		}
		hw.Raw(`</tbody></table>`)
		return hw.Err()
	})
}
