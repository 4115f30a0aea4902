// Package templates holds the templ components shared by every status page.
package templates

import (
	"context"
	"io"

	"github.com/a-h/templ"
)

// Layout wraps a page body in the HTML document shell.
func Layout(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		hw := NewHTMLWriter(w)
		hw.Raw(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8">`)
		hw.Raw(`<meta name="viewport" content="width=device-width, initial-scale=1"><title>`)
		hw.Text(title + " · hookrelay")
		hw.Raw(`</title><link rel="stylesheet" href="/static/style.css"></head><body>`)
		hw.Raw(`<header class="topbar"><a href="/">hookrelay</a></header><main>`)
		hw.Component(ctx, body)
		hw.Raw(`</main></body></html>`)
		return hw.Err()
	})
}

// HTMLWriter writes markup and keeps the first error, so components can be
// written as a flat sequence of writes.
type HTMLWriter struct {
	w   io.Writer
	err error
}

// NewHTMLWriter creates an HTMLWriter on w.
func NewHTMLWriter(w io.Writer) *HTMLWriter {
	return &HTMLWriter{w: w}
}

// Raw writes trusted markup unchanged.
func (hw *HTMLWriter) Raw(s string) {
	if hw.err != nil {
		return
	}
	_, hw.err = io.WriteString(hw.w, s)
}

// Text writes s escaped for element content or a quoted attribute value.
func (hw *HTMLWriter) Text(s string) {
	hw.Raw(templ.EscapeString(s))
}

// URL writes s as an href value, replacing URLs with unsafe schemes.
func (hw *HTMLWriter) URL(s string) {
	hw.Text(string(templ.URL(s)))
}

// Component renders a nested component.
func (hw *HTMLWriter) Component(ctx context.Context, c templ.Component) {
	if hw.err != nil {
		return
	}
	hw.err = c.Render(ctx, hw.w)
}

// Err returns the first write or render error.
func (hw *HTMLWriter) Err() error {
	return hw.err
}
