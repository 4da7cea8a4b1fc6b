// Package templates renders the HTML status page.
package templates

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/a-h/templ"

	"github.com/JonMunkholm/viability/internal/core"
)

// topBuckets limits each breakdown table on the page.
const topBuckets = 10

// StatusView is the data behind the status page.
type StatusView struct {
	Stats  core.StatsResult
	Reload core.ReloadStatus
}

// StatusPage shows what is loaded and what the reloader is doing.
func StatusPage(v StatusView) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		p := &printer{w: w}
		p.raw(`<!DOCTYPE html><html lang="pt-BR"><head><meta charset="utf-8"><title>Viabilidade</title>`)
		p.raw(`<style>body{font-family:sans-serif;margin:2rem}table{border-collapse:collapse}td,th{padding:.25rem .75rem;border-bottom:1px solid #ddd;text-align:left}</style>`)
		p.raw(`</head><body><h1>Consulta de viabilidade</h1>`)

		if v.Stats.Populated {
			p.rawf(`<p>%d records loaded at %s</p>`, v.Stats.Stats.Total, v.Stats.LoadedAt.Format(time.RFC3339))
		} else {
			p.raw(`<p>No data loaded. POST an .xlsx workbook to <code>/api/reload</code>.</p>`)
		}

		p.raw(`<h2>Reload</h2><p>Phase: `)
		p.text(string(v.Reload.Phase))
		p.raw(`</p>`)
		if last := v.Reload.Last; last != nil {
			p.raw(`<p>Last: `)
			p.text(last.Message)
			p.raw(`</p>`)
		}

		p.table("Viability", v.Stats.Stats.ByViability)
		p.table("Municipality", v.Stats.Stats.ByMunicipality)

		p.raw(`<p><a href="/health">/health</a> · <a href="/api/reloads">/api/reloads</a> · <a href="/metrics">/metrics</a></p>`)
		p.raw(`</body></html>`)
		return p.err
	})
}

// printer stops writing after the first error.
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) raw(s string) {
	if p.err == nil {
		_, p.err = io.WriteString(p.w, s)
	}
}

func (p *printer) rawf(format string, args ...any) {
	if p.err == nil {
		_, p.err = fmt.Fprintf(p.w, format, args...)
	}
}

func (p *printer) text(s string) {
	p.raw(templ.EscapeString(s))
}

func (p *printer) table(title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	p.raw(`<h2>`)
	p.text(title)
	p.raw(`</h2><table><tr><th>Value</th><th>Records</th></tr>`)
	for i, b := range core.Ranked(counts) {
		if i == topBuckets {
			break
		}
		p.raw(`<tr><td>`)
		p.text(b.Key)
		p.rawf(`</td><td>%d</td></tr>`, b.Count)
	}
	p.raw(`</table>`)
}
