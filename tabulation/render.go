/*
render.go - Per-form renderer registry

PURPOSE:
  Each tally sheet form may have bespoke presentation (the polling-division
  summary renders differently from the district letter). Selection is an
  explicit table lookup by template code behind a shared capability
  interface - no reflection, no dynamic class selection.

SEE ALSO:
  - api package: Serves Render output on the HTML endpoints
*/
package tabulation

import (
	"fmt"
	"html"
	"strings"
	"sync"
)

// Renderer turns a version into a human-readable document.
type Renderer interface {
	Render(sheet *TallySheet, version *Version) ([]byte, error)
	RenderLetter(sheet *TallySheet, version *Version) ([]byte, error)
}

// RendererRegistry maps template codes to renderer implementations, with a
// fallback for codes without bespoke presentation.
type RendererRegistry struct {
	mu       sync.RWMutex
	byCode   map[string]Renderer
	fallback Renderer
}

func NewRendererRegistry() *RendererRegistry {
	return &RendererRegistry{
		byCode:   make(map[string]Renderer),
		fallback: TableRenderer{},
	}
}

// Register binds a renderer to a template code, replacing any previous one.
func (r *RendererRegistry) Register(code string, renderer Renderer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byCode[code] = renderer
}

// For returns the renderer for a template code, or the fallback.
func (r *RendererRegistry) For(code string) Renderer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if renderer, ok := r.byCode[code]; ok {
		return renderer
	}
	return r.fallback
}

// =============================================================================
// TABLE RENDERER - Default presentation
// =============================================================================

// TableRenderer renders version rows as a plain HTML table.
type TableRenderer struct{}

func (TableRenderer) Render(sheet *TallySheet, version *Version) ([]byte, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "<html><body><h2>Tally Sheet %s</h2>", html.EscapeString(string(sheet.ID)))
	fmt.Fprintf(&b, "<p>Version %s, complete: %t</p>", html.EscapeString(string(version.ID)), version.IsComplete)
	b.WriteString("<table><tr><th>Row</th><th>Candidate</th><th>Party</th><th>Area</th><th>Value</th></tr>")
	for _, row := range version.Rows {
		fmt.Fprintf(&b, "<tr><td>%s</td><td>%s</td><td>%s</td><td>%s</td><td>%s</td></tr>",
			html.EscapeString(string(row.TemplateRowID)),
			html.EscapeString(candidateCell(row)),
			html.EscapeString(partyCell(row)),
			html.EscapeString(areaCell(row)),
			html.EscapeString(valueCell(row)),
		)
	}
	b.WriteString("</table></body></html>")
	return []byte(b.String()), nil
}

func (t TableRenderer) RenderLetter(sheet *TallySheet, version *Version) ([]byte, error) {
	return t.Render(sheet, version)
}

func candidateCell(row VersionRow) string {
	if row.CandidateID == nil {
		return ""
	}
	return string(*row.CandidateID)
}

func partyCell(row VersionRow) string {
	if row.PartyID == nil {
		return ""
	}
	return string(*row.PartyID)
}

func areaCell(row VersionRow) string {
	if row.AreaID == nil {
		return ""
	}
	return string(*row.AreaID)
}

func valueCell(row VersionRow) string {
	if row.NumValue != nil {
		return row.NumValue.String()
	}
	if row.StrValue != nil {
		return *row.StrValue
	}
	return ""
}
