package report

import (
	"fmt"
	"html/template"
	"strings"
	"time"

	"perfmonitor/internal/templatefmt"
	"perfmonitor/profile"
)

const htmlDocument = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Performance Alert: {{.OperationKey}}</title>
<style>
body { font-family: -apple-system, "Segoe UI", sans-serif; margin: 0; background: #f4f5f7; }
.header { background: #1d2939; color: #fff; padding: 16px 24px; }
.header h1 { margin: 0; font-size: 18px; }
.summary { background: #fff; margin: 16px 24px; padding: 16px; border-radius: 6px; box-shadow: 0 1px 2px rgba(0,0,0,.08); }
.summary table { border-collapse: collapse; }
.summary td { padding: 4px 16px 4px 0; font-size: 14px; vertical-align: top; }
.summary td.key { color: #667085; white-space: nowrap; }
.report { margin: 16px 24px; }
pre { background: #fff; padding: 16px; border-radius: 6px; overflow-x: auto; font-size: 13px; }
</style>
</head>
<body>
<div class="header"><h1>Performance Alert: {{.OperationKey}}</h1></div>
<div class="summary">
<table>
<tr><td class="key">Duration</td><td>{{fmtSeconds .Duration}}</td></tr>
<tr><td class="key">Captured</td><td>{{fmtTime .CapturedAt}}</td></tr>
<tr><td class="key">Profile ID</td><td>{{.ID}}</td></tr>
{{- range .Fields}}
<tr><td class="key">{{.Key}}</td><td>{{display .Value}}</td></tr>
{{- end}}
</table>
</div>
<div class="report">
{{.Report}}
</div>
</body>
</html>
`

var htmlTemplate = template.Must(
	template.New("report").
		Funcs(template.FuncMap(templatefmt.FuncMap())).
		Option("missingkey=error").
		Parse(htmlDocument))

type htmlContext struct {
	OperationKey string
	Duration     time.Duration
	CapturedAt   time.Time
	ID           string
	Fields       profile.Metadata
	Report       template.HTML
}

// HTML renders the primary-format report as a standalone document.
// The sampler's primary rendering is embedded as-is when it already is an
// HTML fragment; otherwise the secondary rendering is escaped into a <pre>.
// Params: captured profile.
// Returns: complete HTML page, or an error when template execution fails.
func HTML(p profile.Profile) (string, error) {
	primary := p.Payload.Render(profile.FormatPrimary)

	var body template.HTML
	if isHTMLFragment(primary) {
		body = template.HTML(primary)
	} else {
		fallback := primary
		if fallback == "" {
			fallback = p.Payload.Render(profile.FormatSecondary)
		}
		body = template.HTML("<pre>" + template.HTMLEscapeString(fallback) + "</pre>")
	}

	ctx := htmlContext{
		OperationKey: p.OperationKey,
		Duration:     p.Duration,
		CapturedAt:   p.CapturedAt,
		ID:           p.ID,
		Fields:       p.Metadata,
		Report:       body,
	}

	var b strings.Builder
	if err := htmlTemplate.Execute(&b, ctx); err != nil {
		return "", fmt.Errorf("render html report: %w", err)
	}
	return b.String(), nil
}

// isHTMLFragment reports whether the sampler produced markup rather than text.
func isHTMLFragment(s string) bool {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return false
	}
	lower := strings.ToLower(trimmed)
	return strings.HasPrefix(lower, "<!doctype") || strings.HasPrefix(lower, "<html") ||
		strings.HasPrefix(lower, "<div") || strings.HasPrefix(lower, "<body")
}
