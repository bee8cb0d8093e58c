package report

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"perfmonitor/internal/templatefmt"
	"perfmonitor/profile"
)

const (
	markdownReportLimit = 3000
	textReportLimit     = 2000
)

// metadata keys lifted into dedicated report sections.
var sectionKeys = map[string]bool{
	"url":             true,
	"path":            true,
	"method":          true,
	"query_params":    true,
	"form_data":       true,
	"json_body":       true,
	"request_headers": true,
}

// Markdown renders the full secondary-format report body.
// Params: captured profile.
// Returns: markdown document with request context and the sampler report.
func Markdown(p profile.Profile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Performance Alert: %s\n\n", p.OperationKey)
	fmt.Fprintf(&b, "**Duration**: %s\n", FormatSeconds(p))
	fmt.Fprintf(&b, "**Captured**: %s\n", templatefmt.FormatTime(p.CapturedAt))
	fmt.Fprintf(&b, "**Profile ID**: %s\n\n", p.ID)

	writeMarkdownRequestDetails(&b, p.Metadata)
	writeMarkdownHeaders(&b, p.Metadata)
	writeMarkdownParams(&b, p.Metadata)
	writeMarkdownContext(&b, p.Metadata)

	b.WriteString("### Performance Profile\n```\n")
	b.WriteString(Truncate(p.Payload.Render(profile.FormatSecondary), markdownReportLimit))
	b.WriteString("\n```\n")
	return b.String()
}

// Text renders the flat plain-text report body.
// Params: captured profile.
// Returns: line-oriented report for SMTP fallback and log-friendly sinks.
func Text(p profile.Profile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Performance Alert: %s\n", p.OperationKey)
	fmt.Fprintf(&b, "Duration: %s\n", FormatSeconds(p))
	fmt.Fprintf(&b, "Captured: %s\n\n", templatefmt.FormatTime(p.CapturedAt))

	if len(p.Metadata) > 0 {
		b.WriteString("Context:\n")
		for _, field := range p.Metadata {
			fmt.Fprintf(&b, "  %s: %s\n", field.Key, templatefmt.Display(field.Value))
		}
		b.WriteByte('\n')
	}

	b.WriteString("Report:\n")
	b.WriteString(strings.Repeat("-", 40))
	b.WriteByte('\n')
	b.WriteString(Truncate(p.Payload.Render(profile.FormatSecondary), textReportLimit))
	b.WriteByte('\n')
	return b.String()
}

// Brief renders the short alert summary used by chat channels.
// Params: captured profile.
// Returns: markdown table message referencing the attached full report.
func Brief(p profile.Profile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "### :warning: Performance Alert: `%s`\n\n", p.OperationKey)
	b.WriteString("| Field | Value |\n|-------|-------|\n")
	fmt.Fprintf(&b, "| **Duration** | %s |\n", FormatSeconds(p))
	fmt.Fprintf(&b, "| **Captured** | %s |\n", templatefmt.FormatTime(p.CapturedAt))
	if method := p.Metadata.GetString("method"); method != "" {
		fmt.Fprintf(&b, "| **Method** | %s |\n", method)
	}
	b.WriteString("\nSee the attached report for the full profile.")
	return b.String()
}

// FormatSeconds renders the profile duration with millisecond precision.
// Params: captured profile.
// Returns: seconds string such as "1.204s".
func FormatSeconds(p profile.Profile) string {
	return templatefmt.FormatSeconds(p.Duration)
}

// Truncate caps a report body at limit bytes with a marker.
// Params: body text and byte limit.
// Returns: original body or capped body ending with a truncation marker.
func Truncate(body string, limit int) string {
	if limit <= 0 || len(body) <= limit {
		return body
	}
	return body[:limit] + "\n... (truncated)"
}

func writeMarkdownRequestDetails(b *strings.Builder, meta profile.Metadata) {
	url := meta.GetString("url")
	path := meta.GetString("path")
	method := meta.GetString("method")
	if url == "" && path == "" && method == "" {
		return
	}
	b.WriteString("### Request Details\n\n")
	if url != "" {
		fmt.Fprintf(b, "**URL**: %s\n", url)
	}
	if path != "" {
		fmt.Fprintf(b, "**Path**: %s\n", path)
	}
	if method != "" {
		fmt.Fprintf(b, "**Method**: %s\n", method)
	}
	b.WriteByte('\n')
}

func writeMarkdownHeaders(b *strings.Builder, meta profile.Metadata) {
	value, ok := meta.Get("request_headers")
	if !ok {
		return
	}
	headers := orderedPairs(value)
	if len(headers) == 0 {
		return
	}
	b.WriteString("### Request Headers\n\n")
	for _, pair := range headers {
		fmt.Fprintf(b, "- **%s**: %s\n", pair[0], pair[1])
	}
	b.WriteByte('\n')
}

func writeMarkdownParams(b *strings.Builder, meta profile.Metadata) {
	sections := []struct {
		key   string
		title string
	}{
		{"query_params", "Query Parameters"},
		{"form_data", "Form Data"},
		{"json_body", "JSON Body"},
	}

	wroteHeading := false
	for _, section := range sections {
		value, ok := meta.Get(section.key)
		if !ok || value == nil {
			continue
		}
		encoded, err := json.MarshalIndent(value, "", "  ")
		if err != nil {
			continue
		}
		if !wroteHeading {
			b.WriteString("### Request Parameters\n\n")
			wroteHeading = true
		}
		fmt.Fprintf(b, "**%s:**\n```json\n%s\n```\n\n", section.title, encoded)
	}
}

func writeMarkdownContext(b *strings.Builder, meta profile.Metadata) {
	wroteHeading := false
	for _, field := range meta {
		if sectionKeys[field.Key] {
			continue
		}
		if !wroteHeading {
			b.WriteString("### Context\n")
			wroteHeading = true
		}
		fmt.Fprintf(b, "- **%s**: %s\n", field.Key, templatefmt.Display(field.Value))
	}
	if wroteHeading {
		b.WriteByte('\n')
	}
}

// orderedPairs flattens a map-like metadata value into sorted key/value pairs.
func orderedPairs(value any) [][2]string {
	switch typed := value.(type) {
	case map[string]string:
		pairs := make([][2]string, 0, len(typed))
		for key, item := range typed {
			pairs = append(pairs, [2]string{key, item})
		}
		sortPairs(pairs)
		return pairs
	case map[string]any:
		pairs := make([][2]string, 0, len(typed))
		for key, item := range typed {
			pairs = append(pairs, [2]string{key, templatefmt.Display(item)})
		}
		sortPairs(pairs)
		return pairs
	case profile.Metadata:
		pairs := make([][2]string, 0, len(typed))
		for _, field := range typed {
			pairs = append(pairs, [2]string{field.Key, templatefmt.Display(field.Value)})
		}
		return pairs
	}
	return nil
}

func sortPairs(pairs [][2]string) {
	sort.Slice(pairs, func(i, j int) bool { return pairs[i][0] < pairs[j][0] })
}
