// Package templatefmt provides the shared helper set for report
// templates and the value formatting used across report renderings.
package templatefmt

import (
	"encoding/json"
	"fmt"
	"text/template"
	"time"
)

// FuncMap returns the report template helpers.
// Params: none.
// Returns: deterministic helper map shared by all report templates.
func FuncMap() template.FuncMap {
	return template.FuncMap{
		"fmtSeconds": FormatSeconds,
		"fmtTime":    FormatTime,
		"display":    Display,
	}
}

// FormatSeconds renders a duration as seconds with millisecond
// precision, the way durations appear everywhere in reports.
// Params: measured duration.
// Returns: string such as "1.204s".
func FormatSeconds(d time.Duration) string {
	return fmt.Sprintf("%.3fs", d.Seconds())
}

// FormatTime renders a capture timestamp for reports.
// Params: capture time.
// Returns: RFC 3339 string in UTC.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// Display renders one metadata value for embedding in a report.
// Strings pass through untouched; structured values become JSON.
// Params: metadata value of any type.
// Returns: display string; marshal failures fall back to fmt.
func Display(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	case fmt.Stringer:
		return typed.String()
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprint(value)
	}
	return string(encoded)
}
