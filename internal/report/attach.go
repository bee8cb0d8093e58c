package report

import (
	"archive/zip"
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"perfmonitor/profile"
)

const maxStemLength = 50

var (
	unsafeFilenameChars = regexp.MustCompile(`[/\\?%*:|"<>]`)
	underscoreRuns      = regexp.MustCompile(`_+`)
	methodPrefix        = regexp.MustCompile(`^(GET|POST|PUT|DELETE|PATCH|HEAD|OPTIONS)\s+`)
)

// SafeStem converts an operation key into a filesystem-safe name fragment.
// The HTTP method prefix is dropped, unsafe characters become underscores,
// runs collapse, and the result is capped at 50 characters.
// Params: operation key such as "GET /api/users/42".
// Returns: sanitized fragment, or "unknown" when nothing survives.
func SafeStem(operationKey string) string {
	stem := methodPrefix.ReplaceAllString(operationKey, "")
	stem = unsafeFilenameChars.ReplaceAllString(stem, "_")
	stem = underscoreRuns.ReplaceAllString(stem, "_")
	stem = strings.Trim(stem, "_ ")
	if len(stem) > maxStemLength {
		stem = stem[:maxStemLength]
		stem = strings.Trim(stem, "_ ")
	}
	if stem == "" {
		return "unknown"
	}
	return stem
}

// FileStem names report files written by the local channel.
// Params: captured profile.
// Returns: "<sanitized-key>_<short-id>".
func FileStem(p profile.Profile) string {
	return fmt.Sprintf("%s_%s", SafeStem(p.OperationKey), p.ShortID())
}

// AttachmentStem names report bundles shipped to remote channels.
// Params: captured profile.
// Returns: "perf_report_<sanitized-key>_<short-id>".
func AttachmentStem(p profile.Profile) string {
	return "perf_report_" + FileStem(p)
}

// ZipAttachment bundles the markdown and HTML reports into one archive.
// Params: captured profile.
// Returns: archive bytes and its filename, or an error when rendering or
// archive writing fails.
func ZipAttachment(p profile.Profile) ([]byte, string, error) {
	stem := AttachmentStem(p)

	htmlBody, err := HTML(p)
	if err != nil {
		return nil, "", err
	}

	var buf bytes.Buffer
	archive := zip.NewWriter(&buf)

	entries := []struct {
		name string
		body string
	}{
		{stem + ".md", Markdown(p)},
		{stem + ".html", htmlBody},
	}
	for _, entry := range entries {
		w, err := archive.Create(entry.name)
		if err != nil {
			return nil, "", fmt.Errorf("create archive entry %s: %w", entry.name, err)
		}
		if _, err := w.Write([]byte(entry.body)); err != nil {
			return nil, "", fmt.Errorf("write archive entry %s: %w", entry.name, err)
		}
	}
	if err := archive.Close(); err != nil {
		return nil, "", fmt.Errorf("close report archive: %w", err)
	}
	return buf.Bytes(), stem + ".zip", nil
}
