package notify

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime/multipart"
	"net/smtp"
	"net/textproto"
	"strings"

	"perfmonitor/channel"
	"perfmonitor/internal/report"
	"perfmonitor/profile"
)

const defaultSMTPPort = 587

const defaultSubjectPrefix = "[Performance Alert]"

// EmailChannel sends the alert as a MIME message with the report bundle
// attached. The send function is injectable so tests never open sockets.
// Params: SMTP endpoint, credentials, and recipient list from settings.
// Returns: SMTP delivery channel.
type EmailChannel struct {
	host          string
	port          int
	username      string
	password      string
	from          string
	to            []string
	subjectPrefix string

	sendMail func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailChannel creates the SMTP channel.
// Params: settings with "host", "port", "username", "password", "from",
// "to", and optional "subject_prefix".
// Returns: initialized channel.
func NewEmailChannel(settings channel.Settings) *EmailChannel {
	port := settings.Int("port", defaultSMTPPort)
	if port <= 0 {
		port = defaultSMTPPort
	}
	return &EmailChannel{
		host:          strings.TrimSpace(settings.String("host")),
		port:          port,
		username:      strings.TrimSpace(settings.String("username")),
		password:      settings.String("password"),
		from:          strings.TrimSpace(settings.String("from")),
		to:            settings.StringList("to"),
		subjectPrefix: strings.TrimSpace(settings.StringOr("subject_prefix", defaultSubjectPrefix)),
		sendMail:      smtp.SendMail,
	}
}

// Type returns the channel tag.
// Params: none.
// Returns: static channel key.
func (c *EmailChannel) Type() string {
	return channel.TypeEmail
}

// ValidateConfig checks the channel settings at startup.
// Params: none.
// Returns: error listing the first missing required field.
func (c *EmailChannel) ValidateConfig() error {
	if c.host == "" {
		return errors.New("email channel requires a host")
	}
	if c.from == "" {
		return errors.New("email channel requires a from address")
	}
	if len(c.to) == 0 {
		return errors.New("email channel requires at least one recipient")
	}
	return nil
}

// Send builds and submits the alert message. The body carries both a
// plain-text and an HTML rendering, plus the zipped report bundle.
// Params: context, captured profile, and report format.
// Returns: render or SMTP error.
func (c *EmailChannel) Send(ctx context.Context, p profile.Profile, _ profile.Format) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	message, err := c.buildMessage(p)
	if err != nil {
		return err
	}

	var auth smtp.Auth
	if c.username != "" {
		auth = smtp.PlainAuth("", c.username, c.password, c.host)
	}
	addr := fmt.Sprintf("%s:%d", c.host, c.port)
	if err := c.sendMail(addr, auth, c.from, c.to, message); err != nil {
		return fmt.Errorf("email send: %w", err)
	}
	return nil
}

// Subject formats the alert subject line for one profile.
// Params: captured profile.
// Returns: "<prefix> <operation> - <duration>s".
func (c *EmailChannel) Subject(p profile.Profile) string {
	return fmt.Sprintf("%s %s - %s", c.subjectPrefix, p.OperationKey, report.FormatSeconds(p))
}

// buildMessage assembles the full MIME document for one alert.
// Params: captured profile.
// Returns: RFC 5322 message bytes or render error.
func (c *EmailChannel) buildMessage(p profile.Profile) ([]byte, error) {
	htmlBody, err := report.HTML(p)
	if err != nil {
		return nil, err
	}
	archive, archiveName, err := report.ZipAttachment(p)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	mixed := multipart.NewWriter(&buf)

	fmt.Fprintf(&buf, "From: %s\r\n", c.from)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(c.to, ", "))
	fmt.Fprintf(&buf, "Subject: %s\r\n", c.Subject(p))
	buf.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", mixed.Boundary())

	if err := writeAlternativePart(mixed, report.Text(p), htmlBody); err != nil {
		return nil, err
	}
	if err := writeAttachmentPart(mixed, archiveName, archive); err != nil {
		return nil, err
	}
	if err := mixed.Close(); err != nil {
		return nil, fmt.Errorf("finish email message: %w", err)
	}
	return buf.Bytes(), nil
}

// writeAlternativePart nests the text and HTML renderings for mail clients.
func writeAlternativePart(mixed *multipart.Writer, textBody, htmlBody string) error {
	var inner bytes.Buffer
	alternative := multipart.NewWriter(&inner)

	textPart, err := alternative.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"text/plain; charset=utf-8"},
	})
	if err != nil {
		return fmt.Errorf("build email text part: %w", err)
	}
	if _, err := textPart.Write([]byte(textBody)); err != nil {
		return fmt.Errorf("write email text part: %w", err)
	}

	htmlPart, err := alternative.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"text/html; charset=utf-8"},
	})
	if err != nil {
		return fmt.Errorf("build email html part: %w", err)
	}
	if _, err := htmlPart.Write([]byte(htmlBody)); err != nil {
		return fmt.Errorf("write email html part: %w", err)
	}
	if err := alternative.Close(); err != nil {
		return fmt.Errorf("finish email alternative part: %w", err)
	}

	wrapper, err := mixed.CreatePart(textproto.MIMEHeader{
		"Content-Type": {fmt.Sprintf("multipart/alternative; boundary=%q", alternative.Boundary())},
	})
	if err != nil {
		return fmt.Errorf("build email body wrapper: %w", err)
	}
	if _, err := wrapper.Write(inner.Bytes()); err != nil {
		return fmt.Errorf("write email body wrapper: %w", err)
	}
	return nil
}

// writeAttachmentPart appends the base64-encoded report bundle.
func writeAttachmentPart(mixed *multipart.Writer, filename string, data []byte) error {
	part, err := mixed.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {"application/zip"},
		"Content-Transfer-Encoding": {"base64"},
		"Content-Disposition":       {fmt.Sprintf("attachment; filename=%q", filename)},
	})
	if err != nil {
		return fmt.Errorf("build email attachment part: %w", err)
	}

	encoded := base64.StdEncoding.EncodeToString(data)
	for len(encoded) > 0 {
		line := encoded
		if len(line) > 76 {
			line = encoded[:76]
		}
		if _, err := part.Write([]byte(line + "\r\n")); err != nil {
			return fmt.Errorf("write email attachment: %w", err)
		}
		encoded = encoded[len(line):]
	}
	return nil
}
