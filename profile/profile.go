package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Format selects one of the two payload renderings.
// Params: constants "primary" or "secondary".
// Returns: rendering selector passed through channel sends.
type Format string

const (
	// FormatPrimary selects the rich rendering (HTML for built-in channels).
	FormatPrimary Format = "primary"
	// FormatSecondary selects the compact rendering (Markdown/plain text).
	FormatSecondary Format = "secondary"
)

// Payload is sampler-produced report content renderable in both formats.
// Params: requested format selector.
// Returns: rendered report body.
type Payload interface {
	Render(format Format) string
}

// Sampler measures one operation and produces its report payload.
// Params: Start before the operation, Stop after it.
// Returns: payload carrying the collected report.
type Sampler interface {
	Start() error
	Stop() (Payload, error)
}

// TextPayload is a pre-rendered payload carrying both format bodies.
// Params: primary and secondary rendering text.
// Returns: wire-encodable payload used by transports and tests.
type TextPayload struct {
	Primary   string `json:"primary"`
	Secondary string `json:"secondary"`
}

// Render returns the body for the requested format.
// Params: format selector.
// Returns: primary body unless secondary is requested.
func (p TextPayload) Render(format Format) string {
	if format == FormatSecondary {
		return p.Secondary
	}
	return p.Primary
}

// Profile is one captured slow-operation record.
// Params: identity, operation key, measured duration, capture time, payload and context.
// Returns: immutable value shared read-only across dispatcher workers.
type Profile struct {
	ID           string
	OperationKey string
	Duration     time.Duration
	CapturedAt   time.Time
	Payload      Payload
	Metadata     Metadata
}

// New constructs a validated profile with a generated ID.
// Params: operation key, measured duration, capture time, payload and context metadata.
// Returns: profile value or validation error.
func New(operationKey string, duration time.Duration, capturedAt time.Time, payload Payload, metadata Metadata) (Profile, error) {
	p := Profile{
		ID:           uuid.NewString(),
		OperationKey: operationKey,
		Duration:     duration,
		CapturedAt:   capturedAt.UTC(),
		Payload:      payload,
		Metadata:     metadata.Clone(),
	}
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// Validate validates the profile contract.
// Params: constructed or decoded profile fields.
// Returns: validation error when the contract is violated.
func (p Profile) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return errors.New("id is required")
	}
	if strings.TrimSpace(p.OperationKey) == "" {
		return errors.New("operation key is required")
	}
	if p.Duration < 0 {
		return errors.New("duration must be >=0")
	}
	if p.CapturedAt.IsZero() {
		return errors.New("captured_at is required")
	}
	if p.Payload == nil {
		return errors.New("payload is required")
	}
	return nil
}

// ShortID returns the leading ID fragment used in filenames and logs.
// Params: none.
// Returns: first eight ID characters.
func (p Profile) ShortID() string {
	if len(p.ID) <= 8 {
		return p.ID
	}
	return p.ID[:8]
}

// wireProfile is the JSON transport document for one profile.
type wireProfile struct {
	ID           string      `json:"id"`
	OperationKey string      `json:"operation_key"`
	DurationSec  float64     `json:"duration_sec"`
	CapturedAt   time.Time   `json:"captured_at"`
	Payload      TextPayload `json:"payload"`
	Metadata     Metadata    `json:"metadata,omitempty"`
}

// Encode encodes the profile into its JSON transport document.
// Params: none.
// Returns: encoded bytes or marshal error.
func (p Profile) Encode() ([]byte, error) {
	doc := wireProfile{
		ID:           p.ID,
		OperationKey: p.OperationKey,
		DurationSec:  p.Duration.Seconds(),
		CapturedAt:   p.CapturedAt.UTC(),
		Metadata:     p.Metadata,
	}
	if p.Payload != nil {
		doc.Payload = TextPayload{
			Primary:   p.Payload.Render(FormatPrimary),
			Secondary: p.Payload.Render(FormatSecondary),
		}
	}
	encoded, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode profile: %w", err)
	}
	return encoded, nil
}

// Decode decodes and validates one profile transport document.
// Params: JSON document bytes.
// Returns: validated profile or decode/validation error.
func Decode(raw []byte) (Profile, error) {
	var doc wireProfile
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Profile{}, fmt.Errorf("decode profile: %w", err)
	}
	p := Profile{
		ID:           doc.ID,
		OperationKey: doc.OperationKey,
		Duration:     time.Duration(doc.DurationSec * float64(time.Second)),
		CapturedAt:   doc.CapturedAt.UTC(),
		Payload:      doc.Payload,
		Metadata:     doc.Metadata,
	}
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}
