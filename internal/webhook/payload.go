package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

const (
	// maxMessageLength bounds free-text fields carried in webhook bodies.
	maxMessageLength = 500
	// maxSoftErrors bounds array fields in decision payloads.
	maxSoftErrors = 10
)

var (
	// ErrInvalidPayload marks a body that fails structural validation.
	ErrInvalidPayload = errors.New("webhook: invalid payload")

	idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

	// stripPolicy removes all markup from free-text fields before the
	// printable-character allowlist is applied.
	stripPolicy = bluemonday.StrictPolicy()
)

// Notification is the parsed body of a provider webhook. Identifier fields are
// validated against a strict character set; free-text fields are sanitized.
type Notification struct {
	Event        string `json:"event"`
	Status       string `json:"status"`
	SessionID    string `json:"sessionId"`
	CaptureID    string `json:"captureId,omitempty"`
	RefundID     string `json:"refundId,omitempty"`
	AutoCaptured bool   `json:"autoCaptured,omitempty"`
	Transaction  string `json:"transaction,omitempty"`
}

// ParseNotification decodes and validates a raw webhook body. It must only be
// called after signature verification; validation here bounds resource use,
// it does not authenticate.
func ParseNotification(rawBody []byte) (Notification, error) {
	var n Notification
	if err := json.Unmarshal(rawBody, &n); err != nil {
		return Notification{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	if err := validateID("sessionId", n.SessionID, true); err != nil {
		return Notification{}, err
	}
	if err := validateID("captureId", n.CaptureID, false); err != nil {
		return Notification{}, err
	}
	if err := validateID("refundId", n.RefundID, false); err != nil {
		return Notification{}, err
	}

	n.Event = sanitizeText(n.Event)
	n.Status = sanitizeText(n.Status)
	n.Transaction = sanitizeText(n.Transaction)
	if n.Event == "" || n.Status == "" {
		return Notification{}, fmt.Errorf("%w: event and status are required", ErrInvalidPayload)
	}
	return n, nil
}

// DecisionInput is the parsed body of a browser-widget decision callback.
type DecisionInput struct {
	SessionID     string   `json:"sessionId"`
	Decision      string   `json:"decision"`
	RejectionType string   `json:"rejectionType,omitempty"`
	HardError     string   `json:"hardError,omitempty"`
	SoftErrors    []string `json:"softErrors,omitempty"`
}

// ParseDecision decodes and validates a decision callback body.
func ParseDecision(rawBody []byte) (DecisionInput, error) {
	var d DecisionInput
	if err := json.Unmarshal(rawBody, &d); err != nil {
		return DecisionInput{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := validateID("sessionId", d.SessionID, true); err != nil {
		return DecisionInput{}, err
	}
	switch d.Decision {
	case "allow", "reject":
	default:
		return DecisionInput{}, fmt.Errorf("%w: decision must be allow or reject", ErrInvalidPayload)
	}
	if len(d.SoftErrors) > maxSoftErrors {
		return DecisionInput{}, fmt.Errorf("%w: too many soft errors", ErrInvalidPayload)
	}
	d.RejectionType = sanitizeText(d.RejectionType)
	d.HardError = sanitizeText(d.HardError)
	for i, s := range d.SoftErrors {
		d.SoftErrors[i] = sanitizeText(s)
	}
	return d, nil
}

func validateID(field, value string, required bool) error {
	if value == "" {
		if required {
			return fmt.Errorf("%w: %s is required", ErrInvalidPayload, field)
		}
		return nil
	}
	if !idPattern.MatchString(value) {
		return fmt.Errorf("%w: %s has invalid format", ErrInvalidPayload, field)
	}
	return nil
}

// sanitizeText strips markup, drops non-printable runes, and truncates to
// maxMessageLength runes. Truncating by rune keeps the output valid UTF-8.
func sanitizeText(s string) string {
	s = stripPolicy.Sanitize(s)
	var b strings.Builder
	b.Grow(len(s))
	kept := 0
	for _, r := range s {
		if r == ' ' || (unicode.IsPrint(r) && !unicode.IsControl(r)) {
			b.WriteRune(r)
			kept++
			if kept == maxMessageLength {
				break
			}
		}
	}
	return strings.TrimSpace(b.String())
}
