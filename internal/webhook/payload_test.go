package webhook

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestParseNotificationValid(t *testing.T) {
	raw := []byte(`{"event":"capture_status","status":"approved","sessionId":"sess_abc-123","captureId":"cap_1","autoCaptured":true}`)

	n, err := ParseNotification(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.Event != "capture_status" || n.Status != "approved" {
		t.Fatalf("unexpected event/status: %+v", n)
	}
	if n.SessionID != "sess_abc-123" || n.CaptureID != "cap_1" {
		t.Fatalf("unexpected ids: %+v", n)
	}
	if !n.AutoCaptured {
		t.Fatalf("expected autoCaptured to survive parsing")
	}
}

func TestParseNotificationRejectsBadIdentifiers(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"missing session id", `{"event":"order_status","status":"order_pending"}`},
		{"session id with space", `{"event":"order_status","status":"order_pending","sessionId":"sess 1"}`},
		{"session id with slash", `{"event":"order_status","status":"order_pending","sessionId":"../etc"}`},
		{"session id too long", `{"event":"order_status","status":"order_pending","sessionId":"` + strings.Repeat("a", 129) + `"}`},
		{"capture id with quote", `{"event":"capture_status","status":"pending","sessionId":"s1","captureId":"cap'1"}`},
		{"refund id with unicode", `{"event":"refund_status","status":"pending","sessionId":"s1","refundId":"refé"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseNotification([]byte(tc.raw)); !errors.Is(err, ErrInvalidPayload) {
				t.Fatalf("expected ErrInvalidPayload, got %v", err)
			}
		})
	}
}

func TestParseNotificationSanitizesFreeText(t *testing.T) {
	raw := []byte(`{"event":"order_status","status":"order_pending","sessionId":"s1","transaction":"<script>alert(1)</script>ok\u0000\u0007 fine"}`)

	n, err := ParseNotification(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(n.Transaction, "<") || strings.Contains(n.Transaction, "script") {
		t.Fatalf("markup not stripped: %q", n.Transaction)
	}
	if strings.ContainsRune(n.Transaction, 0) || strings.ContainsRune(n.Transaction, 7) {
		t.Fatalf("control characters not stripped: %q", n.Transaction)
	}
	if !strings.Contains(n.Transaction, "ok") || !strings.Contains(n.Transaction, "fine") {
		t.Fatalf("printable content lost: %q", n.Transaction)
	}
}

func TestParseNotificationTruncatesLongText(t *testing.T) {
	long := strings.Repeat("x", 2000)
	raw := []byte(`{"event":"order_status","status":"order_pending","sessionId":"s1","transaction":"` + long + `"}`)

	n, err := ParseNotification(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(n.Transaction) != maxMessageLength {
		t.Fatalf("expected truncation to %d, got %d", maxMessageLength, len(n.Transaction))
	}
}

func TestParseNotificationTruncatesOnRuneBoundary(t *testing.T) {
	long := strings.Repeat("ü", 2000)
	raw := []byte(`{"event":"order_status","status":"order_pending","sessionId":"s1","transaction":"` + long + `"}`)

	n, err := ParseNotification(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !utf8.ValidString(n.Transaction) {
		t.Fatalf("truncation produced invalid UTF-8: %q", n.Transaction[:8])
	}
	if got := utf8.RuneCountInString(n.Transaction); got != maxMessageLength {
		t.Fatalf("expected %d runes, got %d", maxMessageLength, got)
	}
}

func TestParseNotificationRejectsMalformedJSON(t *testing.T) {
	if _, err := ParseNotification([]byte(`{"event":`)); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
}

func TestParseDecision(t *testing.T) {
	d, err := ParseDecision([]byte(`{"sessionId":"s1","decision":"reject","rejectionType":"address_mismatch","softErrors":["a","b"]}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Decision != "reject" || d.RejectionType != "address_mismatch" || len(d.SoftErrors) != 2 {
		t.Fatalf("unexpected decision: %+v", d)
	}
}

func TestParseDecisionRejectsInvalidInput(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"unknown decision", `{"sessionId":"s1","decision":"maybe"}`},
		{"missing session id", `{"decision":"allow"}`},
		{"too many soft errors", `{"sessionId":"s1","decision":"reject","softErrors":["1","2","3","4","5","6","7","8","9","10","11"]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseDecision([]byte(tc.raw)); !errors.Is(err, ErrInvalidPayload) {
				t.Fatalf("expected ErrInvalidPayload, got %v", err)
			}
		})
	}
}
