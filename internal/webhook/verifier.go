// Package webhook authenticates and parses inbound provider notifications.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultTolerance bounds how far in the past an accepted signature may be.
	DefaultTolerance = 5 * time.Minute
	// futureSkew is the fixed allowance for provider clocks running ahead,
	// independent of the configured tolerance.
	futureSkew = time.Minute
	// DefaultMaxReplayEntries caps the replay cache under sustained traffic.
	DefaultMaxReplayEntries = 5000
)

// Verification failure modes. Messages are part of the contract with the
// provider's webhook documentation and surface verbatim in responses.
var (
	ErrInvalidHeader    = errors.New("Invalid signature header format")
	ErrInvalidTimestamp = errors.New("Invalid timestamp")
	ErrTooOld           = errors.New("webhook too old")
	ErrFromFuture       = errors.New("webhook from the future")
	ErrSignature        = errors.New("Signature validation failed")
	ErrReplay           = errors.New("Replay detected")
)

type replayEntry struct {
	key    string
	seenAt time.Time
}

// Verifier checks the HMAC signature header on raw webhook bodies and tracks
// seen signatures in a bounded in-process cache for replay protection. Replay
// protection is best-effort across process restarts; nothing is persisted.
type Verifier struct {
	tolerance  time.Duration
	maxEntries int
	now        func() time.Time

	mu    sync.Mutex
	seen  map[string]time.Time
	order []replayEntry
}

// Option customises Verifier construction.
type Option func(*Verifier)

// WithTolerance overrides the accepted signature age.
func WithTolerance(d time.Duration) Option {
	return func(v *Verifier) {
		if d > 0 {
			v.tolerance = d
		}
	}
}

// WithClock injects a custom clock, primarily for tests.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

// WithMaxReplayEntries overrides the replay cache bound.
func WithMaxReplayEntries(n int) Option {
	return func(v *Verifier) {
		if n > 0 {
			v.maxEntries = n
		}
	}
}

// NewVerifier constructs a Verifier with an empty replay cache.
func NewVerifier(opts ...Option) *Verifier {
	v := &Verifier{
		tolerance:  DefaultTolerance,
		maxEntries: DefaultMaxReplayEntries,
		now:        time.Now,
		seen:       make(map[string]time.Time),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// Verify checks the signature header against the raw request body. A nil return
// means the notification is authentic, fresh, and not a replay.
func (v *Verifier) Verify(rawBody []byte, signatureHeader, secret string) error {
	if v == nil {
		return errors.New("webhook: verifier is nil")
	}
	if strings.TrimSpace(secret) == "" {
		return errors.New("webhook: secret is required")
	}

	timestampValue, signature, err := parseSignatureHeader(signatureHeader)
	if err != nil {
		return err
	}

	timestampMs, err := strconv.ParseInt(timestampValue, 10, 64)
	if err != nil {
		return ErrInvalidTimestamp
	}

	now := v.now().UnixMilli()
	if now-timestampMs > v.tolerance.Milliseconds() {
		return ErrTooOld
	}
	if timestampMs-now > futureSkew.Milliseconds() {
		return ErrFromFuture
	}

	expected := computeSignature(rawBody, timestampValue, secret)
	// Byte-length mismatch is rejected up front so the comparison below never
	// runs over unequal lengths.
	if len(signature) != len(expected) {
		return ErrSignature
	}
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return ErrSignature
	}

	if v.recordReplay(timestampValue, signature) {
		return ErrReplay
	}
	return nil
}

// Clear resets the replay cache, for test isolation.
func (v *Verifier) Clear() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.seen = make(map[string]time.Time)
	v.order = nil
}

// ReplayCacheSize reports the number of tracked signatures.
func (v *Verifier) ReplayCacheSize() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.seen)
}

// recordReplay returns true when the signature was already seen inside the
// tolerance window, otherwise records it.
func (v *Verifier) recordReplay(timestampValue, signature string) bool {
	digest := sha256.Sum256([]byte(timestampValue + "." + signature))
	key := hex.EncodeToString(digest[:])
	now := v.now()
	cutoff := now.Add(-v.tolerance)

	v.mu.Lock()
	defer v.mu.Unlock()

	// Purge entries that fell out of the tolerance window. Eviction order is
	// insertion order, kept explicitly rather than relying on map iteration.
	for len(v.order) > 0 && v.order[0].seenAt.Before(cutoff) {
		delete(v.seen, v.order[0].key)
		v.order = v.order[1:]
	}

	if _, ok := v.seen[key]; ok {
		return true
	}

	v.seen[key] = now
	v.order = append(v.order, replayEntry{key: key, seenAt: now})

	for len(v.order) > v.maxEntries {
		delete(v.seen, v.order[0].key)
		v.order = v.order[1:]
	}
	return false
}

// Sign produces a signature header for the given body and timestamp. It is the
// inverse of Verify and backs the local webhook replay tooling and tests.
func Sign(rawBody []byte, secret string, at time.Time) string {
	timestampValue := strconv.FormatInt(at.UnixMilli(), 10)
	return fmt.Sprintf("t=%s,s1=%s", timestampValue, computeSignature(rawBody, timestampValue, secret))
}

func parseSignatureHeader(header string) (timestamp, signature string, err error) {
	parts := strings.Split(header, ",")
	if len(parts) != 2 {
		return "", "", ErrInvalidHeader
	}
	if !strings.HasPrefix(parts[0], "t=") || !strings.HasPrefix(parts[1], "s1=") {
		return "", "", ErrInvalidHeader
	}
	timestamp = parts[0][len("t="):]
	// Deliberately no trimming: the signature must retain its base64 padding.
	signature = parts[1][len("s1="):]
	if timestamp == "" || signature == "" {
		return "", "", ErrInvalidHeader
	}
	return timestamp, signature, nil
}

func computeSignature(rawBody []byte, timestampValue, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(timestampValue))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(rawBody)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
