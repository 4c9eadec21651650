package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const defaultActorClockSkew = 5 * time.Minute

var (
	// ErrActorSignatureMissing is returned when the signature or timestamp header is absent.
	ErrActorSignatureMissing = errors.New("auth: actor signature missing")
	// ErrActorSignatureMismatch is returned when the signature does not cover the asserted identity.
	ErrActorSignatureMismatch = errors.New("auth: actor signature mismatch")
	// ErrActorSignatureExpired is returned when the signed timestamp is outside the allowed skew.
	ErrActorSignatureExpired = errors.New("auth: actor signature outside allowed clock skew")
)

// ActorVerifier checks that the actor id and role headers were signed by the gateway.
// The signature is HMAC-SHA256 over "role\nid\ntimestamp".
type ActorVerifier struct {
	secret    []byte
	clockSkew time.Duration
	now       func() time.Time
}

// ActorVerifierOption customises verifier behaviour.
type ActorVerifierOption func(*ActorVerifier)

// WithClockSkew overrides the accepted timestamp drift.
func WithClockSkew(skew time.Duration) ActorVerifierOption {
	return func(v *ActorVerifier) {
		if skew > 0 {
			v.clockSkew = skew
		}
	}
}

// WithClock injects the time source.
func WithClock(now func() time.Time) ActorVerifierOption {
	return func(v *ActorVerifier) {
		if now != nil {
			v.now = now
		}
	}
}

// NewActorVerifier builds a verifier for the shared gateway secret.
func NewActorVerifier(secret string, opts ...ActorVerifierOption) (*ActorVerifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("auth: actor signing secret is required")
	}
	v := &ActorVerifier{
		secret:    []byte(secret),
		clockSkew: defaultActorClockSkew,
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v, nil
}

// Sign returns the base64 signature for the identity at ts. Used by tests and local tooling.
func (v *ActorVerifier) Sign(id, role string, ts time.Time) string {
	timestamp := strconv.FormatInt(ts.Unix(), 10)
	return base64.StdEncoding.EncodeToString(computeHMAC(v.secret, canonicalActor(id, role, timestamp)))
}

// Verify checks signature against id, role and timestamp.
func (v *ActorVerifier) Verify(id, role, timestamp, signature string) error {
	timestamp = strings.TrimSpace(timestamp)
	signature = strings.TrimSpace(signature)
	if timestamp == "" || signature == "" {
		return ErrActorSignatureMissing
	}
	signedAt, err := parseSignatureTimestamp(timestamp)
	if err != nil {
		return err
	}
	drift := v.now().UTC().Sub(signedAt)
	if drift < 0 {
		drift = -drift
	}
	if drift > v.clockSkew {
		return ErrActorSignatureExpired
	}
	provided, err := decodeSignature(signature)
	if err != nil {
		return err
	}
	expected := computeHMAC(v.secret, canonicalActor(id, role, timestamp))
	if !hmac.Equal(provided, expected) {
		return ErrActorSignatureMismatch
	}
	return nil
}

func canonicalActor(id, role, timestamp string) []byte {
	return []byte(strings.ToLower(strings.TrimSpace(role)) + "\n" + strings.TrimSpace(id) + "\n" + timestamp)
}

func computeHMAC(secret, message []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(message)
	return mac.Sum(nil)
}

// decodeSignature accepts base64 or hex. A 64-character value is read as hex first since it is
// also valid base64.
func decodeSignature(value string) ([]byte, error) {
	if len(value) == hex.EncodedLen(sha256.Size) {
		if decoded, err := hex.DecodeString(value); err == nil {
			return decoded, nil
		}
	}
	if decoded, err := base64.StdEncoding.DecodeString(value); err == nil {
		return decoded, nil
	}
	if decoded, err := hex.DecodeString(value); err == nil {
		return decoded, nil
	}
	return nil, errors.New("auth: signature must be base64 or hex encoded")
}

func parseSignatureTimestamp(value string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts.UTC(), nil
	}
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(seconds, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("auth: unable to parse timestamp %q", value)
}
