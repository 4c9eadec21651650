package auth

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strconv"
	"testing"
	"time"
)

func TestActorVerifierAcceptsGatewaySignature(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	v, err := NewActorVerifier("gateway-secret", WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewActorVerifier: %v", err)
	}

	ts := strconv.FormatInt(now.Add(-time.Minute).Unix(), 10)
	sig := v.Sign("cust-1", "customer", now.Add(-time.Minute))
	if err := v.Verify("cust-1", "customer", ts, sig); err != nil {
		t.Fatalf("expected base64 signature to verify, got %v", err)
	}

	raw, _ := base64.StdEncoding.DecodeString(sig)
	if err := v.Verify("cust-1", "CUSTOMER", ts, hex.EncodeToString(raw)); err != nil {
		t.Fatalf("expected hex signature with case-insensitive role to verify, got %v", err)
	}
}

func TestActorVerifierRejectsTamperedIdentity(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	v, _ := NewActorVerifier("gateway-secret", WithClock(func() time.Time { return now }))
	ts := strconv.FormatInt(now.Unix(), 10)
	sig := v.Sign("cust-1", "customer", now)

	if err := v.Verify("cust-2", "customer", ts, sig); !errors.Is(err, ErrActorSignatureMismatch) {
		t.Fatalf("expected mismatch for another id, got %v", err)
	}
	if err := v.Verify("cust-1", "admin", ts, sig); !errors.Is(err, ErrActorSignatureMismatch) {
		t.Fatalf("expected mismatch for escalated role, got %v", err)
	}
	if err := v.Verify("cust-1", "customer", "", sig); !errors.Is(err, ErrActorSignatureMissing) {
		t.Fatalf("expected missing timestamp error, got %v", err)
	}
	if err := v.Verify("cust-1", "customer", ts, "%%%"); err == nil {
		t.Fatalf("expected undecodable signature to fail")
	}
}

func TestActorVerifierEnforcesClockSkew(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	v, _ := NewActorVerifier("gateway-secret", WithClock(func() time.Time { return now }), WithClockSkew(time.Minute))

	stale := now.Add(-2 * time.Minute)
	err := v.Verify("agent-1", "delivery_agent", strconv.FormatInt(stale.Unix(), 10), v.Sign("agent-1", "delivery_agent", stale))
	if !errors.Is(err, ErrActorSignatureExpired) {
		t.Fatalf("expected expired signature, got %v", err)
	}

	if _, err := NewActorVerifier("  "); err == nil {
		t.Fatalf("expected empty secret to be rejected")
	}
}
