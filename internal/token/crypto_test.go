package token

import (
	"testing"
	"time"
)

func TestSealOpenRoundTrip(t *testing.T) {
	aead, err := newAEAD(testKeyBytes)
	if err != nil {
		t.Fatalf("aead failed: %v", err)
	}
	original := payload{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
	sealed, err := sealPayload(aead, original)
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}

	opened, err := openPayload(aead, sealed)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if opened != original {
		t.Fatalf("round trip mismatch: %+v", opened)
	}
}

func TestOpenRejectsTamperedPayload(t *testing.T) {
	aead, err := newAEAD(testKeyBytes)
	if err != nil {
		t.Fatalf("aead failed: %v", err)
	}
	sealed, err := sealPayload(aead, payload{AccessToken: "access-1"})
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	sealed[len(sealed)-1] ^= 0xff
	if _, err := openPayload(aead, sealed); err == nil {
		t.Fatalf("expected tamper detection")
	}
}

func TestNewAEADRejectsShortKey(t *testing.T) {
	if _, err := newAEAD([]byte("short")); err == nil {
		t.Fatalf("expected key length error")
	}
}
