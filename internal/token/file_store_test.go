package token

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileStoreRoundTrip(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store failed: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	key := Key{Provider: "drive", Subject: "kt-1"}
	record := CredentialRecord{
		SourceKey:        key.String(),
		EncryptedPayload: []byte{0x01, 0x02, 0x03},
		ExpiresAt:        time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := store.Put(ctx, key, record); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	got, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.SourceKey != key.String() || !got.ExpiresAt.Equal(record.ExpiresAt) {
		t.Fatalf("unexpected record: %+v", got)
	}

	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := store.Get(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFileStoreWritesOwnerOnlyFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("new file store failed: %v", err)
	}
	defer store.Close()

	key := Key{Provider: "drive", Subject: "kt-1"}
	if err := store.Put(context.Background(), key, CredentialRecord{SourceKey: key.String()}); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	info, err := os.Stat(filepath.Join(dir, credentialFileName(key)))
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("expected 0600 credential file, got %o", perm)
	}
}

func TestCredentialFileNameRoundTrip(t *testing.T) {
	key := Key{Provider: "drive", Subject: "kt/with:odd chars"}
	name := credentialFileName(key)
	decoded, ok := sourceKeyFromFileName(name)
	if !ok {
		t.Fatalf("failed to decode %q", name)
	}
	if decoded != key.String() {
		t.Fatalf("expected %q, got %q", key.String(), decoded)
	}
}
