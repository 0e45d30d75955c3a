// Package token owns credential lifecycle for sync sources: acquisition,
// proactive refresh, encrypted persistence, and revocation detection. No
// other component reads the raw secret.
package token

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrReauthRequired means the grant is gone for good (revoked or
	// invalid); the run must stop with an access-revoked outcome instead of
	// retrying.
	ErrReauthRequired = errors.New("reauthorization required")
	ErrNotFound       = errors.New("credential not found")
	ErrInvalidInput   = errors.New("invalid input")
)

// Key identifies one credential: provider plus a subject that disambiguates
// per sync target.
type Key struct {
	Provider string
	Subject  string
}

func (k Key) String() string {
	return k.Provider + ":" + k.Subject
}

// CredentialRecord is the persisted, encrypted form of a grant.
type CredentialRecord struct {
	SourceKey        string    `json:"sourceKey"`
	EncryptedPayload []byte    `json:"encryptedPayload"`
	ExpiresAt        time.Time `json:"expiresAt"`
}

// payload is the decrypted credential content. Never persisted in the clear.
type payload struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Store persists credential records keyed by (provider, subject). Put must
// replace atomically: a rotated refresh token that is received but not
// persisted is an unrecoverable loss for that source.
type Store interface {
	Get(ctx context.Context, key Key) (CredentialRecord, error)
	Put(ctx context.Context, key Key, record CredentialRecord) error
	Delete(ctx context.Context, key Key) error
	Close() error
}

// changeNotifier is implemented by stores that can observe out-of-band
// writes (another process refreshing or revoking a credential), so the
// manager can drop its in-memory copy and re-read through the backing store.
type changeNotifier interface {
	Notify(onChange func(sourceKey string))
}
