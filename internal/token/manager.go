package token

import (
	"context"
	"crypto/cipher"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// refreshMargin is how long before expiry a token is refreshed proactively.
// Refreshing only on 401 wastes a remote round trip mid-run.
const defaultRefreshMargin = 5 * time.Minute

type ManagerOptions struct {
	Store         Store
	EncryptionKey []byte
	TokenURL      string
	ClientID      string
	Scopes        string
	RefreshMargin time.Duration
	HTTPClient    *http.Client
	Logger        *log.Logger
	Now           func() time.Time
}

// Manager hands out valid access tokens for sync sources, refreshing and
// re-persisting grants as needed. It is an explicit injected component, not
// process-global state: the backing store is the source of truth and the
// in-memory cache is dropped whenever the store reports an external write.
type Manager struct {
	store      Store
	aead       cipher.AEAD
	tokenURL   string
	clientID   string
	scopes     string
	margin     time.Duration
	httpClient *http.Client
	logger     *log.Logger
	now        func() time.Time

	mu          sync.Mutex
	cache       map[string]payload
	needsReauth map[string]bool
	refreshing  map[string]*sync.Mutex
}

func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidInput)
	}
	aead, err := newAEAD(opts.EncryptionKey)
	if err != nil {
		return nil, err
	}
	margin := opts.RefreshMargin
	if margin <= 0 {
		margin = defaultRefreshMargin
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	m := &Manager{
		store:       opts.Store,
		aead:        aead,
		tokenURL:    strings.TrimSpace(opts.TokenURL),
		clientID:    strings.TrimSpace(opts.ClientID),
		scopes:      strings.TrimSpace(opts.Scopes),
		margin:      margin,
		httpClient:  httpClient,
		logger:      logger,
		now:         now,
		cache:       map[string]payload{},
		needsReauth: map[string]bool{},
		refreshing:  map[string]*sync.Mutex{},
	}
	if notifier, ok := opts.Store.(changeNotifier); ok {
		notifier.Notify(m.invalidate)
	}
	return m, nil
}

// invalidate drops the cached view of one credential after an out-of-band
// store write.
func (m *Manager) invalidate(sourceKey string) {
	m.mu.Lock()
	delete(m.cache, sourceKey)
	delete(m.needsReauth, sourceKey)
	m.mu.Unlock()
}

// Authorize stores an initial grant obtained by the external authorization
// flow.
func (m *Manager) Authorize(ctx context.Context, key Key, accessToken, refreshToken string, expiresAt time.Time) error {
	if accessToken == "" || refreshToken == "" {
		return fmt.Errorf("%w: grant is missing tokens", ErrInvalidInput)
	}
	p := payload{AccessToken: accessToken, RefreshToken: refreshToken, ExpiresAt: expiresAt}
	if err := m.persist(ctx, key, p); err != nil {
		return err
	}
	m.mu.Lock()
	m.cache[key.String()] = p
	delete(m.needsReauth, key.String())
	m.mu.Unlock()
	return nil
}

// Revoke deletes the credential, on explicit disconnect or target deletion.
func (m *Manager) Revoke(ctx context.Context, key Key) error {
	m.mu.Lock()
	delete(m.cache, key.String())
	delete(m.needsReauth, key.String())
	m.mu.Unlock()
	err := m.store.Delete(ctx, key)
	if err != nil && err != ErrNotFound {
		return err
	}
	return nil
}

// NeedsReauth reports whether the last refresh attempt hit an unrecoverable
// grant failure.
func (m *Manager) NeedsReauth(key Key) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.needsReauth[key.String()]
}

// Token returns a currently valid access token for the source, refreshing
// proactively inside the expiry margin. ErrReauthRequired means the grant is
// dead and the caller must stop treating this as transient.
//
// Refreshes are serialized per key. Refresh tokens rotate and are single
// use: two concurrent refreshes would race to spend the same token, and the
// loser's invalid_grant would brick a grant that is actually healthy.
func (m *Manager) Token(ctx context.Context, key Key) (string, error) {
	current, err := m.load(ctx, key)
	if err != nil {
		return "", err
	}
	if m.fresh(current) {
		return current.AccessToken, nil
	}

	lock := m.refreshLock(key)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock: a caller that held it before us has already
	// rotated the credential, and we adopt its result instead of spending
	// the now-dead refresh token a second time.
	current, err = m.load(ctx, key)
	if err != nil {
		return "", err
	}
	if m.fresh(current) {
		return current.AccessToken, nil
	}
	return m.refresh(ctx, key, current)
}

func (m *Manager) load(ctx context.Context, key Key) (payload, error) {
	m.mu.Lock()
	if m.needsReauth[key.String()] {
		m.mu.Unlock()
		return payload{}, ErrReauthRequired
	}
	cached, ok := m.cache[key.String()]
	m.mu.Unlock()
	if ok {
		return cached, nil
	}

	record, err := m.store.Get(ctx, key)
	if err == ErrNotFound {
		return payload{}, fmt.Errorf("%w: no credential for %s", ErrReauthRequired, key)
	}
	if err != nil {
		return payload{}, err
	}
	cached, err = openPayload(m.aead, record.EncryptedPayload)
	if err != nil {
		return payload{}, err
	}
	m.mu.Lock()
	m.cache[key.String()] = cached
	m.mu.Unlock()
	return cached, nil
}

func (m *Manager) fresh(p payload) bool {
	return m.now().Add(m.margin).Before(p.ExpiresAt)
}

func (m *Manager) refreshLock(key Key) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.refreshing[key.String()]
	if !ok {
		lock = &sync.Mutex{}
		m.refreshing[key.String()] = lock
	}
	return lock
}

// Expire marks the cached access token stale so the next Token call goes
// through a refresh. Called when the remote rejects a token before its
// recorded expiry (server-side revocation or clock skew).
func (m *Manager) Expire(key Key) {
	m.mu.Lock()
	if p, ok := m.cache[key.String()]; ok {
		p.ExpiresAt = time.Time{}
		m.cache[key.String()] = p
	}
	m.mu.Unlock()
}

func (m *Manager) refresh(ctx context.Context, key Key, current payload) (string, error) {
	if current.RefreshToken == "" {
		m.markReauth(key)
		return "", fmt.Errorf("%w: token expired and no refresh token", ErrReauthRequired)
	}

	form := url.Values{
		"client_id":     {m.clientID},
		"grant_type":    {"refresh_token"},
		"refresh_token": {current.RefreshToken},
	}
	if m.scopes != "" {
		form.Set("scope", m.scopes)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token refresh request: %w", err)
	}
	body, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return "", readErr
	}

	if resp.StatusCode != http.StatusOK {
		if strings.Contains(string(body), "invalid_grant") {
			m.markReauth(key)
			return "", fmt.Errorf("%w: refresh token rejected", ErrReauthRequired)
		}
		return "", fmt.Errorf("token refresh failed with status %d: %s", resp.StatusCode, string(body))
	}

	var tokenResp struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return "", fmt.Errorf("parse token refresh response: %w", err)
	}

	next := payload{
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: tokenResp.RefreshToken,
		ExpiresAt:    m.now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second),
	}
	// The provider may rotate the refresh token; keep the old one only when
	// no replacement arrived.
	if next.RefreshToken == "" {
		next.RefreshToken = current.RefreshToken
	}

	// Persist before the new token is used for anything. A rotated refresh
	// token that is used but never stored strands the source at the next
	// expiry.
	if err := m.persist(ctx, key, next); err != nil {
		return "", fmt.Errorf("persist refreshed credential: %w", err)
	}
	m.mu.Lock()
	m.cache[key.String()] = next
	m.mu.Unlock()
	m.logger.Printf("refreshed credential for %s", key)
	return next.AccessToken, nil
}

func (m *Manager) persist(ctx context.Context, key Key, p payload) error {
	sealed, err := sealPayload(m.aead, p)
	if err != nil {
		return err
	}
	return m.store.Put(ctx, key, CredentialRecord{
		SourceKey:        key.String(),
		EncryptedPayload: sealed,
		ExpiresAt:        p.ExpiresAt,
	})
}

func (m *Manager) markReauth(key Key) {
	m.mu.Lock()
	m.needsReauth[key.String()] = true
	delete(m.cache, key.String())
	m.mu.Unlock()
}

// BoundSource adapts a (manager, key) pair to the drive client's token
// source contract.
type BoundSource struct {
	manager *Manager
	key     Key
}

func (m *Manager) Source(key Key) *BoundSource {
	return &BoundSource{manager: m, key: key}
}

func (s *BoundSource) Token(ctx context.Context) (string, error) {
	return s.manager.Token(ctx, s.key)
}

// Invalidate forces the next Token call through a refresh. The drive client
// calls this after an authorization rejection.
func (s *BoundSource) Invalidate() {
	s.manager.Expire(s.key)
}
