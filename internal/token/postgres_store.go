package token

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

const (
	postgresCredentialsTable = "driftsync_credentials"
	postgresOperationTimeout = 5 * time.Second
)

// PostgresStore persists credential records in Postgres so every worker
// process shares one consistent view of the current grant.
type PostgresStore struct {
	dsn string

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &PostgresStore{dsn: dsn}, nil
}

func (s *PostgresStore) ensureReady(ctx context.Context) error {
	s.initOnce.Do(func() {
		db, err := sql.Open("postgres", s.dsn)
		if err != nil {
			s.initErr = err
			return
		}
		initCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
		defer cancel()
		_, err = db.ExecContext(initCtx, fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				source_key TEXT PRIMARY KEY,
				payload    BYTEA NOT NULL,
				expires_at TIMESTAMPTZ NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, postgresCredentialsTable))
		if err != nil {
			_ = db.Close()
			s.initErr = err
			return
		}
		s.db = db
	})
	return s.initErr
}

func (s *PostgresStore) Get(ctx context.Context, key Key) (CredentialRecord, error) {
	if err := s.ensureReady(ctx); err != nil {
		return CredentialRecord{}, err
	}
	opCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	record := CredentialRecord{SourceKey: key.String()}
	err := s.db.QueryRowContext(opCtx,
		fmt.Sprintf("SELECT payload, expires_at FROM %s WHERE source_key = $1", postgresCredentialsTable),
		key.String()).Scan(&record.EncryptedPayload, &record.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return CredentialRecord{}, ErrNotFound
	}
	if err != nil {
		return CredentialRecord{}, err
	}
	return record, nil
}

func (s *PostgresStore) Put(ctx context.Context, key Key, record CredentialRecord) error {
	if err := s.ensureReady(ctx); err != nil {
		return err
	}
	opCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	_, err := s.db.ExecContext(opCtx, fmt.Sprintf(`
		INSERT INTO %s (source_key, payload, expires_at, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (source_key)
		DO UPDATE SET payload = EXCLUDED.payload, expires_at = EXCLUDED.expires_at, updated_at = NOW()`,
		postgresCredentialsTable),
		key.String(), record.EncryptedPayload, record.ExpiresAt)
	return err
}

func (s *PostgresStore) Delete(ctx context.Context, key Key) error {
	if err := s.ensureReady(ctx); err != nil {
		return err
	}
	opCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	result, err := s.db.ExecContext(opCtx,
		fmt.Sprintf("DELETE FROM %s WHERE source_key = $1", postgresCredentialsTable), key.String())
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
