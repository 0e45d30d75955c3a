package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

const (
	postgresTargetsTable     = "driftsync_targets"
	postgresOperationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresStore persists records in a single jsonb-per-target table. Update
// runs inside a transaction with SELECT ... FOR UPDATE so two processes
// never interleave a read-modify-write on the same target.
type PostgresStore struct {
	dsn    string
	openDB sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &PostgresStore{dsn: dsn, openDB: sql.Open}, nil
}

func (s *PostgresStore) ensureReady(ctx context.Context) error {
	s.initOnce.Do(func() {
		db, err := s.openDB("postgres", s.dsn)
		if err != nil {
			s.initErr = err
			return
		}
		initCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
		defer cancel()
		_, err = db.ExecContext(initCtx, fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				target_id  TEXT PRIMARY KEY,
				record     JSONB NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, postgresTargetsTable))
		if err != nil {
			_ = db.Close()
			s.initErr = err
			return
		}
		s.db = db
	})
	return s.initErr
}

func (s *PostgresStore) Get(ctx context.Context, targetID string) (Record, error) {
	if err := s.ensureReady(ctx); err != nil {
		return Record{}, err
	}
	opCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	var payload []byte
	err := s.db.QueryRowContext(opCtx,
		fmt.Sprintf("SELECT record FROM %s WHERE target_id = $1", postgresTargetsTable),
		targetID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	var record Record
	if err := json.Unmarshal(payload, &record); err != nil {
		return Record{}, err
	}
	return record, nil
}

func (s *PostgresStore) Update(ctx context.Context, targetID string, mutate func(*Record) error) (Record, error) {
	if strings.TrimSpace(targetID) == "" {
		return Record{}, ErrInvalidInput
	}
	if err := s.ensureReady(ctx); err != nil {
		return Record{}, err
	}
	opCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(opCtx, nil)
	if err != nil {
		return Record{}, err
	}
	defer func() { _ = tx.Rollback() }()

	record := emptyRecord()
	var payload []byte
	err = tx.QueryRowContext(opCtx,
		fmt.Sprintf("SELECT record FROM %s WHERE target_id = $1 FOR UPDATE", postgresTargetsTable),
		targetID).Scan(&payload)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return Record{}, err
	default:
		if err := json.Unmarshal(payload, &record); err != nil {
			return Record{}, err
		}
	}

	if err := mutate(&record); err != nil {
		return Record{}, err
	}
	updated, err := json.Marshal(record)
	if err != nil {
		return Record{}, err
	}
	_, err = tx.ExecContext(opCtx, fmt.Sprintf(`
		INSERT INTO %s (target_id, record, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (target_id)
		DO UPDATE SET record = EXCLUDED.record, updated_at = NOW()`, postgresTargetsTable),
		targetID, updated)
	if err != nil {
		return Record{}, err
	}
	if err := tx.Commit(); err != nil {
		return Record{}, err
	}
	return record, nil
}

func (s *PostgresStore) Delete(ctx context.Context, targetID string) error {
	if err := s.ensureReady(ctx); err != nil {
		return err
	}
	opCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	result, err := s.db.ExecContext(opCtx,
		fmt.Sprintf("DELETE FROM %s WHERE target_id = $1", postgresTargetsTable), targetID)
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]string, error) {
	if err := s.ensureReady(ctx); err != nil {
		return nil, err
	}
	opCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	rows, err := s.db.QueryContext(opCtx,
		fmt.Sprintf("SELECT target_id FROM %s ORDER BY target_id", postgresTargetsTable))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
