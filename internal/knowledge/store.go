package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrNotImplemented = errors.New("not implemented")
)

// Store persists knowledge-target records. Update runs the mutation under
// backend-level exclusion so read-modify-write cycles from concurrent actors
// never overwrite each other blindly.
type Store interface {
	Get(ctx context.Context, targetID string) (Record, error)
	// Update loads the current record (creating an empty one if absent),
	// applies mutate, and persists the result atomically. Returning an error
	// from mutate aborts the update and surfaces that error unchanged.
	Update(ctx context.Context, targetID string, mutate func(*Record) error) (Record, error)
	Delete(ctx context.Context, targetID string) error
	List(ctx context.Context) ([]string, error)
	Close() error
}

func emptyRecord() Record {
	return Record{
		Sync:  SyncMetadata{Version: SyncMetadataVersion, Status: StatusIdle},
		Extra: map[string]json.RawMessage{},
	}
}

func cloneRecord(r Record) (Record, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return Record{}, err
	}
	var clone Record
	if err := json.Unmarshal(data, &clone); err != nil {
		return Record{}, err
	}
	return clone, nil
}

// MemoryStore is an in-process Store used by tests and the memory DSN.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string]Record{}}
}

func (s *MemoryStore) Get(ctx context.Context, targetID string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[targetID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return cloneRecord(record)
}

func (s *MemoryStore) Update(ctx context.Context, targetID string, mutate func(*Record) error) (Record, error) {
	if targetID == "" {
		return Record{}, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[targetID]
	if !ok {
		record = emptyRecord()
	}
	working, err := cloneRecord(record)
	if err != nil {
		return Record{}, err
	}
	if err := mutate(&working); err != nil {
		return Record{}, err
	}
	s.records[targetID] = working
	return cloneRecord(working)
}

func (s *MemoryStore) Delete(ctx context.Context, targetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[targetID]; !ok {
		return ErrNotFound
	}
	delete(s.records, targetID)
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) Close() error { return nil }
