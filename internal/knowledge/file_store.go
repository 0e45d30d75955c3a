package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// FileStore keeps every record in one JSON snapshot file. Writes take an
// advisory flock on a sidecar lock file so concurrent processes (worker and
// cancel path) serialize their read-modify-write cycles, and land via
// temp-file rename.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) (*FileStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return &FileStore{path: path}, nil
}

type fileSnapshot struct {
	Targets map[string]json.RawMessage `json:"targets"`
}

func (s *FileStore) load() (map[string]Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]Record{}, nil
		}
		return nil, err
	}
	var snapshot fileSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, err
	}
	records := make(map[string]Record, len(snapshot.Targets))
	for id, raw := range snapshot.Targets {
		var record Record
		if err := json.Unmarshal(raw, &record); err != nil {
			return nil, err
		}
		records[id] = record
	}
	return records, nil
}

func (s *FileStore) save(records map[string]Record) error {
	snapshot := fileSnapshot{Targets: make(map[string]json.RawMessage, len(records))}
	for id, record := range records {
		raw, err := json.Marshal(record)
		if err != nil {
			return err
		}
		snapshot.Targets[id] = raw
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), "."+filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *FileStore) withLock(fn func(map[string]Record) (bool, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	unlock, err := lockFile(s.path + ".lock")
	if err != nil {
		return err
	}
	defer unlock()

	records, err := s.load()
	if err != nil {
		return err
	}
	dirty, err := fn(records)
	if err != nil {
		return err
	}
	if !dirty {
		return nil
	}
	return s.save(records)
}

func (s *FileStore) Get(ctx context.Context, targetID string) (Record, error) {
	var out Record
	err := s.withLock(func(records map[string]Record) (bool, error) {
		record, ok := records[targetID]
		if !ok {
			return false, ErrNotFound
		}
		out = record
		return false, nil
	})
	return out, err
}

func (s *FileStore) Update(ctx context.Context, targetID string, mutate func(*Record) error) (Record, error) {
	if strings.TrimSpace(targetID) == "" {
		return Record{}, ErrInvalidInput
	}
	var out Record
	err := s.withLock(func(records map[string]Record) (bool, error) {
		record, ok := records[targetID]
		if !ok {
			record = emptyRecord()
		}
		if err := mutate(&record); err != nil {
			return false, err
		}
		records[targetID] = record
		out = record
		return true, nil
	})
	return out, err
}

func (s *FileStore) Delete(ctx context.Context, targetID string) error {
	return s.withLock(func(records map[string]Record) (bool, error) {
		if _, ok := records[targetID]; !ok {
			return false, ErrNotFound
		}
		delete(records, targetID)
		return true, nil
	})
}

func (s *FileStore) List(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.withLock(func(records map[string]Record) (bool, error) {
		ids = make([]string, 0, len(records))
		for id := range records {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		return false, nil
	})
	return ids, err
}

func (s *FileStore) Close() error { return nil }
