package token

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// FileStore keeps one 0600 JSON file per credential. A directory watcher
// reports out-of-band rewrites (another worker process refreshing the same
// credential) so cached views can be dropped; consistency flows through the
// backing store, not through process memory.
type FileStore struct {
	dir string

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	onChange func(sourceKey string)
	done     chan struct{}
}

func NewFileStore(dir string) (*FileStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, ErrInvalidInput
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir}, nil
}

func credentialFileName(key Key) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key.String())) + ".cred"
}

func sourceKeyFromFileName(name string) (string, bool) {
	name = strings.TrimSuffix(name, ".cred")
	decoded, err := base64.RawURLEncoding.DecodeString(name)
	if err != nil {
		return "", false
	}
	return string(decoded), true
}

func (s *FileStore) path(key Key) string {
	return filepath.Join(s.dir, credentialFileName(key))
}

func (s *FileStore) Get(ctx context.Context, key Key) (CredentialRecord, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return CredentialRecord{}, ErrNotFound
		}
		return CredentialRecord{}, err
	}
	var record CredentialRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return CredentialRecord{}, err
	}
	return record, nil
}

func (s *FileStore) Put(ctx context.Context, key Key, record CredentialRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	target := s.path(key)
	tmp, err := os.CreateTemp(s.dir, ".cred-tmp-*")
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
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, target); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *FileStore) Delete(ctx context.Context, key Key) error {
	err := os.Remove(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	}
	return err
}

// Notify starts watching the credential directory and invokes onChange with
// the affected source key for every external write or removal.
func (s *FileStore) Notify(onChange func(sourceKey string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = onChange
	if s.watcher != nil {
		return
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return
	}
	if err := watcher.Add(s.dir); err != nil {
		_ = watcher.Close()
		return
	}
	s.watcher = watcher
	s.done = make(chan struct{})
	go s.watch(watcher, s.done)
}

func (s *FileStore) watch(watcher *fsnotify.Watcher, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			sourceKey, ok := sourceKeyFromFileName(filepath.Base(event.Name))
			if !ok {
				continue
			}
			s.mu.Lock()
			onChange := s.onChange
			s.mu.Unlock()
			if onChange != nil {
				onChange(sourceKey)
			}
		case _, ok := <-watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		close(s.done)
		s.done = nil
	}
	if s.watcher != nil {
		err := s.watcher.Close()
		s.watcher = nil
		return err
	}
	return nil
}
