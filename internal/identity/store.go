package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Credentials is the persisted form of a signed-in session.
type Credentials struct {
	User         User      `json:"user"`
	IDToken      string    `json:"idToken"`
	RefreshToken string    `json:"refreshToken"`
	Expiry       time.Time `json:"expiry"`
}

// CredentialStore persists the session between process runs. Load returns
// (nil, nil) when nothing is stored.
type CredentialStore interface {
	Load() (*Credentials, error)
	Save(c *Credentials) error
	Clear() error
}

// FileStore keeps credentials in a JSON file readable only by the owner.
type FileStore struct {
	path string
}

// NewFileStore returns a FileStore writing to path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the file location.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the stored credentials.
func (s *FileStore) Load() (*Credentials, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading credentials: %w", err)
	}

	var c Credentials
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decoding credentials %s: %w", s.path, err)
	}
	if c.RefreshToken == "" {
		return nil, nil
	}
	return &c, nil
}

// Save writes c atomically with 0600 permissions.
func (s *FileStore) Save(c *Credentials) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("creating credentials dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing credentials: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing credentials: %w", err)
	}
	return nil
}

// Clear removes the file. A missing file is not an error.
func (s *FileStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing credentials: %w", err)
	}
	return nil
}

// MemoryStore keeps credentials for the lifetime of the process.
type MemoryStore struct {
	mu sync.Mutex
	c  *Credentials
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load returns a copy of the stored credentials.
func (s *MemoryStore) Load() (*Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return nil, nil
	}
	c := *s.c
	return &c, nil
}

// Save stores a copy of c.
func (s *MemoryStore) Save(c *Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.c = &cp
	return nil
}

// Clear forgets the stored credentials.
func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.c = nil
	return nil
}
