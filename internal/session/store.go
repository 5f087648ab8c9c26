// Package session persists conversation history between CLI runs as one JSON
// file per session under the configured directory.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"foreman/internal/agent/ports"
	"foreman/internal/logging"
	"foreman/internal/token"
)

// Session is one persisted conversation.
type Session struct {
	ID         string          `json:"id"`
	Messages   []ports.Message `json:"messages"`
	TokenCount int             `json:"token_count"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Append adds a message and updates the token estimate.
func (s *Session) Append(role, content string) {
	s.Messages = append(s.Messages, ports.Message{Role: role, Content: content})
	s.TokenCount += token.Count(content)
}

// Store is a directory of session files.
type Store struct {
	dir    string
	logger logging.Logger
}

// NewStore opens (creating if needed) the session directory. "~/" prefixes
// expand to the home directory.
func NewStore(dir string, logger logging.Logger) (*Store, error) {
	if strings.HasPrefix(dir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		dir = filepath.Join(home, dir[2:])
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}
	return &Store{dir: dir, logger: logging.OrNop(logger)}, nil
}

// Create starts a new session file. The exclusive create guards against ID
// collisions overwriting history.
func (st *Store) Create() (*Session, error) {
	now := time.Now()
	s := &Session{
		ID:        now.Format("20060102-150405") + "-" + uuid.NewString()[:8],
		Messages:  []ports.Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(st.path(s.ID), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create session file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return nil, fmt.Errorf("write session file: %w", err)
	}
	return s, nil
}

// Get loads a session by ID.
func (st *Store) Get(id string) (*Session, error) {
	data, err := os.ReadFile(st.path(id))
	if err != nil {
		return nil, fmt.Errorf("session not found: %s", id)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &s, nil
}

// Save rewrites a session atomically: write to a temp file in the same
// directory, then rename over the old one.
func (st *Store) Save(s *Session) error {
	s.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(st.dir, s.ID+".tmp-*")
	if err != nil {
		return fmt.Errorf("stage session file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), st.path(s.ID)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace session file: %w", err)
	}
	return nil
}

// List returns all session IDs, newest first.
func (st *Store) List() ([]string, error) {
	entries, err := os.ReadDir(st.dir)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))
	return ids, nil
}

// Latest returns the most recent session, or nil when none exist.
func (st *Store) Latest() (*Session, error) {
	ids, err := st.List()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return st.Get(ids[0])
}

// Delete removes a session. Deleting a missing session is not an error.
func (st *Store) Delete(id string) error {
	err := os.Remove(st.path(id))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (st *Store) path(id string) string {
	return filepath.Join(st.dir, id+".json")
}
