// internal/state/session.go
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/user/xdcstore/internal/types"
)

// SessionStore is a JSON-file-backed tracker of per-chat protocol state.
// The index lives at <root>/sessions.json.
type SessionStore struct {
	root string
	mu   sync.RWMutex
}

// NewSessionStore creates a file-backed SessionStore rooted at the given directory.
func NewSessionStore(root string) *SessionStore {
	return &SessionStore{root: root}
}

func (s *SessionStore) indexPath() string {
	return filepath.Join(s.root, "sessions.json")
}

// loadIndex reads sessions.json and returns a map keyed by ChatID.
func (s *SessionStore) loadIndex() (map[types.ChatID]*types.Session, error) {
	data, err := os.ReadFile(s.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[types.ChatID]*types.Session), nil
		}
		return nil, fmt.Errorf("read session index: %w", err)
	}

	var sessions []*types.Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		return nil, fmt.Errorf("unmarshal session index: %w", err)
	}

	index := make(map[types.ChatID]*types.Session, len(sessions))
	for _, sess := range sessions {
		index[sess.ChatID] = sess
	}
	return index, nil
}

// saveIndex converts the map to a slice, marshals with indentation, and writes atomically.
func (s *SessionStore) saveIndex(index map[types.ChatID]*types.Session) error {
	sessions := make([]*types.Session, 0, len(index))
	for _, sess := range index {
		sessions = append(sessions, sess)
	}

	data, err := json.MarshalIndent(sessions, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session index: %w", err)
	}

	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	// Atomic write: write to temp file then rename
	tmp := s.indexPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp index: %w", err)
	}
	if err := os.Rename(tmp, s.indexPath()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp index: %w", err)
	}
	return nil
}

// GetOrCreate returns the session for the chat, creating one on first
// contact. The second return value reports whether the session is new.
func (s *SessionStore) GetOrCreate(_ context.Context, chatID types.ChatID) (*types.Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadIndex()
	if err != nil {
		return nil, false, err
	}

	if existing, ok := index[chatID]; ok {
		return existing, false, nil
	}

	now := time.Now()
	session := &types.Session{
		ID:        types.NewSessionID(),
		ChatID:    chatID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	index[chatID] = session

	if err := s.saveIndex(index); err != nil {
		return nil, false, err
	}
	return session, true, nil
}

// Get returns the session for the chat.
func (s *SessionStore) Get(_ context.Context, chatID types.ChatID) (*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	index, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	if sess, ok := index[chatID]; ok {
		return sess, nil
	}
	return nil, fmt.Errorf("session not found: chat %d", chatID)
}

// List returns all sessions.
func (s *SessionStore) List(_ context.Context) ([]*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	index, err := s.loadIndex()
	if err != nil {
		return nil, err
	}

	sessions := make([]*types.Session, 0, len(index))
	for _, sess := range index {
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

// Update persists changes to the given session, setting UpdatedAt to now.
func (s *SessionStore) Update(_ context.Context, session *types.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadIndex()
	if err != nil {
		return err
	}

	if _, ok := index[session.ChatID]; !ok {
		return fmt.Errorf("session not found: chat %d", session.ChatID)
	}

	session.UpdatedAt = time.Now()
	index[session.ChatID] = session

	return s.saveIndex(index)
}
