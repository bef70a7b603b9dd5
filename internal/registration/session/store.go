package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound is returned by a Backend when a key has never been saved or was
// cleared.
var ErrNotFound = errors.New("session: not found")

// Backend is the persistence adapter behind a Store. Implementations only move
// bytes; the Store owns the JSON shape.
type Backend interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte) error
	Clear(ctx context.Context, key string) error
}

// Key helpers for the per-kiosk persisted entries.
func RegistrationKey(kioskID string) string { return "registration:" + kioskID }
func TokenKey(kioskID string) string        { return "token:" + kioskID }

// Store reads and writes one session blob under a fixed key. Every write is a
// whole-blob read-modify-write; the last writer wins.
type Store struct {
	backend Backend
	key     string
}

// NewStore binds a backend to a key.
func NewStore(backend Backend, key string) *Store {
	return &Store{backend: backend, key: key}
}

// Key returns the key this store writes under.
func (s *Store) Key() string { return s.key }

// Load returns the persisted session. A missing or unparsable blob yields an
// empty session rather than an error; only backend failures are returned.
func (s *Store) Load(ctx context.Context) (*Session, error) {
	data, err := s.backend.Load(ctx, s.key)
	if errors.Is(err, ErrNotFound) {
		return &Session{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: load %s: %w", s.key, err)
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return &Session{}, nil
	}
	return &sess, nil
}

// Merge applies patch to the stored blob and writes it back.
func (s *Store) Merge(ctx context.Context, patch Patch) (*Session, error) {
	sess, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	patch.Apply(sess)
	data, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("session: marshal: %w", err)
	}
	if err := s.backend.Save(ctx, s.key, data); err != nil {
		return nil, fmt.Errorf("session: save %s: %w", s.key, err)
	}
	return sess, nil
}

// Clear removes the blob.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.backend.Clear(ctx, s.key); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("session: clear %s: %w", s.key, err)
	}
	return nil
}

// TokenStore keeps the bearer token the registration API issued on completion.
type TokenStore struct {
	backend Backend
	key     string
}

func NewTokenStore(backend Backend, key string) *TokenStore {
	return &TokenStore{backend: backend, key: key}
}

// Token returns the stored token, or "" when none is stored.
func (t *TokenStore) Token(ctx context.Context) (string, error) {
	data, err := t.backend.Load(ctx, t.key)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("session: load token: %w", err)
	}
	return string(data), nil
}

func (t *TokenStore) SetToken(ctx context.Context, token string) error {
	if err := t.backend.Save(ctx, t.key, []byte(token)); err != nil {
		return fmt.Errorf("session: save token: %w", err)
	}
	return nil
}

func (t *TokenStore) Clear(ctx context.Context) error {
	if err := t.backend.Clear(ctx, t.key); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("session: clear token: %w", err)
	}
	return nil
}
