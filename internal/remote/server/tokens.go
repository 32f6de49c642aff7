package server

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// FileTokenStore is a JSON-file-backed TokenStore. Only token hashes are
// stored; the raw token is returned once, on creation.
type FileTokenStore struct {
	path   string
	mu     sync.RWMutex
	tokens map[string]*TokenInfo // keyed by token hash
	logger *slog.Logger
}

// NewFileTokenStore returns an empty store that persists to path.
func NewFileTokenStore(path string, logger *slog.Logger) *FileTokenStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileTokenStore{
		path:   path,
		tokens: make(map[string]*TokenInfo),
		logger: logger,
	}
}

// Load reads the token store from disk.
func (s *FileTokenStore) Load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}

	var tokens []*TokenInfo
	if err := json.Unmarshal(data, &tokens); err != nil {
		return fmt.Errorf("parse token store: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens = make(map[string]*TokenInfo)
	for _, t := range tokens {
		if t.Permission != "ro" && t.Permission != "rw" {
			s.logger.Warn("skipping token with unknown permission", "token_id", t.ID, "permission", t.Permission)
			continue
		}
		// A record without courses grants nothing; "*" must be explicit on disk.
		if len(t.Courses) > 0 {
			courses, err := NormalizeCourses(t.Courses)
			if err != nil {
				s.logger.Warn("skipping token with invalid course scope", "token_id", t.ID, "error", err)
				continue
			}
			t.Courses = courses
		}
		s.tokens[t.TokenHash] = t
	}

	s.logger.Info("loaded tokens", "count", len(s.tokens), "skipped", len(tokens)-len(s.tokens))
	return nil
}

// GetByHash returns the token info for the given SHA256 hash, or nil if not found.
func (s *FileTokenStore) GetByHash(hash string) (*TokenInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.tokens[hash], nil
}

// UpdateLastUsed is a no-op; the file store does not track usage.
func (s *FileTokenStore) UpdateLastUsed(_ string) error {
	return nil
}

// Save persists all tokens to disk.
func (s *FileTokenStore) Save() error {
	s.mu.RLock()
	tokens := make([]*TokenInfo, 0, len(s.tokens))
	for _, t := range s.tokens {
		tokens = append(tokens, t)
	}
	s.mu.RUnlock()

	data, err := json.MarshalIndent(tokens, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal tokens: %w", err)
	}
	return os.WriteFile(s.path, data, 0600)
}

// CreateToken generates a new bearer token scoped to courses, persists it,
// and returns the raw value. An empty course list grants every course.
func (s *FileTokenStore) CreateToken(desc string, courses []string, permission string) (string, *TokenInfo, error) {
	if permission != "ro" && permission != "rw" {
		return "", nil, fmt.Errorf("permission must be 'ro' or 'rw', got %q", permission)
	}
	courses, err := NormalizeCourses(courses)
	if err != nil {
		return "", nil, err
	}

	rawToken := "msk_" + generateID()
	tokenHash := HashToken(rawToken)

	info := &TokenInfo{
		ID:         generateID(),
		TokenHash:  tokenHash,
		Desc:       desc,
		Courses:    courses,
		Permission: permission,
	}

	s.mu.Lock()
	s.tokens[tokenHash] = info
	s.mu.Unlock()

	if err := s.Save(); err != nil {
		// Keep memory in step with disk.
		s.mu.Lock()
		delete(s.tokens, tokenHash)
		s.mu.Unlock()
		return "", nil, fmt.Errorf("persist token: %w", err)
	}

	return rawToken, info, nil
}

// ListTokens returns all token metadata.
func (s *FileTokenStore) ListTokens() ([]*TokenInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tokens := make([]*TokenInfo, 0, len(s.tokens))
	for _, t := range s.tokens {
		tokens = append(tokens, t)
	}
	return tokens, nil
}

// DeleteToken removes the token with the given ID. Returns an error if not found.
func (s *FileTokenStore) DeleteToken(id string) error {
	s.mu.Lock()
	var foundHash string
	var foundToken *TokenInfo
	for hash, t := range s.tokens {
		if t.ID == id {
			foundHash = hash
			foundToken = t
			break
		}
	}
	if foundHash == "" {
		s.mu.Unlock()
		return fmt.Errorf("token '%s' not found", id)
	}

	delete(s.tokens, foundHash)
	s.mu.Unlock()

	if err := s.Save(); err != nil {
		s.mu.Lock()
		s.tokens[foundHash] = foundToken
		s.mu.Unlock()
		return err
	}

	return nil
}

// generateID returns a cryptographically random 16-byte hex string.
func generateID() string {
	b := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}
