package server

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFileTokens(t *testing.T) (*FileTokenStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tokens.json")
	return NewFileTokenStore(path, slog.New(slog.NewTextHandler(io.Discard, nil))), path
}

func TestFileTokenStore_CreateAndLookup(t *testing.T) {
	s, _ := newFileTokens(t)

	raw, info, err := s.CreateToken("ci", []string{"c1"}, "rw")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(raw, "msk_"))
	assert.Equal(t, HashToken(raw), info.TokenHash)

	got, err := s.GetByHash(HashToken(raw))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []string{"c1"}, got.Courses)

	missing, err := s.GetByHash(HashToken("nope"))
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestFileTokenStore_PersistsHashesOnly(t *testing.T) {
	s, path := newFileTokens(t)
	raw, info, err := s.CreateToken("ci", []string{"*"}, "ro")
	require.NoError(t, err)

	reloaded := NewFileTokenStore(path, nil)
	require.NoError(t, reloaded.Load())

	got, err := reloaded.GetByHash(info.TokenHash)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "ro", got.Permission)

	list, err := reloaded.ListTokens()
	require.NoError(t, err)
	for _, tok := range list {
		assert.NotEqual(t, raw, tok.TokenHash)
	}
}

func TestFileTokenStore_Delete(t *testing.T) {
	s, path := newFileTokens(t)
	_, info, err := s.CreateToken("", []string{"*"}, "rw")
	require.NoError(t, err)

	require.NoError(t, s.DeleteToken(info.ID))
	assert.Error(t, s.DeleteToken(info.ID))

	reloaded := NewFileTokenStore(path, nil)
	require.NoError(t, reloaded.Load())
	list, err := reloaded.ListTokens()
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestFileTokenStore_LoadMissingFile(t *testing.T) {
	s, _ := newFileTokens(t)
	assert.Error(t, s.Load())

	list, err := s.ListTokens()
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestFileTokenStore_CreateNormalizesScope(t *testing.T) {
	s, _ := newFileTokens(t)

	_, info, err := s.CreateToken("", []string{" c1", "c2", "c1"}, "ro")
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2"}, info.Courses)

	_, info, err = s.CreateToken("", nil, "ro")
	require.NoError(t, err)
	assert.Equal(t, []string{"*"}, info.Courses)

	_, _, err = s.CreateToken("", []string{"c1/modules"}, "rw")
	assert.Error(t, err)
	_, _, err = s.CreateToken("", []string{"c1"}, "admin")
	assert.Error(t, err)

	list, err := s.ListTokens()
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestFileTokenStore_LoadSkipsBadRecords(t *testing.T) {
	s, path := newFileTokens(t)
	data := `[
  {"id": "good", "token_hash": "h1", "courses": ["c1", "c1"], "permission": "rw"},
  {"id": "perm", "token_hash": "h2", "courses": ["*"], "permission": "owner"},
  {"id": "scope", "token_hash": "h3", "courses": ["a b"], "permission": "ro"},
  {"id": "bare", "token_hash": "h4", "permission": "ro"}
]`
	require.NoError(t, os.WriteFile(path, []byte(data), 0600))

	require.NoError(t, s.Load())

	good, _ := s.GetByHash("h1")
	require.NotNil(t, good)
	assert.Equal(t, []string{"c1"}, good.Courses)

	bad, _ := s.GetByHash("h2")
	assert.Nil(t, bad)
	bad, _ = s.GetByHash("h3")
	assert.Nil(t, bad)

	bare, _ := s.GetByHash("h4")
	require.NotNil(t, bare)
	assert.False(t, courseScope(bare.Courses).allows("c1"), "no courses grants nothing")
}
