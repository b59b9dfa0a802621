package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestUserStore(t *testing.T) *UserStore {
	t.Helper()
	s := NewUserStore(filepath.Join(t.TempDir(), "users.db"))
	require.NoError(t, s.Load())
	return s
}

func TestUserStoreLoadMissingFileIsNotError(t *testing.T) {
	s := NewUserStore(filepath.Join(t.TempDir(), "nope", "users.db"))
	require.NoError(t, s.Load())
	_, ok := s.FindByUsername("anyone")
	assert.False(t, ok)
}

func TestCreateRejectsDuplicateUsernameCaseInsensitive(t *testing.T) {
	s := newTestUserStore(t)

	alice, err := s.Create("alice", "H1")
	require.NoError(t, err)
	assert.NotEmpty(t, alice.UUID)

	_, err = s.Create("ALICE", "H2")
	assert.Error(t, err)
}

func TestCheckPasswordCaseInsensitiveUsername(t *testing.T) {
	s := newTestUserStore(t)
	created, err := s.Create("alice", "H1")
	require.NoError(t, err)

	u, ok := s.CheckPassword("ALICE", "H1")
	assert.True(t, ok)
	assert.Equal(t, created.UUID, u.UUID)

	_, ok = s.CheckPassword("alice", "wrong")
	assert.False(t, ok)

	_, ok = s.CheckPassword("nobody", "H1")
	assert.False(t, ok)
}

func TestUserStoreSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.db")

	s := NewUserStore(path)
	require.NoError(t, s.Load())
	created, err := s.Create("bob", "H2")
	require.NoError(t, err)
	require.NoError(t, s.SaveIfModified())

	reloaded := NewUserStore(path)
	require.NoError(t, reloaded.Load())
	u, ok := reloaded.FindByUUID(created.UUID)
	require.True(t, ok)
	assert.Equal(t, "bob", u.Username)
	assert.Equal(t, "H2", u.PasswordHash)
}

func TestSaveIfModifiedSkipsCleanStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.db")
	s := NewUserStore(path)
	require.NoError(t, s.Load())

	// nothing changed, so no file should appear
	require.NoError(t, s.SaveIfModified())
	_, ok := s.FindByUsername("anyone")
	assert.False(t, ok)
	assert.NoFileExists(t, path)
}

func TestSearchByUsernameRankingAndTies(t *testing.T) {
	s := newTestUserStore(t)
	for _, name := range []string{"alice", "alicia", "bob", "malice", "Alina"} {
		_, err := s.Create(name, "H")
		require.NoError(t, err)
	}

	results := s.SearchByUsername("alice", 10)
	require.NotEmpty(t, results)
	// exact match ranks first, match is case-insensitive but results
	// keep the stored casing
	assert.Equal(t, "alice", results[0])
	assert.Contains(t, results, "Alina")

	limited := s.SearchByUsername("alice", 2)
	assert.Len(t, limited, 2)
	assert.Equal(t, results[:2], limited)
}

func TestSearchByUsernameTieBreaksAscending(t *testing.T) {
	s := newTestUserStore(t)
	// same edit distance to the query, so the tie must break on name
	_, err := s.Create("dana", "H")
	require.NoError(t, err)
	_, err = s.Create("dane", "H")
	require.NoError(t, err)

	results := s.SearchByUsername("dan", 10)
	require.Len(t, results, 2)
	assert.Equal(t, []string{"dana", "dane"}, results)
}

func TestSimilarityRatioBounds(t *testing.T) {
	assert.Equal(t, 1.0, similarityRatio("", ""))
	assert.Equal(t, 1.0, similarityRatio("abc", "abc"))
	assert.Equal(t, 0.0, similarityRatio("abc", "xyz"))
	assert.InDelta(t, 0.5, similarityRatio("ab", "ax"), 1e-9)
}
