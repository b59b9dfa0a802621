// Package store implements the server's persisted user and chat
// databases and the in-memory query surface the rest of the server
// uses over them: login/signup, membership queries, and message
// paging.
package store

import (
	"encoding/json"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/xrash/smetrics"

	"github.com/chatrelay/chatrelay/internal/apperrors"
)

// User is one account record, persisted in the users database.
// Usernames are unique and compared case-insensitively.
type User struct {
	UUID         string `json:"uuid"`
	Username     string `json:"username"`
	PasswordHash string `json:"password_hash"`
}

type usersFile struct {
	Entries []User `json:"entries"`
}

// usernameSimilarityCutoff is the minimum normalized-edit-distance
// ratio for a candidate username to appear in search results.
const usernameSimilarityCutoff = 0.05

// UserStore is the JSON-persisted user database plus the in-memory
// indexes (by uuid, by lowercased username) the server queries
// against on every login/signup/search.
type UserStore struct {
	path string

	mu       sync.RWMutex
	byUUID   map[string]*User
	byLower  map[string]*User
	order    []string // uuids, insertion order, for stable iteration
	modified bool
}

// NewUserStore creates a store backed by path. Call Load before use.
func NewUserStore(path string) *UserStore {
	return &UserStore{
		path:    path,
		byUUID:  make(map[string]*User),
		byLower: make(map[string]*User),
	}
}

// Load reads the users database from disk. A missing file is treated
// as an empty database, not an error.
func (s *UserStore) Load() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return apperrors.Wrap(apperrors.PersistenceError, err, "reading users database")
	}

	var decoded usersFile
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return apperrors.Wrap(apperrors.PersistenceError, err, "parsing users database")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range decoded.Entries {
		u := decoded.Entries[i]
		s.index(&u)
	}
	return nil
}

// index is only safe to call with s.mu held.
func (s *UserStore) index(u *User) {
	s.byUUID[u.UUID] = u
	s.byLower[strings.ToLower(u.Username)] = u
	s.order = append(s.order, u.UUID)
}

// Save writes the users database to disk unconditionally.
func (s *UserStore) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saveLocked()
}

// SaveIfModified writes the users database only if something has
// changed since the last save.
func (s *UserStore) SaveIfModified() error {
	s.mu.Lock()
	if !s.modified {
		s.mu.Unlock()
		return nil
	}
	s.modified = false
	s.mu.Unlock()

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saveLocked()
}

func (s *UserStore) saveLocked() error {
	entries := make([]User, 0, len(s.order))
	for _, id := range s.order {
		entries = append(entries, *s.byUUID[id])
	}
	data, err := json.MarshalIndent(usersFile{Entries: entries}, "", "  ")
	if err != nil {
		return apperrors.Wrap(apperrors.PersistenceError, err, "encoding users database")
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return apperrors.Wrap(apperrors.PersistenceError, err, "writing users database")
	}
	return nil
}

// FindByUsername looks up a user by username, case-insensitively.
func (s *UserStore) FindByUsername(username string) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byLower[strings.ToLower(username)]
	if !ok {
		return User{}, false
	}
	return *u, true
}

// FindByUUID looks up a user by uuid.
func (s *UserStore) FindByUUID(id string) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byUUID[id]
	if !ok {
		return User{}, false
	}
	return *u, true
}

// Create inserts a new user with a freshly minted v4 uuid. Fails with
// AuthFailure if the username is already taken (case-insensitively).
func (s *UserStore) Create(username, passwordHash string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byLower[strings.ToLower(username)]; exists {
		return User{}, apperrors.New(apperrors.AuthFailure, "username already taken")
	}

	u := &User{UUID: uuid.NewString(), Username: username, PasswordHash: passwordHash}
	s.index(u)
	s.modified = true
	return *u, nil
}

// CheckPassword reports whether username/passwordHash match a stored
// account, returning the matching User on success.
func (s *UserStore) CheckPassword(username, passwordHash string) (User, bool) {
	u, ok := s.FindByUsername(username)
	if !ok || u.PasswordHash != passwordHash {
		return User{}, false
	}
	return u, true
}

// searchResult pairs a candidate username with its similarity ratio,
// so sorting can break ties on username without recomputing it.
type searchResult struct {
	username string
	ratio    float64
}

// SearchByUsername returns up to max usernames similar to query,
// ranked by a normalized-edit-distance ratio with a 0.05 cutoff,
// ties broken ascending by username. The match is case-insensitive;
// results preserve the stored (original-case) username.
func (s *UserStore) SearchByUsername(query string, max int) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	queryLower := strings.ToLower(query)
	results := make([]searchResult, 0, len(s.byUUID))
	for _, u := range s.byUUID {
		candidate := strings.ToLower(u.Username)
		ratio := similarityRatio(queryLower, candidate)
		if ratio >= usernameSimilarityCutoff {
			results = append(results, searchResult{username: u.Username, ratio: ratio})
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].ratio != results[j].ratio {
			return results[i].ratio > results[j].ratio
		}
		return results[i].username < results[j].username
	})

	if max >= 0 && len(results) > max {
		results = results[:max]
	}
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.username
	}
	return out
}

// similarityRatio computes a normalized-edit-distance ratio in [0, 1]:
// 1 for identical strings, shrinking towards 0 as the Levenshtein
// distance grows relative to the longer string's length.
func similarityRatio(a, b string) float64 {
	if a == "" && b == "" {
		return 1
	}
	dist := smetrics.WagnerFischer(a, b, 1, 1, 1)
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(dist)/float64(maxLen)
}
