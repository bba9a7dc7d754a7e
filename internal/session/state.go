// Package session tracks the current working directory of each shell session.
package session

import (
	"container/list"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Reserved session identifiers understood by Resolve.
const (
	DefaultSession = "default"
	NewSession     = "new"
)

// Entry is a snapshot of one session's state.
type Entry struct {
	ID         string    `json:"session_id"`
	Directory  string    `json:"working_directory"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at"`
}

type record struct {
	Entry
	elem *list.Element
}

// DirectoryState maps session ids to their current directory. Sessions are
// created lazily at the workspace root. When capacity is positive the least
// recently used session is evicted once the limit is exceeded.
type DirectoryState struct {
	mu       sync.Mutex
	root     string
	capacity int
	sessions map[string]*record
	recency  *list.List // front is most recently used
	now      func() time.Time
}

// NewDirectoryState creates a state rooted at workspaceRoot. A capacity of
// zero keeps every session for the life of the process.
func NewDirectoryState(workspaceRoot string, capacity int) *DirectoryState {
	return &DirectoryState{
		root:     workspaceRoot,
		capacity: capacity,
		sessions: make(map[string]*record),
		recency:  list.New(),
		now:      time.Now,
	}
}

// Root returns the workspace root new sessions start in.
func (s *DirectoryState) Root() string {
	return s.root
}

// Get returns the session's directory, creating the session at the workspace
// root on first use.
func (s *DirectoryState) Get(sessionID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.touch(sessionID).Directory
}

// Set stores a new directory for the session. The caller must already have
// verified that path is an existing directory.
func (s *DirectoryState) Set(sessionID, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.touch(sessionID).Directory = path
}

// Lookup returns the session's directory without creating or touching it.
func (s *DirectoryState) Lookup(sessionID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[sessionID]
	if !ok {
		return "", false
	}
	return rec.Directory, true
}

// Len returns the number of tracked sessions.
func (s *DirectoryState) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sessions returns a snapshot of all sessions, most recently used first.
func (s *DirectoryState) Sessions() []Entry {
	s.mu.Lock()
	out := make([]Entry, 0, len(s.sessions))
	for _, rec := range s.sessions {
		out = append(out, rec.Entry)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastUsedAt.After(out[j].LastUsedAt)
	})
	return out
}

// touch must be called with mu held.
func (s *DirectoryState) touch(sessionID string) *record {
	now := s.now()
	if rec, ok := s.sessions[sessionID]; ok {
		rec.LastUsedAt = now
		s.recency.MoveToFront(rec.elem)
		return rec
	}

	rec := &record{Entry: Entry{
		ID:         sessionID,
		Directory:  s.root,
		CreatedAt:  now,
		LastUsedAt: now,
	}}
	rec.elem = s.recency.PushFront(sessionID)
	s.sessions[sessionID] = rec

	if s.capacity > 0 {
		for len(s.sessions) > s.capacity {
			oldest := s.recency.Back()
			s.recency.Remove(oldest)
			delete(s.sessions, oldest.Value.(string))
		}
	}
	return rec
}

// Resolve maps a requested session id onto a concrete one. An empty id or
// "default" selects the caller's implicit session and "new" allocates a fresh id.
func Resolve(requested, implicit string) string {
	switch requested {
	case "", DefaultSession:
		if implicit == "" {
			return DefaultSession
		}
		return implicit
	case NewSession:
		return uuid.NewString()
	default:
		return requested
	}
}
