// Package session keeps per-visit workflow state: the current entry list
// and the UI step. State lives in memory only and is dropped after a period
// of inactivity.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	appLog "timetablecal/internal/log"
	"timetablecal/internal/model"
)

// Workflow steps shown by the web UI.
const (
	StepUpload = 1
	StepReview = 2
	StepExport = 3
)

// DefaultTTL is how long an untouched session is kept.
const DefaultTTL = 2 * time.Hour

// ErrNotFound is returned by Update for unknown or expired IDs.
var ErrNotFound = errors.New("session not found")

// Session is one visitor's workflow state.
type Session struct {
	ID      string
	Entries []model.Entry
	Step    int
	Created time.Time
	Updated time.Time
}

func (s *Session) clone() *Session {
	c := *s
	c.Entries = make([]model.Entry, len(s.Entries))
	copy(c.Entries, s.Entries)
	return &c
}

// Store is an in-memory session table safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
	now      func() time.Time
}

// NewStore creates a Store. ttl <= 0 selects DefaultTTL.
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Load returns a copy of the session with the given id, or a new session
// (with a fresh id) when id is empty, unknown or expired.
func (s *Store) Load(id string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if sess, ok := s.sessions[id]; ok && now.Sub(sess.Updated) < s.ttl {
		sess.Updated = now
		return sess.clone()
	}

	sess := &Session{
		ID:      uuid.NewString(),
		Entries: []model.Entry{},
		Step:    StepUpload,
		Created: now,
		Updated: now,
	}
	s.sessions[sess.ID] = sess
	return sess.clone()
}

// Update applies fn to the stored session under the store lock and returns
// a copy of the result.
func (s *Store) Update(id string, fn func(*Session)) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	fn(sess)
	if sess.Entries == nil {
		sess.Entries = []model.Entry{}
	}
	sess.Updated = s.now()
	return sess.clone(), nil
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep removes sessions idle for at least the TTL and returns how many
// were removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, sess := range s.sessions {
		if now.Sub(sess.Updated) >= s.ttl {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// StartSweeper runs Sweep on the given cron schedule (e.g. "*/10 * * * *").
// The returned stop function blocks until a running sweep finishes.
func (s *Store) StartSweeper(spec string) (stop func(), err error) {
	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		if n := s.Sweep(); n > 0 {
			appLog.Info("session sweep", "removed", n, "remaining", s.Len())
		}
	}); err != nil {
		return nil, err
	}
	c.Start()
	appLog.Debug("session sweeper started", "schedule", spec, "ttl", s.ttl.String())

	return func() {
		<-c.Stop().Done()
	}, nil
}
