// Package session holds live evaluation sessions. Each session owns its
// bounded history and remembers the last status it reported.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"github.com/terminal-bench/blasttap/internal/balance"
	"github.com/terminal-bench/blasttap/internal/history"
	"github.com/terminal-bench/blasttap/internal/pipeline"
)

var ErrNotFound = errors.New("session not found")

// Transition is a change of status between consecutive evaluations.
type Transition struct {
	SessionID uuid.UUID
	From      *balance.Status
	To        balance.Status
	At        time.Time
}

// Outcome is the result of one evaluation recorded into a session. Seq
// orders the outcomes of one session; a later evaluation or a reset always
// carries a higher number.
type Outcome struct {
	SessionID  uuid.UUID
	Seq        uint64
	Result     pipeline.Result
	Entry      history.Entry
	Transition *Transition
}

// Session is one operator's running view of a furnace.
type Session struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`

	mu         sync.Mutex
	opts       pipeline.Options
	log        *history.Log
	seq        uint64
	last       *pipeline.Result
	lastStatus *balance.Status
}

// Evaluate validates req, runs the pipeline and records the result.
func (s *Session) Evaluate(req pipeline.Request, now time.Time) (Outcome, error) {
	if err := pipeline.Validate(req); err != nil {
		return Outcome{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res := pipeline.Evaluate(s.opts, req, now)
	entry := history.FromResult(res)
	s.log.Append(entry)
	s.last = &res
	s.seq++

	out := Outcome{SessionID: s.ID, Seq: s.seq, Result: res, Entry: entry}
	status := res.Balance.Status
	switch {
	case s.lastStatus == nil && status != balance.StatusNormal:
		out.Transition = &Transition{SessionID: s.ID, To: status, At: res.EvaluatedAt}
	case s.lastStatus != nil && *s.lastStatus != status:
		from := *s.lastStatus
		out.Transition = &Transition{SessionID: s.ID, From: &from, To: status, At: res.EvaluatedAt}
	}
	s.lastStatus = &status

	return out, nil
}

// History returns the recorded entries, oldest first.
func (s *Session) History() []history.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log.Entries()
}

// Capacity returns how many entries the history keeps.
func (s *Session) Capacity() int {
	return s.log.Cap()
}

// LatestResult returns the full result of the newest evaluation.
func (s *Session) LatestResult() (pipeline.Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return pipeline.Result{}, false
	}
	return *s.last, true
}

// Reset clears the history and forgets the last result. It returns the
// sequence number of the reset: every outcome produced before it carries a
// lower one.
func (s *Session) Reset() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log.Reset()
	s.last = nil
	s.lastStatus = nil
	s.seq++
	return s.seq
}

// Registry is the set of live sessions. A session that is not used for the
// idle period is dropped as if it had been deleted.
type Registry struct {
	sessions *gocache.Cache
	opts     pipeline.Options
	capacity int
}

// NewRegistry creates a registry whose sessions share opts and keep at most
// capacity history entries each. idle <= 0 keeps sessions until deleted.
func NewRegistry(opts pipeline.Options, capacity int, idle time.Duration) *Registry {
	expiry, cleanup := gocache.NoExpiration, time.Duration(0)
	if idle > 0 {
		expiry, cleanup = idle, idle/2
	}
	return &Registry{
		sessions: gocache.New(expiry, cleanup),
		opts:     opts,
		capacity: history.ClampCapacity(capacity),
	}
}

// OnEnd registers fn to run after a session is deleted or expires.
func (r *Registry) OnEnd(fn func(*Session)) {
	r.sessions.OnEvicted(func(_ string, v interface{}) {
		fn(v.(*Session))
	})
}

// Create opens a new session.
func (r *Registry) Create(name string, now time.Time) *Session {
	s := &Session{
		ID:        uuid.New(),
		Name:      name,
		CreatedAt: now,
		opts:      r.opts,
		log:       history.NewLog(r.capacity),
	}
	r.sessions.SetDefault(s.ID.String(), s)
	return s
}

// Get looks up a session by id and restarts its idle period.
func (r *Registry) Get(id uuid.UUID) (*Session, error) {
	key := id.String()
	v, ok := r.sessions.Get(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	// Replace fails if the session was deleted meanwhile, so it cannot come back.
	_ = r.sessions.Replace(key, v, gocache.DefaultExpiration)
	return v.(*Session), nil
}

// Delete removes a session.
func (r *Registry) Delete(id uuid.UUID) error {
	key := id.String()
	if _, ok := r.sessions.Get(key); !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	r.sessions.Delete(key)
	return nil
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	return r.sessions.ItemCount()
}

// Options returns the evaluation options sessions are created with.
func (r *Registry) Options() pipeline.Options {
	return r.opts
}
