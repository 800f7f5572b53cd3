package task

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"meritpay/internal/logging"
)

// ErrSessionNotFound is returned when a step is appended to a task that has
// no session. Engines always call GetOrCreate first; hitting this error
// means a caller skipped that contract.
var ErrSessionNotFound = errors.New("task session not found")

// StoreConfig bounds the session store. Zero values pick the defaults.
type StoreConfig struct {
	MaxSessions int           // evict least-recently-used beyond this (default 4096)
	TTL         time.Duration // evict sessions idle longer than this (default 24h)
}

const (
	defaultMaxSessions = 4096
	defaultSessionTTL  = 24 * time.Hour
)

// Store owns all task sessions. It is the single shared mutable resource
// between the evaluation and payment engines and is safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	sessions *expirable.LRU[string, *Session]
	locks    map[string]*taskLock
	logger   logging.Logger
}

// taskLock is a refcounted per-task mutex. refs counts holders plus waiters,
// so eviction of the session never discards a lock that is still in use.
type taskLock struct {
	mu   sync.Mutex
	refs int
}

// NewStore creates a bounded session store.
func NewStore(cfg StoreConfig, logger logging.Logger) *Store {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = defaultMaxSessions
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultSessionTTL
	}

	s := &Store{
		locks:  make(map[string]*taskLock),
		logger: logging.OrNop(logger),
	}
	s.sessions = expirable.NewLRU(cfg.MaxSessions, s.onEvict, cfg.TTL)
	return s
}

func (s *Store) onEvict(taskID string, _ *Session) {
	// Eviction runs under the LRU's own lock; defer the task-lock cleanup so
	// we never take s.mu inside an LRU callback triggered by an Add. The
	// entry is dropped only when nobody holds or waits on it; a held lock is
	// instead released by its last holder via the unlock closure.
	go func() {
		s.mu.Lock()
		if lock, ok := s.locks[taskID]; ok && lock.refs == 0 {
			delete(s.locks, taskID)
		}
		s.mu.Unlock()
		s.logger.Debug("Evicted session for task %s", taskID)
	}()
}

// GetOrCreate returns the session for taskID, creating and registering an
// empty one if none exists. Idempotent and atomic with respect to concurrent
// callers for the same id.
func (s *Store) GetOrCreate(taskID string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if session, ok := s.sessions.Get(taskID); ok {
		return session
	}

	session := newSession(taskID)
	s.sessions.Add(taskID, session)
	return session
}

// Get returns the session for taskID if one exists.
func (s *Store) Get(taskID string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions.Get(taskID)
}

// AppendStep appends a step to the session for taskID. Unlike the historical
// silent no-op, a missing session is an explicit error.
func (s *Store) AppendStep(taskID string, step *Step) (*Step, error) {
	session, ok := s.Get(taskID)
	if !ok {
		return step, ErrSessionNotFound
	}
	session.appendStep(step)
	return step, nil
}

// LockTask acquires a per-task mutex and returns the unlock function. The
// payment engine holds this across its check-submit-confirm sequence so
// concurrent pay calls for one task serialize. The mutex stays registered
// for as long as anyone holds or waits on it, even if the session itself is
// evicted in the meantime; the last releaser removes the entry once the
// session is gone.
func (s *Store) LockTask(taskID string) func() {
	s.mu.Lock()
	lock, ok := s.locks[taskID]
	if !ok {
		lock = &taskLock{}
		s.locks[taskID] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()

		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 && !s.sessions.Contains(taskID) {
			delete(s.locks, taskID)
		}
		s.mu.Unlock()
	}
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions.Len()
}

// MintTaskID generates a fresh server-owned task identifier. Clients never
// supply task ids, so they cannot target an existing task for re-payment.
func MintTaskID() string {
	return "task-" + uuid.New().String()
}
