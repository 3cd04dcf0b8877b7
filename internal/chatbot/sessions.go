package chatbot

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/smartclass/backend/internal/metrics"
	"github.com/smartclass/backend/internal/storage/models"
	"github.com/smartclass/backend/pkg/logger"
)

const AnonymousUser = "anonymous"

// SessionKey scopes history to one user inside one class.
func SessionKey(classID, userID string) string {
	if userID == "" {
		userID = AnonymousUser
	}
	return classID + ":" + userID
}

// SessionStore holds bounded histories by session key. Each call is atomic for its key.
type SessionStore interface {
	// AppendUser trims, appends a user turn and returns the history including that turn.
	AppendUser(ctx context.Context, key, message string) ([]models.ChatTurn, error)
	AppendAssistant(ctx context.Context, key, message string) error
	// AppendExchange appends a user turn and its answer as one operation.
	AppendExchange(ctx context.Context, key, question, answer string) error
	Snapshot(ctx context.Context, key string) ([]models.ChatTurn, error)
}

type memorySession struct {
	mu         sync.Mutex
	history    *History
	lastAccess atomic.Int64
	retired    bool // set under mu once the janitor has removed the session
}

// MemoryStore keeps sessions in process memory and drops the ones idle longer than ttl.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memorySession
	limit    int
	ttl      time.Duration
	now      func() time.Time

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func NewMemoryStore(limit int, ttl time.Duration) *MemoryStore {
	s := &MemoryStore{
		sessions: make(map[string]*memorySession),
		limit:    limit,
		ttl:      ttl,
		now:      time.Now,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	if ttl > 0 {
		go s.janitor(janitorInterval(ttl))
	} else {
		close(s.done)
	}
	return s
}

func janitorInterval(ttl time.Duration) time.Duration {
	interval := ttl / 4
	if interval < time.Second {
		interval = time.Second
	}
	if interval > 5*time.Minute {
		interval = 5 * time.Minute
	}
	return interval
}

func (s *MemoryStore) session(key string) *memorySession {
	now := s.now().UnixNano()

	s.mu.RLock()
	sess, ok := s.sessions[key]
	if ok {
		sess.lastAccess.Store(now)
	}
	s.mu.RUnlock()
	if ok {
		return sess
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok = s.sessions[key]; !ok {
		sess = &memorySession{history: NewHistory(s.limit)}
		s.sessions[key] = sess
		metrics.ActiveSessions.Set(float64(len(s.sessions)))
	}
	sess.lastAccess.Store(now)
	return sess
}

// acquire returns the live session for key with its mutex held.
func (s *MemoryStore) acquire(key string) *memorySession {
	for {
		sess := s.session(key)
		sess.mu.Lock()
		if !sess.retired {
			return sess
		}
		sess.mu.Unlock()
	}
}

func (s *MemoryStore) AppendUser(_ context.Context, key, message string) ([]models.ChatTurn, error) {
	sess := s.acquire(key)
	defer sess.mu.Unlock()

	sess.history.AppendUser(message)
	return sess.history.Snapshot(), nil
}

func (s *MemoryStore) AppendAssistant(_ context.Context, key, message string) error {
	sess := s.acquire(key)
	defer sess.mu.Unlock()

	sess.history.AppendAssistant(message)
	return nil
}

func (s *MemoryStore) AppendExchange(_ context.Context, key, question, answer string) error {
	sess := s.acquire(key)
	defer sess.mu.Unlock()

	sess.history.AppendUser(question)
	sess.history.AppendAssistant(answer)
	return nil
}

func (s *MemoryStore) Snapshot(_ context.Context, key string) ([]models.ChatTurn, error) {
	s.mu.RLock()
	sess, ok := s.sessions[key]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.retired {
		return nil, nil
	}
	return sess.history.Snapshot(), nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *MemoryStore) expire() int {
	cutoff := s.now().Add(-s.ttl).UnixNano()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, sess := range s.sessions {
		if sess.lastAccess.Load() >= cutoff {
			continue
		}
		// A held session is about to be written; leave it for the next sweep.
		if !sess.mu.TryLock() {
			continue
		}
		sess.retired = true
		sess.mu.Unlock()
		delete(s.sessions, key)
		removed++
	}
	metrics.ActiveSessions.Set(float64(len(s.sessions)))
	return removed
}

func (s *MemoryStore) janitor(interval time.Duration) {
	defer close(s.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if n := s.expire(); n > 0 {
				logger.Debug("Expired chat sessions", zap.Int("removed", n))
			}
		}
	}
}

// Close stops the expiry goroutine.
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
	})
	<-s.done
	return nil
}
