package session

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store is the CRUD contract over sessions, messages, user contexts, and
// compacted history (spec.md §4.F). It never inspects conversational
// semantics; it is a pure persistence boundary.
type Store interface {
	GetOrCreateSession(sessionID, userID, rootAgentID string) (*Session, error)
	GetSession(sessionID string) (*Session, bool)
	SaveSession(s *Session) error

	AppendMessage(msg ConversationMessage) error
	RecentMessages(sessionID string, limit int) ([]ConversationMessage, error)

	// ListSessions browses sessions for GET /conversations (spec.md §6),
	// newest-interaction-first, filtered by the non-zero fields of
	// filter and paginated by limit/offset.
	ListSessions(filter SessionFilter) ([]*Session, error)

	GetUserContext(userID string) (*UserContext, bool)
	SaveUserContext(uc *UserContext) error

	GetCompactedHistory(userID string) (*CompactedHistory, bool)
	SaveCompactedHistory(ch *CompactedHistory) error

	// Lock acquires the per-session mutex enforcing the turn-serialisation
	// guarantee of spec.md §5 and returns an unlock function. Callers for
	// distinct session ids never block one another.
	Lock(sessionID string) func()

	Count() int
	Close() error
}

// MemoryStore is an in-memory Store with a TTL-based eviction goroutine,
// grounded on Jint8888-Pocket-Omega/internal/session/store.go's
// per-ID mutex map and cleanupLoop pattern, generalised from that
// teacher's single Turn-history shape to full CRUD over Session,
// ConversationMessage, UserContext, and CompactedHistory.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*sessionEntry
	users    map[string]*UserContext
	history  map[string]*CompactedHistory

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex

	ttl      time.Duration
	maxTurns int

	log *zap.Logger

	closeOnce sync.Once
	stopCh    chan struct{}
}

type sessionEntry struct {
	session  *Session
	messages []ConversationMessage
	lastUsed time.Time
}

// NewMemoryStore constructs a Store with the given session TTL and
// per-session message retention cap, and starts its cleanup goroutine.
func NewMemoryStore(ttl time.Duration, maxTurns int, log *zap.Logger) *MemoryStore {
	if log == nil {
		log = zap.NewNop()
	}
	s := &MemoryStore{
		sessions: make(map[string]*sessionEntry),
		users:    make(map[string]*UserContext),
		history:  make(map[string]*CompactedHistory),
		locks:    make(map[string]*sync.Mutex),
		ttl:      ttl,
		maxTurns: maxTurns,
		log:      log,
		stopCh:   make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

func (s *MemoryStore) Lock(sessionID string) func() {
	s.lockMu.Lock()
	m, ok := s.locks[sessionID]
	if !ok {
		m = &sync.Mutex{}
		s.locks[sessionID] = m
	}
	s.lockMu.Unlock()

	m.Lock()
	return m.Unlock
}

func (s *MemoryStore) GetOrCreateSession(sessionID, userID, rootAgentID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sessionID != "" {
		if entry, ok := s.sessions[sessionID]; ok {
			entry.lastUsed = time.Now()
			return entry.session, nil
		}
	}

	sess := NewSession(userID, rootAgentID)
	if sessionID != "" {
		sess.SessionID = sessionID
	}
	s.sessions[sess.SessionID] = &sessionEntry{session: sess, lastUsed: time.Now()}
	s.log.Info("created new session", zap.String("session_id", sess.SessionID), zap.String("user_id", userID))
	return sess, nil
}

func (s *MemoryStore) GetSession(sessionID string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.sessions[sessionID]
	if !ok {
		return nil, false
	}
	return entry.session, true
}

func (s *MemoryStore) SaveSession(sess *Session) error {
	if sess == nil {
		return fmt.Errorf("session: SaveSession: nil session")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.sessions[sess.SessionID]
	if !ok {
		entry = &sessionEntry{}
		s.sessions[sess.SessionID] = entry
	}
	entry.session = sess
	entry.lastUsed = time.Now()
	return nil
}

func (s *MemoryStore) AppendMessage(msg ConversationMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.sessions[msg.SessionID]
	if !ok {
		return fmt.Errorf("session: AppendMessage: unknown session %q", msg.SessionID)
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	entry.messages = append(entry.messages, msg)
	if s.maxTurns > 0 && len(entry.messages) > s.maxTurns {
		entry.messages = entry.messages[len(entry.messages)-s.maxTurns:]
	}
	entry.lastUsed = time.Now()
	return nil
}

func (s *MemoryStore) RecentMessages(sessionID string, limit int) ([]ConversationMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session: RecentMessages: unknown session %q", sessionID)
	}
	msgs := entry.messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]ConversationMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *MemoryStore) ListSessions(filter SessionFilter) ([]*Session, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matchingIDs map[string]bool
	if filter.Query != "" {
		needle := strings.ToLower(filter.Query)
		matchingIDs = make(map[string]bool)
		for id, entry := range s.sessions {
			for _, msg := range entry.messages {
				if strings.Contains(strings.ToLower(msg.Content), needle) {
					matchingIDs[id] = true
					break
				}
			}
		}
	}

	matched := make([]*sessionEntry, 0, len(s.sessions))
	for id, entry := range s.sessions {
		if filter.UserID != "" && entry.session.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && entry.session.Status != filter.Status {
			continue
		}
		if matchingIDs != nil && !matchingIDs[id] {
			continue
		}
		matched = append(matched, entry)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].session.LastInteractionAt.After(matched[j].session.LastInteractionAt)
	})

	if filter.Offset >= len(matched) {
		return []*Session{}, nil
	}
	matched = matched[filter.Offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}

	out := make([]*Session, len(matched))
	for i, entry := range matched {
		out[i] = entry.session
	}
	return out, nil
}

func (s *MemoryStore) GetUserContext(userID string) (*UserContext, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	uc, ok := s.users[userID]
	return uc, ok
}

func (s *MemoryStore) SaveUserContext(uc *UserContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[uc.UserID] = uc
	return nil
}

func (s *MemoryStore) GetCompactedHistory(userID string) (*CompactedHistory, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.history[userID]
	return ch, ok
}

func (s *MemoryStore) SaveCompactedHistory(ch *CompactedHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[ch.UserID] = ch
	return nil
}

func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() { close(s.stopCh) })
	return nil
}

func (s *MemoryStore) cleanupLoop() {
	if s.ttl <= 0 {
		return
	}
	ticker := time.NewTicker(s.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.evictExpired()
		}
	}
}

func (s *MemoryStore) evictExpired() {
	cutoff := time.Now().Add(-s.ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, entry := range s.sessions {
		if entry.lastUsed.Before(cutoff) {
			delete(s.sessions, id)
			s.log.Debug("evicted expired session", zap.String("session_id", id))
		}
	}
}
