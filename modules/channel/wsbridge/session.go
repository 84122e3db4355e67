package wsbridge

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// session represents one connected client adapter.
type session struct {
	ID          string
	Name        string
	Platform    string
	ConnectedAt time.Time

	conn *websocket.Conn

	// writeMu serializes writes; a connection supports one concurrent
	// writer per message type.
	writeMu sync.Mutex
}

// writeEnvelope marshals and writes an Envelope to the connection.
func (s *session) writeEnvelope(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("wsbridge: marshal envelope: %w", err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("wsbridge: write to client %s: %w", s.ID, err)
	}
	return nil
}

// sessionStore is a concurrent-safe registry of connected client
// adapters, plus a routing table mapping conversation IDs to the
// session that most recently delivered a message for that conversation.
type sessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*session
	routes   map[string]string // conversation ID -> session ID
}

func newSessionStore() *sessionStore {
	return &sessionStore{
		sessions: make(map[string]*session),
		routes:   make(map[string]string),
	}
}

// addIfUnder registers s unless the store already holds max sessions.
// The check and insert are one operation under the lock.
func (st *sessionStore) addIfUnder(s *session, max int) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.sessions) >= max {
		return false
	}
	st.sessions[s.ID] = s
	return true
}

// remove deletes a session and all routes pointing at it.
func (st *sessionStore) remove(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, id)
	for conv, sid := range st.routes {
		if sid == id {
			delete(st.routes, conv)
		}
	}
}

// route records that sessionID is the delivery path for conversationID.
func (st *sessionStore) route(conversationID, sessionID string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.routes[conversationID] = sessionID
}

// forConversation returns the session routed for conversationID. When no
// route exists but exactly one client is connected, that client is
// returned as the obvious delivery path.
func (st *sessionStore) forConversation(conversationID string) (*session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if sid, ok := st.routes[conversationID]; ok {
		if s, ok := st.sessions[sid]; ok {
			return s, true
		}
	}
	if len(st.sessions) == 1 {
		for _, s := range st.sessions {
			return s, true
		}
	}
	return nil, false
}

func (st *sessionStore) len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// each iterates over all sessions, calling fn for each.
func (st *sessionStore) each(fn func(s *session)) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	for _, s := range st.sessions {
		fn(s)
	}
}

func generateSessionID() (string, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return "ws-" + hex.EncodeToString(buf[:]), nil
}
