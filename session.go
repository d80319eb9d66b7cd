package main

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

const maxSessions = 100

// SessionIdleTimeout is how long a session may sit without players before it is removed
var SessionIdleTimeout = 60 * time.Second

// ErrTooManySessions is returned when the session limit is reached
var ErrTooManySessions = errors.New("too many active sessions")

// Session represents a game session that players can join
type Session struct {
	ID   string
	Name string
	Game *Game

	idle *time.Timer // armed while the session has no players
}

// SessionManager handles creation and lookup of sessions
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessionManager creates a new SessionManager
func NewSessionManager() *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*Session),
	}
}

// CreateSession creates a new game session and starts its loop. The
// session is removed if nobody joins within SessionIdleTimeout.
func (sm *SessionManager) CreateSession(name string, mode GameMode, cfg Config, recorder MatchRecorder) (*Session, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if len(sm.sessions) >= maxSessions {
		return nil, ErrTooManySessions
	}

	id := GenerateUUID()
	game, err := NewGame(id, mode, cfg, recorder)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	sess := &Session{
		ID:   id,
		Name: name,
		Game: game,
	}
	sm.sessions[id] = sess
	sm.armIdleLocked(sess)
	go game.Run()
	return sess, nil
}

// GetSession returns a session by ID
func (sm *SessionManager) GetSession(id string) *Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.sessions[id]
}

// MarkActive cancels a pending idle removal
func (sm *SessionManager) MarkActive(id string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sess, ok := sm.sessions[id]; ok && sess.idle != nil {
		sess.idle.Stop()
		sess.idle = nil
	}
}

// RemovePlayer removes a player from a session and arms idle removal
// once the session is empty
func (sm *SessionManager) RemovePlayer(sessionID, playerID string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sess, ok := sm.sessions[sessionID]
	if !ok {
		return
	}
	sess.Game.RemovePlayer(playerID)
	if sess.Game.PlayerCount() == 0 {
		sm.armIdleLocked(sess)
	}
}

func (sm *SessionManager) armIdleLocked(sess *Session) {
	if sess.idle != nil {
		sess.idle.Stop()
	}
	sess.idle = time.AfterFunc(SessionIdleTimeout, func() {
		sm.removeIfIdle(sess.ID)
	})
}

func (sm *SessionManager) removeIfIdle(id string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sess, ok := sm.sessions[id]
	if !ok || sess.Game.PlayerCount() > 0 {
		return
	}
	sess.Game.Stop()
	delete(sm.sessions, id)
}

// Count returns the number of live sessions
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// StopAll stops every session loop
func (sm *SessionManager) StopAll() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	for id, sess := range sm.sessions {
		if sess.idle != nil {
			sess.idle.Stop()
		}
		sess.Game.Stop()
		delete(sm.sessions, id)
	}
}

// ListSessions returns info about all active sessions
func (sm *SessionManager) ListSessions() []SessionInfo {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	list := make([]SessionInfo, 0, len(sm.sessions))
	for _, sess := range sm.sessions {
		list = append(list, SessionInfo{
			ID:      sess.ID,
			Name:    sess.Name,
			Mode:    string(sess.Game.Mode()),
			Phase:   sess.Game.Phase().String(),
			Players: sess.Game.PlayerCount(),
		})
	}
	return list
}
