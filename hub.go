package main

import (
	"log"
	"sync"
)

const (
	maxConnsPerIP = 5
	maxTotalConns = 1000
)

// Hub manages all connected clients and routes them to sessions
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	sessions   *SessionManager
	base       Config // simulation defaults for new sessions
	// Connection limiting (mutex-protected, accessed from HTTP handlers)
	connMu     sync.Mutex
	ipConns    map[string]int
	totalConns int
	// Auth & DB (db may be nil, which disables accounts and history)
	db        *DB
	auth      *Auth
	analytics *Analytics
	// Online auth users: authPlayerID -> *Client
	onlineMu    sync.RWMutex
	onlineUsers map[int64]*Client
}

// NewHub creates a new Hub. base holds the simulation defaults every
// new session starts from.
func NewHub(db *DB, base Config) *Hub {
	h := &Hub{
		clients:     make(map[*Client]bool),
		register:    make(chan *Client, 64),
		unregister:  make(chan *Client, 64),
		sessions:    NewSessionManager(),
		base:        base,
		ipConns:     make(map[string]int),
		db:          db,
		analytics:   NewAnalytics(db),
		onlineUsers: make(map[int64]*Client),
	}
	if db != nil {
		h.auth = NewAuth(db)
	}
	return h
}

// Close stops all sessions and flushes analytics
func (h *Hub) Close() {
	h.sessions.StopAll()
	h.analytics.Stop()
}

// SessionConfig derives a session's simulation config from the hub
// defaults and the creator's choices
func (h *Hub) SessionConfig(difficulty string, scoreToWin int) (Config, error) {
	cfg := h.base
	if difficulty != "" {
		if err := cfg.ApplyDifficulty(Difficulty(difficulty)); err != nil {
			return Config{}, err
		}
	}
	if scoreToWin > 0 {
		cfg.ScoreToWin = scoreToWin
	}
	return cfg, cfg.Validate()
}

func (h *Hub) CanAccept(ip string) bool {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	if h.totalConns >= maxTotalConns {
		return false
	}
	if h.ipConns[ip] >= maxConnsPerIP {
		return false
	}
	return true
}

func (h *Hub) TrackConnect(ip string) {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	h.ipConns[ip]++
	h.totalConns++
}

func (h *Hub) TrackDisconnect(ip string) {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	h.ipConns[ip]--
	if h.ipConns[ip] <= 0 {
		delete(h.ipConns, ip)
	}
	h.totalConns--
}

// Run processes register/unregister events
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.analytics.SetConcurrentPeers(n)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.analytics.SetConcurrentPeers(n)
			if client.authPlayerID != 0 {
				h.SetOffline(client.authPlayerID)
			}
			// Remove from session if in one
			if client.sessionID != "" {
				if client.isController {
					sess := h.sessions.GetSession(client.sessionID)
					if sess != nil {
						sess.Game.RemoveController(client.playerID)
					}
				} else {
					h.sessions.RemovePlayer(client.sessionID, client.playerID)
				}
			}
			h.analytics.SetActiveSessions(h.sessions.Count())
		}
	}
}

// RecordMatch persists a finished match, updates each authenticated
// seat's stats and notifies them of rewards and achievements.
func (h *Hub) RecordMatch(res MatchResult) {
	h.analytics.TrackMatch(res)

	if h.db == nil {
		return
	}
	winner := -1
	if !res.Tie {
		winner = int(res.Winner)
	}
	matchID, err := h.db.RecordMatch(string(res.Mode), string(res.Difficulty),
		res.Score[First], res.Score[Second], winner, res.Duration, res.LongestRally)
	if err != nil {
		log.Printf("record match %s: %v", res.SessionID, err)
		return
	}

	// A local seat plays both sides, so neither side counts toward stats
	if res.Mode == ModeLocal {
		return
	}
	for _, seat := range res.Seats {
		if seat.AuthPlayerID == 0 {
			continue
		}
		h.recordSeat(matchID, res, seat)
	}
}

func (h *Hub) recordSeat(matchID int64, res MatchResult, seat SeatResult) {
	pid := seat.AuthPlayerID
	side := seat.Paddle
	won := res.Won(side)
	pf, pa := res.Score[side], res.Score[side.Opponent()]
	xp := MatchXP(res, side)

	if err := h.db.RecordMatchPlayer(matchID, pid, int(side), pf, pa, won, xp); err != nil {
		log.Printf("record match player %d: %v", pid, err)
		return
	}
	prev, _ := h.db.GetStats(pid)
	totalXP, level, err := h.db.UpdateStatsAfterMatch(pid, pf, pa, won, res.Duration, res.LongestRally, xp)
	if err != nil {
		log.Printf("update stats %d: %v", pid, err)
		return
	}

	client := h.GetOnlineClient(pid)
	if client != nil {
		client.SendJSON(Envelope{T: MsgMatchRewards, Data: RewardsMsg{
			XPEarned: xp,
			TotalXP:  totalXP,
			Level:    level,
			LevelUp:  prev != nil && level > prev.Level,
		}})
	}
	if prev != nil && level > prev.Level {
		h.analytics.Track(EvtLevelUp, pid, res.SessionID, "")
	}

	for _, a := range CheckAchievements(h.db, pid, res, side) {
		h.analytics.Track(EvtAchievement, pid, res.SessionID, a.ID)
		if client != nil {
			client.SendJSON(Envelope{T: MsgAchievement, Data: AchievementMsg{
				ID:          a.ID,
				Name:        a.Name,
				Description: a.Description,
			}})
		}
	}
}

// SetOnline marks an authenticated user as online
func (h *Hub) SetOnline(playerID int64, client *Client) {
	h.onlineMu.Lock()
	defer h.onlineMu.Unlock()
	h.onlineUsers[playerID] = client
}

// SetOffline removes an authenticated user from online tracking
func (h *Hub) SetOffline(playerID int64) {
	h.onlineMu.Lock()
	defer h.onlineMu.Unlock()
	delete(h.onlineUsers, playerID)
}

// IsOnline checks if a player is online
func (h *Hub) IsOnline(playerID int64) bool {
	h.onlineMu.RLock()
	defer h.onlineMu.RUnlock()
	_, ok := h.onlineUsers[playerID]
	return ok
}

// GetOnlineClient returns the client for an online player
func (h *Hub) GetOnlineClient(playerID int64) *Client {
	h.onlineMu.RLock()
	defer h.onlineMu.RUnlock()
	return h.onlineUsers[playerID]
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// TotalConns returns the tracked connection count
func (h *Hub) TotalConns() int {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	return h.totalConns
}
