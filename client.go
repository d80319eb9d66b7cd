package main

import (
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 4096
	sendBufSize       = 256
	maxMessagesPerSec = 50
	maxNameLen        = 16
	maxSessionNameLen = 30
	maxLeaderboardLen = 50
	historyLen        = 20
)

// frame is one queued outbound WebSocket message
type frame struct {
	binary bool
	data   []byte
}

// msgLimiter allows max messages per one-second window
type msgLimiter struct {
	max    int
	count  int
	window time.Time
}

func (l *msgLimiter) allow(now time.Time) bool {
	if now.After(l.window) {
		l.count = 0
		l.window = now.Add(time.Second)
	}
	l.count++
	return l.count <= l.max
}

// Client is one WebSocket connection. It holds at most one seat, either
// as a player or as the phone controller of another connection's seat.
type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan frame
	remoteAddr string
	limiter    msgLimiter

	sessionID    string
	playerID     string
	isController bool

	authPlayerID int64  // 0 for guests
	authUsername string // "" for guests
}

// NewClient wraps an upgraded connection
func NewClient(hub *Hub, conn *websocket.Conn, remoteAddr string) *Client {
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan frame, sendBufSize),
		remoteAddr: remoteAddr,
		limiter:    msgLimiter{max: maxMessagesPerSec},
	}
}

// ReadPump handles inbound messages until the connection fails or the
// client exceeds the message rate
func (c *Client) ReadPump() {
	defer func() {
		c.hub.TrackDisconnect(c.remoteAddr)
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("ws %s: %v", c.remoteAddr, err)
			}
			return
		}
		if !c.limiter.allow(time.Now()) {
			log.Printf("ws %s: over %d msg/s, disconnecting", c.remoteAddr, maxMessagesPerSec)
			return
		}
		if kind == websocket.BinaryMessage {
			c.handleInputFrame(msg)
			continue
		}
		c.handleMessage(msg)
	}
}

// WritePump drains the send queue and keeps the connection alive with pings
func (c *Client) WritePump() {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case f, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			kind := websocket.TextMessage
			if f.binary {
				kind = websocket.BinaryMessage
			}
			if err := c.conn.WriteMessage(kind, f.data); err != nil {
				return
			}
		case <-ping.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue drops the frame when the client is too slow. The hub closes
// send on unregister, so a late enqueue must not panic the game loop.
func (c *Client) enqueue(f frame) {
	defer func() { recover() }()
	select {
	case c.send <- f:
	default:
	}
}

// SendJSON queues a JSON text message
func (c *Client) SendJSON(msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("marshal %T: %v", msg, err)
		return
	}
	c.enqueue(frame{data: data})
}

// SendBinary queues an encoded state snapshot
func (c *Client) SendBinary(data []byte) {
	c.enqueue(frame{binary: true, data: data})
}

func (c *Client) sendError(msg string) {
	c.SendJSON(Envelope{T: MsgError, Data: ErrorMsg{Msg: msg}})
}

var handlers = map[string]func(*Client, json.RawMessage){
	MsgList:        func(c *Client, _ json.RawMessage) { c.handleList() },
	MsgCreate:      (*Client).handleCreate,
	MsgJoin:        (*Client).handleJoin,
	MsgInput:       (*Client).handleInput,
	MsgCommand:     (*Client).handleCommand,
	MsgLeave:       func(c *Client, _ json.RawMessage) { c.handleLeave() },
	MsgCheck:       (*Client).handleCheck,
	MsgControl:     (*Client).handleControl,
	MsgRegister:    (*Client).handleRegister,
	MsgLogin:       (*Client).handleLogin,
	MsgAuth:        (*Client).handleAuth,
	MsgProfile:     func(c *Client, _ json.RawMessage) { c.handleProfile() },
	MsgLeaderboard: (*Client).handleLeaderboard,
	MsgHistory:     func(c *Client, _ json.RawMessage) { c.handleHistory() },
}

func (c *Client) handleMessage(raw []byte) {
	var env InEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Printf("ws %s: bad envelope: %v", c.remoteAddr, err)
		return
	}
	if h, ok := handlers[env.T]; ok {
		h(c, env.D)
	}
}

// decode unmarshals a message body, logging malformed ones
func decode(data json.RawMessage, v interface{}) bool {
	if err := json.Unmarshal(data, v); err != nil {
		log.Printf("decode %T: %v", v, err)
		return false
	}
	return true
}

// session returns the table the client sits at, or nil
func (c *Client) session() *Session {
	if c.sessionID == "" || c.playerID == "" {
		return nil
	}
	return c.hub.sessions.GetSession(c.sessionID)
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func (c *Client) handleList() {
	c.SendJSON(Envelope{T: MsgSessions, Data: c.hub.sessions.ListSessions()})
}

func (c *Client) handleCreate(data json.RawMessage) {
	var msg CreateMsg
	if !decode(data, &msg) {
		return
	}
	name := truncate(msg.SessionName, maxSessionNameLen)
	if name == "" {
		name = "Table"
	}
	difficulty := msg.Difficulty
	if difficulty == "" && msg.Level > 0 {
		difficulty = string(DifficultyForLevel(msg.Level))
	}

	cfg, err := c.hub.SessionConfig(difficulty, msg.ScoreToWin)
	if err != nil {
		c.sendError(err.Error())
		return
	}
	sess, err := c.hub.sessions.CreateSession(name, ParseMode(msg.Mode), cfg, c.hub)
	if err != nil {
		c.sendError(err.Error())
		return
	}
	c.hub.analytics.Track(EvtSessionStart, c.authPlayerID, sess.ID, string(sess.Game.Mode()))
	c.hub.analytics.SetActiveSessions(c.hub.sessions.Count())
	c.SendJSON(Envelope{T: MsgCreated, Data: map[string]string{"sid": sess.ID}})
}

func (c *Client) handleJoin(data json.RawMessage) {
	var msg JoinMsg
	if !decode(data, &msg) {
		return
	}
	name := msg.Name
	if name == "" {
		name = c.authUsername
	}
	if name == "" {
		name = GenerateGuestName()
	}

	sess := c.hub.sessions.GetSession(msg.SessionID)
	if sess == nil {
		c.sendError("session not found")
		return
	}

	// A connection holds at most one seat; give up the old one first
	c.handleLeave()
	seat := sess.Game.AddPlayer(truncate(name, maxNameLen), c.authPlayerID)
	if seat == nil {
		c.sendError("session full")
		return
	}
	c.hub.sessions.MarkActive(sess.ID)
	c.sessionID, c.playerID = sess.ID, seat.ID

	paddles := make([]int, 0, len(seat.Paddles))
	for _, p := range seat.Paddles {
		paddles = append(paddles, int(p))
	}
	c.SendJSON(Envelope{T: MsgJoined, Data: map[string]string{"sid": sess.ID}})
	c.SendJSON(Envelope{T: MsgWelcome, Data: WelcomeMsg{
		ID:        seat.ID,
		Mode:      string(sess.Game.Mode()),
		Paddles:   paddles,
		Spectator: seat.Spectator(),
	}})
	// Attach after the welcome so it always precedes the first broadcast
	sess.Game.SetClient(seat.ID, c)
}

// handleInputFrame applies a binary input frame; anything else is ignored
func (c *Client) handleInputFrame(msg []byte) {
	if len(msg) != inputFrameLen || msg[0] != inputFrameTag {
		return
	}
	if sess := c.session(); sess != nil {
		sess.Game.HandleInput(c.playerID, ClientInput{
			Paddle: int(msg[1]),
			Dir:    int(int8(msg[2])),
		})
	}
}

func (c *Client) handleInput(data json.RawMessage) {
	sess := c.session()
	var in ClientInput
	if sess == nil || !decode(data, &in) {
		return
	}
	sess.Game.HandleInput(c.playerID, in)
}

// handleCommand forwards match commands. Phone controllers only steer.
func (c *Client) handleCommand(data json.RawMessage) {
	sess := c.session()
	var msg CommandMsg
	if sess == nil || c.isController || !decode(data, &msg) {
		return
	}
	if sess.Game.HandleCommand(c.playerID, msg.Cmd) && msg.Cmd == CmdStart {
		c.hub.analytics.Track(EvtMatchStart, c.authPlayerID, sess.ID, string(sess.Game.Mode()))
	}
}

func (c *Client) handleCheck(data json.RawMessage) {
	var msg CheckMsg
	if !decode(data, &msg) {
		return
	}
	out := CheckedMsg{SID: msg.SID}
	if sess := c.hub.sessions.GetSession(msg.SID); sess != nil {
		out.Exists = true
		out.Name = sess.Name
		out.Mode = string(sess.Game.Mode())
		out.Phase = sess.Game.Phase().String()
		out.Players = sess.Game.PlayerCount()
	}
	c.SendJSON(Envelope{T: MsgChecked, Data: out})
}

// handleLeave releases the client's seat or controller binding
func (c *Client) handleLeave() {
	if c.sessionID == "" {
		return
	}
	if c.isController {
		if sess := c.hub.sessions.GetSession(c.sessionID); sess != nil {
			sess.Game.RemoveController(c.playerID)
		}
	} else {
		c.hub.sessions.RemovePlayer(c.sessionID, c.playerID)
	}
	c.sessionID, c.playerID, c.isController = "", "", false
}

func (c *Client) handleControl(data json.RawMessage) {
	var msg ControlMsg
	if !decode(data, &msg) {
		return
	}
	sess := c.hub.sessions.GetSession(msg.SID)
	if sess == nil {
		c.sendError("session not found")
		return
	}
	c.handleLeave()
	if !sess.Game.SetController(msg.PlayerID, c) {
		c.sendError("player not found")
		return
	}
	c.sessionID, c.playerID, c.isController = msg.SID, msg.PlayerID, true
	c.SendJSON(Envelope{T: MsgControlOK, Data: map[string]string{"pid": msg.PlayerID}})
}

// accounts returns the auth service, telling the client when there is none
func (c *Client) accounts() *Auth {
	if c.hub.auth == nil {
		c.sendError("accounts disabled")
	}
	return c.hub.auth
}

func (c *Client) authenticated(id int64, username, token string) {
	c.authPlayerID, c.authUsername = id, username
	c.hub.SetOnline(id, c)
	c.hub.analytics.Track(EvtDailyLogin, id, "", "")
	c.SendJSON(Envelope{T: MsgAuthOK, Data: AuthOKMsg{
		Token:    token,
		Username: username,
		PlayerID: id,
	}})
}

func (c *Client) handleRegister(data json.RawMessage) {
	auth := c.accounts()
	var msg RegisterMsg
	if auth == nil || !decode(data, &msg) {
		return
	}
	id, token, err := auth.Register(msg.Username, msg.Password)
	if err != nil {
		c.sendError(err.Error())
		return
	}
	c.authenticated(id, msg.Username, token)
}

func (c *Client) handleLogin(data json.RawMessage) {
	auth := c.accounts()
	var msg LoginMsg
	if auth == nil || !decode(data, &msg) {
		return
	}
	id, token, err := auth.Login(msg.Username, msg.Password, c.remoteAddr)
	if err != nil {
		c.sendError(err.Error())
		return
	}
	c.authenticated(id, msg.Username, token)
}

func (c *Client) handleAuth(data json.RawMessage) {
	auth := c.accounts()
	var msg AuthMsg
	if auth == nil || !decode(data, &msg) {
		return
	}
	id, username, err := auth.ValidateToken(msg.Token)
	if err != nil {
		c.sendError("invalid token")
		return
	}
	c.authenticated(id, username, msg.Token)
}

// signedIn reports whether profile data can be served, telling the client when not
func (c *Client) signedIn() bool {
	if c.hub.db == nil || c.authPlayerID == 0 {
		c.sendError("not authenticated")
		return false
	}
	return true
}

func (c *Client) handleProfile() {
	if !c.signedIn() {
		return
	}
	stats, err := c.hub.db.GetStats(c.authPlayerID)
	if err != nil || stats == nil {
		c.sendError("profile not found")
		return
	}
	achievements, err := c.hub.db.GetAchievements(c.authPlayerID)
	if err != nil {
		log.Printf("achievements for %d: %v", c.authPlayerID, err)
	}
	c.SendJSON(Envelope{T: MsgProfileData, Data: ProfileDataMsg{
		Username:      c.authUsername,
		Level:         stats.Level,
		XP:            stats.XP,
		NextLevelXP:   XPForLevel(stats.Level+1) - stats.XP,
		LevelXP:       XPToNextLevel(stats.Level),
		Matches:       stats.Matches,
		Wins:          stats.Wins,
		Losses:        stats.Losses,
		PointsFor:     stats.PointsFor,
		PointsAgainst: stats.PointsAgainst,
		LongestRally:  stats.LongestRally,
		Playtime:      stats.Playtime,
		Achievements:  achievements,
	}})
}

func (c *Client) handleLeaderboard(data json.RawMessage) {
	if c.hub.db == nil {
		c.sendError("leaderboard unavailable")
		return
	}
	var msg LeaderboardMsg
	if len(data) > 0 && !decode(data, &msg) {
		return
	}
	limit := msg.Limit
	if limit <= 0 || limit > maxLeaderboardLen {
		limit = 10
	}
	entries, err := c.hub.db.GetLeaderboard(msg.Sort, limit)
	if err != nil {
		log.Printf("leaderboard: %v", err)
		c.sendError("leaderboard unavailable")
		return
	}
	c.SendJSON(Envelope{T: MsgLeaderData, Data: entries})
}

func (c *Client) handleHistory() {
	if !c.signedIn() {
		return
	}
	history, err := c.hub.db.GetMatchHistory(c.authPlayerID, historyLen)
	if err != nil {
		log.Printf("history for %d: %v", c.authPlayerID, err)
		c.sendError("history unavailable")
		return
	}
	c.SendJSON(Envelope{T: MsgHistoryData, Data: history})
}
