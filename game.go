package main

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	TickRate       = 60 // simulation steps per second
	BroadcastRate  = 30 // state broadcasts per second
	TickDuration   = time.Second / TickRate
	BroadcastEvery = TickRate / BroadcastRate
)

const (
	maxPlayersPerSession = 20
	demoRestartTicks     = 3 * TickRate
)

// GameMode decides which paddles are driven by a client and which by the AI
type GameMode string

const (
	ModeAI    GameMode = "ai"    // one client vs the AI
	ModeLocal GameMode = "local" // one client drives both paddles
	ModeDemo  GameMode = "demo"  // AI vs AI, everyone spectates
)

// ParseMode maps a client-supplied mode name, defaulting to ModeAI
func ParseMode(s string) GameMode {
	switch GameMode(s) {
	case ModeLocal, ModeDemo:
		return GameMode(s)
	}
	return ModeAI
}

// humanPaddles lists the paddles a seated client controls in this mode
func (m GameMode) humanPaddles() []PaddleID {
	switch m {
	case ModeLocal:
		return []PaddleID{First, Second}
	case ModeDemo:
		return nil
	}
	return []PaddleID{First}
}

// Broadcaster interface for sending messages to clients
type Broadcaster interface {
	SendJSON(msg interface{})
	SendBinary(data []byte)
}

// MatchRecorder persists finished matches
type MatchRecorder interface {
	RecordMatch(res MatchResult)
}

// Seat is one participant in a session
type Seat struct {
	ID           string
	Name         string
	AuthPlayerID int64
	Paddles      []PaddleID
}

// Spectator reports whether the seat controls no paddle
func (s *Seat) Spectator() bool {
	return len(s.Paddles) == 0
}

func (s *Seat) controls(id PaddleID) bool {
	for _, p := range s.Paddles {
		if p == id {
			return true
		}
	}
	return false
}

// SeatResult is a seated player's part in a finished match
type SeatResult struct {
	AuthPlayerID int64
	Name         string
	Paddle       PaddleID
}

// MatchResult summarises a match that reached GameOver
type MatchResult struct {
	SessionID    string
	Mode         GameMode
	Difficulty   Difficulty
	Score        [2]int
	Winner       PaddleID
	Tie          bool
	Duration     float64 // simulated seconds
	LongestRally int
	MaxDeficit   [2]int // largest score deficit each paddle faced
	Seats        []SeatResult
}

// Won reports whether the paddle won the match
func (r MatchResult) Won(id PaddleID) bool {
	return !r.Tie && r.Winner == id
}

// Game runs one table: a simulation, its seats and their clients
type Game struct {
	mu          sync.Mutex
	sim         *Simulation
	sessionID   string
	mode        GameMode
	difficulty  Difficulty
	seats       map[string]*Seat
	clients     map[string]Broadcaster // playerID -> client
	controllers map[string]Broadcaster // playerID -> phone controller
	recorder    MatchRecorder
	tick        uint64
	stop        chan struct{}
	stopOnce    sync.Once

	inMatch      bool
	matchStart   float64
	longestRally int
	maxDeficit   [2]int
	overAt       uint64
}

// NewGame creates a table in the main menu. Demo tables start immediately.
func NewGame(sessionID string, mode GameMode, cfg Config, recorder MatchRecorder) (*Game, error) {
	cfg.First.AI = true
	cfg.Second.AI = true
	for _, id := range mode.humanPaddles() {
		if id == First {
			cfg.First.AI = false
		} else {
			cfg.Second.AI = false
		}
	}
	sim, err := NewSimulation(cfg)
	if err != nil {
		return nil, fmt.Errorf("new game: %w", err)
	}

	g := &Game{
		sim:         sim,
		sessionID:   sessionID,
		mode:        mode,
		difficulty:  cfg.AI.Difficulty,
		seats:       make(map[string]*Seat),
		clients:     make(map[string]Broadcaster),
		controllers: make(map[string]Broadcaster),
		recorder:    recorder,
		stop:        make(chan struct{}),
	}
	sim.Subscribe(g.onEvent)

	if mode == ModeDemo {
		g.startLocked()
	}
	return g, nil
}

// Run starts the game loop
func (g *Game) Run() {
	ticker := time.NewTicker(TickDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.update()
		case <-g.stop:
			return
		}
	}
}

// Stop terminates the game loop. Safe to call more than once.
func (g *Game) Stop() {
	g.stopOnce.Do(func() { close(g.stop) })
}

// AddPlayer seats a new participant. The first joiner takes the mode's
// human paddles; later joiners spectate. Returns nil when full.
func (g *Game) AddPlayer(name string, authPlayerID int64) *Seat {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.seats) >= maxPlayersPerSession {
		return nil
	}

	seat := &Seat{
		ID:           GenerateID(4),
		Name:         name,
		AuthPlayerID: authPlayerID,
	}
	if !g.paddlesClaimed() {
		seat.Paddles = g.mode.humanPaddles()
	}
	g.seats[seat.ID] = seat
	return seat
}

func (g *Game) paddlesClaimed() bool {
	for _, s := range g.seats {
		if !s.Spectator() {
			return true
		}
	}
	return false
}

// RemovePlayer removes a participant. A controlling player leaving
// releases their paddles and pauses a running match.
func (g *Game) RemovePlayer(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	seat, ok := g.seats[id]
	if !ok {
		return
	}
	delete(g.seats, id)
	delete(g.clients, id)
	delete(g.controllers, id)

	if seat.Spectator() {
		return
	}
	for _, p := range seat.Paddles {
		g.sim.SetHumanInput(p, 0)
	}
	if g.sim.Match().Phase() == PhasePlaying {
		g.sim.PauseGame()
	}
}

// SetClient associates a broadcaster with a player
func (g *Game) SetClient(playerID string, client Broadcaster) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.clients[playerID] = client
}

// SetController attaches a phone controller to a seated player
func (g *Game) SetController(playerID string, ctrl Broadcaster) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	seat, ok := g.seats[playerID]
	if !ok || seat.Spectator() {
		return false
	}
	g.controllers[playerID] = ctrl
	if c, ok := g.clients[playerID]; ok {
		c.SendJSON(Envelope{T: MsgCtrlOn})
	}
	return true
}

// RemoveController detaches a phone controller and stops its paddle
func (g *Game) RemoveController(playerID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.controllers[playerID]; !ok {
		return
	}
	delete(g.controllers, playerID)
	if seat, ok := g.seats[playerID]; ok && !seat.Spectator() {
		g.sim.SetHumanInput(seat.Paddles[0], 0)
	}
	if c, ok := g.clients[playerID]; ok {
		c.SendJSON(Envelope{T: MsgCtrlOff})
	}
}

// HasPlayer reports whether a player is seated
func (g *Game) HasPlayer(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.seats[id]
	return ok
}

// Seat returns a copy of a player's seat
func (g *Game) Seat(id string) (Seat, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.seats[id]
	if !ok {
		return Seat{}, false
	}
	return *s, true
}

// PlayerCount returns the number of seated participants
func (g *Game) PlayerCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seats)
}

// Mode returns the table's mode
func (g *Game) Mode() GameMode {
	return g.mode
}

// Phase returns the match phase
func (g *Game) Phase() MatchPhase {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sim.Match().Phase()
}

// HandleInput sets the held direction for one of the player's paddles.
// A seat with a single paddle ignores in.Paddle.
func (g *Game) HandleInput(playerID string, in ClientInput) {
	g.mu.Lock()
	defer g.mu.Unlock()

	seat, ok := g.seats[playerID]
	if !ok || seat.Spectator() {
		return
	}
	id := seat.Paddles[0]
	if len(seat.Paddles) > 1 {
		id = PaddleID(in.Paddle)
		if !seat.controls(id) {
			return
		}
	}
	g.sim.SetHumanInput(id, in.Dir)
}

// HandleCommand applies a match command from a seated player.
// Spectators cannot command; invalid transitions are ignored.
func (g *Game) HandleCommand(playerID, cmd string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	seat, ok := g.seats[playerID]
	if !ok || (seat.Spectator() && g.mode != ModeDemo) {
		return false
	}
	switch cmd {
	case CmdStart:
		return g.startLocked()
	case CmdPause:
		return g.sim.PauseGame()
	case CmdResume:
		return g.sim.ResumeGame()
	case CmdEnd:
		return g.sim.EndGame()
	case CmdMenu:
		return g.sim.ReturnToMainMenu()
	}
	log.Printf("game %s: unknown command %q", g.sessionID, cmd)
	return false
}

func (g *Game) startLocked() bool {
	if g.sim.Match().Phase() != PhaseMainMenu {
		return g.sim.StartGame()
	}
	g.inMatch = true
	g.matchStart = g.sim.Now()
	g.longestRally = 0
	g.maxDeficit = [2]int{}
	return g.sim.StartGame()
}

// update runs one game tick
func (g *Game) update() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.tick++
	g.sim.Step(1.0 / float64(TickRate))

	if g.mode == ModeDemo && g.sim.Match().Phase() == PhaseGameOver && g.tick-g.overAt >= demoRestartTicks {
		g.sim.ReturnToMainMenu()
		g.startLocked()
	}

	if g.tick%BroadcastEvery == 0 {
		g.broadcastState()
	}
}

// onEvent runs synchronously inside simulation calls, with g.mu held
func (g *Game) onEvent(e Event) {
	switch e.Type {
	case EventPaddleHit:
		if r := g.sim.Ball().RallyHits; r > g.longestRally {
			g.longestRally = r
		}
	case EventScoreChanged:
		d := e.Player2Score - e.Player1Score
		if d > g.maxDeficit[First] {
			g.maxDeficit[First] = d
		}
		if -d > g.maxDeficit[Second] {
			g.maxDeficit[Second] = -d
		}
	}

	msg := EventMsg{
		Type:  e.Type.String(),
		Phase: e.Phase.String(),
		P1:    e.Player1Score,
		P2:    e.Player2Score,
	}
	if e.Type == EventPaddleHit || e.Type == EventGoalScored {
		msg.Paddle = e.Paddle.String()
	}
	g.broadcastMsg(Envelope{T: MsgEvent, Data: msg})

	if e.Type == EventPhaseChanged && e.Phase == PhaseGameOver {
		g.finishMatch()
	}
}

func (g *Game) finishMatch() {
	g.overAt = g.tick
	if !g.inMatch {
		return
	}
	g.inMatch = false

	res := g.resultLocked()
	over := MatchOverMsg{
		P1:           res.Score[First],
		P2:           res.Score[Second],
		Duration:     round3(res.Duration),
		LongestRally: res.LongestRally,
	}
	if !res.Tie {
		over.Winner = res.Winner.String()
	}
	g.broadcastMsg(Envelope{T: MsgMatchOver, Data: over})

	if g.recorder != nil {
		go g.recorder.RecordMatch(res)
	}
}

func (g *Game) resultLocked() MatchResult {
	st := g.sim.Match().State()
	res := MatchResult{
		SessionID:    g.sessionID,
		Mode:         g.mode,
		Difficulty:   g.difficulty,
		Score:        [2]int{st.Player1Score, st.Player2Score},
		Duration:     g.sim.Now() - g.matchStart,
		LongestRally: g.longestRally,
		MaxDeficit:   g.maxDeficit,
	}
	winner, ok := g.sim.Match().Winner()
	res.Winner, res.Tie = winner, !ok
	for _, s := range g.seats {
		for _, p := range s.Paddles {
			res.Seats = append(res.Seats, SeatResult{
				AuthPlayerID: s.AuthPlayerID,
				Name:         s.Name,
				Paddle:       p,
			})
		}
	}
	return res
}

// State builds the broadcast snapshot
func (g *Game) State() GameState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stateLocked()
}

func (g *Game) stateLocked() GameState {
	snap := g.sim.Snapshot()
	state := GameState{
		Tick:  g.tick,
		Time:  round3(snap.Time),
		Phase: snap.Phase.String(),
		Score: [2]int{snap.Player1Score, snap.Player2Score},
		Ball: BallState{
			X:      round3(snap.BallPos.X),
			Y:      round3(snap.BallPos.Y),
			VX:     round3(snap.BallVel.X),
			VY:     round3(snap.BallVel.Y),
			Speed:  round3(snap.BallSpeed),
			Moving: snap.BallMoving,
		},
		Rally: snap.RallyHits,
	}
	for i := range state.Paddles {
		id := PaddleID(i)
		state.Paddles[i] = PaddleState{
			X:      g.sim.Paddle(id).X,
			Y:      round3(snap.PaddleY[i]),
			Target: round3(snap.AITarget[i]),
			AI:     g.sim.IsAI(id),
		}
	}
	return state
}

// broadcastState sends the current game state to all clients
func (g *Game) broadcastState() {
	data, err := msgpack.Marshal(g.stateLocked())
	if err != nil {
		log.Printf("game %s: marshal state: %v", g.sessionID, err)
		return
	}
	for _, client := range g.clients {
		client.SendBinary(data)
	}
}

// broadcastMsg sends a message to all clients in the session
func (g *Game) broadcastMsg(msg Envelope) {
	for _, client := range g.clients {
		client.SendJSON(msg)
	}
}
