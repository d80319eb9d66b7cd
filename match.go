package main

import "log"

// MatchPhase represents the lifecycle of a match
type MatchPhase int

const (
	PhaseMainMenu MatchPhase = 0
	PhasePlaying  MatchPhase = 1
	PhasePaused   MatchPhase = 2
	PhaseGameOver MatchPhase = 3
)

var phaseName = map[MatchPhase]string{
	PhaseMainMenu: "main_menu",
	PhasePlaying:  "playing",
	PhasePaused:   "paused",
	PhaseGameOver: "game_over",
}

func (p MatchPhase) String() string {
	return phaseName[p]
}

// MatchState holds the current phase and scores
type MatchState struct {
	Phase        MatchPhase
	Player1Score int
	Player2Score int
	ScoreToWin   int
}

// Score returns the score of the given paddle's player
func (ms MatchState) Score(id PaddleID) int {
	if id == First {
		return ms.Player1Score
	}
	return ms.Player2Score
}

// BallResetter schedules a ball reset. The match is the only caller.
type BallResetter interface {
	ScheduleBallReset()
}

// Match is the phase/score state machine. It owns the event bus that
// presentation subscribes to.
type Match struct {
	state  MatchState
	events *EventBus
	balls  BallResetter
}

// NewMatch creates a match sitting in the main menu
func NewMatch(scoreToWin int, events *EventBus, balls BallResetter) *Match {
	return &Match{
		state:  MatchState{Phase: PhaseMainMenu, ScoreToWin: scoreToWin},
		events: events,
		balls:  balls,
	}
}

// State returns a copy of the current state
func (m *Match) State() MatchState {
	return m.state
}

// Phase returns the current phase
func (m *Match) Phase() MatchPhase {
	return m.state.Phase
}

// Events returns the bus notifications are published on
func (m *Match) Events() *EventBus {
	return m.events
}

// StartGame begins a new match from the main menu
func (m *Match) StartGame() bool {
	if m.state.Phase != PhaseMainMenu {
		return m.ignore("start")
	}
	m.state.Player1Score = 0
	m.state.Player2Score = 0
	m.transition(PhasePlaying)
	m.balls.ScheduleBallReset()
	m.publishScore()
	return true
}

// PauseGame suspends a running match
func (m *Match) PauseGame() bool {
	if m.state.Phase != PhasePlaying {
		return m.ignore("pause")
	}
	m.transition(PhasePaused)
	return true
}

// ResumeGame continues a paused match
func (m *Match) ResumeGame() bool {
	if m.state.Phase != PhasePaused {
		return m.ignore("resume")
	}
	m.transition(PhasePlaying)
	return true
}

// EndGame ends the match immediately
func (m *Match) EndGame() bool {
	if m.state.Phase == PhaseGameOver {
		return m.ignore("end")
	}
	m.transition(PhaseGameOver)
	return true
}

// ReturnToMainMenu leaves a finished match (or stays in the menu)
func (m *Match) ReturnToMainMenu() bool {
	if m.state.Phase != PhaseGameOver && m.state.Phase != PhaseMainMenu {
		return m.ignore("menu")
	}
	m.transition(PhaseMainMenu)
	return true
}

// GoalScored credits scorer with a point, then either ends the match or
// schedules the next serve.
func (m *Match) GoalScored(scorer PaddleID) bool {
	if m.state.Phase != PhasePlaying || !scorer.Valid() {
		return m.ignore("goal")
	}
	if scorer == First {
		m.state.Player1Score++
	} else {
		m.state.Player2Score++
	}
	m.publishScore()

	if m.state.Player1Score >= m.state.ScoreToWin || m.state.Player2Score >= m.state.ScoreToWin {
		m.transition(PhaseGameOver)
		return true
	}
	m.balls.ScheduleBallReset()
	return true
}

// Winner returns the leading paddle; ok is false on a tie
func (m *Match) Winner() (id PaddleID, ok bool) {
	switch {
	case m.state.Player1Score > m.state.Player2Score:
		return First, true
	case m.state.Player2Score > m.state.Player1Score:
		return Second, true
	}
	return 0, false
}

func (m *Match) transition(to MatchPhase) {
	m.state.Phase = to
	m.events.Publish(Event{
		Type:         EventPhaseChanged,
		Phase:        to,
		Player1Score: m.state.Player1Score,
		Player2Score: m.state.Player2Score,
	})
}

func (m *Match) publishScore() {
	m.events.Publish(Event{
		Type:         EventScoreChanged,
		Phase:        m.state.Phase,
		Player1Score: m.state.Player1Score,
		Player2Score: m.state.Player2Score,
	})
}

func (m *Match) ignore(cmd string) bool {
	log.Printf("match: ignoring %s in phase %s", cmd, m.state.Phase)
	return false
}
