package main

import (
	"fmt"
	"log"
	"math"
	"math/rand"
	"time"
)

const (
	// maxSubstep bounds one integration step so a fast ball cannot pass through a paddle
	maxSubstep = 1.0 / 120
	// maxStep is the most simulated time a single Step may advance
	maxStep = 0.25
)

// Snapshot is a read-only copy of the simulation state
type Snapshot struct {
	Time         float64
	Phase        MatchPhase
	Player1Score int
	Player2Score int
	BallPos      Vec2
	BallVel      Vec2
	BallSpeed    float64
	BallMoving   bool
	RallyHits    int
	PaddleY      [2]float64
	AITarget     [2]float64
}

// Simulation is the root of the deterministic game core. It owns every
// entity and is driven by calling Step. It is not safe for concurrent use.
type Simulation struct {
	cfg     Config
	rng     *rand.Rand
	now     float64
	events  *EventBus
	match   *Match
	ball    *Ball
	paddles [2]*Paddle
	ai      [2]*AIController
	input   [2]int
}

// NewSimulation validates cfg and builds a simulation sitting in the main menu
func NewSimulation(cfg Config) (*Simulation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("new simulation: %w", err)
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	s := &Simulation{
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(seed)),
		events: NewEventBus(),
	}
	s.ball = NewBall(cfg.Ball, cfg.Field)
	s.match = NewMatch(cfg.ScoreToWin, s.events, s)

	for i, pc := range []PaddleConfig{cfg.First, cfg.Second} {
		id := PaddleID(i)
		s.paddles[id] = NewPaddle(id, pc, cfg.Field)
		if pc.AI {
			s.ai[id] = NewAIController(s.paddles[id], cfg.AI, s.rng)
		}
	}
	return s, nil
}

// ScheduleBallReset puts the ball back at the origin and schedules its launch
func (s *Simulation) ScheduleBallReset() {
	s.ball.Reset(s.now)
}

// StartGame begins a match from the main menu with both paddles centred
// and no held input
func (s *Simulation) StartGame() bool {
	if s.match.Phase() == PhaseMainMenu {
		s.input = [2]int{}
		for id, p := range s.paddles {
			p.Y = p.centre()
			if s.ai[id] != nil {
				s.ai[id].Reset()
			}
		}
	}
	return s.match.StartGame()
}

func (s *Simulation) PauseGame() bool { return s.match.PauseGame() }
func (s *Simulation) ResumeGame() bool { return s.match.ResumeGame() }
func (s *Simulation) EndGame() bool { return s.match.EndGame() }

// ReturnToMainMenu leaves a finished match and parks the ball at the origin
func (s *Simulation) ReturnToMainMenu() bool {
	if !s.match.ReturnToMainMenu() {
		return false
	}
	s.ball.Park()
	return true
}

// SetHumanInput records the held direction for a human paddle. The value
// persists until changed. Unknown ids and AI paddles are ignored.
func (s *Simulation) SetHumanInput(id PaddleID, direction int) bool {
	if !id.Valid() || s.ai[id] != nil {
		return false
	}
	s.input[id] = Sign(direction)
	return true
}

// Step advances the simulation by dt seconds of simulated time. It does
// nothing outside the Playing phase. dt is capped at maxStep.
func (s *Simulation) Step(dt float64) {
	if !(dt > 0) || math.IsInf(dt, 0) || s.match.Phase() != PhasePlaying {
		return
	}
	if dt > maxStep {
		log.Printf("sim: step %.3fs clamped to %.2fs", dt, maxStep)
		dt = maxStep
	}
	for dt > 0 && s.match.Phase() == PhasePlaying {
		h := math.Min(dt, maxSubstep)
		dt -= h
		s.substep(h)
	}
}

func (s *Simulation) substep(dt float64) {
	s.now += dt
	s.ball.UpdateLaunch(s.now, s.rng)

	for id, p := range s.paddles {
		dir := s.input[id]
		if ai := s.ai[id]; ai != nil {
			ai.Update(s.now, s.ball)
			dir = ai.Direction()
		}
		p.ApplyInput(dir, dt)
	}

	if !s.ball.Moving {
		return
	}
	s.ball.Integrate(dt)

	if s.ball.ResolveWallCollision() {
		s.publish(Event{Type: EventWallBounce})
	}

	for _, p := range s.paddles {
		if s.ball.Approaching(p) && s.ball.Touches(p) {
			s.ball.ResolvePaddleCollision(p)
			s.publish(Event{Type: EventPaddleHit, Paddle: p.ID})
		}
	}

	if scorer, ok := s.ball.DetectGoal(); ok {
		s.ball.Stop()
		s.publish(Event{Type: EventGoalScored, Paddle: scorer})
		s.match.GoalScored(scorer)
	}
}

func (s *Simulation) publish(e Event) {
	st := s.match.State()
	e.Phase = st.Phase
	e.Player1Score = st.Player1Score
	e.Player2Score = st.Player2Score
	s.events.Publish(e)
}

// Subscribe registers h for notifications and returns its unsubscribe func
func (s *Simulation) Subscribe(h Handler) func() {
	return s.events.Subscribe(h)
}

// Snapshot copies the current state
func (s *Simulation) Snapshot() Snapshot {
	st := s.match.State()
	snap := Snapshot{
		Time:         s.now,
		Phase:        st.Phase,
		Player1Score: st.Player1Score,
		Player2Score: st.Player2Score,
		BallPos:      s.ball.Pos,
		BallVel:      s.ball.Vel,
		BallSpeed:    s.ball.Speed,
		BallMoving:   s.ball.Moving,
		RallyHits:    s.ball.RallyHits,
	}
	for id, p := range s.paddles {
		snap.PaddleY[id] = p.Y
		snap.AITarget[id] = p.Y
		if s.ai[id] != nil {
			snap.AITarget[id] = s.ai[id].TargetY
		}
	}
	return snap
}

func (s *Simulation) Now() float64 { return s.now }
func (s *Simulation) Config() Config { return s.cfg }
func (s *Simulation) Ball() *Ball { return s.ball }
func (s *Simulation) Match() *Match { return s.match }
func (s *Simulation) Events() *EventBus { return s.events }

// Paddle returns the paddle with the given id, or nil
func (s *Simulation) Paddle(id PaddleID) *Paddle {
	if !id.Valid() {
		return nil
	}
	return s.paddles[id]
}

// AI returns the controller driving the paddle, or nil for a human paddle
func (s *Simulation) AI(id PaddleID) *AIController {
	if !id.Valid() {
		return nil
	}
	return s.ai[id]
}

// IsAI reports whether the paddle is AI-driven
func (s *Simulation) IsAI(id PaddleID) bool {
	return s.AI(id) != nil
}
