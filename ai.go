package main

import (
	"math"
	"math/rand"
)

// minPredictSpeed is the horizontal speed below which the AI does not predict
const minPredictSpeed = 0.1

// AIController drives one paddle by predicting where the ball will cross it.
// The prediction carries a bounded random error so the AI can be beaten.
type AIController struct {
	ReactionDelay   float64 // seconds of simulation time between decisions
	PredictionError float64 // max absolute error added to each prediction
	TargetY         float64

	paddle       *Paddle
	rng          *rand.Rand
	lastDecision float64
	decided      bool
}

// NewAIController creates an AI for paddle p
func NewAIController(p *Paddle, cfg AIConfig, rng *rand.Rand) *AIController {
	return &AIController{
		ReactionDelay:   cfg.ReactionDelay,
		PredictionError: cfg.PredictionError,
		TargetY:         p.centre(),
		paddle:          p,
		rng:             rng,
	}
}

// Reset recentres the target and forgets the last decision time
func (ai *AIController) Reset() {
	ai.TargetY = ai.paddle.centre()
	ai.lastDecision = 0
	ai.decided = false
}

// Update refreshes the target. Recentring happens every step; predictions are
// gated by ReactionDelay.
func (ai *AIController) Update(now float64, ball *Ball) {
	if !ai.ballIncoming(ball) {
		ai.TargetY = ai.paddle.centre()
		return
	}
	if ai.decided && now-ai.lastDecision < ai.ReactionDelay {
		return
	}
	ai.decide(ball)
	ai.lastDecision = now
	ai.decided = true
}

// Direction is the paddle input that moves toward the current target
func (ai *AIController) Direction() int {
	return ai.paddle.DirectionToward(ai.TargetY)
}

// ballIncoming reports whether the ball is heading toward this AI's side
func (ai *AIController) ballIncoming(ball *Ball) bool {
	return ball.Vel.X*ai.paddle.ID.BounceSign() < 0
}

// decide predicts the crossing point, ignoring wall bounces. A ball too slow
// horizontally or already past the paddle leaves the previous target in place.
func (ai *AIController) decide(ball *Ball) {
	vx := ball.Vel.X
	if math.Abs(vx) <= minPredictSpeed {
		return
	}
	t := (ai.paddle.X - ball.Pos.X) / vx
	if t <= 0 {
		return
	}
	predicted := ball.Pos.Y + ball.Vel.Y*t
	if ai.PredictionError > 0 {
		predicted += (ai.rng.Float64()*2 - 1) * ai.PredictionError
	}
	ai.TargetY = Clamp(predicted, ai.paddle.Bottom, ai.paddle.Top)
}
