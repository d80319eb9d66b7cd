package main

import (
	"math"
	"math/rand"
)

const (
	maxBounceAngle    = math.Pi / 3 // 60 degrees
	maxLaunchAttempts = 8
)

// Ball is the single circular body in play
type Ball struct {
	Pos       Vec2
	Vel       Vec2
	Speed     float64
	Moving    bool
	Radius    float64
	RallyHits int // paddle hits since the last launch

	cfg        BallConfig
	wallTop    float64
	wallBottom float64
	goalX      float64

	launchPending bool
	launchAt      float64
}

// NewBall creates a resting ball at the origin with nothing scheduled
func NewBall(cfg BallConfig, field FieldConfig) *Ball {
	return &Ball{
		Speed:      cfg.InitialSpeed,
		Radius:     cfg.Radius,
		cfg:        cfg,
		wallTop:    field.WallTop,
		wallBottom: field.WallBottom,
		goalX:      field.GoalX,
	}
}

// Reset puts the ball back at the origin, at rest, and schedules a launch
// ResetDelay seconds after now.
func (b *Ball) Reset(now float64) {
	b.Pos = Vec2{}
	b.Vel = Vec2{}
	b.Moving = false
	b.Speed = b.cfg.InitialSpeed
	b.RallyHits = 0
	b.launchPending = true
	b.launchAt = now + b.cfg.ResetDelay
}

// Stop halts the ball where it is and cancels any scheduled launch
func (b *Ball) Stop() {
	b.Vel = Vec2{}
	b.Moving = false
	b.launchPending = false
}

// Park returns the ball to the origin at rest with nothing scheduled
func (b *Ball) Park() {
	b.Stop()
	b.Pos = Vec2{}
	b.Speed = b.cfg.InitialSpeed
	b.RallyHits = 0
}

// LaunchPending reports whether a launch is scheduled and when
func (b *Ball) LaunchPending() (bool, float64) {
	return b.launchPending, b.launchAt
}

// UpdateLaunch fires the scheduled launch once now has reached it
func (b *Ball) UpdateLaunch(now float64, rng *rand.Rand) bool {
	if !b.launchPending || now < b.launchAt {
		return false
	}
	b.launchPending = false
	b.Launch(rng)
	return true
}

// Launch serves the ball toward a random side with a random vertical component
func (b *Ball) Launch(rng *rand.Rand) {
	dir := Vec2{X: 1}
	for i := 0; i < maxLaunchAttempts; i++ {
		x := 1.0
		if rng.Intn(2) == 0 {
			x = -1
		}
		y := (rng.Float64()*2 - 1) * b.cfg.LaunchSpread
		if d := (Vec2{X: x, Y: y}).Normalize(); d.Len() > 0 {
			dir = d
			break
		}
	}
	b.Speed = b.cfg.InitialSpeed
	b.Vel = dir.Scale(b.Speed)
	b.Moving = true
}

// Integrate advances the ball by its velocity
func (b *Ball) Integrate(dt float64) {
	if !b.Moving {
		return
	}
	b.Pos = b.Pos.Add(b.Vel.Scale(dt))
}

// ResolveWallCollision reflects the vertical velocity off the top and bottom walls.
// Returns true when a bounce happened.
func (b *Ball) ResolveWallCollision() bool {
	if !b.Moving {
		return false
	}
	top := b.wallTop - b.Radius
	bottom := b.wallBottom + b.Radius

	bounced := false
	if b.Pos.Y >= top && b.Vel.Y > 0 {
		b.Vel.Y = -b.Vel.Y
		bounced = true
	} else if b.Pos.Y <= bottom && b.Vel.Y < 0 {
		b.Vel.Y = -b.Vel.Y
		bounced = true
	}
	b.Pos.Y = Clamp(b.Pos.Y, bottom, top)
	return bounced
}

// Touches reports whether the ball overlaps the paddle
func (b *Ball) Touches(p *Paddle) bool {
	return CircleRectOverlap(b.Pos.X, b.Pos.Y, b.Radius, p.X, p.Y, p.HalfWidth, p.HalfHeight)
}

// Approaching reports whether the ball is moving toward the paddle's face
func (b *Ball) Approaching(p *Paddle) bool {
	return b.Vel.X*p.ID.BounceSign() < 0
}

// ResolvePaddleCollision speeds the ball up and sends it back away from p,
// angled by where it struck the paddle.
func (b *Ball) ResolvePaddleCollision(p *Paddle) {
	b.Speed = math.Min(b.Speed+b.cfg.SpeedIncrease, b.cfg.MaxSpeed)

	hitOffset := 0.0
	if p.HalfHeight > 0 {
		hitOffset = Clamp((b.Pos.Y-p.Y)/p.HalfHeight, -1, 1)
	}
	angle := hitOffset * maxBounceAngle

	sign := p.ID.BounceSign()
	dir := Vec2{X: sign, Y: math.Sin(angle)}.Normalize()
	b.Vel = dir.Scale(b.Speed)

	// Move the ball clear of the paddle face so it is not hit twice
	face := p.X + sign*(p.HalfWidth+b.Radius)
	if (sign > 0 && b.Pos.X < face) || (sign < 0 && b.Pos.X > face) {
		b.Pos.X = face
	}
	b.RallyHits++
}

// DetectGoal reports which paddle scored when the ball has left the field
func (b *Ball) DetectGoal() (PaddleID, bool) {
	if !b.Moving {
		return 0, false
	}
	if b.Pos.X < -b.goalX {
		return Second, true
	}
	if b.Pos.X > b.goalX {
		return First, true
	}
	return 0, false
}
