package main

import "math"

// aiDeadZone is how close a paddle must be to its target to stop moving
const aiDeadZone = 0.1

// PaddleID identifies one of the two paddles
type PaddleID int

const (
	First  PaddleID = 0 // left
	Second PaddleID = 1 // right
)

func (id PaddleID) String() string {
	switch id {
	case First:
		return "first"
	case Second:
		return "second"
	}
	return "unknown"
}

// Valid reports whether id names a paddle
func (id PaddleID) Valid() bool {
	return id == First || id == Second
}

// Opponent returns the other paddle
func (id PaddleID) Opponent() PaddleID {
	if id == First {
		return Second
	}
	return First
}

// BounceSign is the horizontal direction a ball leaves this paddle in
func (id PaddleID) BounceSign() float64 {
	if id == First {
		return 1
	}
	return -1
}

// Paddle is one vertically moving paddle
type Paddle struct {
	ID         PaddleID
	X          float64
	Y          float64
	MoveSpeed  float64
	Top        float64
	Bottom     float64
	HalfHeight float64
	HalfWidth  float64
}

// NewPaddle places a paddle at the vertical centre of its travel range
func NewPaddle(id PaddleID, pc PaddleConfig, field FieldConfig) *Paddle {
	p := &Paddle{
		ID:         id,
		X:          pc.X,
		MoveSpeed:  pc.MoveSpeed,
		Top:        field.TopBoundary,
		Bottom:     field.BottomBoundary,
		HalfHeight: pc.HalfHeight,
		HalfWidth:  pc.HalfWidth,
	}
	p.Y = p.centre()
	return p
}

// centre is the field's vertical centre clamped into the paddle's range
func (p *Paddle) centre() float64 {
	return Clamp(0, p.Bottom, p.Top)
}

// ApplyInput moves the paddle by direction*speed*dt and clamps it to its bounds
func (p *Paddle) ApplyInput(direction int, dt float64) {
	p.Y += float64(Sign(direction)) * p.MoveSpeed * dt
	if math.IsNaN(p.Y) {
		p.Y = p.centre()
	}
	p.Y = Clamp(p.Y, p.Bottom, p.Top)
}

// DirectionToward returns the input that moves the paddle toward targetY
func (p *Paddle) DirectionToward(targetY float64) int {
	diff := targetY - p.Y
	if math.Abs(diff) <= aiDeadZone {
		return 0
	}
	if diff > 0 {
		return 1
	}
	return -1
}
