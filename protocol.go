package main

import "encoding/json"

// Client -> Server message types
const (
	MsgJoin        = "join"
	MsgLeave       = "leave"
	MsgInput       = "input"
	MsgCommand     = "command" // start/pause/resume/end/menu
	MsgCreate      = "create"  // create session
	MsgList        = "list"    // list sessions
	MsgCheck       = "check"   // check if session exists
	MsgControl     = "control" // phone controller attach
	MsgRegister    = "register"
	MsgLogin       = "login"
	MsgAuth        = "auth" // resume with a stored token
	MsgProfile     = "profile"
	MsgLeaderboard = "leaderboard"
	MsgHistory     = "history"
)

// Server -> Client message types
const (
	MsgState        = "state" // sent as binary msgpack
	MsgWelcome      = "welcome"
	MsgEvent        = "event"
	MsgMatchOver    = "match_over"
	MsgSessions     = "sessions"
	MsgJoined       = "joined"
	MsgCreated      = "created" // session created, client should navigate
	MsgError        = "error"
	MsgChecked      = "checked"    // session check response
	MsgControlOK    = "control_ok" // controller attach confirmed
	MsgCtrlOn       = "ctrl_on"    // notify desktop: controller attached
	MsgCtrlOff      = "ctrl_off"   // notify desktop: controller detached
	MsgAuthOK       = "auth_ok"
	MsgProfileData  = "profile_data"
	MsgLeaderData   = "leaderboard_data"
	MsgHistoryData  = "history_data"
	MsgAchievement  = "achievement"
	MsgMatchRewards = "rewards"
)

// Binary input frame: [inputFrameTag, paddle, int8 direction]
const (
	inputFrameTag = 0x01
	inputFrameLen = 3
)

// Match commands carried by MsgCommand
const (
	CmdStart  = "start"
	CmdPause  = "pause"
	CmdResume = "resume"
	CmdEnd    = "end"
	CmdMenu   = "menu"
)

// Envelope wraps all outgoing messages with a type field
type Envelope struct {
	T    string      `json:"t"`
	Data interface{} `json:"d,omitempty"`
}

// InEnvelope is used for incoming messages; json.RawMessage avoids double-unmarshal
type InEnvelope struct {
	T string          `json:"t"`
	D json.RawMessage `json:"d,omitempty"`
}

// ClientInput is the held direction for one paddle. Paddle is only
// consulted when the seat controls both paddles.
type ClientInput struct {
	Dir    int `json:"dir"` // -1 down, 0 idle, +1 up
	Paddle int `json:"p,omitempty"`
}

// CommandMsg asks the session's match to change phase
type CommandMsg struct {
	Cmd string `json:"cmd"`
}

// JoinMsg is sent when player wants to join a session
type JoinMsg struct {
	Name      string `json:"name"`
	SessionID string `json:"sid"`
}

// CreateMsg is sent when player wants to create a session
type CreateMsg struct {
	Name        string  `json:"name"`
	SessionName string  `json:"sname"`
	Mode        string  `json:"mode,omitempty"`       // ai, local, demo
	Difficulty  string  `json:"difficulty,omitempty"` // easy, medium, hard
	Level       float64 `json:"level,omitempty"`      // 0..1 slider, used when Difficulty is empty
	ScoreToWin  int     `json:"stw,omitempty"`
}

// BallState is the ball part of a state snapshot
type BallState struct {
	X      float64 `msgpack:"x"`
	Y      float64 `msgpack:"y"`
	VX     float64 `msgpack:"vx"`
	VY     float64 `msgpack:"vy"`
	Speed  float64 `msgpack:"s"`
	Moving bool    `msgpack:"m"`
}

// PaddleState is broadcast per paddle
type PaddleState struct {
	X      float64 `msgpack:"x"`
	Y      float64 `msgpack:"y"`
	Target float64 `msgpack:"tg"`
	AI     bool    `msgpack:"ai"`
}

// GameState is the full state broadcast, msgpack encoded
type GameState struct {
	Tick    uint64         `msgpack:"tick"`
	Time    float64        `msgpack:"t"`
	Phase   string         `msgpack:"ph"`
	Score   [2]int         `msgpack:"sc"`
	Ball    BallState      `msgpack:"b"`
	Paddles [2]PaddleState `msgpack:"p"`
	Rally   int            `msgpack:"r"`
}

// EventMsg relays one simulation notification
type EventMsg struct {
	Type   string `json:"type"`
	Phase  string `json:"phase"`
	P1     int    `json:"p1"`
	P2     int    `json:"p2"`
	Paddle string `json:"paddle,omitempty"`
}

// WelcomeMsg is sent to a player when they join
type WelcomeMsg struct {
	ID        string `json:"id"`
	Mode      string `json:"mode"`
	Paddles   []int  `json:"paddles"`
	Spectator bool   `json:"spectator,omitempty"`
}

// MatchOverMsg is broadcast when the match reaches GameOver
type MatchOverMsg struct {
	Winner       string  `json:"winner"` // "first", "second" or "" for a tie
	P1           int     `json:"p1"`
	P2           int     `json:"p2"`
	Duration     float64 `json:"duration"`
	LongestRally int     `json:"rally"`
}

// SessionInfo is used in the session list
type SessionInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Mode    string `json:"mode"`
	Phase   string `json:"phase"`
	Players int    `json:"players"`
}

// ErrorMsg sends error to client
type ErrorMsg struct {
	Msg string `json:"msg"`
}

// ControlMsg is sent by a phone controller to attach to a player
type ControlMsg struct {
	SID      string `json:"sid"`
	PlayerID string `json:"pid"`
}

// CheckMsg is sent by client to check if a session exists
type CheckMsg struct {
	SID string `json:"sid"`
}

// CheckedMsg is the response to a session check
type CheckedMsg struct {
	SID     string `json:"sid"`
	Exists  bool   `json:"exists"`
	Name    string `json:"name,omitempty"`
	Mode    string `json:"mode,omitempty"`
	Phase   string `json:"phase,omitempty"`
	Players int    `json:"players,omitempty"`
}

// RegisterMsg creates an account
type RegisterMsg struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginMsg authenticates with username and password
type LoginMsg struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthMsg authenticates with a previously issued token
type AuthMsg struct {
	Token string `json:"token"`
}

// AuthOKMsg confirms authentication
type AuthOKMsg struct {
	Token    string `json:"token"`
	Username string `json:"username"`
	PlayerID int64  `json:"pid"`
}

// ProfileDataMsg carries the authenticated player's stats
type ProfileDataMsg struct {
	Username      string   `json:"username"`
	Level         int      `json:"level"`
	XP            int      `json:"xp"`
	NextLevelXP   int      `json:"next_xp"`  // XP still needed for the next level
	LevelXP       int      `json:"level_xp"` // XP the current level spans
	Matches       int      `json:"matches"`
	Wins          int      `json:"wins"`
	Losses        int      `json:"losses"`
	PointsFor     int      `json:"pf"`
	PointsAgainst int      `json:"pa"`
	LongestRally  int      `json:"rally"`
	Playtime      float64  `json:"playtime"`
	Achievements  []string `json:"achievements"`
}

// LeaderboardMsg requests a leaderboard page
type LeaderboardMsg struct {
	Sort  string `json:"sort"`
	Limit int    `json:"limit"`
}

// RewardsMsg tells a seated player what a finished match earned them
type RewardsMsg struct {
	XPEarned int  `json:"xp_earned"`
	TotalXP  int  `json:"xp"`
	Level    int  `json:"level"`
	LevelUp  bool `json:"level_up,omitempty"`
}

// AchievementMsg announces a newly unlocked achievement
type AchievementMsg struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"desc"`
}
