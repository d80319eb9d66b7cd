package main

import (
	"database/sql"
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Analytics event types
const (
	EvtMatchStart   = "match_start"
	EvtMatchEnd     = "match_end"
	EvtAchievement  = "achievement"
	EvtSessionStart = "session_start"
	EvtDailyLogin   = "daily_login"
	EvtLevelUp      = "level_up"
)

const (
	analyticsQueueLen  = 1024
	analyticsBatchLen  = 50
	analyticsFlushTick = 5 * time.Second
)

// AnalyticsEvent is one row of analytics_events
type AnalyticsEvent struct {
	Type      string
	PlayerID  int64
	SessionID string
	Data      string // JSON or a short tag
	Timestamp time.Time
}

// MatchEndData is the match_end payload summaries are computed from
type MatchEndData struct {
	Mode       GameMode   `json:"mode"`
	Difficulty Difficulty `json:"difficulty"`
	Duration   float64    `json:"duration"`
	P1         int        `json:"p1"`
	P2         int        `json:"p2"`
	Winner     int        `json:"winner"` // paddle id, -1 on a tie
	Rally      int        `json:"rally"`
}

// Analytics queues events without blocking the caller and writes them
// to the database in batches from one goroutine. With a nil db events
// are dropped and queries return nothing.
type Analytics struct {
	db     *DB
	events chan AnalyticsEvent
	stop   chan struct{}
	once   sync.Once
	done   sync.WaitGroup

	peers    atomic.Int64
	sessions atomic.Int64
}

// NewAnalytics starts the background writer
func NewAnalytics(db *DB) *Analytics {
	a := &Analytics{
		db:     db,
		events: make(chan AnalyticsEvent, analyticsQueueLen),
		stop:   make(chan struct{}),
	}
	a.done.Add(1)
	go a.run()
	return a
}

// Track queues an event. A full queue drops it.
func (a *Analytics) Track(evtType string, playerID int64, sessionID string, data string) {
	select {
	case a.events <- AnalyticsEvent{
		Type:      evtType,
		PlayerID:  playerID,
		SessionID: sessionID,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}:
	default:
	}
}

// TrackMatch records a finished match for the summaries
func (a *Analytics) TrackMatch(res MatchResult) {
	d := MatchEndData{
		Mode:       res.Mode,
		Difficulty: res.Difficulty,
		Duration:   round3(res.Duration),
		P1:         res.Score[First],
		P2:         res.Score[Second],
		Winner:     -1,
		Rally:      res.LongestRally,
	}
	if !res.Tie {
		d.Winner = int(res.Winner)
	}
	raw, err := json.Marshal(d)
	if err != nil {
		log.Printf("analytics: match %s: %v", res.SessionID, err)
		return
	}
	a.Track(EvtMatchEnd, 0, res.SessionID, string(raw))
}

func (a *Analytics) SetConcurrentPeers(n int) { a.peers.Store(int64(n)) }
func (a *Analytics) SetActiveSessions(n int)  { a.sessions.Store(int64(n)) }

// GetLiveMetrics returns connected peers and live tables
func (a *Analytics) GetLiveMetrics() (int, int) {
	return int(a.peers.Load()), int(a.sessions.Load())
}

// Stop writes whatever is queued and ends the writer. Safe to call twice.
func (a *Analytics) Stop() {
	a.once.Do(func() { close(a.stop) })
	a.done.Wait()
}

func (a *Analytics) run() {
	defer a.done.Done()

	batch := make([]AnalyticsEvent, 0, analyticsBatchLen)
	tick := time.NewTicker(analyticsFlushTick)
	defer tick.Stop()

	for {
		select {
		case evt := <-a.events:
			if batch = append(batch, evt); len(batch) >= analyticsBatchLen {
				a.flush(batch)
				batch = batch[:0]
			}
		case <-tick.C:
			a.flush(batch)
			batch = batch[:0]
		case <-a.stop:
			// Track may race with Stop, so drain without closing the queue
			for {
				select {
				case evt := <-a.events:
					batch = append(batch, evt)
					continue
				default:
				}
				break
			}
			a.flush(batch)
			return
		}
	}
}

func (a *Analytics) flush(events []AnalyticsEvent) {
	if a.db == nil || len(events) == 0 {
		return
	}
	tx, err := a.db.conn.Begin()
	if err != nil {
		log.Printf("analytics: begin: %v", err)
		return
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO analytics_events (event_type, player_id, session_id, data, created_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		log.Printf("analytics: prepare: %v", err)
		return
	}
	defer stmt.Close()

	for _, e := range events {
		_, err := stmt.Exec(e.Type,
			sql.NullInt64{Int64: e.PlayerID, Valid: e.PlayerID > 0},
			sql.NullString{String: e.SessionID, Valid: e.SessionID != ""},
			sql.NullString{String: e.Data, Valid: e.Data != ""},
			e.Timestamp.Format(time.RFC3339))
		if err != nil {
			log.Printf("analytics: insert %s: %v", e.Type, err)
		}
	}
	if err := tx.Commit(); err != nil {
		log.Printf("analytics: commit: %v", err)
	}
}

// activePlayers counts distinct players with any event since
// date('now', modifier)
func (a *Analytics) activePlayers(modifier string) (int, error) {
	if a.db == nil {
		return 0, nil
	}
	var n int
	err := a.db.conn.QueryRow(`
		SELECT COUNT(DISTINCT player_id) FROM analytics_events
		WHERE player_id IS NOT NULL AND created_at >= date('now', ?)
	`, modifier).Scan(&n)
	return n, err
}

func (a *Analytics) DAUCount() (int, error) { return a.activePlayers("+0 days") }
func (a *Analytics) WAUCount() (int, error) { return a.activePlayers("-7 days") }
func (a *Analytics) MAUCount() (int, error) { return a.activePlayers("-30 days") }

// MatchAnalytics summarises finished matches of one mode and difficulty
type MatchAnalytics struct {
	Mode        string   `json:"mode"`
	Difficulty  string   `json:"difficulty"`
	Count       int      `json:"count"`
	AvgDuration float64  `json:"avg_duration"`
	AvgRally    float64  `json:"avg_rally"`
	MaxRally    int      `json:"max_rally"`
	AvgPoints   float64  `json:"avg_points"`
	AIWinRate   *float64 `json:"ai_win_rate,omitempty"` // only where a human faces the AI
}

// MatchStats groups the last days of finished matches by mode and
// difficulty. In ai mode the second paddle is the AI, so its wins over
// decided matches give the AI win rate.
func (a *Analytics) MatchStats(days int) ([]MatchAnalytics, error) {
	if a.db == nil {
		return nil, nil
	}
	rows, err := a.db.conn.Query(`
		SELECT mode, difficulty, COUNT(*), AVG(duration), AVG(rally), MAX(rally), AVG(p1 + p2),
			SUM(winner = 1), SUM(winner >= 0)
		FROM (
			SELECT COALESCE(json_extract(data, '$.mode'), 'unknown') AS mode,
				COALESCE(NULLIF(json_extract(data, '$.difficulty'), ''), 'custom') AS difficulty,
				CAST(json_extract(data, '$.duration') AS REAL) AS duration,
				COALESCE(json_extract(data, '$.rally'), 0) AS rally,
				COALESCE(json_extract(data, '$.p1'), 0) AS p1,
				COALESCE(json_extract(data, '$.p2'), 0) AS p2,
				COALESCE(json_extract(data, '$.winner'), -1) AS winner
			FROM analytics_events
			WHERE event_type = ? AND json_valid(data) AND created_at >= date('now', '-' || ? || ' days')
		)
		GROUP BY mode, difficulty
		ORDER BY COUNT(*) DESC, mode, difficulty
	`, EvtMatchEnd, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MatchAnalytics
	for rows.Next() {
		var m MatchAnalytics
		var avgDur, avgRally, avgPoints sql.NullFloat64
		var aiWins, decided int
		if err := rows.Scan(&m.Mode, &m.Difficulty, &m.Count, &avgDur, &avgRally, &m.MaxRally,
			&avgPoints, &aiWins, &decided); err != nil {
			return nil, err
		}
		m.AvgDuration = round3(avgDur.Float64)
		m.AvgRally = round3(avgRally.Float64)
		m.AvgPoints = round3(avgPoints.Float64)
		if m.Mode == string(ModeAI) && decided > 0 {
			rate := round3(float64(aiWins) / float64(decided))
			m.AIWinRate = &rate
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// RallyRecord is one match's longest rally
type RallyRecord struct {
	SessionID  string `json:"sid"`
	Mode       string `json:"mode"`
	Difficulty string `json:"difficulty,omitempty"`
	Rally      int    `json:"rally"`
	At         string `json:"at"`
}

// LongestRallies returns the longest rallies of the last days, longest first
func (a *Analytics) LongestRallies(days, limit int) ([]RallyRecord, error) {
	if a.db == nil {
		return nil, nil
	}
	rows, err := a.db.conn.Query(`
		SELECT COALESCE(session_id, ''), COALESCE(json_extract(data, '$.mode'), 'unknown'),
			COALESCE(json_extract(data, '$.difficulty'), ''),
			CAST(json_extract(data, '$.rally') AS INTEGER) AS rally, created_at
		FROM analytics_events
		WHERE event_type = ? AND json_valid(data) AND created_at >= date('now', '-' || ? || ' days')
			AND CAST(json_extract(data, '$.rally') AS INTEGER) > 0
		ORDER BY rally DESC, created_at
		LIMIT ?
	`, EvtMatchEnd, days, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RallyRecord
	for rows.Next() {
		var r RallyRecord
		if err := rows.Scan(&r.SessionID, &r.Mode, &r.Difficulty, &r.Rally, &r.At); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// EventCounts counts each event type over the last days
func (a *Analytics) EventCounts(days int) (map[string]int, error) {
	if a.db == nil {
		return nil, nil
	}
	rows, err := a.db.conn.Query(`
		SELECT event_type, COUNT(*) FROM analytics_events
		WHERE created_at >= date('now', '-' || ? || ' days')
		GROUP BY event_type
	`, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, err
		}
		out[typ] = n
	}
	return out, rows.Err()
}

// DayCount is a per-day count
type DayCount struct {
	Day   string `json:"day"`
	Count int    `json:"count"`
}

// DailyActiveHistory returns distinct active players per day
func (a *Analytics) DailyActiveHistory(days int) ([]DayCount, error) {
	if a.db == nil {
		return nil, nil
	}
	rows, err := a.db.conn.Query(`
		SELECT date(created_at) AS day, COUNT(DISTINCT player_id)
		FROM analytics_events
		WHERE player_id IS NOT NULL AND created_at >= date('now', '-' || ? || ' days')
		GROUP BY day ORDER BY day
	`, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DayCount
	for rows.Next() {
		var dc DayCount
		if err := rows.Scan(&dc.Day, &dc.Count); err != nil {
			return nil, err
		}
		out = append(out, dc)
	}
	return out, rows.Err()
}
