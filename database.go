package main

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite database connection
type DB struct {
	conn *sql.DB
}

// PlayerRow represents a player record in the database
type PlayerRow struct {
	ID        int64
	Username  string
	Email     string
	PassHash  string
	CreatedAt time.Time
}

// StatsRow represents player stats
type StatsRow struct {
	PlayerID      int64
	Matches       int
	Wins          int
	Losses        int
	PointsFor     int
	PointsAgainst int
	LongestRally  int
	Playtime      float64 // simulated seconds
	XP            int
	Level         int
}

// MatchRow represents a completed match
type MatchRow struct {
	ID           int64
	Mode         string
	Difficulty   string
	Score1       int
	Score2       int
	Winner       int // paddle id, -1 for a tie
	Duration     float64
	LongestRally int
	CreatedAt    time.Time
}

// MatchPlayerRow represents a player's participation in a match
type MatchPlayerRow struct {
	MatchID       int64   `json:"match_id"`
	PlayerID      int64   `json:"-"`
	Paddle        int     `json:"paddle"`
	PointsFor     int     `json:"pf"`
	PointsAgainst int     `json:"pa"`
	Won           bool    `json:"won"`
	XPEarned      int     `json:"xp"`
	Mode          string  `json:"mode"`
	Duration      float64 `json:"duration"`
}

// OpenDB opens or creates the SQLite database at path and applies the schema
func OpenDB(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON"} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate creates tables if they don't exist
func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS players (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL DEFAULT '',
		pass_hash TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS stats (
		player_id INTEGER PRIMARY KEY REFERENCES players(id),
		matches INTEGER NOT NULL DEFAULT 0,
		wins INTEGER NOT NULL DEFAULT 0,
		losses INTEGER NOT NULL DEFAULT 0,
		points_for INTEGER NOT NULL DEFAULT 0,
		points_against INTEGER NOT NULL DEFAULT 0,
		longest_rally INTEGER NOT NULL DEFAULT 0,
		playtime REAL NOT NULL DEFAULT 0,
		xp INTEGER NOT NULL DEFAULT 0,
		level INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS matches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		mode TEXT NOT NULL DEFAULT 'ai',
		difficulty TEXT NOT NULL DEFAULT '',
		score1 INTEGER NOT NULL DEFAULT 0,
		score2 INTEGER NOT NULL DEFAULT 0,
		winner INTEGER NOT NULL DEFAULT -1,
		duration REAL NOT NULL DEFAULT 0,
		longest_rally INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS match_players (
		match_id INTEGER NOT NULL REFERENCES matches(id),
		player_id INTEGER NOT NULL REFERENCES players(id),
		paddle INTEGER NOT NULL DEFAULT 0,
		points_for INTEGER NOT NULL DEFAULT 0,
		points_against INTEGER NOT NULL DEFAULT 0,
		won INTEGER NOT NULL DEFAULT 0,
		xp_earned INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (match_id, player_id)
	);

	CREATE TABLE IF NOT EXISTS achievements (
		player_id INTEGER NOT NULL REFERENCES players(id),
		achievement_id TEXT NOT NULL,
		unlocked_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (player_id, achievement_id)
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS analytics_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		player_id INTEGER,
		session_id TEXT,
		data TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_match_players_player ON match_players(player_id);
	CREATE INDEX IF NOT EXISTS idx_players_username ON players(username);
	CREATE INDEX IF NOT EXISTS idx_analytics_type_time ON analytics_events(event_type, created_at);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// CreatePlayer inserts an account with an empty stats row and returns its id
func (db *DB) CreatePlayer(username, email, passHash string) (int64, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.Exec("INSERT INTO players (username, email, pass_hash) VALUES (?, ?, ?)",
		username, email, passHash)
	if err != nil {
		return 0, fmt.Errorf("insert player %q: %w", username, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if _, err := tx.Exec("INSERT INTO stats (player_id) VALUES (?)", id); err != nil {
		return 0, fmt.Errorf("insert stats for %d: %w", id, err)
	}
	return id, tx.Commit()
}

const playerCols = "id, username, email, pass_hash, created_at"

// scanPlayer reads one player row; a missing row is (nil, nil)
func scanPlayer(row *sql.Row) (*PlayerRow, error) {
	p := &PlayerRow{}
	err := row.Scan(&p.ID, &p.Username, &p.Email, &p.PassHash, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (db *DB) GetPlayerByUsername(username string) (*PlayerRow, error) {
	return scanPlayer(db.conn.QueryRow("SELECT "+playerCols+" FROM players WHERE username = ?", username))
}

func (db *DB) GetPlayerByID(id int64) (*PlayerRow, error) {
	return scanPlayer(db.conn.QueryRow("SELECT "+playerCols+" FROM players WHERE id = ?", id))
}

// GetStats returns player stats
func (db *DB) GetStats(playerID int64) (*StatsRow, error) {
	row := db.conn.QueryRow(`
		SELECT player_id, matches, wins, losses, points_for, points_against,
			longest_rally, playtime, xp, level
		FROM stats WHERE player_id = ?`,
		playerID,
	)
	s := &StatsRow{}
	err := row.Scan(&s.PlayerID, &s.Matches, &s.Wins, &s.Losses, &s.PointsFor, &s.PointsAgainst,
		&s.LongestRally, &s.Playtime, &s.XP, &s.Level)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// XPForLevel returns the total XP required to reach a given level.
// Level 1 requires 0 XP, level 2 requires 100, etc.
// Formula: sum of 100 * i^1.5 for i in 1..level-1
func XPForLevel(level int) int {
	if level <= 1 {
		return 0
	}
	total := 0.0
	for i := 1; i < level; i++ {
		total += 100.0 * math.Pow(float64(i), 1.5)
	}
	return int(total)
}

// XPToNextLevel returns XP needed from current level to reach the next level
func XPToNextLevel(level int) int {
	return XPForLevel(level+1) - XPForLevel(level)
}

// CalculateLevel returns the level for a given total XP amount
func CalculateLevel(totalXP int) int {
	level := 1
	for {
		needed := XPForLevel(level + 1)
		if totalXP < needed {
			return level
		}
		level++
		if level > 100 { // cap at 100
			return 100
		}
	}
}

// XP awards
const (
	xpPerPoint     = 10
	xpWinBonus     = 50
	xpPerRallyHit  = 2
	maxRallyXP     = 40
	xpHardMultiple = 2
)

// MatchXP is the XP a paddle's player earns from a finished match
func MatchXP(res MatchResult, side PaddleID) int {
	xp := res.Score[side] * xpPerPoint
	if res.Won(side) {
		xp += xpWinBonus
	}
	rally := res.LongestRally * xpPerRallyHit
	if rally > maxRallyXP {
		rally = maxRallyXP
	}
	xp += rally
	if res.Difficulty == DifficultyHard {
		xp *= xpHardMultiple
	}
	return xp
}

// UpdateStatsAfterMatch folds one match into a player's totals and
// returns the new total XP and level
func (db *DB) UpdateStatsAfterMatch(playerID int64, pointsFor, pointsAgainst int, won bool, duration float64, rally, xpEarned int) (int, int, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback()

	var totalXP int
	err = tx.QueryRow(`
		UPDATE stats SET
			matches = matches + 1,
			wins = wins + ?,
			losses = losses + ?,
			points_for = points_for + ?,
			points_against = points_against + ?,
			longest_rally = MAX(longest_rally, ?),
			playtime = playtime + ?,
			xp = xp + ?
		WHERE player_id = ?
		RETURNING xp`,
		won, !won, pointsFor, pointsAgainst, rally, duration, xpEarned, playerID,
	).Scan(&totalXP)
	if err != nil {
		return 0, 0, fmt.Errorf("update stats for %d: %w", playerID, err)
	}

	level := CalculateLevel(totalXP)
	if _, err := tx.Exec("UPDATE stats SET level = ? WHERE player_id = ?", level, playerID); err != nil {
		return 0, 0, err
	}
	return totalXP, level, tx.Commit()
}

// GetLeaderboard returns top players sorted by the given field
func (db *DB) GetLeaderboard(orderBy string, limit int) ([]LeaderboardEntry, error) {
	// Whitelist valid order columns
	validCols := map[string]string{
		"wins": "s.wins", "points": "s.points_for", "level": "s.level",
		"xp": "s.xp", "rally": "s.longest_rally",
	}
	col, ok := validCols[orderBy]
	if !ok {
		col = "s.xp"
	}

	query := `SELECT p.username, s.level, s.xp, s.matches, s.wins, s.losses, s.points_for, s.longest_rally
		FROM stats s JOIN players p ON p.id = s.player_id
		ORDER BY ` + col + ` DESC, p.id ASC LIMIT ?`

	rows, err := db.conn.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []LeaderboardEntry
	rank := 1
	for rows.Next() {
		var e LeaderboardEntry
		if err := rows.Scan(&e.Username, &e.Level, &e.XP, &e.Matches, &e.Wins, &e.Losses, &e.Points, &e.LongestRally); err != nil {
			return nil, err
		}
		e.Rank = rank
		rank++
		result = append(result, e)
	}
	return result, rows.Err()
}

// LeaderboardEntry represents one row in the leaderboard
type LeaderboardEntry struct {
	Rank         int    `json:"rank"`
	Username     string `json:"username"`
	Level        int    `json:"level"`
	XP           int    `json:"xp"`
	Matches      int    `json:"matches"`
	Wins         int    `json:"wins"`
	Losses       int    `json:"losses"`
	Points       int    `json:"points"`
	LongestRally int    `json:"rally"`
}

// RecordMatch records a completed match and returns its ID
func (db *DB) RecordMatch(mode, difficulty string, score1, score2, winner int, duration float64, rally int) (int64, error) {
	res, err := db.conn.Exec(
		`INSERT INTO matches (mode, difficulty, score1, score2, winner, duration, longest_rally)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		mode, difficulty, score1, score2, winner, duration, rally,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetMatch returns one match by ID
func (db *DB) GetMatch(id int64) (*MatchRow, error) {
	row := db.conn.QueryRow(`
		SELECT id, mode, difficulty, score1, score2, winner, duration, longest_rally, created_at
		FROM matches WHERE id = ?`, id)
	m := &MatchRow{}
	err := row.Scan(&m.ID, &m.Mode, &m.Difficulty, &m.Score1, &m.Score2, &m.Winner, &m.Duration, &m.LongestRally, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// RecordMatchPlayer records a player's result for a match
func (db *DB) RecordMatchPlayer(matchID, playerID int64, paddle, pointsFor, pointsAgainst int, won bool, xpEarned int) error {
	_, err := db.conn.Exec(
		`INSERT INTO match_players (match_id, player_id, paddle, points_for, points_against, won, xp_earned)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		matchID, playerID, paddle, pointsFor, pointsAgainst, won, xpEarned,
	)
	return err
}

// GetMatchHistory returns recent matches for a player
func (db *DB) GetMatchHistory(playerID int64, limit int) ([]MatchPlayerRow, error) {
	rows, err := db.conn.Query(`
		SELECT mp.match_id, mp.player_id, mp.paddle, mp.points_for, mp.points_against,
			mp.won, mp.xp_earned, m.mode, m.duration
		FROM match_players mp
		JOIN matches m ON m.id = mp.match_id
		WHERE mp.player_id = ?
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT ?`,
		playerID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []MatchPlayerRow
	for rows.Next() {
		var r MatchPlayerRow
		if err := rows.Scan(&r.MatchID, &r.PlayerID, &r.Paddle, &r.PointsFor, &r.PointsAgainst,
			&r.Won, &r.XPEarned, &r.Mode, &r.Duration); err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// UsernameExists checks if a username is taken
func (db *DB) UsernameExists(username string) (bool, error) {
	var count int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM players WHERE username = ?", username).Scan(&count)
	return count > 0, err
}

// GetSetting returns a stored setting, or "" when unset
func (db *DB) GetSetting(key string) string {
	var v string
	if err := db.conn.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&v); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			log.Printf("get setting %s: %v", key, err)
		}
		return ""
	}
	return v
}

// SetSetting stores a setting, replacing any previous value
func (db *DB) SetSetting(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	return err
}

// GetAchievements returns the IDs of a player's unlocked achievements
func (db *DB) GetAchievements(playerID int64) ([]string, error) {
	rows, err := db.conn.Query(
		"SELECT achievement_id FROM achievements WHERE player_id = ? ORDER BY unlocked_at, achievement_id",
		playerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		result = append(result, id)
	}
	return result, rows.Err()
}

// UnlockAchievement records an achievement. Returns false if it was already unlocked.
func (db *DB) UnlockAchievement(playerID int64, achievementID string) (bool, error) {
	res, err := db.conn.Exec(
		"INSERT OR IGNORE INTO achievements (player_id, achievement_id) VALUES (?, ?)",
		playerID, achievementID,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
