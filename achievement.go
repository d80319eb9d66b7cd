package main

// Achievement definitions
type AchievementDef struct {
	ID          string
	Name        string
	Description string
}

var Achievements = []AchievementDef{
	{"first_win", "First Win", "Win your first match"},
	{"shutout", "Shutout", "Win a match without conceding a point"},
	{"comeback", "Comeback", "Win a match after trailing by 5 or more"},
	{"long_rally", "Long Rally", "Take part in a rally of 20 paddle hits"},
	{"marathon", "Marathon", "Take part in a rally of 50 paddle hits"},
	{"hard_win", "Giant Slayer", "Beat the AI on hard difficulty"},
	{"victor", "Victor", "Win 10 matches"},
	{"centurion", "Centurion", "Score 100 total points"},
	{"veteran", "Veteran", "Reach level 10"},
	{"elite", "Elite", "Reach level 25"},
	{"survivor", "Survivor", "Play for 1 hour total"},
}

const (
	comebackDeficit = 5
	longRallyHits   = 20
	marathonHits    = 50
)

// CheckAchievements checks if any new achievements should be unlocked for
// the player who held side in res. Returns the newly unlocked ones.
func CheckAchievements(db *DB, playerID int64, res MatchResult, side PaddleID) []AchievementDef {
	if db == nil {
		return nil
	}

	stats, err := db.GetStats(playerID)
	if err != nil || stats == nil {
		return nil
	}

	existing, err := db.GetAchievements(playerID)
	if err != nil {
		return nil
	}
	has := make(map[string]bool, len(existing))
	for _, a := range existing {
		has[a] = true
	}

	won := res.Won(side)
	var unlocked []AchievementDef

	check := func(id string) bool {
		if has[id] {
			return false
		}
		switch id {
		case "first_win":
			return stats.Wins >= 1
		case "shutout":
			return won && res.Score[side.Opponent()] == 0
		case "comeback":
			return won && res.MaxDeficit[side] >= comebackDeficit
		case "long_rally":
			return res.LongestRally >= longRallyHits
		case "marathon":
			return res.LongestRally >= marathonHits
		case "hard_win":
			return won && res.Mode == ModeAI && res.Difficulty == DifficultyHard
		case "victor":
			return stats.Wins >= 10
		case "centurion":
			return stats.PointsFor >= 100
		case "veteran":
			return stats.Level >= 10
		case "elite":
			return stats.Level >= 25
		case "survivor":
			return stats.Playtime >= 3600
		}
		return false
	}

	for _, def := range Achievements {
		if check(def.ID) {
			if newlyUnlocked, err := db.UnlockAchievement(playerID, def.ID); err == nil && newlyUnlocked {
				unlocked = append(unlocked, def)
			}
		}
	}

	return unlocked
}
