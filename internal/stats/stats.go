package stats

import "math"

// PlayerStats is the normalized result of a screenshot extraction.
// GamesPlayed, WinPct and PlayerTag are always present; the remaining
// fields are nil when the screenshot did not show them.
type PlayerStats struct {
	PlayerTag   string
	Platform    string
	GamesPlayed int
	WinPct      float64
	Points      *int
	Rebounds    *int
	Assists     *int
}

// Evaluation is the outcome of checking stats against the thresholds
type Evaluation struct {
	Passed     bool
	MeetsGames bool
	MeetsWin   bool
}

// Thresholds holds the configured minimums for verification
type Thresholds struct {
	MinGames  int
	MinWinPct float64
}

// Evaluate checks stats against the thresholds. Non-finite win
// percentages fail the check rather than erroring.
func (t Thresholds) Evaluate(s PlayerStats) Evaluation {
	eval := Evaluation{
		MeetsGames: s.GamesPlayed >= t.MinGames,
		MeetsWin:   isFinite(s.WinPct) && s.WinPct >= t.MinWinPct,
	}
	eval.Passed = eval.MeetsGames && eval.MeetsWin
	return eval
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
