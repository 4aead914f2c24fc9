package stats

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluate(t *testing.T) {
	thresholds := Thresholds{MinGames: 100, MinWinPct: 80.0}

	tests := []struct {
		name       string
		games      int
		winPct     float64
		passed     bool
		meetsGames bool
		meetsWin   bool
	}{
		{"both above", 150, 85.0, true, true, true},
		{"exactly at minimums", 100, 80.0, true, true, true},
		{"games below", 50, 95.0, false, false, true},
		{"win below", 200, 79.9, false, true, false},
		{"both below", 10, 10.0, false, false, false},
		{"zero values", 0, 0, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eval := thresholds.Evaluate(PlayerStats{GamesPlayed: tt.games, WinPct: tt.winPct})
			assert.Equal(t, tt.passed, eval.Passed)
			assert.Equal(t, tt.meetsGames, eval.MeetsGames)
			assert.Equal(t, tt.meetsWin, eval.MeetsWin)
		})
	}
}

func TestEvaluateNonFinite(t *testing.T) {
	thresholds := Thresholds{MinGames: 100, MinWinPct: 80.0}

	for name, winPct := range map[string]float64{
		"NaN":          math.NaN(),
		"positive Inf": math.Inf(1),
		"negative Inf": math.Inf(-1),
	} {
		t.Run(name, func(t *testing.T) {
			eval := thresholds.Evaluate(PlayerStats{GamesPlayed: 500, WinPct: winPct})
			assert.False(t, eval.Passed)
			assert.False(t, eval.MeetsWin)
			assert.True(t, eval.MeetsGames)
		})
	}
}
