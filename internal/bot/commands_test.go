package bot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Terryjones1995/2kbot/internal/stats"
	"github.com/Terryjones1995/2kbot/internal/verify"
)

func TestSubmissionMessage(t *testing.T) {
	tests := []struct {
		name   string
		result *verify.Result
		want   string
	}{
		{
			name: "rate limited",
			result: &verify.Result{
				Status:     verify.StatusRateLimited,
				RetryAfter: 42 * time.Minute,
			},
			want: "wait about 42m0s",
		},
		{
			name: "rate limited with tiny remainder",
			result: &verify.Result{
				Status:     verify.StatusRateLimited,
				RetryAfter: 10 * time.Second,
			},
			want: "wait about 1m0s",
		},
		{
			name:   "duplicate image",
			result: &verify.Result{Status: verify.StatusDuplicateImage},
			want:   "already submitted this exact screenshot",
		},
		{
			name:   "conflict pending",
			result: &verify.Result{Status: verify.StatusConflictPending},
			want:   "already claimed by another member",
		},
		{
			name: "accepted and verified",
			result: &verify.Result{
				Status:     verify.StatusAccepted,
				Evaluation: stats.Evaluation{Passed: true, MeetsGames: true, MeetsWin: true},
				Outcome:    verify.Outcome{Verified: true, Granted: true},
			},
			want: "You're verified as `StreetKing`",
		},
		{
			name: "qualified but role not applied",
			result: &verify.Result{
				Status:     verify.StatusAccepted,
				Evaluation: stats.Evaluation{Passed: true, MeetsGames: true, MeetsWin: true},
				Outcome:    verify.Outcome{UserNotes: []string{"An admin needs to run /setrole."}},
			},
			want: "could not be applied",
		},
		{
			name: "saved but below thresholds",
			result: &verify.Result{
				Status:     verify.StatusAccepted,
				Evaluation: stats.Evaluation{MeetsGames: false, MeetsWin: true},
			},
			want: "not enough games played",
		},
		{
			name: "re-evaluation failed",
			result: &verify.Result{
				Status:     verify.StatusReEvaluationFailed,
				Evaluation: stats.Evaluation{MeetsGames: true, MeetsWin: false},
				Outcome:    verify.Outcome{Revoked: true},
			},
			want: "verified status has been removed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := submissionMessage(tt.result, "StreetKing")
			assert.Contains(t, got, tt.want)
		})
	}
}

func TestSubmissionMessageAppendsUserNotes(t *testing.T) {
	result := &verify.Result{
		Status:     verify.StatusAccepted,
		Evaluation: stats.Evaluation{Passed: true, MeetsGames: true, MeetsWin: true},
		Outcome: verify.Outcome{
			UserNotes: []string{"Your stats qualify, but the bot lacks permission to grant roles here. An admin has been notified."},
		},
	}

	got := submissionMessage(result, "StreetKing")
	assert.Contains(t, got, "lacks permission to grant roles")
}

func TestThresholdSummary(t *testing.T) {
	tests := []struct {
		name string
		eval stats.Evaluation
		want string
	}{
		{"games only", stats.Evaluation{MeetsGames: false, MeetsWin: true}, "not enough games played"},
		{"win only", stats.Evaluation{MeetsGames: true, MeetsWin: false}, "win percentage too low"},
		{"both", stats.Evaluation{}, "not enough games played, win percentage too low"},
		{"neither", stats.Evaluation{MeetsGames: true, MeetsWin: true}, "requirements met"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, thresholdSummary(&verify.Result{Evaluation: tt.eval}))
		})
	}
}

func TestNormalizeChannelName(t *testing.T) {
	assert.Equal(t, "verification-log", normalizeChannelName("  Verification-Log "))
	assert.Equal(t, "verification-log", normalizeChannelName("verification-log"))
}
