package verify

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Terryjones1995/2kbot/internal/stats"
	"github.com/Terryjones1995/2kbot/internal/storage"
)

func newCoordinatorEnv(t *testing.T) (*Coordinator, *storage.Repository, *fakeGuild, *fakeNotifier) {
	t.Helper()

	repo, err := storage.NewRepository(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	guild := newFakeGuild()
	notify := newFakeNotifier()
	return NewCoordinator(repo, guild, notify, 30*24*time.Hour), repo, guild, notify
}

func insertTestRecord(t *testing.T, repo *storage.Repository, userID string) *storage.VerificationRecord {
	t.Helper()
	rec := &storage.VerificationRecord{
		UserID: userID, GuildID: "guild-1", PlayerTag: "tag-" + userID,
		WinPct: 85, GamesPlayed: 150, ImageHash: "hash-" + userID,
	}
	require.NoError(t, repo.InsertRecord(rec))
	return rec
}

func configureRole(t *testing.T, repo *storage.Repository) {
	t.Helper()
	require.NoError(t, repo.UpsertGuildSettings(&storage.GuildSettings{
		GuildID:        "guild-1",
		VerifiedRoleID: "role-verified",
	}))
}

func TestReconcileGrants(t *testing.T) {
	coordinator, repo, guild, _ := newCoordinatorEnv(t)
	configureRole(t, repo)
	rec := insertTestRecord(t, repo, "user-a")

	out, err := coordinator.Reconcile("guild-1", "user-a", rec, stats.Evaluation{Passed: true, MeetsGames: true, MeetsWin: true}, false)
	require.NoError(t, err)

	assert.True(t, out.Verified)
	assert.True(t, out.Granted)
	assert.Empty(t, out.UserNotes)
	assert.Equal(t, []string{"user-a"}, guild.added)
	assert.True(t, rec.Verified)
	require.NotNil(t, rec.ExpiresAt)
}

func TestReconcileGrantSkipsAddWhenRoleHeld(t *testing.T) {
	coordinator, repo, guild, _ := newCoordinatorEnv(t)
	configureRole(t, repo)
	guild.hasRole["user-a"] = true
	rec := insertTestRecord(t, repo, "user-a")

	out, err := coordinator.Reconcile("guild-1", "user-a", rec, stats.Evaluation{Passed: true}, false)
	require.NoError(t, err)

	assert.True(t, out.Verified)
	assert.False(t, out.Granted)
	assert.Empty(t, guild.added)
}

func TestReconcileGrantWithoutConfiguredRole(t *testing.T) {
	coordinator, repo, guild, notify := newCoordinatorEnv(t)
	rec := insertTestRecord(t, repo, "user-a")

	out, err := coordinator.Reconcile("guild-1", "user-a", rec, stats.Evaluation{Passed: true}, false)
	require.NoError(t, err)

	assert.False(t, out.Verified)
	assert.False(t, out.Granted)
	require.Len(t, out.UserNotes, 1)
	assert.Contains(t, out.UserNotes[0], "/setrole")
	assert.Empty(t, guild.added)
	require.Len(t, notify.audits, 1)
}

func TestReconcileGrantMemberLeft(t *testing.T) {
	coordinator, repo, guild, notify := newCoordinatorEnv(t)
	configureRole(t, repo)
	guild.memberGone = true
	rec := insertTestRecord(t, repo, "user-a")

	out, err := coordinator.Reconcile("guild-1", "user-a", rec, stats.Evaluation{Passed: true}, false)
	require.NoError(t, err)

	assert.False(t, out.Verified)
	require.Len(t, out.UserNotes, 1)
	assert.Contains(t, out.UserNotes[0], "left the server")
	require.Len(t, notify.audits, 1)

	// The record stays saved but unverified
	got, err := repo.LatestByUser("guild-1", "user-a")
	require.NoError(t, err)
	assert.False(t, got.Verified)
}

func TestReconcileGrantBlockedByPermissions(t *testing.T) {
	tests := []struct {
		name  string
		setup func(g *fakeGuild)
		note  string
	}{
		{"missing manage roles", func(g *fakeGuild) { g.canManage = false }, "lacks permission"},
		{"role outranks bot", func(g *fakeGuild) { g.roleAbove = false }, "outranks the bot"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			coordinator, repo, guild, notify := newCoordinatorEnv(t)
			configureRole(t, repo)
			tt.setup(guild)
			rec := insertTestRecord(t, repo, "user-a")

			out, err := coordinator.Reconcile("guild-1", "user-a", rec, stats.Evaluation{Passed: true}, false)
			require.NoError(t, err)

			assert.False(t, out.Verified)
			assert.Empty(t, guild.added)
			require.Len(t, out.UserNotes, 1)
			assert.Contains(t, out.UserNotes[0], tt.note)
			require.Len(t, notify.audits, 1)
		})
	}
}

func TestReconcileRevokes(t *testing.T) {
	coordinator, repo, guild, notify := newCoordinatorEnv(t)
	configureRole(t, repo)
	guild.hasRole["user-a"] = true
	rec := insertTestRecord(t, repo, "user-a")

	out, err := coordinator.Reconcile("guild-1", "user-a", rec, stats.Evaluation{}, true)
	require.NoError(t, err)

	assert.True(t, out.Revoked)
	assert.Equal(t, []string{"user-a"}, guild.removed)
	require.Len(t, notify.audits, 1)
}

func TestReconcileRevokeSkipsWhenRoleNotHeld(t *testing.T) {
	coordinator, repo, guild, notify := newCoordinatorEnv(t)
	configureRole(t, repo)
	rec := insertTestRecord(t, repo, "user-a")

	out, err := coordinator.Reconcile("guild-1", "user-a", rec, stats.Evaluation{}, true)
	require.NoError(t, err)

	assert.False(t, out.Revoked)
	assert.Empty(t, guild.removed)
	require.Len(t, notify.audits, 1)
	assert.Contains(t, notify.audits[0], "nothing to revoke")
}

func TestReconcileNoActionWhenFailedAndNeverVerified(t *testing.T) {
	coordinator, repo, guild, notify := newCoordinatorEnv(t)
	configureRole(t, repo)
	rec := insertTestRecord(t, repo, "user-a")

	out, err := coordinator.Reconcile("guild-1", "user-a", rec, stats.Evaluation{}, false)
	require.NoError(t, err)

	assert.Equal(t, Outcome{}, out)
	assert.Empty(t, guild.added)
	assert.Empty(t, guild.removed)
	assert.Empty(t, notify.audits)
}
