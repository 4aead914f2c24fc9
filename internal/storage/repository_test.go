package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewRepository(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func testRecord(userID, guildID, tag string) *VerificationRecord {
	return &VerificationRecord{
		UserID:      userID,
		GuildID:     guildID,
		PlayerTag:   tag,
		Platform:    "PS5",
		WinPct:      85.0,
		GamesPlayed: 150,
		ImageURL:    "https://cdn.example/" + userID + ".png",
		ImageHash:   "hash-" + userID + "-" + tag,
	}
}

func TestInsertAndLatest(t *testing.T) {
	repo := newTestRepo(t)

	rec := testRecord("user-a", "guild-1", "alpha")
	require.NoError(t, repo.InsertRecord(rec))
	assert.NotZero(t, rec.ID)
	assert.True(t, rec.Current)

	got, err := repo.LatestByUser("guild-1", "user-a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, "alpha", got.PlayerTag)
	assert.Equal(t, 150, got.GamesPlayed)
	assert.False(t, got.Flagged)
}

func TestLatestByUserReturnsNilWhenAbsent(t *testing.T) {
	repo := newTestRepo(t)

	got, err := repo.LatestByUser("guild-1", "nobody")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestInsertDemotesPreviousRows(t *testing.T) {
	repo := newTestRepo(t)

	first := testRecord("user-a", "guild-1", "alpha")
	first.CreatedAt = time.Now().UTC().Add(-2 * time.Hour)
	require.NoError(t, repo.InsertRecord(first))

	// Resubmitting the same tag must not trip the unique index against
	// the user's own earlier row
	second := testRecord("user-a", "guild-1", "alpha")
	second.ImageHash = "hash-2"
	require.NoError(t, repo.InsertRecord(second))

	got, err := repo.LatestByUser("guild-1", "user-a")
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)

	current, err := repo.CurrentByTag("guild-1", "alpha")
	require.NoError(t, err)
	require.Len(t, current, 1)
	assert.Equal(t, second.ID, current[0].ID)
}

func TestInsertDuplicateActiveTagFails(t *testing.T) {
	repo := newTestRepo(t)

	require.NoError(t, repo.InsertRecord(testRecord("user-a", "guild-1", "alpha")))

	err := repo.InsertRecord(testRecord("user-b", "guild-1", "alpha"))
	require.Error(t, err)
	assert.True(t, IsDuplicateTag(err))

	// Same tag in another guild is fine
	require.NoError(t, repo.InsertRecord(testRecord("user-b", "guild-2", "alpha")))

	// Flagged rows bypass the index
	flagged := testRecord("user-b", "guild-1", "alpha")
	flagged.Flagged = true
	flagged.FlagReason = "duplicate tag with user user-a"
	require.NoError(t, repo.InsertRecord(flagged))
}

func TestActiveByTag(t *testing.T) {
	repo := newTestRepo(t)

	owner := testRecord("user-a", "guild-1", "alpha")
	require.NoError(t, repo.InsertRecord(owner))

	got, err := repo.ActiveByTag("guild-1", "alpha", "user-b")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "user-a", got.UserID)

	// The owner's own record is excluded
	got, err = repo.ActiveByTag("guild-1", "alpha", "user-a")
	require.NoError(t, err)
	assert.Nil(t, got)

	// Flagged owners are not active
	require.NoError(t, repo.SetFlag(owner.ID, true, "duplicate tag with user user-b"))
	got, err = repo.ActiveByTag("guild-1", "alpha", "user-b")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestByImageHash(t *testing.T) {
	repo := newTestRepo(t)

	rec := testRecord("user-a", "guild-1", "alpha")
	require.NoError(t, repo.InsertRecord(rec))

	got, err := repo.ByImageHash("guild-1", "user-a", rec.ImageHash)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.ID, got.ID)

	got, err = repo.ByImageHash("guild-1", "user-a", "other-hash")
	require.NoError(t, err)
	assert.Nil(t, got)

	// Another user uploading the same image is not a duplicate
	got, err = repo.ByImageHash("guild-1", "user-b", rec.ImageHash)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSetFlagRequiresReason(t *testing.T) {
	repo := newTestRepo(t)

	rec := testRecord("user-a", "guild-1", "alpha")
	require.NoError(t, repo.InsertRecord(rec))

	require.Error(t, repo.SetFlag(rec.ID, true, ""))
	require.NoError(t, repo.SetFlag(rec.ID, true, "duplicate tag with user user-b"))

	got, err := repo.LatestByUser("guild-1", "user-a")
	require.NoError(t, err)
	assert.True(t, got.Flagged)
	assert.Equal(t, "duplicate tag with user user-b", got.FlagReason)

	require.NoError(t, repo.SetFlag(rec.ID, false, ""))
	got, err = repo.LatestByUser("guild-1", "user-a")
	require.NoError(t, err)
	assert.False(t, got.Flagged)
	assert.Empty(t, got.FlagReason)
}

func TestSetVerifiedAndExpiredScan(t *testing.T) {
	repo := newTestRepo(t)

	rec := testRecord("user-a", "guild-1", "alpha")
	require.NoError(t, repo.InsertRecord(rec))

	verifiedAt := time.Now().UTC().Add(-31 * 24 * time.Hour)
	expiresAt := verifiedAt.Add(30 * 24 * time.Hour)
	require.NoError(t, repo.SetVerified(rec.ID, true, &verifiedAt, &expiresAt))

	got, err := repo.LatestByUser("guild-1", "user-a")
	require.NoError(t, err)
	assert.True(t, got.Verified)
	require.NotNil(t, got.VerifiedAt)
	require.NotNil(t, got.ExpiresAt)
	assert.WithinDuration(t, expiresAt, *got.ExpiresAt, time.Second)

	expired, err := repo.ExpiredVerified(time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, rec.ID, expired[0].ID)

	// Marked unverified, it drops out of the scan
	require.NoError(t, repo.SetVerified(rec.ID, false, &verifiedAt, &expiresAt))
	expired, err = repo.ExpiredVerified(time.Now().UTC())
	require.NoError(t, err)
	assert.Empty(t, expired)
}

func TestSetTag(t *testing.T) {
	repo := newTestRepo(t)

	rec := testRecord("user-a", "guild-1", "alpha")
	require.NoError(t, repo.InsertRecord(rec))
	require.NoError(t, repo.SetTag(rec.ID, "alpha-reassigned-1a2b3c4d"))

	got, err := repo.LatestByUser("guild-1", "user-a")
	require.NoError(t, err)
	assert.Equal(t, "alpha-reassigned-1a2b3c4d", got.PlayerTag)
}

func TestGuildSettingsUpsertKeepsUnsetFields(t *testing.T) {
	repo := newTestRepo(t)

	got, err := repo.GetGuildSettings("guild-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, repo.UpsertGuildSettings(&GuildSettings{
		GuildID:        "guild-1",
		VerifiedRoleID: "role-1",
	}))
	require.NoError(t, repo.UpsertGuildSettings(&GuildSettings{
		GuildID:        "guild-1",
		AuditChannelID: "chan-1",
	}))

	got, err = repo.GetGuildSettings("guild-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "role-1", got.VerifiedRoleID)
	assert.Equal(t, "chan-1", got.AuditChannelID)
}
