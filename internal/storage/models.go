package storage

import "time"

// VerificationRecord is one submission event. Records are append-only:
// every submission inserts a new row and demotes the submitter's previous
// rows, so the row with is_current set is also the newest by created_at.
type VerificationRecord struct {
	ID          int64
	UserID      string
	GuildID     string
	PlayerTag   string
	Platform    string
	WinPct      float64
	GamesPlayed int
	Points      *int
	Rebounds    *int
	Assists     *int
	ImageURL    string
	ImageHash   string
	Verified    bool
	VerifiedAt  *time.Time
	ExpiresAt   *time.Time
	Flagged     bool
	FlagReason  string
	Current     bool
	CreatedAt   time.Time
}

// GuildSettings stores per-server configuration
type GuildSettings struct {
	GuildID        string
	VerifiedRoleID string
	AuditChannelID string
	CreatedAt      time.Time
}
