package verify

import (
	"errors"
	"time"

	"github.com/Terryjones1995/2kbot/internal/storage"
)

// ErrMemberNotFound is returned by GuildService lookups when the user
// has left the guild
var ErrMemberNotFound = errors.New("member not found in guild")

// RecordStore is the persistence surface the resolver and coordinator
// need. *storage.Repository implements it.
type RecordStore interface {
	InsertRecord(rec *storage.VerificationRecord) error
	LatestByUser(guildID, userID string) (*storage.VerificationRecord, error)
	ActiveByTag(guildID, tag, excludeUserID string) (*storage.VerificationRecord, error)
	CurrentByTag(guildID, tag string) ([]*storage.VerificationRecord, error)
	ByImageHash(guildID, userID, hash string) (*storage.VerificationRecord, error)
	SetFlag(recordID int64, flagged bool, reason string) error
	SetTag(recordID int64, tag string) error
	SetVerified(recordID int64, verified bool, verifiedAt, expiresAt *time.Time) error
	GetGuildSettings(guildID string) (*storage.GuildSettings, error)
}

// GuildService covers the role operations the coordinator performs
// against Discord
type GuildService interface {
	// MemberHasRole reports whether the user currently holds the role.
	// Returns ErrMemberNotFound if the user has left the guild.
	MemberHasRole(guildID, userID, roleID string) (bool, error)

	// BotCanManageRoles reports whether the bot has the Manage Roles
	// permission in the guild
	BotCanManageRoles(guildID string) (bool, error)

	// BotRoleAbove reports whether the bot's highest role outranks the
	// given role
	BotRoleAbove(guildID, roleID string) (bool, error)

	AddRole(guildID, userID, roleID string) error
	RemoveRole(guildID, userID, roleID string) error
}

// Notifier delivers out-of-band messages: user DMs, the arbiter review
// prompt with its accept/deny controls, and guild audit entries
type Notifier interface {
	DirectMessage(userID, content string) error
	ArbiterReview(ap *PendingApproval) error
	Audit(guildID, content string) error
}
