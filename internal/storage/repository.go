package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Repository handles all database operations
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new repository with SQLite
func NewRepository(dbPath string) (*Repository, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	repo := &Repository{db: db}

	// Run migrations
	if err := repo.migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

// migrate creates the database schema
func (r *Repository) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS verification_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id VARCHAR(20) NOT NULL,
			guild_id VARCHAR(20) NOT NULL,
			player_tag VARCHAR(100),
			platform VARCHAR(30),
			win_pct REAL NOT NULL,
			games_played INTEGER NOT NULL,
			points INTEGER,
			rebounds INTEGER,
			assists INTEGER,
			image_url TEXT,
			image_hash VARCHAR(64),
			verified BOOLEAN NOT NULL DEFAULT 0,
			verified_at TIMESTAMP,
			expires_at TIMESTAMP,
			flagged BOOLEAN NOT NULL DEFAULT 0,
			flag_reason TEXT,
			is_current BOOLEAN NOT NULL DEFAULT 1,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS guild_settings (
			guild_id VARCHAR(20) PRIMARY KEY,
			verified_role_id VARCHAR(20),
			audit_channel_id VARCHAR(20),
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		// A tag may have at most one active, unflagged owner per guild.
		// Racing inserts for the same tag surface here as a UNIQUE
		// constraint error at write time.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_records_active_tag
			ON verification_records(guild_id, player_tag)
			WHERE flagged = 0 AND is_current = 1 AND player_tag IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS idx_records_user_guild ON verification_records(user_id, guild_id)`,
		`CREATE INDEX IF NOT EXISTS idx_records_guild_tag ON verification_records(guild_id, player_tag)`,
	}

	for _, migration := range migrations {
		if _, err := r.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

// IsDuplicateTag reports whether an insert failed because another active
// record already owns the tag
func IsDuplicateTag(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint")
}

const recordColumns = `id, user_id, guild_id, player_tag, platform, win_pct, games_played,
	points, rebounds, assists, image_url, image_hash,
	verified, verified_at, expires_at, flagged, flag_reason, is_current, created_at`

func scanRecord(row interface{ Scan(...any) error }) (*VerificationRecord, error) {
	rec := &VerificationRecord{}
	var tag, platform, imageURL, imageHash, flagReason sql.NullString
	var verifiedAt, expiresAt sql.NullTime
	var points, rebounds, assists sql.NullInt64

	err := row.Scan(
		&rec.ID, &rec.UserID, &rec.GuildID, &tag, &platform, &rec.WinPct, &rec.GamesPlayed,
		&points, &rebounds, &assists, &imageURL, &imageHash,
		&rec.Verified, &verifiedAt, &expiresAt, &rec.Flagged, &flagReason, &rec.Current, &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.PlayerTag = tag.String
	rec.Platform = platform.String
	rec.ImageURL = imageURL.String
	rec.ImageHash = imageHash.String
	rec.FlagReason = flagReason.String
	if verifiedAt.Valid {
		rec.VerifiedAt = &verifiedAt.Time
	}
	if expiresAt.Valid {
		rec.ExpiresAt = &expiresAt.Time
	}
	if points.Valid {
		v := int(points.Int64)
		rec.Points = &v
	}
	if rebounds.Valid {
		v := int(rebounds.Int64)
		rec.Rebounds = &v
	}
	if assists.Valid {
		v := int(assists.Int64)
		rec.Assists = &v
	}
	return rec, nil
}

// Record operations

// InsertRecord appends a new submission row and demotes the submitter's
// previous rows in the same transaction. The unique index on active tags
// may reject the insert; callers detect that with IsDuplicateTag.
func (r *Repository) InsertRecord(rec *VerificationRecord) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`UPDATE verification_records SET is_current = 0 WHERE user_id = ? AND guild_id = ? AND is_current = 1`,
		rec.UserID, rec.GuildID,
	); err != nil {
		return err
	}

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	result, err := tx.Exec(
		`INSERT INTO verification_records
			(user_id, guild_id, player_tag, platform, win_pct, games_played,
			 points, rebounds, assists, image_url, image_hash,
			 verified, verified_at, expires_at, flagged, flag_reason, is_current, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?)`,
		rec.UserID, rec.GuildID, nullString(rec.PlayerTag), nullString(rec.Platform),
		rec.WinPct, rec.GamesPlayed,
		nullInt(rec.Points), nullInt(rec.Rebounds), nullInt(rec.Assists),
		nullString(rec.ImageURL), nullString(rec.ImageHash),
		rec.Verified, nullTime(rec.VerifiedAt), nullTime(rec.ExpiresAt),
		rec.Flagged, nullString(rec.FlagReason), rec.CreatedAt,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	rec.ID = id
	rec.Current = true

	return tx.Commit()
}

// LatestByUser returns the newest record for a user in a guild, or nil
// if the user has never submitted
func (r *Repository) LatestByUser(guildID, userID string) (*VerificationRecord, error) {
	rec, err := scanRecord(r.db.QueryRow(
		`SELECT `+recordColumns+` FROM verification_records
		 WHERE guild_id = ? AND user_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT 1`,
		guildID, userID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

// ActiveByTag returns the newest active, unflagged record holding the tag
// for any user other than excludeUserID, or nil if the tag is unclaimed
func (r *Repository) ActiveByTag(guildID, tag, excludeUserID string) (*VerificationRecord, error) {
	rec, err := scanRecord(r.db.QueryRow(
		`SELECT `+recordColumns+` FROM verification_records
		 WHERE guild_id = ? AND player_tag = ? AND user_id != ? AND flagged = 0 AND is_current = 1
		 ORDER BY created_at DESC, id DESC LIMIT 1`,
		guildID, tag, excludeUserID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

// CurrentByTag returns every current record holding the tag in a guild,
// flagged or not, newest first
func (r *Repository) CurrentByTag(guildID, tag string) ([]*VerificationRecord, error) {
	rows, err := r.db.Query(
		`SELECT `+recordColumns+` FROM verification_records
		 WHERE guild_id = ? AND player_tag = ? AND is_current = 1
		 ORDER BY created_at DESC, id DESC`,
		guildID, tag,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*VerificationRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ByImageHash returns the user's prior record with the same image
// fingerprint, or nil
func (r *Repository) ByImageHash(guildID, userID, hash string) (*VerificationRecord, error) {
	rec, err := scanRecord(r.db.QueryRow(
		`SELECT `+recordColumns+` FROM verification_records
		 WHERE guild_id = ? AND user_id = ? AND image_hash = ?
		 ORDER BY created_at DESC, id DESC LIMIT 1`,
		guildID, userID, hash,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

// ExpiredVerified returns current records whose verification has lapsed
func (r *Repository) ExpiredVerified(now time.Time) ([]*VerificationRecord, error) {
	rows, err := r.db.Query(
		`SELECT `+recordColumns+` FROM verification_records
		 WHERE verified = 1 AND is_current = 1 AND expires_at IS NOT NULL AND expires_at <= ?`,
		now,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*VerificationRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// SetFlag updates a record's flag state. Setting a flag requires a
// reason; clearing one also clears the reason.
func (r *Repository) SetFlag(recordID int64, flagged bool, reason string) error {
	if flagged && reason == "" {
		return fmt.Errorf("flagging record %d requires a reason", recordID)
	}
	if !flagged {
		reason = ""
	}
	_, err := r.db.Exec(
		`UPDATE verification_records SET flagged = ?, flag_reason = ? WHERE id = ?`,
		flagged, nullString(reason), recordID,
	)
	return err
}

// SetTag renames a record's player tag
func (r *Repository) SetTag(recordID int64, tag string) error {
	_, err := r.db.Exec(
		`UPDATE verification_records SET player_tag = ? WHERE id = ?`,
		nullString(tag), recordID,
	)
	return err
}

// SetVerified updates a record's verification state and window
func (r *Repository) SetVerified(recordID int64, verified bool, verifiedAt, expiresAt *time.Time) error {
	_, err := r.db.Exec(
		`UPDATE verification_records SET verified = ?, verified_at = ?, expires_at = ? WHERE id = ?`,
		verified, nullTime(verifiedAt), nullTime(expiresAt), recordID,
	)
	return err
}

// Guild settings operations

// UpsertGuildSettings creates or updates guild settings; empty fields on
// the incoming value leave the stored column untouched
func (r *Repository) UpsertGuildSettings(settings *GuildSettings) error {
	_, err := r.db.Exec(
		`INSERT INTO guild_settings (guild_id, verified_role_id, audit_channel_id) VALUES (?, ?, ?)
		 ON CONFLICT(guild_id) DO UPDATE SET
			verified_role_id = CASE WHEN excluded.verified_role_id != '' THEN excluded.verified_role_id ELSE guild_settings.verified_role_id END,
			audit_channel_id = CASE WHEN excluded.audit_channel_id != '' THEN excluded.audit_channel_id ELSE guild_settings.audit_channel_id END`,
		settings.GuildID, settings.VerifiedRoleID, settings.AuditChannelID,
	)
	return err
}

// GetGuildSettings retrieves guild settings, or nil if the guild has none
func (r *Repository) GetGuildSettings(guildID string) (*GuildSettings, error) {
	settings := &GuildSettings{}
	var roleID, channelID sql.NullString
	err := r.db.QueryRow(
		`SELECT guild_id, verified_role_id, audit_channel_id, created_at FROM guild_settings WHERE guild_id = ?`,
		guildID,
	).Scan(&settings.GuildID, &roleID, &channelID, &settings.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	settings.VerifiedRoleID = roleID.String
	settings.AuditChannelID = channelID.String
	return settings, nil
}

// Null helpers for optional columns

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
