package verify

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Terryjones1995/2kbot/internal/stats"
	"github.com/Terryjones1995/2kbot/internal/storage"
)

// Outcome is the result of applying an evaluation to the authorization
// system
type Outcome struct {
	Verified bool
	Granted  bool
	Revoked  bool

	// UserNotes are appended to the submitter-facing response when a
	// role action could not be completed
	UserNotes []string
}

// Coordinator applies pass/fail evaluations to the verified role and
// reconciles authorization failures back into record state. Role work is
// best effort: a failed grant or revoke never unsaves the record.
type Coordinator struct {
	store          RecordStore
	guild          GuildService
	notify         Notifier
	reverifyWindow time.Duration
	now            func() time.Time
}

// NewCoordinator creates a role grant coordinator
func NewCoordinator(store RecordStore, guild GuildService, notify Notifier, reverifyWindow time.Duration) *Coordinator {
	return &Coordinator{
		store:          store,
		guild:          guild,
		notify:         notify,
		reverifyWindow: reverifyWindow,
		now:            time.Now,
	}
}

// Reconcile grants or revokes the verified role according to the
// evaluation. wasVerified tells it whether the user's previous record
// was verified, which gates the revocation path.
func (c *Coordinator) Reconcile(guildID, userID string, rec *storage.VerificationRecord, eval stats.Evaluation, wasVerified bool) (Outcome, error) {
	roleID, err := c.verifiedRoleID(guildID)
	if err != nil {
		return Outcome{}, err
	}

	if eval.Passed {
		return c.grant(guildID, userID, roleID, rec)
	}
	if wasVerified {
		return c.revoke(guildID, userID, roleID), nil
	}
	return Outcome{}, nil
}

func (c *Coordinator) verifiedRoleID(guildID string) (string, error) {
	settings, err := c.store.GetGuildSettings(guildID)
	if err != nil {
		return "", fmt.Errorf("failed to load guild settings: %w", err)
	}
	if settings == nil {
		return "", nil
	}
	return settings.VerifiedRoleID, nil
}

// grant runs the precondition chain and adds the role. The record is
// marked verified only once the role state matches.
func (c *Coordinator) grant(guildID, userID, roleID string, rec *storage.VerificationRecord) (Outcome, error) {
	out := Outcome{}

	if roleID == "" {
		c.operatorNote(guildID, "No verified role is configured. Use /setrole to pick one.")
		out.UserNotes = append(out.UserNotes, "Your stats qualify, but this server has no verified role configured yet. An admin needs to run /setrole.")
		return out, nil
	}

	has, err := c.guild.MemberHasRole(guildID, userID, roleID)
	switch {
	case errors.Is(err, ErrMemberNotFound):
		c.operatorNote(guildID, fmt.Sprintf("Could not grant the verified role to <@%s>: user is no longer in this server.", userID))
		out.UserNotes = append(out.UserNotes, "You appear to have left the server, so the role could not be granted.")
		return out, nil
	case err != nil:
		c.operatorNote(guildID, fmt.Sprintf("Could not check roles for <@%s>: %v", userID, err))
		out.UserNotes = append(out.UserNotes, "Your stats qualify, but the role could not be granted right now. An admin has been notified.")
		return out, nil
	}

	if !has {
		canManage, err := c.guild.BotCanManageRoles(guildID)
		if err == nil && !canManage {
			c.operatorNote(guildID, "The bot is missing the Manage Roles permission and cannot grant the verified role.")
			out.UserNotes = append(out.UserNotes, "Your stats qualify, but the bot lacks permission to grant roles here. An admin has been notified.")
			return out, nil
		}

		above, err := c.guild.BotRoleAbove(guildID, roleID)
		if err == nil && !above {
			c.operatorNote(guildID, "The verified role is above the bot's highest role. Move the bot's role up to let it grant the verified role.")
			out.UserNotes = append(out.UserNotes, "Your stats qualify, but the verified role outranks the bot. An admin has been notified.")
			return out, nil
		}

		if err := c.guild.AddRole(guildID, userID, roleID); err != nil {
			c.operatorNote(guildID, fmt.Sprintf("Failed to grant the verified role to <@%s>: %v", userID, err))
			out.UserNotes = append(out.UserNotes, "Your stats qualify, but granting the role failed. An admin has been notified.")
			return out, nil
		}
		out.Granted = true
	}

	verifiedAt := c.now().UTC()
	expiresAt := verifiedAt.Add(c.reverifyWindow)
	if err := c.store.SetVerified(rec.ID, true, &verifiedAt, &expiresAt); err != nil {
		return out, fmt.Errorf("failed to mark record verified: %w", err)
	}
	rec.Verified = true
	rec.VerifiedAt = &verifiedAt
	rec.ExpiresAt = &expiresAt
	out.Verified = true

	return out, nil
}

// revoke removes the role from a previously-verified user whose new
// submission failed. Skips with an audit note when the role is not
// actually held; the record stays unverified regardless of how the role
// work goes.
func (c *Coordinator) revoke(guildID, userID, roleID string) Outcome {
	out := Outcome{}

	if roleID == "" {
		c.operatorNote(guildID, fmt.Sprintf("<@%s> no longer meets the thresholds; no verified role is configured, nothing to revoke.", userID))
		return out
	}

	has, err := c.guild.MemberHasRole(guildID, userID, roleID)
	switch {
	case errors.Is(err, ErrMemberNotFound):
		c.operatorNote(guildID, fmt.Sprintf("<@%s> no longer meets the thresholds and has left the server; nothing to revoke.", userID))
		return out
	case err != nil:
		c.operatorNote(guildID, fmt.Sprintf("<@%s> no longer meets the thresholds but their roles could not be checked: %v. Remove the verified role manually.", userID, err))
		return out
	}

	if !has {
		c.operatorNote(guildID, fmt.Sprintf("<@%s> no longer meets the thresholds; they do not hold the verified role, nothing to revoke.", userID))
		return out
	}

	canManage, err := c.guild.BotCanManageRoles(guildID)
	if err == nil && !canManage {
		c.operatorNote(guildID, fmt.Sprintf("<@%s> no longer meets the thresholds but the bot cannot manage roles. Remove the verified role manually.", userID))
		return out
	}

	above, err := c.guild.BotRoleAbove(guildID, roleID)
	if err == nil && !above {
		c.operatorNote(guildID, fmt.Sprintf("<@%s> no longer meets the thresholds but the verified role outranks the bot. Remove it manually.", userID))
		return out
	}

	if err := c.guild.RemoveRole(guildID, userID, roleID); err != nil {
		c.operatorNote(guildID, fmt.Sprintf("Failed to revoke the verified role from <@%s>: %v. Remove it manually.", userID, err))
		return out
	}
	out.Revoked = true
	c.operatorNote(guildID, fmt.Sprintf("Revoked the verified role from <@%s>: latest submission no longer meets the thresholds.", userID))

	return out
}

func (c *Coordinator) operatorNote(guildID, content string) {
	if err := c.notify.Audit(guildID, content); err != nil {
		slog.Error("Failed to post audit entry", "guildID", guildID, "error", err)
	}
}
