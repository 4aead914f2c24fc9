package bot

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/Terryjones1995/2kbot/internal/storage"
	"github.com/Terryjones1995/2kbot/internal/verify"
)

const (
	approveComponentPrefix = "verify_approve:"
	denyComponentPrefix    = "verify_deny:"
)

// notifier implements verify.Notifier: user DMs, the arbiter review
// prompt, and guild audit entries
type notifier struct {
	session          *discordgo.Session
	repo             *storage.Repository
	arbiterUserID    string
	auditChannelName string
}

func newNotifier(session *discordgo.Session, repo *storage.Repository, arbiterUserID, auditChannelName string) *notifier {
	return &notifier{
		session:          session,
		repo:             repo,
		arbiterUserID:    arbiterUserID,
		auditChannelName: auditChannelName,
	}
}

// DirectMessage sends a DM to a user
func (n *notifier) DirectMessage(userID, content string) error {
	ch, err := n.session.UserChannelCreate(userID)
	if err != nil {
		return fmt.Errorf("failed to open DM channel with %s: %w", userID, err)
	}
	_, err = n.session.ChannelMessageSend(ch.ID, content)
	return err
}

// ArbiterReview DMs the arbiter a summary of the conflict with
// approve/deny buttons carrying the request id
func (n *notifier) ArbiterReview(ap *verify.PendingApproval) error {
	ch, err := n.session.UserChannelCreate(n.arbiterUserID)
	if err != nil {
		return fmt.Errorf("failed to open DM channel with arbiter: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("**Tag conflict needs your decision**\n\n")
	fmt.Fprintf(&sb, "<@%s> claims the tag `%s`, currently held by <@%s>.\n", ap.UserID, ap.NewTag, ap.OtherUserID)
	if ap.PrevTag != "" && ap.PrevTag != ap.NewTag {
		fmt.Fprintf(&sb, "The claimant previously verified as `%s`.\n", ap.PrevTag)
	}
	if ap.NewImageURL != "" {
		fmt.Fprintf(&sb, "New screenshot: %s\n", ap.NewImageURL)
	}
	if ap.OldImageURL != "" {
		fmt.Fprintf(&sb, "Previous screenshot: %s\n", ap.OldImageURL)
	}
	sb.WriteString("\nApprove to assign the tag to the claimant, deny to keep things as they are.")

	_, err = n.session.ChannelMessageSendComplex(ch.ID, &discordgo.MessageSend{
		Content: sb.String(),
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{
				Components: []discordgo.MessageComponent{
					discordgo.Button{
						Label:    "Approve",
						Style:    discordgo.SuccessButton,
						CustomID: approveComponentPrefix + ap.RequestID,
					},
					discordgo.Button{
						Label:    "Deny",
						Style:    discordgo.DangerButton,
						CustomID: denyComponentPrefix + ap.RequestID,
					},
				},
			},
		},
	})
	return err
}

// Audit posts an operator-visible entry to the guild's audit channel,
// finding or creating it on first use
func (n *notifier) Audit(guildID, content string) error {
	channelID, err := n.auditChannelID(guildID)
	if err != nil {
		return err
	}
	_, err = n.session.ChannelMessageSend(channelID, content)
	return err
}

func (n *notifier) auditChannelID(guildID string) (string, error) {
	settings, err := n.repo.GetGuildSettings(guildID)
	if err != nil {
		return "", err
	}
	if settings != nil && settings.AuditChannelID != "" {
		// Verify the cached channel still exists
		if _, err := n.session.Channel(settings.AuditChannelID); err == nil {
			return settings.AuditChannelID, nil
		}
	}

	ch, err := findOrCreateChannel(n.session, guildID, n.auditChannelName)
	if err != nil {
		return "", err
	}

	if err := n.repo.UpsertGuildSettings(&storage.GuildSettings{
		GuildID:        guildID,
		AuditChannelID: ch.ID,
	}); err != nil {
		return "", err
	}
	return ch.ID, nil
}
