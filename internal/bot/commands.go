package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/Terryjones1995/2kbot/internal/storage"
	"github.com/Terryjones1995/2kbot/internal/verify"
	"github.com/Terryjones1995/2kbot/internal/vision"
)

// maxScreenshotBytes bounds how much of an attachment we will download
const maxScreenshotBytes = 10 << 20

// Slash command definitions
func (b *Bot) getCommandDefinitions() []*discordgo.ApplicationCommand {
	manageGuild := int64(discordgo.PermissionManageServer)

	return []*discordgo.ApplicationCommand{
		{
			Name:        "verify",
			Description: "Verify your competitive stats from a screenshot",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionAttachment,
					Name:        "screenshot",
					Description: "A screenshot of your player stats page",
					Required:    true,
				},
			},
		},
		{
			Name:        "status",
			Description: "Show your current verification status",
		},
		{
			Name:                     "setrole",
			Description:              "Set the role granted to verified players",
			DefaultMemberPermissions: &manageGuild,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionRole,
					Name:        "role",
					Description: "The role to grant on successful verification",
					Required:    true,
				},
			},
		},
	}
}

// registerCommands registers all slash commands with Discord
func (b *Bot) registerCommands() error {
	slog.Info("Registering slash commands")

	commandDefinitions := b.getCommandDefinitions()
	registeredCommands := make([]*discordgo.ApplicationCommand, 0, len(commandDefinitions))

	for _, cmd := range commandDefinitions {
		registered, err := b.session.ApplicationCommandCreate(
			b.session.State.User.ID,
			"", // Empty string = global command
			cmd,
		)
		if err != nil {
			return fmt.Errorf("failed to register command %s: %w", cmd.Name, err)
		}
		registeredCommands = append(registeredCommands, registered)
		slog.Debug("Registered command", "name", cmd.Name)
	}

	b.commands = registeredCommands
	slog.Info("Slash commands registered", "count", len(registeredCommands))
	return nil
}

// removeCommands removes all registered slash commands
func (b *Bot) removeCommands() {
	for _, cmd := range b.commands {
		err := b.session.ApplicationCommandDelete(b.session.State.User.ID, "", cmd.ID)
		if err != nil {
			slog.Error("Failed to remove command", "name", cmd.Name, "error", err)
		}
	}
}

// handleVerify handles the /verify command
func (b *Bot) handleVerify(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.GuildID == "" {
		respondWithMessage(s, i, "Verification only works inside a server.")
		return
	}

	// Respond immediately to avoid timeout; extraction takes a while
	s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Flags: discordgo.MessageFlagsEphemeral,
		},
	})

	attachment := resolveAttachment(i)
	if attachment == nil {
		b.editResponse(s, i, "Please attach a screenshot of your stats page.")
		return
	}
	if !strings.HasPrefix(attachment.ContentType, "image/") {
		b.editResponse(s, i, "That attachment is not an image. Please upload a screenshot.")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	image, err := downloadImage(ctx, attachment.URL)
	if err != nil {
		slog.Error("Failed to download screenshot", "url", attachment.URL, "error", err)
		b.editResponse(s, i, "Could not download your screenshot. Please try again.")
		return
	}

	hash := vision.Fingerprint(image)

	playerStats, err := b.extractor.Extract(ctx, image, attachment.ContentType)
	if err != nil {
		var extractErr *vision.ExtractionError
		switch {
		case errors.As(err, &extractErr):
			b.editResponse(s, i, fmt.Sprintf("I couldn't read your %s from that screenshot. Please upload a clearer image showing your full stats page.", strings.Join(extractErr.Missing, ", ")))
		case errors.Is(err, vision.ErrNoWorkingModel):
			slog.Error("All vision models failed", "error", err)
			b.editResponse(s, i, "Verification is temporarily unavailable: no vision model is responding. Please tell an admin and try again later.")
		default:
			slog.Error("Extraction failed", "error", err)
			b.editResponse(s, i, "Something unexpected went wrong reading your screenshot. Please try again or contact an admin.")
		}
		return
	}

	userID := i.Member.User.ID
	result, err := b.resolver.Submit(&verify.Submission{
		UserID:    userID,
		GuildID:   i.GuildID,
		Stats:     *playerStats,
		ImageURL:  attachment.URL,
		ImageHash: hash,
	})
	if err != nil {
		slog.Error("Submission failed", "userID", userID, "guildID", i.GuildID, "error", err)
		b.editResponse(s, i, "Something unexpected went wrong. Please try again or contact an admin.")
		return
	}

	b.editResponse(s, i, submissionMessage(result, playerStats.PlayerTag))
}

// submissionMessage renders a resolver result for the submitter
func submissionMessage(result *verify.Result, tag string) string {
	switch result.Status {
	case verify.StatusRateLimited:
		wait := result.RetryAfter.Round(time.Minute)
		if wait < time.Minute {
			wait = time.Minute
		}
		return fmt.Sprintf("You submitted recently. Please wait about %s before trying again.", wait)

	case verify.StatusDuplicateImage:
		return "You've already submitted this exact screenshot. Please upload a fresh one."

	case verify.StatusConflictPending:
		return fmt.Sprintf("The tag `%s` is already claimed by another member. An admin will review your submission; you'll get a DM with the outcome.", tag)

	case verify.StatusReEvaluationFailed:
		return withUserNotes(fmt.Sprintf("Your profile was updated, but your stats no longer meet the requirements (%s). Your verified status has been removed.",
			thresholdSummary(result)), result)

	default: // StatusAccepted
		if result.Evaluation.Passed {
			if result.Outcome.Verified {
				return withUserNotes(fmt.Sprintf("You're verified as `%s`! Nice stats.", tag), result)
			}
			return withUserNotes(fmt.Sprintf("Your stats for `%s` qualify, but the verified role could not be applied.", tag), result)
		}
		return withUserNotes(fmt.Sprintf("Your profile was saved, but your stats don't meet the requirements yet (%s).",
			thresholdSummary(result)), result)
	}
}

func thresholdSummary(result *verify.Result) string {
	var parts []string
	if !result.Evaluation.MeetsGames {
		parts = append(parts, "not enough games played")
	}
	if !result.Evaluation.MeetsWin {
		parts = append(parts, "win percentage too low")
	}
	if len(parts) == 0 {
		return "requirements met"
	}
	return strings.Join(parts, ", ")
}

func withUserNotes(msg string, result *verify.Result) string {
	if len(result.Outcome.UserNotes) == 0 {
		return msg
	}
	return msg + "\n" + strings.Join(result.Outcome.UserNotes, "\n")
}

// handleStatus handles the /status command
func (b *Bot) handleStatus(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.GuildID == "" {
		respondWithMessage(s, i, "Status only works inside a server.")
		return
	}

	rec, err := b.repo.LatestByUser(i.GuildID, i.Member.User.ID)
	if err != nil {
		slog.Error("Failed to load record", "error", err)
		respondWithMessage(s, i, "Failed to look up your status. Please try again.")
		return
	}
	if rec == nil {
		respondWithMessage(s, i, "You haven't verified yet. Use `/verify` with a stats screenshot to get started.")
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "**Tag:** `%s`\n", rec.PlayerTag)
	if rec.Platform != "" {
		fmt.Fprintf(&sb, "**Platform:** %s\n", rec.Platform)
	}
	fmt.Fprintf(&sb, "**Games:** %d | **Win %%:** %.1f\n", rec.GamesPlayed, rec.WinPct)
	if rec.Verified {
		sb.WriteString("**Status:** verified")
		if rec.ExpiresAt != nil {
			fmt.Fprintf(&sb, " (expires <t:%d:R>)", rec.ExpiresAt.Unix())
		}
		sb.WriteString("\n")
	} else {
		sb.WriteString("**Status:** not verified\n")
	}
	if rec.Flagged {
		fmt.Fprintf(&sb, "**Flagged:** %s\n", rec.FlagReason)
	}

	respondWithMessage(s, i, sb.String())
}

// handleSetRole handles the /setrole command
func (b *Bot) handleSetRole(s *discordgo.Session, i *discordgo.InteractionCreate) {
	role := i.ApplicationCommandData().Options[0].RoleValue(s, i.GuildID)

	settings := &storage.GuildSettings{
		GuildID:        i.GuildID,
		VerifiedRoleID: role.ID,
	}

	if err := b.repo.UpsertGuildSettings(settings); err != nil {
		slog.Error("Failed to save guild settings", "error", err)
		respondWithMessage(s, i, "Failed to set the verified role. Please try again.")
		return
	}

	respondWithMessage(s, i, fmt.Sprintf("Verified players will now receive <@&%s>.", role.ID))
}

// Helper functions

func resolveAttachment(i *discordgo.InteractionCreate) *discordgo.MessageAttachment {
	data := i.ApplicationCommandData()
	for _, opt := range data.Options {
		if opt.Type == discordgo.ApplicationCommandOptionAttachment {
			id, ok := opt.Value.(string)
			if !ok {
				return nil
			}
			return data.Resolved.Attachments[id]
		}
	}
	return nil
}

func downloadImage(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxScreenshotBytes))
}

func respondWithMessage(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
}

func (b *Bot) editResponse(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{
		Content: &content,
	})
}
