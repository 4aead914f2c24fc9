package bot

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/Terryjones1995/2kbot/internal/verify"
)

// handleComponent processes approve/deny button clicks on arbiter review
// messages
func (b *Bot) handleComponent(s *discordgo.Session, i *discordgo.InteractionCreate) {
	customID := i.MessageComponentData().CustomID

	var requestID string
	var approve bool
	switch {
	case strings.HasPrefix(customID, approveComponentPrefix):
		requestID = strings.TrimPrefix(customID, approveComponentPrefix)
		approve = true
	case strings.HasPrefix(customID, denyComponentPrefix):
		requestID = strings.TrimPrefix(customID, denyComponentPrefix)
	default:
		return
	}

	if interactionUserID(i) != b.config.ArbiterUserID {
		respondWithMessage(s, i, "Only the designated arbiter can resolve tag conflicts.")
		return
	}

	var content string
	if approve {
		result, err := b.resolver.Approve(requestID)
		switch {
		case errors.Is(err, verify.ErrUnknownApproval):
			content = "This request was already resolved or has expired."
		case err != nil:
			slog.Error("Approve failed", "requestID", requestID, "error", err)
			content = "Something went wrong applying the approval. Check the logs."
		default:
			content = fmt.Sprintf("Approved. `%s` now belongs to <@%s>.", result.Record.PlayerTag, result.Record.UserID)
			if result.Evaluation.Passed && result.Outcome.Verified {
				content += " They meet the thresholds and have been verified."
			} else if !result.Evaluation.Passed {
				content += " Their stats don't meet the thresholds, so no role was granted."
			}
		}
	} else {
		err := b.resolver.Deny(requestID)
		switch {
		case errors.Is(err, verify.ErrUnknownApproval):
			content = "This request was already resolved or has expired."
		case err != nil:
			slog.Error("Deny failed", "requestID", requestID, "error", err)
			content = "Something went wrong applying the denial. Check the logs."
		default:
			content = "Denied. The claimant has been notified."
		}
	}

	// Replace the review message so the buttons cannot be clicked again
	s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseUpdateMessage,
		Data: &discordgo.InteractionResponseData{
			Content:    content,
			Components: []discordgo.MessageComponent{},
		},
	})
}

// interactionUserID works for both guild and DM interactions
func interactionUserID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}
