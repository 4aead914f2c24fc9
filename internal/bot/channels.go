package bot

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// normalizeChannelName lowers and trims a channel name for matching
func normalizeChannelName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// findOrCreateChannel locates a text channel by normalized name,
// creating it if missing. When duplicate names exist the lowest-id
// (earliest-created) channel wins and the extras are pruned.
func findOrCreateChannel(s *discordgo.Session, guildID, name string) (*discordgo.Channel, error) {
	channels, err := s.GuildChannels(guildID)
	if err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}

	want := normalizeChannelName(name)
	var matches []*discordgo.Channel
	for _, ch := range channels {
		if ch.Type != discordgo.ChannelTypeGuildText {
			continue
		}
		if normalizeChannelName(ch.Name) == want {
			matches = append(matches, ch)
		}
	}

	if len(matches) > 0 {
		sort.Slice(matches, func(i, j int) bool { return matches[i].ID < matches[j].ID })
		for _, extra := range matches[1:] {
			if _, err := s.ChannelDelete(extra.ID); err != nil {
				slog.Warn("Failed to prune duplicate channel", "channelID", extra.ID, "name", extra.Name, "error", err)
			}
		}
		return matches[0], nil
	}

	ch, err := s.GuildChannelCreate(guildID, name, discordgo.ChannelTypeGuildText)
	if err != nil {
		return nil, fmt.Errorf("failed to create channel %q: %w", name, err)
	}
	return ch, nil
}
