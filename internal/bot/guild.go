package bot

import (
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/Terryjones1995/2kbot/internal/verify"
)

// guildService implements verify.GuildService over a Discord session
type guildService struct {
	session *discordgo.Session
}

func newGuildService(session *discordgo.Session) *guildService {
	return &guildService{session: session}
}

// member fetches a guild member, preferring gateway state
func (g *guildService) member(guildID, userID string) (*discordgo.Member, error) {
	if m, err := g.session.State.Member(guildID, userID); err == nil {
		return m, nil
	}
	m, err := g.session.GuildMember(guildID, userID)
	if err != nil {
		var restErr *discordgo.RESTError
		if errors.As(err, &restErr) && restErr.Message != nil && restErr.Message.Code == discordgo.ErrCodeUnknownMember {
			return nil, verify.ErrMemberNotFound
		}
		return nil, err
	}
	return m, nil
}

func (g *guildService) MemberHasRole(guildID, userID, roleID string) (bool, error) {
	m, err := g.member(guildID, userID)
	if err != nil {
		return false, err
	}
	for _, r := range m.Roles {
		if r == roleID {
			return true, nil
		}
	}
	return false, nil
}

func (g *guildService) BotCanManageRoles(guildID string) (bool, error) {
	perms, err := g.botPermissions(guildID)
	if err != nil {
		return false, err
	}
	return perms&(discordgo.PermissionManageRoles|discordgo.PermissionAdministrator) != 0, nil
}

func (g *guildService) BotRoleAbove(guildID, roleID string) (bool, error) {
	guild, err := g.guild(guildID)
	if err != nil {
		return false, err
	}

	target := findRole(guild.Roles, roleID)
	if target == nil {
		return false, fmt.Errorf("role %s not found in guild %s", roleID, guildID)
	}

	botMember, err := g.member(guildID, g.session.State.User.ID)
	if err != nil {
		return false, err
	}

	highest := -1
	for _, id := range botMember.Roles {
		if r := findRole(guild.Roles, id); r != nil && r.Position > highest {
			highest = r.Position
		}
	}
	return highest > target.Position, nil
}

func (g *guildService) AddRole(guildID, userID, roleID string) error {
	return g.session.GuildMemberRoleAdd(guildID, userID, roleID)
}

func (g *guildService) RemoveRole(guildID, userID, roleID string) error {
	return g.session.GuildMemberRoleRemove(guildID, userID, roleID)
}

func (g *guildService) guild(guildID string) (*discordgo.Guild, error) {
	if guild, err := g.session.State.Guild(guildID); err == nil && len(guild.Roles) > 0 {
		return guild, nil
	}
	return g.session.Guild(guildID)
}

func (g *guildService) botPermissions(guildID string) (int64, error) {
	guild, err := g.guild(guildID)
	if err != nil {
		return 0, err
	}
	botMember, err := g.member(guildID, g.session.State.User.ID)
	if err != nil {
		return 0, err
	}

	var perms int64
	for _, id := range botMember.Roles {
		if r := findRole(guild.Roles, id); r != nil {
			perms |= r.Permissions
		}
	}
	// The @everyone role carries baseline permissions
	if r := findRole(guild.Roles, guildID); r != nil {
		perms |= r.Permissions
	}
	return perms, nil
}

func findRole(roles []*discordgo.Role, roleID string) *discordgo.Role {
	for _, r := range roles {
		if r.ID == roleID {
			return r
		}
	}
	return nil
}
