// Package platform adapts a discordgo session to the operations the roster renderer needs.
package platform

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/small-frappuccino/teamlists/pkg/roster"
)

// membersPageLimit is Discord's maximum page size for the list-members endpoint.
const membersPageLimit = 1000

// session is the subset of discordgo.Session the platform uses.
type session interface {
	StateGuild(guildID string) (*discordgo.Guild, bool)
	BotUserID() string
	GuildRoles(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Role, error)
	GuildMembers(guildID, after string, limit int, options ...discordgo.RequestOption) ([]*discordgo.Member, error)
	GuildChannels(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Channel, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditComplex(m *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
	UserChannelPermissions(userID, channelID string, options ...discordgo.RequestOption) (int64, error)
}

var newSession = func(s *discordgo.Session) session {
	return sessionAdapter{session: s}
}

type sessionAdapter struct {
	session *discordgo.Session
}

// StateGuild returns the cached guild only when its member list looks complete.
func (a sessionAdapter) StateGuild(guildID string) (*discordgo.Guild, bool) {
	if a.session == nil || a.session.State == nil {
		return nil, false
	}
	g, err := a.session.State.Guild(guildID)
	if err != nil || g == nil {
		return nil, false
	}
	return g, true
}

func (a sessionAdapter) BotUserID() string {
	if a.session == nil || a.session.State == nil || a.session.State.User == nil {
		return ""
	}
	return a.session.State.User.ID
}

func (a sessionAdapter) GuildRoles(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Role, error) {
	return a.session.GuildRoles(guildID, options...)
}

func (a sessionAdapter) GuildMembers(guildID, after string, limit int, options ...discordgo.RequestOption) ([]*discordgo.Member, error) {
	return a.session.GuildMembers(guildID, after, limit, options...)
}

func (a sessionAdapter) GuildChannels(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Channel, error) {
	return a.session.GuildChannels(guildID, options...)
}

func (a sessionAdapter) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return a.session.ChannelMessageSendComplex(channelID, data, options...)
}

func (a sessionAdapter) ChannelMessageEditComplex(m *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return a.session.ChannelMessageEditComplex(m, options...)
}

func (a sessionAdapter) ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error {
	return a.session.ChannelMessageDelete(channelID, messageID, options...)
}

func (a sessionAdapter) UserChannelPermissions(userID, channelID string, options ...discordgo.RequestOption) (int64, error) {
	if a.session.State != nil {
		if perms, err := a.session.State.UserChannelPermissions(userID, channelID); err == nil {
			return perms, nil
		}
	}
	return a.session.UserChannelPermissions(userID, channelID, options...)
}

// Role is a guild role as the renderer sees it.
type Role struct {
	ID       string
	Name     string
	Position int
}

// Channel is a guild text channel.
type Channel struct {
	ID       string
	Name     string
	Position int
}

// Message is the content of a roster or notice message.
type Message struct {
	Title  string
	Body   string
	Color  int
	Footer string
}

func (m Message) embed() *discordgo.MessageEmbed {
	e := &discordgo.MessageEmbed{
		Title:       m.Title,
		Description: m.Body,
		Color:       m.Color,
	}
	if m.Footer != "" {
		e.Footer = &discordgo.MessageEmbedFooter{Text: m.Footer}
	}
	return e
}

// Discord implements the renderer's platform over a live session.
type Discord struct {
	s session
}

// New wraps a discordgo session.
func New(s *discordgo.Session) *Discord {
	return &Discord{s: newSession(s)}
}

func requestOptions(ctx context.Context) []discordgo.RequestOption {
	return []discordgo.RequestOption{discordgo.WithContext(ctx)}
}

// Roles lists the guild's roles, preferring the gateway state cache.
func (d *Discord) Roles(ctx context.Context, guildID string) ([]Role, error) {
	var raw []*discordgo.Role
	if g, ok := d.s.StateGuild(guildID); ok && len(g.Roles) > 0 {
		raw = g.Roles
	} else {
		roles, err := d.s.GuildRoles(guildID, requestOptions(ctx)...)
		if err != nil {
			return nil, wrapError("list roles", err)
		}
		raw = roles
	}
	out := make([]Role, 0, len(raw))
	for _, r := range raw {
		if r == nil {
			continue
		}
		out = append(out, Role{ID: r.ID, Name: r.Name, Position: r.Position})
	}
	return out, nil
}

// Members lists every guild member. The state cache is used when it holds the whole guild;
// otherwise members are paged from the REST API.
func (d *Discord) Members(ctx context.Context, guildID string) ([]roster.Member, error) {
	if g, ok := d.s.StateGuild(guildID); ok && g.MemberCount > 0 && len(g.Members) >= g.MemberCount {
		return convertMembers(g.Members), nil
	}

	var all []*discordgo.Member
	after := ""
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := d.s.GuildMembers(guildID, after, membersPageLimit, requestOptions(ctx)...)
		if err != nil {
			return nil, wrapError("list members", err)
		}
		if len(page) == 0 {
			break
		}
		all = append(all, page...)
		last := page[len(page)-1]
		if last == nil || last.User == nil || len(page) < membersPageLimit {
			break
		}
		after = last.User.ID
	}
	return convertMembers(all), nil
}

func convertMembers(in []*discordgo.Member) []roster.Member {
	out := make([]roster.Member, 0, len(in))
	for _, m := range in {
		if m == nil || m.User == nil {
			continue
		}
		out = append(out, roster.Member{
			ID:          m.User.ID,
			DisplayName: DisplayName(m),
			Bot:         m.User.Bot,
			RoleIDs:     append([]string(nil), m.Roles...),
		})
	}
	return out
}

// DisplayName resolves nickname, then global name, then username.
func DisplayName(m *discordgo.Member) string {
	if m == nil {
		return ""
	}
	if m.Nick != "" {
		return m.Nick
	}
	if m.User == nil {
		return ""
	}
	if m.User.GlobalName != "" {
		return m.User.GlobalName
	}
	return m.User.Username
}

// SendEmbed posts msg as an embed and returns the new message id.
func (d *Discord) SendEmbed(ctx context.Context, channelID string, msg Message) (string, error) {
	sent, err := d.s.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{msg.embed()},
	}, requestOptions(ctx)...)
	if err != nil {
		return "", wrapError("send message", err)
	}
	return sent.ID, nil
}

// EditEmbed replaces the embed of an existing message.
func (d *Discord) EditEmbed(ctx context.Context, channelID, messageID string, msg Message) error {
	edit := discordgo.NewMessageEdit(channelID, messageID).SetEmbed(msg.embed())
	if _, err := d.s.ChannelMessageEditComplex(edit, requestOptions(ctx)...); err != nil {
		return wrapError("edit message", err)
	}
	return nil
}

// SendText posts a plain message.
func (d *Discord) SendText(ctx context.Context, channelID, content string) (string, error) {
	sent, err := d.s.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content:         content,
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}, requestOptions(ctx)...)
	if err != nil {
		return "", wrapError("send message", err)
	}
	return sent.ID, nil
}

// DeleteMessage removes a message. A message that is already gone is not an error.
func (d *Discord) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	err := d.s.ChannelMessageDelete(channelID, messageID, requestOptions(ctx)...)
	if err == nil {
		return nil
	}
	wrapped := wrapError("delete message", err)
	if IsNotFound(wrapped) {
		return nil
	}
	return wrapped
}

// TextChannels lists the guild text channels the bot can post in, by position.
func (d *Discord) TextChannels(ctx context.Context, guildID string) ([]Channel, error) {
	var raw []*discordgo.Channel
	if g, ok := d.s.StateGuild(guildID); ok && len(g.Channels) > 0 {
		raw = g.Channels
	} else {
		chans, err := d.s.GuildChannels(guildID, requestOptions(ctx)...)
		if err != nil {
			return nil, wrapError("list channels", err)
		}
		raw = chans
	}

	botID := d.s.BotUserID()
	var out []Channel
	for _, c := range raw {
		if c == nil || c.Type != discordgo.ChannelTypeGuildText {
			continue
		}
		if botID != "" {
			perms, err := d.s.UserChannelPermissions(botID, c.ID, requestOptions(ctx)...)
			if err != nil || perms&discordgo.PermissionSendMessages == 0 || perms&discordgo.PermissionViewChannel == 0 {
				continue
			}
		}
		out = append(out, Channel{ID: c.ID, Name: c.Name, Position: c.Position})
	}
	slices.SortStableFunc(out, func(a, b Channel) int {
		return cmp.Or(cmp.Compare(a.Position, b.Position), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

// PreferredChannel picks the first channel named like a general chat, else the first one.
func PreferredChannel(channels []Channel, names ...string) (Channel, error) {
	if len(channels) == 0 {
		return Channel{}, fmt.Errorf("no writable text channel")
	}
	for _, want := range names {
		for _, c := range channels {
			if strings.EqualFold(c.Name, want) {
				return c, nil
			}
		}
	}
	return channels[0], nil
}
