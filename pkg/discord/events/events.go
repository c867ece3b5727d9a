// Package events keeps tracked lists in step with gateway events.
package events

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/small-frappuccino/teamlists/pkg/discord/perf"
	"github.com/small-frappuccino/teamlists/pkg/discord/platform"
	"github.com/small-frappuccino/teamlists/pkg/log"
	"github.com/small-frappuccino/teamlists/pkg/teamlist"
)

// StartupNotice is posted once per guild when announcements are enabled.
const StartupNotice = "🤖 **Bot is now online and ready!**\n*Use `%saddlist @RoleName` or `/addlist` to create member lists.*"

// announceChannels are preferred, in order, for the startup notice.
var announceChannels = []string{"general", "main", "chat", "bot-commands"}

// Renderer is the part of render.Renderer driven by events.
type Renderer interface {
	EnqueueGuild(ctx context.Context, guildID string, roleIDs ...string) int
	Forget(ctx context.Context, channelID, messageID string) (bool, error)
}

// Announcer finds a channel and posts the startup notice.
type Announcer interface {
	TextChannels(ctx context.Context, guildID string) ([]platform.Channel, error)
	SendText(ctx context.Context, channelID, content string) (string, error)
}

type Saver interface {
	Save(ctx context.Context) error
}

// handlerHost is where handlers are attached; *discordgo.Session satisfies it.
type handlerHost interface {
	AddHandler(handler interface{}) func()
}

// Options configures a Service.
type Options struct {
	Announce bool
	Prefix   string
}

// Service reacts to member, message, role and guild events.
type Service struct {
	registry  *teamlist.Registry
	renderer  Renderer
	announcer Announcer
	saver     Saver
	opts      Options

	mu        sync.Mutex
	ctx       context.Context
	removers  []func()
	announced map[string]struct{}
}

func NewService(registry *teamlist.Registry, renderer Renderer, announcer Announcer, saver Saver, opts Options) *Service {
	if opts.Prefix == "" {
		opts.Prefix = "!"
	}
	return &Service{
		registry:  registry,
		renderer:  renderer,
		announcer: announcer,
		saver:     saver,
		opts:      opts,
		ctx:       context.Background(),
		announced: make(map[string]struct{}),
	}
}

// Start attaches the handlers. ctx bounds the work they start.
func (s *Service) Start(ctx context.Context, host handlerHost) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.removers) > 0 {
		return fmt.Errorf("event service is already running")
	}
	s.ctx = ctx
	s.removers = append(s.removers,
		host.AddHandler(s.handleMemberUpdate),
		host.AddHandler(s.handleMessageDelete),
		host.AddHandler(s.handleMessageDeleteBulk),
		host.AddHandler(s.handleRoleDelete),
		host.AddHandler(s.handleGuildCreate),
	)
	log.DiscordLogger().Info("Event service started", "announce", s.opts.Announce)
	return nil
}

// Stop detaches the handlers.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, remove := range s.removers {
		remove()
	}
	s.removers = nil
}

func (s *Service) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

func (s *Service) handleMemberUpdate(_ *discordgo.Session, m *discordgo.GuildMemberUpdate) {
	if m == nil || m.Member == nil || m.User == nil || m.User.Bot {
		return
	}
	if len(s.registry.ListsInGuild(m.GuildID)) == 0 {
		return
	}
	defer perf.StartGatewayEvent("guild_member_update", "guild_id", m.GuildID)()
	roles := AffectedRoles(m.BeforeUpdate, m.Member)
	if roles != nil && len(roles) == 0 {
		return
	}
	n := s.renderer.EnqueueGuild(s.context(), m.GuildID, roles...)
	if n > 0 {
		log.DiscordLogger().Debug("Member update queued renders", "guild_id", m.GuildID, "user_id", m.User.ID, "lists", n)
	}
}

// AffectedRoles returns the roles whose lists may change after a member update.
// It returns nil, meaning every list of the guild, when the previous state is unknown.
// An empty non-nil slice means nothing visible changed.
func AffectedRoles(before, after *discordgo.Member) []string {
	if before == nil {
		return nil
	}
	rolesChanged := !sameRoles(before.Roles, after.Roles)
	nameChanged := platform.DisplayName(before) != platform.DisplayName(after)
	if !rolesChanged && !nameChanged {
		return []string{}
	}
	out := slices.Clone(after.Roles)
	if rolesChanged {
		out = append(out, before.Roles...)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func sameRoles(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	x, y := slices.Clone(a), slices.Clone(b)
	slices.Sort(x)
	slices.Sort(y)
	return slices.Equal(x, y)
}

func (s *Service) handleMessageDelete(_ *discordgo.Session, m *discordgo.MessageDelete) {
	if m == nil || m.Message == nil {
		return
	}
	s.forget(m.ChannelID, m.ID)
}

func (s *Service) handleMessageDeleteBulk(_ *discordgo.Session, m *discordgo.MessageDeleteBulk) {
	if m == nil {
		return
	}
	for _, id := range m.Messages {
		s.forget(m.ChannelID, id)
	}
}

func (s *Service) forget(channelID, messageID string) {
	if _, ok := s.registry.FindByMessage(channelID, messageID); !ok {
		return
	}
	defer perf.StartGatewayEvent("message_delete", "channel_id", channelID)()
	if _, err := s.renderer.Forget(s.context(), channelID, messageID); err != nil {
		log.DiscordLogger().Warn("Failed to forget deleted list message", "channel_id", channelID, "message_id", messageID, "err", err)
	}
}

func (s *Service) handleRoleDelete(_ *discordgo.Session, r *discordgo.GuildRoleDelete) {
	if r == nil {
		return
	}
	defer perf.StartGatewayEvent("guild_role_delete", "guild_id", r.GuildID)()
	if !s.registry.PruneRole(r.GuildID, r.RoleID) {
		return
	}
	ctx := s.context()
	if err := s.saver.Save(ctx); err != nil {
		log.DatabaseLogger().Warn("Failed to save after role deletion", "guild_id", r.GuildID, "role_id", r.RoleID, "err", err)
	}
	s.renderer.EnqueueGuild(ctx, r.GuildID)
	log.DiscordLogger().Info("Deleted role pruned from settings", "guild_id", r.GuildID, "role_id", r.RoleID)
}

func (s *Service) handleGuildCreate(_ *discordgo.Session, g *discordgo.GuildCreate) {
	if g == nil || g.Guild == nil || g.Unavailable || !s.opts.Announce {
		return
	}
	s.mu.Lock()
	_, done := s.announced[g.ID]
	s.announced[g.ID] = struct{}{}
	s.mu.Unlock()
	if done {
		return
	}
	s.Announce(s.context(), g.ID)
}

// Announce posts the startup notice in guildID's preferred channel. Failures are logged only.
func (s *Service) Announce(ctx context.Context, guildID string) {
	lg := log.DiscordLogger().WithField("guild_id", guildID)
	channels, err := s.announcer.TextChannels(ctx, guildID)
	if err != nil {
		lg.Warn("Failed to list channels for startup notice", "err", err)
		return
	}
	ch, err := platform.PreferredChannel(channels, announceChannels...)
	if err != nil {
		lg.Info("No channel for startup notice")
		return
	}
	if _, err := s.announcer.SendText(ctx, ch.ID, fmt.Sprintf(StartupNotice, s.opts.Prefix)); err != nil {
		if platform.IsForbidden(err) {
			lg.Debug("Startup notice forbidden", "channel_id", ch.ID)
			return
		}
		lg.Warn("Failed to post startup notice", "channel_id", ch.ID, "err", err)
	}
}
