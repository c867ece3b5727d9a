package events

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/small-frappuccino/teamlists/pkg/discord/platform"
	"github.com/small-frappuccino/teamlists/pkg/teamlist"
)

type enqueueCall struct {
	guildID string
	roleIDs []string
}

type fakeRenderer struct {
	mu        sync.Mutex
	enqueued  []enqueueCall
	forgotten []string
	forgetErr error
}

func (f *fakeRenderer) EnqueueGuild(_ context.Context, guildID string, roleIDs ...string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, enqueueCall{guildID: guildID, roleIDs: roleIDs})
	return 1
}

func (f *fakeRenderer) Forget(_ context.Context, channelID, messageID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forgotten = append(f.forgotten, channelID+"/"+messageID)
	return f.forgetErr == nil, f.forgetErr
}

type fakeAnnouncer struct {
	channels []platform.Channel
	listErr  error
	sendErr  error
	texts    map[string]string
}

func (f *fakeAnnouncer) TextChannels(context.Context, string) ([]platform.Channel, error) {
	return f.channels, f.listErr
}

func (f *fakeAnnouncer) SendText(_ context.Context, channelID, content string) (string, error) {
	if f.sendErr != nil {
		return "", f.sendErr
	}
	if f.texts == nil {
		f.texts = map[string]string{}
	}
	f.texts[channelID] = content
	return "m-" + channelID, nil
}

type countingSaver struct{ n int }

func (c *countingSaver) Save(context.Context) error {
	c.n++
	return nil
}

type fakeHost struct {
	handlers []interface{}
	removed  int
}

func (h *fakeHost) AddHandler(fn interface{}) func() {
	h.handlers = append(h.handlers, fn)
	return func() { h.removed++ }
}

type fixture struct {
	reg      *teamlist.Registry
	renderer *fakeRenderer
	ann      *fakeAnnouncer
	saver    *countingSaver
	svc      *Service
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		reg:      teamlist.NewRegistry(),
		renderer: &fakeRenderer{},
		ann:      &fakeAnnouncer{},
		saver:    &countingSaver{},
	}
	_, err := f.reg.Create("g1", "c1", "team")
	require.NoError(t, err)
	f.svc = NewService(f.reg, f.renderer, f.ann, f.saver, opts)
	return f
}

func member(nick string, roles ...string) *discordgo.Member {
	return &discordgo.Member{GuildID: "g1", Nick: nick, Roles: roles, User: &discordgo.User{ID: "u1", Username: "user"}}
}

func TestAffectedRoles(t *testing.T) {
	tests := []struct {
		name   string
		before *discordgo.Member
		after  *discordgo.Member
		want   []string
	}{
		{name: "unknown previous state", before: nil, after: member("", "a"), want: nil},
		{name: "nothing changed", before: member("x", "a", "b"), after: member("x", "b", "a"), want: []string{}},
		{name: "role added", before: member("", "a"), after: member("", "a", "b"), want: []string{"a", "b"}},
		{name: "role removed", before: member("", "a", "b"), after: member("", "b"), want: []string{"a", "b"}},
		{name: "nickname changed", before: member("old", "a"), after: member("new", "a"), want: []string{"a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AffectedRoles(tt.before, tt.after))
		})
	}
}

func TestMemberUpdateEnqueuesAffectedLists(t *testing.T) {
	f := newFixture(t, Options{})

	f.svc.handleMemberUpdate(nil, &discordgo.GuildMemberUpdate{
		Member:       member("", "team"),
		BeforeUpdate: member(""),
	})
	f.svc.handleMemberUpdate(nil, &discordgo.GuildMemberUpdate{
		Member:       member("same", "team"),
		BeforeUpdate: member("same", "team"),
	})
	f.svc.handleMemberUpdate(nil, &discordgo.GuildMemberUpdate{Member: member("", "team")})

	require.Len(t, f.renderer.enqueued, 2)
	assert.Equal(t, []string{"team"}, f.renderer.enqueued[0].roleIDs)
	assert.Empty(t, f.renderer.enqueued[1].roleIDs)
}

func TestMemberUpdateIgnoresUntrackedGuildsAndBots(t *testing.T) {
	f := newFixture(t, Options{})

	other := member("", "team")
	other.GuildID = "g2"
	f.svc.handleMemberUpdate(nil, &discordgo.GuildMemberUpdate{Member: other})

	bot := member("", "team")
	bot.User.Bot = true
	f.svc.handleMemberUpdate(nil, &discordgo.GuildMemberUpdate{Member: bot})

	assert.Empty(t, f.renderer.enqueued)
}

func TestMessageDeleteForgetsTrackedMessage(t *testing.T) {
	f := newFixture(t, Options{})
	require.NoError(t, f.reg.SetMessageID(teamlist.ListKey{ChannelID: "c1", RoleID: "team"}, "m1"))

	f.svc.handleMessageDelete(nil, &discordgo.MessageDelete{Message: &discordgo.Message{ID: "m1", ChannelID: "c1"}})
	f.svc.handleMessageDelete(nil, &discordgo.MessageDelete{Message: &discordgo.Message{ID: "other", ChannelID: "c1"}})
	f.svc.handleMessageDeleteBulk(nil, &discordgo.MessageDeleteBulk{ChannelID: "c1", Messages: []string{"x", "m1"}})

	assert.Equal(t, []string{"c1/m1", "c1/m1"}, f.renderer.forgotten)
}

func TestRoleDeletePrunesAndSaves(t *testing.T) {
	f := newFixture(t, Options{})
	require.NoError(t, f.reg.SetRankPriority("g1", "cap", "Captain", 1))

	f.svc.handleRoleDelete(nil, &discordgo.GuildRoleDelete{GuildID: "g1", RoleID: "cap"})
	assert.Equal(t, 1, f.saver.n)
	require.Len(t, f.renderer.enqueued, 1)
	assert.Empty(t, f.reg.RankRoles("g1"))

	f.svc.handleRoleDelete(nil, &discordgo.GuildRoleDelete{GuildID: "g1", RoleID: "unrelated"})
	assert.Equal(t, 1, f.saver.n)
	assert.Len(t, f.renderer.enqueued, 1)
}

func TestGuildCreateAnnouncesOnce(t *testing.T) {
	f := newFixture(t, Options{Announce: true})
	f.ann.channels = []platform.Channel{{ID: "c0", Name: "rules"}, {ID: "c9", Name: "General"}}

	g := &discordgo.GuildCreate{Guild: &discordgo.Guild{ID: "g1"}}
	f.svc.handleGuildCreate(nil, g)
	f.svc.handleGuildCreate(nil, g)

	require.Len(t, f.ann.texts, 1)
	assert.True(t, strings.HasPrefix(f.ann.texts["c9"], "🤖 **Bot is now online and ready!**"))
	assert.Contains(t, f.ann.texts["c9"], "`!addlist @RoleName`")
}

func TestGuildCreateWithoutAnnounce(t *testing.T) {
	f := newFixture(t, Options{})
	f.ann.channels = []platform.Channel{{ID: "c9", Name: "general"}}

	f.svc.handleGuildCreate(nil, &discordgo.GuildCreate{Guild: &discordgo.Guild{ID: "g1"}})
	assert.Empty(t, f.ann.texts)
}

func TestAnnounceSwallowsFailures(t *testing.T) {
	f := newFixture(t, Options{Announce: true})

	f.svc.Announce(context.Background(), "g1")

	f.ann.listErr = errors.New("boom")
	f.svc.Announce(context.Background(), "g1")

	f.ann.listErr = nil
	f.ann.channels = []platform.Channel{{ID: "c9", Name: "general"}}
	f.ann.sendErr = &platform.Error{Operation: "send message", StatusCode: 403, Class: platform.ClassForbidden}
	f.svc.Announce(context.Background(), "g1")

	assert.Empty(t, f.ann.texts)
}

func TestStartStop(t *testing.T) {
	f := newFixture(t, Options{})
	host := &fakeHost{}

	require.NoError(t, f.svc.Start(context.Background(), host))
	assert.Len(t, host.handlers, 5)
	assert.Error(t, f.svc.Start(context.Background(), host))

	f.svc.Stop()
	assert.Equal(t, 5, host.removed)
	require.NoError(t, f.svc.Start(context.Background(), host))
	f.svc.Stop()
}
