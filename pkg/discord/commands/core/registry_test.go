package core

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/small-frappuccino/teamlists/pkg/metrics"
	"github.com/small-frappuccino/teamlists/pkg/teamlist"
)

type testCommand struct {
	name                string
	options             []*discordgo.ApplicationCommandOption
	example             string
	requiresGuild       bool
	requiresPermissions bool
	handler             func(*Context) error
}

func (tc testCommand) Name() string        { return tc.name }
func (tc testCommand) Description() string { return tc.name }
func (tc testCommand) Options() []*discordgo.ApplicationCommandOption {
	return tc.options
}
func (tc testCommand) Example() string { return tc.example }
func (tc testCommand) Handle(ctx *Context) error {
	if tc.handler != nil {
		return tc.handler(ctx)
	}
	return nil
}
func (tc testCommand) RequiresGuild() bool       { return tc.requiresGuild }
func (tc testCommand) RequiresPermissions() bool { return tc.requiresPermissions }

type recordedRequest struct {
	method  string
	path    string
	content string
	flags   discordgo.MessageFlags
	hasRef  bool
	kind    discordgo.InteractionResponseType
}

type requestRecorder struct {
	mu       sync.Mutex
	requests []recordedRequest
}

func (r *requestRecorder) add(req recordedRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
}

func (r *requestRecorder) all() []recordedRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]recordedRequest, len(r.requests))
	copy(out, r.requests)
	return out
}

// replies returns the interaction callbacks and channel messages, in order.
func (r *requestRecorder) replies() []recordedRequest {
	var out []recordedRequest
	for _, req := range r.all() {
		if req.method == http.MethodPost && (strings.HasSuffix(req.path, "/callback") || strings.HasSuffix(req.path, "/messages")) {
			out = append(out, req)
		}
	}
	return out
}

func newTestSession(t *testing.T) (*discordgo.Session, *requestRecorder) {
	t.Helper()
	rec := &requestRecorder{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := recordedRequest{method: r.Method, path: r.URL.Path}
		switch {
		case strings.HasSuffix(r.URL.Path, "/callback"):
			var resp discordgo.InteractionResponse
			_ = json.NewDecoder(r.Body).Decode(&resp)
			req.kind = resp.Type
			if resp.Data != nil {
				req.content = resp.Data.Content
				req.flags = resp.Data.Flags
			}
			rec.add(req)
			w.WriteHeader(http.StatusNoContent)
		case strings.HasSuffix(r.URL.Path, "/messages") && r.Method == http.MethodPost:
			var msg struct {
				Content   string          `json:"content"`
				Reference json.RawMessage `json:"message_reference"`
			}
			_ = json.NewDecoder(r.Body).Decode(&msg)
			req.content = msg.Content
			req.hasRef = len(msg.Reference) > 0 && string(msg.Reference) != "null"
			rec.add(req)
			_, _ = w.Write([]byte(`{"id":"reply","channel_id":"c1"}`))
		case strings.HasPrefix(r.URL.Path, "/webhooks/"):
			rec.add(req)
			_, _ = w.Write([]byte(`{"id":"followup","channel_id":"c1"}`))
		case strings.HasSuffix(r.URL.Path, "/users/@me/channels"):
			rec.add(req)
			_, _ = w.Write([]byte(`{"id":"dm1","type":1}`))
		default:
			rec.add(req)
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	t.Cleanup(server.Close)

	oldAPI := discordgo.EndpointAPI
	oldWebhooks := discordgo.EndpointWebhooks
	oldChannels := discordgo.EndpointChannels
	oldUsers := discordgo.EndpointUsers
	discordgo.EndpointAPI = server.URL + "/"
	discordgo.EndpointWebhooks = server.URL + "/webhooks/"
	discordgo.EndpointChannels = server.URL + "/channels/"
	discordgo.EndpointUsers = server.URL + "/users/"
	t.Cleanup(func() {
		discordgo.EndpointAPI = oldAPI
		discordgo.EndpointWebhooks = oldWebhooks
		discordgo.EndpointChannels = oldChannels
		discordgo.EndpointUsers = oldUsers
	})

	session, err := discordgo.New("Bot test-token")
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	return session, rec
}

func buildInteraction(command, guildID, userID string, perms int64, options ...*discordgo.ApplicationCommandInteractionDataOption) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			ID:        "interaction-" + command,
			AppID:     "app",
			Token:     "token",
			Type:      discordgo.InteractionApplicationCommand,
			GuildID:   guildID,
			ChannelID: "c1",
			Member:    &discordgo.Member{User: &discordgo.User{ID: userID}, Permissions: perms},
			Data: discordgo.ApplicationCommandInteractionData{
				ID:      "cmd-" + command,
				Name:    command,
				Options: options,
			},
		},
	}
}

func buildMessage(content string) *discordgo.MessageCreate {
	return &discordgo.MessageCreate{Message: &discordgo.Message{
		ID:        "m1",
		ChannelID: "c1",
		GuildID:   "guild",
		Content:   content,
		Author:    &discordgo.User{ID: "user"},
	}}
}

func TestCommandRegistryKeepsOrder(t *testing.T) {
	registry := NewCommandRegistry()
	registry.Register(testCommand{name: "b"})
	registry.Register(testCommand{name: "a"})
	registry.Register(testCommand{name: "b", requiresGuild: true})

	cmds := registry.Commands()
	if len(cmds) != 2 || cmds[0].Name() != "b" || cmds[1].Name() != "a" {
		t.Fatalf("unexpected order: %v", cmds)
	}
	if got, ok := registry.GetCommand("b"); !ok || !got.RequiresGuild() {
		t.Fatalf("expected duplicate registration to overwrite, got ok=%v value=%v", ok, got)
	}
}

func TestHandleSlashCommandUnknownCommand(t *testing.T) {
	session, rec := newTestSession(t)
	router := NewCommandRouter(session, RouterOptions{})

	router.HandleInteraction(session, buildInteraction("missing", "guild", "user", 0))

	replies := rec.replies()
	if len(replies) != 1 {
		t.Fatalf("expected 1 response, got %d", len(replies))
	}
	if !strings.Contains(replies[0].content, "Command not found") {
		t.Fatalf("unexpected content: %q", replies[0].content)
	}
	if replies[0].flags&discordgo.MessageFlagsEphemeral == 0 {
		t.Fatalf("expected ephemeral flag to be set")
	}
}

func TestHandleSlashCommandRequiresGuild(t *testing.T) {
	session, rec := newTestSession(t)
	router := NewCommandRouter(session, RouterOptions{})
	router.RegisterCommand(testCommand{name: "guild", requiresGuild: true, handler: func(*Context) error {
		t.Fatalf("handler should not execute when missing guild")
		return nil
	}})

	router.HandleInteraction(session, buildInteraction("guild", "", "user", 0))

	replies := rec.replies()
	if len(replies) != 1 || !strings.Contains(replies[0].content, "only be used in a server") {
		t.Fatalf("unexpected replies: %+v", replies)
	}
}

func TestHandleSlashCommandPermissions(t *testing.T) {
	tests := []struct {
		name    string
		perms   int64
		allowed bool
	}{
		{name: "none", perms: 0, allowed: false},
		{name: "send only", perms: discordgo.PermissionSendMessages, allowed: false},
		{name: "manage roles", perms: discordgo.PermissionManageRoles, allowed: true},
		{name: "administrator", perms: discordgo.PermissionAdministrator, allowed: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session, rec := newTestSession(t)
			router := NewCommandRouter(session, RouterOptions{})
			ran := false
			router.RegisterCommand(testCommand{name: "secure", requiresGuild: true, requiresPermissions: true, handler: func(ctx *Context) error {
				ran = true
				return ctx.Reply("done")
			}})

			router.HandleInteraction(session, buildInteraction("secure", "guild", "user", tt.perms))

			if ran != tt.allowed {
				t.Fatalf("handler ran=%v, want %v", ran, tt.allowed)
			}
			replies := rec.replies()
			if len(replies) != 1 {
				t.Fatalf("expected 1 response, got %d", len(replies))
			}
			if !tt.allowed && !strings.Contains(replies[0].content, "permission") {
				t.Fatalf("unexpected content: %q", replies[0].content)
			}
		})
	}
}

func TestHandleSlashCommandCommandErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		private    bool
		err        error
		expectFlag bool
		contains   string
	}{
		{name: "ephemeral", err: NewCommandError("boom", true), expectFlag: true, contains: "boom"},
		{name: "public", err: NewCommandError("boom", false), expectFlag: false, contains: "boom"},
		{name: "private errors forced", private: true, err: NewCommandError("boom", false), expectFlag: true, contains: "boom"},
		{name: "not found", err: NotFound("List for **X** not found in this channel."), contains: "not found in this channel"},
		{name: "domain argument", err: &teamlist.ArgumentError{Field: "priority", Reason: "priority must be between 1 and 100"}, contains: "Usage: `!cmd <team_role>`"},
		{name: "domain already exists", err: teamlist.ErrAlreadyExists, contains: "Already exists"},
		{name: "unexpected", err: errors.New("socket closed"), contains: "ref `"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session, rec := newTestSession(t)
			router := NewCommandRouter(session, RouterOptions{PrivateErrors: tt.private})
			router.RegisterCommand(testCommand{
				name:    "cmd",
				options: []*discordgo.ApplicationCommandOption{{Type: discordgo.ApplicationCommandOptionRole, Name: "team_role", Required: true}},
				handler: func(*Context) error { return tt.err },
			})

			router.HandleInteraction(session, buildInteraction("cmd", "guild", "user", 0))

			replies := rec.replies()
			if len(replies) != 1 {
				t.Fatalf("expected 1 response, got %d", len(replies))
			}
			gotFlag := replies[0].flags&discordgo.MessageFlagsEphemeral != 0
			if gotFlag != tt.expectFlag {
				t.Fatalf("ephemeral flag mismatch: got %v want %v", gotFlag, tt.expectFlag)
			}
			if !strings.Contains(replies[0].content, tt.contains) {
				t.Fatalf("expected %q in %q", tt.contains, replies[0].content)
			}
		})
	}
}

func TestInvalidArgumentIncludesUsageAndExample(t *testing.T) {
	session, rec := newTestSession(t)
	router := NewCommandRouter(session, RouterOptions{})
	router.RegisterCommand(testCommand{
		name:    "addrank",
		example: "addrank @Captain 2",
		options: []*discordgo.ApplicationCommandOption{
			{Type: discordgo.ApplicationCommandOptionRole, Name: "role", Required: true},
			{Type: discordgo.ApplicationCommandOptionInteger, Name: "priority", Required: true},
		},
		handler: func(*Context) error { return InvalidArgument("Priority must be between 1 and 100.") },
	})

	router.HandleInteraction(session, buildInteraction("addrank", "guild", "user", 0))

	content := rec.replies()[0].content
	for _, want := range []string{"Priority must be between 1 and 100.", "Usage: `!addrank <role> <priority>`", "Example: `!addrank @Captain 2`"} {
		if !strings.Contains(content, want) {
			t.Fatalf("expected %q in %q", want, content)
		}
	}
}

func TestHandlerPanicIsRecovered(t *testing.T) {
	session, rec := newTestSession(t)
	router := NewCommandRouter(session, RouterOptions{})
	router.RegisterCommand(testCommand{name: "explode", handler: func(*Context) error { panic("kaboom") }})

	before := testutil.ToFloat64(metrics.CommandCount.WithLabelValues("explode", "slash", metrics.ResultError))
	router.HandleInteraction(session, buildInteraction("explode", "guild", "user", 0))

	if got := testutil.ToFloat64(metrics.CommandCount.WithLabelValues("explode", "slash", metrics.ResultError)); got != before+1 {
		t.Fatalf("expected error counter to increase, got %v (before %v)", got, before)
	}
	if replies := rec.replies(); len(replies) != 1 || !strings.Contains(replies[0].content, "An error occurred") {
		t.Fatalf("unexpected replies: %+v", replies)
	}
}

func TestSlashRepliesAfterFirstAreFollowUps(t *testing.T) {
	session, rec := newTestSession(t)
	router := NewCommandRouter(session, RouterOptions{})
	router.RegisterCommand(testCommand{name: "two", handler: func(ctx *Context) error {
		if err := ctx.Reply("one"); err != nil {
			return err
		}
		return ctx.Reply("two")
	}})

	router.HandleInteraction(session, buildInteraction("two", "guild", "user", 0))

	var callbacks, followups int
	for _, req := range rec.all() {
		switch {
		case strings.HasSuffix(req.path, "/callback"):
			callbacks++
		case strings.HasPrefix(req.path, "/webhooks/app/token"):
			followups++
		}
	}
	if callbacks != 1 || followups != 1 {
		t.Fatalf("expected one callback and one follow-up, got %d and %d", callbacks, followups)
	}
}

func TestDeferredSlashReplyEditsOriginal(t *testing.T) {
	session, rec := newTestSession(t)
	router := NewCommandRouter(session, RouterOptions{})
	router.RegisterCommand(testCommand{name: "slow", handler: func(ctx *Context) error {
		if err := ctx.Defer(true); err != nil {
			return err
		}
		if err := ctx.Reply("done"); err != nil {
			return err
		}
		return ctx.Reply("extra")
	}})

	router.HandleInteraction(session, buildInteraction("slow", "guild", "user", 0))

	var reqs []recordedRequest
	for _, req := range rec.all() {
		if strings.HasSuffix(req.path, "/callback") || strings.HasPrefix(req.path, "/webhooks/") {
			reqs = append(reqs, req)
		}
	}
	if len(reqs) != 3 {
		t.Fatalf("expected callback, edit and follow-up, got %+v", reqs)
	}
	if reqs[0].kind != discordgo.InteractionResponseDeferredChannelMessageWithSource {
		t.Fatalf("first request should defer, got type %d", reqs[0].kind)
	}
	if reqs[0].flags&discordgo.MessageFlagsEphemeral == 0 {
		t.Fatalf("deferred response should be ephemeral")
	}
	if reqs[1].method != http.MethodPatch || !strings.HasSuffix(reqs[1].path, "/messages/@original") {
		t.Fatalf("first reply should edit the deferred response, got %s %s", reqs[1].method, reqs[1].path)
	}
	if reqs[2].method != http.MethodPost || reqs[2].path != "/webhooks/app/token" {
		t.Fatalf("later replies should be follow-ups, got %s %s", reqs[2].method, reqs[2].path)
	}
}

func TestHandleMessageDispatchesPrefixForm(t *testing.T) {
	session, rec := newTestSession(t)
	router := NewCommandRouter(session, RouterOptions{Prefix: "!"})

	var got Args
	var form Form
	router.RegisterCommand(testCommand{
		name: "echo",
		options: []*discordgo.ApplicationCommandOption{
			{Type: discordgo.ApplicationCommandOptionRole, Name: "role", Required: true},
			{Type: discordgo.ApplicationCommandOptionString, Name: "text", Required: true},
		},
		handler: func(ctx *Context) error {
			got, form = ctx.Args, ctx.Form
			return ctx.Reply(ctx.Args.String("text"))
		},
	})

	router.HandleMessage(session, buildMessage("!echo <@&123456789012345678> hello   world"))

	if form != FormPrefix {
		t.Fatalf("expected prefix form, got %q", form)
	}
	if id, _ := got.Role("role"); id != "123456789012345678" {
		t.Fatalf("unexpected role id %q", id)
	}
	replies := rec.replies()
	if len(replies) != 1 || replies[0].content != "hello world" || !replies[0].hasRef {
		t.Fatalf("unexpected replies: %+v", replies)
	}
	if replies[0].path != "/channels/c1/messages" {
		t.Fatalf("expected reply in origin channel, got %s", replies[0].path)
	}
}

func TestHandleMessageIgnoresForeignMessages(t *testing.T) {
	session, rec := newTestSession(t)
	router := NewCommandRouter(session, RouterOptions{Prefix: "!"})
	router.RegisterCommand(testCommand{name: "echo", handler: func(*Context) error {
		t.Fatalf("handler should not run")
		return nil
	}})

	router.HandleMessage(session, buildMessage("echo without prefix"))
	router.HandleMessage(session, buildMessage("!unknown thing"))
	bot := buildMessage("!echo")
	bot.Author.Bot = true
	router.HandleMessage(session, bot)

	if n := len(rec.all()); n != 0 {
		t.Fatalf("expected no requests, got %d", n)
	}
}

func TestPrefixErrorsGoToDirectMessages(t *testing.T) {
	session, rec := newTestSession(t)
	router := NewCommandRouter(session, RouterOptions{Prefix: "!", PrivateErrors: true, DeleteInvocations: true})
	router.RegisterCommand(testCommand{
		name:    "needsrole",
		options: []*discordgo.ApplicationCommandOption{{Type: discordgo.ApplicationCommandOptionRole, Name: "team_role", Required: true}},
	})

	router.HandleMessage(session, buildMessage("!needsrole"))

	var sawDM, sawDMMessage, sawDelete bool
	for _, req := range rec.all() {
		switch {
		case req.path == "/users/@me/channels":
			sawDM = true
		case req.path == "/channels/dm1/messages":
			sawDMMessage = strings.Contains(req.content, "Missing argument `team_role`")
		case req.method == http.MethodDelete && req.path == "/channels/c1/messages/m1":
			sawDelete = true
		}
	}
	if !sawDM || !sawDMMessage || !sawDelete {
		t.Fatalf("dm=%v dmMessage=%v delete=%v requests=%+v", sawDM, sawDMMessage, sawDelete, rec.all())
	}
}

type fakeCommandAPI struct {
	registered []*discordgo.ApplicationCommand
	created    []string
	edited     []string
	deleted    []string
}

func (f *fakeCommandAPI) ApplicationCommands(string, string, ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error) {
	return f.registered, nil
}

func (f *fakeCommandAPI) ApplicationCommandCreate(_, _ string, cmd *discordgo.ApplicationCommand, _ ...discordgo.RequestOption) (*discordgo.ApplicationCommand, error) {
	f.created = append(f.created, cmd.Name)
	return cmd, nil
}

func (f *fakeCommandAPI) ApplicationCommandEdit(_, _, _ string, cmd *discordgo.ApplicationCommand, _ ...discordgo.RequestOption) (*discordgo.ApplicationCommand, error) {
	f.edited = append(f.edited, cmd.Name)
	return cmd, nil
}

func (f *fakeCommandAPI) ApplicationCommandDelete(_, _, cmdID string, _ ...discordgo.RequestOption) error {
	f.deleted = append(f.deleted, cmdID)
	return nil
}

func TestSyncCommands(t *testing.T) {
	router := NewCommandRouter(nil, RouterOptions{})
	router.RegisterCommand(testCommand{name: "same"})
	router.RegisterCommand(testCommand{name: "changed"})
	router.RegisterCommand(testCommand{name: "fresh"})

	api := &fakeCommandAPI{registered: []*discordgo.ApplicationCommand{
		{ID: "1", Name: "same", Description: "same"},
		{ID: "2", Name: "changed", Description: "old text"},
		{ID: "3", Name: "orphan", Description: "orphan"},
	}}
	cm := &CommandManager{api: api, router: router, logger: NewCommandManager(nil, router).logger}

	if err := cm.SyncCommands(context.Background(), "app"); err != nil {
		t.Fatalf("sync returned error: %v", err)
	}
	if len(api.created) != 1 || api.created[0] != "fresh" {
		t.Fatalf("unexpected creates: %v", api.created)
	}
	if len(api.edited) != 1 || api.edited[0] != "changed" {
		t.Fatalf("unexpected edits: %v", api.edited)
	}
	if len(api.deleted) != 1 || api.deleted[0] != "3" {
		t.Fatalf("unexpected deletes: %v", api.deleted)
	}
}
