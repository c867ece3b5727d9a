package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"
)

func TestClassify(t *testing.T) {
	rest := func(status, code int) error {
		return &discordgo.RESTError{
			Response: &http.Response{StatusCode: status},
			Message:  &discordgo.APIErrorMessage{Code: code, Message: "x"},
		}
	}
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"unknown message code", rest(http.StatusNotFound, discordgo.ErrCodeUnknownMessage), ClassNotFound},
		{"bare 404", rest(http.StatusNotFound, 0), ClassNotFound},
		{"missing permissions", rest(http.StatusForbidden, discordgo.ErrCodeMissingPermissions), ClassForbidden},
		{"missing access", rest(http.StatusForbidden, discordgo.ErrCodeMissingAccess), ClassForbidden},
		{"unauthorized", rest(http.StatusUnauthorized, 0), ClassForbidden},
		{"rate limited", rest(http.StatusTooManyRequests, 0), ClassRateLimited},
		{"server error", rest(http.StatusBadGateway, 0), ClassUnavailable},
		{"plain error", errors.New("boom"), ClassUnknown},
		{"rate limit text", errors.New("Rate limit exceeded"), ClassRateLimited},
		{"wrapped", fmt.Errorf("render: %w", wrapError("edit message", rest(http.StatusNotFound, discordgo.ErrCodeUnknownMessage))), ClassNotFound},
		{"nil", nil, ClassUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Fatalf("Classify() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestWrapErrorKeepsCause(t *testing.T) {
	cause := &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusServiceUnavailable}}
	err := wrapError("list members", cause)

	var pe *Error
	if !errors.As(err, &pe) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if !pe.Temporary || pe.StatusCode != http.StatusServiceUnavailable || pe.Operation != "list members" {
		t.Fatalf("unexpected classification: %+v", pe)
	}
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		t.Fatalf("expected cause to unwrap to RESTError")
	}
}

type memberCall struct {
	after string
	limit int
}

// pagingSession serves member pages and records the paging cursor.
type pagingSession struct {
	session
	mu    sync.Mutex
	calls []memberCall
	pages [][]*discordgo.Member
	guild *discordgo.Guild
}

func (s *pagingSession) StateGuild(string) (*discordgo.Guild, bool) {
	if s.guild == nil {
		return nil, false
	}
	return s.guild, true
}

func (s *pagingSession) GuildMembers(guildID, after string, limit int, options ...discordgo.RequestOption) ([]*discordgo.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := len(s.calls)
	s.calls = append(s.calls, memberCall{after: after, limit: limit})
	if idx >= len(s.pages) {
		return nil, nil
	}
	return s.pages[idx], nil
}

func TestMembersPagesWithAfterID(t *testing.T) {
	first := make([]*discordgo.Member, membersPageLimit)
	for i := range first {
		first[i] = &discordgo.Member{User: &discordgo.User{ID: fmt.Sprintf("u%04d", i+1), Username: "user"}, Roles: []string{"alpha"}}
	}
	second := []*discordgo.Member{
		{User: &discordgo.User{ID: "u1001", Username: "last", Bot: true}},
	}
	s := &pagingSession{pages: [][]*discordgo.Member{first, second}}
	d := &Discord{s: s}

	members, err := d.Members(context.Background(), "g1")
	if err != nil {
		t.Fatalf("Members error: %v", err)
	}
	if len(members) != 1001 {
		t.Fatalf("expected 1001 members, got %d", len(members))
	}
	if !members[1000].Bot {
		t.Fatalf("expected bot flag to carry over")
	}
	if len(s.calls) != 2 || s.calls[0].after != "" || s.calls[1].after != "u1000" {
		t.Fatalf("unexpected paging calls: %+v", s.calls)
	}
}

func TestMembersUsesCompleteState(t *testing.T) {
	s := &pagingSession{guild: &discordgo.Guild{
		ID:          "g1",
		MemberCount: 1,
		Members: []*discordgo.Member{
			{Nick: "Nick", User: &discordgo.User{ID: "u1", Username: "user", GlobalName: "Global"}},
		},
	}}
	d := &Discord{s: s}

	members, err := d.Members(context.Background(), "g1")
	if err != nil {
		t.Fatalf("Members error: %v", err)
	}
	if len(s.calls) != 0 {
		t.Fatalf("expected no REST calls, got %d", len(s.calls))
	}
	if len(members) != 1 || members[0].DisplayName != "Nick" {
		t.Fatalf("unexpected members: %+v", members)
	}
}

func TestDisplayName(t *testing.T) {
	tests := []struct {
		m    *discordgo.Member
		want string
	}{
		{&discordgo.Member{Nick: "n", User: &discordgo.User{GlobalName: "g", Username: "u"}}, "n"},
		{&discordgo.Member{User: &discordgo.User{GlobalName: "g", Username: "u"}}, "g"},
		{&discordgo.Member{User: &discordgo.User{Username: "u"}}, "u"},
		{nil, ""},
	}
	for _, tt := range tests {
		if got := DisplayName(tt.m); got != tt.want {
			t.Fatalf("DisplayName() = %q, want %q", got, tt.want)
		}
	}
}

func TestPreferredChannel(t *testing.T) {
	chans := []Channel{{ID: "1", Name: "announcements"}, {ID: "2", Name: "Chat"}, {ID: "3", Name: "general"}}
	got, err := PreferredChannel(chans, "general", "main", "chat")
	if err != nil || got.ID != "3" {
		t.Fatalf("expected general, got %+v err=%v", got, err)
	}
	got, _ = PreferredChannel(chans, "bot-commands")
	if got.ID != "1" {
		t.Fatalf("expected first channel fallback, got %+v", got)
	}
	if _, err := PreferredChannel(nil); err == nil {
		t.Fatalf("expected error for no channels")
	}
}

// newTestDiscord points discordgo at server for the duration of the test.
func newTestDiscord(t *testing.T, handler http.HandlerFunc) *Discord {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	oldAPI := discordgo.EndpointAPI
	oldChannels := discordgo.EndpointChannels
	oldGuilds := discordgo.EndpointGuilds
	discordgo.EndpointAPI = server.URL + "/"
	discordgo.EndpointChannels = server.URL + "/channels/"
	discordgo.EndpointGuilds = server.URL + "/guilds/"
	t.Cleanup(func() {
		discordgo.EndpointAPI = oldAPI
		discordgo.EndpointChannels = oldChannels
		discordgo.EndpointGuilds = oldGuilds
	})

	s, err := discordgo.New("Bot test-token")
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	return New(s)
}

func TestSendAndEditEmbed(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies []map[string]any
	)
	d := newTestDiscord(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)
		mu.Lock()
		bodies = append(bodies, body)
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/channels/c1/messages":
			_, _ = w.Write([]byte(`{"id":"m1","channel_id":"c1"}`))
		case r.Method == http.MethodPatch && r.URL.Path == "/channels/c1/messages/m1":
			_, _ = w.Write([]byte(`{"id":"m1","channel_id":"c1"}`))
		case r.Method == http.MethodPatch && r.URL.Path == "/channels/c1/messages/gone":
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"Unknown Message","code":10008}`))
		case r.Method == http.MethodPost && r.URL.Path == "/channels/locked/messages":
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"message":"Missing Permissions","code":50013}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"unexpected"}`))
		}
	})
	ctx := context.Background()
	msg := Message{Title: "Alpha Members (sorted by rank)", Body: "`1.` **A** (No Rank)", Color: 0x5865F2}

	id, err := d.SendEmbed(ctx, "c1", msg)
	if err != nil || id != "m1" {
		t.Fatalf("SendEmbed = %q, %v", id, err)
	}
	if err := d.EditEmbed(ctx, "c1", "m1", msg); err != nil {
		t.Fatalf("EditEmbed error: %v", err)
	}

	err = d.EditEmbed(ctx, "c1", "gone", msg)
	if !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	_, err = d.SendEmbed(ctx, "locked", msg)
	if !IsForbidden(err) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	embeds, _ := bodies[0]["embeds"].([]any)
	if len(embeds) != 1 {
		t.Fatalf("expected one embed in send body, got %v", bodies[0])
	}
	embed := embeds[0].(map[string]any)
	if embed["title"] != msg.Title || !strings.Contains(embed["description"].(string), "**A**") {
		t.Fatalf("unexpected embed: %v", embed)
	}
}

func TestDeleteMessageIgnoresMissing(t *testing.T) {
	d := newTestDiscord(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodDelete && r.URL.Path == "/channels/c1/messages/m1" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"Unknown Message","code":10008}`))
	})
	if err := d.DeleteMessage(context.Background(), "c1", "m1"); err != nil {
		t.Fatalf("delete existing: %v", err)
	}
	if err := d.DeleteMessage(context.Background(), "c1", "m2"); err != nil {
		t.Fatalf("delete missing should be nil, got %v", err)
	}
}
