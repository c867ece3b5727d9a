// Package coretest provides helpers for testing command handlers without a Discord session.
package coretest

import (
	"context"
	"sync"

	"github.com/small-frappuccino/teamlists/pkg/discord/commands/core"
	"github.com/small-frappuccino/teamlists/pkg/discord/platform"
	"github.com/small-frappuccino/teamlists/pkg/log"
)

// Recorder is a core.Replier that keeps every reply.
type Recorder struct {
	mu       sync.Mutex
	replies  []core.Reply
	deferred bool
}

func (r *Recorder) Defer(context.Context, bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.replies) == 0 {
		r.deferred = true
	}
	return nil
}

// Acknowledged reports whether the invocation was deferred or answered.
func (r *Recorder) Acknowledged() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deferred || len(r.replies) > 0
}

// Deferred reports whether Defer came before any reply.
func (r *Recorder) Deferred() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deferred
}

func (r *Recorder) Reply(_ context.Context, rep core.Reply) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies = append(r.replies, rep)
	return nil
}

// Replies returns a copy of the recorded replies.
func (r *Recorder) Replies() []core.Reply {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]core.Reply(nil), r.replies...)
}

// Last returns the most recent reply, or the zero Reply.
func (r *Recorder) Last() core.Reply {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.replies) == 0 {
		return core.Reply{}
	}
	return r.replies[len(r.replies)-1]
}

// Roles is a fixed core.RoleSource.
type Roles []platform.Role

func (rs Roles) Roles(context.Context, string) ([]platform.Role, error) { return rs, nil }

// NewContext builds an invocation in guild "g1", channel "c1" for user "u1".
func NewContext(args map[string]any, roles Roles) (*core.Context, *Recorder) {
	rec := &Recorder{}
	return &core.Context{
		Ctx:          context.Background(),
		Form:         core.FormSlash,
		Logger:       log.DiscordLogger(),
		GuildID:      "g1",
		ChannelID:    "c1",
		UserID:       "u1",
		InvocationID: "test-invocation",
		Args:         core.NewArgs(args),
		Replier:      rec,
		Roles:        roles,
	}, rec
}
