// Package render posts and refreshes roster messages for tracked lists.
package render

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/small-frappuccino/teamlists/pkg/discord/platform"
	"github.com/small-frappuccino/teamlists/pkg/log"
	"github.com/small-frappuccino/teamlists/pkg/metrics"
	"github.com/small-frappuccino/teamlists/pkg/roster"
	"github.com/small-frappuccino/teamlists/pkg/task"
	"github.com/small-frappuccino/teamlists/pkg/teamlist"
	"github.com/small-frappuccino/teamlists/pkg/theme"
)

// Task types handled by the renderer. Every task for one list shares the group key "channel:role".
const (
	TaskTypeRender = "render.list"
	TaskTypeRemove = "render.remove"
	TaskTypeForget = "render.forget"
)

// MissingRoleNotice is posted under the "warn" policy when a list's team role no longer exists.
const MissingRoleNotice = "⚠️ Team role not found!"

// Missing team role policies.
const (
	PolicySilent = "silent"
	PolicyWarn   = "warn"
)

type Outcome string

const (
	OutcomeCreated Outcome = "created"
	OutcomeEdited  Outcome = "edited"
	OutcomeSkipped Outcome = "skipped"
)

type Reason string

const (
	ReasonNone           Reason = ""
	ReasonNotTracked     Reason = "not_tracked"
	ReasonRoleMissing    Reason = "role_missing"
	ReasonForbidden      Reason = "forbidden"
	ReasonChannelMissing Reason = "channel_missing"
)

// Result describes what one render did. Skipped renders are not failures.
type Result struct {
	Key       teamlist.ListKey
	Outcome   Outcome
	Reason    Reason
	MessageID string
	Members   int
}

// OK reports whether the roster message is now up to date.
func (r Result) OK() bool { return r.Outcome == OutcomeCreated || r.Outcome == OutcomeEdited }

func skipped(key teamlist.ListKey, reason Reason) Result {
	return Result{Key: key, Outcome: OutcomeSkipped, Reason: reason}
}

// Platform is what the renderer needs from the chat platform.
type Platform interface {
	Roles(ctx context.Context, guildID string) ([]platform.Role, error)
	Members(ctx context.Context, guildID string) ([]roster.Member, error)
	SendEmbed(ctx context.Context, channelID string, msg platform.Message) (string, error)
	EditEmbed(ctx context.Context, channelID, messageID string, msg platform.Message) error
	SendText(ctx context.Context, channelID, content string) (string, error)
	DeleteMessage(ctx context.Context, channelID, messageID string) error
}

// Saver persists the registry after a mutation.
type Saver interface {
	Save(ctx context.Context) error
}

// Renderer builds roster content and keeps each list's message in sync.
// Work for a single list is serialized through the task router.
type Renderer struct {
	registry *teamlist.Registry
	platform Platform
	router   *task.TaskRouter
	saver    Saver
	policy   string
	now      func() time.Time

	mu sync.Mutex
	// queued holds lists with an Enqueue render that has not started yet.
	queued map[teamlist.ListKey]struct{}
	// warned holds lists whose missing role notice is already posted.
	warned map[teamlist.ListKey]struct{}
}

// Options configures a Renderer.
type Options struct {
	// MissingRolePolicy is PolicySilent (default) or PolicyWarn.
	MissingRolePolicy string
}

// New creates a renderer and registers its task handlers on router.
func New(registry *teamlist.Registry, p Platform, router *task.TaskRouter, saver Saver, opts Options) *Renderer {
	policy := opts.MissingRolePolicy
	if policy != PolicyWarn {
		policy = PolicySilent
	}
	r := &Renderer{
		registry: registry,
		platform: p,
		router:   router,
		saver:    saver,
		policy:   policy,
		now:      time.Now,
		queued:   make(map[teamlist.ListKey]struct{}),
		warned:   make(map[teamlist.ListKey]struct{}),
	}
	router.RegisterHandler(TaskTypeRender, r.handleRender)
	router.RegisterHandler(TaskTypeRemove, r.handleRemove)
	router.RegisterHandler(TaskTypeForget, r.handleForget)
	return r
}

type renderJob struct {
	key    teamlist.ListKey
	queued bool
	result Result
}

type removeJob struct {
	key     teamlist.ListKey
	removed teamlist.ListEntity
}

type forgetJob struct {
	channelID string
	messageID string
	cleared   bool
}

func groupOptions(key teamlist.ListKey) task.TaskOptions {
	return task.TaskOptions{GroupKey: key.String(), MaxAttempts: 2}
}

// Render brings the list's message up to date and waits for the outcome.
func (r *Renderer) Render(ctx context.Context, key teamlist.ListKey) (Result, error) {
	job := &renderJob{key: key}
	err := r.router.Do(ctx, task.Task{Type: TaskTypeRender, Payload: job, Options: groupOptions(key)})
	return job.result, err
}

// Enqueue schedules a render without waiting for it.
// A list has at most one pending Enqueue render; further calls before it starts are folded into it.
func (r *Renderer) Enqueue(ctx context.Context, key teamlist.ListKey) error {
	r.mu.Lock()
	if _, pending := r.queued[key]; pending {
		r.mu.Unlock()
		metrics.RenderCoalesced.Inc()
		return nil
	}
	r.queued[key] = struct{}{}
	r.mu.Unlock()

	err := r.router.Dispatch(ctx, task.Task{Type: TaskTypeRender, Payload: &renderJob{key: key, queued: true}, Options: groupOptions(key)})
	if err != nil {
		r.dequeue(key)
	}
	return err
}

func (r *Renderer) dequeue(key teamlist.ListKey) {
	r.mu.Lock()
	delete(r.queued, key)
	r.mu.Unlock()
}

// RenderGuild renders every list in guildID. Failures do not stop the remaining lists.
func (r *Renderer) RenderGuild(ctx context.Context, guildID string) ([]Result, error) {
	lists := r.registry.ListsInGuild(guildID)
	results := make([]Result, 0, len(lists))
	var errs []error
	for _, e := range lists {
		res, err := r.Render(ctx, e.Key())
		if err != nil {
			errs = append(errs, fmt.Errorf("render %s: %w", e.Key(), err))
			continue
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

// EnqueueGuild schedules a render of every list in guildID whose team role is in roleIDs.
// An empty roleIDs selects every list in the guild.
func (r *Renderer) EnqueueGuild(ctx context.Context, guildID string, roleIDs ...string) int {
	n := 0
	for _, e := range r.registry.ListsInGuild(guildID) {
		if len(roleIDs) > 0 && !containsRole(roleIDs, e.TeamRoleID) {
			continue
		}
		if err := r.Enqueue(ctx, e.Key()); err != nil {
			log.DiscordLogger().Warn("Failed to enqueue render", "list", e.Key().String(), "err", err)
			continue
		}
		n++
	}
	return n
}

func containsRole(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// Remove stops tracking the list and deletes its message.
func (r *Renderer) Remove(ctx context.Context, key teamlist.ListKey) (teamlist.ListEntity, error) {
	job := &removeJob{key: key}
	err := r.router.Do(ctx, task.Task{Type: TaskTypeRemove, Payload: job, Options: task.TaskOptions{GroupKey: key.String(), MaxAttempts: 1}})
	return job.removed, err
}

// Forget clears the tracked message id when that message was deleted outside the bot.
// It reports whether a list was affected.
func (r *Renderer) Forget(ctx context.Context, channelID, messageID string) (bool, error) {
	e, ok := r.registry.FindByMessage(channelID, messageID)
	if !ok {
		return false, nil
	}
	job := &forgetJob{channelID: channelID, messageID: messageID}
	err := r.router.Do(ctx, task.Task{Type: TaskTypeForget, Payload: job, Options: task.TaskOptions{GroupKey: e.Key().String(), MaxAttempts: 1}})
	return job.cleared, err
}

func (r *Renderer) handleRender(ctx context.Context, payload any) error {
	job, ok := payload.(*renderJob)
	if !ok {
		return fmt.Errorf("invalid payload for %s", TaskTypeRender)
	}
	if job.queued {
		// Changes arriving from here on need another render.
		r.dequeue(job.key)
	}
	start := r.now()
	res, err := r.renderNow(ctx, job.key)
	metrics.RenderDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RenderCount.WithLabelValues("error", "").Inc()
		return err
	}
	metrics.RenderCount.WithLabelValues(string(res.Outcome), string(res.Reason)).Inc()
	job.result = res
	return nil
}

func (r *Renderer) handleRemove(ctx context.Context, payload any) error {
	job, ok := payload.(*removeJob)
	if !ok {
		return fmt.Errorf("invalid payload for %s", TaskTypeRemove)
	}
	removed, err := r.registry.Remove(job.key)
	if err != nil {
		return err
	}
	job.removed = removed
	r.clearWarned(job.key)
	if removed.MessageID != "" {
		if err := r.platform.DeleteMessage(ctx, removed.ChannelID, removed.MessageID); err != nil {
			log.DiscordLogger().Warn("Failed to delete list message",
				"list", job.key.String(), "message_id", removed.MessageID, "class", string(platform.Classify(err)), "err", err)
		}
	}
	return r.save(ctx)
}

func (r *Renderer) handleForget(ctx context.Context, payload any) error {
	job, ok := payload.(*forgetJob)
	if !ok {
		return fmt.Errorf("invalid payload for %s", TaskTypeForget)
	}
	e, found := r.registry.FindByMessage(job.channelID, job.messageID)
	if !found {
		return nil
	}
	cleared, err := r.registry.ClearMessageID(e.Key())
	if err != nil || !cleared {
		return err
	}
	job.cleared = true
	log.DiscordLogger().Info("Tracked list message deleted; will recreate on next render",
		"list", e.Key().String(), "message_id", job.messageID)
	return r.save(ctx)
}

func (r *Renderer) save(ctx context.Context) error {
	if r.saver == nil {
		return nil
	}
	return r.saver.Save(ctx)
}

// renderNow runs one render. Callers must hold the list's task group.
func (r *Renderer) renderNow(ctx context.Context, key teamlist.ListKey) (Result, error) {
	lg := log.DiscordLogger().WithFields(map[string]any{"channel_id": key.ChannelID, "role_id": key.RoleID})

	e, ok := r.registry.Get(key)
	if !ok {
		return skipped(key, ReasonNotTracked), nil
	}

	roles, err := r.platform.Roles(ctx, e.GuildID)
	if err != nil {
		return Result{}, err
	}
	names := make(map[string]string, len(roles))
	for _, role := range roles {
		names[role.ID] = role.Name
	}
	teamRoleName, exists := names[e.TeamRoleID]
	if !exists {
		lg.Info("Team role missing; render skipped", "policy", r.policy)
		if r.policy == PolicyWarn && r.markWarned(key) {
			if _, err := r.platform.SendText(ctx, e.ChannelID, MissingRoleNotice); err != nil {
				r.clearWarned(key)
				lg.Warn("Failed to post missing role notice", "class", string(platform.Classify(err)), "err", err)
			}
		}
		return skipped(key, ReasonRoleMissing), nil
	}
	r.clearWarned(key)

	members, err := r.platform.Members(ctx, e.GuildID)
	if err != nil {
		return Result{}, err
	}
	built := roster.Build(members, roster.Params{
		TeamRoleID:  e.TeamRoleID,
		HiddenRoles: e.HiddenRoles,
		Ranks:       r.registry.RankRoles(e.GuildID),
		Custom:      r.registry.CustomParameters(e.GuildID),
		RoleNames:   names,
	})
	msg := r.message(e.GuildID, teamRoleName, built)

	if e.MessageID != "" {
		err := r.platform.EditEmbed(ctx, e.ChannelID, e.MessageID, msg)
		switch {
		case err == nil:
			return r.finish(ctx, key, Result{Key: key, Outcome: OutcomeEdited, MessageID: e.MessageID, Members: built.Len()})
		case platform.IsNotFound(err):
			lg.Info("List message no longer exists; recreating", "message_id", e.MessageID)
			if _, err := r.registry.ClearMessageID(key); err != nil {
				return skipped(key, ReasonNotTracked), nil
			}
		case platform.IsForbidden(err):
			lg.Warn("Missing permission to edit list message", "message_id", e.MessageID, "err", err)
			return skipped(key, ReasonForbidden), nil
		default:
			return Result{}, err
		}
	}

	id, err := r.platform.SendEmbed(ctx, e.ChannelID, msg)
	switch {
	case err == nil:
	case platform.IsForbidden(err):
		lg.Warn("Missing permission to send list message", "err", err)
		return skipped(key, ReasonForbidden), r.save(ctx)
	case platform.IsNotFound(err):
		lg.Warn("List channel no longer exists", "err", err)
		return skipped(key, ReasonChannelMissing), r.save(ctx)
	default:
		return Result{}, err
	}

	if err := r.registry.SetMessageID(key, id); err != nil {
		// Removed while we were posting; do not leave an orphan behind.
		_ = r.platform.DeleteMessage(ctx, e.ChannelID, id)
		return skipped(key, ReasonNotTracked), nil
	}
	return r.finish(ctx, key, Result{Key: key, Outcome: OutcomeCreated, MessageID: id, Members: built.Len()})
}

// markWarned reports whether the notice for key still has to be posted.
func (r *Renderer) markWarned(key teamlist.ListKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, done := r.warned[key]; done {
		return false
	}
	r.warned[key] = struct{}{}
	return true
}

func (r *Renderer) clearWarned(key teamlist.ListKey) {
	r.mu.Lock()
	delete(r.warned, key)
	r.mu.Unlock()
}

func (r *Renderer) finish(ctx context.Context, key teamlist.ListKey, res Result) (Result, error) {
	if err := r.registry.MarkRendered(key, r.now()); err != nil {
		return skipped(key, ReasonNotTracked), nil
	}
	if err := r.save(ctx); err != nil {
		return res, err
	}
	return res, nil
}

func (r *Renderer) message(guildID, roleName string, built roster.Roster) platform.Message {
	content := roster.Format(roleName, built, roster.MaxDescriptionLen)
	color, ok := r.registry.EmbedColor(guildID)
	if !ok {
		color = theme.Roster()
		if built.Len() == 0 {
			color = theme.RosterEmpty()
		}
	}
	footer := fmt.Sprintf("%d members", built.Len())
	if built.Len() == 1 {
		footer = "1 member"
	}
	return platform.Message{Title: content.Title, Body: content.Body, Color: color, Footer: footer}
}
