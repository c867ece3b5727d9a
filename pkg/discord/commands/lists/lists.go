// Package lists holds the commands that create, remove, filter and refresh team lists.
package lists

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/small-frappuccino/teamlists/pkg/discord/commands/core"
	"github.com/small-frappuccino/teamlists/pkg/render"
	"github.com/small-frappuccino/teamlists/pkg/teamlist"
)

// Renderer is the part of render.Renderer the list commands use.
type Renderer interface {
	Render(ctx context.Context, key teamlist.ListKey) (render.Result, error)
	Remove(ctx context.Context, key teamlist.ListKey) (teamlist.ListEntity, error)
}

// Saver persists the registry.
type Saver interface {
	Save(ctx context.Context) error
}

type Commands struct {
	registry *teamlist.Registry
	renderer Renderer
	saver    Saver
}

func New(registry *teamlist.Registry, renderer Renderer, saver Saver) *Commands {
	return &Commands{registry: registry, renderer: renderer, saver: saver}
}

func roleOption(name, description string, required bool) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionRole,
		Name:        name,
		Description: description,
		Required:    required,
	}
}

// Register adds addlist, removelist, hiderole, unhiderole and refresh.
func (c *Commands) Register(router *core.CommandRouter) {
	router.RegisterCommand(core.NewSimpleCommand(core.CommandDef{
		Name:                "addlist",
		Description:         "Add a member list for a role",
		Options:             []*discordgo.ApplicationCommandOption{roleOption("team_role", "Role whose members are listed", true)},
		Example:             "addlist @Raiders",
		Handler:             c.addList,
		RequiresGuild:       true,
		RequiresPermissions: true,
	}))
	router.RegisterCommand(core.NewSimpleCommand(core.CommandDef{
		Name:                "removelist",
		Description:         "Remove a member list for a role",
		Options:             []*discordgo.ApplicationCommandOption{roleOption("team_role", "Role of the list to remove", true)},
		Example:             "removelist @Raiders",
		Handler:             c.removeList,
		RequiresGuild:       true,
		RequiresPermissions: true,
	}))
	router.RegisterCommand(core.NewSimpleCommand(core.CommandDef{
		Name:        "hiderole",
		Description: "Hide members with a specific role from a team list",
		Options: []*discordgo.ApplicationCommandOption{
			roleOption("team_role", "Role of the list", true),
			roleOption("role_to_hide", "Members holding this role are hidden", true),
		},
		Example:             "hiderole @Raiders @Bench",
		Handler:             c.hideRole,
		RequiresGuild:       true,
		RequiresPermissions: true,
	}))
	router.RegisterCommand(core.NewSimpleCommand(core.CommandDef{
		Name:        "unhiderole",
		Description: "Unhide members with a specific role in a team list",
		Options: []*discordgo.ApplicationCommandOption{
			roleOption("team_role", "Role of the list", true),
			roleOption("role_to_unhide", "Role to show again", true),
		},
		Example:             "unhiderole @Raiders @Bench",
		Handler:             c.unhideRole,
		RequiresGuild:       true,
		RequiresPermissions: true,
	}))
	router.RegisterCommand(core.NewSimpleCommand(core.CommandDef{
		Name:                "refresh",
		Description:         "Re-render one list, or every list in this channel",
		Options:             []*discordgo.ApplicationCommandOption{roleOption("team_role", "Only refresh this role's list", false)},
		Example:             "refresh @Raiders",
		Handler:             c.refresh,
		RequiresGuild:       true,
		RequiresPermissions: true,
	}))
}

func (c *Commands) addList(ctx *core.Context) error {
	roleID, err := ctx.Args.RequireRole("team_role")
	if err != nil {
		return err
	}
	name := ctx.RoleName(roleID)

	entity, err := c.registry.Create(ctx.GuildID, ctx.ChannelID, roleID)
	if errors.Is(err, teamlist.ErrAlreadyExists) {
		return core.AlreadyExists("List for **%s** already exists in this channel.", name)
	}
	if err != nil {
		return err
	}
	if err := c.saver.Save(ctx.Context()); err != nil {
		return err
	}
	if err := ctx.Reply(core.Format(core.ResponseSuccess, fmt.Sprintf("List for **%s** added!", name))); err != nil {
		ctx.Logger.WithError(err).Warn("Failed to confirm addlist")
	}
	return c.renderAfterChange(ctx, entity.Key())
}

func (c *Commands) removeList(ctx *core.Context) error {
	roleID, err := ctx.Args.RequireRole("team_role")
	if err != nil {
		return err
	}
	key := teamlist.ListKey{ChannelID: ctx.ChannelID, RoleID: roleID}
	if _, found := c.registry.Get(key); !found {
		return core.NotFound("List not found in this channel.")
	}
	acknowledge(ctx, false)
	if _, err := c.renderer.Remove(ctx.Context(), key); err != nil {
		if errors.Is(err, teamlist.ErrNotFound) {
			return core.NotFound("List not found in this channel.")
		}
		return err
	}
	return ctx.Reply(core.Format(core.ResponseSuccess, fmt.Sprintf("List for **%s** removed.", ctx.RoleName(roleID))))
}

func (c *Commands) hideRole(ctx *core.Context) error {
	return c.toggleHidden(ctx, "role_to_hide", true)
}

func (c *Commands) unhideRole(ctx *core.Context) error {
	return c.toggleHidden(ctx, "role_to_unhide", false)
}

func (c *Commands) toggleHidden(ctx *core.Context, option string, hide bool) error {
	teamRoleID, err := ctx.Args.RequireRole("team_role")
	if err != nil {
		return err
	}
	roleID, err := ctx.Args.RequireRole(option)
	if err != nil {
		return err
	}
	key := teamlist.ListKey{ChannelID: ctx.ChannelID, RoleID: teamRoleID}

	if hide {
		_, err = c.registry.AddExcludedRole(key, roleID)
	} else {
		_, err = c.registry.RemoveExcludedRole(key, roleID)
	}
	if errors.Is(err, teamlist.ErrNotFound) {
		return core.NotFound("List for that team role not found in this channel.")
	}
	if err != nil {
		return err
	}
	if err := c.saver.Save(ctx.Context()); err != nil {
		return err
	}

	verb := "hidden"
	if !hide {
		verb = "unhidden"
	}
	msg := fmt.Sprintf("Role **%s** %s in list for **%s**.", ctx.RoleName(roleID), verb, ctx.RoleName(teamRoleID))
	if err := ctx.Reply(core.Format(core.ResponseSuccess, msg)); err != nil {
		ctx.Logger.WithError(err).Warn("Failed to confirm role visibility change")
	}
	return c.renderAfterChange(ctx, key)
}

func (c *Commands) refresh(ctx *core.Context) error {
	var keys []teamlist.ListKey
	if roleID, ok := ctx.Args.Role("team_role"); ok {
		key := teamlist.ListKey{ChannelID: ctx.ChannelID, RoleID: roleID}
		if _, found := c.registry.Get(key); !found {
			return core.NotFound("List for **%s** not found in this channel.", ctx.RoleName(roleID))
		}
		keys = append(keys, key)
	} else {
		for _, e := range c.registry.ListsInChannel(ctx.ChannelID) {
			keys = append(keys, e.Key())
		}
	}
	if len(keys) == 0 {
		return core.NotFound("No lists in this channel.")
	}

	acknowledge(ctx, true)
	refreshed := 0
	var failures []error
	for _, key := range keys {
		res, err := c.renderer.Render(ctx.Context(), key)
		if err != nil {
			failures = append(failures, err)
			continue
		}
		if res.OK() {
			refreshed++
		}
	}
	if err := errors.Join(failures...); err != nil {
		ctx.Logger.WithError(err).Warn("Refresh incomplete")
	}
	return ctx.ReplyPrivate(core.Format(core.ResponseInfo, fmt.Sprintf("Refreshed %d of %d list(s).", refreshed, len(keys))))
}

// acknowledge defers the reply ahead of platform calls. A failed deferral is
// logged; the reply that follows still tries to answer.
func acknowledge(ctx *core.Context, ephemeral bool) {
	if err := ctx.Defer(ephemeral); err != nil {
		ctx.Logger.WithError(err).Warn("Failed to acknowledge command")
	}
}

// renderAfterChange renders key once the change is confirmed. Transient failures
// are reported as a warning; the next sweep retries.
func (c *Commands) renderAfterChange(ctx *core.Context, key teamlist.ListKey) error {
	res, err := c.renderer.Render(ctx.Context(), key)
	if err != nil {
		ctx.Logger.WithError(err).Warn("Render after command failed", "list", key.String())
		return ctx.ReplyPrivate(core.Format(core.ResponseWarning, "Saved, but the list could not be posted yet. It will be retried shortly."))
	}
	ctx.Logger.Debug("Rendered after command", "list", key.String(), "outcome", string(res.Outcome), "reason", string(res.Reason))
	return nil
}
