// Package params holds the commands that manage custom label parameters.
package params

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/small-frappuccino/teamlists/pkg/discord/commands/core"
	"github.com/small-frappuccino/teamlists/pkg/teamlist"
)

type Broadcaster interface {
	EnqueueGuild(ctx context.Context, guildID string, roleIDs ...string) int
}

type Saver interface {
	Save(ctx context.Context) error
}

type Commands struct {
	registry    *teamlist.Registry
	broadcaster Broadcaster
	saver       Saver
}

func New(registry *teamlist.Registry, broadcaster Broadcaster, saver Saver) *Commands {
	return &Commands{registry: registry, broadcaster: broadcaster, saver: saver}
}

func (c *Commands) Register(router *core.CommandRouter) {
	router.RegisterCommand(core.NewSimpleCommand(core.CommandDef{
		Name:        "addparam",
		Description: "Annotate members holding some roles with a label",
		Options: []*discordgo.ApplicationCommandOption{
			{Type: discordgo.ApplicationCommandOptionString, Name: "label", Description: "Label shown next to members", Required: true},
			{Type: discordgo.ApplicationCommandOptionString, Name: "roles", Description: "Roles to match, as mentions", Required: true},
		},
		Example:             `addparam "Lane" @Top @Mid`,
		Handler:             c.addParam,
		RequiresGuild:       true,
		RequiresPermissions: true,
	}))
	router.RegisterCommand(core.NewSimpleCommand(core.CommandDef{
		Name:        "removeparam",
		Description: "Remove a custom label parameter",
		Options: []*discordgo.ApplicationCommandOption{
			{Type: discordgo.ApplicationCommandOptionString, Name: "label", Description: "Label to remove", Required: true},
		},
		Example:             `removeparam "Lane"`,
		Handler:             c.removeParam,
		RequiresGuild:       true,
		RequiresPermissions: true,
	}))
	router.RegisterCommand(core.NewSimpleCommand(core.CommandDef{
		Name:          "listparams",
		Description:   "Show this server's custom label parameters",
		Example:       "listparams",
		Handler:       c.listParams,
		RequiresGuild: true,
	}))
}

func (c *Commands) addParam(ctx *core.Context) error {
	label := strings.TrimSpace(ctx.Args.String("label"))
	if label == "" {
		return core.InvalidArgument("Missing argument `label`.")
	}
	roleIDs := ctx.Args.RoleList("roles")
	if len(roleIDs) == 0 {
		return core.InvalidArgument("Provide at least one role.")
	}
	if err := c.registry.SetCustomParameter(ctx.GuildID, label, roleIDs); err != nil {
		return err
	}
	if err := c.saver.Save(ctx.Context()); err != nil {
		return err
	}
	c.broadcaster.EnqueueGuild(ctx.Context(), ctx.GuildID)
	return ctx.Reply(core.Format(core.ResponseSuccess,
		fmt.Sprintf("Parameter **%s** set to %s.", label, c.roleNames(ctx, roleIDs))))
}

func (c *Commands) removeParam(ctx *core.Context) error {
	label := strings.TrimSpace(ctx.Args.String("label"))
	if label == "" {
		return core.InvalidArgument("Missing argument `label`.")
	}
	if err := c.registry.RemoveCustomParameter(ctx.GuildID, label); err != nil {
		if errors.Is(err, teamlist.ErrNotFound) {
			return core.NotFound("Parameter **%s** not found.", label)
		}
		return err
	}
	if err := c.saver.Save(ctx.Context()); err != nil {
		return err
	}
	c.broadcaster.EnqueueGuild(ctx.Context(), ctx.GuildID)
	return ctx.Reply(core.Format(core.ResponseSuccess, fmt.Sprintf("Parameter **%s** removed.", label)))
}

func (c *Commands) listParams(ctx *core.Context) error {
	params := c.registry.CustomParameters(ctx.GuildID)
	if len(params) == 0 {
		return ctx.Reply(core.Format(core.ResponseInfo, "No custom parameters configured."))
	}
	lines := make([]string, 0, len(params))
	for _, p := range params {
		lines = append(lines, fmt.Sprintf("**%s**: %s", p.Label, c.roleNames(ctx, p.RoleIDs)))
	}
	return ctx.ReplyEmbed(core.Embed(core.ResponseInfo, "Custom Parameters", strings.Join(lines, "\n")))
}

func (c *Commands) roleNames(ctx *core.Context, ids []string) string {
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = ctx.RoleName(id)
	}
	return strings.Join(names, ", ")
}
