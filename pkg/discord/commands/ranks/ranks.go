// Package ranks holds the commands that manage rank-priority roles.
package ranks

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/small-frappuccino/teamlists/pkg/discord/commands/core"
	"github.com/small-frappuccino/teamlists/pkg/teamlist"
)

// Broadcaster re-renders every list of a guild after a guild-wide change.
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
	minPriority := float64(teamlist.MinPriority)
	router.RegisterCommand(core.NewSimpleCommand(core.CommandDef{
		Name:        "addrank",
		Description: "Give a role a rank priority (1 is the highest rank)",
		Options: []*discordgo.ApplicationCommandOption{
			{Type: discordgo.ApplicationCommandOptionRole, Name: "role", Description: "Rank role", Required: true},
			{
				Type:        discordgo.ApplicationCommandOptionInteger,
				Name:        "priority",
				Description: fmt.Sprintf("Priority from %d to %d", teamlist.MinPriority, teamlist.MaxPriority),
				Required:    true,
				MinValue:    &minPriority,
				MaxValue:    float64(teamlist.MaxPriority),
			},
		},
		Example:             "addrank @Captain 2",
		Handler:             c.addRank,
		RequiresGuild:       true,
		RequiresPermissions: true,
	}))
	router.RegisterCommand(core.NewSimpleCommand(core.CommandDef{
		Name:        "removerank",
		Description: "Remove a role's rank priority",
		Options: []*discordgo.ApplicationCommandOption{
			{Type: discordgo.ApplicationCommandOptionRole, Name: "role", Description: "Rank role", Required: true},
		},
		Example:             "removerank @Captain",
		Handler:             c.removeRank,
		RequiresGuild:       true,
		RequiresPermissions: true,
	}))
	router.RegisterCommand(core.NewSimpleCommand(core.CommandDef{
		Name:          "listranks",
		Description:   "Show this server's rank roles",
		Example:       "listranks",
		Handler:       c.listRanks,
		RequiresGuild: true,
	}))
}

func (c *Commands) addRank(ctx *core.Context) error {
	roleID, err := ctx.Args.RequireRole("role")
	if err != nil {
		return err
	}
	priority, ok := ctx.Args.Int("priority")
	if !ok {
		return core.InvalidArgument("Missing argument `priority`.")
	}
	if err := teamlist.ValidatePriority(int(priority)); err != nil {
		return core.InvalidArgument("Priority must be between %d and %d.", teamlist.MinPriority, teamlist.MaxPriority)
	}

	name := ctx.RoleName(roleID)
	if err := c.registry.SetRankPriority(ctx.GuildID, roleID, name, int(priority)); err != nil {
		return err
	}
	if err := c.saver.Save(ctx.Context()); err != nil {
		return err
	}
	n := c.broadcaster.EnqueueGuild(ctx.Context(), ctx.GuildID)
	ctx.Logger.Debug("Rank change broadcast", "lists", n)
	return ctx.Reply(core.Format(core.ResponseSuccess, fmt.Sprintf("Rank **%s** set to priority %d.", name, priority)))
}

func (c *Commands) removeRank(ctx *core.Context) error {
	roleID, err := ctx.Args.RequireRole("role")
	if err != nil {
		return err
	}
	if _, err := c.registry.RemoveRankPriority(ctx.GuildID, roleID); err != nil {
		if errors.Is(err, teamlist.ErrNotFound) {
			return core.NotFound("**%s** is not a rank role.", ctx.RoleName(roleID))
		}
		return err
	}
	if err := c.saver.Save(ctx.Context()); err != nil {
		return err
	}
	c.broadcaster.EnqueueGuild(ctx.Context(), ctx.GuildID)
	return ctx.Reply(core.Format(core.ResponseSuccess, fmt.Sprintf("Rank **%s** removed.", ctx.RoleName(roleID))))
}

func (c *Commands) listRanks(ctx *core.Context) error {
	ranks := c.registry.RankRoles(ctx.GuildID)
	if len(ranks) == 0 {
		return ctx.Reply(core.Format(core.ResponseInfo, "No rank roles configured."))
	}
	var b strings.Builder
	for _, r := range ranks {
		name := ctx.RoleName(r.RoleID)
		if strings.HasPrefix(name, "<@&") && r.Name != "" {
			name = r.Name
		}
		fmt.Fprintf(&b, "`%d` **%s**\n", r.Priority, name)
	}
	embed := core.Embed(core.ResponseInfo, "Rank Roles", strings.TrimSuffix(b.String(), "\n"))
	embed.Footer = &discordgo.MessageEmbedFooter{Text: "Lower priority ranks higher"}
	return ctx.ReplyEmbed(embed)
}
