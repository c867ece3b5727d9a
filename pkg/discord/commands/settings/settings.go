// Package settings holds the per-guild appearance command and the informational commands.
package settings

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/small-frappuccino/teamlists/pkg/discord/commands/core"
	"github.com/small-frappuccino/teamlists/pkg/teamlist"
	"github.com/small-frappuccino/teamlists/pkg/theme"
)

type Broadcaster interface {
	EnqueueGuild(ctx context.Context, guildID string, roleIDs ...string) int
}

type Saver interface {
	Save(ctx context.Context) error
}

// Status feeds botinfo. Nil funcs are skipped.
type Status struct {
	Version   string
	Started   time.Time
	Guilds    func() int
	LastSweep func() time.Time
}

type Commands struct {
	registry    *teamlist.Registry
	broadcaster Broadcaster
	saver       Saver
	status      Status
	router      *core.CommandRouter
	now         func() time.Time
}

func New(registry *teamlist.Registry, broadcaster Broadcaster, saver Saver, status Status) *Commands {
	return &Commands{registry: registry, broadcaster: broadcaster, saver: saver, status: status, now: time.Now}
}

func (c *Commands) Register(router *core.CommandRouter) {
	c.router = router
	router.RegisterCommand(core.NewSimpleCommand(core.CommandDef{
		Name:        "setcolor",
		Description: "Set the accent color of this server's team lists",
		Options: []*discordgo.ApplicationCommandOption{
			{Type: discordgo.ApplicationCommandOptionString, Name: "color", Description: "Hex color such as #5865F2", Required: true},
		},
		Example:             "setcolor #E67E22",
		Handler:             c.setColor,
		RequiresGuild:       true,
		RequiresPermissions: true,
	}))
	router.RegisterCommand(core.NewSimpleCommand(core.CommandDef{
		Name:        "botinfo",
		Description: "Show information about the bot",
		Example:     "botinfo",
		Handler:     c.botInfo,
	}))
	router.RegisterCommand(core.NewSimpleCommand(core.CommandDef{
		Name:        "help",
		Description: "List every command",
		Example:     "help",
		Handler:     c.help,
	}))
}

// ParseColor accepts "#RRGGBB", "0xRRGGBB" or "RRGGBB".
func ParseColor(s string) (int, error) {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(s, "#"):
		s = s[1:]
	case strings.HasPrefix(strings.ToLower(s), "0x"):
		s = s[2:]
	}
	if len(s) == 0 || len(s) > 6 {
		return 0, fmt.Errorf("color %q must have 1 to 6 hex digits", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("color %q is not hexadecimal", s)
	}
	return int(v), nil
}

func (c *Commands) setColor(ctx *core.Context) error {
	color, err := ParseColor(ctx.Args.String("color"))
	if err != nil {
		return core.InvalidArgument("Color must be a hex value like `#5865F2`.")
	}
	if err := c.registry.SetEmbedColor(ctx.GuildID, color); err != nil {
		return err
	}
	if err := c.saver.Save(ctx.Context()); err != nil {
		return err
	}
	c.broadcaster.EnqueueGuild(ctx.Context(), ctx.GuildID)
	return ctx.ReplyEmbed(&discordgo.MessageEmbed{
		Description: core.Format(core.ResponseSuccess, fmt.Sprintf("Team list color set to `#%06X`.", color)),
		Color:       color,
	})
}

func (c *Commands) botInfo(ctx *core.Context) error {
	fields := []*discordgo.MessageEmbedField{
		{Name: "Version", Value: orDash(c.status.Version), Inline: true},
		{Name: "Uptime", Value: c.uptime(), Inline: true},
		{Name: "Tracked lists", Value: strconv.Itoa(len(c.registry.Lists())), Inline: true},
	}
	if c.status.Guilds != nil {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Servers", Value: strconv.Itoa(c.status.Guilds()), Inline: true})
	}
	if c.status.LastSweep != nil {
		value := "not yet"
		if last := c.status.LastSweep(); !last.IsZero() {
			value = fmt.Sprintf("<t:%d:R>", last.Unix())
		}
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Last refresh sweep", Value: value, Inline: true})
	}
	if ctx.GuildID != "" {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:   "Lists here",
			Value:  strconv.Itoa(len(c.registry.ListsInGuild(ctx.GuildID))),
			Inline: true,
		})
	}
	return ctx.ReplyEmbed(&discordgo.MessageEmbed{
		Title:       "Team Lists Bot",
		Description: "Keeps role member lists up to date, sorted by rank.",
		Color:       theme.BotInfo(),
		Fields:      fields,
	})
}

func (c *Commands) uptime() string {
	if c.status.Started.IsZero() {
		return "-"
	}
	return c.now().Sub(c.status.Started).Truncate(time.Second).String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func (c *Commands) help(ctx *core.Context) error {
	if c.router == nil {
		return core.NewCommandError("Help is unavailable", true)
	}
	prefix := c.router.Prefix()
	var b strings.Builder
	for _, cmd := range c.router.GetRegistry().Commands() {
		fmt.Fprintf(&b, "`/%s` or `%s` - %s\n", cmd.Name(), core.Usage(prefix, cmd), cmd.Description())
	}
	return ctx.ReplyEmbed(&discordgo.MessageEmbed{
		Title:       "Commands",
		Description: strings.TrimSuffix(b.String(), "\n"),
		Color:       theme.Help(),
		Footer:      &discordgo.MessageEmbedFooter{Text: "Commands that change lists need the Manage Roles permission"},
	})
}
