package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/small-frappuccino/teamlists/pkg/discord/platform"
	"github.com/small-frappuccino/teamlists/pkg/log"
)

// Command is one entry of the command table. The same definition serves the
// slash form and the prefixed text form.
type Command interface {
	Name() string
	Description() string
	Options() []*discordgo.ApplicationCommandOption
	// Example is a sample prefixed invocation without the prefix, e.g. "addrank @Captain 2".
	Example() string
	Handle(ctx *Context) error
	RequiresGuild() bool
	RequiresPermissions() bool
}

// Form tells how a command was invoked.
type Form string

const (
	FormSlash  Form = "slash"
	FormPrefix Form = "prefix"
)

// Reply is one message sent back to the invoker.
type Reply struct {
	Content   string
	Embed     *discordgo.MessageEmbed
	Ephemeral bool
}

// Replier delivers replies in the invocation's context.
type Replier interface {
	Reply(ctx context.Context, r Reply) error
	// Defer acknowledges the invocation ahead of a slow reply. Ephemeral fixes
	// the visibility of the reply that follows.
	Defer(ctx context.Context, ephemeral bool) error
}

// RoleSource resolves guild roles for names and prefix arguments.
type RoleSource interface {
	Roles(ctx context.Context, guildID string) ([]platform.Role, error)
}

// Context carries one command invocation.
type Context struct {
	Ctx          context.Context
	Session      *discordgo.Session
	Interaction  *discordgo.InteractionCreate
	Message      *discordgo.MessageCreate
	Form         Form
	Logger       *log.Logger
	GuildID      string
	ChannelID    string
	UserID       string
	InvocationID string
	Args         Args
	Replier      Replier
	Roles        RoleSource

	names map[string]string
}

// Context returns the invocation's context.Context, never nil.
func (c *Context) Context() context.Context {
	if c.Ctx == nil {
		return context.Background()
	}
	return c.Ctx
}

// Reply sends a public reply.
func (c *Context) Reply(content string) error {
	return c.send(Reply{Content: content})
}

// ReplyEmbed sends a public embed reply.
func (c *Context) ReplyEmbed(embed *discordgo.MessageEmbed) error {
	return c.send(Reply{Embed: embed})
}

// ReplyPrivate sends a reply only the invoker can see where the form allows it.
func (c *Context) ReplyPrivate(content string) error {
	return c.send(Reply{Content: content, Ephemeral: true})
}

// Defer acknowledges the invocation before work that may outlast Discord's
// three second response window. The next reply completes it.
func (c *Context) Defer(ephemeral bool) error {
	if c.Replier == nil {
		return errors.New("no replier for this invocation")
	}
	return c.Replier.Defer(c.Context(), ephemeral)
}

func (c *Context) send(r Reply) error {
	if c.Replier == nil {
		return errors.New("no replier for this invocation")
	}
	return c.Replier.Reply(c.Context(), r)
}

// RoleName returns the current name of roleID, or a mention when it cannot be resolved.
func (c *Context) RoleName(roleID string) string {
	if c.names == nil {
		c.names = make(map[string]string)
		if c.Interaction != nil && c.Interaction.Type == discordgo.InteractionApplicationCommand {
			if res := c.Interaction.ApplicationCommandData().Resolved; res != nil {
				for id, r := range res.Roles {
					if r != nil {
						c.names[id] = r.Name
					}
				}
			}
		}
	}
	if name, ok := c.names[roleID]; ok {
		return name
	}
	if c.Roles != nil && c.GuildID != "" {
		roles, err := c.Roles.Roles(c.Context(), c.GuildID)
		if err == nil {
			for _, r := range roles {
				c.names[r.ID] = r.Name
			}
		}
		if name, ok := c.names[roleID]; ok {
			return name
		}
	}
	return "<@&" + roleID + ">"
}

// SimpleCommand implements Command with a handler func.
type SimpleCommand struct {
	name                string
	description         string
	options             []*discordgo.ApplicationCommandOption
	example             string
	handler             func(ctx *Context) error
	requiresGuild       bool
	requiresPermissions bool
}

// CommandDef describes a SimpleCommand.
type CommandDef struct {
	Name                string
	Description         string
	Options             []*discordgo.ApplicationCommandOption
	Example             string
	Handler             func(ctx *Context) error
	RequiresGuild       bool
	RequiresPermissions bool
}

func NewSimpleCommand(def CommandDef) *SimpleCommand {
	return &SimpleCommand{
		name:                def.Name,
		description:         def.Description,
		options:             def.Options,
		example:             def.Example,
		handler:             def.Handler,
		requiresGuild:       def.RequiresGuild,
		requiresPermissions: def.RequiresPermissions,
	}
}

func (sc *SimpleCommand) Name() string        { return sc.name }
func (sc *SimpleCommand) Description() string { return sc.description }
func (sc *SimpleCommand) Options() []*discordgo.ApplicationCommandOption {
	return sc.options
}
func (sc *SimpleCommand) Example() string           { return sc.example }
func (sc *SimpleCommand) Handle(ctx *Context) error { return sc.handler(ctx) }
func (sc *SimpleCommand) RequiresGuild() bool       { return sc.requiresGuild }
func (sc *SimpleCommand) RequiresPermissions() bool { return sc.requiresPermissions }

// ## Errors

// ErrorKind tells the router how to present a CommandError.
type ErrorKind string

const (
	KindNotFound        ErrorKind = "not_found"
	KindAlreadyExists   ErrorKind = "already_exists"
	KindInvalidArgument ErrorKind = "invalid_argument"
	KindDenied          ErrorKind = "denied"
	KindOther           ErrorKind = "other"
)

// CommandError is an error meant for the invoking user.
type CommandError struct {
	Message   string
	Ephemeral bool
	Kind      ErrorKind
	Err       error
}

func (e *CommandError) Error() string {
	return e.Message
}

func (e *CommandError) Unwrap() error { return e.Err }

// NewCommandError creates a user-facing error.
func NewCommandError(message string, ephemeral bool) *CommandError {
	return &CommandError{Message: message, Ephemeral: ephemeral, Kind: KindOther}
}

// NotFound reports a missing list, role or message.
func NotFound(format string, args ...any) *CommandError {
	return &CommandError{Message: fmt.Sprintf(format, args...), Kind: KindNotFound}
}

// AlreadyExists reports a duplicate.
func AlreadyExists(format string, args ...any) *CommandError {
	return &CommandError{Message: fmt.Sprintf(format, args...), Kind: KindAlreadyExists}
}

// InvalidArgument reports bad input. The router appends the command's usage.
func InvalidArgument(format string, args ...any) *CommandError {
	return &CommandError{Message: fmt.Sprintf(format, args...), Kind: KindInvalidArgument}
}

// ## Registry

// CommandRegistry is the command table, keyed by name.
type CommandRegistry struct {
	commands map[string]Command
	order    []string
}

func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{commands: make(map[string]Command)}
}

// Register adds cmd, replacing any command with the same name.
func (r *CommandRegistry) Register(cmd Command) {
	if _, exists := r.commands[cmd.Name()]; !exists {
		r.order = append(r.order, cmd.Name())
	}
	r.commands[cmd.Name()] = cmd
}

// GetCommand returns a command by name.
func (r *CommandRegistry) GetCommand(name string) (Command, bool) {
	cmd, exists := r.commands[name]
	return cmd, exists
}

// Commands returns every command in registration order.
func (r *CommandRegistry) Commands() []Command {
	out := make([]Command, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.commands[name])
	}
	return out
}
