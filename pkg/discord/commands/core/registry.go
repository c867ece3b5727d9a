package core

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/small-frappuccino/teamlists/pkg/log"
	"github.com/small-frappuccino/teamlists/pkg/metrics"
	"github.com/small-frappuccino/teamlists/pkg/teamlist"
)

// RouterOptions configures a CommandRouter.
type RouterOptions struct {
	// Prefix starts a text command, e.g. "!".
	Prefix string
	// PrivateErrors sends every error reply privately.
	PrivateErrors bool
	// DeleteInvocations removes a prefixed command's message once it was handled.
	DeleteInvocations bool
	// Roles resolves role names for prefix arguments and replies.
	Roles RoleSource
}

// CommandRouter dispatches slash and prefixed invocations to the command table.
type CommandRouter struct {
	session     *discordgo.Session
	registry    *CommandRegistry
	permChecker *PermissionChecker
	opts        RouterOptions
	baseCtx     context.Context
}

// NewCommandRouter creates a router.
func NewCommandRouter(session *discordgo.Session, opts RouterOptions) *CommandRouter {
	if opts.Prefix == "" {
		opts.Prefix = "!"
	}
	return &CommandRouter{
		session:     session,
		registry:    NewCommandRegistry(),
		permChecker: NewPermissionChecker(session),
		opts:        opts,
		baseCtx:     context.Background(),
	}
}

// SetBaseContext sets the parent context of every invocation.
func (cr *CommandRouter) SetBaseContext(ctx context.Context) {
	cr.baseCtx = ctx
}

// RegisterCommand adds cmd to the command table.
func (cr *CommandRouter) RegisterCommand(cmd Command) {
	cr.registry.Register(cmd)
}

// GetRegistry returns the command table.
func (cr *CommandRouter) GetRegistry() *CommandRegistry { return cr.registry }

// Prefix returns the text command prefix.
func (cr *CommandRouter) Prefix() string { return cr.opts.Prefix }

// HandleInteraction is the discordgo handler for slash commands.
func (cr *CommandRouter) HandleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()
	ctx := &Context{
		Ctx:         cr.baseCtx,
		Session:     s,
		Interaction: i,
		Form:        FormSlash,
		GuildID:     i.GuildID,
		ChannelID:   i.ChannelID,
		UserID:      extractUserID(i),
		Args:        ArgsFromOptions(data.Options),
		Replier:     &interactionReplier{session: s, i: i},
		Roles:       cr.opts.Roles,
	}
	var known int64
	if i.Member != nil {
		known = i.Member.Permissions
	}
	cr.dispatch(ctx, data.Name, known, nil)
}

// HandleMessage is the discordgo handler for prefixed text commands.
func (cr *CommandRouter) HandleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || !strings.HasPrefix(m.Content, cr.opts.Prefix) {
		return
	}
	tokens := Tokenize(strings.TrimPrefix(m.Content, cr.opts.Prefix))
	if len(tokens) == 0 {
		return
	}
	name := strings.ToLower(tokens[0])
	if _, ok := cr.registry.GetCommand(name); !ok {
		// Not ours; other bots may share the prefix.
		return
	}

	ctx := &Context{
		Ctx:       cr.baseCtx,
		Session:   s,
		Message:   m,
		Form:      FormPrefix,
		GuildID:   m.GuildID,
		ChannelID: m.ChannelID,
		UserID:    m.Author.ID,
		Replier:   &messageReplier{session: s, m: m, private: cr.opts.PrivateErrors},
		Roles:     cr.opts.Roles,
	}
	cr.dispatch(ctx, name, 0, tokens[1:])

	if cr.opts.DeleteInvocations && m.GuildID != "" {
		if err := s.ChannelMessageDelete(m.ChannelID, m.ID, discordgo.WithContext(ctx.Context())); err != nil {
			log.DiscordLogger().Debug("Failed to delete command invocation", "channel_id", m.ChannelID, "message_id", m.ID, "err", err)
		}
	}
}

// dispatch runs one invocation. tokens is nil for slash commands.
func (cr *CommandRouter) dispatch(ctx *Context, name string, knownPerms int64, tokens []string) {
	ctx.InvocationID = uuid.NewString()
	ctx.Logger = log.DiscordLogger().WithFields(map[string]any{
		"command":       name,
		"form":          string(ctx.Form),
		"guild_id":      ctx.GuildID,
		"user_id":       ctx.UserID,
		"invocation_id": ctx.InvocationID,
	})
	ctx.Logger.Debug("Processing command")

	cmd, exists := cr.registry.GetCommand(name)
	if !exists {
		ctx.Logger.Warn("Command not found")
		cr.replyError(ctx, nil, NewCommandError("Command not found", true))
		cr.count(name, ctx.Form, "unknown")
		return
	}
	if cmd.RequiresGuild() && ctx.GuildID == "" {
		ctx.Logger.Warn("Command used outside of guild")
		cr.replyError(ctx, cmd, NewCommandError("This command can only be used in a server", true))
		cr.count(name, ctx.Form, "rejected")
		return
	}
	if cmd.RequiresPermissions() && !cr.permChecker.HasPermission(ctx.Context(), ctx.GuildID, ctx.ChannelID, ctx.UserID, knownPerms) {
		ctx.Logger.Warn("User without permission tried to use command")
		cr.replyError(ctx, cmd, &CommandError{Message: "You need the Manage Roles permission to use this command", Ephemeral: true, Kind: KindDenied})
		cr.count(name, ctx.Form, "rejected")
		return
	}
	if tokens != nil {
		args, err := ParsePrefixArgs(ctx.Context(), cmd.Options(), tokens, cr.opts.Roles, ctx.GuildID)
		if err != nil {
			cr.replyError(ctx, cmd, err)
			cr.count(name, ctx.Form, "invalid")
			return
		}
		ctx.Args = args
	}

	ctx.Logger.Info("Executing command")
	if err := cr.run(ctx, cmd); err != nil {
		ctx.Logger.WithError(err).Warn("Command execution failed")
		cr.replyError(ctx, cmd, err)
		cr.count(name, ctx.Form, metrics.ResultError)
		return
	}
	cr.count(name, ctx.Form, metrics.ResultOK)
}

func (cr *CommandRouter) run(ctx *Context, cmd Command) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.ErrorLoggerRaw().Error("Command handler panicked",
				"command", cmd.Name(), "invocation_id", ctx.InvocationID, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			err = fmt.Errorf("command %s panicked: %v", cmd.Name(), r)
		}
	}()
	return cmd.Handle(ctx)
}

func (cr *CommandRouter) count(name string, form Form, result string) {
	metrics.CommandCount.WithLabelValues(name, string(form), result).Inc()
}

// replyError maps err to a user-facing reply. cmd may be nil.
func (cr *CommandRouter) replyError(ctx *Context, cmd Command, err error) {
	msg, ephemeral := cr.describe(ctx, cmd, err)
	if sendErr := ctx.send(Reply{Content: Format(ResponseError, msg), Ephemeral: ephemeral || cr.opts.PrivateErrors}); sendErr != nil {
		ctx.Logger.WithError(sendErr).Warn("Failed to deliver error reply")
	}
}

func (cr *CommandRouter) describe(ctx *Context, cmd Command, err error) (string, bool) {
	var (
		cmdErr *CommandError
		argErr *teamlist.ArgumentError
	)
	switch {
	case errors.As(err, &cmdErr):
		if cmdErr.Kind == KindInvalidArgument {
			return cmdErr.Message + cr.usageHint(cmd), cmdErr.Ephemeral
		}
		return cmdErr.Message, cmdErr.Ephemeral
	case errors.As(err, &argErr):
		return "Invalid argument: " + argErr.Reason + "." + cr.usageHint(cmd), false
	case errors.Is(err, teamlist.ErrInvalidArgument):
		return "Invalid argument." + cr.usageHint(cmd), false
	case errors.Is(err, teamlist.ErrNotFound):
		return "Not found.", false
	case errors.Is(err, teamlist.ErrAlreadyExists):
		return "Already exists.", false
	default:
		return fmt.Sprintf("An error occurred while executing the command (ref `%s`)", shortRef(ctx.InvocationID)), false
	}
}

func (cr *CommandRouter) usageHint(cmd Command) string {
	if cmd == nil {
		return ""
	}
	hint := "\nUsage: `" + Usage(cr.opts.Prefix, cmd) + "`"
	if ex := cmd.Example(); ex != "" {
		hint += "\nExample: `" + cr.opts.Prefix + ex + "`"
	}
	return hint
}

func shortRef(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func extractUserID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	} else if i.User != nil {
		return i.User.ID
	}
	return ""
}

// ## Slash command sync

// applicationCommands is the part of discordgo used to sync slash commands.
type applicationCommands interface {
	ApplicationCommands(appID, guildID string, options ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error)
	ApplicationCommandCreate(appID, guildID string, cmd *discordgo.ApplicationCommand, options ...discordgo.RequestOption) (*discordgo.ApplicationCommand, error)
	ApplicationCommandEdit(appID, guildID, cmdID string, cmd *discordgo.ApplicationCommand, options ...discordgo.RequestOption) (*discordgo.ApplicationCommand, error)
	ApplicationCommandDelete(appID, guildID, cmdID string, options ...discordgo.RequestOption) error
}

// CommandManager keeps Discord's global slash commands in line with the command table.
type CommandManager struct {
	api    applicationCommands
	router *CommandRouter
	logger *log.Logger
}

func NewCommandManager(session *discordgo.Session, router *CommandRouter) *CommandManager {
	return &CommandManager{
		api:    session,
		router: router,
		logger: log.ApplicationLogger().WithField("component", "command_manager"),
	}
}

// SyncCommands creates, updates and deletes global commands for appID.
func (cm *CommandManager) SyncCommands(ctx context.Context, appID string) error {
	opt := discordgo.WithContext(ctx)
	registered, err := cm.api.ApplicationCommands(appID, "", opt)
	if err != nil {
		return fmt.Errorf("failed to fetch registered commands: %w", err)
	}
	regByName := make(map[string]*discordgo.ApplicationCommand, len(registered))
	for _, rc := range registered {
		regByName[rc.Name] = rc
	}

	codeCommands := cm.router.registry.Commands()
	codeByName := make(map[string]struct{}, len(codeCommands))
	created, updated, unchanged := 0, 0, 0
	for _, cmd := range codeCommands {
		codeByName[cmd.Name()] = struct{}{}
		desired := &discordgo.ApplicationCommand{
			Name:        cmd.Name(),
			Description: cmd.Description(),
			Options:     cmd.Options(),
		}
		if existing, ok := regByName[cmd.Name()]; ok {
			if CompareCommands(existing, desired) {
				unchanged++
				continue
			}
			if _, err := cm.api.ApplicationCommandEdit(appID, "", existing.ID, desired, opt); err != nil {
				return fmt.Errorf("error updating command '%s': %w", cmd.Name(), err)
			}
			cm.logger.Info("Command updated", "command", cmd.Name())
			updated++
			continue
		}
		if _, err := cm.api.ApplicationCommandCreate(appID, "", desired, opt); err != nil {
			return fmt.Errorf("error creating command '%s': %w", cmd.Name(), err)
		}
		cm.logger.Info("Command created", "command", cmd.Name())
		created++
	}

	deleted := 0
	for _, rc := range registered {
		if _, exists := codeByName[rc.Name]; exists {
			continue
		}
		if err := cm.api.ApplicationCommandDelete(appID, "", rc.ID, opt); err != nil {
			cm.logger.Warn("Error removing orphan command", "command", rc.Name, "err", err)
			continue
		}
		cm.logger.Info("Orphan command removed", "command", rc.Name)
		deleted++
	}

	cm.logger.Info("Command synchronization completed",
		"created", created, "updated", updated, "deleted", deleted, "unchanged", unchanged, "total", len(codeCommands))
	return nil
}

// CompareCommands reports whether two commands are semantically equal.
func CompareCommands(a, b *discordgo.ApplicationCommand) bool {
	type shape struct {
		Name        string                                `json:"name"`
		Description string                                `json:"description"`
		Options     []*discordgo.ApplicationCommandOption `json:"options"`
	}
	ba, errA := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(shape{a.Name, a.Description, a.Options})
	bb, errB := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(shape{b.Name, b.Description, b.Options})
	return errA == nil && errB == nil && string(ba) == string(bb)
}
