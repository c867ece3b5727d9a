package app

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/sync/errgroup"

	"github.com/small-frappuccino/teamlists/pkg/config"
	"github.com/small-frappuccino/teamlists/pkg/control"
	"github.com/small-frappuccino/teamlists/pkg/discord/commands/core"
	"github.com/small-frappuccino/teamlists/pkg/discord/commands/lists"
	"github.com/small-frappuccino/teamlists/pkg/discord/commands/params"
	"github.com/small-frappuccino/teamlists/pkg/discord/commands/ranks"
	"github.com/small-frappuccino/teamlists/pkg/discord/commands/settings"
	"github.com/small-frappuccino/teamlists/pkg/discord/events"
	"github.com/small-frappuccino/teamlists/pkg/discord/platform"
	"github.com/small-frappuccino/teamlists/pkg/discord/session"
	"github.com/small-frappuccino/teamlists/pkg/errutil"
	"github.com/small-frappuccino/teamlists/pkg/log"
	"github.com/small-frappuccino/teamlists/pkg/render"
	"github.com/small-frappuccino/teamlists/pkg/store"
	"github.com/small-frappuccino/teamlists/pkg/task"
	"github.com/small-frappuccino/teamlists/pkg/teamlist"
	"github.com/small-frappuccino/teamlists/pkg/theme"
	"github.com/small-frappuccino/teamlists/pkg/util"
)

const shutdownTimeout = 30 * time.Second

// newDiscordSession is replaced in tests.
var newDiscordSession = session.NewDiscordSession

// Options selects the configuration file for Run.
type Options struct {
	AppName    string
	ConfigPath string
}

// LoadConfig reads and validates the configuration at path, or the default path when empty.
func LoadConfig(path string) (*config.Config, error) {
	if strings.TrimSpace(path) == "" {
		path = config.DefaultPath()
	}
	var cfg *config.Config
	if err := errutil.HandleConfigError("load", path, func() error {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return err
		}
		return cfg.Validate()
	}); err != nil {
		return nil, err
	}
	return cfg, nil
}

// State is the restored registry with the persister writing it back.
type State struct {
	Registry  *teamlist.Registry
	Persister *store.Persister
	Store     store.Store
}

// Close releases the backing store.
func (s *State) Close() error {
	if s == nil || s.Store == nil {
		return nil
	}
	return s.Store.Close()
}

// OpenState opens the configured store and restores the registry from it.
func OpenState(ctx context.Context, cfg *config.Config) (*State, error) {
	if err := util.EnsureDirs(filepath.Dir(cfg.Storage.Path)); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}

	var st store.Store
	if err := errutil.HandleStoreError("open", cfg.Storage.Driver, func() error {
		var err error
		st, err = store.Open(cfg.Storage.Driver, cfg.Storage.Path)
		return err
	}); err != nil {
		return nil, err
	}

	registry := teamlist.NewRegistry()
	persister := store.NewPersister(registry, st)
	if err := errutil.HandleStoreError("restore", cfg.Storage.Driver, func() error {
		return persister.Restore(ctx)
	}); err != nil {
		_ = st.Close()
		return nil, err
	}
	return &State{Registry: registry, Persister: persister, Store: st}, nil
}

// commandDeps are the services the command handlers act on.
type commandDeps struct {
	registry *teamlist.Registry
	renderer *render.Renderer
	saver    *store.Persister
	status   settings.Status
}

// registerCommands installs every command module on router.
func registerCommands(router *core.CommandRouter, deps commandDeps) {
	lists.New(deps.registry, deps.renderer, deps.saver).Register(router)
	ranks.New(deps.registry, deps.renderer, deps.saver).Register(router)
	params.New(deps.registry, deps.renderer, deps.saver).Register(router)
	settings.New(deps.registry, deps.renderer, deps.saver, deps.status).Register(router)
}

func formatStartupMessage(appName, version string) string {
	appName = strings.TrimSpace(appName)
	version = strings.TrimSpace(version)
	if version == "" {
		return fmt.Sprintf("🚀 Starting %s...", appName)
	}
	return fmt.Sprintf("🚀 Starting %s %s...", appName, version)
}

func guildCount(s *discordgo.Session) int {
	if s == nil || s.State == nil {
		return 0
	}
	s.State.RLock()
	defer s.State.RUnlock()
	return len(s.State.Guilds)
}

// Run bootstraps the bot and blocks until ctx is cancelled or an interrupt arrives.
// A missing token is the only startup error that is not a configuration or storage failure.
func Run(ctx context.Context, opts Options) error {
	started := time.Now()
	if opts.AppName != "" {
		util.SetAppName(opts.AppName)
	}

	cfg, err := LoadConfig(opts.ConfigPath)
	if err != nil {
		return err
	}

	token, loadErr := util.LoadEnvWithLocalBinFallback(cfg.TokenEnv)

	if err := log.SetupLogger(log.Options{
		Level:      cfg.Log.Level,
		Dir:        cfg.Log.Dir,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Console:    true,
	}); err != nil {
		return fmt.Errorf("configure logger: %w", err)
	}
	defer func() { _ = log.Close() }()

	if err := theme.SetCurrent(cfg.Theme); err != nil {
		log.ApplicationLogger().Warn("Unknown theme, using default", "theme", cfg.Theme, "available", theme.Names(), "err", err)
	}

	log.ApplicationLogger().Info(formatStartupMessage(util.AppName(), Version))

	if token == "" {
		if loadErr != nil {
			return loadErr
		}
		return fmt.Errorf("%s not set in environment or .env file", cfg.TokenEnv)
	}

	ctx, stop := util.InterruptContext(ctx)
	defer stop()

	state, err := OpenState(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = state.Close() }()
	log.DatabaseLogger().Info("State loaded", "driver", cfg.Storage.Driver, "path", cfg.Storage.Path, "lists", len(state.Registry.Lists()))

	router := task.NewRouter(task.Defaults())
	defer router.Close()

	log.DiscordLogger().Info("Authenticating with Discord (token redacted)")
	s, err := newDiscordSession(token)
	if err != nil {
		return fmt.Errorf("create discord session: %w", err)
	}
	defer func() { _ = s.Close() }()
	if s.State == nil || s.State.User == nil {
		return fmt.Errorf("discord session state not properly initialized")
	}
	log.DiscordLogger().Info("Authenticated", "user", s.State.User.Username, "id", s.State.User.ID)

	discord := platform.New(s)
	renderer := render.New(state.Registry, discord, router, state.Persister, render.Options{
		MissingRolePolicy: cfg.Render.MissingRolePolicy,
	})
	sweeper := render.NewSweeper(renderer, render.SweepConfig{
		Interval:  cfg.Render.SweepInterval,
		Freshness: cfg.Render.Freshness,
		Pause:     cfg.Render.Pause,
	})

	commandRouter := core.NewCommandRouter(s, core.RouterOptions{
		Prefix:            cfg.Prefix,
		PrivateErrors:     cfg.Commands.PrivateErrors,
		DeleteInvocations: cfg.Commands.DeleteInvocations,
		Roles:             discord,
	})
	commandRouter.SetBaseContext(ctx)
	registerCommands(commandRouter, commandDeps{
		registry: state.Registry,
		renderer: renderer,
		saver:    state.Persister,
		status: settings.Status{
			Version:   Version,
			Started:   started,
			Guilds:    func() int { return guildCount(s) },
			LastSweep: sweeper.LastSweep,
		},
	})
	removeInteractions := s.AddHandler(commandRouter.HandleInteraction)
	defer removeInteractions()
	removeMessages := s.AddHandler(commandRouter.HandleMessage)
	defer removeMessages()

	if err := core.NewCommandManager(s, commandRouter).SyncCommands(ctx, s.State.User.ID); err != nil {
		// Prefix commands keep working without slash registration.
		log.ApplicationLogger().Error("Slash command sync failed", "err", err)
	}

	eventService := events.NewService(state.Registry, renderer, discord, state.Persister, events.Options{
		Announce: cfg.AnnounceOnStartup,
		Prefix:   cfg.Prefix,
	})
	if err := eventService.Start(ctx, s); err != nil {
		return fmt.Errorf("start event service: %w", err)
	}
	defer eventService.Stop()

	controlServer := control.NewServer(cfg.Control.Addr, state.Registry, sweeper, func() (bool, int) {
		return s.DataReady, guildCount(s)
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := controlServer.Start(); err != nil {
			return err
		}
		<-gctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return controlServer.Stop(stopCtx)
	})
	g.Go(func() error {
		sweeper.Start(gctx)
		// Render everything once instead of waiting a full interval.
		stats, err := sweeper.Sweep(gctx)
		if err != nil && gctx.Err() == nil {
			return err
		}
		log.ApplicationLogger().Info("Startup sweep finished",
			"rendered", stats.Rendered, "skipped", stats.Skipped, "failed", stats.Failed)
		<-gctx.Done()
		return nil
	})

	log.ApplicationLogger().Info("Bot running, press Ctrl+C to stop",
		"startup", time.Since(started).Round(time.Millisecond).String())

	err = g.Wait()
	log.ApplicationLogger().Info("Stopping", "app", util.AppName())

	saveCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if saveErr := state.Persister.Save(saveCtx); saveErr != nil {
		log.DatabaseLogger().Error("Final state save failed", "err", saveErr)
	}
	return err
}
