package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/small-frappuccino/teamlists/pkg/app"
	"github.com/small-frappuccino/teamlists/pkg/log"
)

const appName = "teamlists"

// runBot is replaced in tests.
var runBot = app.Run

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   appName,
		Short: "Discord bot that keeps team roster messages up to date",
		Long: `teamlists posts one embed per tracked team role and keeps it current.

Without a subcommand the bot is started, same as "teamlists run".
The bot token is read from DISCORD_TOKEN (see token_env in the config file).`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBot(cmd.Context(), app.Options{AppName: appName, ConfigPath: configPath})
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default $TEAMLISTS_CONFIG or the user config dir)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to Discord and serve commands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBot(cmd.Context(), app.Options{AppName: appName, ConfigPath: configPath})
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", appName, app.Version)
		},
	}

	root.AddCommand(runCmd, versionCmd, newStateCmd(&configPath), newConfigCmd(&configPath))
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.ErrorLoggerRaw().Error("Fatal", "err", err)
		fmt.Fprintln(os.Stderr, "Error:", err)
		_ = log.Close()
		os.Exit(1)
	}
}
