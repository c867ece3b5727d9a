package main

import (
	"fmt"
	"io"
	"sort"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/small-frappuccino/teamlists/pkg/app"
	"github.com/small-frappuccino/teamlists/pkg/config"
	"github.com/small-frappuccino/teamlists/pkg/store"
	"github.com/small-frappuccino/teamlists/pkg/teamlist"
	"github.com/small-frappuccino/teamlists/pkg/util"
)

func newStateCmd(configPath *string) *cobra.Command {
	stateCmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect the persisted list state",
		Long: `Inspect the persisted list state without connecting to Discord.

Available subcommands:
  show     - Summarize tracked lists, ranks and parameters
  validate - Load the state through the configured store and report errors`,
	}

	var asJSON bool
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Summarize the persisted state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, st, err := loadState(cmd, *configPath)
			if err != nil {
				return err
			}
			if asJSON {
				return writeDocument(cmd.OutOrStdout(), st)
			}
			writeSummary(cmd.OutOrStdout(), cfg, st)
			return nil
		},
	}
	showCmd.Flags().BoolVar(&asJSON, "json", false, "print the full document as JSON")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Check that the persisted state loads cleanly",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, st, err := loadState(cmd, *configPath)
			if err != nil {
				return fmt.Errorf("state is invalid: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ %s state at %s is valid (%d lists)\n", cfg.Storage.Driver, cfg.Storage.Path, len(st.Lists))
			return nil
		},
	}

	stateCmd.AddCommand(showCmd, validateCmd)
	return stateCmd
}

func loadState(cmd *cobra.Command, configPath string) (*config.Config, teamlist.State, error) {
	util.SetAppName(appName)
	cfg, err := app.LoadConfig(configPath)
	if err != nil {
		return nil, teamlist.State{}, err
	}
	state, err := app.OpenState(cmd.Context(), cfg)
	if err != nil {
		return nil, teamlist.State{}, err
	}
	defer func() { _ = state.Close() }()
	return cfg, state.Registry.Snapshot(), nil
}

func writeDocument(w io.Writer, st teamlist.State) error {
	data, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(store.NewDocument(st, time.Now()), "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func writeSummary(w io.Writer, cfg *config.Config, st teamlist.State) {
	rendered := 0
	guilds := make(map[string]int)
	for _, e := range st.Lists {
		if e.Rendered() {
			rendered++
		}
		guilds[e.GuildID]++
	}

	fmt.Fprintf(w, "Store:      %s (%s)\n", cfg.Storage.Path, cfg.Storage.Driver)
	fmt.Fprintf(w, "Lists:      %d (%d rendered)\n", len(st.Lists), rendered)
	fmt.Fprintf(w, "Guilds:     %d\n", len(guilds))
	fmt.Fprintf(w, "Rank roles: %d\n", countValues(st.RankRoles))
	fmt.Fprintf(w, "Parameters: %d\n", countValues(st.CustomParameters))

	ids := make([]string, 0, len(guilds))
	for id := range guilds {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, guildID := range ids {
		fmt.Fprintf(w, "\nGuild %s\n", guildID)
		for _, e := range st.Lists {
			if e.GuildID != guildID {
				continue
			}
			msg := "-"
			if e.MessageID != "" {
				msg = e.MessageID
			}
			fmt.Fprintf(w, "  #%s  role %s  message %s  hidden %d\n", e.ChannelID, e.TeamRoleID, msg, len(e.HiddenRoles))
		}
	}
}

func countValues[V any](m map[string][]V) int {
	n := 0
	for _, v := range m {
		n += len(v)
	}
	return n
}
