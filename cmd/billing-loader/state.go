package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/state"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "inspects the load state",
}

var stateShowCmd = &cobra.Command{
	Use:   "show <provider>",
	Short: "prints the executions loaded for each billing month",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		name := args[0]
		if _, ok := cfg.Providers[name]; !ok {
			return fmt.Errorf("provider %q is not configured", name)
		}

		ctx, cancel := setupSignals()
		defer cancel()
		states, release, err := cfg.StateStore(ctx)
		if err != nil {
			return err
		}
		defer release()

		key := state.Key(name, cfg.Table(name))
		s, err := states.Load(ctx, key)
		if err != nil {
			return err
		}
		data, err := state.Encode(s)
		if err != nil {
			return err
		}
		logger.Debugf("state key %s", key)
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return err
	},
}

func init() {
	stateCmd.AddCommand(stateShowCmd)
}
