package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/user/graphchat/internal/config"
)

var revealSecrets bool

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configListCmd, configGetCmd, configSetCmd)
	configListCmd.Flags().BoolVar(&revealSecrets, "reveal", false, "show API keys and tokens in full")
	configGetCmd.Flags().BoolVar(&revealSecrets, "reveal", false, "show API keys and tokens in full")
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: "Read and change the config file. Keys are dot-separated, for example\n" +
		"health.interval_ms or http.listen. Environment overrides are applied on load\n" +
		"and are not written back.",
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all configuration values",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := config.ListValues(loadConfig(), !revealSecrets)
		if err != nil {
			return fmt.Errorf("list config: %w", err)
		}
		for _, e := range entries {
			fmt.Fprintf(os.Stdout, "%s = %v\n", e.Key, e.Value)
		}
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a configuration value",
	Args:  cobra.ExactArgs(1),
	ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return config.Keys(), cobra.ShellCompDirectiveNoFileComp
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		loadConfig()
		val, err := config.GetValue(cfgPath, args[0])
		if err != nil {
			return err
		}
		if config.IsSecretKey(args[0]) && !revealSecrets {
			val = config.Mask(val)
		}
		fmt.Fprintln(os.Stdout, val)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		if len(args) > 0 {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		return config.Keys(), cobra.ShellCompDirectiveNoFileComp
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		loadConfig()
		if err := config.SetValue(cfgPath, args[0], args[1]); err != nil {
			return err
		}
		var display any = args[1]
		if config.IsSecretKey(args[0]) {
			display = config.Mask(args[1])
		}
		fmt.Fprintf(os.Stdout, "Set %s = %v\n", args[0], display)
		if args[0] == "http.listen" || args[0] == "telegram.token" || args[0] == "http.enabled" {
			fmt.Fprintln(os.Stdout, "Run `graphchat restart` for a running server to pick this up.")
		}
		return nil
	},
}
