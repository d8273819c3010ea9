package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/graphchat/internal/config"
	"github.com/user/graphchat/internal/health"
	"github.com/user/graphchat/internal/types"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		scanner := bufio.NewScanner(os.Stdin)

		fmt.Println("graphchat setup")
		fmt.Println("Press Enter to accept the default value shown in brackets.")
		fmt.Println()

		cfg.APIURL = prompt(scanner, "LangGraph server URL", cfg.APIURL)
		cfg.AssistantID = prompt(scanner, "Assistant or graph id", cfg.AssistantID)
		cfg.APIKey = prompt(scanner, "LangSmith API key (optional)", cfg.APIKey)
		cfg.Telegram.Token = prompt(scanner, "Telegram bot token (optional)", cfg.Telegram.Token)
		cfg.HTTP.Listen = prompt(scanner, "Web listen address", cfg.HTTP.Listen)
		cfg.HTTP.Enabled = strings.HasPrefix(strings.ToLower(prompt(scanner, "Enable web front-end (y/n)", yesNo(cfg.HTTP.Enabled))), "y")

		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		fmt.Println()
		fmt.Println("Configuration saved to", cfgPath)

		target := types.Target{ServiceURL: cfg.APIURL, AssistantID: cfg.AssistantID, APIKey: cfg.APIKey}
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		fmt.Printf("Checking %s ... ", cfg.APIURL)
		if err := health.Probe(ctx, newServiceFactory(cfg)(target), cfg.AssistantID); err != nil {
			fmt.Println("failed")
			fmt.Println("  ", err)
			fmt.Println("Fix the values with `graphchat config set` or run setup again.")
			return nil
		}
		fmt.Println("ok")
		return nil
	},
}

func yesNo(b bool) string {
	if b {
		return "y"
	}
	return "n"
}

// prompt displays a labeled prompt with a default value and reads user input.
// If the user enters nothing, the default is returned.
func prompt(scanner *bufio.Scanner, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("%s: ", label)
	}
	if scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input != "" {
			return input
		}
	}
	return defaultVal
}
