package main

import (
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/user/graphchat/internal/chat"
	"github.com/user/graphchat/internal/config"
	"github.com/user/graphchat/internal/telemetry"
	"github.com/user/graphchat/internal/types"
)

var version = "dev"

var (
	cfgPath         string
	flagAPIURL      string
	flagAssistantID string
	flagAPIKey      string
	flagThread      string
	flagLink        string
)

var rootCmd = &cobra.Command{
	Use:           "graphchat",
	Short:         "Chat with a LangGraph agent from the terminal, the browser or Telegram",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgPath, "config", filepath.Join(os.Getenv("HOME"), ".graphchat", "config.json"), "config file path")
	flags.StringVar(&flagAPIURL, "api-url", "", "LangGraph server URL (overrides api_url)")
	flags.StringVar(&flagAssistantID, "assistant-id", "", "assistant or graph id (overrides assistant_id)")
	flags.StringVar(&flagAPIKey, "api-key", "", "LangSmith API key (overrides api_key)")
	flags.StringVar(&flagThread, "thread", "", "thread to open")
	flags.StringVar(&flagLink, "link", "", "chat link whose query selects server, assistant and thread")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file, exiting on failure.
func loadConfig() *config.Config {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// setupLogging installs the default logger. Interactive commands log to
// the log file only when one is configured, and otherwise only warnings.
func setupLogging(cfg *config.Config, interactive bool) io.Closer {
	level := cfg.LogLevel
	if interactive && cfg.LogFile == "" && telemetry.ParseLevel(level) < slog.LevelWarn {
		level = "warn"
	}
	_, closer, err := telemetry.InitLogger(level, cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	return closer
}

// paramsQuery collects the Config State given on the command line: first
// the --link query, then the individual flags on top.
func paramsQuery() (url.Values, error) {
	query := url.Values{}
	if flagLink != "" {
		u, err := url.Parse(flagLink)
		if err != nil {
			return nil, fmt.Errorf("parse --link: %w", err)
		}
		query = u.Query()
	}
	set := func(key, value string) {
		if value != "" {
			query.Set(key, value)
		}
	}
	set(config.ParamAPIURL, flagAPIURL)
	set(config.ParamAssistantID, flagAssistantID)
	set(config.ParamAPIKey, flagAPIKey)
	set(config.ParamThreadID, flagThread)
	return query, nil
}

func newParams(cfg *config.Config) (*config.Params, error) {
	query, err := paramsQuery()
	if err != nil {
		return nil, err
	}
	return config.NewParams(cfg.Defaults(), query), nil
}

func controllerOptions(cfg *config.Config) chat.Options {
	return chat.Options{
		HealthInterval:       cfg.HealthInterval(),
		ThreadIDRefreshDelay: cfg.ThreadIDRefreshDelay(),
		MessageRefreshDelay:  cfg.MessageRefreshDelay(),
		SearchLimit:          cfg.Threads.SearchLimit,
		TitleMaxLength:       cfg.Threads.TitleMaxLength,
		Logger:               slog.Default(),
	}
}

func newServiceFactory(cfg *config.Config) types.ServiceFactory {
	return chat.NewServiceFactory(cfg.RequestTimeout())
}

// newController builds a controller for params. Callers Start it.
func newController(cfg *config.Config, params *config.Params) *chat.Controller {
	return chat.New(params, newServiceFactory(cfg), controllerOptions(cfg))
}

// linkBase is the address of the web front-end that links point at.
func linkBase(cfg *config.Config) string {
	return "http://" + cfg.HTTP.Listen + "/"
}
