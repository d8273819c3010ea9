package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/user/graphchat/internal/chat"
	"github.com/user/graphchat/internal/config"
	"github.com/user/graphchat/internal/gateway"
	"github.com/user/graphchat/internal/telegram"
	"github.com/user/graphchat/internal/telemetry"
	"github.com/user/graphchat/internal/types"
	"github.com/user/graphchat/internal/web"
)

// drainTimeout bounds how long shutdown waits for in-flight turns.
const drainTimeout = 30 * time.Second

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web front-end and the Telegram bridge",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

// gatewayController builds the controller of one gateway chat. Every chat
// starts from the command-line Config State; webhook chats only return the
// assistant's text.
func gatewayController(cfg *config.Config) (gateway.ControllerFactory, error) {
	query, err := paramsQuery()
	if err != nil {
		return nil, err
	}
	return func(key types.SessionKey) *chat.Controller {
		q := url.Values{}
		for k, v := range query {
			q[k] = append([]string(nil), v...)
		}
		if strings.HasPrefix(string(key), "webhook:") {
			q.Set(config.ParamHideToolCalls, "true")
		}
		// Gateway chats never poll health: /status probes on demand.
		opts := controllerOptions(cfg)
		opts.HealthInterval = -1
		return chat.New(config.NewParams(cfg.Defaults(), q), newServiceFactory(cfg), opts)
	}, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	closer := setupLogging(cfg, false)
	defer closer.Close()

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	pidPath, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Telemetry.Enabled {
		dir := cfg.Telemetry.Dir
		if dir == "" {
			dir = filepath.Join(cfg.DataDir, "telemetry")
		}
		shutdown, err := telemetry.Init(ctx, dir, version)
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		defer shutdown()
	}

	factory, err := gatewayController(cfg)
	if err != nil {
		return err
	}
	gw := gateway.New(factory, int64(cfg.MaxConcurrent))
	gw.Start(ctx)
	defer gw.Stop()

	params, err := newParams(cfg)
	if err != nil {
		return err
	}
	controller := newController(cfg, params)
	controller.Start(ctx)
	defer controller.Close()

	slog.Info("graphchat started",
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"api_url", cfg.APIURL,
		"assistant_id", cfg.AssistantID,
		"max_concurrent", cfg.MaxConcurrent,
		"pid_file", pidPath,
	)

	if cfg.Telegram.Token != "" {
		adapter, err := telegram.New(cfg.Telegram.Token, gw, slog.Default())
		if err != nil {
			return fmt.Errorf("create telegram adapter: %w", err)
		}
		go adapter.Start(ctx)
		slog.Info("telegram adapter started")
	} else {
		slog.Warn("telegram adapter disabled (no token)")
	}

	if cfg.HTTP.Enabled {
		srv := web.NewServer(controller, web.WithAsk(gw.Ask), web.WithLogger(slog.Default()))
		httpServer := &http.Server{
			Addr:    cfg.HTTP.Listen,
			Handler: otelhttp.NewHandler(srv, "graphchat.web"),
		}
		go func() {
			slog.Info("web server started", "listen", cfg.HTTP.Listen, "link", linkBase(cfg))
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("web server error", "error", err)
			}
		}()
		go func() {
			<-ctx.Done()
			httpServer.Close()
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigChan
		if !gw.Queue.WaitIdle(drainTimeout) {
			slog.Warn("turns still running, stopping them", "signal", sig)
		}
		if sig == syscall.SIGHUP {
			slog.Info("received SIGHUP, restarting")
			execPath, err := os.Executable()
			if err != nil {
				slog.Error("failed to get executable path", "error", err)
				continue
			}
			os.Remove(pidPath)
			if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
				slog.Error("failed to re-exec", "error", err)
				if _, writeErr := writePIDFile(cfg.DataDir); writeErr != nil {
					slog.Error("failed to re-write PID file", "error", writeErr)
				}
				continue
			}
		}
		slog.Info("shutting down", "signal", sig)
		return nil
	}
}
