package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/user/graphchat/internal/health"
	"github.com/user/graphchat/internal/render"
	"github.com/user/graphchat/internal/types"
)

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().Bool("watch", false, "keep polling and print every status change")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check that the server and assistant are reachable",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		defer setupLogging(cfg, true).Close()

		params, err := newParams(cfg)
		if err != nil {
			return err
		}
		target := params.Identity().Target()
		term := render.NewTerminal(0)
		label := fmt.Sprintf("%s %s", target.ServiceURL, target.AssistantID)

		watch, _ := cmd.Flags().GetBool("watch")
		if !watch {
			svc := newServiceFactory(cfg)(target)
			if err := health.Probe(context.Background(), svc, target.AssistantID); err != nil {
				fmt.Println(term.Status(types.StatusError), label)
				return err
			}
			fmt.Println(term.Status(types.StatusConnected), label)
			return nil
		}

		monitor := health.New(newServiceFactory(cfg), health.WithInterval(cfg.HealthInterval()))
		defer monitor.Stop()
		monitor.OnChange(func(s types.Status) {
			fmt.Println(term.Status(s), label)
		})
		monitor.SetTarget(target)

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		return nil
	},
}
