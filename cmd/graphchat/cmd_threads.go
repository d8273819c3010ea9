package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/graphchat/internal/config"
	"github.com/user/graphchat/internal/render"
	"github.com/user/graphchat/internal/threads"
)

func init() {
	rootCmd.AddCommand(threadsCmd)
	threadsCmd.AddCommand(threadsListCmd, threadsShowCmd)
	threadsShowCmd.Flags().Bool("expand", false, "show tool results in full")
}

var threadsCmd = &cobra.Command{
	Use:   "threads",
	Short: "Browse chat history",
}

var threadsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List threads of the assistant",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		defer setupLogging(cfg, true).Close()

		params, err := newParams(cfg)
		if err != nil {
			return err
		}
		id := params.Identity()
		svc := newServiceFactory(cfg)(id.Target())
		store := threads.New(svc, id.AssistantID,
			threads.WithLimit(cfg.Threads.SearchLimit),
			threads.WithTitleMaxLength(cfg.Threads.TitleMaxLength))
		if err := store.Load(context.Background()); err != nil {
			return fmt.Errorf("list threads: %w", err)
		}

		list := store.Threads()
		if len(list) == 0 {
			fmt.Println("No threads found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tUPDATED\tPREVIEW")
		for _, t := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\n",
				t.ThreadID,
				t.UpdatedAt.Local().Format("2006-01-02 15:04:05"),
				threads.Preview(t, cfg.Threads.TitleMaxLength),
			)
		}
		return w.Flush()
	},
}

var threadsShowCmd = &cobra.Command{
	Use:   "show <thread-id>",
	Short: "Print the messages of a thread",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		defer setupLogging(cfg, true).Close()

		params, err := newParams(cfg)
		if err != nil {
			return err
		}
		id := params.Identity()
		state, err := newServiceFactory(cfg)(id.Target()).GetThreadState(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("get thread: %w", err)
		}

		expand, _ := cmd.Flags().GetBool("expand")
		term := render.NewTerminal(100)
		fmt.Println(term.Messages(state.Values.Messages, render.Options{
			HideToolCalls: params.Bool(config.ParamHideToolCalls),
			Expanded:      expand,
		}))
		return nil
	},
}
