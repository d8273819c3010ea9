package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/graphchat/internal/chat"
	"github.com/user/graphchat/internal/config"
	"github.com/user/graphchat/internal/render"
	"github.com/user/graphchat/internal/stream"
	"github.com/user/graphchat/internal/tokens"
	"github.com/user/graphchat/pkg/langgraph"
)

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringP("message", "m", "", "send one message, print the reply and exit")
	chatCmd.Flags().Int("width", 100, "wrap output at this many columns (0 disables wrapping)")
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the assistant in the terminal",
	Args:  cobra.NoArgs,
	RunE:  runChat,
}

const chatHelp = `Commands:
  /new            start a new chat
  /threads        list chat history
  /thread <n|id>  open a thread from the list or by id
  /tools on|off   show or hide tool results
  /expand         show the last conversation with tool results in full
  /status         check the connection
  /tokens         estimate the context size
  /link           print a link to this chat
  /config <url> <assistant>  switch server and assistant ("-" keeps the default)
  /reset          switch back to the configured server and assistant
  /quit           exit
Ctrl-C stops a running reply.`

type repl struct {
	cfg     *config.Config
	c       *chat.Controller
	term    *render.Terminal
	counter *tokens.Counter
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	closer := setupLogging(cfg, true)
	defer closer.Close()

	params, err := newParams(cfg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := newController(cfg, params)
	c.Start(ctx)
	defer c.Close()
	if err := c.WaitReady(ctx); err != nil {
		return err
	}

	width, _ := cmd.Flags().GetInt("width")
	r := &repl{cfg: cfg, c: c, term: render.NewTerminal(width)}
	if counter, err := tokens.New(""); err == nil {
		r.counter = counter
	}

	if msg, _ := cmd.Flags().GetString("message"); msg != "" {
		if err := c.Submit(ctx, msg); err != nil {
			return err
		}
		fmt.Println(render.LastReply(c.State().Messages))
		return nil
	}
	return r.run(ctx)
}

func (r *repl) options(expanded bool) render.Options {
	return render.Options{
		HideToolCalls: r.c.Params().Bool(config.ParamHideToolCalls),
		Expanded:      expanded,
	}
}

func (r *repl) run(ctx context.Context) error {
	fmt.Println(r.term.Status(r.c.CheckHealth(ctx)), r.c.Identity().ServiceURL, r.c.Identity().AssistantID)
	if msgs := r.c.State().Messages; len(msgs) > 0 {
		fmt.Println(r.term.Messages(msgs, r.options(false)))
	}
	fmt.Println("Type /help for commands.")

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		fmt.Print("> ")
		select {
		case <-interrupts:
			fmt.Println()
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if strings.HasPrefix(line, "/") {
				if quit := r.command(ctx, line); quit {
					return nil
				}
				continue
			}
			r.submit(ctx, line, interrupts)
		}
	}
}

// submit sends text and prints what the assistant produced for it. An
// interrupt while waiting stops the run.
func (r *repl) submit(ctx context.Context, text string, interrupts <-chan os.Signal) {
	done := make(chan error, 1)
	go func() { done <- r.c.Submit(ctx, text) }()

	var err error
	select {
	case err = <-done:
	case <-interrupts:
		r.c.Stop()
		err = <-done
		fmt.Println("Stopped.")
	}
	if err != nil {
		if errors.Is(err, stream.ErrBusy) {
			fmt.Println("A reply is still running.")
			return
		}
		fmt.Println("Error:", err)
		return
	}
	r.printReply(r.c.State().Messages, false)
}

// printReply prints the messages after the last human message.
func (r *repl) printReply(msgs []langgraph.Message, expanded bool) {
	for _, it := range render.Items(render.LastTurn(msgs), r.options(expanded)) {
		fmt.Println(r.term.Item(it))
	}
}

// command runs a slash command and reports whether the REPL should exit.
func (r *repl) command(ctx context.Context, line string) bool {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Println(chatHelp)
	case "/new":
		r.c.NewChat()
		if err := r.c.WaitReady(ctx); err != nil {
			fmt.Println("Error:", err)
		}
		fmt.Println("Started a new chat.")
	case "/threads":
		if err := r.c.LoadThreads(ctx); err != nil {
			fmt.Println("Error:", err)
			return false
		}
		fmt.Println(r.term.Threads(r.c.Threads(), r.c.Identity().ThreadID))
	case "/thread":
		r.openThread(ctx, arg)
	case "/tools":
		switch arg {
		case "on":
			r.c.Params().SetBool(config.ParamHideToolCalls, false)
		case "off":
			r.c.Params().SetBool(config.ParamHideToolCalls, true)
		default:
			fmt.Println("Usage: /tools on|off")
		}
	case "/expand":
		r.printReply(r.c.State().Messages, true)
	case "/status":
		fmt.Println(r.term.Status(r.c.CheckHealth(ctx)), r.c.Identity().ServiceURL, r.c.Identity().AssistantID)
	case "/tokens":
		if r.counter == nil {
			fmt.Println("Token counting is unavailable.")
			return false
		}
		fmt.Println(r.counter.Estimate(r.c.State().Messages))
	case "/link":
		link, err := r.c.Params().Link(linkBase(r.cfg))
		if err != nil {
			fmt.Println("Error:", err)
			return false
		}
		fmt.Println(link)
	case "/config":
		fields := strings.Fields(arg)
		if len(fields) != 2 {
			fmt.Println("Usage: /config <url> <assistant>")
			return false
		}
		for i, f := range fields {
			if f == "-" {
				fields[i] = ""
			}
		}
		r.configure(ctx, fields[0], fields[1])
	case "/reset":
		r.configure(ctx, "", "")
	default:
		fmt.Println("Unknown command. Type /help for commands.")
	}
	return false
}

func (r *repl) configure(ctx context.Context, apiURL, assistantID string) {
	if err := r.c.Configure(apiURL, assistantID); err != nil {
		fmt.Println("Error:", err)
		return
	}
	id := r.c.Identity()
	fmt.Println(r.term.Status(r.c.CheckHealth(ctx)), id.ServiceURL, id.AssistantID)
}

// openThread switches to a thread given by its position in the last
// listing or by id.
func (r *repl) openThread(ctx context.Context, arg string) {
	if arg == "" {
		fmt.Println("Usage: /thread <n|id>")
		return
	}
	threadID := arg
	if n, err := strconv.Atoi(arg); err == nil {
		list := r.c.Threads()
		if n < 1 || n > len(list) {
			fmt.Println("No such thread. Use /threads to list them.")
			return
		}
		threadID = list[n-1].ThreadID
	}
	if err := r.c.SwitchThread(ctx, threadID); err != nil {
		fmt.Println("Error:", err)
		return
	}
	fmt.Println(r.term.Messages(r.c.State().Messages, r.options(false)))
}
