package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/graphchat/internal/config"
	"github.com/user/graphchat/internal/gateway"
	"github.com/user/graphchat/internal/tokens"
	"github.com/user/graphchat/internal/types"
)

const maxTelegramMessage = 4096

// sender is the part of the bot API the adapter sends through.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Adapter bridges Telegram chats to the gateway. Each chat has its own
// chat controller and so its own thread and settings.
type Adapter struct {
	bot     *tgbotapi.BotAPI
	out     sender
	gateway *gateway.Gateway
	counter *tokens.Counter
	logger  *slog.Logger
}

// New creates a Telegram adapter.
func New(token string, gw *gateway.Gateway, logger *slog.Logger) (*Adapter, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	a := newAdapter(bot, gw, logger)
	a.bot = bot
	if counter, err := tokens.New(""); err == nil {
		a.counter = counter
	} else {
		a.logger.Warn("token counter unavailable", "error", err)
	}
	return a, nil
}

func newAdapter(out sender, gw *gateway.Gateway, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{out: out, gateway: gw, logger: logger}
}

// Start begins long-polling for Telegram updates.
func (a *Adapter) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := a.bot.GetUpdatesChan(u)

	for {
		select {
		case update := <-updates:
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			a.handleMessage(ctx, update.Message)
		case <-ctx.Done():
			a.bot.StopReceivingUpdates()
			return
		}
	}
}

func (a *Adapter) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.IsCommand() {
		a.handleCommand(ctx, msg)
		return
	}

	chatID := msg.Chat.ID
	key := buildSessionKey(msg.From.ID, chatID)
	err := a.gateway.HandleInbound(ctx, key, msg.Text, gateway.WithOnComplete(func(response string) {
		a.sendResponse(chatID, response)
	}))
	if err != nil {
		a.logger.Error("handle inbound failed", "chat", string(key), "error", err)
		a.sendResponse(chatID, "Sorry, I encountered an error processing your message.")
	}
}

func (a *Adapter) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	c := a.gateway.Controller(buildSessionKey(msg.From.ID, chatID))

	switch msg.Command() {
	case "start":
		a.sendResponse(chatID, "Hello! Send me a message and I will pass it to the agent.")

	case "new":
		c.NewChat()
		a.sendResponse(chatID, "Started a new chat. Your next message opens a new thread.")

	case "status":
		id := c.Identity()
		thread := id.ThreadID
		if thread == "" {
			thread = "(new chat)"
		}
		lines := []string{
			"Status: " + string(c.CheckHealth(ctx)),
			"Server: " + id.ServiceURL,
			"Assistant: " + id.AssistantID,
			"Thread: " + thread,
		}
		if a.counter != nil {
			lines = append(lines, "Context: "+a.counter.Estimate(c.State().Messages).String())
		}
		a.sendResponse(chatID, strings.Join(lines, "\n"))

	case "threads":
		if err := c.LoadThreads(ctx); err != nil {
			a.sendResponse(chatID, "Could not load threads.")
			return
		}
		list := c.Threads()
		if len(list) == 0 {
			a.sendResponse(chatID, "No threads yet.")
			return
		}
		current := c.Identity().ThreadID
		var b strings.Builder
		for _, t := range list {
			marker := " "
			if t.ThreadID == current {
				marker = "*"
			}
			fmt.Fprintf(&b, "%s %s: %s\n", marker, t.ThreadID, t.Preview)
		}
		a.sendResponse(chatID, strings.TrimRight(b.String(), "\n"))

	case "thread":
		threadID := strings.TrimSpace(msg.CommandArguments())
		if threadID == "" {
			a.sendResponse(chatID, "Usage: /thread <id>")
			return
		}
		if err := c.SwitchThread(ctx, threadID); err != nil {
			a.sendResponse(chatID, "Could not switch thread.")
			return
		}
		a.sendResponse(chatID, fmt.Sprintf("Switched to thread %s (%d messages).", threadID, len(c.State().Messages)))

	case "tools":
		switch strings.TrimSpace(msg.CommandArguments()) {
		case "on":
			c.Params().SetBool(config.ParamHideToolCalls, false)
			a.sendResponse(chatID, "Tool results will be shown.")
		case "off":
			c.Params().SetBool(config.ParamHideToolCalls, true)
			a.sendResponse(chatID, "Tool results will be hidden.")
		default:
			a.sendResponse(chatID, "Usage: /tools on|off")
		}

	default:
		a.sendResponse(chatID, "Unknown command. Available: /start, /new, /status, /threads, /thread <id>, /tools on|off")
	}
}

func (a *Adapter) sendResponse(chatID int64, text string) {
	parts := splitMessage(text)
	for _, part := range parts {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = "Markdown"
		if _, err := a.out.Send(msg); err != nil {
			// Retry without markdown if it fails
			msg.ParseMode = ""
			if _, err := a.out.Send(msg); err != nil {
				a.logger.Error("send message failed", "chat_id", chatID, "error", err)
			}
		}
	}
}

func splitMessage(text string) []string {
	if len(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(text) > 0 {
		end := maxTelegramMessage
		if end > len(text) {
			end = len(text)
		}
		parts = append(parts, text[:end])
		text = text[end:]
	}
	return parts
}

func buildSessionKey(userID, chatID int64) types.SessionKey {
	return types.NewSessionKey("telegram",
		strconv.FormatInt(userID, 10),
		strconv.FormatInt(chatID, 10),
	)
}
