// Package bot connects the conversation engine to Telegram.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"digest_bot/internal/config"
	"digest_bot/internal/dialog"
)

// DefaultSweepInterval is how often expired dialogues are dropped.
const DefaultSweepInterval = time.Minute

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Engine handles dialogue events.
type Engine interface {
	Handle(ctx context.Context, ev dialog.Event) dialog.Response
	Sweep() int
}

// commandActions maps bot commands to the action tokens they trigger.
var commandActions = map[string]string{
	"start":     dialog.ActionStart,
	"help":      dialog.ActionHelp,
	"cancel":    dialog.ActionCancel,
	"newgroup":  dialog.ActionRequestNewGroup,
	"groups":    dialog.ActionListGroups,
	"addsource": dialog.ActionRequestAddSource,
	"digest":    dialog.ActionRequestDigest,
}

type job struct {
	chatID int64
	event  dialog.Event
}

// Bot is the Telegram bot that feeds user events to the engine and sends
// its replies. Events of one account are processed in arrival order.
type Bot struct {
	api    telegramAPI
	engine Engine
	cfg    *config.Config
	log    *slog.Logger
	refs   *refStore
	sweep  time.Duration

	mu     sync.Mutex
	queues map[int64][]job
	wg     sync.WaitGroup
}

// New creates a Bot with the given Telegram token, engine, and config.
func New(token string, engine Engine, cfg *config.Config, log *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	return newBot(api, engine, cfg, log), nil
}

func newBot(api telegramAPI, engine Engine, cfg *config.Config, log *slog.Logger) *Bot {
	return &Bot{
		api:    api,
		engine: engine,
		cfg:    cfg,
		log:    log,
		refs:   newRefStore(maxRefs),
		sweep:  DefaultSweepInterval,
		queues: make(map[int64][]job),
	}
}

// Run starts the bot's long-polling loop, blocking until ctx is cancelled.
// Events already queued are finished before it returns.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	ticker := time.NewTicker(b.sweep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.wg.Wait()
			return
		case <-ticker.C:
			if n := b.engine.Sweep(); n > 0 {
				b.log.Debug("expired dialogs dropped", "count", n)
			}
		case update, ok := <-updates:
			if !ok {
				b.wg.Wait()
				return
			}
			b.handleUpdate(ctx, update)
		}
	}
}

// SendMessage sends a text message to the given chat.
func (b *Bot) SendMessage(chatID int64, text string) {
	b.send(chatID, dialog.Response{Text: text})
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.CallbackQuery != nil {
		b.handleCallback(ctx, update.CallbackQuery)
		return
	}

	msg := update.Message
	if msg == nil || msg.From == nil || msg.Text == "" {
		return
	}
	chatID := msg.Chat.ID
	if !b.cfg.IsUserAllowed(msg.From.ID) {
		b.reply(chatID, "Access denied.")
		return
	}

	ev := dialog.Event{AccountID: msg.From.ID, DisplayName: displayName(msg.From)}
	if msg.IsCommand() {
		action, ok := commandAction(msg.Command(), strings.TrimSpace(msg.CommandArguments()))
		if !ok {
			b.reply(chatID, "Unknown command. Use /help for a list of commands.")
			return
		}
		ev.Action = action
	} else {
		ev.Text = msg.Text
	}

	b.log.Debug("message", "account_id", ev.AccountID, "chat_id", chatID, "action", ev.Action)
	b.enqueue(ctx, job{chatID: chatID, event: ev})
}

func commandAction(cmd, args string) (string, bool) {
	action, ok := commandActions[cmd]
	if !ok {
		return "", false
	}
	// "/digest Morning News" goes straight to the group's digest.
	if action == dialog.ActionRequestDigest && args != "" && !strings.Contains(args, dialog.Separator) {
		return dialog.Token(dialog.ActionDigest, args), true
	}
	return action, true
}

// enqueue adds the job to its account's queue, starting a worker for the
// account if none is running.
func (b *Bot) enqueue(ctx context.Context, j job) {
	id := j.event.AccountID

	b.mu.Lock()
	q, active := b.queues[id]
	b.queues[id] = append(q, j)
	b.mu.Unlock()

	if active {
		return
	}
	b.wg.Add(1)
	go b.work(ctx, id)
}

func (b *Bot) work(ctx context.Context, accountID int64) {
	defer b.wg.Done()
	for {
		b.mu.Lock()
		q := b.queues[accountID]
		if len(q) == 0 {
			delete(b.queues, accountID)
			b.mu.Unlock()
			return
		}
		j := q[0]
		b.queues[accountID] = q[1:]
		b.mu.Unlock()

		b.send(j.chatID, b.engine.Handle(ctx, j.event))
	}
}

func (b *Bot) send(chatID int64, resp dialog.Response) {
	parts := SplitMessage(resp.Text, MaxMessageLength)
	for i, part := range parts {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.DisableWebPagePreview = true
		if i == len(parts)-1 && len(resp.Buttons) > 0 {
			msg.ReplyMarkup = b.keyboard(resp.Buttons)
		}
		if _, err := b.api.Send(msg); err != nil {
			b.log.Error("send message", "chat_id", chatID, "error", err)
			return
		}
	}
}

func (b *Bot) reply(chatID int64, text string) {
	b.SendMessage(chatID, text)
}

func displayName(u *tgbotapi.User) string {
	if u.UserName != "" {
		return "@" + u.UserName
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}
