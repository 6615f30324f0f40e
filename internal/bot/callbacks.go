package bot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"digest_bot/internal/dialog"
)

// Telegram rejects callback data longer than 64 bytes.
const maxCallbackData = 64

const refPrefix = "ref:"

// maxRefs bounds the aliases kept in memory. The oldest are forgotten first
// and their buttons answer msgMenuExpired.
const maxRefs = 10000

const msgMenuExpired = "This menu has expired. Use /start to open the main menu."

// refStore replaces action tokens too long for callback data with short
// aliases and resolves them back on press.
type refStore struct {
	mu     sync.Mutex
	limit  int
	tokens map[string]string
	order  []string
}

func newRefStore(limit int) *refStore {
	return &refStore{limit: limit, tokens: make(map[string]string)}
}

func (r *refStore) shorten(token string) string {
	if len(token) <= maxCallbackData && !strings.HasPrefix(token, refPrefix) {
		return token
	}
	sum := sha256.Sum256([]byte(token))
	key := refPrefix + hex.EncodeToString(sum[:16])

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tokens[key]; ok {
		return key
	}
	r.tokens[key] = token
	r.order = append(r.order, key)
	for len(r.order) > r.limit {
		delete(r.tokens, r.order[0])
		r.order = r.order[1:]
	}
	return key
}

func (r *refStore) resolve(data string) (string, bool) {
	if !strings.HasPrefix(data, refPrefix) {
		return data, true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	token, ok := r.tokens[data]
	return token, ok
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	callback := tgbotapi.NewCallback(cb.ID, "")
	if _, err := b.api.Request(callback); err != nil {
		b.log.Error("send callback ack", "error", err)
	}

	if cb.Message == nil || cb.From == nil {
		return
	}
	chatID := cb.Message.Chat.ID

	b.log.Info("callback",
		"data", cb.Data,
		"chat_id", chatID,
		"user_id", cb.From.ID,
		"username", cb.From.UserName,
	)

	if !b.cfg.IsUserAllowed(cb.From.ID) {
		b.reply(chatID, "Access denied.")
		return
	}

	token, ok := b.refs.resolve(cb.Data)
	if !ok {
		b.reply(chatID, msgMenuExpired)
		return
	}

	b.enqueue(ctx, job{
		chatID: chatID,
		event: dialog.Event{
			AccountID:   cb.From.ID,
			DisplayName: displayName(cb.From),
			Action:      token,
		},
	})
}
