package bot

import (
	"strings"
	"unicode/utf16"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"digest_bot/internal/dialog"
)

// MaxMessageLength is Telegram's limit on the text of one message, in
// UTF-16 code units.
const MaxMessageLength = 4096

func (b *Bot) keyboard(rows [][]dialog.Button) tgbotapi.InlineKeyboardMarkup {
	markup := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, btn := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(btn.Label, b.refs.shorten(btn.Action)))
		}
		markup = append(markup, tgbotapi.NewInlineKeyboardRow(buttons...))
	}
	return tgbotapi.NewInlineKeyboardMarkup(markup...)
}

// SplitMessage cuts text into parts of at most limit UTF-16 code units,
// the unit Telegram counts in, breaking on line boundaries where possible.
func SplitMessage(text string, limit int) []string {
	if textLen(text) <= limit {
		return []string{text}
	}

	var parts []string
	var cur strings.Builder
	curLen := 0
	flush := func() {
		if p := strings.TrimRight(cur.String(), "\n"); p != "" {
			parts = append(parts, p)
		}
		cur.Reset()
		curLen = 0
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		n := textLen(line)
		if curLen+n > limit {
			flush()
		}
		for n > limit {
			head, tail := cutText(line, limit)
			parts = append(parts, head)
			line = tail
			n = textLen(line)
		}
		cur.WriteString(line)
		curLen += n
	}
	flush()
	return parts
}

// textLen returns the length of s in UTF-16 code units.
func textLen(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}

// cutText splits s after at most limit UTF-16 code units, never inside a
// rune. At least one rune goes to head.
func cutText(s string, limit int) (head, tail string) {
	n := 0
	for i, r := range s {
		l := utf16.RuneLen(r)
		if n+l > limit && i > 0 {
			return s[:i], s[i:]
		}
		n += l
	}
	return s, ""
}
