package telegram

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"

	"askthemall/internal/core"
	"askthemall/internal/persistence"
	"askthemall/internal/providers"
	"askthemall/internal/view"
)

const (
	cbPrefix = "atl:"

	cbBots       = cbPrefix + "bots"
	cbChat       = cbPrefix + "chat"
	cbOutline    = cbPrefix + "outline"
	cbNew        = cbPrefix + "new:"
	cbOpen       = cbPrefix + "open:"
	cbMore       = cbPrefix + "more:"
	cbGoto       = cbPrefix + "goto:"
	cbDelete     = cbPrefix + "del:"
	cbSearchMore = cbPrefix + "search_more"

	// Telegram limits.
	maxCallbackData = 64
	maxMessageRunes = 4000
)

func helpText(appTitle string) string {
	return strings.Join([]string{
		appTitle,
		"",
		"/bots - chat bots and their chats",
		"/new <chat_bot_id> - start a chat",
		"/chat - show the current chat",
		"/outline - jump to a question of the current chat",
		"/search <text> - find chats by question or answer, * and ? are wildcards",
		"/delete - delete the current chat",
		"",
		"Any other text is asked in the current chat.",
	}, "\n")
}

func mainKeyboard() *gotgbot.InlineKeyboardMarkup {
	return &gotgbot.InlineKeyboardMarkup{InlineKeyboard: [][]gotgbot.InlineKeyboardButton{
		{
			{Text: "Chat bots", CallbackData: cbBots},
			{Text: "Current chat", CallbackData: cbChat},
		},
	}}
}

func renderChatLists(lists []view.ChatListView) (string, *gotgbot.InlineKeyboardMarkup) {
	if len(lists) == 0 {
		return "No chat bots configured.", nil
	}
	lines := []string{"Chat bots:"}
	var rows [][]gotgbot.InlineKeyboardButton
	for _, l := range lists {
		status := ""
		if !l.NewChatEnabled {
			status = " [disabled]"
		}
		lines = append(lines, fmt.Sprintf("- %s%s: %d chats", l.Title, status, l.TotalResults))

		var head []gotgbot.InlineKeyboardButton
		if l.NewChatEnabled {
			if btn, ok := button("New chat with "+l.Title, cbNew, l.ChatBotID); ok {
				head = append(head, btn)
			}
		}
		if l.HasMoreChats() {
			if btn, ok := button("More "+l.Title+" chats", cbMore, l.ChatBotID); ok {
				head = append(head, btn)
			}
		}
		if len(head) > 0 {
			rows = append(rows, head)
		}
		rows = append(rows, chatButtons(l.Chats)...)
	}
	return strings.Join(lines, "\n"), &gotgbot.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func renderSearchResults(res *view.SearchResultsView) (string, *gotgbot.InlineKeyboardMarkup) {
	if res == nil {
		return "Search cleared.", nil
	}
	if len(res.Chats) == 0 {
		return fmt.Sprintf("No chats match %s.", res.Filter), nil
	}
	text := fmt.Sprintf("%d chats match %s:", res.TotalResults, res.Filter)
	rows := chatButtons(res.Chats)
	if res.HasMore() {
		rows = append(rows, []gotgbot.InlineKeyboardButton{{Text: "More results", CallbackData: cbSearchMore}})
	}
	return text, &gotgbot.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func chatButtons(chats []view.ChatItemView) [][]gotgbot.InlineKeyboardButton {
	var rows [][]gotgbot.InlineKeyboardButton
	for _, c := range chats {
		label := c.Title
		if c.Current {
			label = "> " + label
		}
		if !c.Enabled {
			label += " (read-only)"
		}
		if btn, ok := button(label, cbOpen, c.ID); ok {
			rows = append(rows, []gotgbot.InlineKeyboardButton{btn})
		}
	}
	return rows
}

// renderChat shows the header and the most recent interaction. Older ones are
// reachable through the outline.
func renderChat(c *view.ChatView) (string, *gotgbot.InlineKeyboardMarkup) {
	if c == nil {
		return "No current chat. Pick a chat bot with /bots.", mainKeyboard()
	}
	lines := []string{c.Title, fmt.Sprintf("with %s", c.AssistantName)}
	switch {
	case !c.Enabled:
		lines = append(lines, "This chat bot is disabled, the chat is read-only.")
	case len(c.Interactions) == 0:
		lines = append(lines, "", "Send a message to ask your first question.")
	}
	text := strings.Join(lines, "\n")
	if last, ok := c.LastInteraction(); ok {
		text += "\n\n" + renderInteraction(last)
	}

	rows := [][]gotgbot.InlineKeyboardButton{{
		{Text: "Outline", CallbackData: cbOutline},
		{Text: "Chat bots", CallbackData: cbBots},
	}}
	if c.Started {
		if btn, ok := button("Delete chat", cbDelete, c.ID); ok {
			rows = append(rows, []gotgbot.InlineKeyboardButton{btn})
		}
	}
	return truncate(text), &gotgbot.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func renderOutline(c *view.ChatView) (string, *gotgbot.InlineKeyboardMarkup) {
	if c == nil {
		return "No current chat. Pick a chat bot with /bots.", nil
	}
	if len(c.Interactions) == 0 {
		return "No questions yet.", nil
	}
	var rows [][]gotgbot.InlineKeyboardButton
	for _, in := range c.Interactions {
		if btn, ok := button(in.QuestionAsTitle(), cbGoto, in.ID); ok {
			rows = append(rows, []gotgbot.InlineKeyboardButton{btn})
		}
	}
	return fmt.Sprintf("%s: %d questions", c.Title, len(c.Interactions)), &gotgbot.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func renderInteraction(in view.InteractionView) string {
	return truncate(fmt.Sprintf("Q (%s): %s\n\n%s", in.AskedAt.Format("2006-01-02 15:04"), in.Question, in.Answer))
}

// button drops buttons whose callback data exceeds the Telegram limit.
func button(text, action, arg string) (gotgbot.InlineKeyboardButton, bool) {
	data := action + arg
	if len(data) > maxCallbackData {
		return gotgbot.InlineKeyboardButton{}, false
	}
	return gotgbot.InlineKeyboardButton{Text: text, CallbackData: data}, true
}

func truncate(text string) string {
	if utf8.RuneCountInString(text) <= maxMessageRunes {
		return text
	}
	r := []rune(text)
	return string(r[:maxMessageRunes-1]) + "…"
}

// userMessage maps errors to text shown to the user.
func userMessage(err error) string {
	switch {
	case errors.Is(err, view.ErrNoCurrentChat):
		return "No current chat. Pick a chat bot with /bots."
	case errors.Is(err, view.ErrEmptyQuestion):
		return "Please send a non-empty question."
	case errors.Is(err, core.ErrChatDisabled):
		return "This chat bot is disabled, the chat is read-only."
	case errors.Is(err, core.ErrChatBotNotFound):
		return "Unknown chat bot."
	case errors.Is(err, persistence.ErrNotFound):
		return "Chat not found."
	case errors.Is(err, providers.ErrProvider):
		return "The chat bot failed to answer. Please try again."
	case errors.Is(err, persistence.ErrStoreUnavailable):
		return "Storage is unavailable right now."
	default:
		return "Something went wrong."
	}
}

func (s *Service) replyWithMarkup(ctx *ext.Context, b *gotgbot.Bot, text string, markup *gotgbot.InlineKeyboardMarkup) error {
	if ctx == nil || ctx.EffectiveChat == nil {
		return nil
	}
	opts := &gotgbot.SendMessageOpts{}
	if markup != nil {
		opts.ReplyMarkup = *markup
	}
	_, err := b.SendMessage(ctx.EffectiveChat.Id, text, opts)
	return err
}

func (s *Service) reply(ctx *ext.Context, b *gotgbot.Bot, text string) error {
	return s.replyWithMarkup(ctx, b, text, nil)
}

// fail logs err and tells the user what went wrong.
func (s *Service) fail(ctx *ext.Context, b *gotgbot.Bot, err error, msg string) error {
	s.logger.Error().Err(err).Int64("user_id", userID(ctx)).Msg(msg)
	return s.reply(ctx, b, userMessage(err))
}
