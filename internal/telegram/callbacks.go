package telegram

import (
	"context"
	"strings"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"

	"askthemall/internal/view"
)

// parseCallback splits "atl:<action>[:<arg>]" data.
func parseCallback(data string) (action, arg string, ok bool) {
	rest, found := strings.CutPrefix(strings.TrimSpace(data), cbPrefix)
	if !found || rest == "" {
		return "", "", false
	}
	action, arg, _ = strings.Cut(rest, ":")
	return action, arg, true
}

func (s *Service) onCallback(b *gotgbot.Bot, ctx *ext.Context) error {
	if ctx == nil || ctx.CallbackQuery == nil {
		return nil
	}
	action, arg, ok := parseCallback(ctx.CallbackQuery.Data)
	if !ok {
		s.answerCallback(b, ctx, "Unknown action.", true)
		return nil
	}
	s.answerCallback(b, ctx, "", false)
	uid := ctx.CallbackQuery.From.Id
	bg := context.Background()

	switch action {
	case "bots":
		var lists []view.ChatListView
		err := s.withSession(bg, uid, func(sess *view.SessionContext) error {
			var err error
			lists, err = s.view.ChatLists(bg, sess)
			return err
		})
		if err != nil {
			return s.fail(ctx, b, err, "list chat bots failed")
		}
		text, markup := renderChatLists(lists)
		return s.editOrReplyCallback(ctx, b, text, markup)

	case "more":
		var lists []view.ChatListView
		err := s.withSession(bg, uid, func(sess *view.SessionContext) error {
			s.view.LoadMoreChats(sess, arg)
			var err error
			lists, err = s.view.ChatLists(bg, sess)
			return err
		})
		if err != nil {
			return s.fail(ctx, b, err, "load more chats failed")
		}
		text, markup := renderChatLists(lists)
		return s.editOrReplyCallback(ctx, b, text, markup)

	case "new":
		return s.startChat(b, ctx, arg)

	case "chat", "open", "outline":
		var chat *view.ChatView
		err := s.withSession(bg, uid, func(sess *view.SessionContext) error {
			var err error
			if action == "open" {
				chat, err = s.view.SwitchChat(bg, sess, arg)
				sess.ConsumeScrollTo()
			} else {
				chat, err = s.view.CurrentChat(bg, sess)
			}
			return err
		})
		if err != nil {
			return s.fail(ctx, b, err, "load chat failed")
		}
		if action == "outline" {
			text, markup := renderOutline(chat)
			return s.replyWithMarkup(ctx, b, text, markup)
		}
		text, markup := renderChat(chat)
		return s.replyWithMarkup(ctx, b, text, markup)

	case "goto":
		var in *view.InteractionView
		err := s.withSession(bg, uid, func(sess *view.SessionContext) error {
			s.view.GotoInteraction(sess, arg)
			chat, err := s.view.CurrentChat(bg, sess)
			if err != nil || chat == nil {
				return err
			}
			if target := sess.ConsumeScrollTo(); target != nil {
				if found, ok := chat.Interaction(target.ID); ok {
					in = &found
				}
			}
			return nil
		})
		if err != nil {
			return s.fail(ctx, b, err, "goto interaction failed")
		}
		if in == nil {
			return s.reply(ctx, b, "Question not found in the current chat.")
		}
		return s.reply(ctx, b, renderInteraction(*in))

	case "del":
		err := s.withSession(bg, uid, func(sess *view.SessionContext) error {
			return s.view.RemoveChat(bg, sess, arg)
		})
		if err != nil {
			return s.fail(ctx, b, err, "delete chat failed")
		}
		return s.editOrReplyCallback(ctx, b, "Chat deleted.", mainKeyboard())

	case "search_more":
		var res *view.SearchResultsView
		err := s.withSession(bg, uid, func(sess *view.SessionContext) error {
			s.view.LoadMoreSearchResults(sess)
			var err error
			res, err = s.view.SearchResults(bg, sess)
			return err
		})
		if err != nil {
			return s.fail(ctx, b, err, "load more search results failed")
		}
		text, markup := renderSearchResults(res)
		return s.editOrReplyCallback(ctx, b, text, markup)

	default:
		return s.reply(ctx, b, "Unknown action.")
	}
}

func (s *Service) answerCallback(b *gotgbot.Bot, ctx *ext.Context, text string, alert bool) {
	if ctx == nil || ctx.CallbackQuery == nil {
		return
	}
	opts := &gotgbot.AnswerCallbackQueryOpts{ShowAlert: alert}
	if text != "" {
		opts.Text = text
	}
	_, _ = b.AnswerCallbackQuery(ctx.CallbackQuery.Id, opts)
}

func (s *Service) editOrReplyCallback(ctx *ext.Context, b *gotgbot.Bot, text string, markup *gotgbot.InlineKeyboardMarkup) error {
	if ctx != nil && ctx.CallbackQuery != nil && ctx.CallbackQuery.Message != nil {
		opts := &gotgbot.EditMessageTextOpts{}
		if markup != nil {
			opts.ReplyMarkup = *markup
		}
		_, _, err := ctx.CallbackQuery.Message.EditText(b, text, opts)
		if err == nil {
			return nil
		}
		if strings.Contains(strings.ToLower(err.Error()), "message is not modified") {
			return nil
		}
	}
	return s.replyWithMarkup(ctx, b, text, markup)
}
