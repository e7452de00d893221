package telegram

import (
	"context"
	"errors"
	"strings"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"

	"askthemall/internal/view"
)

func (s *Service) help(b *gotgbot.Bot, ctx *ext.Context) error {
	return s.replyWithMarkup(ctx, b, helpText(s.view.AppTitle()), mainKeyboard())
}

func (s *Service) start(b *gotgbot.Bot, ctx *ext.Context) error {
	return s.help(b, ctx)
}

func (s *Service) bots(b *gotgbot.Bot, ctx *ext.Context) error {
	var lists []view.ChatListView
	err := s.withSession(context.Background(), userID(ctx), func(sess *view.SessionContext) error {
		var err error
		lists, err = s.view.ChatLists(context.Background(), sess)
		return err
	})
	if err != nil {
		return s.fail(ctx, b, err, "list chat bots failed")
	}
	text, markup := renderChatLists(lists)
	return s.replyWithMarkup(ctx, b, text, markup)
}

func (s *Service) newChat(b *gotgbot.Bot, ctx *ext.Context) error {
	botID := strings.TrimSpace(commandRemainder(ctx.EffectiveMessage.GetText()))
	if botID == "" {
		return s.bots(b, ctx)
	}
	return s.startChat(b, ctx, botID)
}

func (s *Service) startChat(b *gotgbot.Bot, ctx *ext.Context, chatBotID string) error {
	var chat *view.ChatView
	err := s.withSession(context.Background(), userID(ctx), func(sess *view.SessionContext) error {
		var err error
		chat, err = s.view.NewChat(context.Background(), sess, chatBotID)
		return err
	})
	if err != nil {
		return s.fail(ctx, b, err, "new chat failed")
	}
	text, markup := renderChat(chat)
	return s.replyWithMarkup(ctx, b, text, markup)
}

func (s *Service) chat(b *gotgbot.Bot, ctx *ext.Context) error {
	var chat *view.ChatView
	err := s.withSession(context.Background(), userID(ctx), func(sess *view.SessionContext) error {
		var err error
		chat, err = s.view.CurrentChat(context.Background(), sess)
		return err
	})
	if err != nil {
		return s.fail(ctx, b, err, "load current chat failed")
	}
	text, markup := renderChat(chat)
	return s.replyWithMarkup(ctx, b, text, markup)
}

func (s *Service) outline(b *gotgbot.Bot, ctx *ext.Context) error {
	var chat *view.ChatView
	err := s.withSession(context.Background(), userID(ctx), func(sess *view.SessionContext) error {
		var err error
		chat, err = s.view.CurrentChat(context.Background(), sess)
		return err
	})
	if err != nil {
		return s.fail(ctx, b, err, "load outline failed")
	}
	text, markup := renderOutline(chat)
	return s.replyWithMarkup(ctx, b, text, markup)
}

func (s *Service) search(b *gotgbot.Bot, ctx *ext.Context) error {
	filter := commandRemainder(ctx.EffectiveMessage.GetText())
	var res *view.SearchResultsView
	err := s.withSession(context.Background(), userID(ctx), func(sess *view.SessionContext) error {
		s.view.SetSearchFilter(sess, filter)
		var err error
		res, err = s.view.SearchResults(context.Background(), sess)
		return err
	})
	if err != nil {
		return s.fail(ctx, b, err, "search failed")
	}
	text, markup := renderSearchResults(res)
	return s.replyWithMarkup(ctx, b, text, markup)
}

func (s *Service) deleteChat(b *gotgbot.Bot, ctx *ext.Context) error {
	deleted := false
	err := s.withSession(context.Background(), userID(ctx), func(sess *view.SessionContext) error {
		if sess.ChatID == "" {
			return view.ErrNoCurrentChat
		}
		deleted = true
		return s.view.RemoveChat(context.Background(), sess, sess.ChatID)
	})
	if err != nil {
		return s.fail(ctx, b, err, "delete chat failed")
	}
	if deleted {
		return s.replyWithMarkup(ctx, b, "Chat deleted.", mainKeyboard())
	}
	return nil
}

// privateText asks the message in the current chat.
func (s *Service) privateText(b *gotgbot.Bot, ctx *ext.Context) error {
	if ctx.EffectiveChat == nil || ctx.EffectiveUser == nil || ctx.EffectiveMessage == nil {
		return nil
	}
	text := strings.TrimSpace(ctx.EffectiveMessage.GetText())
	if text == "" || strings.HasPrefix(text, "/") {
		return nil
	}

	var answer *view.InteractionView
	err := s.withSession(context.Background(), ctx.EffectiveUser.Id, func(sess *view.SessionContext) error {
		chat, err := s.view.CurrentChat(context.Background(), sess)
		if err != nil {
			return err
		}
		if chat == nil {
			return view.ErrNoCurrentChat
		}
		if !s.allowRate(ctx.EffectiveUser.Id, chat.ChatBotID, b, ctx) {
			return nil
		}
		_, _ = b.SendChatAction(ctx.EffectiveChat.Id, "typing", nil)

		if _, err := s.view.AskQuestion(context.Background(), sess, text); err != nil {
			return err
		}
		// The scroll target names the interaction to show.
		target := sess.ConsumeScrollTo()
		chat, err = s.view.CurrentChat(context.Background(), sess)
		if err != nil || chat == nil || target == nil {
			return err
		}
		if in, ok := chat.Interaction(target.ID); ok {
			answer = &in
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, view.ErrNoCurrentChat) {
			return s.replyWithMarkup(ctx, b, userMessage(err), mainKeyboard())
		}
		return s.fail(ctx, b, err, "ask question failed")
	}
	if answer == nil {
		return nil
	}
	return s.reply(ctx, b, truncate(answer.Answer))
}

func (s *Service) allowRate(uid int64, chatBotID string, b *gotgbot.Bot, ctx *ext.Context) bool {
	if uid == 0 || s.rateLimiter == nil {
		return true
	}
	d, err := s.rateLimiter.Allow(context.Background(), uid, chatBotID, s.now())
	if err != nil {
		s.logger.Error().Err(err).Msg("rate limiter failed")
		return true
	}
	if d.Allowed {
		return true
	}
	s.metrics.RateLimited.Inc()
	_ = s.reply(ctx, b, "Rate limit exceeded. Try again after "+d.ResetAt.Format("15:04 UTC"))
	return false
}

func commandRemainder(text string) string {
	parts := strings.SplitN(strings.TrimSpace(text), " ", 2)
	if len(parts) < 2 {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func userID(ctx *ext.Context) int64 {
	if ctx == nil || ctx.EffectiveUser == nil {
		return 0
	}
	return ctx.EffectiveUser.Id
}
