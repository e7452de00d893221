// Package view adapts the domain model to front ends: read-only projections
// plus intents that act on an explicit SessionContext.
package view

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"askthemall/internal/core"
	"askthemall/internal/persistence"
)

var (
	ErrNoCurrentChat = errors.New("no current chat")
	ErrEmptyQuestion = errors.New("empty question")
)

type Config struct {
	AppTitle string
	Model    *core.AskThemAllModel
	Logger   zerolog.Logger
	// LiveTTL bounds how long an idle session keeps its provider session in memory.
	LiveTTL time.Duration
}

// AskThemAllViewModel holds the live chat of every session. Session state
// itself lives in SessionContext.
type AskThemAllViewModel struct {
	appTitle string
	model    *core.AskThemAllModel
	logger   zerolog.Logger
	live     *cache.Cache
}

func New(cfg Config) *AskThemAllViewModel {
	if cfg.LiveTTL <= 0 {
		cfg.LiveTTL = time.Hour
	}
	return &AskThemAllViewModel{
		appTitle: cfg.AppTitle,
		model:    cfg.Model,
		logger:   cfg.Logger,
		live:     cache.New(cfg.LiveTTL, cfg.LiveTTL/2),
	}
}

func (v *AskThemAllViewModel) AppTitle() string { return v.appTitle }

// ChatLists returns one list per chat bot, each capped by the session's
// max results for that bot.
func (v *AskThemAllViewModel) ChatLists(ctx context.Context, s *SessionContext) ([]ChatListView, error) {
	bots, err := v.model.ChatBots(ctx)
	if err != nil {
		return nil, err
	}
	lists := make([]ChatListView, 0, len(bots))
	for _, bot := range bots {
		res, err := bot.GetAllChats(ctx, s.maxResults(bot.ID()))
		if err != nil {
			return nil, err
		}
		l := ChatListView{
			ChatBotID:      bot.ID(),
			Title:          bot.Name(),
			NewChatEnabled: bot.Enabled(),
			TotalResults:   res.TotalResults,
			Chats:          make([]ChatItemView, 0, len(res.Chats)),
		}
		for _, c := range res.Chats {
			l.Chats = append(l.Chats, chatItem(c, s.ChatID))
		}
		lists = append(lists, l)
	}
	return lists, nil
}

// CurrentChat returns nil when the session has no current chat.
func (v *AskThemAllViewModel) CurrentChat(ctx context.Context, s *SessionContext) (*ChatView, error) {
	chat, err := v.hydrate(ctx, s)
	if err != nil || chat == nil {
		return nil, err
	}
	return chatView(chat), nil
}

// SearchResults returns nil when no search filter is set.
func (v *AskThemAllViewModel) SearchResults(ctx context.Context, s *SessionContext) (*SearchResultsView, error) {
	if s.SearchFilter == "" {
		return nil, nil
	}
	res, err := v.model.FilterChats(ctx, s.SearchFilter, s.searchMaxResults())
	if err != nil {
		return nil, err
	}
	out := &SearchResultsView{Filter: s.SearchFilter, TotalResults: res.TotalResults}
	for _, c := range res.Chats {
		out.Chats = append(out.Chats, chatItem(c, s.ChatID))
	}
	return out, nil
}

func (v *AskThemAllViewModel) NewChat(ctx context.Context, s *SessionContext, chatBotID string) (*ChatView, error) {
	bot, err := v.model.ChatBot(ctx, chatBotID)
	if err != nil {
		return nil, err
	}
	chat, err := bot.NewChat()
	if err != nil {
		return nil, err
	}
	s.clearCurrent()
	s.ChatID = chat.ID()
	s.NewChatBotID = bot.ID()
	v.live.SetDefault(s.ID, chat)
	return chatView(chat), nil
}

func (v *AskThemAllViewModel) SwitchChat(ctx context.Context, s *SessionContext, chatID string) (*ChatView, error) {
	chat, err := v.model.SwitchChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	s.clearCurrent()
	s.ChatID = chat.ID()
	v.live.SetDefault(s.ID, chat)
	view := chatView(chat)
	if last, ok := view.LastInteraction(); ok {
		s.ScrollTo = &ScrollTarget{ID: last.ID, Behavior: ScrollInstant, Delay: DefaultScrollDelay}
	}
	return view, nil
}

// RemoveChat deletes a stored chat. Removing the current chat clears it.
func (v *AskThemAllViewModel) RemoveChat(ctx context.Context, s *SessionContext, chatID string) error {
	var chat *core.ChatModel
	if x, ok := v.live.Get(s.ID); ok && x.(*core.ChatModel).ID() == chatID {
		chat = x.(*core.ChatModel)
	} else {
		var err error
		if chat, err = v.model.GetChat(ctx, chatID); err != nil {
			if errors.Is(err, persistence.ErrNotFound) {
				v.forget(s, chatID)
				return nil
			}
			return err
		}
	}
	if err := chat.Remove(ctx); err != nil {
		return err
	}
	v.forget(s, chatID)
	return nil
}

func (v *AskThemAllViewModel) LoadMoreChats(s *SessionContext, chatBotID string) {
	if s.MaxResults == nil {
		s.MaxResults = map[string]int{}
	}
	s.MaxResults[chatBotID] = s.maxResults(chatBotID) + MaxResultsStep
}

func (v *AskThemAllViewModel) LoadMoreSearchResults(s *SessionContext) {
	s.SearchMaxResults = s.searchMaxResults() + DefaultSearchMaxResults
}

// AskQuestion asks the current chat and scrolls to the new interaction.
func (v *AskThemAllViewModel) AskQuestion(ctx context.Context, s *SessionContext, question string) (InteractionView, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return InteractionView{}, ErrEmptyQuestion
	}
	chat, err := v.hydrate(ctx, s)
	if err != nil {
		return InteractionView{}, err
	}
	if chat == nil {
		return InteractionView{}, ErrNoCurrentChat
	}
	if _, err := chat.AskQuestion(ctx, question); err != nil {
		return InteractionView{}, err
	}
	if chat.Started() {
		s.NewChatBotID = ""
	}
	last, _ := chatView(chat).LastInteraction()
	s.ScrollTo = &ScrollTarget{ID: last.ID, Behavior: ScrollInstant, Delay: DefaultScrollDelay}
	return last, nil
}

func (v *AskThemAllViewModel) GotoInteraction(s *SessionContext, interactionID string) {
	s.ScrollTo = &ScrollTarget{ID: interactionID, Behavior: ScrollSmooth, Delay: GotoScrollDelay}
}

// SetSearchFilter stores the filter, wrapping plain text in wildcards.
func (v *AskThemAllViewModel) SetSearchFilter(s *SessionContext, text string) {
	text = strings.TrimSpace(text)
	if text != "" && !strings.ContainsAny(text, "*?") {
		text = "*" + text + "*"
	}
	s.SearchFilter = text
	s.SearchMaxResults = 0
}

// hydrate returns the live chat for the session, restoring it from the
// store when the in-memory copy has expired.
func (v *AskThemAllViewModel) hydrate(ctx context.Context, s *SessionContext) (*core.ChatModel, error) {
	if s.ChatID == "" {
		return nil, nil
	}
	if x, ok := v.live.Get(s.ID); ok {
		if chat := x.(*core.ChatModel); chat.ID() == s.ChatID {
			return chat, nil
		}
	}

	if s.NewChatBotID != "" {
		v.logger.Debug().Str("session_id", s.ID).Str("chat_bot_id", s.NewChatBotID).Msg("unsaved chat expired, starting a new one")
		bot, err := v.model.ChatBot(ctx, s.NewChatBotID)
		if err != nil {
			return nil, err
		}
		chat, err := bot.NewChat()
		if err != nil {
			if errors.Is(err, core.ErrChatDisabled) {
				s.clearCurrent()
				return nil, nil
			}
			return nil, err
		}
		s.ChatID = chat.ID()
		v.live.SetDefault(s.ID, chat)
		return chat, nil
	}

	chat, err := v.model.SwitchChat(ctx, s.ChatID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			s.clearCurrent()
			return nil, nil
		}
		return nil, err
	}
	v.live.SetDefault(s.ID, chat)
	return chat, nil
}

func (v *AskThemAllViewModel) forget(s *SessionContext, chatID string) {
	if s.ChatID != chatID {
		return
	}
	s.clearCurrent()
	v.live.Delete(s.ID)
}
