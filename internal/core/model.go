// Package core is the domain layer: chat bots, their chats and the question
// flow that persists them.
package core

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"askthemall/internal/metrics"
	"askthemall/internal/persistence"
	"askthemall/internal/providers"
)

var (
	ErrChatBotNotFound = errors.New("chat bot not found")
	ErrChatDisabled    = errors.New("chat is disabled")
)

// UnknownChatBotPolicy decides what happens when a stored chat references a
// chat bot id the catalog does not know.
type UnknownChatBotPolicy int

const (
	// UnknownChatBotPlaceholder resolves to a disabled placeholder bot.
	UnknownChatBotPlaceholder UnknownChatBotPolicy = iota
	// UnknownChatBotStrict fails with ErrChatBotNotFound.
	UnknownChatBotStrict
)

type Config struct {
	Repositories    persistence.Repositories
	Clients         []providers.ChatClient
	Logger          zerolog.Logger
	Metrics         *metrics.Metrics
	UnknownChatBots UnknownChatBotPolicy
	// Now defaults to time.Now.
	Now func() time.Time
}

// env is shared by every model object built from one AskThemAllModel.
type env struct {
	chatBots     persistence.ChatBotRepository
	chats        persistence.ChatRepository
	interactions persistence.InteractionRepository
	logger       zerolog.Logger
	metrics      *metrics.Metrics
	now          func() time.Time
}

type AskThemAllModel struct {
	env     *env
	clients map[string]providers.ChatClient
	policy  UnknownChatBotPolicy
}

// New registers every client in the chat bot catalog and returns the model.
func New(ctx context.Context, cfg Config) (*AskThemAllModel, error) {
	if cfg.Repositories.ChatBots == nil || cfg.Repositories.Chats == nil || cfg.Repositories.Interactions == nil {
		return nil, fmt.Errorf("core: repositories are required")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Global()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	m := &AskThemAllModel{
		env: &env{
			chatBots:     cfg.Repositories.ChatBots,
			chats:        cfg.Repositories.Chats,
			interactions: cfg.Repositories.Interactions,
			logger:       cfg.Logger,
			metrics:      cfg.Metrics,
			now:          cfg.Now,
		},
		clients: make(map[string]providers.ChatClient, len(cfg.Clients)),
		policy:  cfg.UnknownChatBots,
	}
	for _, c := range cfg.Clients {
		m.clients[c.ID()] = c
		if err := m.env.chatBots.Save(ctx, persistence.ChatBotData{ID: c.ID(), Name: c.Name()}); err != nil {
			return nil, fmt.Errorf("register chat bot %s: %w", c.ID(), err)
		}
	}
	return m, nil
}

// ChatBots lists every stored chat bot, enabled ones first, then by name.
func (m *AskThemAllModel) ChatBots(ctx context.Context) ([]*ChatBotModel, error) {
	rows, err := m.env.chatBots.FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list chat bots: %w", err)
	}
	bots := make([]*ChatBotModel, 0, len(rows))
	for _, d := range rows {
		bots = append(bots, m.chatBotFromData(d))
	}
	slices.SortStableFunc(bots, func(a, b *ChatBotModel) int {
		if a.Enabled() != b.Enabled() {
			if a.Enabled() {
				return -1
			}
			return 1
		}
		return cmp.Or(cmp.Compare(a.name, b.name), cmp.Compare(a.id, b.id))
	})
	return bots, nil
}

// ChatBot resolves one chat bot by id, applying the unknown chat bot policy.
func (m *AskThemAllModel) ChatBot(ctx context.Context, id string) (*ChatBotModel, error) {
	d, err := m.env.chatBots.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return m.unknownChatBot(id)
		}
		return nil, fmt.Errorf("get chat bot: %w", err)
	}
	return m.chatBotFromData(d), nil
}

// FilterChats searches interactions and returns the owning chats, newest first.
func (m *AskThemAllModel) FilterChats(ctx context.Context, searchFilter string, maxResults int) (ChatList, error) {
	res, err := m.env.chats.SearchChats(ctx, searchFilter, maxResults)
	if err != nil {
		return ChatList{}, fmt.Errorf("search chats: %w", err)
	}

	catalog, err := m.env.chatBots.FindAll(ctx)
	if err != nil {
		return ChatList{}, fmt.Errorf("list chat bots: %w", err)
	}
	byID := make(map[string]*ChatBotModel, len(catalog))
	for _, d := range catalog {
		byID[d.ID] = m.chatBotFromData(d)
	}

	list := ChatList{Chats: make([]*ChatModel, 0, len(res.Data)), TotalResults: res.TotalResults}
	for _, d := range res.Data {
		bot, ok := byID[d.ChatBotID]
		if !ok {
			if bot, err = m.unknownChatBot(d.ChatBotID); err != nil {
				return ChatList{}, err
			}
			byID[d.ChatBotID] = bot
		}
		list.Chats = append(list.Chats, bot.chatFromData(d))
	}
	return list, nil
}

// GetChat loads a persisted chat without restoring its transcript.
func (m *AskThemAllModel) GetChat(ctx context.Context, chatID string) (*ChatModel, error) {
	d, err := m.env.chats.GetByID(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("get chat: %w", err)
	}
	bot, err := m.ChatBot(ctx, d.ChatBotID)
	if err != nil {
		return nil, err
	}
	return bot.chatFromData(d), nil
}

// SwitchChat loads a persisted chat and restores its transcript and session.
func (m *AskThemAllModel) SwitchChat(ctx context.Context, chatID string) (*ChatModel, error) {
	chat, err := m.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if err := chat.RestoreChat(ctx); err != nil {
		return nil, err
	}
	return chat, nil
}

func (m *AskThemAllModel) chatBotFromData(d persistence.ChatBotData) *ChatBotModel {
	return &ChatBotModel{id: d.ID, name: d.Name, client: m.clients[d.ID], env: m.env}
}

func (m *AskThemAllModel) unknownChatBot(id string) (*ChatBotModel, error) {
	if m.policy == UnknownChatBotStrict {
		return nil, fmt.Errorf("%w: %s", ErrChatBotNotFound, id)
	}
	m.env.logger.Warn().Str("chat_bot_id", id).Msg("chat references unknown chat bot")
	return &ChatBotModel{id: id, name: fmt.Sprintf("Unknown chat bot (%s)", id), env: m.env}, nil
}

// timestampID renders "<prefix>-<unix seconds with microseconds>".
func timestampID(prefix string, t time.Time) string {
	return fmt.Sprintf("%s-%d.%06d", prefix, t.Unix(), t.Nanosecond()/1000)
}
