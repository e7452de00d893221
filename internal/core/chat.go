package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gosimple/slug"
	"github.com/rs/zerolog"

	"askthemall/internal/persistence"
	"askthemall/internal/providers"
)

// ChatBotModel is a catalog entry. It is enabled when a live client is bound.
type ChatBotModel struct {
	id     string
	name   string
	client providers.ChatClient
	env    *env
}

func (b *ChatBotModel) ID() string    { return b.id }
func (b *ChatBotModel) Name() string  { return b.name }
func (b *ChatBotModel) Enabled() bool { return b.client != nil }

// NewChat starts an in-memory chat. Nothing is stored until its first answer.
func (b *ChatBotModel) NewChat() (*ChatModel, error) {
	if !b.Enabled() {
		return nil, fmt.Errorf("%w: chat bot %s has no client", ErrChatDisabled, b.id)
	}
	now := b.env.now().UTC()
	return &ChatModel{
		id:        timestampID(b.id, now),
		title:     fmt.Sprintf("Chat with %s", b.name),
		createdAt: now,
		session:   b.client.StartSession(),
		chatBot:   b,
		env:       b.env,
	}, nil
}

// GetAllChats lists the bot's chats, newest first.
func (b *ChatBotModel) GetAllChats(ctx context.Context, maxResults int) (ChatList, error) {
	res, err := b.env.chats.FindAllByChatBotID(ctx, b.id, maxResults)
	if err != nil {
		return ChatList{}, fmt.Errorf("list chats of %s: %w", b.id, err)
	}
	list := ChatList{Chats: make([]*ChatModel, 0, len(res.Data)), TotalResults: res.TotalResults}
	for _, d := range res.Data {
		list.Chats = append(list.Chats, b.chatFromData(d))
	}
	return list, nil
}

// GetChat loads one chat of this bot without restoring it. Chats of other
// bots are reported as not found.
func (b *ChatBotModel) GetChat(ctx context.Context, chatID string) (*ChatModel, error) {
	d, err := b.env.chats.GetByID(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("get chat: %w", err)
	}
	if d.ChatBotID != b.id {
		return nil, &persistence.NotFoundError{Kind: "chat", ID: chatID}
	}
	return b.chatFromData(d), nil
}

func (b *ChatBotModel) SwitchChat(ctx context.Context, chatID string) (*ChatModel, error) {
	chat, err := b.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if err := chat.RestoreChat(ctx); err != nil {
		return nil, err
	}
	return chat, nil
}

func (b *ChatBotModel) chatFromData(d persistence.ChatData) *ChatModel {
	return &ChatModel{
		id:        d.ID,
		slug:      d.Slug,
		title:     d.Title,
		createdAt: d.CreatedAt,
		started:   true,
		chatBot:   b,
		env:       b.env,
	}
}

// ChatList is a window of chats plus the total number of matches.
type ChatList struct {
	Chats        []*ChatModel
	TotalResults int
}

func (l ChatList) HasMore() bool {
	return l.TotalResults > len(l.Chats)
}

type Interaction struct {
	ID       string
	ChatID   string
	Question string
	Answer   string
	AskedAt  time.Time
}

func (i Interaction) data() persistence.InteractionData {
	return persistence.InteractionData{
		ID:       i.ID,
		ChatID:   i.ChatID,
		Question: i.Question,
		Answer:   i.Answer,
		AskedAt:  i.AskedAt,
	}
}

func interactionFromData(d persistence.InteractionData) Interaction {
	return Interaction{ID: d.ID, ChatID: d.ChatID, Question: d.Question, Answer: d.Answer, AskedAt: d.AskedAt}
}

// ChatModel is one conversation. A chat is started once it has been stored,
// which happens with its first answer.
type ChatModel struct {
	id           string
	slug         string
	title        string
	createdAt    time.Time
	interactions []Interaction
	started      bool
	session      providers.ChatSession
	chatBot      *ChatBotModel
	env          *env
}

func (c *ChatModel) ID() string           { return c.id }
func (c *ChatModel) Slug() string         { return c.slug }
func (c *ChatModel) Title() string        { return c.title }
func (c *ChatModel) CreatedAt() time.Time { return c.createdAt }
func (c *ChatModel) Started() bool        { return c.started }
func (c *ChatModel) ChatBotID() string    { return c.chatBot.id }
func (c *ChatModel) AssistantName() string {
	return c.chatBot.name
}

// Enabled reports whether the chat's bot has a live client.
func (c *ChatModel) Enabled() bool {
	return c.chatBot.Enabled()
}

func (c *ChatModel) Interactions() []Interaction {
	return append([]Interaction(nil), c.interactions...)
}

// AskQuestion sends the question and stores the exchange. The first answer
// also stores the chat, titled by the provider.
func (c *ChatModel) AskQuestion(ctx context.Context, question string) (string, error) {
	if !c.Enabled() {
		return "", fmt.Errorf("%w: %s", ErrChatDisabled, c.id)
	}
	if c.session == nil {
		return "", fmt.Errorf("%w: chat %s has not been restored", ErrChatDisabled, c.id)
	}
	log := c.env.logger.With().Str("chat_id", c.id).Str("chat_bot_id", c.chatBot.id).Logger()
	m := c.env.metrics

	mark := c.session.Mark()
	started := time.Now()
	answer, err := c.session.Ask(ctx, question)
	m.ProviderDuration.WithLabelValues(c.chatBot.id, "ask").Observe(time.Since(started).Seconds())
	if err != nil {
		m.ProviderErrors.WithLabelValues(c.chatBot.id).Inc()
		return "", err
	}
	m.QuestionsTotal.WithLabelValues(c.chatBot.id).Inc()

	askedAt := c.env.now().UTC()
	in := Interaction{
		ID:       timestampID(c.chatBot.id, askedAt),
		ChatID:   c.id,
		Question: question,
		Answer:   answer,
		AskedAt:  askedAt,
	}
	c.interactions = append(c.interactions, in)

	first := !c.started
	if first {
		c.suggestTitle(ctx, log)
		if err := c.env.chats.Save(ctx, c.data()); err != nil {
			c.interactions = c.interactions[:len(c.interactions)-1]
			c.session.Rewind(mark)
			return "", fmt.Errorf("save chat: %w", err)
		}
		c.started = true
	}

	if err := c.env.interactions.Save(ctx, in.data()); err != nil {
		c.interactions = c.interactions[:len(c.interactions)-1]
		c.session.Rewind(mark)
		if first {
			if delErr := c.env.chats.DeleteByID(ctx, c.id); delErr != nil && !errors.Is(delErr, persistence.ErrNotFound) {
				log.Error().Err(delErr).Msg("failed to remove chat after interaction write failed")
			} else {
				c.started = false
			}
		}
		return "", fmt.Errorf("save interaction: %w", err)
	}

	if first {
		m.ChatsStarted.Inc()
		log.Info().Str("title", c.title).Msg("chat started")
	}
	return answer, nil
}

// suggestTitle replaces the placeholder title. A failed or empty suggestion
// keeps the placeholder. The slug always gets a unix seconds suffix.
func (c *ChatModel) suggestTitle(ctx context.Context, log zerolog.Logger) {
	started := time.Now()
	title, err := c.session.SuggestTitle(ctx)
	c.env.metrics.ProviderDuration.WithLabelValues(c.chatBot.id, "title").Observe(time.Since(started).Seconds())
	switch {
	case err != nil:
		c.env.metrics.TitleFailures.Inc()
		log.Warn().Err(err).Msg("title suggestion failed, keeping placeholder")
	case title == "":
		c.env.metrics.TitleFailures.Inc()
		log.Warn().Msg("title suggestion was empty, keeping placeholder")
	default:
		c.title = title
	}
	c.slug = fmt.Sprintf("%s-%d", slug.Make(c.title), c.env.now().Unix())
}

// RestoreChat reloads the transcript and, when a client is bound, seeds a new
// session with it.
func (c *ChatModel) RestoreChat(ctx context.Context) error {
	rows, err := c.env.interactions.FindAllByChatID(ctx, c.id)
	if err != nil {
		return fmt.Errorf("load interactions of %s: %w", c.id, err)
	}
	c.interactions = make([]Interaction, 0, len(rows))
	history := make([]providers.Interaction, 0, len(rows))
	for _, d := range rows {
		c.interactions = append(c.interactions, interactionFromData(d))
		history = append(history, providers.Interaction{Question: d.Question, Answer: d.Answer})
	}
	if c.chatBot.client != nil {
		c.session = c.chatBot.client.RestoreSession(history)
	}
	return nil
}

// Remove deletes the chat and its interactions. Missing rows count as deleted.
func (c *ChatModel) Remove(ctx context.Context) error {
	if err := c.env.chats.DeleteByID(ctx, c.id); err != nil && !errors.Is(err, persistence.ErrNotFound) {
		return fmt.Errorf("delete chat %s: %w", c.id, err)
	}
	if err := c.env.interactions.DeleteAllByChatID(ctx, c.id); err != nil {
		return fmt.Errorf("delete interactions of %s: %w", c.id, err)
	}
	c.env.metrics.ChatsRemoved.Inc()
	return nil
}

func (c *ChatModel) data() persistence.ChatData {
	return persistence.ChatData{
		ID:        c.id,
		ChatBotID: c.chatBot.id,
		Slug:      c.slug,
		Title:     c.title,
		CreatedAt: c.createdAt,
	}
}
