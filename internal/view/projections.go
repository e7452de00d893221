package view

import (
	"strings"
	"time"

	"askthemall/internal/core"
)

type ChatItemView struct {
	ID            string
	Title         string
	Slug          string
	ChatBotID     string
	AssistantName string
	CreatedAt     time.Time
	Enabled       bool
	Current       bool
}

// ChatListView is one chat bot with a capped window of its chats.
type ChatListView struct {
	ChatBotID      string
	Title          string
	NewChatEnabled bool
	Chats          []ChatItemView
	TotalResults   int
}

func (l ChatListView) HasMoreChats() bool {
	return l.TotalResults > len(l.Chats)
}

type InteractionView struct {
	ID       string
	Question string
	Answer   string
	AskedAt  time.Time
}

// QuestionAsTitle is the first line of the question.
func (i InteractionView) QuestionAsTitle() string {
	line, _, _ := strings.Cut(i.Question, "\n")
	return strings.TrimSpace(line)
}

type ChatView struct {
	ID            string
	Title         string
	Slug          string
	ChatBotID     string
	AssistantName string
	Enabled       bool
	Started       bool
	Interactions  []InteractionView
}

func (c ChatView) LastInteraction() (InteractionView, bool) {
	if len(c.Interactions) == 0 {
		return InteractionView{}, false
	}
	return c.Interactions[len(c.Interactions)-1], true
}

func (c ChatView) Interaction(id string) (InteractionView, bool) {
	for _, in := range c.Interactions {
		if in.ID == id {
			return in, true
		}
	}
	return InteractionView{}, false
}

type SearchResultsView struct {
	Filter       string
	Chats        []ChatItemView
	TotalResults int
}

func (r SearchResultsView) HasMore() bool {
	return r.TotalResults > len(r.Chats)
}

func chatItem(c *core.ChatModel, currentID string) ChatItemView {
	return ChatItemView{
		ID:            c.ID(),
		Title:         c.Title(),
		Slug:          c.Slug(),
		ChatBotID:     c.ChatBotID(),
		AssistantName: c.AssistantName(),
		CreatedAt:     c.CreatedAt(),
		Enabled:       c.Enabled(),
		Current:       c.ID() == currentID,
	}
}

func chatView(c *core.ChatModel) *ChatView {
	v := &ChatView{
		ID:            c.ID(),
		Title:         c.Title(),
		Slug:          c.Slug(),
		ChatBotID:     c.ChatBotID(),
		AssistantName: c.AssistantName(),
		Enabled:       c.Enabled(),
		Started:       c.Started(),
	}
	for _, in := range c.Interactions() {
		v.Interactions = append(v.Interactions, InteractionView{
			ID:       in.ID,
			Question: in.Question,
			Answer:   in.Answer,
			AskedAt:  in.AskedAt,
		})
	}
	return v
}
