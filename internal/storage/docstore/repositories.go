package docstore

import (
	"context"
	"fmt"

	"github.com/opensearch-project/opensearch-go/v4/opensearchapi"

	"askthemall/internal/persistence"
)

type ChatBotRepository struct {
	repository[persistence.ChatBotData]
}

var _ persistence.ChatBotRepository = (*ChatBotRepository)(nil)

func NewChatBotRepository(c *Client) *ChatBotRepository {
	return &ChatBotRepository{repository[persistence.ChatBotData]{
		client: c,
		alias:  c.indices.ChatBots,
		kind:   "chat bot",
		idOf:   func(d persistence.ChatBotData) string { return d.ID },
	}}
}

type ChatRepository struct {
	repository[persistence.ChatData]
}

var _ persistence.ChatRepository = (*ChatRepository)(nil)

func NewChatRepository(c *Client) *ChatRepository {
	return &ChatRepository{repository[persistence.ChatData]{
		client: c,
		alias:  c.indices.Chats,
		kind:   "chat",
		idOf:   func(d persistence.ChatData) string { return d.ID },
	}}
}

func (r *ChatRepository) FindAllByChatBotID(ctx context.Context, chatBotID string, maxResults int) (persistence.ListResult[persistence.ChatData], error) {
	resp, err := r.search(ctx, map[string]any{
		"query":            map[string]any{"term": map[string]any{"chat_bot_id": chatBotID}},
		"sort":             sortBy("created_at", "desc"),
		"size":             max(maxResults, 0),
		"track_total_hits": true,
	})
	if err != nil {
		return persistence.ListResult[persistence.ChatData]{}, err
	}
	return persistence.ListResult[persistence.ChatData]{
		Data:         resp.Sources,
		TotalResults: resp.Total,
	}, nil
}

// SearchChats runs in two phases: a terms aggregation collects the chat ids
// of matching interactions, then the chats with those ids are fetched.
func (r *ChatRepository) SearchChats(ctx context.Context, searchFilter string, maxResults int) (persistence.ListResult[persistence.ChatData], error) {
	interactions := r.client.indices.Interactions
	agg, err := searchIndex[persistence.InteractionData](ctx, r.client, interactions, "interaction", map[string]any{
		"size": 0,
		"query": map[string]any{
			"bool": map[string]any{
				"should": []map[string]any{
					wildcard("question", searchFilter),
					wildcard("answer", searchFilter),
				},
				"minimum_should_match": 1,
			},
		},
		"aggs": map[string]any{
			"distinct_values": map[string]any{
				"terms": map[string]any{
					"field": "chat_id",
					"size":  persistence.MaxSearchChatIDs,
				},
			},
		},
	})
	if err != nil {
		return persistence.ListResult[persistence.ChatData]{}, fmt.Errorf("collect chat ids: %w", err)
	}

	ids := agg.Keys
	if len(ids) == 0 {
		return persistence.ListResult[persistence.ChatData]{Data: []persistence.ChatData{}}, nil
	}

	resp, err := r.search(ctx, map[string]any{
		"query":            map[string]any{"terms": map[string]any{"id": ids}},
		"sort":             sortBy("created_at", "desc"),
		"size":             max(maxResults, 0),
		"track_total_hits": true,
	})
	if err != nil {
		return persistence.ListResult[persistence.ChatData]{}, err
	}
	return persistence.ListResult[persistence.ChatData]{
		Data:         resp.Sources,
		TotalResults: resp.Total,
	}, nil
}

func wildcard(field, pattern string) map[string]any {
	return map[string]any{
		"wildcard": map[string]any{
			field: map[string]any{"value": pattern, "case_insensitive": true},
		},
	}
}

type InteractionRepository struct {
	repository[persistence.InteractionData]
}

var _ persistence.InteractionRepository = (*InteractionRepository)(nil)

func NewInteractionRepository(c *Client) *InteractionRepository {
	return &InteractionRepository{repository[persistence.InteractionData]{
		client: c,
		alias:  c.indices.Interactions,
		kind:   "interaction",
		idOf:   func(d persistence.InteractionData) string { return d.ID },
	}}
}

// maxInteractionsPerChat bounds a single transcript read.
const maxInteractionsPerChat = 10000

func (r *InteractionRepository) FindAllByChatID(ctx context.Context, chatID string) ([]persistence.InteractionData, error) {
	resp, err := r.search(ctx, map[string]any{
		"query": map[string]any{"term": map[string]any{"chat_id": chatID}},
		"sort":  sortBy("asked_at", "asc"),
		"size":  maxInteractionsPerChat,
	})
	if err != nil {
		return nil, err
	}
	return resp.Sources, nil
}

func (r *InteractionRepository) DeleteAllByChatID(ctx context.Context, chatID string) error {
	body, err := jsonBody(map[string]any{"query": map[string]any{"term": map[string]any{"chat_id": chatID}}})
	if err != nil {
		return fmt.Errorf("delete interactions of chat %s: %w", chatID, err)
	}
	refresh := true
	resp, err := r.client.api.Document.DeleteByQuery(ctx, opensearchapi.DocumentDeleteByQueryReq{
		Indices: []string{r.alias},
		Body:    body,
		Params:  opensearchapi.DocumentDeleteByQueryParams{Refresh: &refresh},
	})
	if err != nil {
		return fmt.Errorf("delete interactions of chat %s: %w", chatID, classify("delete by query", rawResponse(resp), err))
	}
	return nil
}
