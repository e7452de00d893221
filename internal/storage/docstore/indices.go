package docstore

import (
	"context"
	"fmt"

	"github.com/opensearch-project/opensearch-go/v4/opensearchapi"
	"github.com/rs/zerolog"
)

const indexVersion = "_v1"

// IndexNames holds the alias of each record kind.
type IndexNames struct {
	ChatBots     string
	Chats        string
	Interactions string
}

func NewIndexNames(prefix string) IndexNames {
	return IndexNames{
		ChatBots:     prefix + "chat_bots",
		Chats:        prefix + "chats",
		Interactions: prefix + "interactions",
	}
}

func keyword() map[string]any { return map[string]any{"type": "keyword"} }
func text() map[string]any    { return map[string]any{"type": "text"} }
func date() map[string]any    { return map[string]any{"type": "date"} }

func chatBotsMapping() map[string]any {
	return map[string]any{
		"properties": map[string]any{
			"id":   keyword(),
			"name": keyword(),
		},
	}
}

func chatsMapping() map[string]any {
	return map[string]any{
		"properties": map[string]any{
			"id":          keyword(),
			"chat_bot_id": keyword(),
			"slug":        keyword(),
			"title":       text(),
			"created_at":  date(),
		},
	}
}

func interactionsMapping() map[string]any {
	return map[string]any{
		"properties": map[string]any{
			"id":       keyword(),
			"chat_id":  keyword(),
			"question": text(),
			"answer":   text(),
			"asked_at": date(),
		},
	}
}

// Migration creates the versioned indices and their aliases.
type Migration struct {
	client *Client
	logger zerolog.Logger
}

func NewMigration(c *Client, logger zerolog.Logger) *Migration {
	return &Migration{client: c, logger: logger}
}

// Migrate is idempotent: an index is only created when its alias is missing.
func (m *Migration) Migrate(ctx context.Context) error {
	names := m.client.indices
	steps := []struct {
		alias   string
		mapping map[string]any
	}{
		{names.ChatBots, chatBotsMapping()},
		{names.Chats, chatsMapping()},
		{names.Interactions, interactionsMapping()},
	}
	for _, step := range steps {
		created, err := m.client.createIndexIfNotExists(ctx, step.alias, step.mapping)
		if err != nil {
			return err
		}
		if created {
			m.logger.Info().Str("alias", step.alias).Str("index", step.alias+indexVersion).Msg("index created")
		} else {
			m.logger.Info().Str("alias", step.alias).Msg("alias already exists")
		}
	}
	return nil
}

func (c *Client) aliasExists(ctx context.Context, alias string) (bool, error) {
	resp, err := c.api.Indices.Alias.Exists(ctx, opensearchapi.AliasExistsReq{Alias: []string{alias}})
	closeBody(resp)
	if err = classify("alias exists", resp, err); err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("check alias %s: %w", alias, err)
	}
	return true, nil
}

// createIndexIfNotExists creates alias+"_v1" with the alias attached in a
// single request. It reports whether an index was created.
func (c *Client) createIndexIfNotExists(ctx context.Context, alias string, mapping map[string]any) (bool, error) {
	exists, err := c.aliasExists(ctx, alias)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	body, err := jsonBody(map[string]any{
		"aliases":  map[string]any{alias: map[string]any{}},
		"mappings": mapping,
	})
	if err != nil {
		return false, err
	}
	index := alias + indexVersion
	resp, err := c.api.Indices.Create(ctx, opensearchapi.IndicesCreateReq{Index: index, Body: body})
	if err != nil {
		return false, fmt.Errorf("create index %s: %w", index, classify("create index", rawResponse(resp), err))
	}
	return true, nil
}
