package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"askthemall/internal/persistence"
)

type ChatBotRepository struct {
	s *Store
}

var _ persistence.ChatBotRepository = (*ChatBotRepository)(nil)

func (r *ChatBotRepository) Save(ctx context.Context, data persistence.ChatBotData) error {
	q := r.s.sql.Insert("chat_bots").
		Columns("id", "name").
		Values(data.ID, data.Name).
		Suffix("ON CONFLICT(id) DO UPDATE SET name=excluded.name")
	return r.s.exec(ctx, q, "save chat bot")
}

func (r *ChatBotRepository) GetByID(ctx context.Context, id string) (persistence.ChatBotData, error) {
	q := r.s.sql.Select("id", "name").From("chat_bots").Where(sq.Eq{"id": id})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return persistence.ChatBotData{}, fmt.Errorf("build get chat bot query: %w", err)
	}
	var d persistence.ChatBotData
	if err := r.s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&d.ID, &d.Name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.ChatBotData{}, &persistence.NotFoundError{Kind: "chat bot", ID: id}
		}
		return persistence.ChatBotData{}, fmt.Errorf("get chat bot: %w", err)
	}
	return d, nil
}

func (r *ChatBotRepository) FindAll(ctx context.Context) ([]persistence.ChatBotData, error) {
	q := r.s.sql.Select("id", "name").From("chat_bots").OrderBy("id ASC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list chat bots query: %w", err)
	}
	rows, err := r.s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list chat bots: %w", err)
	}
	defer rows.Close()

	out := make([]persistence.ChatBotData, 0)
	for rows.Next() {
		var d persistence.ChatBotData
		if err := rows.Scan(&d.ID, &d.Name); err != nil {
			return nil, fmt.Errorf("scan chat bot: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat bots: %w", err)
	}
	return out, nil
}

func (r *ChatBotRepository) DeleteByID(ctx context.Context, id string) error {
	return r.s.deleteByID(ctx, "chat_bots", "chat bot", id)
}

type ChatRepository struct {
	s *Store
}

var _ persistence.ChatRepository = (*ChatRepository)(nil)

var chatColumns = []string{"id", "chat_bot_id", "slug", "title", "created_at"}

func (r *ChatRepository) Save(ctx context.Context, data persistence.ChatData) error {
	q := r.s.sql.Insert("chats").
		Columns(chatColumns...).
		Values(data.ID, data.ChatBotID, data.Slug, data.Title, data.CreatedAt.UTC()).
		Suffix("ON CONFLICT(id) DO UPDATE SET chat_bot_id=excluded.chat_bot_id, slug=excluded.slug, title=excluded.title, created_at=excluded.created_at")
	return r.s.exec(ctx, q, "save chat")
}

func (r *ChatRepository) GetByID(ctx context.Context, id string) (persistence.ChatData, error) {
	chats, err := r.list(ctx, r.s.sql.Select(chatColumns...).From("chats").Where(sq.Eq{"id": id}))
	if err != nil {
		return persistence.ChatData{}, err
	}
	if len(chats) == 0 {
		return persistence.ChatData{}, &persistence.NotFoundError{Kind: "chat", ID: id}
	}
	return chats[0], nil
}

func (r *ChatRepository) FindAll(ctx context.Context) ([]persistence.ChatData, error) {
	return r.list(ctx, r.s.sql.Select(chatColumns...).From("chats").OrderBy("created_at DESC"))
}

func (r *ChatRepository) DeleteByID(ctx context.Context, id string) error {
	return r.s.deleteByID(ctx, "chats", "chat", id)
}

func (r *ChatRepository) FindAllByChatBotID(ctx context.Context, chatBotID string, maxResults int) (persistence.ListResult[persistence.ChatData], error) {
	return r.window(ctx, sq.Eq{"chat_bot_id": chatBotID}, maxResults)
}

// SearchChats collects up to persistence.MaxSearchChatIDs chat ids whose
// interactions match the pattern, then pages the chats with those ids.
// The wildcards * and ? map to LIKE's % and _, a literal % or _ matches
// only itself.
func (r *ChatRepository) SearchChats(ctx context.Context, searchFilter string, maxResults int) (persistence.ListResult[persistence.ChatData], error) {
	pattern := likePattern(searchFilter)
	op := "LIKE"
	if r.s.driver == "postgres" {
		op = "ILIKE"
	}
	match := sq.Or{
		sq.Expr("question "+op+" ? ESCAPE '\\'", pattern),
		sq.Expr("answer "+op+" ? ESCAPE '\\'", pattern),
	}
	q := r.s.sql.Select("chat_id").Distinct().
		From("interactions").
		Where(match).
		Limit(persistence.MaxSearchChatIDs)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return persistence.ListResult[persistence.ChatData]{}, fmt.Errorf("build search chat ids query: %w", err)
	}
	rows, err := r.s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return persistence.ListResult[persistence.ChatData]{}, fmt.Errorf("search chat ids: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return persistence.ListResult[persistence.ChatData]{}, fmt.Errorf("scan chat id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return persistence.ListResult[persistence.ChatData]{}, fmt.Errorf("iterate chat ids: %w", err)
	}
	if len(ids) == 0 {
		return persistence.ListResult[persistence.ChatData]{Data: []persistence.ChatData{}}, nil
	}
	return r.window(ctx, sq.Eq{"id": ids}, maxResults)
}

var likeReplacer = strings.NewReplacer(
	`\`, `\\`,
	"%", `\%`,
	"_", `\_`,
	"*", "%",
	"?", "_",
)

// likePattern turns a search filter into a LIKE pattern escaped with \.
func likePattern(filter string) string {
	return likeReplacer.Replace(filter)
}

func (r *ChatRepository) window(ctx context.Context, where sq.Sqlizer, maxResults int) (persistence.ListResult[persistence.ChatData], error) {
	countQ := r.s.sql.Select("COUNT(*)").From("chats").Where(where)
	sqlStr, args, err := countQ.ToSql()
	if err != nil {
		return persistence.ListResult[persistence.ChatData]{}, fmt.Errorf("build count chats query: %w", err)
	}
	var total int
	if err := r.s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&total); err != nil {
		return persistence.ListResult[persistence.ChatData]{}, fmt.Errorf("count chats: %w", err)
	}

	chats, err := r.list(ctx, r.s.sql.Select(chatColumns...).
		From("chats").
		Where(where).
		OrderBy("created_at DESC").
		Limit(uint64(max(maxResults, 0))))
	if err != nil {
		return persistence.ListResult[persistence.ChatData]{}, err
	}
	return persistence.ListResult[persistence.ChatData]{Data: chats, TotalResults: total}, nil
}

func (r *ChatRepository) list(ctx context.Context, q sq.SelectBuilder) ([]persistence.ChatData, error) {
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list chats query: %w", err)
	}
	rows, err := r.s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	out := make([]persistence.ChatData, 0)
	for rows.Next() {
		var d persistence.ChatData
		if err := rows.Scan(&d.ID, &d.ChatBotID, &d.Slug, &d.Title, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		d.CreatedAt = d.CreatedAt.UTC()
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chats: %w", err)
	}
	return out, nil
}

type InteractionRepository struct {
	s *Store
}

var _ persistence.InteractionRepository = (*InteractionRepository)(nil)

var interactionColumns = []string{"id", "chat_id", "question", "answer", "asked_at"}

func (r *InteractionRepository) Save(ctx context.Context, data persistence.InteractionData) error {
	q := r.s.sql.Insert("interactions").
		Columns(interactionColumns...).
		Values(data.ID, data.ChatID, data.Question, data.Answer, data.AskedAt.UTC()).
		Suffix("ON CONFLICT(id) DO UPDATE SET chat_id=excluded.chat_id, question=excluded.question, answer=excluded.answer, asked_at=excluded.asked_at")
	return r.s.exec(ctx, q, "save interaction")
}

func (r *InteractionRepository) GetByID(ctx context.Context, id string) (persistence.InteractionData, error) {
	out, err := r.list(ctx, r.s.sql.Select(interactionColumns...).From("interactions").Where(sq.Eq{"id": id}))
	if err != nil {
		return persistence.InteractionData{}, err
	}
	if len(out) == 0 {
		return persistence.InteractionData{}, &persistence.NotFoundError{Kind: "interaction", ID: id}
	}
	return out[0], nil
}

func (r *InteractionRepository) FindAll(ctx context.Context) ([]persistence.InteractionData, error) {
	return r.list(ctx, r.s.sql.Select(interactionColumns...).From("interactions").OrderBy("asked_at ASC"))
}

func (r *InteractionRepository) DeleteByID(ctx context.Context, id string) error {
	return r.s.deleteByID(ctx, "interactions", "interaction", id)
}

func (r *InteractionRepository) FindAllByChatID(ctx context.Context, chatID string) ([]persistence.InteractionData, error) {
	return r.list(ctx, r.s.sql.Select(interactionColumns...).
		From("interactions").
		Where(sq.Eq{"chat_id": chatID}).
		OrderBy("asked_at ASC"))
}

func (r *InteractionRepository) DeleteAllByChatID(ctx context.Context, chatID string) error {
	q := r.s.sql.Delete("interactions").Where(sq.Eq{"chat_id": chatID})
	return r.s.exec(ctx, q, "delete interactions of chat")
}

func (r *InteractionRepository) list(ctx context.Context, q sq.SelectBuilder) ([]persistence.InteractionData, error) {
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list interactions query: %w", err)
	}
	rows, err := r.s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list interactions: %w", err)
	}
	defer rows.Close()

	out := make([]persistence.InteractionData, 0)
	for rows.Next() {
		var d persistence.InteractionData
		if err := rows.Scan(&d.ID, &d.ChatID, &d.Question, &d.Answer, &d.AskedAt); err != nil {
			return nil, fmt.Errorf("scan interaction: %w", err)
		}
		d.AskedAt = d.AskedAt.UTC()
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate interactions: %w", err)
	}
	return out, nil
}

func (s *Store) exec(ctx context.Context, q sq.Sqlizer, what string) error {
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build %s query: %w", what, err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	return nil
}

func (s *Store) deleteByID(ctx context.Context, table, kind, id string) error {
	q := s.sql.Delete(table).Where(sq.Eq{"id": id})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build delete %s query: %w", kind, err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("delete %s: %w", kind, err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return &persistence.NotFoundError{Kind: kind, ID: id}
	}
	return nil
}
