package view

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultMaxResults       = 5
	MaxResultsStep          = 5
	DefaultSearchMaxResults = 10
	DefaultScrollDelay      = 1000 * time.Millisecond
	GotoScrollDelay         = 100 * time.Millisecond
)

type ScrollBehavior string

const (
	ScrollInstant ScrollBehavior = "instant"
	ScrollSmooth  ScrollBehavior = "smooth"
)

// ScrollTarget asks the front end to bring one interaction into view.
type ScrollTarget struct {
	ID       string         `json:"id"`
	Behavior ScrollBehavior `json:"behavior"`
	Delay    time.Duration  `json:"delay"`
}

// SessionContext is the per-user UI state. Intents mutate it and the caller
// persists it afterwards.
type SessionContext struct {
	ID string `json:"id"`
	// ChatID is the current chat, stored or not.
	ChatID string `json:"chat_id,omitempty"`
	// NewChatBotID is set while the current chat has not been stored yet.
	NewChatBotID     string         `json:"new_chat_bot_id,omitempty"`
	ScrollTo         *ScrollTarget  `json:"scroll_to,omitempty"`
	MaxResults       map[string]int `json:"max_results,omitempty"`
	SearchFilter     string         `json:"search_filter,omitempty"`
	SearchMaxResults int            `json:"search_max_results,omitempty"`
}

func NewSessionContext(id string) *SessionContext {
	return &SessionContext{ID: id, MaxResults: map[string]int{}}
}

func (s *SessionContext) maxResults(chatBotID string) int {
	if n, ok := s.MaxResults[chatBotID]; ok && n > 0 {
		return n
	}
	return DefaultMaxResults
}

func (s *SessionContext) searchMaxResults() int {
	if s.SearchMaxResults > 0 {
		return s.SearchMaxResults
	}
	return DefaultSearchMaxResults
}

// ConsumeScrollTo returns the pending scroll target and clears it.
func (s *SessionContext) ConsumeScrollTo() *ScrollTarget {
	t := s.ScrollTo
	s.ScrollTo = nil
	return t
}

func (s *SessionContext) clearCurrent() {
	s.ChatID = ""
	s.NewChatBotID = ""
	s.ScrollTo = nil
}

type SessionStore interface {
	Load(ctx context.Context, id string) (*SessionContext, error)
	Save(ctx context.Context, s *SessionContext) error
	Clear(ctx context.Context, id string) error
}

// RedisSessionStore keeps sessions as JSON with a sliding TTL.
type RedisSessionStore struct {
	redis  redis.Cmdable
	prefix string
	ttl    time.Duration
}

func NewRedisSessionStore(rdb redis.Cmdable, prefix string, ttl time.Duration) *RedisSessionStore {
	if prefix == "" {
		prefix = "askthemall"
	}
	return &RedisSessionStore{redis: rdb, prefix: prefix, ttl: ttl}
}

func (r *RedisSessionStore) key(id string) string {
	return fmt.Sprintf("%s:session:%s", r.prefix, id)
}

// Load returns a fresh session when none is stored.
func (r *RedisSessionStore) Load(ctx context.Context, id string) (*SessionContext, error) {
	raw, err := r.redis.Get(ctx, r.key(id)).Result()
	if errors.Is(err, redis.Nil) {
		return NewSessionContext(id), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	var s SessionContext
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	s.ID = id
	if s.MaxResults == nil {
		s.MaxResults = map[string]int{}
	}
	return &s, nil
}

func (r *RedisSessionStore) Save(ctx context.Context, s *SessionContext) error {
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := r.redis.Set(ctx, r.key(s.ID), string(b), r.ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (r *RedisSessionStore) Clear(ctx context.Context, id string) error {
	if err := r.redis.Del(ctx, r.key(id)).Err(); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}
