// Package persistence holds the stored records of askthemall and the repository
// contracts every storage backend implements.
package persistence

import (
	"context"
	"errors"
	"fmt"
)

// MaxSearchChatIDs caps the distinct chat ids collected by the first phase of a
// chat search. Chats beyond it are not reachable through search.
const MaxSearchChatIDs = 1000

var (
	ErrNotFound         = errors.New("not found")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// NotFoundError reports a missing entity. errors.Is(err, ErrNotFound) matches it.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// ListResult is a capped window of rows plus the true number of matches.
type ListResult[T any] struct {
	Data         []T
	TotalResults int
}

func (r ListResult[T]) HasMore() bool {
	return r.TotalResults > len(r.Data)
}

type Repository[T any] interface {
	// Save upserts by id. The write is visible to the next read.
	Save(ctx context.Context, data T) error
	// GetByID returns a *NotFoundError when the id is absent.
	GetByID(ctx context.Context, id string) (T, error)
	FindAll(ctx context.Context) ([]T, error)
	// DeleteByID returns a *NotFoundError when nothing was deleted; callers
	// treat that as already deleted.
	DeleteByID(ctx context.Context, id string) error
}

type ChatBotRepository interface {
	Repository[ChatBotData]
}

type ChatRepository interface {
	Repository[ChatData]
	// FindAllByChatBotID lists chats newest first, at most maxResults of them.
	FindAllByChatBotID(ctx context.Context, chatBotID string, maxResults int) (ListResult[ChatData], error)
	// SearchChats matches a wildcard pattern against interaction questions and
	// answers and returns the owning chats newest first.
	SearchChats(ctx context.Context, searchFilter string, maxResults int) (ListResult[ChatData], error)
}

type InteractionRepository interface {
	Repository[InteractionData]
	// FindAllByChatID returns the interactions of a chat in asked_at order.
	FindAllByChatID(ctx context.Context, chatID string) ([]InteractionData, error)
	DeleteAllByChatID(ctx context.Context, chatID string) error
}

type Migrator interface {
	Migrate(ctx context.Context) error
}

// Repositories bundles one backend's repositories.
type Repositories struct {
	ChatBots     ChatBotRepository
	Chats        ChatRepository
	Interactions InteractionRepository
}
