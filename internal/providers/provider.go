package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// SuggestTitleQuestion is sent to a session to obtain a chat title.
var SuggestTitleQuestion = strings.Join([]string{
	"Generate a short descriptive title with minimum 3 words and maximum 15 words for this chat.",
	"The title should be exclusively based on the initial question.",
	"Do not let me choose an option from a list of possible titles.",
	"Do not indicate this was a query or question.",
	"It should indicate the purpose of the chat.",
	"And it should be in the language of the initial question.",
	"Your response should be a single line of text with no more than 15 words.",
	"Do not include any other text.",
}, " ")

var ErrProvider = errors.New("provider error")

// Error wraps a failed provider call. errors.Is(err, ErrProvider) matches it.
type Error struct {
	Provider string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return target == ErrProvider
}

type Message struct {
	Role    string
	Content string
}

type Interaction struct {
	Question string
	Answer   string
}

// Completer sends a full conversation to a model and returns its reply.
type Completer interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

// ChatClient is a configured model that opens conversations.
type ChatClient interface {
	ID() string
	Name() string
	StartSession() ChatSession
	// RestoreSession seeds a session with interactions in order.
	RestoreSession(history []Interaction) ChatSession
}

// ChatSession is one conversation with its provider-side memory.
type ChatSession interface {
	Ask(ctx context.Context, question string) (string, error)
	// SuggestTitle asks for a title without recording the exchange.
	SuggestTitle(ctx context.Context) (string, error)
	// Mark returns a marker for the current history. Rewind drops every
	// exchange recorded after it.
	Mark() int
	Rewind(mark int)
}

// CleanTitle normalizes a model-suggested title: first non-empty line, no
// surrounding whitespace or quotes.
func CleanTitle(s string) string {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		line = strings.Trim(line, "\"'`")
		line = strings.TrimSpace(line)
		if line != "" {
			return line
		}
	}
	return ""
}
