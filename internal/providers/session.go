package providers

import (
	"context"
	"sync"
	"time"
)

// Client adapts a Completer into a ChatClient.
type Client struct {
	id        string
	name      string
	completer Completer
	timeout   time.Duration
}

var _ ChatClient = (*Client)(nil)

// NewClient builds a ChatClient. A positive timeout bounds every provider call.
func NewClient(id, name string, completer Completer, timeout time.Duration) *Client {
	return &Client{id: id, name: name, completer: completer, timeout: timeout}
}

func (c *Client) ID() string   { return c.id }
func (c *Client) Name() string { return c.name }

func (c *Client) StartSession() ChatSession {
	return c.RestoreSession(nil)
}

func (c *Client) RestoreSession(history []Interaction) ChatSession {
	msgs := make([]Message, 0, 2*len(history))
	for _, in := range history {
		msgs = append(msgs,
			Message{Role: RoleUser, Content: in.Question},
			Message{Role: RoleAssistant, Content: in.Answer},
		)
	}
	return &Session{provider: c.id, completer: c.completer, timeout: c.timeout, history: msgs}
}

// Session keeps the conversation history sent with every request. Only
// successful Ask calls extend it.
type Session struct {
	provider  string
	completer Completer
	timeout   time.Duration

	mu      sync.Mutex
	history []Message
}

var _ ChatSession = (*Session)(nil)

func (s *Session) Ask(ctx context.Context, question string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	answer, err := s.complete(ctx, question)
	if err != nil {
		return "", err
	}
	s.history = append(s.history,
		Message{Role: RoleUser, Content: question},
		Message{Role: RoleAssistant, Content: answer},
	)
	return answer, nil
}

// SuggestTitle sends the title prompt on top of a copy of the history. The
// prompt and its answer never become part of the conversation.
func (s *Session) SuggestTitle(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	title, err := s.complete(ctx, SuggestTitleQuestion)
	if err != nil {
		return "", err
	}
	return CleanTitle(title), nil
}

// Mark returns the number of recorded messages.
func (s *Session) Mark() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

// Rewind truncates the history back to mark. Marks beyond the current
// history are ignored.
func (s *Session) Rewind(mark int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mark < 0 || mark >= len(s.history) {
		return
	}
	clear(s.history[mark:])
	s.history = s.history[:mark]
}

// History returns the recorded question and answer pairs.
func (s *Session) History() []Interaction {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Interaction, 0, len(s.history)/2)
	for i := 0; i+1 < len(s.history); i += 2 {
		out = append(out, Interaction{Question: s.history[i].Content, Answer: s.history[i+1].Content})
	}
	return out
}

func (s *Session) complete(ctx context.Context, question string) (string, error) {
	msgs := make([]Message, 0, len(s.history)+1)
	msgs = append(msgs, s.history...)
	msgs = append(msgs, Message{Role: RoleUser, Content: question})

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	answer, err := s.completer.Complete(ctx, msgs)
	if err != nil {
		return "", &Error{Provider: s.provider, Err: err}
	}
	return answer, nil
}
