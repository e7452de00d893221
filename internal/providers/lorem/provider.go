// Package lorem is an offline provider that answers with placeholder text.
package lorem

import (
	"context"
	"strings"
	"sync"
	"time"

	loremgen "github.com/bozaro/golorem"

	"askthemall/internal/providers"
)

type Provider struct {
	delay time.Duration

	mu        sync.Mutex
	generator *loremgen.Lorem
}

// New returns a provider that waits delay before answering.
func New(delay time.Duration) *Provider {
	return &Provider{delay: delay, generator: loremgen.New()}
}

var _ providers.Completer = (*Provider)(nil)

func (p *Provider) Complete(ctx context.Context, messages []providers.Message) (string, error) {
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if n := len(messages); n > 0 && messages[n-1].Content == providers.SuggestTitleQuestion {
		return strings.TrimSuffix(p.generator.Sentence(3, 8), "."), nil
	}
	paragraphs := make([]string, 0, 3)
	for i := 0; i < 1+len(messages)%3; i++ {
		paragraphs = append(paragraphs, p.generator.Paragraph(2, 5))
	}
	return strings.Join(paragraphs, "\n\n"), nil
}
