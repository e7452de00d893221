package lorem

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"askthemall/internal/providers"
)

func TestCompleteAnswersAndTitles(t *testing.T) {
	p := New(0)
	ctx := context.Background()

	answer, err := p.Complete(ctx, []providers.Message{{Role: providers.RoleUser, Content: "anything"}})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if strings.TrimSpace(answer) == "" {
		t.Fatalf("expected placeholder text")
	}

	title, err := p.Complete(ctx, []providers.Message{
		{Role: providers.RoleUser, Content: "anything"},
		{Role: providers.RoleAssistant, Content: answer},
		{Role: providers.RoleUser, Content: providers.SuggestTitleQuestion},
	})
	if err != nil {
		t.Fatalf("title: %v", err)
	}
	if strings.TrimSpace(title) == "" || strings.Contains(title, "\n") {
		t.Fatalf("expected a single line title, got %q", title)
	}
}

func TestCompleteHonorsContext(t *testing.T) {
	p := New(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Complete(ctx, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}
