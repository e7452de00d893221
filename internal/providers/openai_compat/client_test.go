package openai_compat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"askthemall/internal/providers"
)

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func completion(content string) map[string]any {
	return map[string]any{
		"id":     "chatcmpl-1",
		"object": "chat.completion",
		"model":  "test-model",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
	}
}

func TestCompleteSendsHistory(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing bearer token")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(completion("Hello there"))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "secret", Model: "llama-3.3-70b-versatile"})
	text, err := c.Complete(context.Background(), []providers.Message{
		{Role: providers.RoleUser, Content: "hi"},
		{Role: providers.RoleAssistant, Content: "hey"},
		{Role: providers.RoleUser, Content: "how are you"},
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if text != "Hello there" {
		t.Fatalf("unexpected text %q", text)
	}
	if got.Model != "llama-3.3-70b-versatile" || len(got.Messages) != 3 {
		t.Fatalf("unexpected request: %+v", got)
	}
	if got.Messages[1].Role != "assistant" || got.Messages[2].Content != "how are you" {
		t.Fatalf("unexpected messages: %+v", got.Messages)
	}
}

func TestCompleteRetriesTemporaryStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(completion("ok"))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Model: "m", MaxRetries: 2, BackoffBase: time.Millisecond})
	text, err := c.Complete(context.Background(), []providers.Message{{Role: providers.RoleUser, Content: "q"}})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if text != "ok" || calls.Load() != 2 {
		t.Fatalf("expected success on second call, got %q after %d calls", text, calls.Load())
	}
}

func TestCompleteDoesNotRetryClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Model: "m", MaxRetries: 3, BackoffBase: time.Millisecond})
	if _, err := c.Complete(context.Background(), []providers.Message{{Role: providers.RoleUser, Content: "q"}}); err == nil {
		t.Fatalf("expected error")
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single call, got %d", calls.Load())
	}
}

func TestSessionTitleProbeThroughAPI(t *testing.T) {
	var lastLen atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		lastLen.Store(int32(len(req.Messages)))
		answer := "an answer"
		if req.Messages[len(req.Messages)-1].Content == providers.SuggestTitleQuestion {
			answer = "\"Learning About Go Channels\"\n"
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(completion(answer))
	}))
	defer srv.Close()

	client := providers.NewClient("groq-test", "Groq (test)", New(Config{BaseURL: srv.URL, Model: "m"}), time.Second)
	session := client.StartSession()
	ctx := context.Background()

	if _, err := session.Ask(ctx, "How do channels work?"); err != nil {
		t.Fatalf("ask: %v", err)
	}
	title, err := session.SuggestTitle(ctx)
	if err != nil {
		t.Fatalf("title: %v", err)
	}
	if title != "Learning About Go Channels" {
		t.Fatalf("unexpected title %q", title)
	}
	if _, err := session.Ask(ctx, "And select?"); err != nil {
		t.Fatalf("ask 2: %v", err)
	}
	if lastLen.Load() != 3 {
		t.Fatalf("title prompt leaked into history: %d messages sent", lastLen.Load())
	}
}
