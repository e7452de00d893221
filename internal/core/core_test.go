package core

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"askthemall/internal/metrics"
	"askthemall/internal/persistence"
	"askthemall/internal/providers"
	"askthemall/internal/storage/sqlstore"
)

type scriptedCompleter struct {
	mu       sync.Mutex
	title    string
	titleErr error
	requests [][]providers.Message
}

func (s *scriptedCompleter) Complete(_ context.Context, msgs []providers.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, msgs)
	last := msgs[len(msgs)-1].Content
	if last == providers.SuggestTitleQuestion {
		return s.title, s.titleErr
	}
	return "answer to: " + last, nil
}

func (s *scriptedCompleter) lastRequest() []providers.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[len(s.requests)-1]
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func newRepos(t *testing.T) persistence.Repositories {
	t.Helper()
	s, err := sqlstore.Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "core.db"), true)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s.Repositories()
}

func newModel(t *testing.T, repos persistence.Repositories, policy UnknownChatBotPolicy, clients ...providers.ChatClient) *AskThemAllModel {
	t.Helper()
	c := &clock{t: time.Date(2024, 12, 1, 10, 0, 0, 0, time.UTC)}
	m, err := New(context.Background(), Config{
		Repositories:    repos,
		Clients:         clients,
		Logger:          zerolog.Nop(),
		Metrics:         metrics.New(),
		UnknownChatBots: policy,
		Now:             c.now,
	})
	if err != nil {
		t.Fatalf("new model: %v", err)
	}
	return m
}

func TestChatBotsOrdering(t *testing.T) {
	repos := newRepos(t)
	ctx := context.Background()
	if err := repos.ChatBots.Save(ctx, persistence.ChatBotData{ID: "retired", Name: "Beta"}); err != nil {
		t.Fatalf("seed retired bot: %v", err)
	}
	m := newModel(t, repos, UnknownChatBotPlaceholder,
		providers.NewClient("zeta", "Zeta", &scriptedCompleter{}, 0),
		providers.NewClient("alpha", "Alpha", &scriptedCompleter{}, 0),
	)

	bots, err := m.ChatBots(ctx)
	if err != nil {
		t.Fatalf("chat bots: %v", err)
	}
	var names []string
	for _, b := range bots {
		names = append(names, b.Name())
	}
	if strings.Join(names, ",") != "Alpha,Zeta,Beta" {
		t.Fatalf("unexpected order: %v", names)
	}
	if bots[2].Enabled() {
		t.Fatalf("bot without client must be disabled")
	}
	if _, err := bots[2].NewChat(); !errors.Is(err, ErrChatDisabled) {
		t.Fatalf("expected ErrChatDisabled, got %v", err)
	}
}

func TestNewChatIsNotPersisted(t *testing.T) {
	repos := newRepos(t)
	ctx := context.Background()
	m := newModel(t, repos, UnknownChatBotPlaceholder, providers.NewClient("bot", "Bot", &scriptedCompleter{}, 0))

	bot, err := m.ChatBot(ctx, "bot")
	if err != nil {
		t.Fatalf("chat bot: %v", err)
	}
	chat, err := bot.NewChat()
	if err != nil {
		t.Fatalf("new chat: %v", err)
	}
	if chat.Started() || chat.Title() != "Chat with Bot" || chat.Slug() != "" {
		t.Fatalf("unexpected new chat: started=%v title=%q slug=%q", chat.Started(), chat.Title(), chat.Slug())
	}
	if !strings.HasPrefix(chat.ID(), "bot-") {
		t.Fatalf("unexpected chat id %q", chat.ID())
	}
	list, err := bot.GetAllChats(ctx, 5)
	if err != nil {
		t.Fatalf("get all chats: %v", err)
	}
	if len(list.Chats) != 0 || list.TotalResults != 0 {
		t.Fatalf("new chat must not be stored: %+v", list)
	}
}

func TestAskQuestionPersistsOnFirstAnswer(t *testing.T) {
	repos := newRepos(t)
	ctx := context.Background()
	sc := &scriptedCompleter{title: "Rust Basics Explained"}
	m := newModel(t, repos, UnknownChatBotPlaceholder, providers.NewClient("bot", "Bot", sc, 0))

	bot, _ := m.ChatBot(ctx, "bot")
	chat, _ := bot.NewChat()

	answer, err := chat.AskQuestion(ctx, "What is Rust?")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if answer != "answer to: What is Rust?" {
		t.Fatalf("unexpected answer %q", answer)
	}
	if !chat.Started() || chat.Title() != "Rust Basics Explained" {
		t.Fatalf("unexpected chat state: started=%v title=%q", chat.Started(), chat.Title())
	}
	if !strings.HasPrefix(chat.Slug(), "rust-basics-explained-") {
		t.Fatalf("unexpected slug %q", chat.Slug())
	}

	list, err := bot.GetAllChats(ctx, 5)
	if err != nil {
		t.Fatalf("get all chats: %v", err)
	}
	if list.TotalResults != 1 || list.Chats[0].ID() != chat.ID() || list.Chats[0].Title() != "Rust Basics Explained" {
		t.Fatalf("unexpected stored chats: %+v", list)
	}
	stored, err := repos.Interactions.FindAllByChatID(ctx, chat.ID())
	if err != nil || len(stored) != 1 {
		t.Fatalf("expected one interaction, got %d (%v)", len(stored), err)
	}

	if _, err := chat.AskQuestion(ctx, "And ownership?"); err != nil {
		t.Fatalf("second ask: %v", err)
	}
	if got := sc.lastRequest(); len(got) != 3 {
		t.Fatalf("title prompt leaked into history: %d messages", len(got))
	}
	list, _ = bot.GetAllChats(ctx, 5)
	if list.TotalResults != 1 {
		t.Fatalf("second answer must not create another chat")
	}
	if stored, _ := repos.Interactions.FindAllByChatID(ctx, chat.ID()); len(stored) != 2 {
		t.Fatalf("expected two interactions, got %d", len(stored))
	}
}

func TestTitleFailureKeepsPlaceholder(t *testing.T) {
	repos := newRepos(t)
	ctx := context.Background()
	sc := &scriptedCompleter{titleErr: errors.New("quota exceeded")}
	m := newModel(t, repos, UnknownChatBotPlaceholder, providers.NewClient("bot", "Bot", sc, 0))

	bot, _ := m.ChatBot(ctx, "bot")
	chat, _ := bot.NewChat()
	if _, err := chat.AskQuestion(ctx, "hello"); err != nil {
		t.Fatalf("ask must succeed when only the title fails: %v", err)
	}
	if chat.Title() != "Chat with Bot" || !strings.HasPrefix(chat.Slug(), "chat-with-bot-") {
		t.Fatalf("expected placeholder title and slug, got %q %q", chat.Title(), chat.Slug())
	}
	if !chat.Started() {
		t.Fatalf("chat must be stored")
	}
}

func TestSwitchChatRestoresTranscript(t *testing.T) {
	repos := newRepos(t)
	ctx := context.Background()
	sc := &scriptedCompleter{title: "Numbers"}
	m := newModel(t, repos, UnknownChatBotPlaceholder, providers.NewClient("bot", "Bot", sc, 0))

	bot, _ := m.ChatBot(ctx, "bot")
	chat, _ := bot.NewChat()
	for _, q := range []string{"one", "two", "three"} {
		if _, err := chat.AskQuestion(ctx, q); err != nil {
			t.Fatalf("ask %s: %v", q, err)
		}
	}

	restored, err := m.SwitchChat(ctx, chat.ID())
	if err != nil {
		t.Fatalf("switch chat: %v", err)
	}
	got := restored.Interactions()
	if len(got) != 3 || got[0].Question != "one" || got[2].Question != "three" {
		t.Fatalf("unexpected transcript: %+v", got)
	}
	if restored.AssistantName() != "Bot" || !restored.Enabled() {
		t.Fatalf("restored chat must be enabled for Bot")
	}

	viaBot, err := bot.SwitchChat(ctx, chat.ID())
	if err != nil || len(viaBot.Interactions()) != 3 {
		t.Fatalf("switch chat via bot: %v", err)
	}
	other := newModel(t, repos, UnknownChatBotPlaceholder, providers.NewClient("other", "Other", &scriptedCompleter{}, 0))
	otherBot, _ := other.ChatBot(ctx, "other")
	if _, err := otherBot.GetChat(ctx, chat.ID()); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("chats of another bot must not be found, got %v", err)
	}

	if _, err := restored.AskQuestion(ctx, "four"); err != nil {
		t.Fatalf("ask after restore: %v", err)
	}
	req := sc.lastRequest()
	if len(req) != 7 || req[0].Content != "one" || req[5].Content != "answer to: three" {
		t.Fatalf("restored session did not replay history: %+v", req)
	}
}

func TestRemoveChat(t *testing.T) {
	repos := newRepos(t)
	ctx := context.Background()
	m := newModel(t, repos, UnknownChatBotPlaceholder, providers.NewClient("bot", "Bot", &scriptedCompleter{title: "T t t"}, 0))

	bot, _ := m.ChatBot(ctx, "bot")
	chat, _ := bot.NewChat()
	if _, err := chat.AskQuestion(ctx, "q"); err != nil {
		t.Fatalf("ask: %v", err)
	}
	if err := chat.Remove(ctx); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := m.SwitchChat(ctx, chat.ID()); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if rows, _ := repos.Interactions.FindAllByChatID(ctx, chat.ID()); len(rows) != 0 {
		t.Fatalf("interactions must be removed")
	}
	if err := chat.Remove(ctx); err != nil {
		t.Fatalf("second remove must be a no-op: %v", err)
	}
}

var errDiskFull = errors.New("disk full")

type flakyChats struct {
	persistence.ChatRepository
	failures int
}

func (f *flakyChats) Save(ctx context.Context, d persistence.ChatData) error {
	if f.failures > 0 {
		f.failures--
		return errDiskFull
	}
	return f.ChatRepository.Save(ctx, d)
}

type flakyInteractions struct {
	persistence.InteractionRepository
	failures int
}

func (f *flakyInteractions) Save(ctx context.Context, d persistence.InteractionData) error {
	if f.failures > 0 {
		f.failures--
		return errDiskFull
	}
	return f.InteractionRepository.Save(ctx, d)
}

// assertSingleExchange checks the store and the provider agree on one
// question and answer after a failed write was retried.
func assertSingleExchange(t *testing.T, repos persistence.Repositories, bot *ChatBotModel, chat *ChatModel, sc *scriptedCompleter) {
	t.Helper()
	ctx := context.Background()

	if !chat.Started() || len(chat.Interactions()) != 1 {
		t.Fatalf("retry must start the chat: started=%v interactions=%d", chat.Started(), len(chat.Interactions()))
	}
	if list, err := bot.GetAllChats(ctx, 5); err != nil || list.TotalResults != 1 {
		t.Fatalf("expected exactly one stored chat, got %+v (%v)", list, err)
	}
	rows, err := repos.Interactions.FindAllByChatID(ctx, chat.ID())
	if err != nil || len(rows) != 1 {
		t.Fatalf("expected exactly one stored interaction, got %d (%v)", len(rows), err)
	}
	title := sc.lastRequest()
	if len(title) != 3 || title[0].Content != "q" || title[2].Content != providers.SuggestTitleQuestion {
		t.Fatalf("title request must carry one exchange, got %d messages: %+v", len(title), title)
	}

	if _, err := chat.AskQuestion(ctx, "q2"); err != nil {
		t.Fatalf("follow-up: %v", err)
	}
	next := sc.lastRequest()
	if len(next) != 3 || next[0].Content != "q" || next[1].Content != "answer to: q" || next[2].Content != "q2" {
		t.Fatalf("follow-up must carry one earlier exchange, got %+v", next)
	}
}

func TestInteractionWriteFailureRemovesChat(t *testing.T) {
	repos := newRepos(t)
	flaky := &flakyInteractions{InteractionRepository: repos.Interactions, failures: 1}
	repos.Interactions = flaky
	ctx := context.Background()
	sc := &scriptedCompleter{title: "A b c"}
	m := newModel(t, repos, UnknownChatBotPlaceholder, providers.NewClient("bot", "Bot", sc, 0))

	bot, _ := m.ChatBot(ctx, "bot")
	chat, _ := bot.NewChat()
	if _, err := chat.AskQuestion(ctx, "q"); !errors.Is(err, errDiskFull) {
		t.Fatalf("expected interaction write error, got %v", err)
	}
	if chat.Started() || len(chat.Interactions()) != 0 {
		t.Fatalf("chat must roll back: started=%v interactions=%d", chat.Started(), len(chat.Interactions()))
	}
	if list, _ := bot.GetAllChats(ctx, 5); list.TotalResults != 0 {
		t.Fatalf("chat row must be removed, found %d", list.TotalResults)
	}

	if _, err := chat.AskQuestion(ctx, "q"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	assertSingleExchange(t, repos, bot, chat, sc)
}

func TestChatWriteFailureKeepsChatUnstarted(t *testing.T) {
	repos := newRepos(t)
	flaky := &flakyChats{ChatRepository: repos.Chats, failures: 1}
	repos.Chats = flaky
	ctx := context.Background()
	sc := &scriptedCompleter{title: "A b c"}
	m := newModel(t, repos, UnknownChatBotPlaceholder, providers.NewClient("bot", "Bot", sc, 0))

	bot, _ := m.ChatBot(ctx, "bot")
	chat, _ := bot.NewChat()
	if _, err := chat.AskQuestion(ctx, "q"); !errors.Is(err, errDiskFull) {
		t.Fatalf("expected chat write error, got %v", err)
	}
	if chat.Started() || len(chat.Interactions()) != 0 {
		t.Fatalf("chat must roll back: started=%v interactions=%d", chat.Started(), len(chat.Interactions()))
	}
	if list, _ := bot.GetAllChats(ctx, 5); list.TotalResults != 0 {
		t.Fatalf("no chat row expected, found %d", list.TotalResults)
	}
	if rows, _ := repos.Interactions.FindAllByChatID(ctx, chat.ID()); len(rows) != 0 {
		t.Fatalf("no interaction expected, found %d", len(rows))
	}

	if _, err := chat.AskQuestion(ctx, "q"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	assertSingleExchange(t, repos, bot, chat, sc)
}

func TestLaterInteractionWriteFailureRewindsSession(t *testing.T) {
	repos := newRepos(t)
	flaky := &flakyInteractions{InteractionRepository: repos.Interactions}
	repos.Interactions = flaky
	ctx := context.Background()
	sc := &scriptedCompleter{title: "A b c"}
	m := newModel(t, repos, UnknownChatBotPlaceholder, providers.NewClient("bot", "Bot", sc, 0))

	bot, _ := m.ChatBot(ctx, "bot")
	chat, _ := bot.NewChat()
	if _, err := chat.AskQuestion(ctx, "q1"); err != nil {
		t.Fatalf("ask 1: %v", err)
	}
	flaky.failures = 1
	if _, err := chat.AskQuestion(ctx, "q2"); !errors.Is(err, errDiskFull) {
		t.Fatalf("expected interaction write error, got %v", err)
	}
	if !chat.Started() || len(chat.Interactions()) != 1 {
		t.Fatalf("started chat must keep its first exchange only: started=%v interactions=%d", chat.Started(), len(chat.Interactions()))
	}
	if list, _ := bot.GetAllChats(ctx, 5); list.TotalResults != 1 {
		t.Fatalf("started chat row must survive, found %d", list.TotalResults)
	}

	if _, err := chat.AskQuestion(ctx, "q2"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	req := sc.lastRequest()
	if len(req) != 3 || req[0].Content != "q1" || req[2].Content != "q2" {
		t.Fatalf("retry must carry only the first exchange, got %+v", req)
	}
	if rows, _ := repos.Interactions.FindAllByChatID(ctx, chat.ID()); len(rows) != 2 {
		t.Fatalf("expected two stored interactions, got %d", len(rows))
	}
}

func TestUnknownChatBotPolicy(t *testing.T) {
	repos := newRepos(t)
	ctx := context.Background()
	created := time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC)
	if err := repos.Chats.Save(ctx, persistence.ChatData{ID: "ghost-1", ChatBotID: "ghost", Title: "Old", CreatedAt: created}); err != nil {
		t.Fatalf("seed chat: %v", err)
	}
	if err := repos.Interactions.Save(ctx, persistence.InteractionData{ID: "i", ChatID: "ghost-1", Question: "haunted?", Answer: "boo", AskedAt: created}); err != nil {
		t.Fatalf("seed interaction: %v", err)
	}

	lenient := newModel(t, repos, UnknownChatBotPlaceholder)
	list, err := lenient.FilterChats(ctx, "*haunted*", 10)
	if err != nil {
		t.Fatalf("filter chats: %v", err)
	}
	if len(list.Chats) != 1 || list.Chats[0].AssistantName() != "Unknown chat bot (ghost)" || list.Chats[0].Enabled() {
		t.Fatalf("unexpected placeholder chat: %+v", list)
	}
	chat, err := lenient.SwitchChat(ctx, "ghost-1")
	if err != nil {
		t.Fatalf("switch chat: %v", err)
	}
	if len(chat.Interactions()) != 1 {
		t.Fatalf("transcript must load without a client")
	}
	if _, err := chat.AskQuestion(ctx, "again?"); !errors.Is(err, ErrChatDisabled) {
		t.Fatalf("expected ErrChatDisabled, got %v", err)
	}

	strict := newModel(t, repos, UnknownChatBotStrict)
	if _, err := strict.FilterChats(ctx, "*haunted*", 10); !errors.Is(err, ErrChatBotNotFound) {
		t.Fatalf("expected ErrChatBotNotFound, got %v", err)
	}
}
