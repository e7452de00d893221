// Package telegram is a Telegram front end over the view-model.
package telegram

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers/filters/callbackquery"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers/filters/message"
	"github.com/rs/zerolog"

	"askthemall/internal/metrics"
	"askthemall/internal/ratelimit"
	"askthemall/internal/view"
)

type Service struct {
	view        *view.AskThemAllViewModel
	sessions    view.SessionStore
	rateLimiter *ratelimit.Limiter
	logger      zerolog.Logger
	metrics     *metrics.Metrics
	locks       sync.Map
}

type Config struct {
	View        *view.AskThemAllViewModel
	Sessions    view.SessionStore
	RateLimiter *ratelimit.Limiter
	Logger      zerolog.Logger
	Metrics     *metrics.Metrics
}

func NewService(cfg Config) *Service {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	return &Service{
		view:        cfg.View,
		sessions:    cfg.Sessions,
		rateLimiter: cfg.RateLimiter,
		logger:      cfg.Logger,
		metrics:     m,
	}
}

func (s *Service) Register(d *ext.Dispatcher) {
	d.AddHandler(handlers.NewCommand("start", s.start))
	d.AddHandler(handlers.NewCommand("help", s.help))
	d.AddHandler(handlers.NewCommand("bots", s.bots))
	d.AddHandler(handlers.NewCommand("new", s.newChat))
	d.AddHandler(handlers.NewCommand("chat", s.chat))
	d.AddHandler(handlers.NewCommand("outline", s.outline))
	d.AddHandler(handlers.NewCommand("search", s.search))
	d.AddHandler(handlers.NewCommand("delete", s.deleteChat))
	d.AddHandler(handlers.NewCallback(callbackquery.Prefix(cbPrefix), s.onCallback))
	d.AddHandler(handlers.NewMessage(func(msg *gotgbot.Message) bool {
		return message.Private(msg) && message.Text(msg)
	}, s.privateText))
}

func (s *Service) now() time.Time {
	return time.Now().UTC()
}

func sessionID(userID int64) string {
	return fmt.Sprintf("tg:%d", userID)
}

// withSession serializes intents per user and saves the session afterwards,
// also when fn fails.
func (s *Service) withSession(ctx context.Context, userID int64, fn func(*view.SessionContext) error) error {
	id := sessionID(userID)
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	sess, err := s.sessions.Load(ctx, id)
	if err != nil {
		return err
	}
	fnErr := fn(sess)
	if err := s.sessions.Save(ctx, sess); err != nil {
		s.logger.Error().Err(err).Str("session_id", id).Msg("failed to save session")
		if fnErr == nil {
			return err
		}
	}
	return fnErr
}
