package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	QuestionsTotal   *prometheus.CounterVec
	ProviderErrors   *prometheus.CounterVec
	ProviderDuration *prometheus.HistogramVec
	TitleFailures    prometheus.Counter
	ChatsStarted     prometheus.Counter
	ChatsRemoved     prometheus.Counter
	UpdatesTotal     prometheus.Counter
	RateLimited      prometheus.Counter
}

var (
	once   sync.Once
	global *Metrics
)

// New builds unregistered collectors.
func New() *Metrics {
	return &Metrics{
		QuestionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "askthemall",
			Name:      "questions_total",
			Help:      "Total questions answered, by chat bot",
		}, []string{"chat_bot_id"}),
		ProviderErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "askthemall",
			Name:      "provider_errors_total",
			Help:      "Total failed provider calls, by chat bot",
		}, []string{"chat_bot_id"}),
		ProviderDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "askthemall",
			Name:      "provider_call_seconds",
			Help:      "Provider call latency",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		}, []string{"chat_bot_id", "call"}),
		TitleFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "askthemall",
			Name:      "title_failures_total",
			Help:      "Total chats persisted with the placeholder title",
		}),
		ChatsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "askthemall",
			Name:      "chats_started_total",
			Help:      "Total chats persisted after their first answer",
		}),
		ChatsRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "askthemall",
			Name:      "chats_removed_total",
			Help:      "Total chats removed",
		}),
		UpdatesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "askthemall",
			Name:      "telegram_updates_total",
			Help:      "Total telegram updates received",
		}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "askthemall",
			Name:      "rate_limited_total",
			Help:      "Total questions rejected by the rate limiter",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.QuestionsTotal, m.ProviderErrors, m.ProviderDuration, m.TitleFailures,
		m.ChatsStarted, m.ChatsRemoved, m.UpdatesTotal, m.RateLimited,
	}
}

// Register adds the collectors to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Global returns the process-wide metrics registered with the default registry.
func Global() *Metrics {
	once.Do(func() {
		global = New()
		prometheus.MustRegister(global.collectors()...)
	})
	return global
}
