package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StoreOpenSearch = "opensearch"
	StorePostgres   = "postgres"
	StoreSQLite     = "sqlite"

	UnknownChatBotPlaceholder = "placeholder"
	UnknownChatBotStrict      = "strict"
)

var (
	ErrMissingBotToken       = errors.New("BOT_TOKEN is required")
	ErrMissingDatabaseDSN    = errors.New("DB_DSN is required for sql stores")
	ErrMissingOpenSearch     = errors.New("OPENSEARCH_ADDRESSES is required")
	ErrInvalidStoreDriver    = errors.New("STORE_DRIVER must be 'opensearch', 'postgres' or 'sqlite'")
	ErrInvalidUnknownBotMode = errors.New("UNKNOWN_CHAT_BOT_POLICY must be 'placeholder' or 'strict'")
)

type Config struct {
	AppName  string
	BotToken string
	// AllowedUserIDs restricts the Telegram front end. Empty allows everyone.
	AllowedUserIDs []int64

	UnknownChatBotPolicy string

	Store     StoreConfig
	Redis     RedisConfig
	HTTP      HTTPConfig
	Providers ProvidersConfig
	ChatBots  []ChatBot
	Rate      RateConfig
	Log       LogConfig
}

type StoreConfig struct {
	Driver      string
	DSN         string
	AutoMigrate bool
	OpenSearch  OpenSearchConfig
}

type OpenSearchConfig struct {
	Addresses   []string
	Username    string
	Password    string
	IndexPrefix string
}

type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	UpdateTTL  time.Duration
	SessionTTL time.Duration
}

type HTTPConfig struct {
	ListenAddr    string
	HealthPath    string
	MetricsPath   string
	ClientTimeout time.Duration
	MaxRetries    int
	BackoffBase   time.Duration
}

type ProvidersConfig struct {
	GoogleAPIKey  string
	GroqAPIKey    string
	MistralAPIKey string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	// Timeout bounds a single provider call, retries included.
	Timeout    time.Duration
	LoremDelay time.Duration
}

// APIKey returns the key configured for a chat bot type.
func (p ProvidersConfig) APIKey(botType string) string {
	switch botType {
	case BotTypeGemini:
		return p.GoogleAPIKey
	case BotTypeGroq:
		return p.GroqAPIKey
	case BotTypeMistral:
		return p.MistralAPIKey
	case BotTypeOpenAI:
		return p.OpenAIAPIKey
	default:
		return ""
	}
}

type RateConfig struct {
	PerHour int64
}

type LogConfig struct {
	Level string
}

func Load() (*Config, error) {
	cfg := &Config{
		AppName:              mustEnv("APP_NAME", "AskThemAll"),
		BotToken:             mustEnv("BOT_TOKEN", ""),
		UnknownChatBotPolicy: strings.ToLower(mustEnv("UNKNOWN_CHAT_BOT_POLICY", UnknownChatBotPlaceholder)),
		Store: StoreConfig{
			Driver:      strings.ToLower(mustEnv("STORE_DRIVER", StoreOpenSearch)),
			DSN:         mustEnv("DB_DSN", ""),
			AutoMigrate: mustBool("AUTO_MIGRATE", true),
			OpenSearch: OpenSearchConfig{
				Addresses:   mustList("OPENSEARCH_ADDRESSES", []string{"http://localhost:9200"}),
				Username:    mustEnv("OPENSEARCH_USERNAME", ""),
				Password:    mustEnv("OPENSEARCH_PASSWORD", ""),
				IndexPrefix: mustEnv("OPENSEARCH_INDEX_PREFIX", "askthemall_"),
			},
		},
		Redis: RedisConfig{
			Addr:       mustEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password:   mustEnv("REDIS_PASSWORD", ""),
			DB:         mustInt("REDIS_DB", 0),
			UpdateTTL:  mustDuration("UPDATE_DEDUPE_TTL", 6*time.Hour),
			SessionTTL: mustDuration("SESSION_TTL", 24*time.Hour),
		},
		HTTP: HTTPConfig{
			ListenAddr:    mustEnv("LISTEN_ADDR", ":8080"),
			HealthPath:    mustEnv("HEALTH_PATH", "/healthz"),
			MetricsPath:   mustEnv("METRICS_PATH", "/metrics"),
			ClientTimeout: mustDuration("HTTP_TIMEOUT", 60*time.Second),
			MaxRetries:    mustInt("HTTP_MAX_RETRIES", 2),
			BackoffBase:   mustDuration("HTTP_BACKOFF_BASE", 400*time.Millisecond),
		},
		Providers: ProvidersConfig{
			GoogleAPIKey:  mustEnv("GOOGLE_API_KEY", ""),
			GroqAPIKey:    mustEnv("GROQ_API_KEY", ""),
			MistralAPIKey: mustEnv("MISTRAL_API_KEY", ""),
			OpenAIAPIKey:  mustEnv("OPENAI_API_KEY", ""),
			OpenAIBaseURL: mustEnv("OPENAI_BASE_URL", ""),
			Timeout:       mustDuration("PROVIDER_TIMEOUT", 2*time.Minute),
			LoremDelay:    mustDuration("LOREM_DELAY", 0),
		},
		Rate: RateConfig{
			PerHour: mustInt64("RATE_LIMIT_PER_HOUR", 60),
		},
		Log: LogConfig{
			Level: strings.ToLower(mustEnv("LOG_LEVEL", "info")),
		},
	}

	ids, err := parseIDs(mustEnv("ALLOWED_USER_IDS", ""))
	if err != nil {
		return nil, err
	}
	cfg.AllowedUserIDs = ids

	if cfg.BotToken == "" {
		return nil, ErrMissingBotToken
	}
	switch cfg.Store.Driver {
	case StoreOpenSearch:
		if len(cfg.Store.OpenSearch.Addresses) == 0 {
			return nil, ErrMissingOpenSearch
		}
	case StorePostgres, StoreSQLite:
		if cfg.Store.DSN == "" {
			return nil, ErrMissingDatabaseDSN
		}
	default:
		return nil, ErrInvalidStoreDriver
	}
	if cfg.UnknownChatBotPolicy != UnknownChatBotPlaceholder && cfg.UnknownChatBotPolicy != UnknownChatBotStrict {
		return nil, ErrInvalidUnknownBotMode
	}

	bots, err := loadChatBots(mustEnv("CHAT_BOTS_FILE", ""), cfg.Providers, mustBool("LOREM_ENABLED", false))
	if err != nil {
		return nil, err
	}
	cfg.ChatBots = bots

	return cfg, nil
}

func parseIDs(raw string) ([]int64, error) {
	if raw == "" {
		return nil, nil
	}
	var out []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse ALLOWED_USER_IDS entry %q: %w", part, err)
		}
		out = append(out, id)
	}
	return out, nil
}

func mustEnv(key string, def string) string {
	if v := os.Getenv(key); v != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func mustList(key string, def []string) []string {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func mustInt(key string, def int) int {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func mustInt64(key string, def int64) int64 {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func mustBool(key string, def bool) bool {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func mustDuration(key string, def time.Duration) time.Duration {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
