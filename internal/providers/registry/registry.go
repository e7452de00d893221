package registry

import (
	"fmt"
	"net/http"
	"time"

	"askthemall/internal/config"
	"askthemall/internal/providers"
	"askthemall/internal/providers/lorem"
	"askthemall/internal/providers/openai_compat"
)

type BuildOptions struct {
	Providers   config.ProvidersConfig
	HTTPClient  *http.Client
	MaxRetries  int
	BackoffBase time.Duration
	// BaseURLs overrides provider endpoints by bot type.
	BaseURLs map[string]string
}

// Build returns a chat client for an enabled chat bot.
func Build(bot config.ChatBot, opts BuildOptions) (providers.ChatClient, error) {
	completer, err := buildCompleter(bot, opts)
	if err != nil {
		return nil, err
	}
	return providers.NewClient(bot.ID, bot.Name, completer, opts.Providers.Timeout), nil
}

// BuildAll builds a client for every enabled chat bot.
func BuildAll(bots []config.ChatBot, opts BuildOptions) ([]providers.ChatClient, error) {
	out := make([]providers.ChatClient, 0, len(bots))
	for _, b := range bots {
		if !b.IsEnabled() {
			continue
		}
		c, err := Build(b, opts)
		if err != nil {
			return nil, fmt.Errorf("build chat bot %q: %w", b.ID, err)
		}
		out = append(out, c)
	}
	return out, nil
}

func buildCompleter(bot config.ChatBot, opts BuildOptions) (providers.Completer, error) {
	key := opts.Providers.APIKey(bot.Type)
	base := opts.BaseURLs[bot.Type]

	switch bot.Type {
	case config.BotTypeGemini, config.BotTypeGroq, config.BotTypeMistral, config.BotTypeOpenAI:
		if base == "" {
			switch bot.Type {
			case config.BotTypeGemini:
				base = openai_compat.GeminiBaseURL
			case config.BotTypeGroq:
				base = openai_compat.GroqBaseURL
			case config.BotTypeMistral:
				base = openai_compat.MistralBaseURL
			default:
				base = opts.Providers.OpenAIBaseURL
			}
		}
		return openai_compat.New(openai_compat.Config{
			BaseURL:     base,
			APIKey:      key,
			Model:       bot.ModelName,
			HTTPClient:  opts.HTTPClient,
			MaxRetries:  opts.MaxRetries,
			BackoffBase: opts.BackoffBase,
		}), nil

	case config.BotTypeLorem:
		return lorem.New(opts.Providers.LoremDelay), nil

	default:
		return nil, fmt.Errorf("unsupported chat bot type %q", bot.Type)
	}
}
