package config

import (
	"fmt"
	"os"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"
)

const (
	BotTypeGemini  = "gemini"
	BotTypeGroq    = "groq"
	BotTypeMistral = "mistral"
	BotTypeOpenAI  = "openai"
	BotTypeLorem   = "lorem"
)

// ChatBot configures one selectable model.
type ChatBot struct {
	ID        string `yaml:"id"`
	Type      string `yaml:"type"`
	ModelName string `yaml:"model_name"`
	Name      string `yaml:"name"`
	Enabled   *bool  `yaml:"enabled"`
}

func (b ChatBot) IsEnabled() bool {
	return b.Enabled == nil || *b.Enabled
}

func (b ChatBot) Validate() error {
	return validation.ValidateStruct(&b,
		validation.Field(&b.ID, validation.Required),
		validation.Field(&b.Type, validation.Required,
			validation.In(BotTypeGemini, BotTypeGroq, BotTypeMistral, BotTypeOpenAI, BotTypeLorem)),
		validation.Field(&b.ModelName, validation.Required),
		validation.Field(&b.Name, validation.Required),
	)
}

// withDefaults fills id as "<type>-<model>" and name as "<Type> (<model>)".
func (b ChatBot) withDefaults() ChatBot {
	if b.ID == "" && b.Type != "" && b.ModelName != "" {
		b.ID = b.Type + "-" + b.ModelName
	}
	if b.Name == "" && b.Type != "" {
		b.Name = fmt.Sprintf("%s (%s)", strings.ToUpper(b.Type[:1])+b.Type[1:], b.ModelName)
	}
	return b
}

type chatBotsFile struct {
	ChatBots []ChatBot `yaml:"chat_bots"`
}

func enabled(v bool) *bool { return &v }

// DefaultChatBots is the built-in catalog. A bot is enabled when the key for
// its provider is set.
func DefaultChatBots(p ProvidersConfig, loremEnabled bool) []ChatBot {
	bots := []ChatBot{
		{ID: "gemini-1.5-flash", Type: BotTypeGemini, ModelName: "gemini-1.5-flash"},
		{ID: "gemini-2.0-flash-exp", Type: BotTypeGemini, ModelName: "gemini-2.0-flash-exp"},
		{Type: BotTypeGroq, ModelName: "mixtral-8x7b-32768"},
		{Type: BotTypeGroq, ModelName: "llama-3.3-70b-versatile"},
		{Type: BotTypeGroq, ModelName: "gemma2-9b-it"},
		{ID: "lorem-ipsum", Type: BotTypeLorem, ModelName: "lorem-ipsum", Name: "Lorem Ipsum"},
	}
	out := make([]ChatBot, 0, len(bots))
	for _, b := range bots {
		b = b.withDefaults()
		if b.Type == BotTypeLorem {
			b.Enabled = enabled(loremEnabled)
		} else {
			b.Enabled = enabled(p.APIKey(b.Type) != "")
		}
		out = append(out, b)
	}
	return out
}

func loadChatBots(path string, p ProvidersConfig, loremEnabled bool) ([]ChatBot, error) {
	if path == "" {
		return DefaultChatBots(p, loremEnabled), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read chat bots file: %w", err)
	}
	return ParseChatBots(raw, p)
}

// ParseChatBots decodes and validates a chat bots YAML document.
func ParseChatBots(raw []byte, p ProvidersConfig) ([]ChatBot, error) {
	var f chatBotsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse chat bots file: %w", err)
	}
	if len(f.ChatBots) == 0 {
		return nil, fmt.Errorf("chat bots file lists no chat bots")
	}

	seen := make(map[string]bool, len(f.ChatBots))
	out := make([]ChatBot, 0, len(f.ChatBots))
	for i, b := range f.ChatBots {
		b = b.withDefaults()
		if err := b.Validate(); err != nil {
			return nil, fmt.Errorf("chat bot #%d: %w", i+1, err)
		}
		if seen[b.ID] {
			return nil, fmt.Errorf("chat bot %q is listed twice", b.ID)
		}
		seen[b.ID] = true
		if b.IsEnabled() && b.Type != BotTypeLorem && p.APIKey(b.Type) == "" {
			return nil, fmt.Errorf("chat bot %q is enabled but no %s api key is set", b.ID, b.Type)
		}
		out = append(out, b)
	}
	return out, nil
}
