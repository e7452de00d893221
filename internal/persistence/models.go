package persistence

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TimeLayout is the layout dates are written with: UTC, millisecond precision.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

type ChatBotData struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ChatData is one conversation. Slug and Title are empty until the first answer.
type ChatData struct {
	ID        string    `json:"id"`
	ChatBotID string    `json:"chat_bot_id"`
	Slug      string    `json:"slug"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

type InteractionData struct {
	ID       string    `json:"id"`
	ChatID   string    `json:"chat_id"`
	Question string    `json:"question"`
	Answer   string    `json:"answer"`
	AskedAt  time.Time `json:"asked_at"`
}

// FormatTime renders t the way stores persist it.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime accepts RFC 3339 timestamps as well as ISO timestamps without a
// zone offset, which are read as UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("parse time %q: unsupported format", s)
}

func (c ChatData) MarshalJSON() ([]byte, error) {
	type alias ChatData
	return json.Marshal(struct {
		alias
		CreatedAt string `json:"created_at"`
	}{alias(c), FormatTime(c.CreatedAt)})
}

func (c *ChatData) UnmarshalJSON(b []byte) error {
	type alias ChatData
	aux := struct {
		*alias
		CreatedAt string `json:"created_at"`
	}{alias: (*alias)(c)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	if aux.CreatedAt == "" {
		return nil
	}
	t, err := ParseTime(aux.CreatedAt)
	if err != nil {
		return fmt.Errorf("chat %q created_at: %w", c.ID, err)
	}
	c.CreatedAt = t
	return nil
}

func (i InteractionData) MarshalJSON() ([]byte, error) {
	type alias InteractionData
	return json.Marshal(struct {
		alias
		AskedAt string `json:"asked_at"`
	}{alias(i), FormatTime(i.AskedAt)})
}

func (i *InteractionData) UnmarshalJSON(b []byte) error {
	type alias InteractionData
	aux := struct {
		*alias
		AskedAt string `json:"asked_at"`
	}{alias: (*alias)(i)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	if aux.AskedAt == "" {
		return nil
	}
	t, err := ParseTime(aux.AskedAt)
	if err != nil {
		return fmt.Errorf("interaction %q asked_at: %w", i.ID, err)
	}
	i.AskedAt = t
	return nil
}
