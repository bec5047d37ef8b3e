package monitor

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// TelegramSource is one watched chat or channel.
type TelegramSource struct {
	ChatID int64  `yaml:"chat_id"`
	Label  string `yaml:"label"`
}

// FeedConfig is one watched RSS/Atom deal feed.
type FeedConfig struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// Sources is the operator-maintained list of monitored origins.
type Sources struct {
	Telegram []TelegramSource `yaml:"telegram"`
	Feeds    []FeedConfig     `yaml:"feeds"`
}

// TelegramChats returns the watched chat map keyed by chat id.
func (s Sources) TelegramChats() map[int64]string {
	out := make(map[int64]string, len(s.Telegram))
	for _, src := range s.Telegram {
		label := src.Label
		if label == "" {
			label = fmt.Sprintf("%d", src.ChatID)
		}
		out[src.ChatID] = label
	}
	return out
}

// LoadSources reads the sources file. An absent file yields an empty list so
// the bot can run with only the Telegram listener in accept-all mode.
func LoadSources(path string) (Sources, error) {
	if path == "" {
		return Sources{}, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Debug("Sources file not found, watching all bot chats", "path", path)
			return Sources{}, nil
		}
		return Sources{}, fmt.Errorf("read sources file: %w", err)
	}

	var sources Sources
	if err := yaml.Unmarshal(raw, &sources); err != nil {
		return Sources{}, fmt.Errorf("parse sources file: %w", err)
	}

	for i, feed := range sources.Feeds {
		if feed.URL == "" {
			return Sources{}, fmt.Errorf("feed %d: url is required", i)
		}
		if feed.Name == "" {
			sources.Feeds[i].Name = feed.URL
		}
	}

	return sources, nil
}
