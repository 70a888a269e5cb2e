package alerting

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ipsix/plugscan/internal/config"
	"github.com/ipsix/plugscan/internal/logging"
)

func BuildChannels(cfg config.NotifyConfig, logger *logging.Logger) ([]Channel, error) {
	channels := []Channel{}
	for _, ch := range cfg.Channels {
		if !ch.Enabled {
			continue
		}
		switch ch.Type {
		case "log":
			channels = append(channels, NewLogChannel(logger, ch.Severity))
		case "webhook":
			if ch.URL == "" {
				return nil, fmt.Errorf("webhook url required")
			}
			channels = append(channels, NewWebhookChannel(ch.URL, ch.Severity))
		default:
			return nil, fmt.Errorf("unknown notify channel type: %s", ch.Type)
		}
	}
	if len(channels) == 0 {
		channels = append(channels, NewLogChannel(logger, nil))
	}
	return channels, nil
}

// NewFromConfig builds an engine with every enabled channel registered.
func NewFromConfig(cfg config.NotifyConfig, logger *logging.Logger) (*Engine, error) {
	channels, err := BuildChannels(cfg, logger)
	if err != nil {
		return nil, err
	}
	engine := New(logger, cfg.DedupWindowDuration())
	for _, ch := range channels {
		engine.Register(ch)
	}
	return engine, nil
}

var httpClient = &http.Client{Timeout: 10 * time.Second}
