package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/upb/classifier-control-plane/config"
	"go.uber.org/zap"
)

// Channel is a logical destination for administrator alerts
type Channel string

const (
	// ChannelErrors receives unexpected failures
	ChannelErrors Channel = "errors"
	// ChannelCredentials receives problems with tenant credentials
	ChannelCredentials Channel = "credentials"
)

// Notifier sends administrator alerts. Notify never blocks on delivery
// and never reports failure to the caller.
type Notifier interface {
	Notify(message string, channel Channel)
}

// Nop discards every alert
type Nop struct{}

// Notify implements Notifier
func (Nop) Notify(string, Channel) {}

type slackPayload struct {
	Channel string `json:"channel,omitempty"`
	Text    string `json:"text"`
}

// SlackNotifier posts alerts to a Slack incoming webhook
type SlackNotifier struct {
	webhookURL string
	channels   map[Channel]string
	timeout    time.Duration
	httpClient *http.Client
	logger     *zap.Logger
	wg         sync.WaitGroup
}

// New returns a Slack notifier, or Nop when no webhook is configured
func New(cfg config.AlertingConfig, logger *zap.Logger) Notifier {
	if cfg.SlackWebhookURL == "" {
		logger.Info("slack webhook not configured, alerts will only be logged")
		return Nop{}
	}
	return NewSlackNotifier(cfg, logger)
}

// NewSlackNotifier creates a notifier for the configured webhook
func NewSlackNotifier(cfg config.AlertingConfig, logger *zap.Logger) *SlackNotifier {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &SlackNotifier{
		webhookURL: cfg.SlackWebhookURL,
		channels: map[Channel]string{
			ChannelErrors:      cfg.ErrorsChannel,
			ChannelCredentials: cfg.CredentialsChannel,
		},
		timeout:    timeout,
		httpClient: &http.Client{},
		logger:     logger,
	}
}

// Notify delivers the message in the background
func (n *SlackNotifier) Notify(message string, channel Channel) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()

		if err := n.send(ctx, message, channel); err != nil {
			n.logger.Warn("failed to deliver slack alert",
				zap.String("channel", string(channel)),
				zap.Error(err))
		}
	}()
}

// Wait blocks until in-flight alerts have been delivered or abandoned
func (n *SlackNotifier) Wait() {
	n.wg.Wait()
}

func (n *SlackNotifier) send(ctx context.Context, message string, channel Channel) error {
	body, err := json.Marshal(slackPayload{
		Channel: n.channels[channel],
		Text:    message,
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
