package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mkarev/realtor-outreach/internal/platform/logger"
)

// SendGridConfig carries the transport settings. APIKey is required.
type SendGridConfig struct {
	APIKey    string
	BaseURL   string
	FromEmail string
	FromName  string
	Timeout   time.Duration
}

type sendGridClient struct {
	log        *logger.Logger
	cfg        SendGridConfig
	httpClient *http.Client
}

// NewSendGrid builds a Sender backed by the SendGrid v3 mail API.
func NewSendGrid(log *logger.Logger, cfg SendGridConfig) (Sender, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("missing sendgrid api key")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.sendgrid.com"
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &sendGridClient{
		log:        log.With("client", "sendgrid"),
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type sgAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sgPersonalization struct {
	To []sgAddress `json:"to"`
}

type sgContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sgPayload struct {
	From             sgAddress           `json:"from"`
	Personalizations []sgPersonalization `json:"personalizations"`
	Subject          string              `json:"subject"`
	Content          []sgContent         `json:"content"`
}

func (c *sendGridClient) Send(ctx context.Context, msg Message) (string, error) {
	if strings.TrimSpace(msg.To) == "" {
		return "", fmt.Errorf("send: empty recipient")
	}

	payload := sgPayload{
		From:             sgAddress{Email: c.cfg.FromEmail, Name: c.cfg.FromName},
		Personalizations: []sgPersonalization{{To: []sgAddress{{Email: msg.To, Name: msg.ToName}}}},
		Subject:          msg.Subject,
		Content:          []sgContent{{Type: "text/plain", Value: msg.Body}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("send: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v3/mail/send", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("send: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		c.log.Warn("sendgrid rejected message", "status", resp.StatusCode, "to", msg.To)
		return "", fmt.Errorf("send: sendgrid status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	id := resp.Header.Get("X-Message-Id")
	if id == "" {
		id = resp.Header.Get("X-Message-ID")
	}
	c.log.Debug("message accepted", "to", msg.To, "provider_id", id)
	return id, nil
}
