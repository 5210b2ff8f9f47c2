package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrInvalidToken means the device token is unknown to the push provider
// and should be forgotten.
var ErrInvalidToken = errors.New("push: invalid device token")

type Sender interface {
	Send(ctx context.Context, token, title, body string, data map[string]string) error
}

// GatewaySender posts notifications to an HTTP push gateway.
type GatewaySender struct {
	URL    string
	APIKey string
	Client *http.Client
}

func NewGatewaySender(url, apiKey string, timeout time.Duration) *GatewaySender {
	return &GatewaySender{
		URL:    url,
		APIKey: apiKey,
		Client: &http.Client{Timeout: timeout},
	}
}

type gatewayRequest struct {
	Token        string            `json:"token"`
	Notification gatewayNote       `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
	Priority     string            `json:"priority"`
	Sound        string            `json:"sound"`
}

type gatewayNote struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

func (s *GatewaySender) Send(ctx context.Context, token, title, body string, data map[string]string) error {
	payload, err := json.Marshal(gatewayRequest{
		Token:        token,
		Notification: gatewayNote{Title: title, Body: body},
		Data:         data,
		Priority:     "high",
		Sound:        "default",
	})
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.APIKey)
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("push gateway unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone || isInvalidTokenReply(string(msg)) {
		return ErrInvalidToken
	}
	return fmt.Errorf("push gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
}

func isInvalidTokenReply(body string) bool {
	body = strings.ToLower(body)
	return strings.Contains(body, "invalid") || strings.Contains(body, "not found") || strings.Contains(body, "unregistered")
}

// LogSender only logs notifications. It is used when no gateway is
// configured.
type LogSender struct {
	Log *logrus.Logger
}

func (s LogSender) Send(_ context.Context, token, title, body string, data map[string]string) error {
	s.Log.WithFields(logrus.Fields{
		"token": truncate(token, 20),
		"title": title,
		"body":  body,
		"data":  data,
	}).Info("MOCK PUSH")
	return nil
}
