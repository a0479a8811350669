package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kjannette/trahn-botengine/internal/httputil"
	"github.com/kjannette/trahn-botengine/internal/models"
)

type Sender struct {
	webhookURL string
	botName    string
	httpClient *http.Client
	retry      httputil.RetryConfig
	log        *logrus.Entry
	wg         sync.WaitGroup
}

func NewSender(webhookURL, botName string, log *logrus.Entry) *Sender {
	if botName == "" {
		botName = "TrahnBotEngine"
	}
	return &Sender{
		webhookURL: webhookURL,
		botName:    botName,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		retry: httputil.RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   1 * time.Second,
			MaxDelay:    5 * time.Second,
			Log:         log,
		},
		log: log,
	}
}

// Send logs msg and posts it to the webhook, retrying on 5xx.
func (s *Sender) Send(ctx context.Context, msg string) error {
	formatted := fmt.Sprintf("[%s] %s", s.botName, msg)
	s.log.WithField("notify", true).Info(msg)

	if s.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(s.formatPayload(formatted))
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	resp, err := httputil.Do(ctx, s.httpClient, s.retry, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	resp.Body.Close()
	return nil
}

// Notify sends in the background. Failures are logged.
func (s *Sender) Notify(msg string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.Send(ctx, msg); err != nil {
			s.log.WithError(err).Warn("webhook notification failed")
		}
	}()
}

// Wait blocks until background notifications finish.
func (s *Sender) Wait() {
	s.wg.Wait()
}

func (s *Sender) EmergencyStop(active bool, reason string) {
	if active {
		s.Notify(fmt.Sprintf("EMERGENCY STOP engaged: %s. No new orders will be placed.", reason))
		return
	}
	s.Notify("Emergency stop cleared. Running bots resume on their next tick.")
}

func (s *Sender) BotFailed(b *models.Bot, cause string) {
	s.Notify(fmt.Sprintf("Bot %q (%s %s, %s) entered error: %s", b.Name, b.Type, b.Pair, b.Mode, cause))
}

func (s *Sender) BotAutoStopped(b *models.Bot, reason string) {
	s.Notify(fmt.Sprintf("Bot %q (%s %s, %s) stopped automatically: %s", b.Name, b.Type, b.Pair, b.Mode, reason))
}

func (s *Sender) formatPayload(msg string) map[string]string {
	if strings.Contains(s.webhookURL, "discord") {
		return map[string]string{
			"content":  msg,
			"username": s.botName,
		}
	}
	return map[string]string{
		"text":     fmt.Sprintf("`%s`", msg),
		"username": s.botName,
	}
}

func (s *Sender) Enabled() bool {
	return s.webhookURL != ""
}
