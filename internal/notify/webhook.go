package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mmeshcher/storefront/internal/model"
)

// IdempotencyHeader передаёт получателю идентификатор события для отсеивания повторов.
const IdempotencyHeader = "Idempotency-Key"

// RetryAfterError возвращается, когда получатель просит повторить доставку позже.
type RetryAfterError struct {
	After time.Duration
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("webhook throttled, retry after %s", e.After)
}

// RetryAfter возвращает паузу перед следующей попыткой.
func (e *RetryAfterError) RetryAfter() time.Duration {
	return e.After
}

// WebhookClient инкапсулирует HTTP-доставку событий на внешний адрес.
type WebhookClient struct {
	url        string
	httpClient *http.Client
}

// NewWebhookClient создаёт клиент, отправляющий события POST-запросами на url.
func NewWebhookClient(url string) (*WebhookClient, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, ErrDisabled
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "http://" + url
	}

	return &WebhookClient{
		url: url,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}, nil
}

// Publish отправляет событие. Любой ответ 2xx считается доставкой.
func (c *WebhookClient) Publish(ctx context.Context, e model.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Type", e.Type)
	req.Header.Set(IdempotencyHeader, e.EventID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := time.Duration(0)
		if v := resp.Header.Get("Retry-After"); v != "" {
			if seconds, parseErr := strconv.Atoi(v); parseErr == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return &RetryAfterError{After: retryAfter}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	return nil
}
