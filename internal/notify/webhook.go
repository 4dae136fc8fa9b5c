// Package notify forwards committed place events to external subscribers.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/splax/placeshare/internal/domain"
)

const (
	defaultTimeout   = 5 * time.Second
	maxErrorBodySize = 4096
	queueSize        = 128
)

// ErrUnauthorized indicates the webhook receiver rejected the shared token.
var ErrUnauthorized = errors.New("place webhook unauthorized")

// ErrRejected indicates the receiver refused the payload.
var ErrRejected = errors.New("place webhook rejected payload")

// Webhook posts place events to a single URL from a background worker.
type Webhook struct {
	url    string
	token  string
	client *http.Client
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan domain.PlaceEvent
	wg     sync.WaitGroup
}

// NewWebhook creates a webhook emitter and starts its worker.
func NewWebhook(url, token string, client *http.Client, logger *slog.Logger) (*Webhook, error) {
	trimmed := strings.TrimSpace(url)
	if trimmed == "" {
		return nil, errors.New("place webhook url required")
	}
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	} else if client.Timeout == 0 {
		client.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	w := &Webhook{
		url:    trimmed,
		token:  strings.TrimSpace(token),
		client: client,
		logger: logger,
		queue:  make(chan domain.PlaceEvent, queueSize),
	}
	w.wg.Add(1)
	go w.run()
	return w, nil
}

// Publish queues event for delivery. Events are dropped when the queue is full
// or the webhook is closed.
func (w *Webhook) Publish(event domain.PlaceEvent) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		w.logger.Warn("place webhook closed, dropping event", "type", event.Type, "place_id", event.PlaceID)
		return
	}
	select {
	case w.queue <- event:
	default:
		w.logger.Warn("place webhook queue full, dropping event", "type", event.Type, "place_id", event.PlaceID)
	}
}

// Close stops accepting events and waits for queued deliveries.
func (w *Webhook) Close() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()
	w.wg.Wait()
}

func (w *Webhook) run() {
	defer w.wg.Done()
	for event := range w.queue {
		ctx, cancel := context.WithTimeout(context.Background(), w.client.Timeout)
		if err := w.Send(ctx, event); err != nil {
			w.logger.Warn("place webhook delivery failed", "type", event.Type, "place_id", event.PlaceID, "error", err)
		}
		cancel()
	}
}

// Send delivers event synchronously.
func (w *Webhook) Send(ctx context.Context, event domain.PlaceEvent) error {
	if event.PlaceID == "" {
		return errors.New("place webhook requires place id")
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal place event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Places-Event", event.Type)
	if w.token != "" {
		req.Header.Set("X-Places-Token", w.token)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return errorForStatus(resp)
	}
	return nil
}

func errorForStatus(resp *http.Response) error {
	buf, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	summary := strings.TrimSpace(string(buf))
	if summary == "" {
		summary = resp.Status
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, summary)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", ErrRejected, summary)
	default:
		return fmt.Errorf("webhook request failed: %s", summary)
	}
}

// Publisher receives committed place events.
type Publisher interface {
	Publish(event domain.PlaceEvent)
}

// Fanout delivers each event to every non-nil publisher in order.
type Fanout []Publisher

// Publish implements Publisher.
func (f Fanout) Publish(event domain.PlaceEvent) {
	for _, p := range f {
		if p != nil {
			p.Publish(event)
		}
	}
}
