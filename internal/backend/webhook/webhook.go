// Package webhook is a backend.Adaptor that POSTs batches of events as
// a JSON array to a configured URL, the mirror image of the teacher's
// internal/ingester/http (there, an HTTP server accepting pushes; here,
// an HTTP client making them), with golang.org/x/time/rate governing
// outbound backpressure instead of an inbound queue-depth check.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"tapline/internal/backend"
	"tapline/internal/event"
	"tapline/internal/logging"
)

func init() {
	backend.Register("webhook", NewFactory())
}

// Config is the typed, validated webhook configuration.
type Config struct {
	URL        string
	BatchSize  int
	RatePerSec float64
	MaxRetries int
}

const (
	defaultBatchSize  = 50
	defaultRatePerSec = 10
	defaultMaxRetries = 3
	queueSize         = 256
)

// Webhook is a backend.Adaptor that delivers batches over HTTP POST.
type Webhook struct {
	id       string
	sourceID string
	cfg      Config
	client   *http.Client
	limiter  *rate.Limiter
	logger   *slog.Logger

	mu      sync.Mutex
	started bool
	queue   chan []event.LogEvent
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewFactory returns a backend.Factory for webhook adaptors.
func NewFactory() backend.Factory {
	return func(id, sourceID string, raw map[string]string) (backend.Adaptor, error) {
		w := &Webhook{id: id, sourceID: sourceID, logger: logging.Discard()}
		changeset, errs := w.CastAndValidateConfig(raw)
		if len(errs) > 0 {
			return nil, errors.Join(toErrors(errs)...)
		}
		w.cfg = changesetToConfig(changeset)
		return w, nil
	}
}

func (w *Webhook) Type() string { return "webhook" }

func (w *Webhook) CastConfig(raw map[string]string) (map[string]any, error) {
	cfg := Config{
		URL:        raw["url"],
		BatchSize:  defaultBatchSize,
		RatePerSec: defaultRatePerSec,
		MaxRetries: defaultMaxRetries,
	}
	if v, ok := raw["batch_size"]; ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("parse batch_size: %w", err)
		}
		cfg.BatchSize = n
	}
	if v, ok := raw["rate_per_sec"]; ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("parse rate_per_sec: %w", err)
		}
		cfg.RatePerSec = f
	}
	if v, ok := raw["max_retries"]; ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("parse max_retries: %w", err)
		}
		cfg.MaxRetries = n
	}
	return configToChangeset(cfg), nil
}

func (w *Webhook) CastAndValidateConfig(raw map[string]string) (map[string]any, []backend.FieldError) {
	changeset, err := w.CastConfig(raw)
	if err != nil {
		return nil, []backend.FieldError{{Field: "url", Message: err.Error()}}
	}
	cfg := changesetToConfig(changeset)

	var errs []backend.FieldError
	if cfg.URL == "" {
		errs = append(errs, backend.FieldError{Field: "url", Message: "is required"})
	}
	if cfg.BatchSize <= 0 {
		errs = append(errs, backend.FieldError{Field: "batch_size", Message: "must be positive"})
	}
	if cfg.RatePerSec <= 0 {
		errs = append(errs, backend.FieldError{Field: "rate_per_sec", Message: "must be positive"})
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return changeset, nil
}

func configToChangeset(cfg Config) map[string]any {
	return map[string]any{
		"url":          cfg.URL,
		"batch_size":   cfg.BatchSize,
		"rate_per_sec": cfg.RatePerSec,
		"max_retries":  cfg.MaxRetries,
	}
}

func changesetToConfig(changeset map[string]any) Config {
	return Config{
		URL:        changeset["url"].(string),
		BatchSize:  changeset["batch_size"].(int),
		RatePerSec: changeset["rate_per_sec"].(float64),
		MaxRetries: changeset["max_retries"].(int),
	}
}

func (w *Webhook) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}
	w.client = &http.Client{Timeout: 10 * time.Second}
	w.limiter = rate.NewLimiter(rate.Limit(w.cfg.RatePerSec), w.cfg.BatchSize)
	w.queue = make(chan []event.LogEvent, queueSize)
	w.stopCh = make(chan struct{})
	w.started = true

	w.wg.Add(1)
	go w.run(ctx)
	return nil
}

func (w *Webhook) Ingest(_ context.Context, events []event.LogEvent) error {
	w.mu.Lock()
	started := w.started
	w.mu.Unlock()
	if !started {
		return fmt.Errorf("webhook %s: not started", w.id)
	}
	for i := 0; i < len(events); i += w.cfg.BatchSize {
		end := min(i+w.cfg.BatchSize, len(events))
		batch := events[i:end]
		select {
		case w.queue <- batch:
		default:
			return fmt.Errorf("webhook %s: queue full", w.id)
		}
	}
	return nil
}

func (w *Webhook) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return nil
	}
	w.started = false
	close(w.stopCh)
	w.mu.Unlock()

	done := make(chan struct{})
	go func() { w.wg.Wait(); close(done) }()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Webhook) run(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case batch := <-w.queue:
			w.deliver(ctx, batch)
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *Webhook) deliver(ctx context.Context, batch []event.LogEvent) {
	if err := w.limiter.WaitN(ctx, len(batch)); err != nil {
		return
	}

	bodies := make([]map[string]any, len(batch))
	for i, e := range batch {
		bodies[i] = e.Body
	}
	payload, err := json.Marshal(bodies)
	if err != nil {
		w.logger.Error("webhook: marshal batch", "error", err)
		return
	}

	backoff := 250 * time.Millisecond
	for attempt := 0; attempt <= w.cfg.MaxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(payload))
		if err != nil {
			w.logger.Error("webhook: build request", "error", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := w.client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode < 500 {
				return
			}
		} else {
			w.logger.Warn("webhook: delivery attempt failed", "attempt", attempt, "error", err)
		}

		if attempt == w.cfg.MaxRetries {
			w.logger.Error("webhook: delivery failed, giving up", "source", w.sourceID, "backend", w.id)
			return
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff *= 2
	}
}

func toErrors(fes []backend.FieldError) []error {
	out := make([]error, len(fes))
	for i, fe := range fes {
		out[i] = fe
	}
	return out
}
