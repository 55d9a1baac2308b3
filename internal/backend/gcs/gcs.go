// Package gcs is a backend.Adaptor that streams each delivered batch as
// newline-delimited JSON to an object in a Google Cloud Storage bucket,
// mirroring internal/backend/s3's shape against a different cloud SDK.
package gcs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cloud.google.com/go/storage"

	"tapline/internal/backend"
	"tapline/internal/event"
	"tapline/internal/logging"
)

func init() {
	backend.Register("gcs", NewFactory())
}

// Config is the typed, validated GCS configuration.
type Config struct {
	Bucket string
	Prefix string
}

// GCS is a backend.Adaptor that flushes batches to GCS objects.
type GCS struct {
	id       string
	sourceID string
	cfg      Config
	client   *storage.Client
	logger   *slog.Logger

	mu      sync.Mutex
	started bool
	queue   chan []event.LogEvent
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewFactory returns a backend.Factory for GCS adaptors.
func NewFactory() backend.Factory {
	return func(id, sourceID string, raw map[string]string) (backend.Adaptor, error) {
		a := &GCS{id: id, sourceID: sourceID, logger: logging.Discard()}
		changeset, errs := a.CastAndValidateConfig(raw)
		if len(errs) > 0 {
			out := make([]error, len(errs))
			for i, e := range errs {
				out[i] = e
			}
			return nil, fmt.Errorf("gcs: invalid config: %v", out)
		}
		a.cfg = changesetToConfig(changeset)
		return a, nil
	}
}

func (a *GCS) Type() string { return "gcs" }

func (a *GCS) CastConfig(raw map[string]string) (map[string]any, error) {
	cfg := Config{Bucket: raw["bucket"], Prefix: raw["prefix"]}
	return configToChangeset(cfg), nil
}

func (a *GCS) CastAndValidateConfig(raw map[string]string) (map[string]any, []backend.FieldError) {
	changeset, _ := a.CastConfig(raw)
	cfg := changesetToConfig(changeset)

	var errs []backend.FieldError
	if cfg.Bucket == "" {
		errs = append(errs, backend.FieldError{Field: "bucket", Message: "is required"})
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return changeset, nil
}

func (a *GCS) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return nil
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("gcs: new client: %w", err)
	}

	a.client = client
	a.queue = make(chan []event.LogEvent, 256)
	a.stopCh = make(chan struct{})
	a.started = true

	a.wg.Add(1)
	go a.run(ctx)
	return nil
}

func (a *GCS) Ingest(_ context.Context, events []event.LogEvent) error {
	a.mu.Lock()
	started := a.started
	a.mu.Unlock()
	if !started {
		return fmt.Errorf("gcs %s: not started", a.id)
	}
	select {
	case a.queue <- events:
		return nil
	default:
		return fmt.Errorf("gcs %s: queue full", a.id)
	}
}

func (a *GCS) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return nil
	}
	a.started = false
	close(a.stopCh)
	a.mu.Unlock()

	done := make(chan struct{})
	go func() { a.wg.Wait(); close(done) }()
	select {
	case <-done:
		if a.client != nil {
			return a.client.Close()
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *GCS) run(ctx context.Context) {
	defer a.wg.Done()
	for {
		select {
		case batch := <-a.queue:
			a.flush(ctx, batch)
		case <-a.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (a *GCS) flush(ctx context.Context, batch []event.LogEvent) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range batch {
		if err := enc.Encode(e.Body); err != nil {
			a.logger.Error("gcs: encode event", "error", err)
			return
		}
	}

	key := fmt.Sprintf("%s%s/%d.ndjson", a.cfg.Prefix, a.sourceID, time.Now().UnixNano())
	w := a.client.Bucket(a.cfg.Bucket).Object(key).NewWriter(ctx)
	if _, err := w.Write(buf.Bytes()); err != nil {
		a.logger.Error("gcs: write object", "bucket", a.cfg.Bucket, "key", key, "error", err)
		w.Close()
		return
	}
	if err := w.Close(); err != nil {
		a.logger.Error("gcs: close object writer", "bucket", a.cfg.Bucket, "key", key, "error", err)
	}
}

func configToChangeset(cfg Config) map[string]any {
	return map[string]any{"bucket": cfg.Bucket, "prefix": cfg.Prefix}
}

func changesetToConfig(changeset map[string]any) Config {
	return Config{Bucket: changeset["bucket"].(string), Prefix: changeset["prefix"].(string)}
}
