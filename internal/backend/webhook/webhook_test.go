package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"tapline/internal/backend"
	"tapline/internal/event"
)

func TestCastAndValidateConfigRejectsMissingURL(t *testing.T) {
	w := &Webhook{}
	_, errs := w.CastAndValidateConfig(map[string]string{})
	if len(errs) == 0 {
		t.Fatal("expected a validation error for missing url")
	}
}

func TestCastAndValidateConfigAppliesDefaults(t *testing.T) {
	w := &Webhook{}
	changeset, errs := w.CastAndValidateConfig(map[string]string{"url": "http://example.com/hook"})
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if changeset["batch_size"].(int) != defaultBatchSize {
		t.Fatalf("batch_size = %v, want default", changeset["batch_size"])
	}
}

func TestWebhookDeliversBatch(t *testing.T) {
	var mu sync.Mutex
	var received []map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var batch []map[string]any
		if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		mu.Lock()
		received = append(received, batch...)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	adaptor, err := NewFactory()("b1", "s1", map[string]string{"url": srv.URL, "rate_per_sec": "100"})
	if err != nil {
		t.Fatalf("NewFactory: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := adaptor.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer adaptor.Stop(context.Background())

	e := event.Normalize(map[string]any{"event_message": "hi"}, event.NewSourceToken(), time.Now())
	if err := adaptor.Ingest(ctx, []event.LogEvent{e}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(received)
		mu.Unlock()
		if n > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for webhook delivery")
}

var _ backend.Adaptor = (*Webhook)(nil)
