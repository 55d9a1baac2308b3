package dispatch

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"tapline/internal/backend"
	"tapline/internal/event"
	"tapline/internal/registry"
	"tapline/internal/source"
)

type stubAdaptor struct {
	typ     string
	calls   *atomic.Int32
	panics  bool
	failErr error
}

func (s *stubAdaptor) Type() string { return s.typ }
func (s *stubAdaptor) CastConfig(map[string]string) (map[string]any, error) { return nil, nil }
func (s *stubAdaptor) CastAndValidateConfig(map[string]string) (map[string]any, []backend.FieldError) {
	return nil, nil
}
func (s *stubAdaptor) Start(context.Context) error { return nil }
func (s *stubAdaptor) Ingest(context.Context, []event.LogEvent) error {
	s.calls.Add(1)
	if s.panics {
		panic("boom")
	}
	return s.failErr
}
func (s *stubAdaptor) Stop(context.Context) error { return nil }

func TestDispatchFanOutAndIsolatesFailures(t *testing.T) {
	reg := registry.New[source.Key, backend.Adaptor]()
	var okCalls, panicCalls atomic.Int32

	ok := &stubAdaptor{typ: "ok", calls: &okCalls}
	bad := &stubAdaptor{typ: "bad", calls: &panicCalls, panics: true}

	if err := reg.Register(source.DispatchKey("s1", "ok-backend"), ok, nil); err != nil {
		t.Fatalf("register ok: %v", err)
	}
	if err := reg.Register(source.DispatchKey("s1", "bad-backend"), bad, nil); err != nil {
		t.Fatalf("register bad: %v", err)
	}
	// A different source's adaptor must never be dispatched to.
	other := &stubAdaptor{typ: "other", calls: new(atomic.Int32)}
	if err := reg.Register(source.DispatchKey("s2", "other-backend"), other, nil); err != nil {
		t.Fatalf("register other: %v", err)
	}

	d := New(reg, nil)
	d.Dispatch(context.Background(), "s1", []event.LogEvent{
		event.Normalize(map[string]any{"event_message": "hi"}, event.NewSourceToken(), time.Now()),
	})

	if okCalls.Load() != 1 {
		t.Fatalf("ok adaptor calls = %d, want 1", okCalls.Load())
	}
	if panicCalls.Load() != 1 {
		t.Fatalf("bad adaptor calls = %d, want 1 (panic must not prevent invocation)", panicCalls.Load())
	}
	if other.calls.Load() != 0 {
		t.Fatalf("other source's adaptor must not be dispatched to, got %d calls", other.calls.Load())
	}
}
