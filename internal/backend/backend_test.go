package backend_test

import (
	"context"
	"testing"

	"tapline/internal/backend"
	"tapline/internal/event"
)

type fakeAdaptor struct{ started bool }

func (f *fakeAdaptor) Type() string { return "fake" }
func (f *fakeAdaptor) CastConfig(raw map[string]string) (map[string]any, error) {
	return map[string]any{"k": raw["k"]}, nil
}
func (f *fakeAdaptor) CastAndValidateConfig(raw map[string]string) (map[string]any, []backend.FieldError) {
	cs, _ := f.CastConfig(raw)
	return cs, nil
}
func (f *fakeAdaptor) Start(context.Context) error { f.started = true; return nil }
func (f *fakeAdaptor) Ingest(context.Context, []event.LogEvent) error { return nil }
func (f *fakeAdaptor) Stop(context.Context) error { return nil }

func TestRegisterAndNew(t *testing.T) {
	backend.Register("fake-test", func(id, sourceID string, cfg map[string]string) (backend.Adaptor, error) {
		return &fakeAdaptor{}, nil
	})

	a, err := backend.New("fake-test", "b1", "s1", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.Type() != "fake" {
		t.Fatalf("Type() = %q, want fake", a.Type())
	}
}

func TestNewUnknownType(t *testing.T) {
	_, err := backend.New("does-not-exist", "b1", "s1", nil)
	if err == nil {
		t.Fatal("expected error for unknown adaptor type")
	}
}
