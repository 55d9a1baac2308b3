package cluster

import (
	"context"
	"testing"
	"time"
)

func TestLocalBroadcasterFanOutAndUnsubscribe(t *testing.T) {
	b := NewLocalBroadcaster(nil)

	var receivedA, receivedB []Envelope
	unsubA, err := b.Subscribe(func(e Envelope) { receivedA = append(receivedA, e) })
	if err != nil {
		t.Fatalf("Subscribe A: %v", err)
	}
	_, err = b.Subscribe(func(e Envelope) { receivedB = append(receivedB, e) })
	if err != nil {
		t.Fatalf("Subscribe B: %v", err)
	}

	env := Envelope{SourceID: "s1", NodeID: "node-a", Delta: 3, Total: 3, At: time.Now().UnixMilli()}
	if err := b.Publish(context.Background(), env); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if len(receivedA) != 1 || len(receivedB) != 1 {
		t.Fatalf("expected both subscribers to receive one envelope, got A=%d B=%d", len(receivedA), len(receivedB))
	}

	unsubA()
	if err := b.Publish(context.Background(), env); err != nil {
		t.Fatalf("Publish after unsubscribe: %v", err)
	}
	if len(receivedA) != 1 {
		t.Fatalf("unsubscribed subscriber still received an envelope: %d", len(receivedA))
	}
	if len(receivedB) != 2 {
		t.Fatalf("remaining subscriber missed the second publish: %d", len(receivedB))
	}
}
