package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"tapline/internal/logging"
)

// Envelope is what C9 publishes on every broadcast tick: this node's
// insert delta for a source since the last tick, so peers can fold it
// into their own total_cluster_inserts, plus the publishing node's
// current total_cluster_inserts for that source (its own inserts and
// every peer delta it has folded in).
type Envelope struct {
	SourceID string `json:"source_id"`
	NodeID   string `json:"node_id"`
	Delta    int64  `json:"delta"`
	Total    int64  `json:"total"`
	At       int64  `json:"at"`
}

// Broadcaster publishes and receives per-source insert envelopes on a
// sharded pub/sub topic. Sharding is hash(source_id) mod pool_size (see
// Shard), so a deployment can split the fan-out across several topics or
// partitions without every node needing to know about every source.
type Broadcaster interface {
	Publish(ctx context.Context, env Envelope) error
	Subscribe(handler func(Envelope)) (unsubscribe func(), err error)
	Close() error
}

// LocalBroadcaster is an in-process pub/sub, adapted from the teacher's
// subscriberRegistry pattern (subscribe / dispatch / unsubscribe):
// Publish fans out synchronously to every registered handler. It is the
// right choice for a single-node deployment, or for tests, where there is
// no real peer to talk to.
type LocalBroadcaster struct {
	mu      sync.RWMutex
	subs    map[uint64]func(Envelope)
	nextID  uint64
	logger  *slog.Logger
}

// NewLocalBroadcaster creates a LocalBroadcaster.
func NewLocalBroadcaster(logger *slog.Logger) *LocalBroadcaster {
	return &LocalBroadcaster{
		subs:   make(map[uint64]func(Envelope)),
		logger: logging.Default(logger).With("component", "cluster-broadcaster"),
	}
}

// Publish dispatches env to every currently registered subscriber.
func (b *LocalBroadcaster) Publish(_ context.Context, env Envelope) error {
	b.mu.RLock()
	handlers := make([]func(Envelope), 0, len(b.subs))
	for _, h := range b.subs {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(env)
	}
	return nil
}

// Subscribe registers handler and returns a func to remove it.
func (b *LocalBroadcaster) Subscribe(handler func(Envelope)) (func(), error) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = handler
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}, nil
}

// Close is a no-op for LocalBroadcaster; there is no external connection
// to tear down.
func (b *LocalBroadcaster) Close() error { return nil }

var _ Broadcaster = (*LocalBroadcaster)(nil)

// MQTTBroadcaster publishes envelopes onto inserts:shard-<H> topics via a
// real MQTT broker, for deployments with more than one node already
// running a broker between them.
type MQTTBroadcaster struct {
	client   mqtt.Client
	poolSize int
	qos      byte
	logger   *slog.Logger
}

// MQTTConfig configures an MQTTBroadcaster.
type MQTTConfig struct {
	BrokerURL string
	ClientID  string
	PoolSize  int
	QoS       byte
	Logger    *slog.Logger
}

// NewMQTTBroadcaster connects to a broker and returns an MQTTBroadcaster.
func NewMQTTBroadcaster(cfg MQTTConfig) (*MQTTBroadcaster, error) {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 1
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(5 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("cluster: mqtt connect: %w", token.Error())
	}

	return &MQTTBroadcaster{
		client:   client,
		poolSize: cfg.PoolSize,
		qos:      cfg.QoS,
		logger:   logging.Default(cfg.Logger).With("component", "cluster-mqtt-broadcaster"),
	}, nil
}

func (b *MQTTBroadcaster) topicFor(sourceID string) string {
	return fmt.Sprintf("inserts:shard-%d", Shard(sourceID, b.poolSize))
}

// Publish marshals env as JSON and publishes it to its shard's topic.
func (b *MQTTBroadcaster) Publish(ctx context.Context, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("cluster: marshal envelope: %w", err)
	}
	token := b.client.Publish(b.topicFor(env.SourceID), b.qos, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("cluster: mqtt publish timed out")
	}
	return token.Error()
}

// Subscribe subscribes to every shard topic this node publishes under
// (a single-level MQTT filter "+" matches any "inserts:shard-N" topic,
// since the topic string carries no "/" hierarchy) and invokes handler
// for each decoded envelope.
func (b *MQTTBroadcaster) Subscribe(handler func(Envelope)) (func(), error) {
	cb := func(_ mqtt.Client, msg mqtt.Message) {
		var env Envelope
		if err := json.Unmarshal(msg.Payload(), &env); err != nil {
			b.logger.Warn("cluster: dropping malformed envelope", "error", err)
			return
		}
		handler(env)
	}
	if token := b.client.Subscribe("+", b.qos, cb); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("cluster: mqtt subscribe: %w", token.Error())
	}

	return func() {
		b.client.Unsubscribe("+")
	}, nil
}

// Close disconnects the MQTT client.
func (b *MQTTBroadcaster) Close() error {
	b.client.Disconnect(250)
	return nil
}

var _ Broadcaster = (*MQTTBroadcaster)(nil)
