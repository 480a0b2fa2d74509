package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// redisChannelPrefix namespaces every SafeHorizon pub/sub message so the
// broker can PSUBSCRIBE to a single wildcard pattern and still recover the
// original Hub channel name (spec §6.3 "channel wildcards OR explicit
// channel list").
const redisChannelPrefix = "safehorizon:"

// echoTTL bounds how long a publish id is remembered for self-publish
// suppression (spec §4.5 "dedup by publish id within a short TTL").
const echoTTL = 30 * time.Second

// wireMessage is the self-describing envelope relayed over Redis.
type wireMessage struct {
	InstanceID string         `json:"instance_id"`
	Channel    string         `json:"channel"`
	Kind       string         `json:"event_type"`
	Timestamp  time.Time      `json:"timestamp"`
	PublishID  uint64         `json:"publish_id"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// RedisBroker relays Hub events across instances via Redis PUBLISH/SUBSCRIBE
// (spec §4.5 "Cross-instance delivery", §6.3). Grounded on the go-redis v9
// client idiom seen in
// _examples/other_examples/30c1688e_..._tracking_service.go.go
// (draymaster-tms) and .../b60b0a91_..._geofencing-monitor.go.go
// (fleettracker-backend); replaces the teacher's MQTT wrapper
// (internal/utils/mqtt.go), whose session-control bridging never compiled
// and whose QoS-based delivery model didn't fit the Hub's explicit
// channel/backpressure semantics.
type RedisBroker struct {
	client     *redis.Client
	instanceID string
	logger     *zap.Logger
	hub        *Hub

	mu   sync.Mutex
	seen map[uint64]time.Time // publish ids self-published, for echo suppression
}

// NewRedisBroker connects to addr (a redis:// URL or a bare host:port) and
// wires deliveries back into hub.
func NewRedisBroker(addr, instanceID string, hub *Hub, logger *zap.Logger) *RedisBroker {
	opts, err := redis.ParseURL(addr)
	if err != nil {
		opts = &redis.Options{Addr: addr}
	}
	client := redis.NewClient(opts)
	return &RedisBroker{
		client:     client,
		instanceID: instanceID,
		logger:     logger,
		hub:        hub,
		seen:       make(map[uint64]time.Time),
	}
}

// Run subscribes to every SafeHorizon channel via a wildcard pattern and
// dispatches incoming messages to the Hub until ctx is cancelled.
func (b *RedisBroker) Run(ctx context.Context) error {
	pubsub := b.client.PSubscribe(ctx, redisChannelPrefix+"*")
	defer pubsub.Close()

	go b.evictLoop(ctx)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.handleMessage(msg.Payload)
		}
	}
}

func (b *RedisBroker) handleMessage(raw string) {
	var wm wireMessage
	if err := json.Unmarshal([]byte(raw), &wm); err != nil {
		b.logger.Warn("broker: dropping malformed message", zap.Error(err))
		return
	}
	if wm.InstanceID == b.instanceID && b.isSelfPublished(wm.PublishID) {
		return // echo suppression (spec §4.5)
	}
	b.hub.DeliverRemote(Event{
		Channel:   wm.Channel,
		Kind:      wm.Kind,
		Timestamp: wm.Timestamp,
		PublishID: wm.PublishID,
		Payload:   wm.Payload,
	})
}

// Publish implements the Hub's Broker interface.
func (b *RedisBroker) Publish(channel string, ev Event) error {
	b.markSelfPublished(ev.PublishID)
	wm := wireMessage{
		InstanceID: b.instanceID,
		Channel:    channel,
		Kind:       ev.Kind,
		Timestamp:  ev.Timestamp,
		PublishID:  ev.PublishID,
		Payload:    ev.Payload,
	}
	data, err := json.Marshal(wm)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return b.client.Publish(ctx, redisChannelPrefix+channel, data).Err()
}

func (b *RedisBroker) markSelfPublished(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seen[id] = time.Now().Add(echoTTL)
}

func (b *RedisBroker) isSelfPublished(id uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	exp, ok := b.seen[id]
	if !ok {
		return false
	}
	return time.Now().Before(exp)
}

func (b *RedisBroker) evictLoop(ctx context.Context) {
	ticker := time.NewTicker(echoTTL)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			b.mu.Lock()
			for id, exp := range b.seen {
				if now.After(exp) {
					delete(b.seen, id)
				}
			}
			b.mu.Unlock()
		}
	}
}

// Close releases the underlying Redis client.
func (b *RedisBroker) Close() error { return b.client.Close() }
