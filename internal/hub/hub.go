// Package hub implements the Pub/Sub Hub of spec §4.5: in-process fan-out
// with per-subscriber bounded queues and drop-oldest backpressure, plus
// cross-instance delivery over an external broker (broker.go).
//
// Grounded on the teacher's internal/handlers/websocket.go connection-map/
// pump-goroutine shape, generalized from one WebSocket connection to an
// arbitrary channel-keyed subscriber table (a map guarded by sync.RWMutex).
package hub

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DefaultQueueSize is the per-subscriber bounded queue size (spec §4.5).
const DefaultQueueSize = 256

// Event is a self-describing published message (spec §4.5 "Cross-instance
// delivery"): channel, kind, timestamp and a monotonic publish id used for
// echo suppression by the broker.
type Event struct {
	Channel   string         `json:"channel"`
	Kind      string         `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	PublishID uint64         `json:"publish_id"`
	Payload   map[string]any `json:"-"`
}

// Handler is invoked for every event published on a subscribed channel.
// Each subscription's handler runs on that subscription's own goroutine,
// which drains its bounded queue (see Subscribe), so Publish never waits on
// a handler; a slow handler only fills, then drops from, its own queue.
type Handler func(Event)

// Token identifies a subscription for Unsubscribe.
type Token uint64

type subscription struct {
	token   Token
	channel string
	queue   chan Event
	dropped uint64
	closed  chan struct{}
	once    sync.Once
}

// Hub is the local pub/sub table. A single Hub per process; cross-instance
// delivery is layered on via Broker (broker.go), which calls DeliverRemote
// for messages that originated on other instances.
type Hub struct {
	logger *zap.Logger

	mu   sync.RWMutex
	subs map[string]map[Token]*subscription // channel -> token -> sub

	nextToken atomic.Uint64
	nextPubID atomic.Uint64

	broker Broker // optional; nil means local-only delivery
}

// Broker relays events to/from other instances (internal/hub/broker.go).
type Broker interface {
	Publish(channel string, ev Event) error
}

func New(logger *zap.Logger) *Hub {
	return &Hub{logger: logger, subs: make(map[string]map[Token]*subscription)}
}

// SetBroker wires a cross-instance broker. Publishes are mirrored to it;
// the broker calls back into DeliverRemote for messages it receives.
func (h *Hub) SetBroker(b Broker) { h.broker = b }

// Subscribe registers handler for channel, invoked by a dedicated goroutine
// draining a bounded per-subscription queue so a slow handler never blocks
// Publish (spec §4.5 "Backpressure").
func (h *Hub) Subscribe(channel string, handler Handler) Token {
	token := Token(h.nextToken.Add(1))
	sub := &subscription{
		token:   token,
		channel: channel,
		queue:   make(chan Event, DefaultQueueSize),
		closed:  make(chan struct{}),
	}

	h.mu.Lock()
	if h.subs[channel] == nil {
		h.subs[channel] = make(map[Token]*subscription)
	}
	h.subs[channel][token] = sub
	h.mu.Unlock()

	go func() {
		for {
			select {
			case ev, ok := <-sub.queue:
				if !ok {
					return
				}
				handler(ev)
			case <-sub.closed:
				return
			}
		}
	}()

	return token
}

// Unsubscribe is idempotent; after it returns, handler is guaranteed not to
// be invoked for new events (spec §4.5).
func (h *Hub) Unsubscribe(channel string, token Token) {
	h.mu.Lock()
	subsForChan, ok := h.subs[channel]
	if !ok {
		h.mu.Unlock()
		return
	}
	sub, ok := subsForChan[token]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(subsForChan, token)
	if len(subsForChan) == 0 {
		delete(h.subs, channel)
	}
	h.mu.Unlock()

	sub.once.Do(func() { close(sub.closed) })
}

// Publish delivers ev to every local subscriber on channel and, if a broker
// is wired, mirrors it for cross-instance delivery (spec §4.5). Publish
// order to local subscribers matches call order within one process (spec §5).
func (h *Hub) Publish(channel string, kind string, payload map[string]any) Event {
	ev := Event{
		Channel:   channel,
		Kind:      kind,
		Timestamp: time.Now().UTC(),
		PublishID: h.nextPubID.Add(1),
		Payload:   payload,
	}
	h.deliverLocal(ev)
	if h.broker != nil {
		if err := h.broker.Publish(channel, ev); err != nil {
			h.logger.Warn("broker publish failed, degrading to local-only delivery",
				zap.String("channel", channel), zap.Error(err))
		}
	}
	return ev
}

// DeliverRemote is called by the Broker when a message arrives from another
// instance. The broker is responsible for echo suppression before calling
// this (spec §4.5 "must suppress echo").
func (h *Hub) DeliverRemote(ev Event) {
	h.deliverLocal(ev)
}

func (h *Hub) deliverLocal(ev Event) {
	h.mu.RLock()
	subsForChan := h.subs[ev.Channel]
	// snapshot under the lock, matching spec §5 "publish iterates a
	// consistent snapshot".
	snapshot := make([]*subscription, 0, len(subsForChan))
	for _, s := range subsForChan {
		snapshot = append(snapshot, s)
	}
	h.mu.RUnlock()

	for _, sub := range snapshot {
		select {
		case sub.queue <- ev:
		default:
			// drop-oldest: pop one stale event, then enqueue.
			select {
			case <-sub.queue:
				atomic.AddUint64(&sub.dropped, 1)
			default:
			}
			select {
			case sub.queue <- ev:
			default:
				atomic.AddUint64(&sub.dropped, 1)
			}
		}
	}
}

// Reserved channel name helpers (spec §4.5 "Channels").
const (
	ChannelAlertsAuthority = "alerts.authority"
	ChannelAdminSystem     = "admin.system"
)

func ChannelAlertsTourist(touristID string) string { return "alerts.tourist." + touristID }
func ChannelBroadcastsAll() string                 { return "broadcasts.all" }
func ChannelBroadcastsZone(zoneID string) string   { return "broadcasts.zone." + zoneID }
