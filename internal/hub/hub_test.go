package hub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHubDeliversToSubscriber(t *testing.T) {
	h := New(zap.NewNop())
	received := make(chan Event, 1)
	h.Subscribe("chan.a", func(ev Event) { received <- ev })

	h.Publish("chan.a", "created", map[string]any{"x": 1})

	select {
	case ev := <-received:
		assert.Equal(t, "chan.a", ev.Channel)
		assert.Equal(t, "created", ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("handler was never invoked")
	}
}

func TestHubDoesNotDeliverToOtherChannels(t *testing.T) {
	h := New(zap.NewNop())
	received := make(chan Event, 1)
	h.Subscribe("chan.a", func(ev Event) { received <- ev })

	h.Publish("chan.b", "created", nil)

	select {
	case <-received:
		t.Fatal("handler on chan.a should not see chan.b events")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubUnsubscribeStopsDelivery(t *testing.T) {
	h := New(zap.NewNop())
	received := make(chan Event, 4)
	token := h.Subscribe("chan.a", func(ev Event) { received <- ev })
	h.Unsubscribe("chan.a", token)

	h.Publish("chan.a", "created", nil)

	select {
	case <-received:
		t.Fatal("unsubscribed handler should not be invoked")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubUnsubscribeIsIdempotent(t *testing.T) {
	h := New(zap.NewNop())
	token := h.Subscribe("chan.a", func(Event) {})
	h.Unsubscribe("chan.a", token)
	assert.NotPanics(t, func() { h.Unsubscribe("chan.a", token) })
}

func TestHubFanOutToMultipleSubscribers(t *testing.T) {
	h := New(zap.NewNop())
	a := make(chan Event, 1)
	b := make(chan Event, 1)
	h.Subscribe("chan.a", func(ev Event) { a <- ev })
	h.Subscribe("chan.a", func(ev Event) { b <- ev })

	h.Publish("chan.a", "created", nil)

	require.Eventually(t, func() bool {
		return len(a) == 1 && len(b) == 1
	}, time.Second, 5*time.Millisecond)
}

type recordingBroker struct {
	published []Event
}

func (r *recordingBroker) Publish(channel string, ev Event) error {
	r.published = append(r.published, ev)
	return nil
}

func TestHubMirrorsPublishToBroker(t *testing.T) {
	h := New(zap.NewNop())
	broker := &recordingBroker{}
	h.SetBroker(broker)

	h.Publish("chan.a", "created", nil)

	require.Len(t, broker.published, 1)
	assert.Equal(t, "chan.a", broker.published[0].Channel)
}

func TestHubDeliverRemoteReachesLocalSubscribers(t *testing.T) {
	h := New(zap.NewNop())
	received := make(chan Event, 1)
	h.Subscribe("chan.a", func(ev Event) { received <- ev })

	h.DeliverRemote(Event{Channel: "chan.a", Kind: "remote_event"})

	select {
	case ev := <-received:
		assert.Equal(t, "remote_event", ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("remote event was not delivered locally")
	}
}

func TestChannelHelpers(t *testing.T) {
	assert.Equal(t, "alerts.tourist.t1", ChannelAlertsTourist("t1"))
	assert.Equal(t, "broadcasts.all", ChannelBroadcastsAll())
	assert.Equal(t, "broadcasts.zone.z1", ChannelBroadcastsZone("z1"))
}
