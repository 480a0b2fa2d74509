package broadcastsvc

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/safehorizon/pipeline/internal/geofence"
	"github.com/safehorizon/pipeline/internal/hub"
	"github.com/safehorizon/pipeline/internal/models"
)

type fakeStore struct {
	mu          sync.Mutex
	broadcasts  map[string]*models.Broadcast
	acks        map[string]bool
	radius      []models.Tourist
	all         []models.Tourist
	devices     map[string][]models.DeviceRegistration
	zones       map[string]*models.Zone
	counterCalls []struct{ tourists, devices int }
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		broadcasts: make(map[string]*models.Broadcast),
		acks:       make(map[string]bool),
		devices:    make(map[string][]models.DeviceRegistration),
		zones:      make(map[string]*models.Zone),
	}
}

func (s *fakeStore) NextBroadcastID(ctx context.Context, day time.Time) (string, error) {
	return fmt.Sprintf("BCAST-%s-0001", day.Format("20060102")), nil
}

func (s *fakeStore) CreateBroadcast(ctx context.Context, b *models.Broadcast) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcasts[b.ID] = b
	return nil
}

func (s *fakeStore) ResolveRadiusTargets(ctx context.Context, lat, lon, radiusKM float64) ([]models.Tourist, error) {
	return s.radius, nil
}

func (s *fakeStore) ResolveRegionTargets(ctx context.Context, north, south, east, west float64) ([]models.Tourist, error) {
	return s.all, nil
}

func (s *fakeStore) ResolveAllTargets(ctx context.Context) ([]models.Tourist, error) {
	return s.all, nil
}

func (s *fakeStore) GetZone(ctx context.Context, id string) (*models.Zone, error) {
	z, ok := s.zones[id]
	if !ok {
		return nil, models.ErrNotFound("zone not found")
	}
	return z, nil
}

func (s *fakeStore) ActiveDevices(ctx context.Context, touristID string) ([]models.DeviceRegistration, error) {
	return s.devices[touristID], nil
}

func (s *fakeStore) AcknowledgeBroadcast(ctx context.Context, ack *models.BroadcastAck) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := ack.BroadcastID + "|" + ack.TouristID
	if s.acks[key] {
		return false, nil
	}
	s.acks[key] = true
	if b, ok := s.broadcasts[ack.BroadcastID]; ok {
		b.AcknowledgmentCount++
	}
	return true, nil
}

func (s *fakeStore) IncrementDeliveryCounters(ctx context.Context, broadcastID string, tourists, devices int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counterCalls = append(s.counterCalls, struct{ tourists, devices int }{tourists, devices})
	return nil
}

type fakeNotifier struct {
	mu        sync.Mutex
	pushCount int
	smsCount  int
}

func (n *fakeNotifier) Push(ctx context.Context, deviceToken, title, body string, data map[string]any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pushCount++
	return nil
}

func (n *fakeNotifier) SMS(ctx context.Context, phoneNumber, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.smsCount++
	return nil
}

func newDispatcher(store Store, n *fakeNotifier) *Dispatcher {
	idx := geofence.New(nil, zap.NewNop(), time.Minute)
	return New(store, hub.New(zap.NewNop()), idx, n, zap.NewNop())
}

func floatPtr(f float64) *float64 { return &f }

func TestDispatchRadiusTargetingPersistsCount(t *testing.T) {
	store := newFakeStore()
	store.radius = []models.Tourist{{ID: "t1"}, {ID: "t2"}}
	n := &fakeNotifier{}
	d := newDispatcher(store, n)

	b, err := d.Dispatch(context.Background(), Request{
		Type: models.BroadcastRadius, CenterLat: 19.0760, CenterLon: 72.8777, RadiusKM: 5,
		Title: "Flood warning", Message: "Move to higher ground", Severity: models.SeverityHigh, SenderID: "a1",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, b.TouristsNotified)
}

func TestDispatchRejectsMissingTitleOrMessage(t *testing.T) {
	store := newFakeStore()
	d := newDispatcher(store, &fakeNotifier{})
	_, err := d.Dispatch(context.Background(), Request{Type: models.BroadcastAll, SenderID: "a1"})
	assert.Error(t, err)
}

func TestDeliverSendsSMSOnlyForHighSeverityAndAbove(t *testing.T) {
	store := newFakeStore()
	n := &fakeNotifier{}
	d := newDispatcher(store, n)

	highSev := &models.Broadcast{ID: "BCAST-1", Severity: models.SeverityHigh, Title: "x", Message: "y"}
	d.deliver(context.Background(), highSev, []models.Tourist{{ID: "t1", Phone: "+1555"}})
	assert.Equal(t, 1, n.smsCount)

	lowSev := &models.Broadcast{ID: "BCAST-2", Severity: models.SeverityMedium, Title: "x", Message: "y"}
	d.deliver(context.Background(), lowSev, []models.Tourist{{ID: "t2", Phone: "+1555"}})
	assert.Equal(t, 1, n.smsCount, "medium severity must not trigger the SMS leg")
}

func TestAcknowledgeIsIdempotentPerTourist(t *testing.T) {
	store := newFakeStore()
	store.broadcasts["BCAST-1"] = &models.Broadcast{ID: "BCAST-1"}
	d := newDispatcher(store, &fakeNotifier{})

	ack := &models.BroadcastAck{BroadcastID: "BCAST-1", TouristID: "t1", Status: models.AckSafe, AcknowledgedAt: time.Now()}
	first, err := d.Acknowledge(context.Background(), ack)
	require.NoError(t, err)
	assert.True(t, first)
	assert.Equal(t, 1, store.broadcasts["BCAST-1"].AcknowledgmentCount)

	second, err := d.Acknowledge(context.Background(), ack)
	require.NoError(t, err)
	assert.False(t, second, "re-acknowledging must be a no-op")
	assert.Equal(t, 1, store.broadcasts["BCAST-1"].AcknowledgmentCount)
}

func TestAcknowledgeRejectsInvalidStatus(t *testing.T) {
	store := newFakeStore()
	d := newDispatcher(store, &fakeNotifier{})
	_, err := d.Acknowledge(context.Background(), &models.BroadcastAck{BroadcastID: "BCAST-1", TouristID: "t1", Status: "bogus"})
	assert.Error(t, err)
}

func TestDispatchZoneTargetingResolvesDiskZoneByRadius(t *testing.T) {
	store := newFakeStore()
	store.zones["z1"] = &models.Zone{ID: "z1", Type: models.ZoneRisky, Name: "market", RadiusM: floatPtr(200)}
	n := &fakeNotifier{}
	d := newDispatcher(store, n)

	b, err := d.Dispatch(context.Background(), Request{
		Type: models.BroadcastZone, ZoneID: "z1",
		Title: "Zone alert", Message: "stay alert", Severity: models.SeverityLow, SenderID: "a1",
	})
	require.NoError(t, err)
	assert.NotNil(t, b.ZoneID)
	assert.Equal(t, "z1", *b.ZoneID)
}
