// Package broadcastsvc implements the Broadcast Dispatcher of spec §4.7:
// resolves a targeting rule (radius, zone, region, all) to a tourist set and
// fans delivery out over three independent legs (Hub, push, SMS), none of
// which can fail the originating API call.
//
// Grounded on the teacher's fan-out shape in internal/services/tracking.go
// (goroutine-per-item with a bounded wait), adapted to three legs per
// recipient instead of one validation per sample.
package broadcastsvc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/safehorizon/pipeline/internal/geofence"
	"github.com/safehorizon/pipeline/internal/hub"
	"github.com/safehorizon/pipeline/internal/models"
	"github.com/safehorizon/pipeline/internal/notifier"
)

// Store is the subset of internal/repository the Dispatcher depends on.
type Store interface {
	NextBroadcastID(ctx context.Context, day time.Time) (string, error)
	CreateBroadcast(ctx context.Context, b *models.Broadcast) error
	ResolveRadiusTargets(ctx context.Context, lat, lon, radiusKM float64) ([]models.Tourist, error)
	ResolveRegionTargets(ctx context.Context, north, south, east, west float64) ([]models.Tourist, error)
	ResolveAllTargets(ctx context.Context) ([]models.Tourist, error)
	GetZone(ctx context.Context, id string) (*models.Zone, error)
	ActiveDevices(ctx context.Context, touristID string) ([]models.DeviceRegistration, error)
	AcknowledgeBroadcast(ctx context.Context, ack *models.BroadcastAck) (bool, error)
	IncrementDeliveryCounters(ctx context.Context, broadcastID string, tourists, devices int) error
}

type Dispatcher struct {
	store       Store
	hub         *hub.Hub
	geofenceIdx *geofence.Index
	notifier    notifier.Notifier
	logger      *zap.Logger
}

func New(store Store, h *hub.Hub, idx *geofence.Index, n notifier.Notifier, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{store: store, hub: h, geofenceIdx: idx, notifier: n, logger: logger}
}

// Request is the spec §6.1 broadcast-endpoint input, shared across all four
// targeting rules; only the fields relevant to Type are read.
type Request struct {
	Type      string
	CenterLat float64
	CenterLon float64
	RadiusKM  float64
	ZoneID    string
	North, South, East, West float64
	Title     string
	Message   string
	Severity  string
	SenderID  string
	ExpiresAt *time.Time
}

// Dispatch resolves targets, persists the broadcast, and fans delivery out
// asynchronously; it returns as soon as the record is durable and the
// targets are known, per spec §4.7 "the originating call returns once
// targeting is resolved and the record is persisted, not once every leg
// completes".
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*models.Broadcast, error) {
	if req.Title == "" || req.Message == "" {
		return nil, models.ErrValidation("title and message are required")
	}
	targets, zoneID, err := d.resolveTargets(ctx, req)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	id, err := d.store.NextBroadcastID(ctx, now)
	if err != nil {
		return nil, err
	}

	b := &models.Broadcast{
		ID:        id,
		Type:      req.Type,
		Title:     req.Title,
		Message:   req.Message,
		Severity:  req.Severity,
		SenderID:  req.SenderID,
		SentAt:    now,
		ExpiresAt: req.ExpiresAt,
		ZoneID:    zoneID,
	}
	switch req.Type {
	case models.BroadcastRadius:
		b.CenterLat, b.CenterLon, b.RadiusKM = &req.CenterLat, &req.CenterLon, &req.RadiusKM
	case models.BroadcastRegion:
		b.BoundsNorth, b.BoundsSouth, b.BoundsEast, b.BoundsWest = &req.North, &req.South, &req.East, &req.West
	}
	b.TouristsNotified = len(targets)

	if err := d.store.CreateBroadcast(ctx, b); err != nil {
		return nil, err
	}

	go d.deliver(context.Background(), b, targets)

	return b, nil
}

func (d *Dispatcher) resolveTargets(ctx context.Context, req Request) ([]models.Tourist, *string, error) {
	switch req.Type {
	case models.BroadcastRadius:
		if req.RadiusKM <= 0 {
			return nil, nil, models.ErrValidation("radius_km must be positive")
		}
		targets, err := d.store.ResolveRadiusTargets(ctx, req.CenterLat, req.CenterLon, req.RadiusKM)
		return targets, nil, err
	case models.BroadcastZone:
		zone, err := d.store.GetZone(ctx, req.ZoneID)
		if err != nil {
			return nil, nil, err
		}
		if zone.IsDisk() {
			targets, err := d.store.ResolveRadiusTargets(ctx, zone.CenterLat, zone.CenterLon, *zone.RadiusM/1000)
			return targets, &zone.ID, err
		}
		all, err := d.store.ResolveAllTargets(ctx)
		if err != nil {
			return nil, nil, err
		}
		var targets []models.Tourist
		for _, t := range all {
			if t.LastLatitude == nil || t.LastLongitude == nil {
				continue
			}
			for _, m := range d.geofenceIdx.Contains(*t.LastLatitude, *t.LastLongitude) {
				if m.Zone.ID == zone.ID {
					targets = append(targets, t)
					break
				}
			}
		}
		return targets, &zone.ID, nil
	case models.BroadcastRegion:
		targets, err := d.store.ResolveRegionTargets(ctx, req.North, req.South, req.East, req.West)
		return targets, nil, err
	case models.BroadcastAll:
		targets, err := d.store.ResolveAllTargets(ctx)
		return targets, nil, err
	default:
		return nil, nil, models.ErrValidation(fmt.Sprintf("unknown broadcast type %q", req.Type))
	}
}

// deliver runs the three independent legs per spec §4.7 "Delivery pipeline":
// Hub publication is synchronous and authoritative; push/SMS are best-effort
// and their failures never surface to the caller.
func (d *Dispatcher) deliver(ctx context.Context, b *models.Broadcast, targets []models.Tourist) {
	d.hub.Publish(hub.ChannelBroadcastsAll(), "broadcast_created", map[string]any{"broadcast": b})
	if b.ZoneID != nil {
		d.hub.Publish(hub.ChannelBroadcastsZone(*b.ZoneID), "broadcast_created", map[string]any{"broadcast": b})
	}

	var wg sync.WaitGroup
	deviceCount := 0
	var mu sync.Mutex
	for _, t := range targets {
		t := t
		d.hub.Publish(hub.ChannelAlertsTourist(t.ID), "broadcast_created", map[string]any{"broadcast": b})

		wg.Add(1)
		go func() {
			defer wg.Done()
			devices, err := d.store.ActiveDevices(ctx, t.ID)
			if err != nil {
				d.logger.Warn("failed to load devices for broadcast delivery", zap.String("tourist_id", t.ID), zap.Error(err))
				return
			}
			for _, dev := range devices {
				if err := d.notifier.Push(ctx, dev.PushToken, b.Title, b.Message, map[string]any{"broadcast_id": b.ID}); err != nil {
					d.logger.Warn("push delivery leg failed", zap.String("tourist_id", t.ID), zap.Error(err))
				}
			}
			mu.Lock()
			deviceCount += len(devices)
			mu.Unlock()

			// SMS leg only fires for severity >= high (spec §4.7 "Delivery
			// pipeline"); low/medium broadcasts rely on the push + Hub legs.
			if t.Phone != "" && models.SeverityRank(b.Severity) >= models.SeverityRank(models.SeverityHigh) {
				if err := d.notifier.SMS(ctx, t.Phone, b.Title+": "+b.Message); err != nil {
					d.logger.Warn("sms delivery leg failed", zap.String("tourist_id", t.ID), zap.Error(err))
				}
			}
		}()
	}
	wg.Wait()

	if err := d.store.IncrementDeliveryCounters(ctx, b.ID, len(targets), deviceCount); err != nil {
		d.logger.Error("failed to record broadcast delivery counters", zap.String("broadcast_id", b.ID), zap.Error(err))
	}
}

// Acknowledge implements spec §4.7 "Acknowledgment": idempotent per
// (broadcast, tourist).
func (d *Dispatcher) Acknowledge(ctx context.Context, ack *models.BroadcastAck) (bool, error) {
	if !models.ValidAckStatus(ack.Status) {
		return false, models.ErrValidation("invalid acknowledgment status")
	}
	return d.store.AcknowledgeBroadcast(ctx, ack)
}
