package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/safehorizon/pipeline/internal/auth"
	"github.com/safehorizon/pipeline/internal/hub"
	"github.com/safehorizon/pipeline/internal/models"
)

// Recovery is the subset of internal/repository used to replay missed
// alerts on reconnection (spec §4.6 "Recovery").
type Recovery interface {
	AlertsSinceForAuthority(ctx context.Context, since time.Time) ([]models.Alert, error)
	AlertsSinceForTourist(ctx context.Context, touristID string, since time.Time) ([]models.Alert, error)
}

// Gateway upgrades HTTP connections into authenticated, channel-scoped
// sessions (spec §4.6).
type Gateway struct {
	hub      *hub.Hub
	jwt      *auth.JWT
	recovery Recovery
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// New constructs a Gateway. allowedOrigins mirrors the teacher's upgrader
// CheckOrigin, generalized from "accept all" to the spec §6.5 ALLOWED_ORIGINS
// allowlist (empty slice means accept all, for local/dev).
func New(h *hub.Hub, jwt *auth.JWT, recovery Recovery, allowedOrigins []string, logger *zap.Logger) *Gateway {
	return &Gateway{
		hub:      h,
		jwt:      jwt,
		recovery: recovery,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowedOrigins) == 0 {
					return true
				}
				origin := r.Header.Get("Origin")
				for _, o := range allowedOrigins {
					if o == "*" || strings.EqualFold(o, origin) {
						return true
					}
				}
				return false
			},
		},
	}
}

// ServeAuthority handles GET /ws/authority — the dashboard/authority channel
// (spec §4.6 step 2 "role ∉ {authority, admin}").
func (g *Gateway) ServeAuthority(w http.ResponseWriter, r *http.Request) {
	claims, ok := g.authenticate(w, r)
	if !ok {
		return
	}
	if err := auth.RequireRole(claims, models.RoleAuthority); err != nil {
		g.rejectAfterUpgrade(w, r, ClosePolicyViolation)
		return
	}
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	sess := newSession(conn, claims, g.hub, g.logger)
	sess.setState(stateAuthenticating)

	g.replaySince(r.Context(), r, sess, "", true)

	sess.setState(stateSubscribed)
	sess.subscribe(hub.ChannelAlertsAuthority, encodeAlert)
	sess.subscribe(hub.ChannelBroadcastsAll(), encodeBroadcast)

	g.runPumps(sess)
}

// ServeTourist handles GET /ws/tourist/:id — a tourist's personal channel
// (spec §4.6 step 2 "role ≠ tourist for a tourist channel whose id does not
// match the token subject").
func (g *Gateway) ServeTourist(touristID string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := g.authenticate(w, r)
		if !ok {
			return
		}
		if err := auth.RequireRole(claims, models.RoleTourist); err != nil || (claims.Role == models.RoleTourist && claims.Subject != touristID) {
			g.rejectAfterUpgrade(w, r, ClosePolicyViolation)
			return
		}
		conn, err := g.upgrader.Upgrade(w, r, nil)
		if err != nil {
			g.logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		sess := newSession(conn, claims, g.hub, g.logger)
		sess.setState(stateAuthenticating)

		g.replaySince(r.Context(), r, sess, touristID, false)

		sess.setState(stateSubscribed)
		sess.subscribe(hub.ChannelAlertsTourist(touristID), encodeAlert)
		sess.subscribe(hub.ChannelBroadcastsAll(), encodeBroadcast)

		g.runPumps(sess)
	}
}

// authenticate validates the `token` query parameter before any upgrade
// (spec §4.6 "authenticated via a signed token passed as a query parameter").
func (g *Gateway) authenticate(w http.ResponseWriter, r *http.Request) (*auth.Claims, bool) {
	tok := r.URL.Query().Get("token")
	claims, err := g.jwt.Verify(tok)
	if err != nil {
		rejectUpgrade(w, http.StatusUnauthorized, "invalid or missing token")
		return nil, false
	}
	return claims, true
}

func (g *Gateway) rejectAfterUpgrade(w http.ResponseWriter, r *http.Request, code int) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	deadline := time.Now().Add(writeWait)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, "role not permitted"), deadline)
	_ = conn.Close()
}

// replaySince implements spec §4.6 "Recovery": a `since=<timestamp>` query
// parameter triggers a database replay of missed alerts before the Hub
// subscription activates.
func (g *Gateway) replaySince(ctx context.Context, r *http.Request, sess *Session, touristID string, authority bool) {
	sinceStr := r.URL.Query().Get("since")
	if sinceStr == "" {
		return
	}
	since, err := time.Parse(time.RFC3339, sinceStr)
	if err != nil {
		g.logger.Warn("ignoring malformed since parameter", zap.String("since", sinceStr))
		return
	}
	var alerts []models.Alert
	if authority {
		alerts, err = g.recovery.AlertsSinceForAuthority(ctx, since)
	} else {
		alerts, err = g.recovery.AlertsSinceForTourist(ctx, touristID, since)
	}
	if err != nil {
		g.logger.Warn("replay query failed, continuing without backfill", zap.Error(err))
		return
	}
	for _, a := range alerts {
		b, err := json.Marshal(map[string]any{"event_type": "alert_created", "replay": true, "alert": a})
		if err != nil {
			continue
		}
		sess.enqueue(b)
	}
}

// runPumps blocks until the session's reader exits, then drains write side
// and unsubscribes (spec §4.6 state machine "draining → closed").
func (g *Gateway) runPumps(sess *Session) {
	stopExpiryWatch := sess.watchExpiry()
	defer stopExpiryWatch()

	done := make(chan struct{})
	go func() {
		sess.writePump()
		close(done)
	}()
	closeCode := sess.readPump()
	sess.setState(stateDraining)
	sess.unsubscribeAll()
	sess.closeWithCode(closeCode, "")
	close(sess.outQ)
	<-done
	sess.setState(stateClosed)
}

func encodeAlert(ev hub.Event) ([]byte, error) {
	return json.Marshal(map[string]any{"event_type": ev.Kind, "channel": ev.Channel, "timestamp": ev.Timestamp, "data": ev.Payload})
}

func encodeBroadcast(ev hub.Event) ([]byte, error) {
	return json.Marshal(map[string]any{"event_type": ev.Kind, "channel": ev.Channel, "timestamp": ev.Timestamp, "data": ev.Payload})
}
