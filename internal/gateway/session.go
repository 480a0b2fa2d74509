// Package gateway implements the Subscription Gateway of spec §4.6: a
// persistent, authenticated, bidirectional WebSocket session that forwards
// Hub events to authority/tourist clients and replays missed alerts on
// reconnect.
//
// Grounded on the teacher's internal/handlers/websocket.go connection-pump
// shape (writeWait/pongWait/pingPeriod deadlines, upgrader with origin
// check, reader/writer goroutine pair per connection), generalized from an
// unauthenticated dog-walk tracking socket to the spec's authenticated,
// channel-scoped, replay-capable session state machine.
package gateway

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/safehorizon/pipeline/internal/auth"
	"github.com/safehorizon/pipeline/internal/hub"
)

// Deadlines mirror the teacher's pump constants, retuned to the spec's
// 120s idle timeout (spec §5 "Cancellation & timeouts").
const (
	writeWait      = 10 * time.Second
	idleTimeout    = 120 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 4096
	outboundQueue  = 256
)

// state is the spec §4.6 session state machine.
type state int

const (
	stateConnecting state = iota
	stateAuthenticating
	stateSubscribed
	stateDraining
	stateClosed
)

// Close codes named in spec §4.6.
const (
	CloseNormal        = websocket.CloseNormalClosure     // 1000, client close
	CloseGoingAway      = websocket.CloseGoingAway         // 1001, server shutdown
	ClosePolicyViolation = websocket.ClosePolicyViolation  // 1008, auth failure
	CloseInternalErr    = websocket.CloseInternalServerErr // 1011, idle timeout
)

// Session is one authenticated WebSocket connection.
type Session struct {
	conn   *websocket.Conn
	hub    *hub.Hub
	logger *zap.Logger

	claims *auth.Claims

	mu        sync.Mutex
	state     state
	tokens    []subToken
	outQ      chan []byte
	closeOnce sync.Once
}

type subToken struct {
	channel string
	token   hub.Token
}

func newSession(conn *websocket.Conn, claims *auth.Claims, h *hub.Hub, logger *zap.Logger) *Session {
	return &Session{
		conn:   conn,
		hub:    h,
		logger: logger,
		claims: claims,
		state:  stateConnecting,
		outQ:   make(chan []byte, outboundQueue),
	}
}

// enqueue offers a framed message to the single outbound queue without
// blocking (spec §4.6 "Concurrency" / §4.5 "Backpressure"); if the queue is
// full the message is dropped rather than stalling the Hub's publisher.
func (s *Session) enqueue(b []byte) {
	select {
	case s.outQ <- b:
	default:
		s.logger.Warn("gateway session outbound queue full, dropping message")
	}
}

// subscribe registers a Hub handler that forwards events as framed JSON
// messages (spec §4.6 step 4).
func (s *Session) subscribe(channel string, encode func(hub.Event) ([]byte, error)) {
	tok := s.hub.Subscribe(channel, func(ev hub.Event) {
		b, err := encode(ev)
		if err != nil {
			s.logger.Warn("failed to encode event for gateway session", zap.Error(err))
			return
		}
		s.enqueue(b)
	})
	s.mu.Lock()
	s.tokens = append(s.tokens, subToken{channel: channel, token: tok})
	s.mu.Unlock()
}

// unsubscribeAll tears down every Hub subscription this session holds; must
// complete within 1s of cancellation (spec §5).
func (s *Session) unsubscribeAll() {
	s.mu.Lock()
	tokens := s.tokens
	s.tokens = nil
	s.mu.Unlock()
	for _, t := range tokens {
		s.hub.Unsubscribe(t.channel, t.token)
	}
}

func (s *Session) setState(st state) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// writePump is the session's sole writer: it drains outQ, sends pings on
// pingPeriod, and enforces writeWait per frame (spec §4.6 "Concurrency").
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer s.conn.Close()

	for {
		select {
		case msg, ok := <-s.outQ:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(CloseGoingAway, ""))
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump is the session's sole reader: it enforces the idle timeout and
// handles the client's literal "ping"/"pong" liveness frames (spec §4.6
// step 5). Any other frame is ignored; the gateway is push-only otherwise.
// Returns the close code that best describes why the loop exited, per spec
// §4.6's terminal reasons.
func (s *Session) readPump() int {
	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(idleTimeout))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(idleTimeout))
		return nil
	})

	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return CloseInternalErr // 1011, idle timeout
			}
			if ce, ok := err.(*websocket.CloseError); ok {
				return ce.Code
			}
			return CloseNormal
		}
		s.conn.SetReadDeadline(time.Now().Add(idleTimeout))
		if string(msg) == "ping" {
			s.enqueue([]byte("pong"))
		}
	}
}

// closeWithCode sends a close frame and marks the session closed. Safe to
// call more than once (e.g. once from the expiry watcher and once from the
// normal drain path); only the first call actually writes a frame and
// closes the connection.
func (s *Session) closeWithCode(code int, reason string) {
	s.closeOnce.Do(func() {
		s.setState(stateClosed)
		deadline := time.Now().Add(writeWait)
		_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		_ = s.conn.Close()
	})
}

// watchExpiry force-closes the session with 1008 the instant its token's
// `exp` claim is reached, so a client holding a connection open past token
// expiry receives no further events (spec §8 testable property #12). The
// returned stop func cancels the watch once the session ends for any other
// reason, so the timer doesn't leak past a normally-closed session.
func (s *Session) watchExpiry() (stop func()) {
	if s.claims == nil || s.claims.ExpiresAt == nil {
		return func() {}
	}
	d := time.Until(s.claims.ExpiresAt.Time)
	if d <= 0 {
		d = 0
	}
	timer := time.AfterFunc(d, func() {
		s.closeWithCode(ClosePolicyViolation, "token expired")
	})
	return func() { timer.Stop() }
}

// rejectUpgrade writes an HTTP error before the WebSocket handshake
// completes authentication (used when the token is missing/invalid outright
// rather than merely role-mismatched after upgrade).
func rejectUpgrade(w http.ResponseWriter, status int, msg string) {
	http.Error(w, msg, status)
}
