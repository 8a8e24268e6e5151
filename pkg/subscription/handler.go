package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"unicode/utf8"

	ws "github.com/coder/websocket"

	"github.com/getmockd/gqlws/internal/id"
	"github.com/getmockd/gqlws/pkg/graphql"
	"github.com/getmockd/gqlws/pkg/logging"
	"github.com/getmockd/gqlws/pkg/subprotocol"
)

// Handler upgrades HTTP requests to GraphQL WebSocket connections.
type Handler struct {
	opts  options
	probe *Probe
	log   *slog.Logger

	mu       sync.Mutex
	sessions map[*session]struct{}
	closing  bool
}

var _ http.Handler = (*Handler)(nil)

// NewHandler creates a Handler serving operations with executor.
func NewHandler(executor graphql.Executor, opts ...Option) *Handler {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	logger := logging.OrNop(o.logger)

	return &Handler{
		opts:     o,
		probe:    NewProbe(executor, o.build, logger),
		log:      logger,
		sessions: make(map[*session]struct{}),
	}
}

// Probe returns the connection registry.
func (h *Handler) Probe() *Probe {
	return h.probe
}

// ServeHTTP negotiates the sub-protocol, upgrades the request and runs the
// connection until it closes. Requests offering no supported sub-protocol
// are rejected with 400 before the upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	proto, ok := subprotocol.Negotiate(r.Header.Values("Sec-WebSocket-Protocol"), h.opts.protocols...)
	if !ok {
		http.Error(w, "unsupported or missing websocket subprotocol", http.StatusBadRequest)
		return
	}

	h.mu.Lock()
	closing := h.closing
	h.mu.Unlock()
	if closing {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := ws.Accept(w, r, &ws.AcceptOptions{
		Subprotocols:       []string{proto.Name()},
		OriginPatterns:     h.opts.originPatterns,
		InsecureSkipVerify: h.opts.insecureSkipVerify,
	})
	if err != nil {
		h.log.Debug("websocket upgrade failed", logging.KeyError, err)
		return
	}
	conn.SetReadLimit(h.opts.readLimit)

	s := h.newSession(conn, proto)
	if !h.track(s) {
		_ = s.socket.Close(CloseGoingAway, "server is shutting down")
		return
	}
	defer h.untrack(s)

	s.run(r.Context())
}

// Shutdown closes every connection with 1001 and stops the Probe.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	sessions := make([]*session, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		s.close(CloseGoingAway, "server is shutting down")
	}
	return h.probe.Shutdown(ctx)
}

func (h *Handler) track(s *session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false
	}
	h.sessions[s] = struct{}{}
	return true
}

func (h *Handler) untrack(s *session) {
	h.mu.Lock()
	delete(h.sessions, s)
	h.mu.Unlock()
}

// session is the read loop of one socket. conn is only touched by the
// goroutine running run.
type session struct {
	h      *Handler
	id     string
	ws     *ws.Conn
	socket *wsSocket
	proto  subprotocol.Protocol
	life   *lifecycle
	log    *slog.Logger
	conn   *Connection
}

func (h *Handler) newSession(conn *ws.Conn, proto subprotocol.Protocol) *session {
	connID := id.Connection()
	return &session{
		h:      h,
		id:     connID,
		ws:     conn,
		socket: newSocket(conn, h.opts.writeTimeout),
		proto:  proto,
		life:   newLifecycle(),
		log:    logging.ForConnection(h.log, connID, proto.Name()),
	}
}

func (s *session) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.log.Debug("connection opened")
	s.life.awaitInit(s.h.opts.initTimeout, func() {
		s.close(CloseInitTimeout, "Connection initialisation timeout")
	})

	defer func() {
		s.life.stop()
		if s.conn != nil {
			s.h.probe.Disconnect(s.conn.ID())
		}
		_ = s.socket.Close(CloseNormal, "")
		s.log.Debug("connection closed")
	}()

	for {
		typ, data, err := s.ws.Read(ctx)
		if err != nil {
			if status := ws.CloseStatus(err); status == -1 && !errors.Is(err, context.Canceled) {
				s.log.Debug("read failed", logging.KeyError, err)
			}
			return
		}
		if typ != ws.MessageText || !utf8.Valid(data) {
			s.close(CloseUnsupportedData, "Only UTF-8 text messages are supported")
			return
		}
		if !s.handle(ctx, data) {
			return
		}
	}
}

// handle processes one inbound frame and reports whether to keep reading.
func (s *session) handle(ctx context.Context, data []byte) bool {
	intent := s.proto.Decode(data)
	countMessage("inbound", intent.Kind.String())

	switch intent.Kind {
	case subprotocol.IntentIgnore, subprotocol.IntentPong:
		return true

	case subprotocol.IntentInitial:
		return s.initialise(ctx, intent.Payload)

	case subprotocol.IntentPing:
		var payload interface{}
		if len(intent.Payload) > 0 {
			payload = intent.Payload
		}
		pong, err := s.proto.Encode(subprotocol.MessagePong, "", payload)
		if err == nil {
			_ = s.socket.Send(ctx, pong)
		}
		return true

	case subprotocol.IntentTerminate:
		s.close(CloseNormal, "")
		return false

	case subprotocol.IntentFatal:
		s.log.Debug("protocol violation", "reason", intent.Message)
		_ = s.socket.Send(ctx, s.proto.Fatal(intent.Message))
		s.close(ClosePolicyViolation, intent.Message)
		return false
	}

	// Everything else is an operation and requires connection_init.
	if s.conn == nil {
		s.close(CloseUnauthorized, "Unauthorized")
		return false
	}

	switch intent.Kind {
	case subprotocol.IntentStart:
		s.h.probe.Start(s.conn.ID(), intent.ID, intent.Request)
	case subprotocol.IntentOnce:
		s.h.probe.Once(s.conn.ID(), intent.ID, intent.Request)
	case subprotocol.IntentStop:
		s.h.probe.Stop(s.conn.ID(), intent.ID)
	case subprotocol.IntentError:
		s.conn.Error(intent.ID, []graphql.GraphQLError{{Message: intent.Message}})
	}
	return true
}

func (s *session) initialise(ctx context.Context, payload json.RawMessage) bool {
	if s.conn != nil {
		s.close(CloseTooManyInitRequests, "Too many initialisation requests")
		return false
	}
	if !s.life.settle() {
		return false
	}

	s.conn = NewConnection(ctx, s.id, s.proto, s.socket, payload, s.log)
	s.h.probe.Connect(s.conn)

	if err := s.proto.Initialize(func(frame []byte) error {
		return s.socket.Send(ctx, frame)
	}); err != nil {
		s.log.Debug("failed to acknowledge connection", logging.KeyError, err)
		return false
	}
	s.life.keepAlive(s.h.opts.keepAlive, s.conn.KeepAlive)
	s.log.Debug("connection initialised")
	return true
}

func (s *session) close(code CloseCode, reason string) {
	if err := s.socket.Close(code, reason); err != nil {
		s.log.Debug("close failed", "code", int(code), logging.KeyError, err)
	}
}
