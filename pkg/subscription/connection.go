package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	ws "github.com/coder/websocket"

	"github.com/getmockd/gqlws/pkg/graphql"
	"github.com/getmockd/gqlws/pkg/logging"
	"github.com/getmockd/gqlws/pkg/metrics"
	"github.com/getmockd/gqlws/pkg/subprotocol"
)

// ErrSocketClosed is returned when writing to a closed socket.
var ErrSocketClosed = errors.New("socket closed")

// CloseCode is a WebSocket close status code.
type CloseCode int

// Close codes used by the server.
const (
	CloseNormal              CloseCode = 1000
	CloseGoingAway           CloseCode = 1001
	CloseUnsupportedData     CloseCode = 1003
	ClosePolicyViolation     CloseCode = 1008
	CloseInternalError       CloseCode = 1011
	CloseUnauthorized        CloseCode = 4401
	CloseInitTimeout         CloseCode = 4408
	CloseTooManyInitRequests CloseCode = 4429
)

// maxCloseReason is the longest reason that fits in a close frame.
const maxCloseReason = 123

// DefaultWriteTimeout bounds a single frame write.
const DefaultWriteTimeout = 5 * time.Second

// Socket is the output side of a WebSocket connection.
type Socket interface {
	// Send writes one text frame.
	Send(ctx context.Context, data []byte) error
	// Close closes the socket with code and reason.
	Close(code CloseCode, reason string) error
}

// Connection is an initialised client connection: its socket, its protocol
// and the payload of its connection_init message.
type Connection struct {
	id       string
	protocol subprotocol.Protocol
	socket   Socket
	payload  json.RawMessage
	log      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewConnection creates a Connection. Its context is derived from parent and
// cancelled when the connection is disconnected from the Probe.
func NewConnection(parent context.Context, id string, protocol subprotocol.Protocol, socket Socket, payload json.RawMessage, logger *slog.Logger) *Connection {
	ctx, cancel := context.WithCancel(parent)
	return &Connection{
		id:       id,
		protocol: protocol,
		socket:   socket,
		payload:  payload,
		log:      logging.OrNop(logger),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// ID returns the connection id.
func (c *Connection) ID() string { return c.id }

// Protocol returns the negotiated sub-protocol.
func (c *Connection) Protocol() subprotocol.Protocol { return c.protocol }

// Payload returns the connection_init payload, which may be empty.
func (c *Connection) Payload() json.RawMessage { return c.payload }

// Context is cancelled once the connection is disconnected.
func (c *Connection) Context() context.Context { return c.ctx }

// Next sends one operation result.
func (c *Connection) Next(oid string, resp *graphql.GraphQLResponse) {
	c.send(subprotocol.MessageNext, oid, resp)
}

// Error rejects an operation.
func (c *Connection) Error(oid string, errs []graphql.GraphQLError) {
	c.send(subprotocol.MessageError, oid, c.protocol.Errors(errs))
}

// Complete ends an operation.
func (c *Connection) Complete(oid string) {
	c.send(subprotocol.MessageComplete, oid, nil)
}

// KeepAlive sends the protocol keep-alive frame.
func (c *Connection) KeepAlive() {
	c.write(subprotocol.MessageKeepAlive, c.protocol.KeepAlive())
}

// Close closes the underlying socket.
func (c *Connection) Close(code CloseCode, reason string) error {
	return c.socket.Close(code, reason)
}

func (c *Connection) send(kind subprotocol.MessageKind, oid string, payload interface{}) {
	data, err := c.protocol.Encode(kind, oid, payload)
	if err != nil {
		c.log.Error("failed to encode message", "kind", kind, logging.KeyOperationID, oid, logging.KeyError, err)
		return
	}
	c.write(kind, data)
}

// write drops frames once the connection is disconnected.
func (c *Connection) write(kind subprotocol.MessageKind, data []byte) {
	if c.ctx.Err() != nil {
		return
	}
	if err := c.socket.Send(c.ctx, data); err != nil {
		c.log.Debug("failed to send message", "kind", kind, logging.KeyError, err)
		return
	}
	countMessage("outbound", kind.String())
}

func countMessage(direction, msgType string) {
	if metrics.MessagesTotal == nil {
		return
	}
	if vec, err := metrics.MessagesTotal.WithLabels(direction, msgType); err == nil {
		_ = vec.Inc()
	}
}

// wsSocket adapts a coder/websocket connection to Socket.
type wsSocket struct {
	conn         *ws.Conn
	writeTimeout time.Duration
	sendMu       sync.Mutex
	closed       atomic.Bool
}

func newSocket(conn *ws.Conn, writeTimeout time.Duration) *wsSocket {
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	return &wsSocket{conn: conn, writeTimeout: writeTimeout}
}

func (s *wsSocket) Send(ctx context.Context, data []byte) error {
	if s.closed.Load() {
		return ErrSocketClosed
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()
	return s.conn.Write(ctx, ws.MessageText, data)
}

// Close is idempotent; only the first code is sent.
func (s *wsSocket) Close(code CloseCode, reason string) error {
	if s.closed.Swap(true) {
		return nil
	}
	if metrics.ConnectionsClosedTotal != nil {
		if vec, err := metrics.ConnectionsClosedTotal.WithLabels(strconv.Itoa(int(code))); err == nil {
			_ = vec.Inc()
		}
	}
	return s.conn.Close(ws.StatusCode(code), truncateReason(reason))
}

func truncateReason(reason string) string {
	if len(reason) <= maxCloseReason {
		return reason
	}
	cut := maxCloseReason
	for cut > 0 && !utf8.RuneStart(reason[cut]) {
		cut--
	}
	return reason[:cut]
}
