package subprotocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/getmockd/gqlws/pkg/graphql"
)

// ErrUnsupported is returned for protocol names or message kinds a protocol
// does not define.
var ErrUnsupported = errors.New("not supported by subprotocol")

// Sub-protocol names as negotiated in Sec-WebSocket-Protocol.
const (
	NameTransportWS = "graphql-transport-ws"
	NameLegacyWS    = "graphql-ws"
)

// Message types shared by both protocols.
const (
	msgTypeConnectionInit = "connection_init"
	msgTypeConnectionAck  = "connection_ack"
	msgTypePing           = "ping"
	msgTypePong           = "pong"
	msgTypeError          = "error"
	msgTypeComplete       = "complete"
)

// graphql-transport-ws message types.
const (
	msgTypeSubscribe = "subscribe"
	msgTypeNext      = "next"
)

// graphql-ws (legacy) message types.
const (
	msgTypeStart               = "start"
	msgTypeStop                = "stop"
	msgTypeData                = "data"
	msgTypeConnectionKeepAlive = "ka"
	msgTypeConnectionTerminate = "connection_terminate"
	msgTypeConnectionError     = "connection_error"
)

// MessageKind identifies an outbound message independent of its wire name.
type MessageKind int

const (
	// MessageAck acknowledges connection_init.
	MessageAck MessageKind = iota
	// MessageKeepAlive is the periodic keep-alive frame.
	MessageKeepAlive
	// MessagePong answers a client ping.
	MessagePong
	// MessageNext carries one operation result.
	MessageNext
	// MessageError rejects one operation.
	MessageError
	// MessageComplete ends an operation.
	MessageComplete
	// MessageConnectionError reports a connection-level failure.
	MessageConnectionError
)

var messageKindNames = map[MessageKind]string{
	MessageAck:             "ack",
	MessageKeepAlive:       "keep_alive",
	MessagePong:            "pong",
	MessageNext:            "next",
	MessageError:           "error",
	MessageComplete:        "complete",
	MessageConnectionError: "connection_error",
}

// String returns a protocol-neutral name for the kind.
func (k MessageKind) String() string {
	if name, ok := messageKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("message(%d)", int(k))
}

// MessageTypes are the wire names of the per-operation messages.
type MessageTypes struct {
	Next     string
	Error    string
	Complete string
}

// Protocol encodes and decodes one GraphQL over WebSocket sub-protocol.
// Implementations are stateless and safe for concurrent use.
type Protocol interface {
	// Name is the Sec-WebSocket-Protocol value.
	Name() string
	// Types returns the wire names of next, error and complete.
	Types() MessageTypes
	// Decode turns an inbound text frame into an Intent.
	Decode(data []byte) Intent
	// Encode builds an outbound frame. A nil payload is omitted.
	Encode(kind MessageKind, id string, payload interface{}) ([]byte, error)
	// Initialize writes the handshake acknowledgement.
	Initialize(send func([]byte) error) error
	// KeepAlive returns the keep-alive frame.
	KeepAlive() []byte
	// Fatal returns the frame sent before closing on a protocol violation.
	Fatal(message string) []byte
	// Errors returns the payload of an operation error frame.
	Errors(errs []graphql.GraphQLError) interface{}
}

// wsMessage is the envelope shared by both protocols.
type wsMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// dialect holds the wire names that differ between the two protocols.
type dialect struct {
	name      string
	start     string
	stop      string
	next      string
	keepAlive string
	fatal     string
	// pingPong is false for the legacy protocol, which has no ping/pong.
	pingPong bool
	// terminate is empty for graphql-transport-ws.
	terminate string
	// ackKeepAlive sends a keep-alive right after connection_ack.
	ackKeepAlive bool
}

// codec implements Protocol for a dialect.
type codec struct {
	d dialect
}

// TransportWS is the graphql-transport-ws protocol.
var TransportWS Protocol = &codec{d: dialect{
	name:      NameTransportWS,
	start:     msgTypeSubscribe,
	stop:      msgTypeComplete,
	next:      msgTypeNext,
	keepAlive: msgTypePing,
	fatal:     msgTypeError,
	pingPong:  true,
}}

// LegacyWS is the graphql-ws protocol of subscriptions-transport-ws.
var LegacyWS Protocol = &codec{d: dialect{
	name:         NameLegacyWS,
	start:        msgTypeStart,
	stop:         msgTypeStop,
	next:         msgTypeData,
	keepAlive:    msgTypeConnectionKeepAlive,
	fatal:        msgTypeConnectionError,
	terminate:    msgTypeConnectionTerminate,
	ackKeepAlive: true,
}}

// All returns every supported protocol in server preference order.
func All() []Protocol {
	return []Protocol{TransportWS, LegacyWS}
}

// Lookup returns the protocol with the given name (case-insensitive).
func Lookup(name string) (Protocol, error) {
	for _, p := range All() {
		if strings.EqualFold(p.Name(), name) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupported, name)
}

// Negotiate picks the first offered sub-protocol that matches one of
// supported, or All() when supported is empty. offered holds raw
// Sec-WebSocket-Protocol header values; comma-separated lists are split.
func Negotiate(offered []string, supported ...Protocol) (Protocol, bool) {
	if len(supported) == 0 {
		supported = All()
	}
	for _, header := range offered {
		for _, name := range strings.Split(header, ",") {
			name = strings.TrimSpace(name)
			for _, p := range supported {
				if strings.EqualFold(p.Name(), name) {
					return p, true
				}
			}
		}
	}
	return nil, false
}

func (c *codec) Name() string {
	return c.d.name
}

func (c *codec) Types() MessageTypes {
	return MessageTypes{
		Next:     c.d.next,
		Error:    msgTypeError,
		Complete: msgTypeComplete,
	}
}

func (c *codec) Decode(data []byte) Intent {
	var msg wsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return Fatal("invalid message format")
	}

	switch msg.Type {
	case "":
		return Fatal("message type is required")
	case msgTypeConnectionInit:
		return Intent{Kind: IntentInitial, Payload: msg.Payload}
	case c.d.start:
		return c.decodeStart(&msg)
	case c.d.stop:
		if msg.ID == "" {
			return Fatal("%s message requires an id", msg.Type)
		}
		return Intent{Kind: IntentStop, ID: msg.ID}
	case msgTypePing:
		if !c.d.pingPong {
			return Intent{Kind: IntentIgnore}
		}
		return Intent{Kind: IntentPing, Payload: msg.Payload}
	case msgTypePong:
		if !c.d.pingPong {
			return Intent{Kind: IntentIgnore}
		}
		return Intent{Kind: IntentPong}
	case c.d.terminate:
		return Intent{Kind: IntentTerminate}
	}

	return Fatal("unsupported message type %q", msg.Type)
}

// decodeStart decodes subscribe/start into a start or once intent.
func (c *codec) decodeStart(msg *wsMessage) Intent {
	if msg.ID == "" {
		return Fatal("%s message requires an id", msg.Type)
	}
	if len(msg.Payload) == 0 || string(msg.Payload) == "null" {
		return OperationError(msg.ID, "missing query")
	}

	var req graphql.GraphQLRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return OperationError(msg.ID, "invalid operation payload")
	}
	if strings.TrimSpace(req.Query) == "" {
		return OperationError(msg.ID, "missing query")
	}

	op, err := OperationType(req.Query, req.OperationName)
	if err != nil {
		return OperationError(msg.ID, err.Error())
	}

	kind := IntentOnce
	if op == OperationSubscription {
		kind = IntentStart
	}
	return Intent{Kind: kind, ID: msg.ID, Request: &req}
}

func (c *codec) Encode(kind MessageKind, id string, payload interface{}) ([]byte, error) {
	msgType, err := c.messageType(kind)
	if err != nil {
		return nil, err
	}

	msg := wsMessage{ID: id, Type: msgType}
	if payload != nil {
		switch p := payload.(type) {
		case json.RawMessage:
			msg.Payload = p
		default:
			raw, err := json.Marshal(payload)
			if err != nil {
				return nil, fmt.Errorf("failed to encode %s payload: %w", msgType, err)
			}
			msg.Payload = raw
		}
	}

	return json.Marshal(&msg)
}

func (c *codec) messageType(kind MessageKind) (string, error) {
	switch kind {
	case MessageAck:
		return msgTypeConnectionAck, nil
	case MessageKeepAlive:
		return c.d.keepAlive, nil
	case MessagePong:
		if !c.d.pingPong {
			return "", fmt.Errorf("%w: pong in %s", ErrUnsupported, c.d.name)
		}
		return msgTypePong, nil
	case MessageNext:
		return c.d.next, nil
	case MessageError:
		return msgTypeError, nil
	case MessageComplete:
		return msgTypeComplete, nil
	case MessageConnectionError:
		return c.d.fatal, nil
	default:
		return "", fmt.Errorf("%w: message kind %d", ErrUnsupported, int(kind))
	}
}

func (c *codec) Initialize(send func([]byte) error) error {
	ack, err := c.Encode(MessageAck, "", nil)
	if err != nil {
		return err
	}
	if err := send(ack); err != nil {
		return err
	}
	if c.d.ackKeepAlive {
		return send(c.KeepAlive())
	}
	return nil
}

func (c *codec) KeepAlive() []byte {
	data, _ := c.Encode(MessageKeepAlive, "", nil)
	return data
}

func (c *codec) Fatal(message string) []byte {
	data, _ := c.Encode(MessageConnectionError, "", c.Errors([]graphql.GraphQLError{{Message: message}}))
	return data
}

func (c *codec) Errors(errs []graphql.GraphQLError) interface{} {
	if c.d.pingPong {
		return errs
	}
	// subscriptions-transport-ws sends a single error object
	if len(errs) == 0 {
		return graphql.GraphQLError{Message: "unknown error"}
	}
	return errs[0]
}
