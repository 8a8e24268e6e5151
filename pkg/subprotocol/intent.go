package subprotocol

import (
	"encoding/json"
	"fmt"

	"github.com/getmockd/gqlws/pkg/graphql"
)

// IntentKind identifies what an inbound message asks for.
type IntentKind int

const (
	// IntentIgnore is a well-formed message that requires no action.
	IntentIgnore IntentKind = iota
	// IntentInitial is connection_init.
	IntentInitial
	// IntentPing asks for a pong.
	IntentPing
	// IntentPong answers a ping.
	IntentPong
	// IntentTerminate asks the server to close the connection.
	IntentTerminate
	// IntentStart starts a subscription.
	IntentStart
	// IntentOnce runs a query or mutation.
	IntentOnce
	// IntentStop stops an operation.
	IntentStop
	// IntentError rejects a single operation; the connection stays open.
	IntentError
	// IntentFatal is a protocol violation that ends the connection.
	IntentFatal
)

var intentNames = map[IntentKind]string{
	IntentIgnore:    "ignore",
	IntentInitial:   "initial",
	IntentPing:      "ping",
	IntentPong:      "pong",
	IntentTerminate: "terminate",
	IntentStart:     "start",
	IntentOnce:      "once",
	IntentStop:      "stop",
	IntentError:     "error",
	IntentFatal:     "fatal",
}

// String returns the intent name.
func (k IntentKind) String() string {
	if name, ok := intentNames[k]; ok {
		return name
	}
	return fmt.Sprintf("intent(%d)", int(k))
}

// Intent is a decoded inbound message.
type Intent struct {
	Kind IntentKind
	// ID is the operation id for start, once, stop and error.
	ID string
	// Payload is the raw payload of connection_init and ping.
	Payload json.RawMessage
	// Request is set for start and once.
	Request *graphql.GraphQLRequest
	// Message describes an error or fatal intent.
	Message string
}

// Fatal returns a fatal intent.
func Fatal(format string, args ...interface{}) Intent {
	return Intent{Kind: IntentFatal, Message: fmt.Sprintf(format, args...)}
}

// OperationError returns an error intent for one operation.
func OperationError(id, message string) Intent {
	return Intent{Kind: IntentError, ID: id, Message: message}
}
