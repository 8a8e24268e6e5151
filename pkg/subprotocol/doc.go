// Package subprotocol implements the two GraphQL over WebSocket message
// framings: graphql-transport-ws (github.com/enisdenjo/graphql-ws) and the
// legacy graphql-ws (subscriptions-transport-ws).
//
// Both are expressed through the Protocol interface. A Protocol is selected
// once per connection with Negotiate, from the values the client offered in
// Sec-WebSocket-Protocol, and then used for every frame on that connection:
//
//	proto, ok := subprotocol.Negotiate(r.Header.Values("Sec-WebSocket-Protocol"))
//	if !ok {
//	    http.Error(w, "unsupported subprotocol", http.StatusBadRequest)
//	    return
//	}
//
//	intent := proto.Decode(frame)
//	switch intent.Kind {
//	case subprotocol.IntentStart:
//	    // ...
//	}
//
// Decode never fails: malformed input is reported as an IntentFatal, and a
// problem scoped to one operation as an IntentError.
package subprotocol
