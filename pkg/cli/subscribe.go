package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/getmockd/gqlws/pkg/graphql"
	"github.com/getmockd/gqlws/pkg/subprotocol"
)

// clientMessages are the client-to-server message types of a sub-protocol.
type clientMessages struct {
	start    string
	stop     string
	pingPong bool
}

var clientDialects = map[string]clientMessages{
	subprotocol.NameTransportWS: {start: "subscribe", stop: "complete", pingPong: true},
	subprotocol.NameLegacyWS:    {start: "start", stop: "stop"},
}

// errOperationFailed is returned when the server reports an operation error,
// either as an error frame or as a result with errors and no data.
var errOperationFailed = errors.New("operation failed")

type subscribeFlags struct {
	query         string
	variables     string
	operationName string
	protocol      string
	initPayload   string
	token         string
	headers       []string
	count         int
	timeout       time.Duration
}

var subscribeOpts subscribeFlags

var subscribeCmd = &cobra.Command{
	Use:   "subscribe <url>",
	Short: "Run one GraphQL operation over WebSocket and print its results",
	Long: `Connect to a GraphQL WebSocket endpoint, run one operation and print every
result payload as a JSON line until the operation completes.`,
	Example: `  gqlws subscribe ws://localhost:4000/graphql -q 'subscription { tick(count: 3) }'
  gqlws subscribe ws://localhost:4000/graphql --protocol graphql-ws \
    -q 'subscription($c: String!) { messageAdded(channel: $c) { author text } }' \
    --variables '{"c":"general"}' --init '{"user":"ann"}'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		c, err := newSubscribeClient(args[0], &subscribeOpts)
		if err != nil {
			return err
		}
		return c.run(ctx, cmd.OutOrStdout())
	},
}

func init() {
	f := subscribeCmd.Flags()
	f.StringVarP(&subscribeOpts.query, "query", "q", "", "GraphQL document (required)")
	f.StringVar(&subscribeOpts.variables, "variables", "", "Variables as a JSON object")
	f.StringVar(&subscribeOpts.operationName, "operation-name", "", "Operation to run in a multi-operation document")
	f.StringVarP(&subscribeOpts.protocol, "protocol", "p", subprotocol.NameTransportWS, "Sub-protocol: graphql-transport-ws or graphql-ws")
	f.StringVar(&subscribeOpts.initPayload, "init", "", "connection_init payload as JSON")
	f.StringVar(&subscribeOpts.token, "token", "", "Bearer token sent as authToken in the connection_init payload")
	f.StringArrayVarP(&subscribeOpts.headers, "header", "H", nil, "Extra handshake header (key:value), repeatable")
	f.IntVarP(&subscribeOpts.count, "count", "n", 0, "Stop after this many results (0 for no limit)")
	f.DurationVarP(&subscribeOpts.timeout, "timeout", "t", 10*time.Second, "Connection and acknowledgement timeout")
	_ = subscribeCmd.MarkFlagRequired("query")

	rootCmd.AddCommand(subscribeCmd)
}

// subscribeClient speaks either sub-protocol from the client side.
type subscribeClient struct {
	url      string
	protocol subprotocol.Protocol
	messages clientMessages
	request  graphql.GraphQLRequest
	init     json.RawMessage
	header   http.Header
	count    int
	timeout  time.Duration
}

// frame is a message on the wire.
type frame struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

const operationID = "1"

func newSubscribeClient(url string, opts *subscribeFlags) (*subscribeClient, error) {
	proto, err := subprotocol.Lookup(opts.protocol)
	if err != nil {
		return nil, err
	}

	c := &subscribeClient{
		url:      url,
		protocol: proto,
		messages: clientDialects[proto.Name()],
		request:  graphql.GraphQLRequest{Query: opts.query, OperationName: opts.operationName},
		header:   http.Header{},
		count:    opts.count,
		timeout:  opts.timeout,
	}

	if opts.variables != "" {
		if err := json.Unmarshal([]byte(opts.variables), &c.request.Variables); err != nil {
			return nil, fmt.Errorf("--variables must be a JSON object: %w", err)
		}
	}
	if opts.initPayload != "" {
		if !json.Valid([]byte(opts.initPayload)) {
			return nil, errors.New("--init must be valid JSON")
		}
		c.init = json.RawMessage(opts.initPayload)
	}
	if opts.token != "" {
		payload := map[string]interface{}{}
		if len(c.init) > 0 {
			if err := json.Unmarshal(c.init, &payload); err != nil {
				return nil, errors.New("--token requires --init to be a JSON object")
			}
		}
		payload["authToken"] = opts.token
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		c.init = data
	}
	for _, h := range opts.headers {
		key, value, ok := strings.Cut(h, ":")
		if !ok {
			return nil, fmt.Errorf("invalid header %q, expected key:value", h)
		}
		c.header.Add(strings.TrimSpace(key), strings.TrimSpace(value))
	}
	return c, nil
}

// run connects, runs the operation and writes each result payload to w.
func (c *subscribeClient) run(ctx context.Context, w io.Writer) error {
	dialer := websocket.Dialer{
		Subprotocols:     []string{c.protocol.Name()},
		HandshakeTimeout: c.timeout,
	}
	conn, resp, err := dialer.DialContext(ctx, c.url, c.header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("websocket handshake failed: %s", resp.Status)
		}
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if conn.Subprotocol() != c.protocol.Name() {
		return fmt.Errorf("server did not accept sub-protocol %s", c.protocol.Name())
	}

	done := make(chan struct{})
	defer close(done)

	frames := make(chan frame)
	readErr := make(chan error, 1)
	go func() {
		for {
			var f frame
			if err := conn.ReadJSON(&f); err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- f:
			case <-done:
				return
			}
		}
	}()

	if err := conn.WriteJSON(frame{Type: "connection_init", Payload: c.init}); err != nil {
		return err
	}
	if err := c.awaitAck(ctx, frames, readErr); err != nil {
		return err
	}

	payload, err := json.Marshal(c.request)
	if err != nil {
		return err
	}
	if err := conn.WriteJSON(frame{ID: operationID, Type: c.messages.start, Payload: payload}); err != nil {
		return err
	}

	types := c.protocol.Types()
	received := 0
	failed := false
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteJSON(frame{ID: operationID, Type: c.messages.stop})
			c.closeNormally(conn)
			return nil

		case err := <-readErr:
			return c.readFailure(err)

		case f := <-frames:
			switch {
			case f.Type == "ping" && c.messages.pingPong:
				if err := conn.WriteJSON(frame{Type: "pong", Payload: f.Payload}); err != nil {
					return err
				}
			case f.ID != operationID:
				// keep-alives and frames for other operations
			case f.Type == types.Next:
				if err := writeLine(w, f.Payload); err != nil {
					return err
				}
				received++
				if failedResult(f.Payload) {
					failed = true
				}
				if c.count > 0 && received >= c.count {
					_ = conn.WriteJSON(frame{ID: operationID, Type: c.messages.stop})
					c.closeNormally(conn)
					return outcome(failed)
				}
			case f.Type == types.Error:
				_ = writeLine(w, f.Payload)
				return errOperationFailed
			case f.Type == types.Complete:
				c.closeNormally(conn)
				return outcome(failed)
			}
		}
	}
}

// failedResult reports whether a next payload carries errors and no data,
// which is how servers reject a subscription after accepting the frame.
func failedResult(payload json.RawMessage) bool {
	var result struct {
		Data   json.RawMessage   `json:"data"`
		Errors []json.RawMessage `json:"errors"`
	}
	if err := json.Unmarshal(payload, &result); err != nil {
		return false
	}
	data := bytes.TrimSpace(result.Data)
	return len(result.Errors) > 0 && (len(data) == 0 || bytes.Equal(data, []byte("null")))
}

func outcome(failed bool) error {
	if failed {
		return errOperationFailed
	}
	return nil
}

func (c *subscribeClient) awaitAck(ctx context.Context, frames <-chan frame, readErr <-chan error) error {
	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return errors.New("timed out waiting for connection_ack")
		case err := <-readErr:
			return c.readFailure(err)
		case f := <-frames:
			switch f.Type {
			case "connection_ack":
				return nil
			case "connection_error", "error":
				return fmt.Errorf("connection rejected: %s", f.Payload)
			}
		}
	}
}

func (c *subscribeClient) readFailure(err error) error {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		if closeErr.Code == websocket.CloseNormalClosure {
			return nil
		}
		return fmt.Errorf("connection closed by server: %d %s", closeErr.Code, closeErr.Text)
	}
	return err
}

func (c *subscribeClient) closeNormally(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

func writeLine(w io.Writer, payload json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Compact(&buf, payload); err != nil {
		buf.Reset()
		buf.Write(payload)
	}
	buf.WriteByte('\n')
	_, err := w.Write(buf.Bytes())
	return err
}
