package subscription

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	ws "github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

func setupBenchServer(b *testing.B) string {
	b.Helper()
	exec, _ := newSchemaExecutor(b)
	h := NewHandler(exec)
	ts := httptest.NewServer(h)
	b.Cleanup(func() {
		_ = h.Shutdown(context.Background())
		ts.Close()
	})
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func benchDial(b *testing.B, ctx context.Context, url string) *ws.Conn {
	conn, resp, err := ws.Dial(ctx, url, &ws.DialOptions{Subprotocols: []string{"graphql-transport-ws"}})
	if err != nil {
		b.Fatalf("failed to connect: %v", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err := wsjson.Write(ctx, conn, map[string]string{"type": "connection_init"}); err != nil {
		b.Fatalf("init: %v", err)
	}
	var ack frame
	if err := wsjson.Read(ctx, conn, &ack); err != nil || ack.Type != "connection_ack" {
		b.Fatalf("ack: %v %+v", err, ack)
	}
	return conn
}

// BenchmarkHandler_ConnectionInit measures upgrade plus connection_init
// acknowledgement.
func BenchmarkHandler_ConnectionInit(b *testing.B) {
	url := setupBenchServer(b)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		conn := benchDial(b, ctx, url)
		_ = conn.Close(ws.StatusNormalClosure, "")
	}
}

// BenchmarkHandler_QueryLatency measures one query round trip on an open
// connection.
func BenchmarkHandler_QueryLatency(b *testing.B) {
	url := setupBenchServer(b)
	ctx := context.Background()
	conn := benchDial(b, ctx, url)
	defer conn.Close(ws.StatusNormalClosure, "")

	msg := map[string]interface{}{
		"id":      "q",
		"type":    "subscribe",
		"payload": map[string]string{"query": "{ hello }"},
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := wsjson.Write(ctx, conn, msg); err != nil {
			b.Fatalf("write error: %v", err)
		}
		// next, then complete
		for j := 0; j < 2; j++ {
			var f frame
			if err := wsjson.Read(ctx, conn, &f); err != nil {
				b.Fatalf("read error: %v", err)
			}
		}
	}
}
