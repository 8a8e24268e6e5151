package subscription

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/gqlws/pkg/graphql"
	"github.com/getmockd/gqlws/pkg/subprotocol"
)

func TestConnection_ErrorPayload(t *testing.T) {
	tests := []struct {
		protocol subprotocol.Protocol
		wantType string
		want     string
	}{
		{subprotocol.TransportWS, "error", `[{"message":"bad field"}]`},
		{subprotocol.LegacyWS, "error", `{"message":"bad field"}`},
	}

	for _, tt := range tests {
		t.Run(tt.protocol.Name(), func(t *testing.T) {
			sock := &fakeSocket{}
			conn := NewConnection(context.Background(), "conn-err", tt.protocol, sock, nil, nil)

			conn.Error("1", []graphql.GraphQLError{{Message: "bad field"}})

			frames := sock.framesFor("1")
			require.Len(t, frames, 1)
			assert.Equal(t, tt.wantType, frames[0].Type)
			assert.JSONEq(t, tt.want, string(frames[0].Payload))
		})
	}
}
