package subprotocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNegotiate(t *testing.T) {
	tests := []struct {
		name    string
		offered []string
		want    string
	}{
		{"transport", []string{"graphql-transport-ws"}, NameTransportWS},
		{"legacy", []string{"graphql-ws"}, NameLegacyWS},
		{"case insensitive", []string{"GraphQL-WS"}, NameLegacyWS},
		{"comma list keeps client order", []string{"graphql-ws, graphql-transport-ws"}, NameLegacyWS},
		{"skips unknown", []string{"chat", "graphql-transport-ws"}, NameTransportWS},
		{"none", []string{"chat"}, ""},
		{"empty", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, ok := Negotiate(tt.offered)
			if tt.want == "" {
				assert.False(t, ok)
				assert.Nil(t, p)
				return
			}
			require.True(t, ok)
			assert.Equal(t, tt.want, p.Name())
		})
	}
}

func TestNegotiate_Restricted(t *testing.T) {
	_, ok := Negotiate([]string{"graphql-ws"}, TransportWS)
	assert.False(t, ok)

	p, ok := Negotiate([]string{"graphql-ws", "graphql-transport-ws"}, TransportWS)
	require.True(t, ok)
	assert.Equal(t, TransportWS, p)
}

func TestLookup(t *testing.T) {
	p, err := Lookup("graphql-ws")
	require.NoError(t, err)
	assert.Equal(t, LegacyWS, p)

	_, err = Lookup("mqtt")
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestOperationType(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		opName  string
		want    string
		wantErr bool
	}{
		{"shorthand", "{ hello }", "", "query", false},
		{"subscription", "subscription { tick }", "", "subscription", false},
		{"named pick", "query A { a } subscription B { b }", "B", "subscription", false},
		{"unknown name", "subscription B { b }", "C", "query", false},
		{"mixed unnamed", "query { a } subscription { b }", "", "query", false},
		{"all subscriptions", "subscription A { a } subscription B { b }", "", "subscription", false},
		{"syntax error", "subscription {", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op, err := OperationType(tt.query, tt.opName)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(op))
		})
	}
}
