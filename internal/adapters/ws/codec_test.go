package ws

import (
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/ChatRelay/internal/core"
	"github.com/dkeye/ChatRelay/internal/domain"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		kind    int
		data    string
		want    core.InboundEvent
		wantErr error
	}{
		{name: "join", kind: websocket.TextMessage, data: `{"type":"Join","token":"abc"}`, want: core.JoinRequest{Token: "abc"}},
		{name: "message", kind: websocket.TextMessage, data: `{"type":"Message","content":"hi"}`, want: core.MessageRequest{Content: "hi"}},
		{name: "binary frame carrying json", kind: websocket.BinaryMessage, data: `{"type":"Message","content":"hi"}`, wantErr: core.ErrUnexpectedFrameKind},
		{name: "empty content is still well formed", kind: websocket.TextMessage, data: `{"type":"Message","content":""}`, want: core.MessageRequest{Content: ""}},
		{name: "not json", kind: websocket.TextMessage, data: `hello`, wantErr: core.ErrMalformedPayload},
		{name: "unknown type", kind: websocket.TextMessage, data: `{"type":"Kick"}`, wantErr: core.ErrMalformedPayload},
		{name: "missing type", kind: websocket.TextMessage, data: `{"token":"abc"}`, wantErr: core.ErrMalformedPayload},
		{name: "join without token", kind: websocket.TextMessage, data: `{"type":"Join"}`, wantErr: core.ErrMalformedPayload},
		{name: "message without content", kind: websocket.TextMessage, data: `{"type":"Message"}`, wantErr: core.ErrMalformedPayload},
		{name: "ping frame", kind: websocket.PingMessage, data: ``, wantErr: core.ErrUnexpectedFrameKind},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.kind, []byte(tt.data))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, core.KindProtocol, core.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncode_WireShape(t *testing.T) {
	ts := time.Date(2024, 3, 9, 8, 30, 0, 0, time.UTC)
	user := domain.User{ID: "cc36a1f5-eb49-4552-b159-ce3040c519e0", Username: "alice"}

	tests := []struct {
		name string
		ev   core.OutboundEvent
		want string
	}{
		{
			name: "join",
			ev:   core.UserJoined{User: user},
			want: `{"type":"Join","user":{"id":"cc36a1f5-eb49-4552-b159-ce3040c519e0","username":"alice"}}`,
		},
		{
			name: "leave",
			ev:   core.UserLeft{User: user},
			want: `{"type":"Leave","user":{"id":"cc36a1f5-eb49-4552-b159-ce3040c519e0","username":"alice"}}`,
		},
		{
			name: "message",
			ev:   core.ChatMessage{Username: "bob", Content: "hi"},
			want: `{"type":"Message","username":"bob","content":"hi"}`,
		},
		{
			name: "empty history keeps arrays",
			ev:   core.History{},
			want: `{"type":"History","messages":[],"users":[]}`,
		},
		{
			name: "history",
			ev: core.History{
				Messages: []domain.HistoryMessage{{UserID: user.ID, Username: "alice", Content: "yo", Timestamp: ts}},
				Users:    []domain.User{user},
			},
			want: `{"type":"History","messages":[{"user_id":"cc36a1f5-eb49-4552-b159-ce3040c519e0","username":"alice","content":"yo","timestamp":"2024-03-09T08:30:00Z"}],"users":[{"id":"cc36a1f5-eb49-4552-b159-ce3040c519e0","username":"alice"}]}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Encode(tt.ev)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(data))

			back, err := DecodeOutbound(data)
			require.NoError(t, err)
			if h, ok := tt.ev.(core.History); ok && h.Messages == nil {
				assert.Equal(t, core.History{Messages: []domain.HistoryMessage{}, Users: []domain.User{}}, back)
				return
			}
			assert.Equal(t, tt.ev, back)
		})
	}
}

func TestEncodeInbound_IsDecodable(t *testing.T) {
	for _, ev := range []core.InboundEvent{core.JoinRequest{Token: "t"}, core.MessageRequest{Content: "c"}} {
		data, err := EncodeInbound(ev)
		require.NoError(t, err)
		got, err := Decode(websocket.TextMessage, data)
		require.NoError(t, err)
		assert.Equal(t, ev, got)
	}
}

func TestDecodeOutbound_RejectsUnknown(t *testing.T) {
	_, err := DecodeOutbound([]byte(`{"type":"Join"}`))
	assert.ErrorIs(t, err, core.ErrMalformedPayload)

	raw, _ := json.Marshal(map[string]string{"type": "Shrug"})
	_, err = DecodeOutbound(raw)
	assert.ErrorIs(t, err, core.ErrMalformedPayload)
}
