package game

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeMessage(t *testing.T) {
	tests := []struct {
		raw     string
		want    Message
		wantErr bool
	}{
		{`{"chess":"invite"}`, Message{Kind: KindInvite}, false},
		{`{"chess":"accept"}`, Message{Kind: KindAccept}, false},
		{`{"chess":"move","u":"e2e4"}`, Message{Kind: KindMove, Move: "e2e4"}, false},
		{`{"chess":"move","u":"e7e8q","n":12}`, Message{Kind: KindMove, Move: "e7e8q", Ply: 12}, false},
		{`{"chess":"resign","extra":true}`, Message{Kind: KindResign}, false},
		{`{"chess":"draw"}`, Message{}, true},
		{`{"chess":"move"}`, Message{}, true},
		{`{"chess":"move","u":"e2e4","n":-1}`, Message{}, true},
		{`{"u":"e2e4"}`, Message{}, true},
		{`[]`, Message{}, true},
	}

	for _, tt := range tests {
		got, err := DecodeMessage([]byte(tt.raw))
		if tt.wantErr {
			require.ErrorIs(t, err, ErrMalformedMessage, tt.raw)
			continue
		}
		require.NoError(t, err, tt.raw)
		require.Equal(t, tt.want, got, tt.raw)
	}
}

func TestMessageWireFormat(t *testing.T) {
	raw, err := json.Marshal(Message{Kind: KindInvite})
	require.NoError(t, err)
	require.Equal(t, `{"chess":"invite"}`, string(raw))

	raw, err = json.Marshal(Message{Kind: KindMove, Move: "g1f3", Ply: 3})
	require.NoError(t, err)
	require.Equal(t, `{"chess":"move","u":"g1f3","n":3}`, string(raw))
}
