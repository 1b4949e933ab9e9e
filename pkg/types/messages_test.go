package types

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeconds_DecodesNonNumbersAsNaN(t *testing.T) {
	cases := map[string]struct {
		raw  string
		want float64
		nan  bool
	}{
		"number":   {raw: `{"currentTime": 12.5}`, want: 12.5},
		"negative": {raw: `{"currentTime": -3}`, want: -3},
		"string":   {raw: `{"currentTime": "12.5"}`, nan: true},
		"null":     {raw: `{"currentTime": null}`, nan: true},
		"bool":     {raw: `{"currentTime": true}`, nan: true},
		"missing":  {raw: `{}`, want: 0},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			var p PlaybackPayload
			require.NoError(t, json.Unmarshal([]byte(tc.raw), &p))
			if tc.nan {
				assert.True(t, math.IsNaN(float64(p.CurrentTime)))
				return
			}
			assert.Equal(t, tc.want, float64(p.CurrentTime))
		})
	}
}

func TestNewAck_EchoesID(t *testing.T) {
	msg := NewAck("7", RoomReply{Success: false, Error: "Room not found"})
	assert.Equal(t, EventAck, msg.Type)
	assert.Equal(t, "7", msg.ID)
	assert.JSONEq(t, `{"success":false,"isHost":false,"error":"Room not found"}`, string(msg.Data))
}

func TestNewServerMessage_NilPayload(t *testing.T) {
	msg := NewServerMessage(EventPromotedToHost, nil)
	b, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"promoted-to-host"}`, string(b))
}
