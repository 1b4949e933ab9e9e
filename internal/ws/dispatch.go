package ws

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/DoyleJ11/movie-sync/internal/coordinator"
	"github.com/DoyleJ11/movie-sync/pkg/types"
)

var errUnknownType = errors.New("unknown type")

// payload decodes raw into T. A missing payload is the zero value.
func payload[T any](raw json.RawMessage) (T, bool) {
	var v T
	if len(raw) == 0 {
		return v, true
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, false
	}
	return v, true
}

// dispatch routes one client frame. Only an unknown type is reported back;
// a malformed payload on a request/response intent falls through to the
// normal failure ack and on a fire-and-forget intent is dropped.
func dispatch(ctx context.Context, c *coordinator.Coordinator, connID string, m types.ClientMessage) error {
	switch m.Type {
	case types.IntentCreateRoom:
		p, _ := payload[types.CreateRoomPayload](m.Data)
		c.CreateRoom(ctx, connID, m.ID, p.Name)

	case types.IntentJoinRoom:
		p, _ := payload[types.JoinRoomPayload](m.Data)
		c.JoinRoom(ctx, connID, m.ID, p.RoomID, p.Name)

	case types.IntentLeaveRoom:
		_ = c.LeaveRoom(ctx, connID)

	case types.IntentPlay, types.IntentPause, types.IntentSeek:
		p, ok := payload[types.PlaybackPayload](m.Data)
		if !ok {
			c.Malformed(ctx, connID, m.Type)
			return nil
		}
		c.Playback(ctx, connID, m.Type, float64(p.CurrentTime))

	case types.IntentSyncRequest:
		c.RequestSync(ctx, connID)

	case types.IntentSyncResponse:
		p, ok := payload[types.SyncResponsePayload](m.Data)
		if !ok {
			c.Malformed(ctx, connID, m.Type)
			return nil
		}
		c.RespondSync(ctx, connID, p)

	default:
		return errUnknownType
	}
	return nil
}
