package syncclient

import "github.com/DoyleJ11/movie-sync/pkg/types"

// Event is anything delivered on a subscription channel.
type Event interface{ isEvent() }

// PlaybackEvent is a play, pause or seek made by another member.
type PlaybackEvent struct {
	Action string // types.EventPlay, EventPause or EventSeek
	types.PlaybackEvent
}

// SyncRequested asks the host to answer with SendSyncResponse.
type SyncRequested struct{ types.SyncRequestEvent }

type SyncResponse struct{ types.SyncResponseEvent }

type UserJoined struct{ types.UserJoinedEvent }

type UserLeft struct{ types.UserLeftEvent }

// PromotedToHost means this client now holds host authority.
type PromotedToHost struct{}

type HostChanged struct{ types.HostChangedEvent }

// ServerError carries an error notification for a frame the server could
// not handle.
type ServerError struct{ Message string }

// Rejoined is emitted after a reconnect successfully replayed the cached join.
type Rejoined struct{ Room RoomInfo }

// RejoinFailed is emitted when the cached room is gone after a reconnect.
// The cache is cleared.
type RejoinFailed struct {
	RoomID string
	Err    error
}

// StateChanged reports a transport state transition.
type StateChanged struct {
	Old, New ConnectionState
	Err      error
}

func (PlaybackEvent) isEvent()  {}
func (SyncRequested) isEvent()  {}
func (SyncResponse) isEvent()   {}
func (UserJoined) isEvent()     {}
func (UserLeft) isEvent()       {}
func (PromotedToHost) isEvent() {}
func (HostChanged) isEvent()    {}
func (ServerError) isEvent()    {}
func (Rejoined) isEvent()       {}
func (RejoinFailed) isEvent()   {}
func (StateChanged) isEvent()   {}
