package types

import (
	"encoding/json"
	"math"
	"strconv"
)

// Client -> Server
const (
	IntentCreateRoom   = "create-room"
	IntentJoinRoom     = "join-room"
	IntentLeaveRoom    = "leave-room"
	IntentPlay         = "play"
	IntentPause        = "pause"
	IntentSeek         = "seek"
	IntentSyncRequest  = "sync-request"
	IntentSyncResponse = "sync-response"
)

// Server -> Client
const (
	EventAck            = "ack"
	EventPlay           = "play"
	EventPause          = "pause"
	EventSeek           = "seek"
	EventSyncRequest    = "sync-request"
	EventSyncResponse   = "sync-response"
	EventUserJoined     = "user-joined"
	EventUserLeft       = "user-left"
	EventPromotedToHost = "promoted-to-host"
	EventHostChanged    = "host-changed"
	EventError          = "error"
)

// ClientMessage is the envelope every client frame arrives in.
// ID is echoed back in the matching ack.
type ClientMessage struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ServerMessage is the envelope for acks and notifications.
type ServerMessage struct {
	Type string          `json:"type"` // "ack" | one of the Event* constants
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewServerMessage encodes v as the message payload. A nil v leaves Data empty.
func NewServerMessage(typ string, v any) ServerMessage {
	msg := ServerMessage{Type: typ}
	if v != nil {
		msg.Data, _ = json.Marshal(v)
	}
	return msg
}

// NewAck wraps a reply for the request identified by id.
func NewAck(id string, v any) ServerMessage {
	msg := NewServerMessage(EventAck, v)
	msg.ID = id
	return msg
}

// Seconds is a client-reported media position. Anything that is not a JSON
// number decodes to NaN so the reconciler can coerce it instead of rejecting
// the whole frame.
type Seconds float64

func (s *Seconds) UnmarshalJSON(b []byte) error {
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		*s = Seconds(math.NaN())
		return nil
	}
	*s = Seconds(f)
	return nil
}

type CreateRoomPayload struct {
	Name string `json:"name"`
}

type JoinRoomPayload struct {
	RoomID string `json:"roomId"`
	Name   string `json:"name"`
}

// PlaybackPayload carries play, pause and seek intents.
type PlaybackPayload struct {
	CurrentTime Seconds `json:"currentTime"`
}

type SyncResponsePayload struct {
	IsPlaying   bool    `json:"isPlaying"`
	CurrentTime Seconds `json:"currentTime"`
	RequesterID string  `json:"requesterId,omitempty"`
}

// RoomReply acknowledges create-room and join-room.
type RoomReply struct {
	Success    bool        `json:"success"`
	RoomID     string      `json:"roomId,omitempty"`
	IsHost     bool        `json:"isHost"`
	Users      []User      `json:"users,omitempty"`
	VideoState *VideoState `json:"videoState,omitempty"`
	Version    uint64      `json:"version,omitempty"`
	Error      string      `json:"error,omitempty"`
}

type PlaybackEvent struct {
	CurrentTime float64 `json:"currentTime"`
	TriggeredBy string  `json:"triggeredBy"`
	Version     uint64  `json:"version"`
}

type SyncRequestEvent struct {
	RequesterID string `json:"requesterId"`
}

// SyncResponseEvent is either the host's answer or, when the host did not
// answer in time, the room's own last known state (Fallback).
type SyncResponseEvent struct {
	IsPlaying   bool    `json:"isPlaying"`
	CurrentTime float64 `json:"currentTime"`
	Version     uint64  `json:"version"`
	Fallback    bool    `json:"fallback,omitempty"`
}

type UserJoinedEvent struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Users  []User `json:"users"`
}

type UserLeftEvent struct {
	UserID string `json:"userId"`
	Users  []User `json:"users"`
}

type HostChangedEvent struct {
	NewHostID   string `json:"newHostId"`
	NewHostName string `json:"newHostName"`
}

type ErrorEvent struct {
	Error string `json:"error"`
}
