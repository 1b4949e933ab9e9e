package playback

import (
	"errors"
	"time"
)

var ErrUnsupportedCommand = errors.New("unsupported command")

type Action string

const (
	ActionPlay  Action = "play"
	ActionPause Action = "pause"
	ActionSeek  Action = "seek"
	ActionSync  Action = "sync" // host sync-response
)

// State is a room's shared timeline. CurrentTime is never negative and
// LastUpdate never moves backwards.
type State struct {
	IsPlaying   bool
	CurrentTime float64
	LastUpdate  time.Time
}

type Command struct {
	Action    Action
	Time      float64
	IsPlaying bool // only read for ActionSync
}

/*
	ActionPlay  -> IsPlaying=true,  CurrentTime=t, LastUpdate=now
	ActionPause -> IsPlaying=false, CurrentTime=t, LastUpdate=now
	ActionSeek  -> IsPlaying kept,  CurrentTime=t, LastUpdate=now
	ActionSync  -> IsPlaying=cmd,   CurrentTime=t, LastUpdate=now
*/

// Apply returns the state after cmd. Invalid times are coerced to 0 and a
// clock that steps backwards is clamped to the previous LastUpdate.
func Apply(s State, cmd Command, now time.Time) (State, error) {
	if now.Before(s.LastUpdate) {
		now = s.LastUpdate
	}
	t := CoerceTime(cmd.Time)
	next := s

	switch cmd.Action {
	case ActionPlay:
		next.IsPlaying = true
	case ActionPause:
		next.IsPlaying = false
	case ActionSeek:
	case ActionSync:
		next.IsPlaying = cmd.IsPlaying
	default:
		return s, ErrUnsupportedCommand
	}

	next.CurrentTime = t
	next.LastUpdate = now
	return next, nil
}
