package playback

import (
	"math"
	"time"

	"github.com/DoyleJ11/movie-sync/pkg/types"
)

func NewState(now time.Time) State {
	return State{LastUpdate: now}
}

// CoerceTime maps anything that is not a finite, non-negative number to 0.
func CoerceTime(t float64) float64 {
	if math.IsNaN(t) || math.IsInf(t, 0) || t < 0 {
		return 0
	}
	return t
}

// ParseAction maps a wire intent to an Action.
func ParseAction(intent string) (Action, bool) {
	switch intent {
	case types.IntentPlay:
		return ActionPlay, true
	case types.IntentPause:
		return ActionPause, true
	case types.IntentSeek:
		return ActionSeek, true
	default:
		return "", false
	}
}

// Position estimates where the timeline is at now, advancing CurrentTime by
// the elapsed wall time while playing.
func (s State) Position(now time.Time) float64 {
	if !s.IsPlaying || now.Before(s.LastUpdate) {
		return s.CurrentTime
	}
	return s.CurrentTime + now.Sub(s.LastUpdate).Seconds()
}

func (s State) Snapshot() types.VideoState {
	return types.VideoState{
		IsPlaying:   s.IsPlaying,
		CurrentTime: s.CurrentTime,
		LastUpdate:  s.LastUpdate.UnixMilli(),
	}
}
