package playback

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func TestApply(t *testing.T) {
	cases := []struct {
		name string
		from State
		cmd  Command
		want State
	}{
		{
			name: "play sets playing and time",
			from: State{LastUpdate: t0},
			cmd:  Command{Action: ActionPlay, Time: 12.5},
			want: State{IsPlaying: true, CurrentTime: 12.5, LastUpdate: t0.Add(time.Second)},
		},
		{
			name: "pause clears playing",
			from: State{IsPlaying: true, CurrentTime: 3, LastUpdate: t0},
			cmd:  Command{Action: ActionPause, Time: 4},
			want: State{IsPlaying: false, CurrentTime: 4, LastUpdate: t0.Add(time.Second)},
		},
		{
			name: "seek keeps playing flag",
			from: State{IsPlaying: true, CurrentTime: 3, LastUpdate: t0},
			cmd:  Command{Action: ActionSeek, Time: 90},
			want: State{IsPlaying: true, CurrentTime: 90, LastUpdate: t0.Add(time.Second)},
		},
		{
			name: "seek keeps paused flag",
			from: State{IsPlaying: false, CurrentTime: 3, LastUpdate: t0},
			cmd:  Command{Action: ActionSeek, Time: 1},
			want: State{IsPlaying: false, CurrentTime: 1, LastUpdate: t0.Add(time.Second)},
		},
		{
			name: "sync takes host flag",
			from: State{IsPlaying: false, CurrentTime: 3, LastUpdate: t0},
			cmd:  Command{Action: ActionSync, Time: 7, IsPlaying: true},
			want: State{IsPlaying: true, CurrentTime: 7, LastUpdate: t0.Add(time.Second)},
		},
		{
			name: "negative time coerced",
			from: State{LastUpdate: t0},
			cmd:  Command{Action: ActionPlay, Time: -5},
			want: State{IsPlaying: true, CurrentTime: 0, LastUpdate: t0.Add(time.Second)},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Apply(tc.from, tc.cmd, t0.Add(time.Second))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestApply_UnsupportedCommand(t *testing.T) {
	s := State{CurrentTime: 3, LastUpdate: t0}
	got, err := Apply(s, Command{Action: "rewind"}, t0.Add(time.Second))
	if err == nil || !errors.Is(err, ErrUnsupportedCommand) {
		t.Fatalf("want ErrUnsupportedCommand, got %v", err)
	}
	assert.Equal(t, s, got)
}

func TestApply_ClockNeverGoesBackwards(t *testing.T) {
	s := State{LastUpdate: t0}
	got, err := Apply(s, Command{Action: ActionSeek, Time: 1}, t0.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, t0, got.LastUpdate)
}

func TestCoerceTime(t *testing.T) {
	cases := map[string]struct {
		in   float64
		want float64
	}{
		"valid":    {in: 42.25, want: 42.25},
		"zero":     {in: 0, want: 0},
		"negative": {in: -0.1, want: 0},
		"nan":      {in: math.NaN(), want: 0},
		"+inf":     {in: math.Inf(1), want: 0},
		"-inf":     {in: math.Inf(-1), want: 0},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, CoerceTime(tc.in))
		})
	}
}

func TestPosition(t *testing.T) {
	playing := State{IsPlaying: true, CurrentTime: 10, LastUpdate: t0}
	assert.InDelta(t, 12.5, playing.Position(t0.Add(2500*time.Millisecond)), 1e-9)

	paused := State{IsPlaying: false, CurrentTime: 10, LastUpdate: t0}
	assert.Equal(t, 10.0, paused.Position(t0.Add(time.Hour)))
}

func TestSnapshot(t *testing.T) {
	s := State{IsPlaying: true, CurrentTime: 1.5, LastUpdate: t0}
	snap := s.Snapshot()
	assert.True(t, snap.IsPlaying)
	assert.Equal(t, 1.5, snap.CurrentTime)
	assert.Equal(t, t0.UnixMilli(), snap.LastUpdate)
}

func TestParseAction(t *testing.T) {
	a, ok := ParseAction("pause")
	assert.True(t, ok)
	assert.Equal(t, ActionPause, a)

	_, ok = ParseAction("sync-response")
	assert.False(t, ok)
}
