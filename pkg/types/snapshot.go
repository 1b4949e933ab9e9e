package types

// User is one entry of the member list sent with every membership change.
// The list is always a full snapshot in join order, never a diff.
type User struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	IsHost bool   `json:"isHost"`
}

// VideoState is the shared playback state a room converges toward.
// LastUpdate is milliseconds since the Unix epoch.
type VideoState struct {
	IsPlaying   bool    `json:"isPlaying"`
	CurrentTime float64 `json:"currentTime"`
	LastUpdate  int64   `json:"lastUpdate"`
}
