package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
)

// RoomCounter reports how many rooms are live.
type RoomCounter interface {
	RoomCount(ctx context.Context) (int, error)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func Status(rc RoomCounter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := rc.RoomCount(r.Context())
		if err != nil {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, struct {
			Status      string `json:"status"`
			ActiveRooms int    `json:"activeRooms"`
		}{Status: "Movie Sync Server Running", ActiveRooms: n})
	}
}

func Health(rc RoomCounter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := rc.RoomCount(r.Context())
		if err != nil {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, struct {
			Status string `json:"status"`
			Rooms  int    `json:"rooms"`
		}{Status: "ok", Rooms: n})
	}
}

// OriginPatterns turns allowed origins ("http://localhost:3000") into the
// host patterns the websocket accept check matches against. "*" passes
// through unchanged.
func OriginPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if o == "*" {
			out = append(out, o)
			continue
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			out = append(out, u.Host)
			continue
		}
		out = append(out, strings.TrimSuffix(o, "/"))
	}
	return out
}
