package room

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/DoyleJ11/movie-sync/pkg/types"
)

const (
	DefaultHostName  = "Host"
	DefaultGuestName = "Guest"
	MaxNameLength    = 50
)

// Seat is what a connection brings into a room.
type Seat struct {
	ConnID string
	Name   string
	Outbox chan<- types.ServerMessage
	// Evict closes the connection. It is called from the room goroutine when
	// Outbox is full, so it must not block on the room.
	Evict func()
}

type member struct {
	id     string
	name   string
	outbox chan<- types.ServerMessage
	evict  func()
}

func newMember(s Seat) *member {
	return &member{id: s.ConnID, name: s.Name, outbox: s.Outbox, evict: s.Evict}
}

// SanitizeName normalizes a display name: NFC, at most MaxNameLength runes,
// no angle brackets. An empty result becomes fallback.
func SanitizeName(name, fallback string) string {
	name = norm.NFC.String(name)
	if utf8.RuneCountInString(name) > MaxNameLength {
		name = string([]rune(name)[:MaxNameLength])
	}
	name = strings.Map(func(r rune) rune {
		if r == '<' || r == '>' {
			return -1
		}
		return r
	}, name)
	if name == "" {
		return fallback
	}
	return name
}
