package hub

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/movie-sync/internal/room"
	"github.com/DoyleJ11/movie-sync/pkg/types"
)

func seat(id string) room.Seat {
	return room.Seat{ConnID: id, Name: id, Outbox: make(chan types.ServerMessage, 8), Evict: func() {}}
}

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewHub(ctx, Options{})
}

func TestGenerateCode_Shape(t *testing.T) {
	re := regexp.MustCompile(`^[A-Z0-9]{8}$`)
	for i := 0; i < 100; i++ {
		code, err := GenerateCode()
		require.NoError(t, err)
		assert.Regexp(t, re, code)
	}
}

func TestHub_Create_Lookup_SamePointer(t *testing.T) {
	h := newTestHub(t)
	ctx := context.Background()

	r1, err := h.Create(ctx, seat("A"))
	require.NoError(t, err)
	assert.Len(t, r1.Code(), CodeLength)

	r2, err := h.Lookup(ctx, r1.Code())
	require.NoError(t, err)
	if r1 != r2 {
		t.Fatalf("expected same room pointer")
	}
}

func TestHub_LookupIsCaseInsensitive(t *testing.T) {
	h := newTestHub(t)
	h.codeGen = func() (string, error) { return "ABC12345", nil }
	ctx := context.Background()

	r1, err := h.Create(ctx, seat("A"))
	require.NoError(t, err)

	r2, err := h.Lookup(ctx, "abc12345")
	require.NoError(t, err)
	assert.Same(t, r1, r2)
}

func TestHub_LookupUnknownDoesNotCreate(t *testing.T) {
	h := newTestHub(t)
	ctx := context.Background()

	_, err := h.Lookup(ctx, "NOPE0000")
	assert.ErrorIs(t, err, ErrRoomNotFound)

	n, err := h.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestHub_CreateRetriesOnCollision(t *testing.T) {
	h := newTestHub(t)
	var mu sync.Mutex
	codes := []string{"AAAAAAAA", "AAAAAAAA", "AAAAAAAA", "BBBBBBBB"}
	h.codeGen = func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		c := codes[0]
		codes = codes[1:]
		return c, nil
	}
	ctx := context.Background()

	r1, err := h.Create(ctx, seat("A"))
	require.NoError(t, err)
	r2, err := h.Create(ctx, seat("B"))
	require.NoError(t, err)

	assert.Equal(t, "AAAAAAAA", r1.Code())
	assert.Equal(t, "BBBBBBBB", r2.Code())

	rooms, err := h.Rooms(ctx)
	require.NoError(t, err)
	assert.Len(t, rooms, 2)
}

func TestHub_RoomRemovedWhenLastMemberLeaves(t *testing.T) {
	h := newTestHub(t)
	ctx := context.Background()

	r, err := h.Create(ctx, seat("A"))
	require.NoError(t, err)
	require.NoError(t, r.Leave(ctx, "A"))

	require.Eventually(t, func() bool {
		_, err := h.Lookup(ctx, r.Code())
		return err != nil
	}, time.Second, 10*time.Millisecond)

	n, err := h.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestHub_Shutdown(t *testing.T) {
	h := newTestHub(t)
	ctx := context.Background()

	r, err := h.Create(ctx, seat("A"))
	require.NoError(t, err)

	sctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, h.Shutdown(sctx))

	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatalf("room still running after hub shutdown")
	}

	_, err = h.Create(ctx, seat("B"))
	assert.ErrorIs(t, err, ErrHubClosed)
}
