package coordinator

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/movie-sync/internal/hub"
	"github.com/DoyleJ11/movie-sync/internal/ratelimit"
	"github.com/DoyleJ11/movie-sync/pkg/types"
)

const within = 300 * time.Millisecond

type client struct {
	id  string
	out chan types.ServerMessage
}

func setup(t *testing.T, limiter *ratelimit.Limiter) (*Coordinator, *hub.Hub) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	h := hub.NewHub(ctx, hub.Options{})
	return New(h, Options{Limiter: limiter}), h
}

func connect(c *Coordinator, id string) *client {
	cl := &client{id: id, out: make(chan types.ServerMessage, 64)}
	c.Connect(id, cl.out, func() {})
	return cl
}

func (cl *client) next(t *testing.T) types.ServerMessage {
	t.Helper()
	select {
	case m := <-cl.out:
		return m
	case <-time.After(within):
		t.Fatalf("%s: timed out waiting for message", cl.id)
		return types.ServerMessage{}
	}
}

func (cl *client) nextOf(t *testing.T, typ string) types.ServerMessage {
	t.Helper()
	for {
		m := cl.next(t)
		if m.Type == typ {
			return m
		}
	}
}

func (cl *client) none(t *testing.T) {
	t.Helper()
	select {
	case m := <-cl.out:
		t.Fatalf("%s: unexpected %s %s", cl.id, m.Type, m.Data)
	case <-time.After(50 * time.Millisecond):
	}
}

func roomReply(t *testing.T, m types.ServerMessage) types.RoomReply {
	t.Helper()
	require.Equal(t, types.EventAck, m.Type)
	var r types.RoomReply
	require.NoError(t, json.Unmarshal(m.Data, &r))
	return r
}

func create(t *testing.T, c *Coordinator, cl *client, name string) string {
	t.Helper()
	c.CreateRoom(context.Background(), cl.id, "c-"+cl.id, name)
	r := roomReply(t, cl.next(t))
	require.True(t, r.Success)
	return r.RoomID
}

func join(t *testing.T, c *Coordinator, cl *client, code, name string) types.RoomReply {
	t.Helper()
	c.JoinRoom(context.Background(), cl.id, "j-"+cl.id, code, name)
	return roomReply(t, cl.next(t))
}

func TestScenario_CreateJoinPlaySync(t *testing.T) {
	c, _ := setup(t, nil)
	ctx := context.Background()
	a := connect(c, "A")
	b := connect(c, "B")

	code := create(t, c, a, "alice")
	assert.Regexp(t, `^[A-Z0-9]{8}$`, code)

	rb := join(t, c, b, code, "bob")
	assert.True(t, rb.Success)
	assert.False(t, rb.IsHost)
	assert.Len(t, rb.Users, 2)
	require.NotNil(t, rb.VideoState)
	assert.Equal(t, types.EventUserJoined, a.next(t).Type)

	c.Playback(ctx, "A", types.IntentPlay, 12.5)
	m := b.next(t)
	require.Equal(t, types.EventPlay, m.Type)
	var pe types.PlaybackEvent
	require.NoError(t, json.Unmarshal(m.Data, &pe))
	assert.Equal(t, 12.5, pe.CurrentTime)
	assert.Equal(t, "A", pe.TriggeredBy)
	a.none(t)

	c.RequestSync(ctx, "B")
	m = a.next(t)
	require.Equal(t, types.EventSyncRequest, m.Type)
	var sr types.SyncRequestEvent
	require.NoError(t, json.Unmarshal(m.Data, &sr))
	assert.Equal(t, "B", sr.RequesterID)
	b.none(t)
}

func TestJoinUnknownRoomFailsWithoutCreating(t *testing.T) {
	c, _ := setup(t, nil)
	b := connect(c, "B")

	r := join(t, c, b, "NOPE1234", "bob")
	assert.False(t, r.Success)
	assert.Equal(t, "Room not found", r.Error)

	n, err := c.RoomCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestJoinIsCaseInsensitive(t *testing.T) {
	c, _ := setup(t, nil)
	a := connect(c, "A")
	b := connect(c, "B")

	code := create(t, c, a, "alice")
	r := join(t, c, b, strings.ToLower(code), "bob")
	assert.True(t, r.Success)
	assert.Equal(t, code, r.RoomID)
}

func TestRateLimitCapsBroadcasts(t *testing.T) {
	c, _ := setup(t, ratelimit.New(time.Minute, 10))
	ctx := context.Background()
	a := connect(c, "A")
	b := connect(c, "B")

	code := create(t, c, a, "alice")
	join(t, c, b, code, "bob")

	for i := 0; i < 15; i++ {
		c.Playback(ctx, "A", types.IntentSeek, float64(i))
	}

	got := 0
	for {
		select {
		case m := <-b.out:
			if m.Type == types.EventSeek {
				got++
			}
			continue
		case <-time.After(100 * time.Millisecond):
		}
		break
	}
	assert.Equal(t, 10, got)
}

func TestDisconnectHostMigratesThenDeletesRoom(t *testing.T) {
	limiter := ratelimit.New(time.Second, 10)
	c, _ := setup(t, limiter)
	ctx := context.Background()
	a := connect(c, "A")
	b := connect(c, "B")

	code := create(t, c, a, "alice")
	join(t, c, b, code, "bob")
	c.Playback(ctx, "A", types.IntentPause, 3)

	c.Disconnect(ctx, "A")
	assert.Equal(t, types.EventPromotedToHost, b.nextOf(t, types.EventPromotedToHost).Type)
	assert.Equal(t, 0, limiter.Len())

	// B is host now and may answer sync
	c.RespondSync(ctx, "B", types.SyncResponsePayload{IsPlaying: true, CurrentTime: 8})

	c.Disconnect(ctx, "B")
	require.Eventually(t, func() bool {
		n, err := c.RoomCount(ctx)
		return err == nil && n == 0
	}, time.Second, 10*time.Millisecond)

	c2 := connect(c, "C")
	r := join(t, c, c2, code, "carol")
	assert.False(t, r.Success)
	assert.Equal(t, 1, c.SessionCount())
}

func TestJoiningAnotherRoomLeavesTheFirst(t *testing.T) {
	c, _ := setup(t, nil)
	a := connect(c, "A")
	b := connect(c, "B")
	d := connect(c, "D")

	codeA := create(t, c, a, "alice")
	codeD := create(t, c, d, "dave")
	join(t, c, b, codeA, "bob")
	a.nextOf(t, types.EventUserJoined)

	r := join(t, c, b, codeD, "bob")
	require.True(t, r.Success)

	left := a.nextOf(t, types.EventUserLeft)
	var ev types.UserLeftEvent
	require.NoError(t, json.Unmarshal(left.Data, &ev))
	assert.Equal(t, "B", ev.UserID)
	assert.Len(t, ev.Users, 1)
}

func TestLeaveRoom(t *testing.T) {
	c, _ := setup(t, nil)
	ctx := context.Background()
	a := connect(c, "A")

	assert.ErrorIs(t, c.LeaveRoom(ctx, "A"), ErrNotInRoom)

	create(t, c, a, "alice")
	require.NoError(t, c.LeaveRoom(ctx, "A"))
	require.Eventually(t, func() bool {
		n, _ := c.RoomCount(ctx)
		return n == 0
	}, time.Second, 10*time.Millisecond)

	// playback outside a room is ignored
	c.Playback(ctx, "A", types.IntentPlay, 1)
	a.none(t)
}

func TestNamesAreSanitized(t *testing.T) {
	c, _ := setup(t, nil)
	a := connect(c, "A")
	b := connect(c, "B")

	c.CreateRoom(context.Background(), "A", "1", "")
	ra := roomReply(t, a.next(t))
	require.True(t, ra.Success)
	assert.Equal(t, "Host", ra.Users[0].Name)

	rb := join(t, c, b, ra.RoomID, "<script>")
	require.True(t, rb.Success)
	assert.Equal(t, "script", rb.Users[1].Name)
}

func TestUnknownPlaybackIntentDropped(t *testing.T) {
	c, _ := setup(t, nil)
	a := connect(c, "A")
	b := connect(c, "B")
	code := create(t, c, a, "alice")
	join(t, c, b, code, "bob")
	a.nextOf(t, types.EventUserJoined)

	c.Playback(context.Background(), "A", "rewind", 3)
	b.none(t)
}
