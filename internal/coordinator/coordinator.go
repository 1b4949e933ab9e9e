package coordinator

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/DoyleJ11/movie-sync/internal/hub"
	"github.com/DoyleJ11/movie-sync/internal/metrics"
	"github.com/DoyleJ11/movie-sync/internal/playback"
	"github.com/DoyleJ11/movie-sync/internal/ratelimit"
	"github.com/DoyleJ11/movie-sync/internal/room"
	"github.com/DoyleJ11/movie-sync/pkg/types"
)

var ErrNotInRoom = errors.New("not in a room")

const (
	errRoomNotFound = "Room not found"
	errCreateFailed = "Failed to create room"
)

// Registry is the part of the hub the coordinator routes through.
type Registry interface {
	Create(ctx context.Context, host room.Seat) (*room.Room, error)
	Lookup(ctx context.Context, code string) (*room.Room, error)
	Count(ctx context.Context) (int, error)
}

type Options struct {
	Limiter *ratelimit.Limiter // nil admits everything
	Logger  *zap.Logger
	Metrics *metrics.Recorder
}

type session struct {
	id     string
	outbox chan<- types.ServerMessage
	evict  func()
	room   *room.Room
}

// Coordinator keeps one session record per live connection and turns
// intents into room messages.
type Coordinator struct {
	registry Registry
	limiter  *ratelimit.Limiter
	log      *zap.Logger
	metrics  *metrics.Recorder

	mu       sync.Mutex
	sessions map[string]*session
}

func New(registry Registry, opts Options) *Coordinator {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Coordinator{
		registry: registry,
		limiter:  opts.Limiter,
		log:      opts.Logger.Named("coordinator"),
		metrics:  opts.Metrics,
		sessions: make(map[string]*session),
	}
}

// Connect registers a connection. evict must close the connection without
// blocking; rooms call it when the outbox backs up.
func (c *Coordinator) Connect(connID string, outbox chan<- types.ServerMessage, evict func()) {
	c.mu.Lock()
	c.sessions[connID] = &session{id: connID, outbox: outbox, evict: evict}
	c.mu.Unlock()
	c.log.Debug("connected", zap.String("conn", connID))
}

// Disconnect leaves the current room (migrating host if needed) and drops
// every per-connection record.
func (c *Coordinator) Disconnect(ctx context.Context, connID string) {
	c.mu.Lock()
	s := c.sessions[connID]
	delete(c.sessions, connID)
	var r *room.Room
	if s != nil {
		r = s.room
	}
	c.mu.Unlock()

	if c.limiter != nil {
		c.limiter.Forget(connID)
	}
	if s == nil {
		return
	}
	if r != nil {
		if err := r.Leave(ctx, connID); err != nil {
			c.log.Warn("leave on disconnect failed", zap.String("conn", connID), zap.Error(err))
		}
	}
	c.log.Debug("disconnected", zap.String("conn", connID))
}

func (c *Coordinator) session(connID string) *session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions[connID]
}

func (c *Coordinator) currentRoom(connID string) *room.Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s := c.sessions[connID]; s != nil {
		return s.room
	}
	return nil
}

func (c *Coordinator) setRoom(connID string, r *room.Room) {
	c.mu.Lock()
	if s := c.sessions[connID]; s != nil {
		s.room = r
	}
	c.mu.Unlock()
}

func (s *session) seat(name string) room.Seat {
	return room.Seat{ConnID: s.id, Name: name, Outbox: s.outbox, Evict: s.evict}
}

func (s *session) reply(ctx context.Context, msg types.ServerMessage) {
	select {
	case s.outbox <- msg:
	case <-ctx.Done():
	}
}

// CreateRoom opens a room with the connection as host. The ack always
// carries success or an error.
func (c *Coordinator) CreateRoom(ctx context.Context, connID, ackID, name string) {
	c.metrics.Intent(ctx, types.IntentCreateRoom)
	s := c.session(connID)
	if s == nil {
		c.log.Warn("create-room from unknown connection", zap.String("conn", connID))
		return
	}
	name = room.SanitizeName(name, room.DefaultHostName)

	c.leaveCurrent(ctx, connID)

	r, err := c.registry.Create(ctx, s.seat(name))
	if err != nil {
		c.log.Error("create room failed", zap.String("conn", connID), zap.Error(err))
		s.reply(ctx, types.NewAck(ackID, types.RoomReply{Error: errCreateFailed}))
		return
	}
	c.setRoom(connID, r)

	s.reply(ctx, types.NewAck(ackID, types.RoomReply{
		Success: true,
		RoomID:  r.Code(),
		IsHost:  true,
		Users:   []types.User{{ID: connID, Name: name, IsHost: true}},
	}))
}

// JoinRoom joins an existing room. Unknown or closed rooms fail the ack and
// never create anything.
func (c *Coordinator) JoinRoom(ctx context.Context, connID, ackID, code, name string) {
	c.metrics.Intent(ctx, types.IntentJoinRoom)
	s := c.session(connID)
	if s == nil {
		c.log.Warn("join-room from unknown connection", zap.String("conn", connID))
		return
	}
	name = room.SanitizeName(name, room.DefaultGuestName)

	r, err := c.registry.Lookup(ctx, code)
	if err != nil {
		c.log.Debug("join of unknown room", zap.String("conn", connID), zap.String("code", code), zap.Error(err))
		s.reply(ctx, types.NewAck(ackID, types.RoomReply{Error: errRoomNotFound}))
		return
	}

	if cur := c.currentRoom(connID); cur != nil && cur != r {
		c.leaveCurrent(ctx, connID)
	}

	// The room sends the success ack itself.
	if _, err := r.Join(ctx, s.seat(name), ackID); err != nil {
		if !errors.Is(err, room.ErrRoomClosed) {
			c.log.Warn("join failed", zap.String("conn", connID), zap.Error(err))
		}
		s.reply(ctx, types.NewAck(ackID, types.RoomReply{Error: errRoomNotFound}))
		return
	}
	c.setRoom(connID, r)
}

// LeaveRoom is fire-and-forget for the client; the error is for callers
// that care.
func (c *Coordinator) LeaveRoom(ctx context.Context, connID string) error {
	c.metrics.Intent(ctx, types.IntentLeaveRoom)
	if c.currentRoom(connID) == nil {
		return ErrNotInRoom
	}
	c.leaveCurrent(ctx, connID)
	return nil
}

func (c *Coordinator) leaveCurrent(ctx context.Context, connID string) {
	r := c.currentRoom(connID)
	if r == nil {
		return
	}
	if err := r.Leave(ctx, connID); err != nil {
		c.log.Warn("leave failed", zap.String("conn", connID), zap.String("room", r.Code()), zap.Error(err))
	}
	c.setRoom(connID, nil)
}

// Playback handles play, pause and seek. Throttled, unknown or roomless
// intents are dropped without a reply.
func (c *Coordinator) Playback(ctx context.Context, connID, intent string, t float64) {
	c.metrics.Intent(ctx, intent)
	action, ok := playback.ParseAction(intent)
	if !ok {
		c.drop(ctx, connID, intent, metrics.DropMalformed)
		return
	}
	if c.limiter != nil && !c.limiter.Allow(connID) {
		c.drop(ctx, connID, intent, metrics.DropRateLimited)
		return
	}
	c.send(ctx, connID, intent, room.Playback{
		ConnID: connID,
		Cmd:    playback.Command{Action: action, Time: t},
	})
}

func (c *Coordinator) RequestSync(ctx context.Context, connID string) {
	c.metrics.Intent(ctx, types.IntentSyncRequest)
	c.send(ctx, connID, types.IntentSyncRequest, room.SyncRequest{ConnID: connID})
}

// RespondSync forwards a host's answer. The room discards it unless connID
// is the current host.
func (c *Coordinator) RespondSync(ctx context.Context, connID string, p types.SyncResponsePayload) {
	c.metrics.Intent(ctx, types.IntentSyncResponse)
	c.send(ctx, connID, types.IntentSyncResponse, room.SyncResponse{
		ConnID:      connID,
		IsPlaying:   p.IsPlaying,
		CurrentTime: float64(p.CurrentTime),
		RequesterID: p.RequesterID,
	})
}

func (c *Coordinator) send(ctx context.Context, connID, intent string, m room.Msg) {
	r := c.currentRoom(connID)
	if r == nil {
		c.drop(ctx, connID, intent, metrics.DropNotInRoom)
		return
	}
	if err := r.Send(ctx, m); err != nil {
		if errors.Is(err, room.ErrRoomClosed) {
			c.setRoom(connID, nil)
			c.drop(ctx, connID, intent, metrics.DropNotInRoom)
			return
		}
		c.log.Warn("room send failed", zap.String("conn", connID), zap.Error(err))
	}
}

func (c *Coordinator) drop(ctx context.Context, connID, intent, reason string) {
	c.metrics.Dropped(ctx, intent, reason)
	c.log.Debug("intent dropped",
		zap.String("conn", connID),
		zap.String("intent", intent),
		zap.String("reason", reason))
}

// Malformed records a fire-and-forget intent whose payload did not decode.
func (c *Coordinator) Malformed(ctx context.Context, connID, intent string) {
	c.metrics.Intent(ctx, intent)
	c.drop(ctx, connID, intent, metrics.DropMalformed)
}

// ReplyError sends an error notification to a connection, for frames that
// could not be decoded.
func (c *Coordinator) ReplyError(ctx context.Context, connID, msg string) {
	if s := c.session(connID); s != nil {
		s.reply(ctx, types.NewServerMessage(types.EventError, types.ErrorEvent{Error: msg}))
	}
}

func (c *Coordinator) RoomCount(ctx context.Context) (int, error) {
	return c.registry.Count(ctx)
}

func (c *Coordinator) SessionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

var _ Registry = (*hub.Hub)(nil)
