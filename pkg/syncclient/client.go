// Package syncclient is a Go client for the movie-sync websocket protocol.
//
// It keeps the last joined room cached and, when the transport drops,
// redials with exponential backoff, replays the join and then asks the host
// for a sync. Server notifications arrive as typed events on channels
// returned by Subscribe.
package syncclient

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/DoyleJ11/movie-sync/pkg/types"
)

// RoomInfo is the result of a successful create or join.
type RoomInfo struct {
	RoomID     string
	IsHost     bool
	Users      []types.User
	VideoState *types.VideoState
	Version    uint64
}

type cachedSession struct {
	roomID string
	name   string
}

type Client struct {
	cfg Config
	log *zap.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	state   ConnectionState
	session *cachedSession
	pending map[string]chan types.RoomReply
	seq     uint64
	version uint64 // newest room version applied
	subs    map[int]chan Event
	nextSub int
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewClient constructs a client. Use DefaultConfig() as a starting point;
// zero durations fall back to its values.
func NewClient(cfg Config) *Client {
	def := DefaultConfig()
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = def.ReconnectMin
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = def.ReconnectMax
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	return &Client{
		cfg:     cfg,
		log:     zap.NewNop(),
		pending: make(map[string]chan types.RoomReply),
		subs:    make(map[int]chan Event),
	}
}

// SetLogger overrides logger (optional).
func (c *Client) SetLogger(l *zap.Logger) {
	if l == nil {
		return
	}
	c.log = l.Named("syncclient")
}

func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns the cached room, if any.
func (c *Client) Session() (roomID, name string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return "", "", false
	}
	return c.session.roomID, c.session.name, true
}

// Subscribe returns a channel of events and a function that ends the
// subscription. Events are dropped for a subscriber whose buffer is full.
func (c *Client) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	c.mu.Unlock()

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if cur, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(cur)
		}
	}
}

// Connect dials the server and starts the read loop.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return newError(ErrorConnection, "already connected", nil)
	}
	c.mu.Unlock()

	if c.cfg.URL == "" {
		return newError(ErrorConnection, "empty URL", nil)
	}

	c.setState(StateConnecting, nil)
	conn, err := c.dial(ctx)
	if err != nil {
		c.setState(StateDisconnected, err)
		return newError(ErrorConnection, "dial failed", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.mu.Lock()
	c.conn = conn
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()
	c.setState(StateConnected, nil)

	go c.run(runCtx, conn, done)
	return nil
}

// Close shuts the client down. Subscription channels are closed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	conn, cancel, done := c.conn, c.cancel, c.done
	c.session = nil
	c.mu.Unlock()

	c.setState(StateClosed, nil)

	var err error
	if conn != nil {
		err = conn.Close(websocket.StatusNormalClosure, "client close")
	}
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	c.failPending()

	c.mu.Lock()
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
	c.mu.Unlock()

	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// CreateRoom opens a room with this client as host and caches it.
func (c *Client) CreateRoom(ctx context.Context, name string) (RoomInfo, error) {
	r, err := c.request(ctx, types.IntentCreateRoom, types.CreateRoomPayload{Name: name})
	if err != nil {
		return RoomInfo{}, err
	}
	if !r.Success {
		return RoomInfo{}, newError(ErrorCreateFailed, r.Error, nil)
	}
	c.remember(r, name)
	return roomInfo(r), nil
}

// JoinRoom joins an existing room and caches it.
func (c *Client) JoinRoom(ctx context.Context, roomID, name string) (RoomInfo, error) {
	r, err := c.request(ctx, types.IntentJoinRoom, types.JoinRoomPayload{RoomID: roomID, Name: name})
	if err != nil {
		return RoomInfo{}, err
	}
	if !r.Success {
		return RoomInfo{}, newError(ErrorRoomNotFound, r.Error, nil)
	}
	c.remember(r, name)
	return roomInfo(r), nil
}

// LeaveRoom forgets the cached room and tells the server.
func (c *Client) LeaveRoom(ctx context.Context) error {
	c.mu.Lock()
	s := c.session
	c.session = nil
	c.mu.Unlock()
	if s == nil {
		return newError(ErrorNotInRoom, "no room joined", nil)
	}
	return c.send(ctx, types.IntentLeaveRoom, nil)
}

func (c *Client) Play(ctx context.Context, t float64) error {
	return c.send(ctx, types.IntentPlay, types.PlaybackPayload{CurrentTime: types.Seconds(t)})
}

func (c *Client) Pause(ctx context.Context, t float64) error {
	return c.send(ctx, types.IntentPause, types.PlaybackPayload{CurrentTime: types.Seconds(t)})
}

func (c *Client) Seek(ctx context.Context, t float64) error {
	return c.send(ctx, types.IntentSeek, types.PlaybackPayload{CurrentTime: types.Seconds(t)})
}

// RequestSync asks the host for its current position.
func (c *Client) RequestSync(ctx context.Context) error {
	return c.send(ctx, types.IntentSyncRequest, nil)
}

// SendSyncResponse answers a SyncRequested event. An empty requesterID
// broadcasts to the whole room.
func (c *Client) SendSyncResponse(ctx context.Context, isPlaying bool, t float64, requesterID string) error {
	return c.send(ctx, types.IntentSyncResponse, types.SyncResponsePayload{
		IsPlaying:   isPlaying,
		CurrentTime: types.Seconds(t),
		RequesterID: requesterID,
	})
}

func (c *Client) remember(r types.RoomReply, name string) {
	c.mu.Lock()
	c.session = &cachedSession{roomID: r.RoomID, name: name}
	c.version = r.Version
	c.mu.Unlock()
}

func roomInfo(r types.RoomReply) RoomInfo {
	return RoomInfo{
		RoomID:     r.RoomID,
		IsHost:     r.IsHost,
		Users:      r.Users,
		VideoState: r.VideoState,
		Version:    r.Version,
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	if c.cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
		defer cancel()
	}
	conn, _, err := websocket.Dial(ctx, c.cfg.URL, &websocket.DialOptions{HTTPHeader: c.cfg.Header})
	return conn, err
}

func (c *Client) connected() (*websocket.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return nil, newError(ErrorClosed, "client closed", nil)
	}
	if c.state != StateConnected || c.conn == nil {
		return nil, newError(ErrorNotConnected, "not connected", nil)
	}
	return c.conn, nil
}

func (c *Client) write(ctx context.Context, conn *websocket.Conn, typ, id string, data any) error {
	msg := types.ClientMessage{Type: typ, ID: id}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return newError(ErrorUnknown, "encode "+typ, err)
		}
		msg.Data = raw
	}
	if c.cfg.WriteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.WriteTimeout)
		defer cancel()
	}
	if err := wsjson.Write(ctx, conn, msg); err != nil {
		return newError(ErrorConnection, "write "+typ, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, typ string, data any) error {
	conn, err := c.connected()
	if err != nil {
		return err
	}
	return c.write(ctx, conn, typ, "", data)
}

func (c *Client) request(ctx context.Context, typ string, data any) (types.RoomReply, error) {
	conn, err := c.connected()
	if err != nil {
		return types.RoomReply{}, err
	}

	reply := make(chan types.RoomReply, 1)
	c.mu.Lock()
	c.seq++
	id := strconv.FormatUint(c.seq, 10)
	c.pending[id] = reply
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.write(ctx, conn, typ, id, data); err != nil {
		return types.RoomReply{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()
	select {
	case r, ok := <-reply:
		if !ok {
			return types.RoomReply{}, newError(ErrorConnection, "connection lost before "+typ+" ack", nil)
		}
		return r, nil
	case <-ctx.Done():
		return types.RoomReply{}, newError(ErrorTimeout, "no ack for "+typ, ctx.Err())
	}
}

// failPending unblocks every request waiting for an ack.
func (c *Client) failPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.pending {
		delete(c.pending, id)
		close(ch)
	}
}

func (c *Client) run(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		err := c.readLoop(ctx, conn)
		if ctx.Err() != nil || c.State() == StateClosed {
			return
		}
		c.log.Info("connection lost", zap.Error(err))
		c.failPending()
		c.setState(StateReconnecting, err)

		next, err := c.reconnect(ctx)
		if err != nil {
			if ctx.Err() == nil {
				c.setState(StateDisconnected, err)
			}
			return
		}
		conn = next
		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		c.setState(StateConnected, nil)

		go c.resume(ctx)
	}
}

func (c *Client) reconnect(ctx context.Context) (*websocket.Conn, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.ReconnectMin
	b.MaxInterval = c.cfg.ReconnectMax
	b.MaxElapsedTime = c.cfg.ReconnectMaxElapsed

	var conn *websocket.Conn
	err := backoff.RetryNotify(func() error {
		if c.State() == StateClosed {
			return backoff.Permanent(newError(ErrorClosed, "client closed", nil))
		}
		cn, err := c.dial(ctx)
		if err != nil {
			return err
		}
		conn = cn
		return nil
	}, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
		c.log.Debug("reconnect attempt failed", zap.Error(err), zap.Duration("retry_in", next))
	})
	return conn, err
}

// resume replays the cached join on a fresh transport, then resyncs.
func (c *Client) resume(ctx context.Context) {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s == nil {
		return
	}

	info, err := c.JoinRoom(ctx, s.roomID, s.name)
	if err != nil {
		if !IsCode(err, ErrorRoomNotFound) {
			// transport trouble; the next reconnect tries again
			c.log.Debug("rejoin interrupted", zap.Error(err))
			return
		}
		c.mu.Lock()
		if c.session == s {
			c.session = nil
		}
		c.mu.Unlock()
		c.log.Info("rejoin failed", zap.String("room", s.roomID), zap.Error(err))
		c.emit(RejoinFailed{RoomID: s.roomID, Err: err})
		return
	}
	c.emit(Rejoined{Room: info})

	select {
	case <-time.After(c.cfg.ResyncDelay):
	case <-ctx.Done():
		return
	}
	if err := c.RequestSync(ctx); err != nil {
		c.log.Debug("resync request failed", zap.Error(err))
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		var msg types.ServerMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			return err
		}
		c.handle(msg)
	}
}

func (c *Client) handle(msg types.ServerMessage) {
	switch msg.Type {
	case types.EventAck:
		var r types.RoomReply
		if err := json.Unmarshal(msg.Data, &r); err != nil {
			c.log.Warn("bad ack", zap.Error(err))
			return
		}
		c.mu.Lock()
		ch := c.pending[msg.ID]
		delete(c.pending, msg.ID)
		c.mu.Unlock()
		if ch != nil {
			ch <- r
		}

	case types.EventPlay, types.EventPause, types.EventSeek:
		var ev types.PlaybackEvent
		if decode(c, msg, &ev) && c.acceptVersion(ev.Version, false) {
			c.emit(PlaybackEvent{Action: msg.Type, PlaybackEvent: ev})
		}

	case types.EventSyncResponse:
		var ev types.SyncResponseEvent
		if decode(c, msg, &ev) && c.acceptVersion(ev.Version, ev.Fallback) {
			c.emit(SyncResponse{ev})
		}

	case types.EventSyncRequest:
		var ev types.SyncRequestEvent
		if decode(c, msg, &ev) {
			c.emit(SyncRequested{ev})
		}

	case types.EventUserJoined:
		var ev types.UserJoinedEvent
		if decode(c, msg, &ev) {
			c.emit(UserJoined{ev})
		}

	case types.EventUserLeft:
		var ev types.UserLeftEvent
		if decode(c, msg, &ev) {
			c.emit(UserLeft{ev})
		}

	case types.EventPromotedToHost:
		c.emit(PromotedToHost{})

	case types.EventHostChanged:
		var ev types.HostChangedEvent
		if decode(c, msg, &ev) {
			c.emit(HostChanged{ev})
		}

	case types.EventError:
		var ev types.ErrorEvent
		if decode(c, msg, &ev) {
			c.emit(ServerError{Message: ev.Error})
		}

	default:
		c.log.Debug("unknown event", zap.String("type", msg.Type))
	}
}

func decode(c *Client, msg types.ServerMessage, v any) bool {
	if err := json.Unmarshal(msg.Data, v); err != nil {
		c.log.Warn("bad event payload", zap.String("type", msg.Type), zap.Error(err))
		return false
	}
	return true
}

// acceptVersion drops state events that are not newer than the last one
// applied. Fallback sync responses always pass.
func (c *Client) acceptVersion(v uint64, force bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !force && v <= c.version {
		return false
	}
	if v > c.version {
		c.version = v
	}
	return true
}

func (c *Client) emit(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- ev:
		default:
			c.log.Debug("subscriber full, event dropped")
		}
	}
}

func (c *Client) setState(next ConnectionState, err error) {
	c.mu.Lock()
	old := c.state
	if old == next || old == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = next
	c.mu.Unlock()
	c.emit(StateChanged{Old: old, New: next, Err: err})
}

// dropConnection kills the transport without closing the client, as a
// network failure would.
func (c *Client) dropConnection() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		_ = conn.CloseNow()
	}
}
