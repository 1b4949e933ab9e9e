package room

import (
	"context"
	"errors"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/movie-sync/internal/metrics"
	"github.com/DoyleJ11/movie-sync/internal/playback"
	"github.com/DoyleJ11/movie-sync/pkg/types"
)

var ErrRoomClosed = errors.New("room closed")

type CloseReason string

const (
	CloseEmpty    CloseReason = "empty"
	CloseReaped   CloseReason = "reaped"
	CloseShutdown CloseReason = "shutdown"
)

type Msg interface{ isRoomMsg() }

// Join adds a member. The room itself delivers the ack (tagged AckID) to the
// seat's outbox so it always precedes later broadcasts.
type Join struct {
	Seat  Seat
	AckID string
	Reply chan JoinResult
}

func (Join) isRoomMsg() {}

type Leave struct {
	ConnID string
	Reply  chan struct{} // optional
}

func (Leave) isRoomMsg() {}

type Playback struct {
	ConnID string
	Cmd    playback.Command
}

func (Playback) isRoomMsg() {}

type SyncRequest struct{ ConnID string }

func (SyncRequest) isRoomMsg() {}

type SyncResponse struct {
	ConnID      string
	IsPlaying   bool
	CurrentTime float64
	RequesterID string
}

func (SyncResponse) isRoomMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isRoomMsg() {}

// CloseIfIdle closes the room when it has no members and its playback state
// has not changed for longer than TTL. Reply reports whether it closed.
type CloseIfIdle struct {
	TTL   time.Duration
	Reply chan bool
}

func (CloseIfIdle) isRoomMsg() {}

type Shutdown struct{}

func (Shutdown) isRoomMsg() {}

type syncTimeout struct {
	RequesterID string
	Gen         uint64
}

func (syncTimeout) isRoomMsg() {}

type JoinResult struct {
	IsHost  bool
	Users   []types.User
	State   types.VideoState
	Version uint64
}

type View struct {
	Code    string
	HostID  string
	Users   []types.User
	State   playback.State
	Version uint64
	Pending int
}

type Options struct {
	Clock       func() time.Time
	SyncTimeout time.Duration // 0 disables the fallback reply
	// OnClose runs on the room goroutine once the loop has stopped, just
	// before Done is closed.
	OnClose func(r *Room, reason CloseReason)
	Logger  *zap.Logger
	Metrics *metrics.Recorder
}

type Room struct {
	code  string
	inbox chan Msg
	done  chan struct{}
	opts  Options
	log   *zap.Logger

	members []*member // join order; members[0] is next in line for host
	hostID  string
	state   playback.State
	version uint64

	pending map[string]uint64 // requester -> timer generation
	gen     uint64

	evictions []string
	closing   CloseReason

	ctx    context.Context
	cancel context.CancelFunc
}

// New starts a room seated with host. A nil host leaves the room empty; the
// first joiner then takes host.
func New(parent context.Context, code string, host *Seat, opts Options) *Room {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)

	r := &Room{
		code:    code,
		inbox:   make(chan Msg, 64),
		done:    make(chan struct{}),
		opts:    opts,
		log:     opts.Logger.Named("room").With(zap.String("room", code)),
		state:   playback.NewState(opts.Clock()),
		pending: make(map[string]uint64),
		ctx:     ctx,
		cancel:  cancel,
	}
	if host != nil {
		r.members = append(r.members, newMember(*host))
		r.hostID = host.ConnID
	}

	go r.loop()
	return r
}

func (r *Room) Code() string { return r.code }

// Done is closed once the room has stopped.
func (r *Room) Done() <-chan struct{} { return r.done }

func (r *Room) loop() {
	for {
		select {
		case <-r.ctx.Done():
			r.shutdown(CloseShutdown)
			return

		case m := <-r.inbox:
			r.handle(m)
			r.drainEvictions()
			if r.closing != "" {
				r.shutdown(r.closing)
				return
			}
		}
	}
}

func (r *Room) handle(m Msg) {
	switch msg := m.(type) {
	case Join:
		res := r.join(msg.Seat, msg.AckID)
		msg.Reply <- res

	case Leave:
		r.remove(msg.ConnID)
		if msg.Reply != nil {
			msg.Reply <- struct{}{}
		}

	case Playback:
		r.applyPlayback(msg)

	case SyncRequest:
		r.routeSyncRequest(msg.ConnID)

	case SyncResponse:
		r.applySyncResponse(msg)

	case syncTimeout:
		r.expireSyncRequest(msg)

	case GetState:
		msg.Reply <- View{
			Code:    r.code,
			HostID:  r.hostID,
			Users:   r.users(),
			State:   r.state,
			Version: r.version,
			Pending: len(r.pending),
		}

	case CloseIfIdle:
		idle := len(r.members) == 0 && r.opts.Clock().Sub(r.state.LastUpdate) > msg.TTL
		msg.Reply <- idle
		if idle {
			r.closing = CloseReaped
		}

	case Shutdown:
		r.closing = CloseShutdown
	}
}

func (r *Room) join(s Seat, ackID string) JoinResult {
	if m := r.find(s.ConnID); m != nil {
		// same connection joining again: refresh, don't duplicate
		m.name, m.outbox, m.evict = s.Name, s.Outbox, s.Evict
	} else {
		r.members = append(r.members, newMember(s))
		if r.hostID == "" {
			r.hostID = s.ConnID
		}
	}

	res := JoinResult{
		IsHost:  s.ConnID == r.hostID,
		Users:   r.users(),
		State:   r.state.Snapshot(),
		Version: r.version,
	}
	vs := res.State
	r.deliver(r.find(s.ConnID), types.NewAck(ackID, types.RoomReply{
		Success:    true,
		RoomID:     r.code,
		IsHost:     res.IsHost,
		Users:      res.Users,
		VideoState: &vs,
		Version:    res.Version,
	}))
	r.broadcast(types.NewServerMessage(types.EventUserJoined, types.UserJoinedEvent{
		UserID: s.ConnID,
		Name:   s.Name,
		Users:  res.Users,
	}), s.ConnID)

	r.log.Info("member joined", zap.String("conn", s.ConnID), zap.Int("members", len(r.members)))
	return res
}

func (r *Room) remove(connID string) {
	i := slices.IndexFunc(r.members, func(m *member) bool { return m.id == connID })
	if i < 0 {
		return
	}
	r.members = slices.Delete(r.members, i, i+1)
	delete(r.pending, connID)
	r.log.Info("member left", zap.String("conn", connID), zap.Int("members", len(r.members)))

	if len(r.members) == 0 {
		r.hostID = ""
		r.closing = CloseEmpty
		return
	}
	if connID == r.hostID {
		r.migrateHost()
	}
	r.broadcast(types.NewServerMessage(types.EventUserLeft, types.UserLeftEvent{
		UserID: connID,
		Users:  r.users(),
	}), "")
}

func (r *Room) migrateHost() {
	next := r.members[0]
	r.hostID = next.id
	r.opts.Metrics.HostMigrated(r.ctx)
	r.log.Info("host migrated", zap.String("host", next.id))

	r.deliver(next, types.NewServerMessage(types.EventPromotedToHost, nil))
	r.broadcast(types.NewServerMessage(types.EventHostChanged, types.HostChangedEvent{
		NewHostID:   next.id,
		NewHostName: next.name,
	}), "")

	// Outstanding requests move to the new host with fresh timers.
	delete(r.pending, next.id)
	for requester := range r.pending {
		r.askHost(requester)
	}
}

func (r *Room) applyPlayback(msg Playback) {
	if r.find(msg.ConnID) == nil {
		r.log.Debug("playback from non-member ignored", zap.String("conn", msg.ConnID))
		return
	}
	if msg.Cmd.Action == playback.ActionSync {
		return
	}
	next, err := playback.Apply(r.state, msg.Cmd, r.opts.Clock())
	if err != nil {
		r.log.Debug("playback rejected", zap.String("conn", msg.ConnID), zap.Error(err))
		return
	}
	r.state = next
	r.version++

	r.broadcast(types.NewServerMessage(string(msg.Cmd.Action), types.PlaybackEvent{
		CurrentTime: next.CurrentTime,
		TriggeredBy: msg.ConnID,
		Version:     r.version,
	}), msg.ConnID)
}

func (r *Room) routeSyncRequest(connID string) {
	m := r.find(connID)
	if m == nil {
		r.log.Debug("sync-request from non-member ignored", zap.String("conn", connID))
		return
	}
	if connID == r.hostID {
		// The host is the authority; answer from room state.
		r.deliver(m, r.fallbackResponse())
		return
	}
	r.askHost(connID)
}

// askHost forwards a sync-request to the current host and arms its timeout.
func (r *Room) askHost(requester string) {
	r.gen++
	gen := r.gen
	r.pending[requester] = gen

	r.deliver(r.find(r.hostID), types.NewServerMessage(types.EventSyncRequest, types.SyncRequestEvent{
		RequesterID: requester,
	}))

	if r.opts.SyncTimeout <= 0 {
		return
	}
	time.AfterFunc(r.opts.SyncTimeout, func() {
		_ = r.Send(r.ctx, syncTimeout{RequesterID: requester, Gen: gen})
	})
}

func (r *Room) applySyncResponse(msg SyncResponse) {
	if msg.ConnID != r.hostID || r.find(msg.ConnID) == nil {
		r.opts.Metrics.Dropped(r.ctx, types.IntentSyncResponse, metrics.DropNotHost)
		r.log.Debug("sync-response from non-host ignored", zap.String("conn", msg.ConnID))
		return
	}
	next, err := playback.Apply(r.state, playback.Command{
		Action:    playback.ActionSync,
		Time:      msg.CurrentTime,
		IsPlaying: msg.IsPlaying,
	}, r.opts.Clock())
	if err != nil {
		return
	}
	r.state = next
	r.version++

	ev := types.NewServerMessage(types.EventSyncResponse, types.SyncResponseEvent{
		IsPlaying:   next.IsPlaying,
		CurrentTime: next.CurrentTime,
		Version:     r.version,
	})
	if msg.RequesterID != "" {
		delete(r.pending, msg.RequesterID)
		if m := r.find(msg.RequesterID); m != nil {
			r.deliver(m, ev)
		}
		return
	}
	clear(r.pending)
	r.broadcast(ev, msg.ConnID)
}

func (r *Room) expireSyncRequest(msg syncTimeout) {
	if gen, ok := r.pending[msg.RequesterID]; !ok || gen != msg.Gen {
		return
	}
	delete(r.pending, msg.RequesterID)
	m := r.find(msg.RequesterID)
	if m == nil {
		return
	}
	r.opts.Metrics.FallbackResponse(r.ctx)
	r.log.Debug("host did not answer sync-request", zap.String("requester", msg.RequesterID))
	r.deliver(m, r.fallbackResponse())
}

func (r *Room) fallbackResponse() types.ServerMessage {
	return types.NewServerMessage(types.EventSyncResponse, types.SyncResponseEvent{
		IsPlaying:   r.state.IsPlaying,
		CurrentTime: r.state.Position(r.opts.Clock()),
		Version:     r.version,
		Fallback:    true,
	})
}

func (r *Room) broadcast(msg types.ServerMessage, except string) {
	for _, m := range r.members {
		if m.id == except {
			continue
		}
		r.deliver(m, msg)
	}
}

func (r *Room) deliver(m *member, msg types.ServerMessage) {
	if m == nil {
		return
	}
	select {
	case m.outbox <- msg:
	default:
		// Slow consumer: drop them once the current step is done.
		if !slices.Contains(r.evictions, m.id) {
			r.evictions = append(r.evictions, m.id)
		}
	}
}

func (r *Room) drainEvictions() {
	for len(r.evictions) > 0 {
		id := r.evictions[0]
		r.evictions = r.evictions[1:]
		m := r.find(id)
		if m == nil {
			continue
		}
		r.log.Warn("evicting slow member", zap.String("conn", id))
		if m.evict != nil {
			m.evict()
		}
		r.remove(id)
	}
}

func (r *Room) shutdown(reason CloseReason) {
	if reason == CloseShutdown {
		for _, m := range r.members {
			if m.evict != nil {
				m.evict()
			}
		}
	}
	r.members = nil
	r.log.Info("room closed", zap.String("reason", string(reason)))
	if r.opts.OnClose != nil {
		r.opts.OnClose(r, reason)
	}
	close(r.done)
	r.cancel()
}

func (r *Room) find(connID string) *member {
	for _, m := range r.members {
		if m.id == connID {
			return m
		}
	}
	return nil
}

func (r *Room) users() []types.User {
	out := make([]types.User, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, types.User{ID: m.id, Name: m.name, IsHost: m.id == r.hostID})
	}
	return out
}

// Send delivers m to the room's inbox. It fails with ErrRoomClosed once the
// room has stopped.
func (r *Room) Send(ctx context.Context, m Msg) error {
	select {
	case <-r.done:
		return ErrRoomClosed
	default:
	}
	select {
	case r.inbox <- m:
		return nil
	case <-r.done:
		return ErrRoomClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func await[T any](ctx context.Context, r *Room, reply <-chan T) (T, error) {
	var zero T
	select {
	case v := <-reply:
		return v, nil
	case <-r.done:
		// The reply may have been sent just before the room closed.
		select {
		case v := <-reply:
			return v, nil
		default:
			return zero, ErrRoomClosed
		}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (r *Room) Join(ctx context.Context, seat Seat, ackID string) (JoinResult, error) {
	reply := make(chan JoinResult, 1)
	if err := r.Send(ctx, Join{Seat: seat, AckID: ackID, Reply: reply}); err != nil {
		return JoinResult{}, err
	}
	return await(ctx, r, reply)
}

// Leave removes connID and waits until the room has processed it. Leaving a
// room that already closed is not an error.
func (r *Room) Leave(ctx context.Context, connID string) error {
	reply := make(chan struct{}, 1)
	err := r.Send(ctx, Leave{ConnID: connID, Reply: reply})
	if err == nil {
		_, err = await(ctx, r, reply)
	}
	if errors.Is(err, ErrRoomClosed) {
		return nil
	}
	return err
}

func (r *Room) View(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	if err := r.Send(ctx, GetState{Reply: reply}); err != nil {
		return View{}, err
	}
	return await(ctx, r, reply)
}

func (r *Room) CloseIfIdle(ctx context.Context, ttl time.Duration) (bool, error) {
	reply := make(chan bool, 1)
	if err := r.Send(ctx, CloseIfIdle{TTL: ttl, Reply: reply}); err != nil {
		return false, err
	}
	return await(ctx, r, reply)
}

// Inbox exposes the raw inbox for fire-and-forget messages.
func (r *Room) Inbox() chan<- Msg { return r.inbox }
