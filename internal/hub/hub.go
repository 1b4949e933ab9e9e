package hub

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"go.uber.org/zap"

	"github.com/DoyleJ11/movie-sync/internal/metrics"
	"github.com/DoyleJ11/movie-sync/internal/room"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrHubClosed    = errors.New("hub closed")
)

const CodeLength = 8

func GenerateCode() (string, error) {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	code := make([]byte, CodeLength)
	for i := range code {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}

type HubMsg interface{ isHubMsg() }

type CreateRoom struct {
	Host  room.Seat
	Reply chan CreateResult
}

type CreateResult struct {
	Room *room.Room
	Err  error
}

type GetRoom struct {
	Code  string
	Reply chan *room.Room // nil when absent
}

type ListRooms struct {
	Reply chan []*room.Room
}

type CountRooms struct {
	Reply chan int
}

// RemoveRoom drops Code only if it still maps to Room, so a stale notice
// cannot remove a newer room that reused the code.
type RemoveRoom struct {
	Code   string
	Room   *room.Room
	Reason room.CloseReason
}

type ShutdownHub struct{}

func (CreateRoom) isHubMsg()  {}
func (GetRoom) isHubMsg()     {}
func (ListRooms) isHubMsg()   {}
func (CountRooms) isHubMsg()  {}
func (RemoveRoom) isHubMsg()  {}
func (ShutdownHub) isHubMsg() {}

type Options struct {
	// Room is applied to every room the hub creates. OnClose is owned by
	// the hub and overwritten.
	Room    room.Options
	Logger  *zap.Logger
	Metrics *metrics.Recorder
}

type Hub struct {
	inbox   chan HubMsg
	rooms   map[string]*room.Room
	opts    Options
	log     *zap.Logger
	codeGen func() (string, error)
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewHub(parent context.Context, opts Options) *Hub {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:   make(chan HubMsg, 64),
		rooms:   make(map[string]*room.Room),
		opts:    opts,
		log:     opts.Logger.Named("hub"),
		codeGen: GenerateCode,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) loop() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateRoom:
				r, err := h.create(&msg.Host)
				msg.Reply <- CreateResult{Room: r, Err: err}

			case GetRoom:
				msg.Reply <- h.rooms[msg.Code] // May be nil

			case ListRooms:
				out := make([]*room.Room, 0, len(h.rooms))
				for _, r := range h.rooms {
					out = append(out, r)
				}
				msg.Reply <- out

			case CountRooms:
				msg.Reply <- len(h.rooms)

			case RemoveRoom:
				if cur, ok := h.rooms[msg.Code]; ok && cur == msg.Room {
					delete(h.rooms, msg.Code)
					h.opts.Metrics.RoomDeleted(h.ctx, string(msg.Reason))
					h.log.Info("room deleted",
						zap.String("room", msg.Code),
						zap.String("reason", string(msg.Reason)),
						zap.Int("rooms", len(h.rooms)))
				}

			case ShutdownHub:
				h.shutdown()
				h.cancel()
				return
			}
		}
	}
}

// create draws codes until one is free. Check and insert happen in the hub
// goroutine, so two creates can never claim the same code.
func (h *Hub) create(host *room.Seat) (*room.Room, error) {
	var code string
	for {
		c, err := h.codeGen()
		if err != nil {
			return nil, fmt.Errorf("generate room code: %w", err)
		}
		if _, taken := h.rooms[c]; !taken {
			code = c
			break
		}
		h.log.Debug("collision on code, regenerating", zap.String("code", c))
	}

	r := room.New(h.ctx, code, host, h.roomOptions())
	h.rooms[code] = r
	h.opts.Metrics.RoomCreated(h.ctx)
	h.log.Info("room created", zap.String("room", code), zap.Int("rooms", len(h.rooms)))
	return r, nil
}

func (h *Hub) roomOptions() room.Options {
	opts := h.opts.Room
	if opts.Logger == nil {
		opts.Logger = h.opts.Logger
	}
	if opts.Metrics == nil {
		opts.Metrics = h.opts.Metrics
	}
	opts.OnClose = h.roomClosed
	return opts
}

// roomClosed runs on the closing room's goroutine. It must not wait on the
// hub once the hub is gone.
func (h *Hub) roomClosed(r *room.Room, reason room.CloseReason) {
	if reason == room.CloseShutdown {
		return
	}
	select {
	case h.inbox <- RemoveRoom{Code: r.Code(), Room: r, Reason: reason}:
	case <-h.ctx.Done():
	}
}

func (h *Hub) shutdown() {
	for _, r := range h.rooms {
		select {
		case r.Inbox() <- room.Shutdown{}:
		default:
			// inbox full; the cancelled context stops it anyway
		}
	}
	clear(h.rooms)
}

func (h *Hub) request(ctx context.Context, m HubMsg) error {
	select {
	case h.inbox <- m:
		return nil
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func await[T any](ctx context.Context, h *Hub, reply <-chan T) (T, error) {
	var zero T
	select {
	case v := <-reply:
		return v, nil
	case <-h.done:
		select {
		case v := <-reply:
			return v, nil
		default:
			return zero, ErrHubClosed
		}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Create opens a new room with host as its first member and host.
func (h *Hub) Create(ctx context.Context, host room.Seat) (*room.Room, error) {
	reply := make(chan CreateResult, 1)
	if err := h.request(ctx, CreateRoom{Host: host, Reply: reply}); err != nil {
		return nil, err
	}
	res, err := await(ctx, h, reply)
	if err != nil {
		return nil, err
	}
	return res.Room, res.Err
}

// Lookup resolves a room code case-insensitively.
func (h *Hub) Lookup(ctx context.Context, code string) (*room.Room, error) {
	reply := make(chan *room.Room, 1)
	norm := strings.ToUpper(strings.TrimSpace(code))
	if err := h.request(ctx, GetRoom{Code: norm, Reply: reply}); err != nil {
		return nil, err
	}
	r, err := await(ctx, h, reply)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, norm)
	}
	return r, nil
}

func (h *Hub) Rooms(ctx context.Context) ([]*room.Room, error) {
	reply := make(chan []*room.Room, 1)
	if err := h.request(ctx, ListRooms{Reply: reply}); err != nil {
		return nil, err
	}
	return await(ctx, h, reply)
}

func (h *Hub) Count(ctx context.Context) (int, error) {
	reply := make(chan int, 1)
	if err := h.request(ctx, CountRooms{Reply: reply}); err != nil {
		return 0, err
	}
	return await(ctx, h, reply)
}

// Shutdown stops every room and the hub, then waits for the hub loop to exit.
func (h *Hub) Shutdown(ctx context.Context) error {
	if err := h.request(ctx, ShutdownHub{}); err != nil && !errors.Is(err, ErrHubClosed) {
		return err
	}
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
