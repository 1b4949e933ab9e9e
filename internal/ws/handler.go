package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/movie-sync/internal/coordinator"
	"github.com/DoyleJ11/movie-sync/pkg/types"
)

type Options struct {
	// OriginPatterns are host patterns accepted in the Origin header. Empty
	// means same-origin only; "*" accepts any.
	OriginPatterns []string
	PingInterval   time.Duration // 0 disables keepalive pings
	WriteTimeout   time.Duration
	OutboxSize     int
	Logger         *zap.Logger
}

func (o *Options) defaults() {
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 3 * time.Second
	}
	if o.OutboxSize <= 0 {
		o.OutboxSize = 32
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

func Handler(c *coordinator.Coordinator, opts Options) http.HandlerFunc {
	opts.defaults()
	log := opts.Logger.Named("ws")

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: opts.OriginPatterns,
		})
		if err != nil {
			log.Debug("accept failed", zap.Error(err))
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		connID := uuid.NewString()
		clog := log.With(zap.String("conn", connID))
		out := make(chan types.ServerMessage, opts.OutboxSize)

		// A room evicting us just cancels ctx; the read below then fails.
		c.Connect(connID, out, cancel)
		defer func() {
			dctx, dcancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer dcancel()
			c.Disconnect(dctx, connID)
		}()
		clog.Debug("connection opened", zap.String("remote", r.RemoteAddr))

		// Writer goroutine
		go func() {
			defer cancel()
			for {
				select {
				case <-ctx.Done():
					return
				case msg := <-out:
					wctx, wcancel := context.WithTimeout(ctx, opts.WriteTimeout)
					err := wsjson.Write(wctx, conn, msg)
					wcancel()
					if err != nil {
						clog.Debug("write failed", zap.Error(err))
						return
					}
				}
			}
		}()

		if opts.PingInterval > 0 {
			go keepalive(ctx, conn, opts.PingInterval, cancel)
		}

		// Reader loop
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				if isExpectedDisconnect(ctx, err) {
					clog.Debug("connection closed")
				} else {
					clog.Info("connection dropped", zap.Error(err))
				}
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				c.ReplyError(ctx, connID, "bad json")
				continue
			}
			if err := dispatch(ctx, c, connID, cm); err != nil {
				c.ReplyError(ctx, connID, err.Error())
			}
		}
	}
}

func keepalive(ctx context.Context, conn *websocket.Conn, every time.Duration, cancel context.CancelFunc) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pctx, pcancel := context.WithTimeout(ctx, every)
			err := conn.Ping(pctx)
			pcancel()
			if err != nil {
				cancel()
				return
			}
		}
	}
}

func isExpectedDisconnect(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	default:
		return false
	}
}
