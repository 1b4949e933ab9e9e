package metrics

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/multierr"
)

// Drop reasons for intents that are silently ignored.
const (
	DropRateLimited = "rate_limited"
	DropNotHost     = "not_host"
	DropNotInRoom   = "not_in_room"
	DropMalformed   = "malformed"
)

// Recorder holds the coordinator's instruments. A nil *Recorder is valid and
// records nothing.
type Recorder struct {
	intents      metric.Int64Counter
	dropped      metric.Int64Counter
	roomsCreated metric.Int64Counter
	roomsDeleted metric.Int64Counter
	migrations   metric.Int64Counter
	fallbacks    metric.Int64Counter
}

func NewRecorder(meter metric.Meter) (*Recorder, error) {
	var r Recorder
	var err, e error

	r.intents, e = meter.Int64Counter("sync_intents_total",
		metric.WithDescription("Intents accepted from connections"))
	err = multierr.Append(err, e)
	r.dropped, e = meter.Int64Counter("sync_intents_dropped_total",
		metric.WithDescription("Intents dropped without reply"))
	err = multierr.Append(err, e)
	r.roomsCreated, e = meter.Int64Counter("sync_rooms_created_total",
		metric.WithDescription("Rooms created"))
	err = multierr.Append(err, e)
	r.roomsDeleted, e = meter.Int64Counter("sync_rooms_deleted_total",
		metric.WithDescription("Rooms deleted"))
	err = multierr.Append(err, e)
	r.migrations, e = meter.Int64Counter("sync_host_migrations_total",
		metric.WithDescription("Host promotions after the host left"))
	err = multierr.Append(err, e)
	r.fallbacks, e = meter.Int64Counter("sync_fallback_responses_total",
		metric.WithDescription("Sync requests answered by the room after the host timed out"))
	err = multierr.Append(err, e)

	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *Recorder) Intent(ctx context.Context, intent string) {
	if r == nil {
		return
	}
	r.intents.Add(ctx, 1, metric.WithAttributes(attribute.String("intent", intent)))
}

func (r *Recorder) Dropped(ctx context.Context, intent, reason string) {
	if r == nil {
		return
	}
	r.dropped.Add(ctx, 1, metric.WithAttributes(
		attribute.String("intent", intent),
		attribute.String("reason", reason),
	))
}

func (r *Recorder) RoomCreated(ctx context.Context) {
	if r == nil {
		return
	}
	r.roomsCreated.Add(ctx, 1)
}

func (r *Recorder) RoomDeleted(ctx context.Context, reason string) {
	if r == nil {
		return
	}
	r.roomsDeleted.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (r *Recorder) HostMigrated(ctx context.Context) {
	if r == nil {
		return
	}
	r.migrations.Add(ctx, 1)
}

func (r *Recorder) FallbackResponse(ctx context.Context) {
	if r == nil {
		return
	}
	r.fallbacks.Add(ctx, 1)
}
