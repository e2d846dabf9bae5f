package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/cabinethq/scheduling-platform/internal/appointments"
	"github.com/cabinethq/scheduling-platform/pkg/logging"
)

const defaultSnapshotTTL = 30 * time.Second

// Cache holds short-lived schedule snapshots in Redis. Keys carry a
// per-practitioner version counter; Invalidate bumps the counter so every
// cached window for that practitioner goes stale at once, and the orphaned
// snapshots age out via TTL.
type Cache struct {
	redis  *redis.Client
	ttl    time.Duration
	logger *logging.Logger
	tracer trace.Tracer
}

// NewCache creates a snapshot cache. ttl <= 0 falls back to the default.
func NewCache(client *redis.Client, ttl time.Duration, logger *logging.Logger) *Cache {
	if client == nil {
		panic("schedule: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = defaultSnapshotTTL
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Cache{
		redis:  client,
		ttl:    ttl,
		logger: logger,
		tracer: otel.Tracer("cabinet.internal.schedule.cache"),
	}
}

func versionKey(tenantID, practitionerID uuid.UUID) string {
	return fmt.Sprintf("schedule_ver:%s:%s", tenantID, practitionerID)
}

func snapshotKey(version int64, tenantID, practitionerID uuid.UUID, from, to time.Time) string {
	return fmt.Sprintf("schedule:v%d:%s:%s:%d-%d", version, tenantID, practitionerID, from.Unix(), to.Unix())
}

func (c *Cache) version(ctx context.Context, tenantID, practitionerID uuid.UUID) (int64, error) {
	v, err := c.redis.Get(ctx, versionKey(tenantID, practitionerID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return v, err
}

// Get returns the cached snapshot for the window, or ok=false on a miss.
// Cache failures are reported as misses so reads fall through to the store.
func (c *Cache) Get(ctx context.Context, tenantID, practitionerID uuid.UUID, from, to time.Time) ([]appointments.Appointment, bool) {
	ctx, span := c.tracer.Start(ctx, "schedule.cache_get")
	defer span.End()

	version, err := c.version(ctx, tenantID, practitionerID)
	if err != nil {
		span.RecordError(err)
		return nil, false
	}
	data, err := c.redis.Get(ctx, snapshotKey(version, tenantID, practitionerID, from, to)).Bytes()
	if err != nil {
		if err != redis.Nil {
			span.RecordError(err)
			c.logger.Warn("schedule cache read failed", "error", err)
		}
		return nil, false
	}

	var appts []appointments.Appointment
	if err := json.Unmarshal(data, &appts); err != nil {
		span.RecordError(err)
		return nil, false
	}
	return appts, true
}

// Set stores a snapshot for the window under the current version.
func (c *Cache) Set(ctx context.Context, tenantID, practitionerID uuid.UUID, from, to time.Time, appts []appointments.Appointment) {
	ctx, span := c.tracer.Start(ctx, "schedule.cache_set")
	defer span.End()

	version, err := c.version(ctx, tenantID, practitionerID)
	if err != nil {
		span.RecordError(err)
		return
	}
	data, err := json.Marshal(appts)
	if err != nil {
		span.RecordError(err)
		return
	}
	if err := c.redis.Set(ctx, snapshotKey(version, tenantID, practitionerID, from, to), data, c.ttl).Err(); err != nil {
		span.RecordError(err)
		c.logger.Warn("schedule cache write failed", "error", err)
	}
}

// Invalidate drops all cached windows for a practitioner after a booking
// write. Satisfies appointments.ScheduleInvalidator.
func (c *Cache) Invalidate(ctx context.Context, tenantID, practitionerID uuid.UUID) {
	ctx, span := c.tracer.Start(ctx, "schedule.cache_invalidate")
	defer span.End()

	if err := c.redis.Incr(ctx, versionKey(tenantID, practitionerID)).Err(); err != nil {
		span.RecordError(err)
		c.logger.Warn("schedule cache invalidation failed",
			"tenant_id", tenantID,
			"practitioner_id", practitionerID,
			"error", err,
		)
	}
}
