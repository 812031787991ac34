package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/BTreeMap/BookingPipe/internal/models"
)

// DefaultTTL is how long an idle conversation is kept in Redis.
const DefaultTTL = 24 * time.Hour

// RedisStore keeps states as JSON strings with a sliding TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	tracer trace.Tracer
}

// NewRedisStore wraps client. A non-positive ttl uses DefaultTTL.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if client == nil {
		panic("session: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{
		client: client,
		ttl:    ttl,
		prefix: "bookingpipe:session:",
		tracer: otel.Tracer("bookingpipe.internal.session.redis"),
	}
}

// NewRedisStoreFromURL parses a redis:// URL and verifies the connection.
func NewRedisStoreFromURL(ctx context.Context, url string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("session: invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("session: redis ping failed: %w", err)
	}
	return NewRedisStore(client, ttl), nil
}

func (r *RedisStore) key(sessionID string) string {
	return r.prefix + sessionID
}

func (r *RedisStore) Load(ctx context.Context, sessionID string) (*models.ConversationState, error) {
	ctx, span := r.tracer.Start(ctx, "session.load", trace.WithAttributes(attribute.String("bookingpipe.session_id", sessionID)))
	defer span.End()

	data, err := r.client.Get(ctx, r.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("session: failed to load %s: %w", sessionID, err)
	}
	st, err := models.UnmarshalState(data)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("session: failed to decode %s: %w", sessionID, err)
	}
	return st, nil
}

func (r *RedisStore) Save(ctx context.Context, st *models.ConversationState) error {
	if st == nil || st.SessionID == "" {
		return fmt.Errorf("session: state without session id")
	}
	ctx, span := r.tracer.Start(ctx, "session.save", trace.WithAttributes(attribute.String("bookingpipe.session_id", st.SessionID)))
	defer span.End()

	data, err := models.MarshalState(st)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("session: failed to encode %s: %w", st.SessionID, err)
	}
	if err := r.client.Set(ctx, r.key(st.SessionID), data, r.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("session: failed to persist %s: %w", st.SessionID, err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, sessionID string) error {
	ctx, span := r.tracer.Start(ctx, "session.delete")
	defer span.End()
	if err := r.client.Del(ctx, r.key(sessionID)).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("session: failed to delete %s: %w", sessionID, err)
	}
	return nil
}

// Close releases the Redis connection pool.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
