package locker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/fraud-engine/internal/models"
)

const (
	DefaultLockTTL   = 30 * time.Second
	defaultKeyPrefix = "fraud_lock:customer:"
	initialPoll      = 5 * time.Millisecond
	maxPoll          = 100 * time.Millisecond
	releaseTimeout   = 2 * time.Second
)

var errLockHeld = errors.New("lock held by another owner")

// releaseScript deletes the key only while it still holds our token, so an
// expired lock re-acquired by someone else is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker serializes customers across service instances with SET NX PX.
type RedisLocker struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
	logger *zap.Logger
}

func NewRedisLocker(client redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLocker{client: client, ttl: ttl, prefix: defaultKeyPrefix, logger: logger}
}

func (l *RedisLocker) Lock(ctx context.Context, customerID string) (func(), error) {
	key := l.prefix + customerID
	token := uuid.NewString()

	acquire := func() error {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return backoff.Permanent(fmt.Errorf("%w: redis lock: %v", models.ErrStorageUnavailable, err))
		}
		if !ok {
			return errLockHeld
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initialPoll
	b.MaxInterval = maxPoll
	b.MaxElapsedTime = l.ttl

	if err := backoff.Retry(acquire, backoff.WithContext(b, ctx)); err != nil {
		if errors.Is(err, models.ErrStorageUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: customer %s: %v", models.ErrLockTimeout, customerID, err)
	}

	return func() {
		rctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		if err := releaseScript.Run(rctx, l.client, []string{key}, token).Err(); err != nil {
			l.logger.Warn("Failed to release customer lock",
				zap.String("customer_id", customerID),
				zap.Error(err),
			)
		}
	}, nil
}
