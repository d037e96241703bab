package cancel

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"shopfloor-costing/internal/domain"
	"shopfloor-costing/internal/infra/metrics"
)

// RedisFlag реализует domain.CancelFlag через ключ в Redis. Флаг
// кооперативный: воркер сам проверяет его между задачами, уже начатый
// пересчёт доводится до конца.
type RedisFlag struct {
	client *redis.Client
	key    string
}

var _ domain.CancelFlag = (*RedisFlag)(nil)

// NewRedisFlag создаёт флаг на указанном ключе.
func NewRedisFlag(client *redis.Client, key string) *RedisFlag {
	return &RedisFlag{client: client, key: key}
}

// Stopped сообщает, выставлен ли флаг остановки. Ошибка Redis трактуется
// как «флага нет»: остановка не должна зависеть от доступности Redis.
func (f *RedisFlag) Stopped(ctx context.Context) bool {
	start := time.Now()
	n, err := f.client.Exists(ctx, f.key).Result()
	metrics.ObserveNetworkRequest("redis", "exists", f.key, start, err)
	if err != nil {
		return false
	}
	return n > 0
}

// Set выставляет флаг с TTL, чтобы забытый стоп не висел вечно.
func (f *RedisFlag) Set(ctx context.Context, ttl time.Duration) error {
	start := time.Now()
	err := f.client.Set(ctx, f.key, "1", ttl).Err()
	metrics.ObserveNetworkRequest("redis", "set", f.key, start, err)
	return err
}

// Clear снимает флаг.
func (f *RedisFlag) Clear(ctx context.Context) error {
	start := time.Now()
	err := f.client.Del(ctx, f.key).Err()
	metrics.ObserveNetworkRequest("redis", "del", f.key, start, err)
	return err
}
