package diagnostics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"crawldiag/internal/pkg/metrics"

	"github.com/redis/go-redis/v9"
)

const (
	debounceKeyPrefix    = "crawldiag:debounce:"
	redisDebounceTimeout = 500 * time.Millisecond
)

// RedisDebouncer 多个 worker 共享的去重器。
//
// 使用 SET NX PX 原子地"检查并写入"，过期由 Redis 负责，无需清理。
// Redis 不可用时放行（宁可多打日志，也不丢失封锁信号）。
type RedisDebouncer struct {
	rdb     *redis.Client
	logger  *slog.Logger
	timeout time.Duration
}

// NewRedisDebouncer 创建 Redis 去重器
func NewRedisDebouncer(rdb *redis.Client, logger *slog.Logger) *RedisDebouncer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &RedisDebouncer{
		rdb:     rdb,
		logger:  logger,
		timeout: redisDebounceTimeout,
	}
}

// redisKey 长度前缀编码，requestID 中含 ':' 也不会与其他键碰撞
func redisKey(k DebounceKey) string {
	return fmt.Sprintf("%s%d:%s:%s", debounceKeyPrefix, len(k.RequestID), k.RequestID, k.Suggestion)
}

// ShouldEmit 实现 Debouncer
func (d *RedisDebouncer) ShouldEmit(requestID, suggestion string, cooldown time.Duration) bool {
	if d == nil || d.rdb == nil {
		return true
	}
	if cooldown <= 0 {
		cooldown = DefaultDebounceCooldown
	}

	// 使用独立的 context，不受调用方任务 context 影响
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	key := redisKey(DebounceKey{RequestID: requestID, Suggestion: suggestion})
	ok, err := d.rdb.SetNX(ctx, key, time.Now().UnixMilli(), cooldown).Result()
	if err != nil {
		metrics.DebounceBackendErrorsTotal.Inc()
		d.logger.Debug("redis debounce failed, emitting",
			slog.String("request_id", requestID),
			slog.String("suggestion", suggestion),
			slog.String("error", err.Error()))
		return true
	}
	return ok
}
