// Package ratelimit 基于 Redis 的令牌桶，用于限制单个客户端的分类请求速率。
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "crawldiag:ratelimit:"

var ErrRedisClientNil = errors.New("redis client is nil")

// 返回 {allowed, retry_after_ms}
const tokenBucketLua = `
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local data = redis.call("HMGET", key, "tokens", "ts")
local tokens = tonumber(data[1])
local ts = tonumber(data[2])
if tokens == nil then
  tokens = burst
end
if ts == nil then
  ts = now
end

local delta = math.max(0, now - ts)
tokens = math.min(burst, tokens + (delta * rate) / 1000.0)
ts = now

local allowed = 0
local retry = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
else
  retry = math.ceil(((1 - tokens) / rate) * 1000.0)
end

redis.call("HMSET", key, "tokens", tokens, "ts", ts)
redis.call("PEXPIRE", key, math.ceil((burst / rate) * 1000.0 * 2))
return {allowed, retry}
`

// Bucket 令牌桶参数
type Bucket struct {
	Rate  int // 每秒补充的令牌数，<= 0 表示不限流
	Burst int // 桶容量，<= 0 时等于 Rate
}

// Decision 单次判定结果
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration // 被拒绝时，下一个令牌可用前的等待时间
}

// Limiter 按 key 分桶的限流器
type Limiter struct {
	rdb    *redis.Client
	script *redis.Script
	bucket Bucket
	clock  func() time.Time
}

// NewLimiter 创建限流器
func NewLimiter(rdb *redis.Client, bucket Bucket) *Limiter {
	if bucket.Burst <= 0 {
		bucket.Burst = bucket.Rate
	}
	return &Limiter{
		rdb:    rdb,
		script: redis.NewScript(tokenBucketLua),
		bucket: bucket,
		clock:  time.Now,
	}
}

// Enabled 是否配置了有效的速率
func (l *Limiter) Enabled() bool {
	return l != nil && l.bucket.Rate > 0
}

// Allow 从 key 对应的桶中取一个令牌
func (l *Limiter) Allow(ctx context.Context, key string) (Decision, error) {
	if !l.Enabled() {
		return Decision{Allowed: true}, nil
	}
	if l.rdb == nil {
		return Decision{}, ErrRedisClientNil
	}
	if key == "" {
		return Decision{}, errors.New("rate limit key is empty")
	}

	now := l.clock().UnixMilli()
	res, err := l.script.Run(ctx, l.rdb, []string{keyPrefix + key}, l.bucket.Rate, l.bucket.Burst, now).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit eval: %w", err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("ratelimit invalid result: %v", res)
	}
	return Decision{
		Allowed:    res[0] == 1,
		RetryAfter: time.Duration(res[1]) * time.Millisecond,
	}, nil
}
