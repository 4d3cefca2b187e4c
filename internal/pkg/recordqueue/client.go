// Package recordqueue 把脱敏后的诊断记录交给外部持久层。
//
// 记录以 JSON 形式 LPUSH 到 Redis List，消费方通过 BRPOPLPUSH 取出并在
// 落库后 Ack；未 Ack 的记录留在 processing 队列，服务重启时可整体回收。
package recordqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"crawldiag/internal/diagnostics"
	"crawldiag/internal/pkg/metrics"

	"github.com/redis/go-redis/v9"
)

const (
	KeyRecordQueue           = "crawldiag:queue:records"
	KeyRecordProcessingQueue = "crawldiag:queue:records:processing"
	KeyRecordStartedHash     = "crawldiag:queue:records:started" // record_id -> unix timestamp
)

var (
	ErrNoRecord       = errors.New("no record available")
	errNotInitialized = errors.New("redis client is not initialized")
)

// Client wraps Redis List operations for the diagnostic record queue.
type Client struct {
	rdb *redis.Client
}

// NewClientWithRedis creates a recordqueue client from an existing redis.Client.
func NewClientWithRedis(rdb *redis.Client) (*Client, error) {
	if rdb == nil {
		return nil, errors.New("redis client is nil")
	}
	return &Client{rdb: rdb}, nil
}

// PushRecord serializes a record and pushes it into the record queue.
func (c *Client) PushRecord(ctx context.Context, rec *diagnostics.Record) error {
	if rec == nil {
		return errors.New("record is nil")
	}
	if c == nil || c.rdb == nil {
		return errNotInitialized
	}
	if rec.ID == "" {
		return errors.New("record id is empty")
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if err := c.rdb.LPush(ctx, KeyRecordQueue, string(data)).Err(); err != nil {
		return fmt.Errorf("lpush record: %w", err)
	}

	metrics.RecordThroughput.WithLabelValues("pushed").Inc()
	return nil
}

// PopRecord blocks until a record is available or timeout is reached.
// 记录先移到 processing 队列，Ack 后才真正删除。
func (c *Client) PopRecord(ctx context.Context, timeout time.Duration) (*diagnostics.Record, error) {
	if c == nil || c.rdb == nil {
		return nil, errNotInitialized
	}
	raw, err := c.rdb.BRPopLPush(ctx, KeyRecordQueue, KeyRecordProcessingQueue, timeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoRecord
	}
	if err != nil {
		return nil, fmt.Errorf("brpoplpush record: %w", err)
	}

	var rec diagnostics.Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	if rec.ID != "" {
		c.rdb.HSet(ctx, KeyRecordStartedHash, rec.ID, time.Now().Unix())
	}

	metrics.RecordThroughput.WithLabelValues("popped").Inc()
	return &rec, nil
}

// ackRecordScript 从 processing 队列中删除匹配 id 的记录。
// KEYS[1] = processing queue, KEYS[2] = started hash
// ARGV[1] = record id
// 返回: 删除的记录数量
var ackRecordScript = redis.NewScript(`
	local queue = KEYS[1]
	local started = KEYS[2]
	local id = ARGV[1]

	local records = redis.call('LRANGE', queue, 0, -1)
	local removed = 0
	for _, rec in ipairs(records) do
		if string.find(rec, '"id":"' .. id .. '"', 1, true) then
			redis.call('LREM', queue, 1, rec)
			removed = removed + 1
			break
		end
	end

	redis.call('HDEL', started, id)
	return removed
`)

// AckRecord removes a persisted record from the processing queue.
// 使用 id 匹配而非完整 JSON，避免序列化差异导致的匹配失败。
func (c *Client) AckRecord(ctx context.Context, rec *diagnostics.Record) (bool, error) {
	if rec == nil {
		return false, errors.New("record is nil")
	}
	if c == nil || c.rdb == nil {
		return false, errNotInitialized
	}
	if rec.ID == "" {
		return false, errors.New("record id is empty")
	}

	removed, err := ackRecordScript.Run(ctx, c.rdb,
		[]string{KeyRecordProcessingQueue, KeyRecordStartedHash},
		rec.ID,
	).Int()
	if err != nil {
		return false, fmt.Errorf("ack record script: %w", err)
	}
	return removed > 0, nil
}

// RecoverOrphanedRecords 启动时把 processing 队列中的残留记录放回主队列。
// 返回恢复的记录数量。
func (c *Client) RecoverOrphanedRecords(ctx context.Context) (int, error) {
	if c == nil || c.rdb == nil {
		return 0, errNotInitialized
	}

	recovered := 0
	for {
		raw, err := c.rdb.RPopLPush(ctx, KeyRecordProcessingQueue, KeyRecordQueue).Result()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return recovered, fmt.Errorf("rpoplpush: %w", err)
		}

		var rec diagnostics.Record
		if err := json.Unmarshal([]byte(raw), &rec); err == nil && rec.ID != "" {
			c.rdb.HDel(ctx, KeyRecordStartedHash, rec.ID)
		}
		recovered++
	}
	return recovered, nil
}

// Depth returns the current length of the record queue.
func (c *Client) Depth(ctx context.Context) (int64, error) {
	if c == nil || c.rdb == nil {
		return 0, errNotInitialized
	}
	n, err := c.rdb.LLen(ctx, KeyRecordQueue).Result()
	if err != nil {
		return 0, fmt.Errorf("llen records: %w", err)
	}
	metrics.RecordQueueDepth.Set(float64(n))
	return n, nil
}

// QueueStats 队列统计信息
type QueueStats struct {
	QueueLen      int64 `json:"queue_len"`      // 待持久化记录数
	ProcessingLen int64 `json:"processing_len"` // 已取出未 Ack 的记录数
}

// GetQueueStats 获取队列统计信息，由 /api/v1/system/status 调用。
func (c *Client) GetQueueStats(ctx context.Context) (*QueueStats, error) {
	if c == nil || c.rdb == nil {
		return nil, errNotInitialized
	}

	stats := &QueueStats{}
	// Depth 同时刷新队列深度指标
	if v, err := c.Depth(ctx); err == nil {
		stats.QueueLen = v
	}
	if v, err := c.rdb.LLen(ctx, KeyRecordProcessingQueue).Result(); err == nil {
		stats.ProcessingLen = v
	}
	return stats, nil
}

// Close closes the underlying redis client.
func (c *Client) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}
