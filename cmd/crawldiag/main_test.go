package main

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"crawldiag/internal/config"
	"crawldiag/internal/diagnostics"
	"crawldiag/internal/pkg/recordqueue"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecord(id string) *diagnostics.Record {
	rec := diagnostics.NewRecord(diagnostics.RecordInput{
		Bundle: diagnostics.SignalBundle{RequestURL: "https://shop.example.com/"},
		Result: diagnostics.Result{Type: diagnostics.TypeBlocked},
	}, nil)
	rec.ID = id
	return rec
}

func redisConfig(t *testing.T) (*config.Config, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	cfg := config.DefaultConfig()
	cfg.Redis.Addr = mr.Addr()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return cfg, rdb
}

func TestInitBackends_LeavesInFlightRecordsAlone(t *testing.T) {
	cfg, rdb := redisConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 消费端已取出 r1，尚未 Ack
	consumer, err := recordqueue.NewClientWithRedis(rdb)
	require.NoError(t, err)
	require.NoError(t, consumer.PushRecord(ctx, testRecord("r1")))
	first, err := consumer.PopRecord(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "r1", first.ID)

	bk, err := initBackends(ctx, cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	defer bk.Close()
	require.NotNil(t, bk.queue)

	stats, err := bk.queue.GetQueueStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.QueueLen)
	assert.Equal(t, int64(1), stats.ProcessingLen)

	_, err = consumer.PopRecord(ctx, 50*time.Millisecond)
	assert.ErrorIs(t, err, recordqueue.ErrNoRecord, "record must not be delivered twice")
}

func TestRunRecover(t *testing.T) {
	cfg, rdb := redisConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumer, err := recordqueue.NewClientWithRedis(rdb)
	require.NoError(t, err)
	require.NoError(t, consumer.PushRecord(ctx, testRecord("r1")))
	_, err = consumer.PopRecord(ctx, time.Second)
	require.NoError(t, err)

	require.NoError(t, runRecover(ctx, cfg, slog.New(slog.DiscardHandler)))

	again, err := consumer.PopRecord(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "r1", again.ID)
}

func TestRunRecover_RequiresRedis(t *testing.T) {
	err := runRecover(context.Background(), config.DefaultConfig(), slog.New(slog.DiscardHandler))
	assert.ErrorContains(t, err, "redis.addr")
}
