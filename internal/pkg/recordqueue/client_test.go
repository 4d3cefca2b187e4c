package recordqueue

import (
	"context"
	"testing"
	"time"

	"crawldiag/internal/diagnostics"
	"crawldiag/internal/pkg/metrics"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
)

func newTestClient(t *testing.T) (*Client, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	client, err := NewClientWithRedis(rdb)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	return client, rdb
}

func sampleRecord() *diagnostics.Record {
	return diagnostics.NewRecord(diagnostics.RecordInput{
		Bundle: diagnostics.SignalBundle{
			StatusCode: diagnostics.IntPtr(429),
			RequestURL: "https://shop.example.com/item/1",
			RequestID:  diagnostics.StringPtr("req-1"),
		},
		Result: diagnostics.Result{
			Type:            diagnostics.TypeRateLimited,
			Confidence:      diagnostics.ConfidenceHigh,
			SuggestedAction: diagnostics.ActionExponentialBackoff,
			IsRootCause:     true,
		},
		Payload: diagnostics.Payload{
			Headers: map[string]string{"Authorization": "Bearer secret"},
		},
	}, nil)
}

func TestClient_RecordFlow(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	rec := sampleRecord()
	if err := client.PushRecord(ctx, rec); err != nil {
		t.Fatalf("PushRecord failed: %v", err)
	}

	depth, err := client.Depth(ctx)
	if err != nil {
		t.Fatalf("Depth failed: %v", err)
	}
	if depth != 1 {
		t.Errorf("expected depth 1, got %d", depth)
	}

	popped, err := client.PopRecord(ctx, time.Second)
	if err != nil {
		t.Fatalf("PopRecord failed: %v", err)
	}
	if popped.ID != rec.ID {
		t.Errorf("record id mismatch: expected %s, got %s", rec.ID, popped.ID)
	}
	if popped.Result.Type != diagnostics.TypeRateLimited {
		t.Errorf("expected RATE_LIMITED, got %s", popped.Result.Type)
	}
	if popped.RequestID != "req-1" {
		t.Errorf("expected request id req-1, got %q", popped.RequestID)
	}
	if got := popped.Payload.Headers["Authorization"]; got != diagnostics.RedactedMarker {
		t.Errorf("payload should be sanitized before queueing, got %q", got)
	}
}

func TestClient_PopRecord_Empty(t *testing.T) {
	client, _ := newTestClient(t)

	_, err := client.PopRecord(context.Background(), 100*time.Millisecond)
	if err != ErrNoRecord {
		t.Errorf("expected ErrNoRecord, got %v", err)
	}
}

func TestClient_AckRecord(t *testing.T) {
	client, rdb := newTestClient(t)
	ctx := context.Background()

	rec := sampleRecord()
	if err := client.PushRecord(ctx, rec); err != nil {
		t.Fatalf("PushRecord failed: %v", err)
	}
	popped, err := client.PopRecord(ctx, time.Second)
	if err != nil {
		t.Fatalf("PopRecord failed: %v", err)
	}

	procLen, _ := rdb.LLen(ctx, KeyRecordProcessingQueue).Result()
	if procLen != 1 {
		t.Fatalf("expected 1 record in processing queue, got %d", procLen)
	}
	exists, _ := rdb.HExists(ctx, KeyRecordStartedHash, rec.ID).Result()
	if !exists {
		t.Errorf("started hash should contain popped record")
	}

	removed, err := client.AckRecord(ctx, popped)
	if err != nil {
		t.Fatalf("AckRecord failed: %v", err)
	}
	if !removed {
		t.Errorf("AckRecord should report removal")
	}

	procLen, _ = rdb.LLen(ctx, KeyRecordProcessingQueue).Result()
	if procLen != 0 {
		t.Errorf("processing queue should be empty after ack, got %d", procLen)
	}
	exists, _ = rdb.HExists(ctx, KeyRecordStartedHash, rec.ID).Result()
	if exists {
		t.Errorf("started hash should be cleared after ack")
	}

	// 重复 Ack 不报错
	removed, err = client.AckRecord(ctx, popped)
	if err != nil {
		t.Fatalf("second AckRecord failed: %v", err)
	}
	if removed {
		t.Errorf("second AckRecord should not remove anything")
	}
}

func TestClient_RecoverOrphanedRecords(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := client.PushRecord(ctx, sampleRecord()); err != nil {
			t.Fatalf("PushRecord %d failed: %v", i, err)
		}
	}
	for i := 0; i < 2; i++ {
		if _, err := client.PopRecord(ctx, time.Second); err != nil {
			t.Fatalf("PopRecord %d failed: %v", i, err)
		}
	}

	stats, err := client.GetQueueStats(ctx)
	if err != nil {
		t.Fatalf("GetQueueStats failed: %v", err)
	}
	if stats.QueueLen != 1 || stats.ProcessingLen != 2 {
		t.Errorf("expected 1 queued / 2 processing, got %d / %d", stats.QueueLen, stats.ProcessingLen)
	}

	recovered, err := client.RecoverOrphanedRecords(ctx)
	if err != nil {
		t.Fatalf("RecoverOrphanedRecords failed: %v", err)
	}
	if recovered != 2 {
		t.Errorf("expected 2 recovered, got %d", recovered)
	}

	stats, _ = client.GetQueueStats(ctx)
	if stats.QueueLen != 3 || stats.ProcessingLen != 0 {
		t.Errorf("expected 3 queued / 0 processing after recovery, got %d / %d", stats.QueueLen, stats.ProcessingLen)
	}
}

func TestClient_GetQueueStats_UpdatesDepthGauge(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if err := client.PushRecord(ctx, sampleRecord()); err != nil {
			t.Fatalf("PushRecord %d failed: %v", i, err)
		}
	}
	if _, err := client.GetQueueStats(ctx); err != nil {
		t.Fatalf("GetQueueStats failed: %v", err)
	}
	if got := testutil.ToFloat64(metrics.RecordQueueDepth); got != 4 {
		t.Errorf("expected queue depth gauge 4, got %v", got)
	}
}

func TestClient_Validation(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	if err := client.PushRecord(ctx, nil); err == nil {
		t.Errorf("PushRecord(nil) should fail")
	}
	if err := client.PushRecord(ctx, &diagnostics.Record{}); err == nil {
		t.Errorf("PushRecord without id should fail")
	}

	var nilClient *Client
	if _, err := nilClient.Depth(ctx); err == nil {
		t.Errorf("nil client should fail")
	}
}
