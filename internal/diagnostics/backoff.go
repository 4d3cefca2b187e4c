package diagnostics

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"crawldiag/internal/pkg/metrics"
)

const (
	DefaultBackoffBase = 5 * time.Second
	DefaultBackoffMax  = 5 * time.Minute

	jitterMin = 0.85
	jitterMax = 1.15
)

// BackoffCalculator 为限流场景生成带抖动的延迟建议。
// 每次调用重新计算，避免多个 worker 同时重试（惊群）。
type BackoffCalculator struct {
	base time.Duration
	max  time.Duration

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewBackoffCalculator 创建计算器；rnd 为 nil 时使用基于时间的随机源。
func NewBackoffCalculator(base, max time.Duration, rnd *rand.Rand) *BackoffCalculator {
	if base <= 0 {
		base = DefaultBackoffBase
	}
	if max <= 0 {
		max = DefaultBackoffMax
	}
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &BackoffCalculator{base: base, max: max, rnd: rnd}
}

// Compute 返回一次新的延迟建议
func (b *BackoffCalculator) Compute() BackoffHint {
	b.mu.Lock()
	jitter := jitterMin + b.rnd.Float64()*(jitterMax-jitterMin)
	b.mu.Unlock()

	baseMs := b.base.Milliseconds()
	maxMs := b.max.Milliseconds()
	suggested := int64(math.Round(float64(baseMs) * jitter))
	if suggested > maxMs {
		suggested = maxMs
	}
	metrics.BackoffDelay.Observe(float64(suggested) / 1000)

	return BackoffHint{
		BaseDelayMs:      baseMs,
		MaxDelayMs:       maxMs,
		JitterFactor:     jitter,
		SuggestedDelayMs: suggested,
	}
}
