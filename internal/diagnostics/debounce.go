package diagnostics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"crawldiag/internal/pkg/metrics"
)

const (
	DefaultDebounceCooldown        = 5 * time.Second
	DefaultNetworkDebounceCooldown = 10 * time.Second // retry_with_delay 最吵，加宽窗口
	DefaultDebounceTTL             = time.Minute
)

// DebounceKey 去重键。使用结构体而非拼接字符串，避免 ID 中出现分隔符时发生碰撞。
type DebounceKey struct {
	RequestID  string
	Suggestion string
}

// Debouncer 在冷却窗口内抑制同一请求的重复建议日志。
// 只影响 Result.ShouldLog，不改变分类本身。
type Debouncer interface {
	ShouldEmit(requestID, suggestion string, cooldown time.Duration) bool
}

// CooldownPolicy 不同建议类型使用不同冷却时间
type CooldownPolicy struct {
	Default   time.Duration
	PerAction map[Action]time.Duration
}

// DefaultCooldownPolicy 默认 5s，retry_with_delay 10s
func DefaultCooldownPolicy() CooldownPolicy {
	return CooldownPolicy{
		Default: DefaultDebounceCooldown,
		PerAction: map[Action]time.Duration{
			ActionRetryWithDelay: DefaultNetworkDebounceCooldown,
		},
	}
}

// For 返回指定动作的冷却时间
func (p CooldownPolicy) For(action Action) time.Duration {
	if d, ok := p.PerAction[action]; ok && d > 0 {
		return d
	}
	if p.Default > 0 {
		return p.Default
	}
	return DefaultDebounceCooldown
}

// Max 返回策略中最长的冷却时间
func (p CooldownPolicy) Max() time.Duration {
	m := p.For("")
	for _, d := range p.PerAction {
		if d > m {
			m = d
		}
	}
	return m
}

type debounceEntry struct {
	emittedAt time.Time
	cooldown  time.Duration
}

// MemoryDebouncer 进程内去重器，由单次爬取运行持有并传给 Classifier。
//
// 检查与写入在同一把锁内完成，两个几乎同时的调用不会都判定为"已过期"。
// 条目在超过 max(冷却时间, ttl) 后由 Prune 淘汰，内存不会无限增长。
type MemoryDebouncer struct {
	mu      sync.Mutex
	entries map[DebounceKey]debounceEntry
	ttl     time.Duration
	clock   func() time.Time
	logger  *slog.Logger
}

// NewMemoryDebouncer 创建进程内去重器
func NewMemoryDebouncer(ttl time.Duration, logger *slog.Logger) *MemoryDebouncer {
	return NewMemoryDebouncerWithClock(ttl, logger, time.Now)
}

// NewMemoryDebouncerWithClock 使用自定义时钟（测试用）
func NewMemoryDebouncerWithClock(ttl time.Duration, logger *slog.Logger, clock func() time.Time) *MemoryDebouncer {
	if ttl <= 0 {
		ttl = DefaultDebounceTTL
	}
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &MemoryDebouncer{
		entries: make(map[DebounceKey]debounceEntry),
		ttl:     ttl,
		clock:   clock,
		logger:  logger,
	}
}

// ShouldEmit 无记录或上次发出已超过冷却时间时返回 true 并记录当前时间；
// 否则返回 false 且不更新时间戳（窗口从上一次成功发出开始计算）。
func (d *MemoryDebouncer) ShouldEmit(requestID, suggestion string, cooldown time.Duration) bool {
	if cooldown <= 0 {
		cooldown = DefaultDebounceCooldown
	}
	key := DebounceKey{RequestID: requestID, Suggestion: suggestion}
	now := d.clock()

	d.mu.Lock()
	defer d.mu.Unlock()

	if prev, ok := d.entries[key]; ok && now.Sub(prev.emittedAt) < cooldown {
		return false
	}
	if _, existed := d.entries[key]; !existed {
		metrics.DebounceEntries.Inc()
	}
	d.entries[key] = debounceEntry{emittedAt: now, cooldown: cooldown}
	return true
}

// Prune 淘汰过期条目，返回淘汰数量
func (d *MemoryDebouncer) Prune() int {
	now := d.clock()

	d.mu.Lock()
	defer d.mu.Unlock()

	removed := 0
	for key, e := range d.entries {
		keep := e.cooldown
		if d.ttl > keep {
			keep = d.ttl
		}
		if now.Sub(e.emittedAt) >= keep {
			delete(d.entries, key)
			removed++
		}
	}
	if removed > 0 {
		metrics.DebounceEntries.Sub(float64(removed))
		metrics.DebounceEvictionsTotal.Add(float64(removed))
	}
	return removed
}

// Len 当前条目数
func (d *MemoryDebouncer) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// StartJanitor 周期性调用 Prune，直到 ctx 结束
func (d *MemoryDebouncer) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = d.ttl
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := d.Prune(); n > 0 {
				d.logger.Debug("debounce entries pruned",
					slog.Int("removed", n),
					slog.Int("remaining", d.Len()))
			}
		}
	}
}
