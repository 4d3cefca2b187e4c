package diagnostics

import (
	"sync"
	"time"
)

// TimelineMark 单个阶段的时间记录
type TimelineMark struct {
	Stage       string `json:"stage"`
	TimestampMs int64  `json:"timestamp_ms"` // Unix 毫秒
	ElapsedMs   int64  `json:"elapsed_ms"`   // 自 Timeline 创建起
}

// Timeline 记录单次请求生命周期各阶段的耗时。
// 耗时基于单调时钟；同名阶段可重复 Mark，每次都是独立读数。
type Timeline struct {
	mu    sync.Mutex
	clock func() time.Time
	start time.Time
	marks []TimelineMark
}

// NewTimeline 以当前时间为起点创建 Timeline
func NewTimeline() *Timeline {
	return NewTimelineWithClock(time.Now)
}

// NewTimelineWithClock 使用自定义时钟（测试用）
func NewTimelineWithClock(clock func() time.Time) *Timeline {
	if clock == nil {
		clock = time.Now
	}
	return &Timeline{
		clock: clock,
		start: clock(),
	}
}

// Mark 记录阶段并返回当下的读数
func (t *Timeline) Mark(stage string) TimelineMark {
	now := t.clock()
	m := TimelineMark{
		Stage:       stage,
		TimestampMs: now.UnixMilli(),
		ElapsedMs:   now.Sub(t.start).Milliseconds(),
	}
	t.mu.Lock()
	t.marks = append(t.marks, m)
	t.mu.Unlock()
	return m
}

// Elapsed 返回自创建起经过的时间
func (t *Timeline) Elapsed() time.Duration {
	return t.clock().Sub(t.start)
}

// ElapsedMs 返回自创建起经过的毫秒数
func (t *Timeline) ElapsedMs() int64 {
	return t.Elapsed().Milliseconds()
}

// Marks 返回已记录阶段的副本
func (t *Timeline) Marks() []TimelineMark {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TimelineMark, len(t.marks))
	copy(out, t.marks)
	return out
}
