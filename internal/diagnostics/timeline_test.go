package diagnostics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeline_Marks(t *testing.T) {
	clock := newFakeClock()
	tl := NewTimelineWithClock(clock.Now)
	start := clock.Now()

	clock.Advance(120 * time.Millisecond)
	m := tl.Mark("navigated")
	assert.Equal(t, "navigated", m.Stage)
	assert.Equal(t, int64(120), m.ElapsedMs)
	assert.Equal(t, start.Add(120*time.Millisecond).UnixMilli(), m.TimestampMs)

	clock.Advance(30 * time.Millisecond)
	tl.Mark("retry")
	clock.Advance(50 * time.Millisecond)
	tl.Mark("retry")

	marks := tl.Marks()
	require.Len(t, marks, 3)
	assert.Equal(t, int64(150), marks[1].ElapsedMs)
	assert.Equal(t, int64(200), marks[2].ElapsedMs, "repeated stage is a separate reading")
	assert.Equal(t, int64(200), tl.ElapsedMs())
	assert.Equal(t, 200*time.Millisecond, tl.Elapsed())

	// 返回的是副本
	marks[0].Stage = "changed"
	assert.Equal(t, "navigated", tl.Marks()[0].Stage)
}

func TestTimeline_RealClock(t *testing.T) {
	tl := NewTimeline()
	time.Sleep(5 * time.Millisecond)
	m := tl.Mark("loaded")

	assert.GreaterOrEqual(t, m.ElapsedMs, int64(5))
	assert.GreaterOrEqual(t, tl.ElapsedMs(), m.ElapsedMs)
}

func TestTimeline_ConcurrentMark(t *testing.T) {
	tl := NewTimeline()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tl.Mark("stage")
		}()
	}
	wg.Wait()

	assert.Len(t, tl.Marks(), 50)
}
