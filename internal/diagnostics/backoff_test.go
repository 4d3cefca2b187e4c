package diagnostics

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffCalculator_Range(t *testing.T) {
	b := NewBackoffCalculator(5*time.Second, 5*time.Minute, rand.New(rand.NewSource(7)))

	seen := make(map[int64]bool)
	for i := 0; i < 1000; i++ {
		h := b.Compute()
		assert.Equal(t, int64(5000), h.BaseDelayMs)
		assert.Equal(t, int64(300000), h.MaxDelayMs)
		assert.GreaterOrEqual(t, h.JitterFactor, 0.85)
		assert.Less(t, h.JitterFactor, 1.15)
		assert.GreaterOrEqual(t, h.SuggestedDelayMs, int64(4250))
		assert.LessOrEqual(t, h.SuggestedDelayMs, int64(5750))
		seen[h.SuggestedDelayMs] = true
	}
	assert.Greater(t, len(seen), 100, "jitter must vary between calls")
}

func TestBackoffCalculator_Defaults(t *testing.T) {
	h := NewBackoffCalculator(0, -1, nil).Compute()
	assert.Equal(t, DefaultBackoffBase.Milliseconds(), h.BaseDelayMs)
	assert.Equal(t, DefaultBackoffMax.Milliseconds(), h.MaxDelayMs)
}

func TestBackoffCalculator_CappedAtMax(t *testing.T) {
	b := NewBackoffCalculator(10*time.Second, 5*time.Second, rand.New(rand.NewSource(1)))
	for i := 0; i < 100; i++ {
		assert.Equal(t, int64(5000), b.Compute().SuggestedDelayMs)
	}
}

func TestBackoffCalculator_Rounds(t *testing.T) {
	b := NewBackoffCalculator(3*time.Millisecond, time.Second, rand.New(rand.NewSource(3)))
	for i := 0; i < 100; i++ {
		// 3ms * [0.85, 1.15) 四舍五入后恒为 3
		assert.Equal(t, int64(3), b.Compute().SuggestedDelayMs)
	}
}

func TestBackoffCalculator_Concurrent(t *testing.T) {
	b := NewBackoffCalculator(0, 0, nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				h := b.Compute()
				assert.LessOrEqual(t, h.SuggestedDelayMs, h.MaxDelayMs)
			}
		}()
	}
	wg.Wait()
}
