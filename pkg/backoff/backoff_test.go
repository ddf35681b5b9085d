package backoff

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPolicy_Next_Monotonic(t *testing.T) {
	p := Policy{
		Base:       time.Second,
		Max:        30 * time.Second,
		Multiplier: 2,
		JitterMax:  0, // 关闭抖动，验证单调性
	}

	prev := time.Duration(0)
	for attempt := 1; attempt <= 10; attempt++ {
		d := p.Next(attempt)
		assert.GreaterOrEqual(t, d, prev, "attempt %d", attempt)
		prev = d
	}
}

func TestPolicy_Next_Cap(t *testing.T) {
	p := Default()

	// 任意次数都不应超过 Max + JitterMax
	for attempt := 1; attempt <= 100; attempt++ {
		d := p.Next(attempt)
		assert.LessOrEqual(t, d, p.Max+p.JitterMax)
		assert.GreaterOrEqual(t, d, time.Duration(0))
	}
}

func TestPolicy_Next_Sequence(t *testing.T) {
	p := Policy{
		Base:       time.Second,
		Max:        30 * time.Second,
		Multiplier: 2,
	}

	// 1s, 2s, 4s, 8s, 16s, 30s(封顶)
	assert.Equal(t, 1*time.Second, p.Next(1))
	assert.Equal(t, 2*time.Second, p.Next(2))
	assert.Equal(t, 4*time.Second, p.Next(3))
	assert.Equal(t, 8*time.Second, p.Next(4))
	assert.Equal(t, 16*time.Second, p.Next(5))
	assert.Equal(t, 30*time.Second, p.Next(6))
	assert.Equal(t, 30*time.Second, p.Next(20))
}

func TestPolicy_NextWithRand_Deterministic(t *testing.T) {
	p := Default()

	// 固定种子时结果必须可复现
	a := p.NextWithRand(3, rand.New(rand.NewSource(42)))
	b := p.NextWithRand(3, rand.New(rand.NewSource(42)))
	assert.Equal(t, a, b)

	// 抖动落在 [0, JitterMax) 区间
	base := 4 * time.Second
	assert.GreaterOrEqual(t, a, base)
	assert.Less(t, a, base+p.JitterMax)
}

func TestPolicy_Next_InvalidAttempt(t *testing.T) {
	p := Policy{Base: time.Second, Max: 30 * time.Second, Multiplier: 2}

	// attempt < 1 按 1 处理
	assert.Equal(t, p.Next(1), p.Next(0))
	assert.Equal(t, p.Next(1), p.Next(-5))
}

func TestPolicy_ZeroValue(t *testing.T) {
	var p Policy

	// 零值策略退化为固定 1s，不会 panic
	assert.Equal(t, time.Second, p.Next(1))
	assert.Equal(t, time.Second, p.Next(5))
}
