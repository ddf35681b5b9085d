package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy 指数退避策略（纯计算，无状态）
// delay = min(base * multiplier^(attempt-1), max) + random(0, jitterMax)
type Policy struct {
	Base       time.Duration // 基础延迟
	Max        time.Duration // 延迟上限（不含抖动）
	Multiplier float64       // 指数倍率
	JitterMax  time.Duration // 抖动上限，避免惊群效应
}

// Default 默认策略：1s 起步，2 倍递增，30s 封顶，250ms 抖动
func Default() Policy {
	return Policy{
		Base:       time.Second,
		Max:        30 * time.Second,
		Multiplier: 2,
		JitterMax:  250 * time.Millisecond,
	}
}

// Next 计算第 attempt 次重试的延迟，attempt 从 1 开始
func (p Policy) Next(attempt int) time.Duration {
	return p.NextWithRand(attempt, nil)
}

// NextWithRand 同 Next，但可注入随机源（测试时固定种子保证确定性）
func (p Policy) NextWithRand(attempt int, rng *rand.Rand) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	base := p.Base
	if base <= 0 {
		base = time.Second
	}

	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}

	// 浮点计算避免整数溢出，超过上限直接截断
	delay := float64(base) * math.Pow(multiplier, float64(attempt-1))
	if p.Max > 0 && delay > float64(p.Max) {
		delay = float64(p.Max)
	}

	return time.Duration(delay) + p.jitter(rng)
}

// jitter 返回 [0, JitterMax) 区间的随机抖动
func (p Policy) jitter(rng *rand.Rand) time.Duration {
	if p.JitterMax <= 0 {
		return 0
	}
	if rng != nil {
		return time.Duration(rng.Int63n(int64(p.JitterMax)))
	}
	return time.Duration(rand.Int63n(int64(p.JitterMax)))
}
