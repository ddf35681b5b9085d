package sweeper

import (
	"time"

	"github.com/airvista/airvista-realtime/internal/journal"
	"github.com/airvista/airvista-realtime/internal/realtime"
	"github.com/airvista/airvista-realtime/pkg/goplus"
	"github.com/airvista/airvista-realtime/pkg/logger"
)

// Sweeper 空闲清扫器：定时关闭长期无活动的连接并裁剪事件日志
type Sweeper struct {
	mgr       *realtime.Manager
	journal   *journal.Journal // 可为 nil（未启用事件日志）
	interval  time.Duration    // 清扫间隔
	maxIdle   time.Duration    // 连接空闲阈值
	retention time.Duration    // 事件日志保留期
	done      chan struct{}
}

// NewSweeper 创建清扫器
func NewSweeper(mgr *realtime.Manager, jnl *journal.Journal, interval, maxIdle, retention time.Duration) *Sweeper {
	return &Sweeper{
		mgr:       mgr,
		journal:   jnl,
		interval:  interval,
		maxIdle:   maxIdle,
		retention: retention,
		done:      make(chan struct{}),
	}
}

// Start 启动清扫任务
func (s *Sweeper) Start() {
	goplus.Go(func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		logger.Info().Dur("interval", s.interval).Dur("max_idle", s.maxIdle).Msg("sweeper started")

		for {
			select {
			case <-ticker.C:
				s.sweep()
			case <-s.done:
				logger.Info().Msg("sweeper stopped")
				return
			}
		}
	})
}

// Stop 停止清扫器
func (s *Sweeper) Stop() {
	close(s.done)
}

// SweepNow 立即执行一次清扫（内存压力下可主动触发）
func (s *Sweeper) SweepNow() {
	s.sweep()
}

func (s *Sweeper) sweep() {
	if closed := s.mgr.CleanupIdle(s.maxIdle); closed > 0 {
		logger.Info().Int("closed", closed).Msg("idle connections swept")
	}

	if s.journal != nil && s.retention > 0 {
		deleted, err := s.journal.Prune(s.retention)
		if err != nil {
			logger.Error().Err(err).Msg("journal prune failed")
		} else if deleted > 0 {
			logger.Debug().Int64("deleted", deleted).Msg("journal pruned")
		}
	}
}
