package journal

import (
	"sync"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/airvista/airvista-realtime/internal/monitor"
	"github.com/airvista/airvista-realtime/internal/realtime"
	"github.com/airvista/airvista-realtime/pkg/logger"
)

// ConnectionEvent 连接生命周期事件记录
type ConnectionEvent struct {
	ID           uint   `gorm:"primaryKey"`
	Type         string `gorm:"size:32;index"`
	ConnectionID string `gorm:"size:255;index"`
	Endpoint     string `gorm:"size:512"`
	Code         int
	Reason       string `gorm:"size:512"`
	WasClean     bool
	Attempt      int
	Error        string    `gorm:"size:512"`
	CreatedAt    time.Time `gorm:"index"`
}

// TableName 指定表名
func (ConnectionEvent) TableName() string {
	return "rt_connection_events"
}

// Journal 生命周期事件日志：异步落库，队列满时同步降级，
// 供运维排查连接抖动的历史轨迹
type Journal struct {
	db    *gorm.DB
	queue chan *ConnectionEvent
	done  chan struct{}
	wg    sync.WaitGroup
}

// Open 打开（或创建）sqlite 事件库并启动写入协程
func Open(path string, queueSize int) (*Journal, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err = db.AutoMigrate(&ConnectionEvent{}); err != nil {
		return nil, err
	}

	if queueSize <= 0 {
		queueSize = 1024
	}

	j := &Journal{
		db:    db,
		queue: make(chan *ConnectionEvent, queueSize),
		done:  make(chan struct{}),
	}
	j.wg.Add(1)
	go j.worker()

	return j, nil
}

// OnEvent 实现 realtime 事件监听接口
func (j *Journal) OnEvent(e realtime.Event) {
	j.Record(e)
}

// Record 记录事件（带背压策略：队列满时同步降级写入）
func (j *Journal) Record(e realtime.Event) {
	rec := &ConnectionEvent{
		Type:         string(e.Type),
		ConnectionID: e.ConnectionID,
		Endpoint:     e.Endpoint,
		Code:         e.Code,
		Reason:       e.Reason,
		WasClean:     e.WasClean,
		Attempt:      e.Attempt,
		CreatedAt:    e.Timestamp,
	}
	if e.Err != nil {
		rec.Error = e.Err.Error()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	select {
	case j.queue <- rec:
		monitor.SetJournalQueueSize(len(j.queue))
	default:
		logger.Warn().Str("type", rec.Type).Int("queue_size", len(j.queue)).
			Msg("journal queue full, falling back to sync write")
		j.insert(rec)
	}
}

func (j *Journal) worker() {
	defer j.wg.Done()
	for {
		select {
		case rec := <-j.queue:
			j.insert(rec)
			monitor.SetJournalQueueSize(len(j.queue))
		case <-j.done:
			// 退出前清空积压，避免丢事件
			for {
				select {
				case rec := <-j.queue:
					j.insert(rec)
				default:
					return
				}
			}
		}
	}
}

func (j *Journal) insert(rec *ConnectionEvent) {
	if err := j.db.Create(rec).Error; err != nil {
		monitor.IncJournalWrite("error")
		logger.Error().Err(err).Str("type", rec.Type).Msg("journal write failed")
		return
	}
	monitor.IncJournalWrite("ok")
}

// Prune 删除超过保留期的历史记录，返回删除行数
func (j *Journal) Prune(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	result := j.db.Where("created_at < ?", cutoff).Delete(&ConnectionEvent{})
	return result.RowsAffected, result.Error
}

// Recent 按时间倒序返回最近的事件记录
func (j *Journal) Recent(limit int) ([]*ConnectionEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var events []*ConnectionEvent
	err := j.db.Order("created_at DESC").Limit(limit).Find(&events).Error
	return events, err
}

// Close 停止写入协程
func (j *Journal) Close() {
	close(j.done)
	j.wg.Wait()
}
