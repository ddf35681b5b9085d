package realtime

import "time"

// EventType 连接生命周期事件类型
type EventType string

const (
	EventConnect         EventType = "connect"
	EventDisconnect      EventType = "disconnect"
	EventError           EventType = "error"
	EventReconnecting    EventType = "reconnecting"
	EventReconnectFailed EventType = "reconnect_failed"
	EventCleanup         EventType = "cleanup"
)

// Event 生命周期事件
type Event struct {
	Type         EventType
	ConnectionID string
	Endpoint     string
	Code         int    // 关闭码（仅 disconnect）
	Reason       string // 关闭原因
	WasClean     bool   // 是否正常关闭
	Err          error  // 仅 error / reconnect_failed
	Attempt      int    // 重连次数（仅 reconnecting）
	Timestamp    time.Time
}

// Listener 事件监听器
type Listener interface {
	OnEvent(Event)
}

// ListenerFunc 函数适配器
type ListenerFunc func(Event)

func (f ListenerFunc) OnEvent(e Event) {
	f(e)
}
