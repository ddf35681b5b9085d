package monitor

import "strconv"

// 便捷函数供外部调用，无需访问 Metrics 实例

// IncConnectTotal 连接成功计数
func IncConnectTotal() {
	GetMetrics().connectTotal.Inc()
}

// IncDisconnect 断连计数（按是否正常关闭）
func IncDisconnect(clean bool) {
	GetMetrics().disconnectTotal.WithLabelValues(strconv.FormatBool(clean)).Inc()
}

// IncReconnectAttempt 重连调度计数
func IncReconnectAttempt() {
	GetMetrics().reconnectAttempts.Inc()
}

// IncReconnectFailed 重连耗尽计数
func IncReconnectFailed() {
	GetMetrics().reconnectFailed.Inc()
}

// IncFramesReceived 入站帧计数
func IncFramesReceived() {
	GetMetrics().framesReceived.Inc()
}

// AddFramesDispatched 分发帧计数
func AddFramesDispatched(n int) {
	GetMetrics().framesDispatched.Add(float64(n))
}

// IncWireOp 线上订阅指令计数（subscribe/unsubscribe）
func IncWireOp(op string) {
	GetMetrics().wireOps.WithLabelValues(op).Inc()
}

// SetActiveConnections 当前注册连接数
func SetActiveConnections(n int) {
	GetMetrics().activeConnections.Set(float64(n))
}

// SetActiveChannels 当前复用频道数
func SetActiveChannels(n int) {
	GetMetrics().activeChannels.Set(float64(n))
}

// SetCoarseStatus 进程级粗粒度状态（2=connected, 1=reconnecting, 0=disconnected）
func SetCoarseStatus(v int) {
	GetMetrics().coarseStatus.Set(float64(v))
}

// SetNATSConnected NATS 连接状态
func SetNATSConnected(connected bool) {
	v := 0.0
	if connected {
		v = 1.0
	}
	GetMetrics().natsConnected.Set(v)
}

// IncJournalWrite 事件落库计数（ok/error/dropped）
func IncJournalWrite(status string) {
	GetMetrics().journalWrites.WithLabelValues(status).Inc()
}

// SetJournalQueueSize 事件队列当前大小
func SetJournalQueueSize(n int) {
	GetMetrics().journalQueueSize.Set(float64(n))
}
