package monitor

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 指标收集器
type Metrics struct {
	connectTotal      prometheus.Counter
	disconnectTotal   *prometheus.CounterVec
	reconnectAttempts prometheus.Counter
	reconnectFailed   prometheus.Counter
	framesReceived    prometheus.Counter
	framesDispatched  prometheus.Counter
	wireOps           *prometheus.CounterVec
	activeConnections prometheus.Gauge
	activeChannels    prometheus.Gauge
	coarseStatus      prometheus.Gauge
	natsConnected     prometheus.Gauge
	journalWrites     *prometheus.CounterVec
	journalQueueSize  prometheus.Gauge
}

// NewMetrics 创建指标收集器
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		connectTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_total",
			Help:      "Total number of successful websocket connects",
		}),
		disconnectTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disconnect_total",
			Help:      "Total number of websocket disconnects",
		}, []string{"clean"}),
		reconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Total number of reconnect attempts scheduled",
		}),
		reconnectFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_failed_total",
			Help:      "Total number of connections torn down after exhausting retries",
		}),
		framesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Total number of inbound frames read",
		}),
		framesDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dispatched_total",
			Help:      "Total number of frames fanned out to subscribers",
		}),
		wireOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wire_ops_total",
			Help:      "Total number of wire-level subscribe/unsubscribe frames sent",
		}, []string{"op"}),
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Current number of registered connections",
		}),
		activeChannels: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "channels_active",
			Help:      "Current number of multiplexed channels",
		}),
		coarseStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "coarse_status",
			Help:      "Process-wide realtime status (2=connected, 1=reconnecting, 0=disconnected)",
		}),
		natsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "nats_connected",
			Help:      "NATS connection status (1=connected, 0=disconnected)",
		}),
		journalWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "journal_writes_total",
			Help:      "Total number of lifecycle events written to the journal",
		}, []string{"status"}),
		journalQueueSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "journal_queue_size",
			Help:      "Current size of the journal write queue",
		}),
	}
}

// Register 注册所有指标到 Prometheus
func (m *Metrics) Register() {
	prometheus.MustRegister(
		m.connectTotal,
		m.disconnectTotal,
		m.reconnectAttempts,
		m.reconnectFailed,
		m.framesReceived,
		m.framesDispatched,
		m.wireOps,
		m.activeConnections,
		m.activeChannels,
		m.coarseStatus,
		m.natsConnected,
		m.journalWrites,
		m.journalQueueSize,
	)
}

var (
	metricsInstance *Metrics
	metricsOnce     sync.Once
)

// GetMetrics 返回全局指标单例（未 Init 时惰性创建但不注册）
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = NewMetrics("airvista_realtime")
	})
	return metricsInstance
}

// InitMetrics 初始化并注册全局指标，main 启动时调用一次
func InitMetrics() {
	GetMetrics().Register()
}
