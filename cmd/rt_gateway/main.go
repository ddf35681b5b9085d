package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/airvista/airvista-realtime/config"
	"github.com/airvista/airvista-realtime/internal/journal"
	"github.com/airvista/airvista-realtime/internal/monitor"
	"github.com/airvista/airvista-realtime/internal/mux"
	"github.com/airvista/airvista-realtime/internal/nats"
	"github.com/airvista/airvista-realtime/internal/realtime"
	"github.com/airvista/airvista-realtime/internal/status"
	"github.com/airvista/airvista-realtime/internal/sweeper"
	"github.com/airvista/airvista-realtime/pkg/logger"
	"github.com/airvista/airvista-realtime/pkg/sigproc"
)

func main() {
	var configFile string
	flag.StringVar(&configFile, "config", "cfg.toml", "config file path")
	flag.Parse()

	// 加载配置
	if err := config.Init(configFile); err != nil {
		panic(err)
	}
	cfg := config.Get()

	// 初始化日志
	if err := initLogger(cfg); err != nil {
		panic("init logger failed: " + err.Error())
	}
	defer logger.Close()

	logger.Info().Msg("rt_gateway service starting...")

	// 初始化指标
	monitor.InitMetrics()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 创建连接管理器
	mgr := realtime.NewManager()

	// 初始化事件日志（本地 sqlite）
	var jnl *journal.Journal
	if cfg.Journal.Enabled {
		var err error
		jnl, err = journal.Open(cfg.Journal.Path, cfg.Journal.QueueSize)
		if err != nil {
			logger.Fatal().Err(err).Msg("open event journal failed")
		}
		mgr.AddListener(realtime.ListenerFunc(jnl.OnEvent))
	}

	// 初始化 NATS（事件镜像，可选）
	var publisher *nats.Publisher
	if cfg.NATS.Enabled {
		var err error
		publisher, err = nats.NewPublisher(cfg.NATS.Endpoint)
		if err != nil {
			logger.Fatal().Err(err).Msg("init nats publisher failed")
		}
		mgr.AddListener(realtime.ListenerFunc(publisher.OnEvent))
	}

	// 创建订阅复用器
	wsOpts := connOptions(cfg)
	wsMux := mux.New(mgr, cfg.Realtime.BaseWSURL, wsOpts, cfg.Realtime.DispatchPoolSize)

	// 创建状态广播器
	broadcaster := status.New(mgr, cfg.Realtime.StatusWindow)
	broadcaster.SetTerminalNotifier(func(connectionID, reason string) {
		logger.Error().
			Str("connection_id", connectionID).
			Str("reason", reason).
			Msg("connection gave up reconnecting")
	})

	// 创建空闲连接清理器
	swp := sweeper.NewSweeper(mgr, jnl, cfg.Sweep.Interval, cfg.Sweep.MaxIdle, cfg.Journal.Retention)
	swp.Start()

	// 初始化健康检查服务器
	var pubRef monitor.PublisherRef
	if publisher != nil {
		pubRef = publisher
	}
	healthServer := monitor.NewHealthServer(cfg.Realtime.HealthServerAddr, mgr, wsMux, pubRef)
	if err := healthServer.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("start health server failed")
	}
	defer healthServer.Stop(context.Background())

	logger.Info().
		Str("ws_url", cfg.Realtime.BaseWSURL).
		Str("health_addr", cfg.Realtime.HealthServerAddr).
		Msg("rt_gateway service started successfully")

	// 优雅关闭
	sigproc.GracefulShutdown(func(sig os.Signal) {
		logger.Info().Str("signal", sig.String()).Msg("shutting down...")

		// 停止接收新信号
		cancel()

		// 停止清理器
		swp.Stop()

		// 关闭状态广播器
		broadcaster.Close()

		// 关闭订阅复用器
		wsMux.Close()

		// 关闭所有连接
		mgr.CleanupAll()

		// 关闭 NATS
		if publisher != nil {
			publisher.Close()
		}

		// 关闭事件日志
		if jnl != nil {
			jnl.Close()
		}

		// 关闭健康检查服务器
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		healthServer.Stop(shutdownCtx)

		// 关闭配置重载
		config.Stop()

		logger.Info().Msg("rt_gateway service stopped")
	})

	<-ctx.Done()
}

func connOptions(cfg *config.Config) realtime.Options {
	return realtime.Options{
		MaxReconnectAttempts: cfg.Realtime.MaxReconnectAttempts,
		ReconnectDelayBase:   cfg.Realtime.ReconnectDelayBase,
		MaxReconnectDelay:    cfg.Realtime.MaxReconnectDelay,
		BackoffMultiplier:    cfg.Realtime.BackoffMultiplier,
		JitterMax:            cfg.Realtime.JitterMax,
		ConnectTimeout:       cfg.Realtime.ConnectTimeout,
		PingInterval:         cfg.Realtime.PingInterval,
		SuppressCloseCodes:   cfg.Realtime.SuppressCloseCodes,
	}
}

func initLogger(cfg *config.Config) error {
	return logger.NewBuilder().
		SetMaxSize(cfg.Logger.MaxSize).
		SetMaxBackups(cfg.Logger.MaxBackups).
		SetMaxAge(cfg.Logger.MaxAge).
		SetLevel(cfg.Logger.Level).
		EnableCompression(cfg.Logger.Compress).
		EnableConsoleOutput(cfg.Logger.Console).
		Build()
}
