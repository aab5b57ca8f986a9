package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"CeleryPulse/internal/api"
	"CeleryPulse/internal/broker"
	"CeleryPulse/internal/config"
	"CeleryPulse/internal/monitor"
	"CeleryPulse/internal/observability/metrics"
	"CeleryPulse/internal/observability/reporting"
	"CeleryPulse/internal/sink"
	"CeleryPulse/internal/storage/sqldb"
	"CeleryPulse/pkg/logger"
)

// main 是 celerypulse 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("celerypulsed 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(config.ResolvePath())
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		OutputPaths: cfg.Log.OutputPaths,
		Debug:       cfg.Debug,
		Rotate: logger.RotateConfig{
			MaxSizeMB:  cfg.Log.Rotate.MaxSizeMB,
			MaxBackups: cfg.Log.Rotate.MaxBackups,
			MaxAgeDays: cfg.Log.Rotate.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer logger.Sync()
	log := logger.Named("celerypulsed")

	reporter, err := createReporter(cfg)
	if err != nil {
		return err
	}
	defer reporter.Flush(2 * time.Second)

	registry := prom.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	selfMetrics, err := metrics.New(registry)
	if err != nil {
		return err
	}

	out, err := createSink(ctx, cfg, registry)
	if err != nil {
		return err
	}

	opts := []monitor.Option{
		monitor.WithLogger(logger.Named("monitor")),
		monitor.WithCollectors(selfMetrics),
		monitor.WithReporter(reporter),
	}
	source, counter, closeCounter, err := createBroker(cfg, opts...)
	if err != nil {
		_ = out.Close()
		return err
	}
	defer closeCounter()

	mon, err := monitor.New(monitor.Config{
		Period:      cfg.Period(),
		StoreMaxLen: cfg.Store.MaxLen,
		StoreMaxAge: cfg.StoreMaxAge(),
		Dispatch: monitor.DispatcherConfig{
			Workers:           cfg.Dispatch.Workers,
			Buffer:            cfg.Dispatch.Buffer,
			ReconnectInterval: cfg.ReconnectInterval(),
		},
	}, source, counter, out, opts...)
	if err != nil {
		_ = source.Close()
		_ = out.Close()
		return err
	}
	defer func() {
		if err := mon.Close(); err != nil {
			log.Warn("关闭监控组件失败", slog.Any("error", err))
		}
	}()

	server := api.NewServer(cfg.HTTP.Address, mon,
		api.WithGatherer(registry),
		api.WithCollectors(selfMetrics),
		api.WithLogger(logger.Named("api")),
	)

	log.Info("celerypulse 启动",
		slog.String("broker", redactBroker(cfg.BrokerURL)),
		slog.Duration("period", cfg.Period()),
		slog.Int("sinks", len(cfg.Sinks)),
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return mon.Run(groupCtx) })
	group.Go(func() error { return server.Start(groupCtx) })

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("celerypulse 已停止")
	return nil
}

// createReporter 在配置了 DSN 时同时上报 Sentry 与日志，否则只写日志。
func createReporter(cfg *config.Config) (reporting.Reporter, error) {
	logReporter := reporting.LogReporter{Logger: logger.Named("reporting")}
	if cfg.Sentry.DSN == "" {
		return logReporter, nil
	}
	sentryReporter, err := reporting.NewSentryReporter(reporting.SentryConfig{
		DSN:         cfg.Sentry.DSN,
		Environment: cfg.Sentry.Environment,
		Debug:       cfg.Debug,
	})
	if err != nil {
		return nil, err
	}
	return reporting.NewFanout(logReporter, sentryReporter), nil
}

// createSink 按配置构建所有输出端，多个输出端通过 Fanout 组合。
func createSink(ctx context.Context, cfg *config.Config, registry prom.Registerer) (sink.Sink, error) {
	var built []sink.Sink
	closeAll := func() {
		for _, s := range built {
			_ = s.Close()
		}
	}

	for i, sc := range cfg.Sinks {
		var (
			s   sink.Sink
			err error
		)
		switch sc.Driver {
		case config.SinkPrometheus:
			s, err = sink.NewPrometheusSink(registry)
		case config.SinkInfluxDB:
			s, err = sink.NewInfluxSink(sink.InfluxConfig{
				URL:       sc.URL,
				Token:     sc.Token,
				Org:       sc.Org,
				Bucket:    sc.Bucket,
				BatchSize: sc.BatchSize,
			}, logger.Named("sink.influxdb"))
		case config.SinkSQL:
			s, err = sink.OpenSQLSink(ctx, sqldb.Config{
				Driver: sqldb.NormalizeDriver(sc.SQLDriver),
				DSN:    sc.DSN,
			}, sink.WithMaxPending(sc.MaxPending), sink.WithSQLLogger(logger.Named("sink.sql")))
		case config.SinkMemory:
			s = sink.NewMemorySink()
		default:
			err = fmt.Errorf("%w: %q", sink.ErrUnknownDriver, sc.Driver)
		}
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("初始化 sinks[%d] 失败: %w", i, err)
		}
		built = append(built, s)
	}

	if len(built) == 1 {
		return built[0], nil
	}
	return sink.NewFanout(built...), nil
}

// createBroker 根据 broker 地址的 scheme 构建事件源与队列计数器。
func createBroker(cfg *config.Config, opts ...monitor.Option) (monitor.Source, broker.QueueCounter, func(), error) {
	noop := func() {}
	u, err := broker.ParseURL(cfg.BrokerURL)
	if err != nil {
		return nil, nil, noop, err
	}

	switch u.Scheme {
	case broker.SchemeRedis:
		redisOpts, err := u.RedisOptions()
		if err != nil {
			return nil, nil, noop, err
		}
		client := redis.NewClient(redisOpts)
		source := monitor.NewRedisSource(client, redisOpts.DB, cfg.Events.ChannelPattern, opts...)
		counter := broker.NewRedisCounter(client, broker.RedisCounterConfig{
			Queues:        cfg.Queues,
			PrioritySteps: cfg.Events.PrioritySteps,
		})
		// 客户端由 source 关闭
		return source, counter, noop, nil
	case broker.SchemeAMQP:
		uri, err := u.AMQPURI()
		if err != nil {
			return nil, nil, noop, err
		}
		counter := broker.NewRabbitMQCounterFromURI(uri, cfg.Queues)
		closeCounter := func() { _ = counter.Close() }
		return monitor.NewRabbitMQSource(uri, opts...), counter, closeCounter, nil
	case broker.SchemeMemory:
		return monitor.NewMemorySource(0), broker.NewStaticCounter(), noop, nil
	default:
		return nil, nil, noop, fmt.Errorf("%w: %q", broker.ErrUnsupportedScheme, u.Scheme)
	}
}

// redactBroker 隐藏 broker 地址中的密码。
func redactBroker(raw string) string {
	u, err := broker.ParseURL(raw)
	if err != nil {
		return "invalid"
	}
	return u.Scheme + "://" + u.Address() + "/" + u.VHost
}
