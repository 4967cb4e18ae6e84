package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"audiomon-server/pkg/aggregate"
	"audiomon-server/pkg/backpressure"
	"audiomon-server/pkg/config"
	"audiomon-server/pkg/emit"
	httpserver "audiomon-server/pkg/http"
	"audiomon-server/pkg/knobs"
	"audiomon-server/pkg/messaging"
	"audiomon-server/pkg/metrics"
	"audiomon-server/pkg/pipeline"
	"audiomon-server/pkg/segment"
	"audiomon-server/pkg/store"
	"audiomon-server/pkg/util"
)

var logger = logrus.New()

func main() {
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load(logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	cfg.ConfigureLogger(logger)

	metrics.EnableMetrics(cfg.HTTP.MetricsEnabled)
	if cfg.HTTP.MetricsEnabled {
		metrics.Init(logger)
	}

	baseline, err := knobs.LoadBaselineFile(cfg.Knobs.BaselineFile)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load knob baseline")
	}
	resolver, err := knobs.NewResolver(baseline, logger)
	if err != nil {
		logger.WithError(err).Fatal("Invalid knob baseline")
	}

	shutdown := util.NewGracefulShutdown(logger, 30*time.Second)

	// Durable store: MySQL, AMQP relay, both, or neither.
	var backends []store.Store
	if cfg.Database.Enabled {
		mysqlStore, err := store.NewMySQLStore(store.MySQLConfig{
			Host:            cfg.Database.Host,
			Port:            cfg.Database.Port,
			Database:        cfg.Database.Database,
			Username:        cfg.Database.Username,
			Password:        cfg.Database.Password,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
			Charset:         "utf8mb4",
			ParseTime:       true,
			Loc:             "UTC",
			RetentionDays:   cfg.Database.RetentionDays,
		}, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to MySQL")
		}
		backends = append(backends, mysqlStore)
		shutdown.RegisterCloser("mysql-store", mysqlStore, 60)
	}

	var amqpClient *messaging.AMQPClient
	if cfg.AMQP.Enabled {
		amqpClient = messaging.NewAMQPClient(logger, messaging.AMQPConfig{
			URL:          cfg.AMQP.URL,
			QueueName:    cfg.AMQP.QueueName,
			ExchangeName: cfg.AMQP.ExchangeName,
			RoutingKey:   cfg.AMQP.RoutingKey,
		})
		if err := amqpClient.Connect(); err != nil {
			logger.WithError(err).Warn("AMQP unavailable at startup, relay will publish once reconnected")
		}
		metrics.SetAMQPConnectionStatus(amqpClient.IsConnected())
		backends = append(backends, store.NewAMQPRelay(amqpClient, logger))
		shutdown.Register(util.ShutdownResource{
			Name:     "amqp-client",
			Priority: 70,
			Shutdown: func(context.Context) error {
				amqpClient.Disconnect()
				return nil
			},
		})
	}

	var st store.Store = store.Nop{}
	if len(backends) > 0 {
		st = store.NewFanout(backends...)
	}

	newPolicy := func() *backpressure.Policy {
		return backpressure.NewPolicy(
			backpressure.Strategy(cfg.Backpressure.Strategy),
			cfg.Backpressure.HighWater,
			cfg.Backpressure.LowWater,
			logger,
		)
	}

	emitPolicy := newPolicy()
	emitter := emit.NewEmitter(st, cfg.Emit.QueueCapacity, emitPolicy, logger)
	emitter.Start()
	shutdown.Register(util.ShutdownResource{
		Name:     "metric-emitter",
		Priority: 50,
		Shutdown: func(context.Context) error { emitter.Stop(); return nil },
	})

	wsFeed := httpserver.NewMetricsFeedHandler(logger)
	wsFeed.Start()
	shutdown.Register(util.ShutdownResource{
		Name:     "metrics-feed",
		Priority: 15,
		Shutdown: func(context.Context) error { wsFeed.Stop(); return nil },
	})

	aggregator := aggregate.New(func(rows []aggregate.Row) {
		metrics.RecordBucketFlush(len(rows))
		if shed := emitter.EmitBatch(rows); shed > 0 {
			metrics.RecordRowsDropped("emit", shed)
		}
		wsFeed.BroadcastRows(rows)
	}, logger, aggregate.WithBucketCeiling(cfg.Aggregation.BucketCeiling))
	aggregator.Start()
	shutdown.Register(util.ShutdownResource{
		Name:     "aggregator",
		Priority: 40,
		Shutdown: func(context.Context) error { aggregator.Stop(); return nil },
	})

	var recorder *segment.Recorder
	var writer *segment.Writer
	var segPolicy *backpressure.Policy
	if cfg.Capture.Enabled {
		segPolicy = newPolicy()
		writer = segment.NewWriter(cfg.Capture.BaseDir, cfg.Capture.QueueCapacity, segPolicy, st, logger)
		writer.Start()
		shutdown.Register(util.ShutdownResource{
			Name:     "segment-writer",
			Priority: 30,
			Shutdown: func(context.Context) error { writer.Stop(); return nil },
		})

		recorder = segment.NewRecorder(cfg.Audio.SampleRate, cfg.Audio.Channels, func(seg *segment.Segment) {
			if !writer.Enqueue(seg) {
				metrics.RecordSegmentDropped(1)
			}
		}, logger, segment.WithSizeGuard(cfg.Capture.GuardMultiple))
		shutdown.Register(util.ShutdownResource{
			Name:     "segment-recorder",
			Priority: 20,
			Shutdown: func(context.Context) error { recorder.FlushAll(); return nil },
		})
	}

	registry := pipeline.NewRegistry()
	for _, station := range pipeline.DefaultStations() {
		if err := registry.Register(station); err != nil {
			logger.WithError(err).Fatal("Failed to register station")
		}
	}

	processor := pipeline.NewProcessor(registry, resolver, aggregator, recorder,
		cfg.Audio.SampleRate, cfg.Audio.Channels, logger)

	stats := &statsProvider{
		aggregator: aggregator,
		emitter:    emitter,
		writer:     writer,
		recorder:   recorder,
		wsFeed:     wsFeed,
	}

	server := httpserver.NewServer(httpserver.Config{
		Port:           cfg.HTTP.Port,
		MetricsEnabled: cfg.HTTP.MetricsEnabled,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
	}, logger, resolver, registry, stats, st, wsFeed)
	var flusher httpserver.SegmentFlusher
	if recorder != nil {
		flusher = recorder
	}
	server.RegisterIngest(processor, flusher)
	server.Start()
	shutdown.Register(util.ShutdownResource{
		Name:     "http-server",
		Priority: 10,
		Shutdown: server.Shutdown,
	})

	stopGauges := startGaugeLoop(emitter, writer, emitPolicy, segPolicy, amqpClient)
	stopRetention := startRetentionLoop(st)

	logger.WithFields(logrus.Fields{
		"http_port":   cfg.HTTP.Port,
		"sample_rate": cfg.Audio.SampleRate,
		"capture":     cfg.Capture.Enabled,
		"database":    cfg.Database.Enabled,
		"amqp":        cfg.AMQP.Enabled,
	}).Info("Audio monitoring server started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigChan
	logger.WithField("signal", sig.String()).Info("Received shutdown signal, cleaning up...")

	close(stopGauges)
	close(stopRetention)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := shutdown.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Shutdown finished with errors")
		os.Exit(1)
	}
	logger.Info("Audio monitoring server stopped")
}

// startGaugeLoop keeps the queue depth and backpressure gauges current.
func startGaugeLoop(emitter *emit.Emitter, writer *segment.Writer, emitPolicy, segPolicy *backpressure.Policy, amqpClient *messaging.AMQPClient) chan struct{} {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if !metrics.IsMetricsEnabled() {
					continue
				}
				metrics.EmitQueueDepth.Set(float64(emitter.QueueDepth()))
				metrics.SetBackpressure("emit", emitPolicy.Active())
				if writer != nil {
					metrics.SegmentQueueDepth.Set(float64(writer.QueueDepth()))
					metrics.SetBackpressure("segment", segPolicy.Active())
				}
				if amqpClient != nil {
					metrics.SetAMQPConnectionStatus(amqpClient.IsConnected())
				}
			}
		}
	}()
	return stop
}

// startRetentionLoop triggers daily store cleanup.
func startRetentionLoop(st store.Store) chan struct{} {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := st.RunRetentionCleanup(); err != nil {
					metrics.RecordStoreFailure("retention_cleanup")
					logger.WithError(err).Error("Retention cleanup failed")
				}
			}
		}
	}()
	return stop
}

// statsProvider flattens component counters for the /status endpoint.
type statsProvider struct {
	aggregator *aggregate.Aggregator
	emitter    *emit.Emitter
	writer     *segment.Writer
	recorder   *segment.Recorder
	wsFeed     *httpserver.MetricsFeedHandler
}

func (p *statsProvider) Stats() map[string]interface{} {
	aggStats, openBuckets := p.aggregator.Stats()
	out := map[string]interface{}{
		"aggregator":       aggStats,
		"open_buckets":     openBuckets,
		"emitter":          p.emitter.Stats(),
		"emit_queue_depth": p.emitter.QueueDepth(),
		"ws_clients":       p.wsFeed.ConnectedClients(),
	}
	if p.writer != nil {
		out["segment_writer"] = p.writer.Stats()
		out["segment_queue_depth"] = p.writer.QueueDepth()
	}
	if p.recorder != nil {
		recStats, openStreams := p.recorder.Stats()
		out["recorder"] = recStats
		out["open_streams"] = openStreams
	}
	return out
}
