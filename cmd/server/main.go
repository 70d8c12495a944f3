package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	appmarketdata "mbobook/internal/application/service/marketdata"
	apporderbook "mbobook/internal/application/service/orderbook"
	appprofiles "mbobook/internal/application/service/profiles"
	"mbobook/internal/config"
	domainprofiles "mbobook/internal/domain/entity/profiles"
	"mbobook/internal/domain/orderbook"
	"mbobook/internal/infrastructure/broker"
	"mbobook/internal/infrastructure/journal"
	"mbobook/internal/infrastructure/kafka"
	inframarketdata "mbobook/internal/infrastructure/marketdata"
	"mbobook/internal/infrastructure/metrics"
	infraprofiles "mbobook/internal/infrastructure/profiles"
	infrahttp "mbobook/internal/interfaces/http"
	"mbobook/internal/interfaces/ws"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	if level, err := logrus.ParseLevel(cfg.Log.Level); err == nil {
		logger.SetLevel(level)
	} else {
		logger.WithField("level", cfg.Log.Level).Warn("unknown log level, keeping info")
	}

	// Persistence

	var (
		profileService  *appprofiles.Service
		snapshotService *appmarketdata.Service
		snapshotRepo    *inframarketdata.Repository
	)
	if cfg.Postgres.DSN != "" {
		profileRepo, err := infraprofiles.NewRepository(ctx, cfg.Postgres.DSN)
		if err != nil {
			logger.Fatalf("failed to init profiles repo: %v", err)
		}
		profileService = appprofiles.NewService(profileRepo)
		defer profileService.Close()

		snapshotRepo, err = inframarketdata.NewRepository(ctx, cfg.Postgres.DSN)
		if err != nil {
			logger.Fatalf("failed to init snapshots repo: %v", err)
		}
		if err := snapshotRepo.EnsureSchema(ctx); err != nil {
			logger.Fatalf("failed to prepare snapshots schema: %v", err)
		}
		snapshotService = appmarketdata.NewService(snapshotRepo)
		defer snapshotService.Close()
	}

	bookCfg := resolveBook(ctx, cfg.Book, profileService, logger)
	grid, err := orderbook.NewPriceIndex(bookCfg.PriceMin, bookCfg.PriceMax, bookCfg.TickSize)
	if err != nil {
		logger.Fatalf("invalid book grid: %v", err)
	}
	book := orderbook.NewBookWithIndex(grid)

	// Engine and its sinks

	recorder := metrics.NewRecorder(bookCfg.Symbol)
	opts := []apporderbook.Option{
		apporderbook.WithLogger(logger),
		apporderbook.WithRecorder(recorder),
		apporderbook.WithQueueSize(bookCfg.QueueSize),
	}

	var eventJournal *journal.Journal
	if cfg.Journal.Dir != "" {
		eventJournal, err = journal.Open(cfg.Journal.Dir)
		if err != nil {
			logger.Fatalf("failed to open journal: %v", err)
		}
		opts = append(opts, apporderbook.WithJournal(eventJournal))
	}

	var (
		amqpConn     *amqp.Connection
		mbpPublisher *broker.MbpPublisher
		kafkaSink    *kafka.Producer
	)
	if cfg.RabbitMQ.URL != "" && cfg.RabbitMQ.MbpExchange != "" {
		amqpConn, err = amqp.Dial(cfg.RabbitMQ.URL)
		if err != nil {
			logger.Fatalf("failed to connect to rabbitmq: %v", err)
		}
		mbpPublisher, err = broker.NewMbpPublisher(ctx, amqpConn, cfg.RabbitMQ.MbpExchange, broker.BatchConfig{
			Size:    cfg.RabbitMQ.BatchSize,
			Timeout: cfg.RabbitMQ.BatchTimeout,
		}, logger)
		if err != nil {
			logger.Fatalf("failed to init mbp publisher: %v", err)
		}
		opts = append(opts, apporderbook.WithMbpSink(mbpPublisher))
	}
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaSink, err = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.MbpTopic, logger)
		if err != nil {
			logger.Fatalf("failed to init kafka producer: %v", err)
		}
		opts = append(opts, apporderbook.WithMbpSink(kafkaSink))
	}

	engine := apporderbook.NewEngine(book, opts...)
	streamer := apporderbook.NewStreamer(engine, cfg.Feed.Path, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := engine.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	var consumer *broker.Consumer
	if cfg.RabbitMQ.URL != "" && cfg.RabbitMQ.EventsExchange != "" {
		consumer, err = broker.NewConsumer(cfg.RabbitMQ, engine, logger)
		if err != nil {
			logger.Fatalf("failed to init consumer: %v", err)
		}
		if err := consumer.Start(gctx); err != nil {
			logger.Fatalf("failed to start consumer: %v", err)
		}
	}

	var batchWriter *broker.BatchWriter
	if snapshotRepo != nil && cfg.Snapshots.Interval > 0 {
		batchWriter = broker.NewBatchWriter(broker.BatchConfig{
			Size:    cfg.RabbitMQ.BatchSize,
			Timeout: cfg.RabbitMQ.BatchTimeout,
		}, snapshotRepo, logger)
		batchWriter.Run(gctx)

		job := appmarketdata.NewSnapshotJob(appmarketdata.SnapshotJobConfig{
			Symbol:     bookCfg.Symbol,
			PriceScale: bookCfg.PriceScale,
			Depth:      cfg.Snapshots.Depth,
			Interval:   cfg.Snapshots.Interval,
		}, engine, batchWriter, logger)
		g.Go(func() error { return job.Run(gctx) })
	}

	if cfg.Feed.AutoStart {
		if err := streamer.Start(gctx, apporderbook.StartRequest{Path: cfg.Feed.Path, Speed: cfg.Feed.Speed}); err != nil {
			logger.WithError(err).Error("failed to auto-start feed replay")
		}
	}

	// HTTP

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.WithError(err).Warn("redis unavailable, history cache disabled")
			_ = redisClient.Close()
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	handler := infrahttp.NewHandler(infrahttp.Config{
		Symbol:      bookCfg.Symbol,
		PriceScale:  bookCfg.PriceScale,
		Engine:      engine,
		Streamer:    streamer,
		Snapshots:   snapshotService,
		Profiles:    profileService,
		Cache:       redisClient,
		CacheTTL:    time.Duration(cfg.Cache.TTLSeconds) * time.Second,
		Metrics:     recorder.Handler(),
		DepthStream: ws.NewDepthStream(engine, logger),
	})

	server := &http.Server{
		Addr:              cfg.HTTP.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		logger.Infof("HTTP server listening on %s", cfg.HTTP.Addr())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	runErr := g.Wait()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	var errs []error
	if runErr != nil {
		errs = append(errs, runErr)
	}
	if err := streamer.Stop(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if consumer != nil {
		if err := consumer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if batchWriter != nil {
		if err := batchWriter.Stop(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
	}
	if mbpPublisher != nil {
		if err := mbpPublisher.Close(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
	}
	if amqpConn != nil {
		if err := amqpConn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if kafkaSink != nil {
		if err := kafkaSink.Close(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
	}
	if eventJournal != nil {
		if err := eventJournal.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		logger.WithError(err).Error("shutdown finished with errors")
		return
	}
	logger.Info("server stopped")
}

// resolveBook overrides the configured grid with the stored profile for the
// symbol, when profiles are available and one exists.
func resolveBook(ctx context.Context, book config.BookConfig, profiles *appprofiles.Service, logger *logrus.Logger) config.BookConfig {
	if profiles == nil {
		return book
	}
	profile, err := profiles.GetProfileBySymbol(ctx, book.Symbol)
	if err != nil {
		if !errors.Is(err, domainprofiles.ErrProfileNotFound) {
			logger.WithError(err).Warn("failed to load book profile, using configured grid")
		}
		return book
	}
	logger.WithFields(logrus.Fields{
		"symbol":    profile.Symbol,
		"price_min": profile.PriceMin,
		"price_max": profile.PriceMax,
		"tick":      profile.TickSize,
	}).Info("using stored book profile")

	book.PriceMin = profile.PriceMin
	book.PriceMax = profile.PriceMax
	book.TickSize = profile.TickSize
	book.PriceScale = profile.PriceScale
	return book
}
