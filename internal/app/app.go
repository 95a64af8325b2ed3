// Package app wires the pipeline together: broker topology, repositories,
// storage, the queue consumers, and the HTTP read API.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"essaypipe/internal/aggregate"
	"essaypipe/internal/analysis"
	"essaypipe/internal/config"
	"essaypipe/internal/delivery/httpd"
	"essaypipe/internal/dispatch"
	"essaypipe/internal/ingest"
	"essaypipe/internal/queue"
	"essaypipe/internal/repository"
	"essaypipe/internal/resolve"
	"essaypipe/internal/storage"
	"essaypipe/internal/worker"
)

type App struct {
	server *http.Server
	logger zerolog.Logger
	config *config.Config
	db     *sql.DB
	broker *queue.Broker

	uploadHandler *ingest.UploadHandler
	procWorker    *worker.ProcessingWorker
	classAgg      *aggregate.ClassAggregator
	studentAgg    *aggregate.StudentAggregator
	janitor       *worker.Janitor

	cancelPipeline context.CancelFunc
	pipelineDone   sync.WaitGroup
}

func New(cfg *config.Config, log zerolog.Logger, db *sql.DB) (*App, error) {
	broker, err := queue.NewBroker(cfg.RabbitMQ, log)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	blobs, err := storage.NewMinIOStore(cfg.Storage, log)
	if err != nil {
		broker.Close()
		return nil, fmt.Errorf("failed to connect to MinIO: %w", err)
	}

	essayRepo := repository.NewEssayRepository(db, log)
	studentRepo := repository.NewStudentRepository(db, log)
	metricsRepo := repository.NewMetricsRepository(db, log)

	publisher := queue.NewPublisher(broker.Channel(), log)
	dispatcher := dispatch.NewDispatcher(
		publisher,
		cfg.RabbitMQ.Exchange,
		cfg.RabbitMQ.WorkRoutingKey,
		cfg.RabbitMQ.CompletionExchange,
		log,
	)

	resolver := resolve.NewResolver(studentRepo, cfg.Pipeline.MatchThreshold, log)
	unpacker := ingest.NewUnpacker(
		essayRepo,
		resolver,
		blobs,
		dispatcher,
		cfg.Pipeline.TextExtensions,
		cfg.Pipeline.ArchiveExtensions,
		log,
	)

	analyzer := analysis.NewClient(
		cfg.Analysis.URL,
		cfg.Analysis.Endpoint,
		cfg.Analysis.Timeout,
		cfg.Analysis.RetryCount,
		cfg.Analysis.RetryDelay,
		log,
	)

	handler := httpd.NewHandler(essayRepo, studentRepo, metricsRepo, dispatcher, log)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   cfg.CORS.AllowedMethods,
		AllowedHeaders:   cfg.CORS.AllowedHeaders,
		ExposedHeaders:   cfg.CORS.ExposedHeaders,
		AllowCredentials: cfg.CORS.AllowCredentials,
		MaxAge:           cfg.CORS.MaxAge,
	}))

	handler.RegisterRoutes(router)

	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return &App{
		server:        server,
		logger:        log,
		config:        cfg,
		db:            db,
		broker:        broker,
		uploadHandler: ingest.NewUploadHandler(unpacker, log),
		procWorker: worker.NewProcessingWorker(
			essayRepo,
			blobs,
			analyzer,
			dispatcher,
			cfg.Pipeline.MaxAttempts,
			log,
		),
		classAgg:   aggregate.NewClassAggregator(essayRepo, metricsRepo, cfg.Pipeline.AggregateWindow, log),
		studentAgg: aggregate.NewStudentAggregator(essayRepo, metricsRepo, cfg.Pipeline.AggregateWindow, log),
		janitor: worker.NewJanitor(
			essayRepo,
			dispatcher,
			cfg.Pipeline.StuckTimeout,
			cfg.Pipeline.StuckSweepEvery,
			cfg.Pipeline.MaxStuckResets,
			log,
		),
	}, nil
}

func (a *App) Run() error {
	if err := a.startPipeline(); err != nil {
		return err
	}

	a.logger.Info().Msgf("Starting essay pipeline on %s", a.config.Server.Address)
	return a.server.ListenAndServe()
}

// startPipeline brings up every queue-driven component on its own channel so
// each gets an independent prefetch window.
func (a *App) startPipeline() error {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancelPipeline = cancel

	rmq := a.config.RabbitMQ

	workPool := worker.NewPool("processing", a.config.Pipeline.MaxWorkers, a.procWorker.Handle, a.logger)
	if err := a.startPool(ctx, rmq.WorkQueue, rmq.ConsumerTag+"-processing", a.config.Pipeline.MaxWorkers, workPool); err != nil {
		return err
	}

	uploadPool := worker.NewPool("upload", 1, a.uploadHandler.Handle, a.logger)
	if err := a.startPool(ctx, rmq.UploadQueue, rmq.ConsumerTag+"-upload", 1, uploadPool); err != nil {
		return err
	}

	// Aggregation consumers need a deep prefetch window: the debounce batcher
	// holds deliveries unacked until the flush, so prefetch bounds how many
	// events one window can coalesce.
	classMsgs, err := a.startConsumer(ctx, rmq.ClassMetricsQueue, rmq.ConsumerTag+"-class-metrics", a.config.Pipeline.AggregatePrefetch)
	if err != nil {
		return err
	}
	a.pipelineDone.Add(1)
	go func() {
		defer a.pipelineDone.Done()
		a.classAgg.Run(ctx, classMsgs)
	}()

	studentMsgs, err := a.startConsumer(ctx, rmq.StudentMetricsQueue, rmq.ConsumerTag+"-student-metrics", a.config.Pipeline.AggregatePrefetch)
	if err != nil {
		return err
	}
	a.pipelineDone.Add(1)
	go func() {
		defer a.pipelineDone.Done()
		a.studentAgg.Run(ctx, studentMsgs)
	}()

	a.pipelineDone.Add(1)
	go func() {
		defer a.pipelineDone.Done()
		a.janitor.Run(ctx)
	}()

	return nil
}

func (a *App) startConsumer(ctx context.Context, queueName, tag string, prefetch int) (<-chan queue.Message, error) {
	channel, err := a.broker.NewChannel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel for %s: %w", queueName, err)
	}

	consumer := queue.NewConsumer(channel, queueName, tag, prefetch, a.logger)
	messages, err := consumer.Consume(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to consume %s: %w", queueName, err)
	}

	return messages, nil
}

func (a *App) startPool(ctx context.Context, queueName, tag string, workers int, pool *worker.Pool) error {
	messages, err := a.startConsumer(ctx, queueName, tag, workers)
	if err != nil {
		return err
	}

	pool.Run(ctx, messages)

	a.pipelineDone.Add(1)
	go func() {
		defer a.pipelineDone.Done()
		pool.Wait()
	}()

	return nil
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info().Msg("Shutting down essay pipeline...")

	if a.cancelPipeline != nil {
		a.cancelPipeline()
	}

	// Let in-flight handlers finish before dropping the broker connection.
	drained := make(chan struct{})
	go func() {
		a.pipelineDone.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		a.logger.Warn().Msg("Pipeline drain timed out")
	}

	if a.broker != nil {
		if err := a.broker.Close(); err != nil {
			a.logger.Error().Err(err).Msg("Failed to close RabbitMQ connection")
		}
	}

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error().Err(err).Msg("Failed to close database connection")
		}
	}

	return a.server.Shutdown(ctx)
}
