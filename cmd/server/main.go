package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/rl1809/stock-ledger/internal/adapter/handler"
	"github.com/rl1809/stock-ledger/internal/adapter/messaging"
	"github.com/rl1809/stock-ledger/internal/adapter/storage"
	"github.com/rl1809/stock-ledger/internal/config"
	"github.com/rl1809/stock-ledger/internal/core/service"
	"github.com/rl1809/stock-ledger/internal/observability"
	"github.com/rl1809/stock-ledger/internal/port"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := observability.NewLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := observability.NewMetrics()

	// Initialize MySQL
	db, err := sqlx.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		return fmt.Errorf("open mysql: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping mysql: %w", err)
	}
	logger.Info("connected to mysql")

	if cfg.MySQL.Migrate {
		if err := storage.Migrate(ctx, db); err != nil {
			return err
		}
		logger.Info("schema migrated")
	}

	ledger := storage.NewMySQLAdapter(db)
	catalog := storage.NewCatalogReader(ledger)
	backlog := storage.NewBacklogReader(ledger)

	analyzer := service.NewFulfillmentAnalyzer(ledger, catalog, backlog, cfg.DefaultReorderQuantity, logger.Named("fulfillment"))
	reports := service.NewReportingService(ledger, catalog, logger.Named("reporting"))
	monitor := service.NewStockMonitor(reports, analyzer, cfg.MonitorInterval, logger.Named("monitor"), metrics)

	// Initialize the movement sink
	relay, closeSink, err := newRelay(ctx, cfg, ledger, logger, metrics)
	if err != nil {
		return err
	}
	defer closeSink()

	var wg sync.WaitGroup
	background := func(name string, fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
			logger.Debug("background task stopped", zap.String("task", name))
		}()
	}

	if relay != nil {
		background("relay", relay.Run)
	}
	background("monitor", monitor.Run)

	// Initialize gRPC health server
	reporter := handler.NewHealthReporter(db, 0, logger.Named("health"))
	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, reporter.Server())
	background("health", reporter.Run)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.GRPCAddr, err)
	}
	go func() {
		logger.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server", zap.Error(err))
		}
	}()

	// Initialize HTTP ops server
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler.NewHTTPHandler(db, metrics).Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown", zap.Error(err))
	}
	logger.Info("HTTP server stopped")

	reporter.Shutdown()
	grpcServer.GracefulStop()
	logger.Info("gRPC server stopped")

	// Stop relay, monitor and health checks, then let deferred closes run
	cancel()
	wg.Wait()
	logger.Info("background tasks stopped")
	return nil
}

// newRelay wires the configured sink. A nil relay means movements stay in
// the outbox until a sink is configured.
func newRelay(ctx context.Context, cfg *config.Config, outbox port.MovementOutbox, logger *zap.Logger, metrics *observability.Metrics) (*service.MovementRelay, func(), error) {
	if cfg.Relay.Sink == config.SinkNone {
		logger.Info("movement relay disabled")
		return nil, func() {}, nil
	}

	// Initialize Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	logger.Info("connected to redis")

	redisAdapter := storage.NewRedisAdapter(rdb, cfg.Redis.Stream, relayOwner())
	closers := []func() error{rdb.Close}

	var publisher port.MovementPublisher = redisAdapter
	if cfg.Relay.Sink == config.SinkKafka {
		kafka := messaging.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		publisher = kafka
		closers = append([]func() error{kafka.Close}, closers...)
	}

	publisher = messaging.NewBreakingPublisher(publisher, messaging.DefaultBreakerConfig(), logger.Named("sink"))

	relay := service.NewMovementRelay(outbox, publisher, redisAdapter, service.RelayConfig{
		Workers:   cfg.Relay.Workers,
		BatchSize: cfg.Relay.BatchSize,
		Interval:  cfg.Relay.Interval,
	}, logger.Named("relay"), metrics)

	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Warn("close movement sink", zap.Error(err))
			}
		}
	}
	return relay, closeAll, nil
}

func relayOwner() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s:%d", host, os.Getpid())
}
