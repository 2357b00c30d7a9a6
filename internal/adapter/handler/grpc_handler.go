package handler

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// LedgerServiceName is the name health checks report the ledger under.
const LedgerServiceName = "stockledger.v1.StockLedger"

// HealthReporter keeps the gRPC health service in line with the ledger
// store's reachability.
type HealthReporter struct {
	server   *health.Server
	db       Pinger
	interval time.Duration
	logger   *zap.Logger
}

func NewHealthReporter(db Pinger, interval time.Duration, logger *zap.Logger) *HealthReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &HealthReporter{
		server:   health.NewServer(),
		db:       db,
		interval: interval,
		logger:   logger,
	}
}

func (h *HealthReporter) Server() *health.Server {
	return h.server
}

// Check pings the store once and publishes the result.
func (h *HealthReporter) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	ctx, cancel := context.WithTimeout(ctx, readinessTimeout)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if err := h.db.PingContext(ctx); err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		h.logger.Warn("ledger store unreachable", zap.Error(err))
	}
	h.server.SetServingStatus("", status)
	h.server.SetServingStatus(LedgerServiceName, status)
	return status
}

func (h *HealthReporter) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		h.Check(ctx)
		select {
		case <-ctx.Done():
			h.Shutdown()
			return
		case <-ticker.C:
		}
	}
}

// Shutdown reports NOT_SERVING for every service and ignores later checks.
// Call it before draining the gRPC server so clients see the change.
func (h *HealthReporter) Shutdown() {
	h.server.Shutdown()
}
