package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/adapter/storage"
	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/core/service"
)

const (
	defaultDSN    = "root:root@tcp(localhost:3306)/stockledger?parseTime=true"
	productID     = "stress-test-item"
	warehouse     = domain.DefaultWarehouse
	initialStock  = 20
	totalRequests = 50
	retryAttempts = 50
	retryBackoff  = 2 * time.Millisecond
)

func main() {
	ctx := context.Background()

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dsn = defaultDSN
	}

	// Initialize MySQL
	db, err := sqlx.Connect("mysql", dsn)
	if err != nil {
		logger.Fatal("connect mysql", zap.Error(err))
	}
	defer db.Close()
	db.SetMaxOpenConns(50)

	if err := storage.Migrate(ctx, db); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	ledger := storage.NewMySQLAdapter(db)
	engine := service.NewAllocationEngine(ledger, logger.WithOptions(zap.IncreaseLevel(zap.WarnLevel)), nil)

	// Reset the test record: release leftovers, then count in fresh stock
	if _, err := ledger.ProvisionRecord(ctx, domain.NewStockKey(productID, warehouse)); err != nil {
		logger.Fatal("provision record", zap.Error(err))
	}
	rec, err := ledger.GetRecord(ctx, domain.NewStockKey(productID, warehouse))
	if err != nil || rec == nil {
		logger.Fatal("read record", zap.Error(err))
	}
	if rec.QuantityAllocated > 0 {
		if res, err := engine.Release(ctx, productID, warehouse, rec.QuantityAllocated, service.WithActor("stress-test")); err != nil || !res.Applied() {
			logger.Fatal("release leftovers", zap.Error(err), zap.Stringer("outcome", res.Outcome))
		}
	}
	if res, err := engine.Adjust(ctx, productID, warehouse, initialStock, service.WithActor("stress-test")); err != nil || !res.Applied() {
		logger.Fatal("set initial stock", zap.Error(err), zap.Stringer("outcome", res.Outcome))
	}

	// Counters
	var (
		successCount      atomic.Int32
		insufficientCount atomic.Int32
		conflictCount     atomic.Int32
		faultCount        atomic.Int32
	)

	// Spawn concurrent allocations
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(orderID int) {
			defer wg.Done()

			res, err := service.RetryOnConflict(ctx, retryAttempts, retryBackoff, func(ctx context.Context) (domain.MutationResult, error) {
				return engine.Allocate(ctx, productID, warehouse, 1, service.WithReference(fmt.Sprintf("order-%d", orderID)))
			})
			switch {
			case err != nil:
				faultCount.Add(1)
				logger.Error("allocate", zap.Int("order", orderID), zap.Error(err))
			case res.Applied():
				successCount.Add(1)
			case res.Outcome == domain.OutcomeInsufficientStock:
				insufficientCount.Add(1)
			default:
				conflictCount.Add(1)
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	// Results
	success := successCount.Load()
	insufficient := insufficientCount.Load()

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Allocated:        %d\n", success)
	fmt.Printf("Insufficient:     %d\n", insufficient)
	fmt.Printf("Gave up:          %d\n", conflictCount.Load())
	fmt.Printf("Faults:           %d\n", faultCount.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	// Assertions
	if success == initialStock && insufficient == totalRequests-initialStock {
		fmt.Printf("PASS: exactly %d allocations succeeded, %d declined\n", initialStock, totalRequests-initialStock)
	} else {
		fmt.Printf("FAIL: expected %d allocated/%d declined, got %d/%d\n",
			initialStock, totalRequests-initialStock, success, insufficient)
	}

	// Verify the stored record
	final, err := ledger.GetRecord(ctx, domain.NewStockKey(productID, warehouse))
	if err != nil || final == nil {
		logger.Fatal("read final record", zap.Error(err))
	}
	fmt.Printf("Final Record:     onHand=%d allocated=%d version=%d\n", final.QuantityOnHand, final.QuantityAllocated, final.Version)

	if final.Valid() && final.QuantityAllocated == int(success) && final.Available() == 0 {
		fmt.Println("PASS: no oversell, stock fully allocated")
	} else {
		fmt.Println("FAIL: ledger invariant broken")
	}
}
