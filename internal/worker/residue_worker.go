package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/orderrush/saga-orchestrator/internal/repository"
	"github.com/orderrush/saga-orchestrator/pkg/logger"
	"go.uber.org/zap"
)

// ResidueWorkerConfig contains configuration for the residue worker
type ResidueWorkerConfig struct {
	// ScanInterval is the interval between residue scans
	ScanInterval time.Duration
	// CompensationResidueAge is how long an execution may sit in
	// COMPENSATING before it is reported
	CompensationResidueAge time.Duration
	// StalledExecutionAge is how long an execution may sit in IN_PROGRESS
	// before it is reported; a healthy run finishes in seconds
	StalledExecutionAge time.Duration
	// PendingRetryAge is how long a PENDING retry attempt may sit before
	// it is failed as abandoned
	PendingRetryAge time.Duration
}

// DefaultResidueWorkerConfig returns default configuration
func DefaultResidueWorkerConfig() *ResidueWorkerConfig {
	return &ResidueWorkerConfig{
		ScanInterval:           time.Minute,
		CompensationResidueAge: 10 * time.Minute,
		StalledExecutionAge:    10 * time.Minute,
		PendingRetryAge:        30 * time.Minute,
	}
}

// ResidueWorker periodically surfaces compensation residue and expires
// abandoned retry attempts. Executions stuck in COMPENSATING are logged for
// operators, never re-driven: re-driving a partial compensation is an
// operational decision, not the core's.
type ResidueWorker struct {
	store   repository.Store
	config  *ResidueWorkerConfig
	log     *zap.Logger
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	// Stats
	totalExpired    int64
	lastScanTime    time.Time
	lastStuckSeen   int
	lastStalledSeen int
}

// NewResidueWorker creates a new residue worker
func NewResidueWorker(store repository.Store, config *ResidueWorkerConfig) *ResidueWorker {
	if config == nil {
		config = DefaultResidueWorkerConfig()
	}
	return &ResidueWorker{
		store:  store,
		config: config,
		log:    logger.Get(),
		stopCh: make(chan struct{}),
	}
}

// Start starts the residue worker
func (w *ResidueWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("residue worker already running")
	}
	w.running = true
	w.mu.Unlock()

	w.log.Info("Starting residue worker")

	w.wg.Add(1)
	go w.scan(ctx)

	return nil
}

// Stop stops the residue worker
func (w *ResidueWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	w.log.Info("Stopping residue worker")
	close(w.stopCh)
	w.wg.Wait()
	w.log.Info("Residue worker stopped")
}

// scan runs one sweep immediately and then on every tick
func (w *ResidueWorker) scan(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.ScanInterval)
	defer ticker.Stop()

	w.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

// sweep performs one residue pass
func (w *ResidueWorker) sweep(ctx context.Context) {
	w.mu.Lock()
	w.lastScanTime = time.Now()
	w.mu.Unlock()

	stuck, err := w.store.ListCompensatingExecutions(ctx, w.config.CompensationResidueAge)
	if err != nil {
		w.log.Error("residue scan failed", zap.Error(err))
	} else {
		w.mu.Lock()
		w.lastStuckSeen = len(stuck)
		w.mu.Unlock()
		for _, execution := range stuck {
			w.log.Warn("execution stuck in compensation, operator action required",
				zap.String("execution_id", execution.ID),
				zap.String("order_id", execution.OrderID),
				zap.Timep("compensation_started_at", execution.CompensationStartedAt),
				zap.String("failure_reason", execution.FailureReason))
		}
	}

	stalled, err := w.store.ListStalledExecutions(ctx, w.config.StalledExecutionAge)
	if err != nil {
		w.log.Error("stalled execution scan failed", zap.Error(err))
	} else {
		w.mu.Lock()
		w.lastStalledSeen = len(stalled)
		w.mu.Unlock()
		for _, execution := range stalled {
			w.log.Warn("execution stalled in progress, operator action required",
				zap.String("execution_id", execution.ID),
				zap.String("order_id", execution.OrderID),
				zap.Time("started_at", execution.StartedAt))
		}
	}

	expired, err := w.store.ExpirePendingRetryAttempts(ctx, w.config.PendingRetryAge)
	if err != nil {
		w.log.Error("failed to expire pending retry attempts", zap.Error(err))
		return
	}
	if expired > 0 {
		w.mu.Lock()
		w.totalExpired += expired
		total := w.totalExpired
		w.mu.Unlock()
		w.log.Info("expired abandoned retry attempts",
			zap.Int64("expired", expired),
			zap.Int64("total_expired", total))
	}
}

// Stats returns a snapshot of the worker's counters
func (w *ResidueWorker) Stats() (totalExpired int64, lastScan time.Time, lastStuck, lastStalled int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.totalExpired, w.lastScanTime, w.lastStuckSeen, w.lastStalledSeen
}
