package database

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/verdantgrow/growlink/internal/errclass"
)

// StoreConfig holds batching settings for the report store.
type StoreConfig struct {
	BatchSize     int
	FlushInterval time.Duration
}

// DefaultStoreConfig returns production batching defaults.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		BatchSize:     100,
		FlushInterval: 5 * time.Second,
	}
}

// StoreMetrics counts report store activity.
type StoreMetrics struct {
	Inserts int64
	Errors  int64
	Flushes int64
}

// reportRow is one error report ready for insertion.
type reportRow struct {
	Kind        string
	Code        string
	Message     string
	UserMessage string
	Status      int
	Context     []byte
	OccurredAt  time.Time
}

// ReportStore accumulates classified errors and writes them to the
// error_reports table in batches.
type ReportStore struct {
	cfg    StoreConfig
	logger *slog.Logger
	db     *pgxpool.Pool

	batch       []reportRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics StoreMetrics
}

// NewReportStore creates a report store writing to db.
func NewReportStore(cfg StoreConfig, db *pgxpool.Pool, logger *slog.Logger) *ReportStore {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = DefaultStoreConfig().BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultStoreConfig().FlushInterval
	}
	return &ReportStore{
		cfg:    cfg,
		db:     db,
		logger: logger,
		batch:  make([]reportRow, 0, cfg.BatchSize),
	}
}

// Hook adapts the store into an error handler hook.
func (s *ReportStore) Hook() errclass.Hook {
	return func(info *errclass.ErrorInfo) {
		s.Add(info)
	}
}

// Start begins the periodic flush loop.
func (s *ReportStore) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.flushTicker = time.NewTicker(s.cfg.FlushInterval)

	s.wg.Add(1)
	go s.flushLoop()

	s.logger.Info("report store started",
		"batch_size", s.cfg.BatchSize,
		"flush_interval", s.cfg.FlushInterval,
	)
	return nil
}

// Stop shuts the store down and flushes the remaining batch.
func (s *ReportStore) Stop(ctx context.Context) error {
	s.logger.Info("stopping report store")

	if s.cancel != nil {
		s.cancel()
	}
	if s.flushTicker != nil {
		s.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("report store stopped")
	case <-ctx.Done():
		s.logger.Warn("report store stop timed out")
	}

	// Final flush
	s.flush(context.Background())

	return nil
}

// Stats returns current metrics.
func (s *ReportStore) Stats() StoreMetrics {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()
	return s.metrics
}

// Pending reports the number of buffered rows.
func (s *ReportStore) Pending() int {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()
	return len(s.batch)
}

// Add buffers one classified error for insertion.
func (s *ReportStore) Add(info *errclass.ErrorInfo) {
	if info == nil {
		return
	}
	row := transform(info)

	s.batchMu.Lock()
	s.batch = append(s.batch, row)
	shouldFlush := len(s.batch) >= s.cfg.BatchSize
	s.batchMu.Unlock()

	if shouldFlush && s.ctx != nil {
		s.flush(s.ctx)
	}
}

// transform converts a classified error to a reportRow.
func transform(info *errclass.ErrorInfo) reportRow {
	var contextJSON []byte
	if len(info.Context) > 0 {
		contextJSON, _ = json.Marshal(info.Context)
	}

	occurredAt := info.Timestamp
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}

	return reportRow{
		Kind:        string(info.Kind),
		Code:        info.Code,
		Message:     info.Message,
		UserMessage: info.UserMessage,
		Status:      info.Status,
		Context:     contextJSON,
		OccurredAt:  occurredAt,
	}
}

// flushLoop periodically flushes the batch.
func (s *ReportStore) flushLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.flushTicker.C:
			s.flush(s.ctx)
		}
	}
}

// flush writes the current batch to the database.
func (s *ReportStore) flush(ctx context.Context) {
	s.batchMu.Lock()
	if len(s.batch) == 0 {
		s.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := s.batch
	s.batch = make([]reportRow, 0, s.cfg.BatchSize)
	s.batchMu.Unlock()

	start := time.Now()

	if err := s.batchInsert(ctx, batch); err != nil {
		s.logger.Error("report insert failed", "error", err, "count", len(batch))
		s.batchMu.Lock()
		s.metrics.Errors++
		s.batchMu.Unlock()
		return
	}

	s.batchMu.Lock()
	s.metrics.Inserts += int64(len(batch))
	s.metrics.Flushes++
	s.batchMu.Unlock()

	s.logger.Debug("flushed error reports",
		"count", len(batch),
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch.
func (s *ReportStore) batchInsert(ctx context.Context, rows []reportRow) error {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO error_reports (kind, code, message, user_message, status, context, occurred_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, r.Kind, r.Code, r.Message, r.UserMessage, r.Status, r.Context, r.OccurredAt)
	}

	results := s.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}

	return nil
}
