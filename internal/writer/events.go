package writer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/disaster-relay/internal/model"
	"github.com/rickgao/disaster-relay/internal/router"
)

const insertEventSQL = `
	INSERT INTO channel_events (kind, event, user_id, latitude, longitude, payload, received_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
`

// EventWriter consumes events from the router feed and writes them to the
// channel_events table.
type EventWriter struct {
	cfg    WriterConfig
	logger *slog.Logger

	// Input from the Event Router
	input *router.Queue[model.Event]

	// Database
	db BatchSender

	// Batching
	batch   []eventRow
	batchMu sync.Mutex
	flushMu sync.Mutex // Serializes database round trips

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	metrics WriterMetrics
}

// NewEventWriter creates a new EventWriter.
func NewEventWriter(
	cfg WriterConfig,
	input *router.Queue[model.Event],
	db BatchSender,
	logger *slog.Logger,
) *EventWriter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = DefaultWriterConfig().BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultWriterConfig().FlushInterval
	}
	return &EventWriter{
		cfg:    cfg,
		input:  input,
		db:     db,
		logger: logger,
		batch:  make([]eventRow, 0, cfg.BatchSize),
	}
}

// Start begins consuming events and writing to the database.
func (w *EventWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(2)
	go w.consumeLoop()
	go w.flushLoop()

	w.logger.Info("event writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop shuts down the writer. Events still queued are written with ctx
// bounding the final flush.
func (w *EventWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping event writer")

	if w.cancel != nil {
		w.cancel()
	}

	// Wait for goroutines
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("event writer stop timed out")
		return ctx.Err()
	}

	for _, ev := range w.input.DrainTo(0) {
		w.append(ev)
	}
	err := w.flush(ctx)

	w.logger.Info("event writer stopped", "inserts", w.Stats().Inserts)
	return err
}

// Stats returns current metrics.
func (w *EventWriter) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// consumeLoop pops events until the writer stops or the feed is closed and
// drained.
func (w *EventWriter) consumeLoop() {
	defer w.wg.Done()

	for {
		ev, err := w.input.Pop(w.ctx)
		if err != nil {
			if errors.Is(err, router.ErrQueueClosed) {
				w.logger.Debug("event feed closed")
			}
			return
		}
		if w.append(ev) {
			w.flush(w.ctx)
		}
	}
}

// flushLoop periodically flushes the batch.
func (w *EventWriter) flushLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.flush(w.ctx)
		}
	}
}

// append adds an event to the batch and reports whether it is full.
func (w *EventWriter) append(ev model.Event) bool {
	row := transform(ev)

	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	w.batch = append(w.batch, row)
	return len(w.batch) >= w.cfg.BatchSize
}

// flush writes the current batch to the database.
func (w *EventWriter) flush(ctx context.Context) error {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return nil
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]eventRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	if err := w.batchInsert(ctx, batch); err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return err
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch))
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed events",
		"count", len(batch),
		"duration", time.Since(start),
	)
	return nil
}

// batchInsert inserts rows using pgx.Batch.
func (w *EventWriter) batchInsert(ctx context.Context, rows []eventRow) error {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertEventSQL, r.Kind, r.Event, r.UserID, r.Latitude, r.Longitude, r.Payload, r.ReceivedAt)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// eventFields are the indexed columns common to every payload shape.
type eventFields struct {
	UserID    string          `json:"userId"`
	IssuedBy  string          `json:"issuedBy"`
	Latitude  *float64        `json:"latitude"`
	Longitude *float64        `json:"longitude"`
	Location  *model.Location `json:"location"`
}

// transform converts an event to an eventRow. Indexed columns are filled
// from whatever the payload carries. Arrays and scalars only keep the
// payload.
func transform(ev model.Event) eventRow {
	payload := string(ev.Payload)
	if len(ev.Payload) == 0 {
		payload = "null"
	}

	row := eventRow{
		Kind:       string(ev.Kind),
		Event:      ev.Name,
		Payload:    payload,
		ReceivedAt: ev.ReceivedAt.UTC(),
	}

	var f eventFields
	if err := json.Unmarshal(ev.Payload, &f); err != nil {
		return row
	}

	switch {
	case f.UserID != "":
		row.UserID = &f.UserID
	case f.IssuedBy != "":
		row.UserID = &f.IssuedBy
	}

	switch {
	case f.Latitude != nil && f.Longitude != nil:
		row.Latitude, row.Longitude = f.Latitude, f.Longitude
	case f.Location != nil:
		row.Latitude, row.Longitude = &f.Location.Latitude, &f.Location.Longitude
	}
	return row
}
