package writer

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// WriterConfig holds configuration for the event writer.
type WriterConfig struct {
	// BatchSize is the number of rows to accumulate before flushing.
	BatchSize int

	// FlushInterval is the maximum time between flushes.
	FlushInterval time.Duration
}

// DefaultWriterConfig returns sensible defaults.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:     500,
		FlushInterval: time.Second,
	}
}

// BatchSender sends a queued batch. *pgxpool.Pool satisfies it.
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// eventRow represents a row to be inserted into the channel_events table.
type eventRow struct {
	Kind       string
	Event      string
	UserID     *string  // Nil when the payload names no user
	Latitude   *float64 // Nil when the payload carries no position
	Longitude  *float64
	Payload    string // JSON text
	ReceivedAt time.Time
}

// WriterMetrics tracks writer statistics.
type WriterMetrics struct {
	Inserts int64
	Errors  int64
	Flushes int64
}
