package writer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rickgao/disaster-relay/internal/model"
	"github.com/rickgao/disaster-relay/internal/router"
)

// fakeDB records every queued batch.
type fakeDB struct {
	mu      sync.Mutex
	batches [][]*pgx.QueuedQuery
	err     error
}

func (d *fakeDB) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.batches = append(d.batches, b.QueuedQueries)
	return &fakeResults{err: d.err}
}

func (d *fakeDB) rows() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, b := range d.batches {
		n += len(b)
	}
	return n
}

type fakeResults struct {
	err error
}

func (r *fakeResults) Exec() (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag("INSERT 0 1"), r.err
}
func (r *fakeResults) Query() (pgx.Rows, error) { return nil, errors.New("not implemented") }
func (r *fakeResults) QueryRow() pgx.Row        { return nil }
func (r *fakeResults) Close() error             { return nil }

func event(kind model.EventKind, name, payload string) model.Event {
	return model.Event{
		Kind:       kind,
		Name:       name,
		Payload:    json.RawMessage(payload),
		ReceivedAt: time.Date(2025, 3, 1, 8, 30, 0, 0, time.UTC),
	}
}

func ptr[T any](v T) *T { return &v }

func TestTransform(t *testing.T) {
	receivedAt := time.Date(2025, 3, 1, 8, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		ev   model.Event
		want eventRow
	}{
		{
			name: "sos with coordinates",
			ev:   event(model.KindSOSAlert, model.EventSOSAlert, `{"id":"s1","userId":"c-1","latitude":14.6,"longitude":121}`),
			want: eventRow{
				Kind:       "sos_alert",
				Event:      "sos-alert",
				UserID:     ptr("c-1"),
				Latitude:   ptr(14.6),
				Longitude:  ptr(121.0),
				Payload:    `{"id":"s1","userId":"c-1","latitude":14.6,"longitude":121}`,
				ReceivedAt: receivedAt,
			},
		},
		{
			name: "alert with nested location",
			ev:   event(model.KindDisasterAlert, model.EventDisasterAlert, `{"title":"Flood","issuedBy":"off-2","location":{"latitude":1.5,"longitude":2.5}}`),
			want: eventRow{
				Kind:       "disaster_alert",
				Event:      "disaster-alert",
				UserID:     ptr("off-2"),
				Latitude:   ptr(1.5),
				Longitude:  ptr(2.5),
				Payload:    `{"title":"Flood","issuedBy":"off-2","location":{"latitude":1.5,"longitude":2.5}}`,
				ReceivedAt: receivedAt,
			},
		},
		{
			name: "array payload",
			ev:   event(model.KindAllLocations, model.EventAllLocations, `[{"userId":"c-1"}]`),
			want: eventRow{
				Kind:       "all_locations",
				Event:      "official:all:locations",
				Payload:    `[{"userId":"c-1"}]`,
				ReceivedAt: receivedAt,
			},
		},
		{
			name: "empty payload",
			ev:   event(model.KindAlertAcknowledged, model.EventAlertAcknowledged, ``),
			want: eventRow{
				Kind:       "alert_acknowledged",
				Event:      "alert-acknowledged",
				Payload:    "null",
				ReceivedAt: receivedAt,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, transform(tt.ev)); diff != "" {
				t.Errorf("transform() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEventWriter_FlushesFullBatch(t *testing.T) {
	db := &fakeDB{}
	input := router.NewQueue[model.Event](4)
	w := NewEventWriter(WriterConfig{BatchSize: 2, FlushInterval: time.Hour}, input, db, nil)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Stop(context.Background())

	input.Push(event(model.KindSOSAlert, model.EventSOSAlert, `{"userId":"c-1"}`))
	input.Push(event(model.KindSOSAlert, model.EventSOSAlert, `{"userId":"c-2"}`))

	deadline := time.Now().Add(time.Second)
	for w.Stats().Flushes != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("rows written = %d, want 2", db.rows())
		}
		time.Sleep(5 * time.Millisecond)
	}

	stats := w.Stats()
	if stats.Inserts != 2 || stats.Flushes != 1 {
		t.Errorf("stats = %+v", stats)
	}

	db.mu.Lock()
	args := db.batches[0][1].Arguments
	db.mu.Unlock()
	if got := args[2].(*string); *got != "c-2" {
		t.Errorf("user_id argument = %q, want c-2", *got)
	}
}

func TestEventWriter_FlushInterval(t *testing.T) {
	db := &fakeDB{}
	input := router.NewQueue[model.Event](4)
	w := NewEventWriter(WriterConfig{BatchSize: 100, FlushInterval: 20 * time.Millisecond}, input, db, nil)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Stop(context.Background())

	input.Push(event(model.KindLocationUpdate, model.EventLocationUpdate, `{"userId":"c-1","latitude":1,"longitude":2}`))

	deadline := time.Now().Add(time.Second)
	for db.rows() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("interval flush never happened")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEventWriter_StopFlushesRemaining(t *testing.T) {
	db := &fakeDB{}
	input := router.NewQueue[model.Event](4)
	w := NewEventWriter(WriterConfig{BatchSize: 100, FlushInterval: time.Hour}, input, db, nil)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		input.Push(event(model.KindIncidentReport, model.EventNewIncident, `{"title":"Landslide"}`))
	}
	input.Close()

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := w.Stop(stopCtx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if db.rows() != 3 {
		t.Errorf("rows written = %d, want 3", db.rows())
	}
}

func TestEventWriter_InsertError(t *testing.T) {
	db := &fakeDB{err: errors.New("relation does not exist")}
	input := router.NewQueue[model.Event](1)
	w := NewEventWriter(WriterConfig{BatchSize: 10, FlushInterval: time.Hour}, input, db, nil)

	w.append(event(model.KindSOSAlert, model.EventSOSAlert, `{}`))
	if err := w.flush(context.Background()); err == nil {
		t.Fatal("expected flush error")
	}

	stats := w.Stats()
	if stats.Errors != 1 || stats.Inserts != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestEventWriter_Lifecycle(t *testing.T) {
	input := router.NewQueue[model.Event](1)
	w := NewEventWriter(DefaultWriterConfig(), input, &fakeDB{}, nil)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// Stop should complete without hanging
	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := w.Stop(stopCtx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}
