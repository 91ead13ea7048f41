// probe opens a channel, measures round trips and optionally exercises the
// emergency events, printing each result.
//
// Usage: go run ./cmd/probe --url http://localhost:5000 --user-id cit-1 --role citizen --sos
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	flags "github.com/jessevdk/go-flags"

	"github.com/rickgao/disaster-relay/internal/config"
	"github.com/rickgao/disaster-relay/internal/connection"
	"github.com/rickgao/disaster-relay/internal/logging"
	"github.com/rickgao/disaster-relay/internal/model"
	"github.com/rickgao/disaster-relay/internal/realtime"
)

type probeOptions struct {
	config.Options `group:"Channel Options"`

	Count     int           `short:"n" long:"count" default:"3" description:"Number of pings to send"`
	SOS       bool          `long:"sos" description:"Send an SOS alert"`
	Location  bool          `long:"location" description:"Share a location update"`
	Latitude  float64       `long:"lat" default:"0" description:"Latitude for --sos and --location"`
	Longitude float64       `long:"lng" default:"0" description:"Longitude for --sos and --location"`
	Broadcast string        `long:"broadcast" description:"Broadcast a disaster alert with this title (officials only)"`
	Severity  string        `long:"severity" default:"low" description:"Severity of the broadcast alert"`
	Listen    time.Duration `long:"listen" default:"0s" description:"Print inbound events for this long before exiting"`
}

func main() {
	var opts probeOptions
	if _, err := config.Parse(&opts, os.Args[1:]); err != nil {
		var flagErr *flags.Error
		if errors.As(err, &flagErr) && flagErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}

	cfg, err := config.Resolve(opts.Options)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := logging.New(logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opts, logger); err != nil {
		fmt.Fprintln(os.Stderr, "probe failed:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.RelayConfig, opts probeOptions, logger *slog.Logger) error {
	svcCfg := cfg.ServiceConfig()
	svcCfg.Connection.ReconnectAttempts = 0

	svc := realtime.New(svcCfg, connection.Hooks{}, logger)
	if err := svc.Open(ctx); err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		svc.Close(closeCtx)
	}()

	if opts.Listen > 0 {
		printEvents(svc)
	}

	start := time.Now()
	if err := svc.Connect(ctx, cfg.IdentityValue()); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	session, _ := svc.Session()
	fmt.Printf("connected  socket=%s user=%s role=%s in %s\n",
		session.SocketID, session.Identity.UserID, session.Identity.Role, time.Since(start).Round(time.Millisecond))

	var failures int
	for i := 1; i <= opts.Count; i++ {
		rtt, err := svc.Ping(ctx)
		if err != nil {
			failures++
			fmt.Printf("ping %d     error: %v\n", i, err)
			continue
		}
		fmt.Printf("ping %d     rtt=%s\n", i, rtt.Round(time.Microsecond))
	}

	runID := uuid.NewString()
	identity := cfg.IdentityValue()

	if opts.SOS {
		ack, err := svc.SendSOSAlert(ctx, model.SOSAlert{
			UserID:        identity.UserID,
			UserName:      identity.Name,
			EmergencyType: "other",
			Message:       "probe " + runID,
			Latitude:      opts.Latitude,
			Longitude:     opts.Longitude,
			Timestamp:     model.Now(),
		})
		if err != nil {
			failures++
			fmt.Printf("sos        error: %v\n", err)
		} else {
			fmt.Printf("sos        id=%s success=%t\n", ack.ID, ack.Success)
		}
	}

	if opts.Location {
		svc.SendLocation(model.LocationUpdate{
			UserID:    identity.UserID,
			UserName:  identity.Name,
			Latitude:  opts.Latitude,
			Longitude: opts.Longitude,
			Timestamp: model.Now(),
		})
		fmt.Println("location   sent")
	}

	if opts.Broadcast != "" {
		res, err := svc.BroadcastDisasterAlert(ctx, model.DisasterAlert{
			Title:    opts.Broadcast,
			Message:  "probe " + runID,
			Severity: opts.Severity,
			IssuedBy: identity.UserID,
		})
		if err != nil {
			failures++
			fmt.Printf("broadcast  error: %v\n", err)
		} else {
			fmt.Printf("broadcast  recipients=%d success=%t\n", res.RecipientCount, res.Success)
		}
	}

	if opts.Listen > 0 {
		fmt.Printf("listening for %s\n", opts.Listen)
		select {
		case <-ctx.Done():
		case <-time.After(opts.Listen):
		}
	}

	stats := svc.RouterStats()
	fmt.Printf("done       acks=%d timeouts=%d late=%d events=%d\n",
		stats.AcksMatched, stats.Timeouts, stats.LateAcks, stats.EventsDispatched)

	if failures > 0 {
		return fmt.Errorf("%d request(s) failed", failures)
	}
	return nil
}

// printEvents prints every inbound event as one JSON line.
func printEvents(svc *realtime.Service) {
	line := func(name string, v any) {
		data, _ := json.Marshal(v)
		fmt.Printf("event      %s %s\n", name, data)
	}

	svc.OnDisasterAlert(func(a model.DisasterAlert) { line(model.EventDisasterAlert, a) })
	svc.OnSOSAlert(func(s model.SOSAlert) { line(model.EventSOSAlert, s) })
	svc.OnIncidentReport(func(r model.IncidentReport) { line(model.EventNewIncident, r) })
	svc.OnAlertAcknowledged(func(raw json.RawMessage) { line(model.EventAlertAcknowledged, raw) })
	svc.OnCitizenLocation(func(l model.LocationUpdate) { line(model.EventLocationUpdate, l) })
	svc.OnAllLocations(func(ls []model.LocationUpdate) { line(model.EventAllLocations, ls) })
}
