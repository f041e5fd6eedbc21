package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/OpenTraceLab/OpenTraceBERT/internal/journal"
	"github.com/OpenTraceLab/OpenTraceBERT/internal/mqtt"
	"github.com/OpenTraceLab/OpenTraceBERT/internal/telemetry"
	"github.com/OpenTraceLab/OpenTraceBERT/pkg/instrument"
)

var (
	serveFor     time.Duration
	serveConnect bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the instrument worker with its bridges",
	Long: `Run the instrument worker until interrupted. Depending on the
configuration, events are published over MQTT, exported to InfluxDB and
recorded in the session journal; MQTT command topics drive the worker.

Examples:
  bertctl serve --config bertctl.yaml
  bertctl serve --port sim --for 10s`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().DurationVar(&serveFor, "for", 0, "stop after this long (0 runs until interrupted)")
	serveCmd.Flags().BoolVar(&serveConnect, "connect", true, "connect and initialise the configured port at start")
}

func runServe(cmd *cobra.Command, args []string) error {
	p, err := cfg.Profile()
	if err != nil {
		return err
	}
	bus, rec, err := openBus(p)
	if err != nil {
		return err
	}
	if rec != nil {
		defer rec.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if serveFor > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, serveFor)
		defer cancel()
	}

	w := instrument.NewWorker(bus, p, instrument.DefaultSpecs(resources()), instrument.WorkerConfig{
		QueueSize:    cfg.Instrument.QueueSize,
		PollInterval: cfg.Instrument.PollInterval,
		Logger:       logger.Component("worker"),
	})

	session := uuid.NewString()
	sinks := []eventSink{sinkFunc(func(ev instrument.Event) {
		if s := formatEvent(ev); s != "" {
			fmt.Println(s)
		}
	})}

	if cfg.Journal.Enabled {
		j, err := journal.Open(ctx, cfg.Journal.Path, logger.Component("journal"))
		if err != nil {
			return err
		}
		defer j.Close()
		if err := j.StartSession(ctx, session, p.Name, cfg.Instrument.Port); err != nil {
			return err
		}
		defer func() {
			if err := j.EndSession(context.Background()); err != nil {
				logger.Warn("end journal session", "err", err)
			}
		}()
		sinks = append(sinks, j)
	}
	if cfg.InfluxDB.Enabled {
		r, err := telemetry.Connect(ctx, cfg.InfluxDB, session, logger.Component("telemetry"))
		if err != nil {
			return err
		}
		defer r.Close()
		sinks = append(sinks, r)
	}
	if cfg.MQTT.Enabled {
		client, err := mqtt.Dial(cfg.MQTT)
		if err != nil {
			return err
		}
		b := mqtt.NewBridge(client, cfg.MQTT, w.Send, logger.Component("mqtt"))
		if err := b.Start(ctx); err != nil {
			client.Disconnect(0)
			return err
		}
		defer b.Close()
		sinks = append(sinks, b)
	}

	logger.Info("serving", "session", session, "profile", p.Name, "port", cfg.Instrument.Port)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.Run(gctx) })
	g.Go(func() error {
		for ev := range w.Events() {
			for _, s := range sinks {
				s.Handle(ev)
			}
		}
		return nil
	})
	if serveConnect && cfg.Instrument.Port != "" {
		g.Go(func() error {
			if err := w.Send(gctx, instrument.Connect{Port: cfg.Instrument.Port}); err != nil {
				return err
			}
			return w.Send(gctx, instrument.InitComponents{})
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, instrument.ErrStopped) {
		err = nil
	}
	logger.Info("stopped", "session", session)
	return err
}
