package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/OpenTraceLab/OpenTraceBERT/pkg/device"
	"github.com/OpenTraceLab/OpenTraceBERT/pkg/i2c"
	"github.com/OpenTraceLab/OpenTraceBERT/pkg/instrument"
	"github.com/OpenTraceLab/OpenTraceBERT/pkg/status"
	"github.com/OpenTraceLab/OpenTraceBERT/pkg/trace"
)

var errNoPort = errors.New(`no port configured (use --port or instrument.port; "sim" selects the simulator)`)

// resources locates the macro and clock definition directories.
func resources() instrument.Resources {
	return instrument.Resources{
		Macros:       os.DirFS(cfg.Instrument.MacroDir),
		MacroVersion: cfg.Instrument.MacroVersion,
		ClockDefs:    os.DirFS(cfg.Instrument.ClockDefsDir),
	}
}

// openBus builds the bus for the configured port, traced when tracing is
// enabled. The simulator port gets a fully populated simulated instrument.
func openBus(p instrument.Profile) (i2c.Bus, *trace.Recorder, error) {
	var bus i2c.Bus
	if cfg.Instrument.Port == i2c.SimPortName {
		bus = instrument.NewSimulation(p).Bus
	} else {
		bus = i2c.NewSerialTransport(
			i2c.WithBaud(cfg.Instrument.Baud),
			i2c.WithReadTimeout(cfg.Instrument.ReadTimeout),
			i2c.WithLogger(logger.Component("i2c")),
		)
	}
	if !cfg.Trace.Enabled {
		return bus, nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Trace.Path), 0o750); err != nil {
		return nil, nil, fmt.Errorf("trace directory: %w", err)
	}
	rec, err := trace.OpenFile(cfg.Trace.Path)
	if err != nil {
		return nil, nil, err
	}
	return trace.NewBus(bus, rec), rec, nil
}

// session drives an engine synchronously for the one-shot commands.
type session struct {
	engine *instrument.Engine
	rec    *trace.Recorder
	events []instrument.Event
}

func newSession() (*session, error) {
	if cfg.Instrument.Port == "" {
		return nil, errNoPort
	}
	p, err := cfg.Profile()
	if err != nil {
		return nil, err
	}
	bus, rec, err := openBus(p)
	if err != nil {
		return nil, err
	}
	s := &session{rec: rec}
	s.engine = instrument.NewEngine(bus, p, instrument.DefaultSpecs(resources()), s.record,
		instrument.WithLogger(logger.Component("engine")))
	return s, nil
}

func (s *session) record(ev instrument.Event) {
	s.events = append(s.events, ev)
	if m, ok := ev.(instrument.StatusMessage); ok && verbose {
		fmt.Println(m.Text)
	}
}

// lastError returns the last failed result since event index from.
func (s *session) lastError(from int) error {
	for i := len(s.events) - 1; i >= from; i-- {
		if r, ok := s.events[i].(instrument.Result); ok && r.Code != status.OK {
			return r.Code
		}
	}
	return nil
}

// connect opens the port and discovers the components.
func (s *session) connect() error {
	from := len(s.events)
	s.engine.Connect(cfg.Instrument.Port)
	if s.engine.State() != instrument.StateComponentsFound {
		err := s.lastError(from)
		if err == nil {
			err = status.GenError
		}
		return fmt.Errorf("connect %s: %w", cfg.Instrument.Port, err)
	}
	return nil
}

// initialize connects and initialises every component.
func (s *session) initialize() error {
	if err := s.connect(); err != nil {
		return err
	}
	from := len(s.events)
	s.engine.InitComponents()
	if s.engine.State() != instrument.StateReady {
		return fmt.Errorf("initialise components: %w", s.lastError(from))
	}
	return nil
}

// drivers returns the drivers of family f.
func (s *session) drivers(f device.Family) []device.Driver {
	return s.engine.Drivers(f)
}

func (s *session) close() {
	if err := s.engine.Close(); err != nil {
		logger.Warn("close", "err", err)
	}
	if s.rec != nil {
		if err := s.rec.Close(); err != nil {
			logger.Warn("close trace", "err", err)
		}
	}
}

// found returns the DriverAdded events in discovery order.
func (s *session) found() []instrument.DriverAdded {
	var out []instrument.DriverAdded
	for _, ev := range s.events {
		if d, ok := ev.(instrument.DriverAdded); ok {
			out = append(out, d)
		}
	}
	return out
}
