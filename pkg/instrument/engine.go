// Package instrument discovers, initialises and controls the chips of a BERT
// instrument.
//
// # Overview
//
// An Engine owns the I2C bus and every chip driver. It probes the fixed
// addresses of the active address profile family by family, announces each
// driver it creates, initialises the drivers in dependency order and routes
// chip commands to them. Everything it has to say leaves as Events.
//
// The Engine is not safe for concurrent use. A Worker runs one on its own
// goroutine and feeds it Commands strictly in arrival order.
package instrument

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/OpenTraceLab/OpenTraceBERT/pkg/device"
	"github.com/OpenTraceLab/OpenTraceBERT/pkg/i2c"
	"github.com/OpenTraceLab/OpenTraceBERT/pkg/status"
)

const defaultInitFailedMessage = "Error configuring system!"

// LockDetector is implemented by drivers that read the synthesizer
// lock-detect input.
type LockDetector interface {
	ReadLockDetect() (bool, error)
}

// Engine is the discovery and orchestration engine.
type Engine struct {
	bus     i2c.Bus
	profile Profile
	specs   []device.Spec
	emit    func(Event)
	log     *slog.Logger
	ports   func() ([]i2c.PortInfo, error)

	state       State
	drivers     map[device.Family][]device.Driver
	initialized map[device.Driver]bool
	initErr     error

	// DiscoveryTime is how long the last FindComponents took.
	DiscoveryTime time.Duration
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the engine and driver logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.log = l }
}

// WithPortLister replaces the serial port enumerator used by RefreshPorts.
func WithPortLister(f func() ([]i2c.PortInfo, error)) EngineOption {
	return func(e *Engine) { e.ports = f }
}

// NewEngine builds an engine that probes profile's addresses for the
// families in specs, in the order given. Events are passed to emit.
func NewEngine(bus i2c.Bus, profile Profile, specs []device.Spec, emit func(Event), opts ...EngineOption) *Engine {
	e := &Engine{
		bus:     bus,
		profile: profile,
		specs:   specs,
		emit:    emit,
		log:     slog.Default(),
		ports:   i2c.ListPorts,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.emit == nil {
		e.emit = func(Event) {}
	}
	e.reset()
	return e
}

func (e *Engine) reset() {
	e.drivers = make(map[device.Family][]device.Driver)
	e.initialized = make(map[device.Driver]bool)
	e.initErr = nil
}

// State returns the current state.
func (e *Engine) State() State { return e.state }

// Profile returns the active address profile.
func (e *Engine) Profile() Profile { return e.profile }

// Drivers returns the drivers of family f in discovery order. It makes the
// Engine a device.Peers.
func (e *Engine) Drivers(f device.Family) []device.Driver {
	return e.drivers[f]
}

// Driver returns driver id of family f.
func (e *Engine) Driver(f device.Family, id int) (device.Driver, bool) {
	ds := e.drivers[f]
	if id < 0 || id >= len(ds) {
		return nil, false
	}
	return ds[id], true
}

func (e *Engine) setState(s State) {
	if e.state == s {
		return
	}
	e.log.Debug("state change", "from", e.state, "to", s)
	e.state = s
	e.emit(StateChanged{State: s})
}

func (e *Engine) message(text string) {
	e.emit(StatusMessage{Text: text})
}

func (e *Engine) result(err error, lane int) {
	e.emit(Result{Code: status.FromError(err), Lane: lane})
}

// Options, Message and Reading make the Engine the drivers' device.Emitter.

func (e *Engine) Options(list device.OptionList) {
	e.emit(OptionsList{OptionList: list})
}

func (e *Engine) Message(text string) {
	e.message(text)
}

func (e *Engine) Reading(r device.Reading) {
	switch r.Name {
	case "temperature":
		e.emit(Temperature{Device: r.Device, Lane: r.Lane, Celsius: r.Value})
	default:
		e.log.Info("reading", "family", r.Family, "device", r.Device, "name", r.Name, "lane", r.Lane, "value", r.Value)
	}
}

func (e *Engine) env() device.Env {
	return device.Env{Bus: e.bus, Emit: e, Log: e.log, Peers: e}
}

// Connect opens port and discovers the components. A missing mandatory
// family tears everything down again.
func (e *Engine) Connect(port string) {
	if e.bus.IsOpen() {
		e.message("Connected.")
		e.emit(ConnectionChanged{Connected: true})
		return
	}
	if err := e.bus.Open(port); err != nil {
		code := status.FromError(err)
		e.log.Error("open port failed", "port", port, "err", err)
		e.emit(Result{Code: code, Lane: status.AllLanes})
		e.emit(ConnectionChanged{Connected: false})
		e.message(fmt.Sprintf("Couldn't connect to instrument on %s (%d)", port, int(code)))
		return
	}

	e.message("Comms Open. Checking system components...")
	e.setState(StateProbing)
	spec, err := e.FindComponents()
	if err != nil {
		e.Shutdown()
		e.result(err, status.AllLanes)
		if spec.Missing != status.OK && errors.Is(err, spec.Missing) {
			e.message(spec.MissingMessage)
		}
		e.message("Connect FAILED: Error setting up system components!")
		e.emit(ConnectionChanged{Connected: false})
		e.setState(StateDisconnected)
		return
	}
	e.setState(StateComponentsFound)
	e.message("Connected.")
	e.emit(ConnectionChanged{Connected: true})
}

// FindComponents probes every family's addresses in discovery order and
// creates a driver per chip that answers. On a missing mandatory family it
// returns that family's spec and missing status; drivers already announced
// stay in place for the caller to release.
func (e *Engine) FindComponents() (device.Spec, error) {
	if !e.bus.IsOpen() {
		return device.Spec{}, status.NotConnected
	}
	start := time.Now()
	defer func() { e.DiscoveryTime = time.Since(start) }()

	env := e.env()
	for _, spec := range e.specs {
		for _, addr := range e.profile.Addresses[spec.Family] {
			if !spec.Ping(e.bus, addr) {
				e.log.Debug("no answer", "family", spec.Family, "addr", fmt.Sprintf("0x%02X", addr))
				continue
			}
			id := len(e.drivers[spec.Family])
			d, err := spec.New(env, addr, id)
			if err != nil {
				return spec, fmt.Errorf("instrument: create %s driver at 0x%02X: %w", spec.Family, addr, err)
			}
			e.drivers[spec.Family] = append(e.drivers[spec.Family], d)
			e.log.Info("component found", "family", spec.Family, "device", id, "addr", fmt.Sprintf("0x%02X", addr))
			e.emit(DriverAdded{Family: spec.Family, Device: id, Address: addr})
		}
		found := len(e.drivers[spec.Family])
		if found < spec.Min {
			e.log.Error("mandatory component missing", "family", spec.Family, "found", found, "min", spec.Min)
			return spec, spec.Missing.Err()
		}
		if found == 0 {
			e.log.Warn("optional component not present", "family", spec.Family)
		}
	}
	return device.Spec{}, nil
}

func (e *Engine) spec(f device.Family) device.Spec {
	for _, s := range e.specs {
		if s.Family == f {
			return s
		}
	}
	return device.Spec{Family: f}
}

// InitComponents initialises every driver, family by family in InitOrder,
// and stops at the first failure. A failure leaves the engine connected in
// StateMisconfigured. Repeating the call once initialisation has run only
// reports the earlier outcome.
func (e *Engine) InitComponents() {
	switch e.state {
	case StateDisconnected:
		e.result(status.NotConnected, status.AllLanes)
		e.message("Not connected.")
		return
	case StateReady, StateMisconfigured:
		e.result(e.initErr, status.AllLanes)
		return
	}

	e.message("Comms Open. Initializing system components...")
	e.setState(StateInitializing)
	failed, err := e.initAll()
	e.initErr = err
	e.result(err, status.AllLanes)
	if err != nil {
		msg := e.spec(failed).InitFailedMessage
		if msg == "" {
			msg = defaultInitFailedMessage
		}
		e.message(msg)
		e.setState(StateMisconfigured)
		return
	}
	e.message("Ready.")
	e.setState(StateReady)
}

// initAll returns the family that failed along with its error.
func (e *Engine) initAll() (device.Family, error) {
	for _, f := range InitOrder {
		for _, d := range e.drivers[f] {
			e.log.Info("initialise", "family", f, "device", d.ID())
			if err := d.Init(); err != nil {
				e.log.Error("initialise failed", "family", f, "device", d.ID(), "err", err)
				return f, err
			}
			e.initialized[d] = true
		}
	}
	return "", nil
}

// Initialized reports whether d has been initialised successfully.
func (e *Engine) Initialized(d device.Driver) bool {
	return e.initialized[d]
}

// GetOptions asks the drivers for their option lists: every core, and only
// the first driver of families whose instances share their options.
func (e *Engine) GetOptions() {
	for _, spec := range e.specs {
		ds := e.drivers[spec.Family]
		if spec.SharedOptions && len(ds) > 1 {
			ds = ds[:1]
		}
		for _, d := range ds {
			d.GetOptions()
		}
	}
	e.emit(OptionsSent{})
}

// Command routes a chip command to one driver and reports the result.
// Commands arrive from remote clients too, so an unknown device id is
// answered with InvalidBoard rather than treated as a programming error.
func (e *Engine) Command(cmd DriverCommand) {
	if !e.state.Connected() {
		e.result(status.NotConnected, cmd.Lane)
		return
	}
	d, ok := e.Driver(cmd.Family, cmd.Device)
	if !ok {
		e.log.Warn("command for unknown device", "family", cmd.Family, "device", cmd.Device, "cmd", cmd.Name)
		e.result(status.InvalidBoard, cmd.Lane)
		return
	}
	if !e.initialized[d] {
		e.result(status.NotInitialised, cmd.Lane)
		return
	}
	err := d.Command(device.Command{Name: cmd.Name, Lane: cmd.Lane, Value: cmd.Value})
	if err != nil {
		e.log.Warn("command failed", "family", cmd.Family, "device", cmd.Device, "cmd", cmd.Name, "err", err)
	}
	e.result(err, cmd.Lane)
}

// ReadLockDetect reads the first I/O expander's lock-detect input and emits
// a LockDetect event.
func (e *Engine) ReadLockDetect() error {
	d := device.First(e, device.FamilyIO)
	if d == nil || !e.initialized[d] {
		return status.NotInitialised
	}
	ld, ok := d.(LockDetector)
	if !ok {
		return status.NotImplemented
	}
	locked, err := ld.ReadLockDetect()
	if err != nil {
		return err
	}
	e.emit(LockDetect{Device: d.ID(), Locked: locked})
	return nil
}

// RefreshPorts emits the available serial ports.
func (e *Engine) RefreshPorts() {
	ports, err := e.ports()
	if err != nil {
		e.log.Warn("list ports", "err", err)
		e.result(err, status.AllLanes)
	}
	e.emit(PortsListed{Ports: ports})
}

// Shutdown releases every driver, then closes the bus.
func (e *Engine) Shutdown() {
	e.reset()
	e.emit(DriversReleased{})
	if err := e.bus.Close(); err != nil {
		e.log.Warn("close port", "err", err)
	}
}

// Disconnect shuts down and reports the disconnection.
func (e *Engine) Disconnect() {
	e.Shutdown()
	e.result(nil, status.AllLanes)
	e.message("Disconnected.")
	e.emit(ConnectionChanged{Connected: false})
	e.setState(StateDisconnected)
}

// Close shuts down silently if still connected.
func (e *Engine) Close() error {
	if !e.bus.IsOpen() {
		return nil
	}
	e.reset()
	e.state = StateDisconnected
	return e.bus.Close()
}

// Handle executes one command.
func (e *Engine) Handle(cmd Command) {
	switch c := cmd.(type) {
	case Connect:
		e.Connect(c.Port)
	case Disconnect:
		e.Disconnect()
	case RefreshPorts:
		e.RefreshPorts()
	case InitComponents:
		e.InitComponents()
	case GetOptions:
		e.GetOptions()
	case DriverCommand:
		e.Command(c)
	case ReadLockDetect:
		if err := e.ReadLockDetect(); err != nil {
			e.result(err, status.AllLanes)
		}
	default:
		e.log.Error("unknown command", "type", fmt.Sprintf("%T", cmd))
	}
}
