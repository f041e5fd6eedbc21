package device

import (
	"fmt"
	"log/slog"

	"github.com/OpenTraceLab/OpenTraceBERT/pkg/i2c"
	"github.com/OpenTraceLab/OpenTraceBERT/pkg/status"
)

// Base carries the state shared by every driver. Drivers embed it.
type Base struct {
	Bus  i2c.Bus
	Addr uint16

	family Family
	id     int
	emit   Emitter
	log    *slog.Logger
}

// NewBase fills in the common driver fields from env.
func NewBase(f Family, env Env, addr uint16, id int) Base {
	emit := env.Emit
	if emit == nil {
		emit = NopEmitter{}
	}
	log := env.Log
	if log == nil {
		log = slog.Default()
	}
	return Base{
		Bus:    env.Bus,
		Addr:   addr,
		family: f,
		id:     id,
		emit:   emit,
		log:    log.With("family", string(f), "device", id, "addr", fmt.Sprintf("0x%02X", addr)),
	}
}

func (b *Base) Family() Family  { return b.family }
func (b *Base) ID() int         { return b.id }
func (b *Base) Address() uint16 { return b.Addr }

// Log returns the driver's logger.
func (b *Base) Log() *slog.Logger { return b.log }

// CheckOpen fails with status.NotConnected when the bus is closed.
func (b *Base) CheckOpen() error {
	if b.Bus == nil || !b.Bus.IsOpen() {
		return status.NotConnected
	}
	return nil
}

// EmitOptions sends an option list tagged with this driver's identity.
func (b *Base) EmitOptions(name string, lane int, items []string, def int) {
	b.emit.Options(OptionList{
		Family:  b.family,
		Device:  b.id,
		Name:    name,
		Lane:    lane,
		Items:   append([]string(nil), items...),
		Default: def,
	})
}

// EmitReading sends a measurement tagged with this driver's identity.
func (b *Base) EmitReading(name string, lane int, v float64) {
	b.emit.Reading(Reading{Family: b.family, Device: b.id, Name: name, Lane: lane, Value: v})
}

// Message sends a human readable message.
func (b *Base) Message(text string) {
	b.emit.Message(text)
}

// ReadReg reads one register of this chip.
func (b *Base) ReadReg(reg uint8) (byte, error) {
	return i2c.ReadReg(b.Bus, b.Addr, reg)
}

// WriteReg writes one register of this chip.
func (b *Base) WriteReg(reg uint8, v byte) error {
	return i2c.WriteReg(b.Bus, b.Addr, reg, v)
}

// CheckIndex validates a caller-supplied index. An index outside [0, n) is a
// caller bug: see Misuse. Callers return ErrMisuse when it reports false.
func (b *Base) CheckIndex(what string, idx, n int) bool {
	if idx >= 0 && idx < n {
		return true
	}
	Misuse(b.log, "%s index %d out of range [0,%d)", what, idx, n)
	return false
}

// UnknownCommand is returned for commands a driver does not implement.
func UnknownCommand(f Family, cmd Command) error {
	return fmt.Errorf("device: %s has no command %q: %w", f, cmd.Name, status.NotImplemented)
}

// NopEmitter discards everything.
type NopEmitter struct{}

func (NopEmitter) Options(OptionList) {}
func (NopEmitter) Message(string)     {}
func (NopEmitter) Reading(Reading)    {}
