package trace

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/OpenTraceLab/OpenTraceBERT/pkg/i2c"
	"github.com/OpenTraceLab/OpenTraceBERT/pkg/status"
)

// Bus wraps an i2c.Bus and records every operation. Each Open starts a new
// session id.
type Bus struct {
	i2c.Bus
	rec *Recorder

	mu      sync.Mutex
	session string
	seq     uint64
	now     func() time.Time
}

// NewBus returns inner traced into rec.
func NewBus(inner i2c.Bus, rec *Recorder) *Bus {
	return &Bus{Bus: inner, rec: rec, now: time.Now}
}

// Session returns the id of the current or last session.
func (b *Bus) Session() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.session
}

func (b *Bus) record(e Entry, start time.Time, err error) {
	b.mu.Lock()
	b.seq++
	e.Seq = b.seq
	e.Session = b.session
	b.mu.Unlock()

	e.Time = start
	e.Elapsed = b.now().Sub(start)
	e.Code = status.FromError(err)
	b.rec.Record(e)
}

func (b *Bus) Open(port string) error {
	start := b.now()
	err := b.Bus.Open(port)
	if err == nil {
		b.mu.Lock()
		b.session = uuid.NewString()
		b.seq = 0
		b.mu.Unlock()
	}
	b.record(Entry{Op: OpOpen, Port: port}, start, err)
	return err
}

func (b *Bus) Close() error {
	start := b.now()
	err := b.Bus.Close()
	b.record(Entry{Op: OpClose, Port: b.Bus.String()}, start, err)
	return err
}

func (b *Bus) Tx(addr uint16, w, r []byte) error {
	start := b.now()
	err := b.Bus.Tx(addr, w, r)
	e := Entry{Op: OpTx, Addr: addr, Write: slices.Clone(w)}
	if err == nil {
		e.Read = slices.Clone(r)
	}
	b.record(e, start, err)
	return err
}

func (b *Bus) Ping(addr uint16) error {
	start := b.now()
	err := b.Bus.Ping(addr)
	b.record(Entry{Op: OpPing, Addr: addr}, start, err)
	return err
}

func (b *Bus) Read8(addr uint16, reg uint8, n int) ([]byte, error) {
	start := b.now()
	data, err := b.Bus.Read8(addr, reg, n)
	b.record(Entry{Op: OpRead8, Addr: addr, Reg: reg, Read: slices.Clone(data)}, start, err)
	return data, err
}

func (b *Bus) Write8(addr uint16, reg uint8, data []byte) error {
	start := b.now()
	err := b.Bus.Write8(addr, reg, data)
	b.record(Entry{Op: OpWrite8, Addr: addr, Reg: reg, Write: slices.Clone(data)}, start, err)
	return err
}

var _ i2c.Bus = (*Bus)(nil)
