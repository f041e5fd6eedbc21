// Package trace records I2C transactions to a CBOR stream so a session with
// the instrument can be replayed or inspected offline.
package trace

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/OpenTraceLab/OpenTraceBERT/pkg/status"
)

// Op identifies the bus operation an entry records.
type Op uint8

const (
	OpOpen Op = iota + 1
	OpClose
	OpTx
	OpPing
	OpRead8
	OpWrite8
)

var opNames = map[Op]string{
	OpOpen:   "open",
	OpClose:  "close",
	OpTx:     "tx",
	OpPing:   "ping",
	OpRead8:  "read8",
	OpWrite8: "write8",
}

func (o Op) String() string {
	if s, ok := opNames[o]; ok {
		return s
	}
	return fmt.Sprintf("op(%d)", uint8(o))
}

// Entry is one recorded bus operation. Integer keys keep the stream small.
type Entry struct {
	Time    time.Time     `cbor:"1,keyasint"`
	Session string        `cbor:"2,keyasint"`
	Seq     uint64        `cbor:"3,keyasint"`
	Op      Op            `cbor:"4,keyasint"`
	Addr    uint16        `cbor:"5,keyasint,omitempty"`
	Reg     uint8         `cbor:"6,keyasint,omitempty"`
	Write   []byte        `cbor:"7,keyasint,omitempty"`
	Read    []byte        `cbor:"8,keyasint,omitempty"`
	Code    status.Code   `cbor:"9,keyasint,omitempty"`
	Port    string        `cbor:"10,keyasint,omitempty"`
	Elapsed time.Duration `cbor:"11,keyasint,omitempty"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("trace: cbor encoder mode: %v", err))
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyQuiet,
		IndefLength: cbor.IndefLengthAllowed,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("trace: cbor decoder mode: %v", err))
	}
}

// Recorder appends entries to a CBOR stream. It is safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	enc     *cbor.Encoder
	closer  io.Closer
	closed  bool
	written int
	err     error
}

// NewRecorder writes entries to w.
func NewRecorder(w io.Writer) *Recorder {
	r := &Recorder{enc: encMode.NewEncoder(w)}
	if c, ok := w.(io.Closer); ok {
		r.closer = c
	}
	return r
}

// OpenFile appends to the trace file at path, creating it if needed.
func OpenFile(path string) (*Recorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("trace: %w", err)
	}
	return NewRecorder(f), nil
}

// Record writes e. Encoding failures are kept and reported by Err; they
// never disturb the bus operation being traced.
func (r *Recorder) Record(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if err := r.enc.Encode(e); err != nil {
		if r.err == nil {
			r.err = err
		}
		return
	}
	r.written++
}

// Written returns the number of entries recorded.
func (r *Recorder) Written() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.written
}

// Err returns the first encoding error.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Close closes the underlying writer if it is a closer. Further entries are
// dropped.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// Filter selects entries. Zero fields match everything.
type Filter struct {
	Session string
	Addr    uint16
	Op      Op
	// ErrorsOnly keeps entries whose status code is not OK.
	ErrorsOnly bool
}

func (f Filter) matches(e Entry) bool {
	if f.Session != "" && e.Session != f.Session {
		return false
	}
	if f.Addr != 0 && e.Addr != f.Addr {
		return false
	}
	if f.Op != 0 && e.Op != f.Op {
		return false
	}
	if f.ErrorsOnly && e.Code == status.OK {
		return false
	}
	return true
}

// Reader streams entries from a trace.
type Reader struct {
	dec    *cbor.Decoder
	filter Filter
}

// NewReader reads every entry from r that matches filter.
func NewReader(r io.Reader, filter Filter) *Reader {
	return &Reader{dec: decMode.NewDecoder(r), filter: filter}
}

// Next returns the next matching entry, or io.EOF.
func (r *Reader) Next() (Entry, error) {
	for {
		var e Entry
		if err := r.dec.Decode(&e); err != nil {
			if err == io.EOF {
				return Entry{}, io.EOF
			}
			return Entry{}, fmt.Errorf("trace: decode: %w", err)
		}
		if r.filter.matches(e) {
			return e, nil
		}
	}
}

// ReadFile loads the matching entries of the trace file at path.
func ReadFile(path string, filter Filter) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("trace: %w", err)
	}
	defer f.Close()

	r := NewReader(f, filter)
	var out []Entry
	for {
		e, err := r.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, e)
	}
}

// Format renders e as one line of text.
func (e Entry) Format() string {
	s := fmt.Sprintf("%s #%d %-6s", e.Time.Format("15:04:05.000000"), e.Seq, e.Op)
	switch e.Op {
	case OpOpen, OpClose:
		s += " " + e.Port
	case OpRead8, OpWrite8:
		s += fmt.Sprintf(" 0x%02X reg 0x%02X", e.Addr, e.Reg)
	default:
		s += fmt.Sprintf(" 0x%02X", e.Addr)
	}
	if len(e.Write) > 0 {
		s += fmt.Sprintf(" w=% X", e.Write)
	}
	if len(e.Read) > 0 {
		s += fmt.Sprintf(" r=% X", e.Read)
	}
	if e.Code != status.OK {
		s += fmt.Sprintf(" err=%d", int(e.Code))
	}
	return s
}
