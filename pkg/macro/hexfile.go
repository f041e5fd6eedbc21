package macro

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"

	"github.com/OpenTraceLab/OpenTraceBERT/pkg/status"
)

// Intel HEX record types.
const (
	recData             = 0x00
	recEOF              = 0x01
	recExtSegmentAddr   = 0x02
	recStartSegmentAddr = 0x03
	recExtLinearAddr    = 0x04
	recStartLinearAddr  = 0x05
)

// Record is one contiguous block of macro data.
type Record struct {
	Address uint32
	Data    []byte
}

// Image is a parsed macro file.
type Image struct {
	Info    FileInfo
	Records []Record
}

// Size returns the number of data bytes in the image.
func (img *Image) Size() int {
	n := 0
	for _, r := range img.Records {
		n += len(r.Data)
	}
	return n
}

// Load reads and parses the macro file described by info from fsys. The
// number of data records must match info.Lines.
func Load(fsys fs.FS, info FileInfo) (*Image, error) {
	f, err := fsys.Open(info.Resource)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("macro: %s: %w", info.Resource, status.FileError)
		}
		return nil, fmt.Errorf("macro: open %s: %v: %w", info.Resource, err, status.FileError)
	}
	defer f.Close()

	records, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("macro: %s: %w", info.Resource, err)
	}
	if info.Lines > 0 && len(records) != info.Lines {
		return nil, fmt.Errorf("macro: %s has %d data records, want %d: %w",
			info.Resource, len(records), info.Lines, status.InvalidData)
	}
	return &Image{Info: info, Records: records}, nil
}

// Parse decodes Intel HEX text. Blank lines are ignored; parsing stops at
// the end-of-file record.
func Parse(r io.Reader) ([]Record, error) {
	var (
		records []Record
		base    uint32
		lineNo  int
		sawEOF  bool
	)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, ":") {
			return nil, fmt.Errorf("line %d: missing ':' start code: %w", lineNo, status.InvalidData)
		}
		raw, err := hex.DecodeString(line[1:])
		if err != nil {
			return nil, fmt.Errorf("line %d: %v: %w", lineNo, err, status.InvalidData)
		}
		if len(raw) < 5 || len(raw) != int(raw[0])+5 {
			return nil, fmt.Errorf("line %d: bad record length: %w", lineNo, status.InvalidData)
		}
		var sum byte
		for _, b := range raw {
			sum += b
		}
		if sum != 0 {
			return nil, fmt.Errorf("line %d: %w", lineNo, status.BadChecksum)
		}

		n := int(raw[0])
		offset := uint32(raw[1])<<8 | uint32(raw[2])
		data := raw[4 : 4+n]
		switch raw[3] {
		case recData:
			records = append(records, Record{Address: base + offset, Data: append([]byte(nil), data...)})
		case recEOF:
			sawEOF = true
		case recExtSegmentAddr:
			if n != 2 {
				return nil, fmt.Errorf("line %d: bad segment record: %w", lineNo, status.InvalidData)
			}
			base = (uint32(data[0])<<8 | uint32(data[1])) << 4
		case recExtLinearAddr:
			if n != 2 {
				return nil, fmt.Errorf("line %d: bad linear address record: %w", lineNo, status.InvalidData)
			}
			base = (uint32(data[0])<<8 | uint32(data[1])) << 16
		case recStartSegmentAddr, recStartLinearAddr:
		default:
			return nil, fmt.Errorf("line %d: unknown record type 0x%02X: %w", lineNo, raw[3], status.InvalidData)
		}
		if sawEOF {
			break
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read: %v: %w", err, status.FileError)
	}
	if !sawEOF {
		return nil, fmt.Errorf("missing end-of-file record: %w", status.EndOfData)
	}
	return records, nil
}

// EncodeRecord formats one Intel HEX data record. It is used to build test
// images and by tooling that writes macro files.
func EncodeRecord(kind byte, offset uint16, data []byte) string {
	raw := make([]byte, 0, len(data)+5)
	raw = append(raw, byte(len(data)), byte(offset>>8), byte(offset), kind)
	raw = append(raw, data...)
	var sum byte
	for _, b := range raw {
		sum += b
	}
	raw = append(raw, -sum)
	return ":" + strings.ToUpper(hex.EncodeToString(raw))
}

// EncodeImage formats records as an Intel HEX file, 16-bit offsets only.
func EncodeImage(records []Record) string {
	var sb strings.Builder
	for _, r := range records {
		sb.WriteString(EncodeRecord(recData, uint16(r.Address), r.Data))
		sb.WriteByte('\n')
	}
	sb.WriteString(EncodeRecord(recEOF, 0, nil))
	sb.WriteByte('\n')
	return sb.String()
}
