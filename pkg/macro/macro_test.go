package macro

import (
	"errors"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/OpenTraceLab/OpenTraceBERT/pkg/status"
)

func TestLookupKnownFingerprints(t *testing.T) {
	for i, f := range Files() {
		if i == UnknownIndex {
			continue
		}
		idx, got := Lookup(f.Fingerprint)
		if idx != i || got.Version != f.Version {
			t.Errorf("Lookup(%s) = %d %q, want %d %q", f.Fingerprint, idx, got.Version, i, f.Version)
		}
	}
}

func TestLookupNeverFalsePositive(t *testing.T) {
	known := make(map[Fingerprint]bool)
	for _, f := range Files()[1:] {
		known[f.Fingerprint] = true
	}
	// Every single-byte corruption of a known fingerprint must miss.
	for _, f := range Files()[1:] {
		for pos := 0; pos < 4; pos++ {
			for v := 0; v < 256; v++ {
				fp := f.Fingerprint
				fp[pos] = byte(v)
				idx, got := Lookup(fp)
				if known[fp] {
					continue
				}
				if idx != UnknownIndex || got.Version != "Unknown" {
					t.Fatalf("Lookup(%s) = %d %q, want sentinel", fp, idx, got.Version)
				}
			}
		}
	}
}

func TestSentinel(t *testing.T) {
	files := Files()
	if files[UnknownIndex].Fingerprint != (Fingerprint{}) {
		t.Fatal("sentinel fingerprint must be all zero")
	}
	seen := make(map[Fingerprint]bool)
	for _, f := range files {
		if seen[f.Fingerprint] {
			t.Fatalf("duplicate fingerprint %s", f.Fingerprint)
		}
		seen[f.Fingerprint] = true
	}
	for _, f := range files[1:] {
		if f.Lines <= 0 {
			t.Fatalf("%s: useful line count must be positive", f.Resource)
		}
	}
}

func TestByVersionAndLatest(t *testing.T) {
	idx, info, ok := ByVersion("1E0C")
	if !ok || idx != 1 || info.Lines != 309 {
		t.Fatalf("ByVersion(1E0C) = %d %+v %v", idx, info, ok)
	}
	if _, _, ok := ByVersion("9Z9Z"); ok {
		t.Fatal("unexpected match for unknown version")
	}
	idx, info = Latest()
	if idx != 2 || info.Version != "1E1C" {
		t.Fatalf("Latest() = %d %+v", idx, info)
	}
}

func TestParseRoundTrip(t *testing.T) {
	in := []Record{
		{Address: 0x0000, Data: []byte{0x01, 0x02, 0x03, 0x04}},
		{Address: 0x0010, Data: []byte{0xDE, 0xAD, 0xBE, 0xEF}},
	}
	records, err := Parse(strings.NewReader(EncodeImage(in)))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(records) != 2 || records[1].Address != 0x10 || records[1].Data[3] != 0xEF {
		t.Fatalf("unexpected records %+v", records)
	}
}

func TestParseErrors(t *testing.T) {
	good := EncodeRecord(recData, 0, []byte{1, 2})
	bad := good[:len(good)-2] + "00"

	tests := []struct {
		name string
		text string
		want status.Code
	}{
		{"bad checksum", bad + "\n" + EncodeRecord(recEOF, 0, nil), status.BadChecksum},
		{"no start code", "1000\n", status.InvalidData},
		{"not hex", ":ZZ\n", status.InvalidData},
		{"truncated", ":0400000001\n", status.InvalidData},
		{"missing eof", good + "\n", status.EndOfData},
	}
	for _, tt := range tests {
		_, err := Parse(strings.NewReader(tt.text))
		if !errors.Is(err, tt.want) {
			t.Errorf("%s: got %v, want %d", tt.name, err, tt.want)
		}
	}
}

func TestParseExtendedLinearAddress(t *testing.T) {
	text := EncodeRecord(recExtLinearAddr, 0, []byte{0x00, 0x01}) + "\n" +
		EncodeRecord(recData, 0x0020, []byte{0xAA}) + "\n" +
		EncodeRecord(recEOF, 0, nil) + "\n"
	records, err := Parse(strings.NewReader(text))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if records[0].Address != 0x10020 {
		t.Fatalf("address 0x%X, want 0x10020", records[0].Address)
	}
}

func TestLoad(t *testing.T) {
	info := FileInfo{Resource: "TEST.hex", Lines: 3, Version: "T"}
	var recs []Record
	for i := 0; i < 3; i++ {
		recs = append(recs, Record{Address: uint32(i * 4), Data: []byte{byte(i), 0, 0, 0}})
	}
	fsys := fstest.MapFS{"TEST.hex": {Data: []byte(EncodeImage(recs))}}

	img, err := Load(fsys, info)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if img.Size() != 12 {
		t.Fatalf("Size() = %d", img.Size())
	}

	info.Lines = 4
	if _, err := Load(fsys, info); !errors.Is(err, status.InvalidData) {
		t.Fatalf("line count mismatch: got %v", err)
	}
	if _, err := Load(fsys, FileInfo{Resource: "MISSING.hex", Lines: 1}); !errors.Is(err, status.FileError) {
		t.Fatalf("missing file: got %v", err)
	}
}
