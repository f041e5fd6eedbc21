// Package macro holds the table of known BERT core macro files and loads
// macro images for download.
//
// A macro file is identified after download by the 4-byte version
// fingerprint the core reports. Entry 0 of the table is the "Unknown"
// sentinel with an all-zero fingerprint; any readback that matches no known
// file resolves to it.
package macro

import "fmt"

// Fingerprint is the version readback of a downloaded macro.
type Fingerprint [4]byte

func (f Fingerprint) String() string {
	return fmt.Sprintf("%02X.%02X.%02X.%02X", f[0], f[1], f[2], f[3])
}

// FileInfo describes one macro file.
type FileInfo struct {
	// Resource is the file name inside the macro directory.
	Resource string
	// Lines is the number of data records the file must contain.
	Lines       int
	Fingerprint Fingerprint
	Version     string
}

// UnknownIndex is the index of the sentinel entry.
const UnknownIndex = 0

var files = [...]FileInfo{
	{Resource: "UNKNOWN.hex", Lines: 0, Fingerprint: Fingerprint{0x00, 0x00, 0x00, 0x00}, Version: "Unknown"},
	{Resource: "MACRO_VER_1_E_0_C.hex", Lines: 309, Fingerprint: Fingerprint{0x01, 0x45, 0x00, 0x43}, Version: "1E0C"},
	{Resource: "MACRO_VER_1_E_1_C.hex", Lines: 317, Fingerprint: Fingerprint{0x01, 0x45, 0x01, 0x43}, Version: "1E1C"},
}

// Files returns a copy of the table, sentinel first.
func Files() []FileInfo {
	out := make([]FileInfo, len(files))
	copy(out, files[:])
	return out
}

// Lookup resolves a fingerprint readback. Anything that is not exactly a
// known fingerprint resolves to the sentinel at UnknownIndex.
func Lookup(fp Fingerprint) (int, FileInfo) {
	for i := 1; i < len(files); i++ {
		if files[i].Fingerprint == fp {
			return i, files[i]
		}
	}
	return UnknownIndex, files[UnknownIndex]
}

// ByVersion finds a known macro by its version string.
func ByVersion(version string) (int, FileInfo, bool) {
	for i := 1; i < len(files); i++ {
		if files[i].Version == version {
			return i, files[i], true
		}
	}
	return UnknownIndex, files[UnknownIndex], false
}

// Latest returns the newest known macro.
func Latest() (int, FileInfo) {
	return len(files) - 1, files[len(files)-1]
}
