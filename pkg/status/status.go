// Package status defines the numeric status code space shared by the
// transport, the chip drivers and the orchestration engine.
//
// The numeric values are a stable contract with whatever renders instrument
// state: 0 is success, -1..-49 are general and comms errors, -50..-98 report
// missing hardware and -100 and below are non-error signalling values.
package status

import (
	"errors"
	"fmt"
)

// Code is a status code. A non-zero Code is also an error so drivers can
// return codes directly and callers can match them with errors.Is.
type Code int

const (
	OK                Code = 0
	GenError          Code = -1
	Timeout           Code = -2
	Overflow          Code = -3
	NotConnected      Code = -4
	MacroError        Code = -5
	ReadError         Code = -6
	WriteError        Code = -7
	FileError         Code = -8
	BadLaneID         Code = -9
	WriteTimeout      Code = -10
	WriteConfTimeout  Code = -11
	ReadTimeout       Code = -12
	AdaptorReadError  Code = -13
	AdaptorWriteError Code = -14
	MallocError       Code = -15
	BusyError         Code = -16
	NotInitialised    Code = -17
	DirectoryNotFound Code = -18
	InvalidBoard      Code = -19
	DeviceNotFound    Code = -20
	InvalidData       Code = -21
	EndOfData         Code = -22
	BadChecksum       Code = -23

	MissingGT1724  Code = -50
	MissingLMX     Code = -51
	MissingLMXDefs Code = -52
	MissingPCA     Code = -53
	MissingEEPROM  Code = -54

	NotImplemented Code = -99

	Ready           Code = -100
	InProgress      Code = -101
	Cancelled       Code = -102
	MacrosLoaded    Code = -103
	MacrosNotLoaded Code = -104
)

// AllLanes tags a result that is not specific to one lane or device.
const AllLanes = -1

var messages = map[Code]string{
	OK:                "No error",
	GenError:          "General error",
	Timeout:           "Timeout",
	Overflow:          "Buffer overflow",
	NotConnected:      "Not connected",
	MacroError:        "Macro completed with an error",
	ReadError:         "Error reading from device",
	WriteError:        "Error writing to device",
	FileError:         "File error",
	BadLaneID:         "Invalid lane ID",
	WriteTimeout:      "Timeout writing to adaptor",
	WriteConfTimeout:  "Timeout waiting for write confirmation from adaptor",
	ReadTimeout:       "Timeout reading from adaptor",
	AdaptorReadError:  "Adaptor reported an I2C read error",
	AdaptorWriteError: "Adaptor reported an I2C write error",
	MallocError:       "Memory allocation error",
	BusyError:         "Operation already in progress",
	NotInitialised:    "Component not initialised",
	DirectoryNotFound: "Directory not found",
	InvalidBoard:      "Invalid or unsupported board",
	DeviceNotFound:    "Device not found",
	InvalidData:       "Invalid data",
	EndOfData:         "No more data to read",
	BadChecksum:       "Checksum mismatch",
	MissingGT1724:     "No BERT core (GT1724) found",
	MissingLMX:        "No clock synthesizer (LMX2594) found",
	MissingLMXDefs:    "No register definitions found for clock synthesizer",
	MissingPCA:        "No I/O controller (PCA9557) found",
	MissingEEPROM:     "No data EEPROM (M24M02) found",
	NotImplemented:    "Not implemented",
	Ready:             "Ready",
	InProgress:        "In progress",
	Cancelled:         "Cancelled",
	MacrosLoaded:      "Macros loaded",
	MacrosNotLoaded:   "Macros not loaded",
}

// Message returns the human readable description of c.
func (c Code) Message() string {
	if m, ok := messages[c]; ok {
		return m
	}
	return fmt.Sprintf("Unknown status %d", int(c))
}

func (c Code) Error() string {
	return fmt.Sprintf("%s (%d)", c.Message(), int(c))
}

func (c Code) String() string { return c.Message() }

// Signal reports whether c is a non-error signalling value.
func (c Code) Signal() bool { return c <= Ready }

// Known reports whether c is one of the defined codes.
func (c Code) Known() bool {
	_, ok := messages[c]
	return ok
}

// FromError maps err to a Code. nil is OK, an error wrapping a Code yields that
// Code and anything else is GenError.
func FromError(err error) Code {
	if err == nil {
		return OK
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	return GenError
}

// Err returns nil for OK and c otherwise, so codes can be returned as error
// values without a typed-nil surprise.
func (c Code) Err() error {
	if c == OK {
		return nil
	}
	return c
}
