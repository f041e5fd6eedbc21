package instrument

import (
	"github.com/OpenTraceLab/OpenTraceBERT/pkg/device"
	"github.com/OpenTraceLab/OpenTraceBERT/pkg/i2c"
	"github.com/OpenTraceLab/OpenTraceBERT/pkg/status"
)

// Event is a notification leaving the worker.
type Event interface {
	// Kind names the event type, e.g. for topic routing.
	Kind() string
}

// DriverAdded announces a driver before it is initialised.
type DriverAdded struct {
	Family  device.Family `json:"family"`
	Device  int           `json:"device"`
	Address uint16        `json:"address"`
}

// DriversReleased announces that every driver has been dropped. References
// obtained from earlier DriverAdded events are no longer valid.
type DriversReleased struct{}

// OptionsList carries one driver option list.
type OptionsList struct {
	device.OptionList
}

// OptionsSent follows the last OptionsList of a GetOptions request.
type OptionsSent struct{}

// Result reports the outcome of an operation. Lane is status.AllLanes when
// the result is not lane specific.
type Result struct {
	Code status.Code `json:"code"`
	Lane int         `json:"lane"`
}

// StatusMessage is a human readable progress or error message.
type StatusMessage struct {
	Text string `json:"text"`
}

// ConnectionChanged reports the connection status.
type ConnectionChanged struct {
	Connected bool `json:"connected"`
}

// StateChanged reports a state machine transition.
type StateChanged struct {
	State State `json:"state"`
}

// PortsListed answers RefreshPorts.
type PortsListed struct {
	Ports []i2c.PortInfo `json:"ports"`
}

// LockDetect reports the clock synthesizer lock-detect input.
type LockDetect struct {
	Device int  `json:"device"`
	Locked bool `json:"locked"`
}

// Temperature reports a core die temperature.
type Temperature struct {
	Device  int     `json:"device"`
	Lane    int     `json:"lane"`
	Celsius float64 `json:"celsius"`
}

func (DriverAdded) Kind() string       { return "driver-added" }
func (DriversReleased) Kind() string   { return "drivers-released" }
func (OptionsList) Kind() string       { return "options" }
func (OptionsSent) Kind() string       { return "options-sent" }
func (Result) Kind() string            { return "result" }
func (StatusMessage) Kind() string     { return "message" }
func (ConnectionChanged) Kind() string { return "connection" }
func (StateChanged) Kind() string      { return "state" }
func (PortsListed) Kind() string       { return "ports" }
func (LockDetect) Kind() string        { return "lock-detect" }
func (Temperature) Kind() string       { return "temperature" }
