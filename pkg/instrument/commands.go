package instrument

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/OpenTraceLab/OpenTraceBERT/pkg/device"
	"github.com/OpenTraceLab/OpenTraceBERT/pkg/status"
)

// Command is a request for the worker.
type Command interface {
	command()
}

// Connect opens Port and discovers the instrument components.
type Connect struct {
	Port string `json:"port"`
}

// Disconnect releases every driver and closes the port.
type Disconnect struct{}

// RefreshPorts lists the available serial ports.
type RefreshPorts struct{}

// InitComponents initialises the discovered components.
type InitComponents struct{}

// GetOptions asks the drivers for their option lists.
type GetOptions struct{}

// DriverCommand runs a chip command on one driver.
type DriverCommand struct {
	Family device.Family `json:"family"`
	Device int           `json:"device"`
	Name   string        `json:"name"`
	Lane   int           `json:"lane"`
	Value  int           `json:"value"`
}

// ReadLockDetect reads the clock synthesizer lock-detect input.
type ReadLockDetect struct{}

func (Connect) command()        {}
func (Disconnect) command()     {}
func (RefreshPorts) command()   {}
func (InitComponents) command() {}
func (GetOptions) command()     {}
func (DriverCommand) command()  {}
func (ReadLockDetect) command() {}

// CommandName returns the name cmd travels under on the command topics.
func CommandName(cmd Command) string {
	switch cmd.(type) {
	case Connect:
		return "connect"
	case Disconnect:
		return "disconnect"
	case RefreshPorts:
		return "refresh-ports"
	case InitComponents:
		return "init-components"
	case GetOptions:
		return "get-options"
	case DriverCommand:
		return "driver-command"
	case ReadLockDetect:
		return "read-lock-detect"
	}
	return "unknown"
}

// DecodeCommand builds the command called name from a JSON payload. The
// payload may be empty for commands without fields.
func DecodeCommand(name string, payload []byte) (Command, error) {
	var cmd Command
	switch name {
	case "connect":
		var c Connect
		if err := decodePayload(payload, &c); err != nil {
			return nil, err
		}
		cmd = c
	case "disconnect":
		cmd = Disconnect{}
	case "refresh-ports":
		cmd = RefreshPorts{}
	case "init-components":
		cmd = InitComponents{}
	case "get-options":
		cmd = GetOptions{}
	case "driver-command":
		c := DriverCommand{Lane: status.AllLanes}
		if err := decodePayload(payload, &c); err != nil {
			return nil, err
		}
		if c.Family == "" || c.Name == "" {
			return nil, fmt.Errorf("instrument: driver-command needs family and name: %w", status.InvalidData)
		}
		cmd = c
	case "read-lock-detect":
		cmd = ReadLockDetect{}
	default:
		return nil, fmt.Errorf("instrument: unknown command %q: %w", name, status.NotImplemented)
	}
	return cmd, nil
}

func decodePayload(payload []byte, v any) error {
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("instrument: decode command: %v: %w", err, status.InvalidData)
	}
	return nil
}
