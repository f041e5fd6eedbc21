package cmd

import (
	"fmt"
	"strings"

	"github.com/OpenTraceLab/OpenTraceBERT/pkg/instrument"
	"github.com/OpenTraceLab/OpenTraceBERT/pkg/status"
)

// eventSink consumes worker events.
type eventSink interface {
	Handle(ev instrument.Event)
}

type sinkFunc func(ev instrument.Event)

func (f sinkFunc) Handle(ev instrument.Event) { f(ev) }

// formatEvent renders ev for the console. Events not worth showing yield "".
func formatEvent(ev instrument.Event) string {
	switch e := ev.(type) {
	case instrument.StatusMessage:
		return e.Text
	case instrument.StateChanged:
		return "state: " + e.State.String()
	case instrument.ConnectionChanged:
		if e.Connected {
			return "connection: up"
		}
		return "connection: down"
	case instrument.DriverAdded:
		return fmt.Sprintf("found %s #%d at 0x%02X", e.Family, e.Device, e.Address)
	case instrument.Result:
		lane := "all lanes"
		if e.Lane != status.AllLanes {
			lane = fmt.Sprintf("lane %d", e.Lane)
		}
		return fmt.Sprintf("result: %d %s (%s)", int(e.Code), e.Code.Message(), lane)
	case instrument.OptionsList:
		return fmt.Sprintf("options %s #%d %s: %s", e.Family, e.Device, e.Name, strings.Join(e.Items, ", "))
	case instrument.LockDetect:
		return fmt.Sprintf("lock detect #%d: %v", e.Device, e.Locked)
	case instrument.Temperature:
		return fmt.Sprintf("temperature #%d lane %d: %.2f C", e.Device, e.Lane, e.Celsius)
	case instrument.PortsListed:
		var names []string
		for _, p := range e.Ports {
			names = append(names, p.Name)
		}
		return "ports: " + strings.Join(names, ", ")
	}
	return ""
}
