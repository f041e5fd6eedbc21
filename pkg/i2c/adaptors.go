package i2c

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/google/gousb"
	"go.bug.st/serial/enumerator"
)

// AdaptorKind categorizes serial-to-I2C bridge adaptors.
type AdaptorKind string

const (
	AdaptorKindFTDI    AdaptorKind = "ftdi"
	AdaptorKindCP210x  AdaptorKind = "cp210x"
	AdaptorKindCH340   AdaptorKind = "ch340"
	AdaptorKindMCP2221 AdaptorKind = "mcp2221"
	AdaptorKindUnknown AdaptorKind = "unknown"
	AdaptorKindSim     AdaptorKind = "simulator"
)

// SimPortName is the port name that selects the simulated instrument.
const SimPortName = "sim"

// AdaptorInfo describes a USB-UART adaptor in front of the SC18IM700
// serial-to-I2C bridge. Port is the serial device the transport opens; it is
// empty when the adaptor's UART could not be matched to a port.
type AdaptorInfo struct {
	Kind        AdaptorKind
	Description string
	VendorID    uint16
	ProductID   uint16
	Bus         int
	Address     int
	Port        string
}

// Label returns a user-friendly description for the adaptor.
func (a AdaptorInfo) Label() string {
	label := a.Description
	if label == "" {
		label = fmt.Sprintf("%s (%04X:%04X)", string(a.Kind), a.VendorID, a.ProductID)
	}
	if a.Port != "" {
		label += " on " + a.Port
	}
	return label
}

// DiscoverAdaptors finds the USB-UART adaptors a bridge may sit behind and
// pairs each with its serial port. The simulator entry comes first and is
// always present.
func DiscoverAdaptors(ctx context.Context) ([]AdaptorInfo, error) {
	usb := gousb.NewContext()
	defer usb.Close()

	var found []AdaptorInfo
	_, err := usb.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if ctx.Err() != nil {
			return false
		}
		if known, ok := classify(uint16(desc.Vendor), uint16(desc.Product)); ok {
			found = append(found, AdaptorInfo{
				Kind:        known.Kind,
				Description: known.Description,
				VendorID:    known.VendorID,
				ProductID:   known.ProductID,
				Bus:         desc.Bus,
				Address:     desc.Address,
			})
		}
		return false
	})
	if err != nil && err != gousb.ErrorAccess {
		return nil, fmt.Errorf("i2c: scan usb: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ports, err := ListPorts()
	if err != nil {
		return nil, err
	}
	sim := AdaptorInfo{Kind: AdaptorKindSim, Description: "Simulator (no hardware)", Port: SimPortName}
	return append([]AdaptorInfo{sim}, matchPorts(found, ports)...), nil
}

// matchPorts assigns each adaptor the first unclaimed USB serial port with
// the same VID:PID. Adaptors are ordered by USB bus and address, the order
// the host enumerated their UARTs in.
func matchPorts(adaptors []AdaptorInfo, ports []PortInfo) []AdaptorInfo {
	out := append([]AdaptorInfo(nil), adaptors...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Bus != out[j].Bus {
			return out[i].Bus < out[j].Bus
		}
		return out[i].Address < out[j].Address
	})
	claimed := make(map[string]bool)
	for i := range out {
		for _, p := range ports {
			if !p.IsUSB || claimed[p.Name] {
				continue
			}
			if p.VendorID == out[i].VendorID && p.ProductID == out[i].ProductID {
				out[i].Port = p.Name
				claimed[p.Name] = true
				break
			}
		}
	}
	return out
}

// ListPorts returns the host's serial ports, USB bridges annotated with their
// adaptor kind, sorted by name.
func ListPorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("i2c: list serial ports: %w", err)
	}
	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		p := PortInfo{
			Name:    d.Name,
			IsUSB:   d.IsUSB,
			Serial:  d.SerialNumber,
			Product: d.Product,
			Kind:    AdaptorKindUnknown,
		}
		if d.IsUSB {
			p.VendorID = parseUSBID(d.VID)
			p.ProductID = parseUSBID(d.PID)
			if known, ok := classify(p.VendorID, p.ProductID); ok {
				p.Kind = known.Kind
			}
		}
		ports = append(ports, p)
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i].Name < ports[j].Name })
	return ports, nil
}

func parseUSBID(s string) uint16 {
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0
	}
	return uint16(v)
}

type knownAdaptor struct {
	Kind        AdaptorKind
	VendorID    uint16
	ProductID   uint16
	Description string
}

var knownAdaptors = []knownAdaptor{
	{AdaptorKindFTDI, 0x0403, 0x6001, "FTDI FT232R USB-UART"},
	{AdaptorKindFTDI, 0x0403, 0x6015, "FTDI FT231X USB-UART"},
	{AdaptorKindCP210x, 0x10C4, 0xEA60, "Silicon Labs CP210x USB-UART"},
	{AdaptorKindCH340, 0x1A86, 0x7523, "WCH CH340 USB-UART"},
	{AdaptorKindMCP2221, 0x04D8, 0x00DD, "Microchip MCP2221 USB-UART/I2C"},
}

func classify(vid, pid uint16) (knownAdaptor, bool) {
	for _, k := range knownAdaptors {
		if k.VendorID == vid && k.ProductID == pid {
			return k, true
		}
	}
	return knownAdaptor{}, false
}
