package instrument

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/OpenTraceLab/OpenTraceBERT/pkg/device"
	"github.com/OpenTraceLab/OpenTraceBERT/pkg/i2c"
	"github.com/OpenTraceLab/OpenTraceBERT/pkg/status"
)

type mockDriver struct {
	mock.Mock
	family device.Family
	id     int
	addr   uint16
}

func (m *mockDriver) Family() device.Family { return m.family }
func (m *mockDriver) ID() int               { return m.id }
func (m *mockDriver) Address() uint16       { return m.addr }
func (m *mockDriver) Init() error           { return m.Called().Error(0) }
func (m *mockDriver) GetOptions()           { m.Called() }
func (m *mockDriver) Command(cmd device.Command) error {
	return m.Called(cmd).Error(0)
}

var mockAddresses = AddressTable{
	device.FamilyCore:     {0x12, 0x14},
	device.FamilyEEPROM:   {0x50, 0x54},
	device.FamilyClock:    {0x28, 0x2C},
	device.FamilyIO:       {0x1C, 0x18},
	device.FamilyRefClock: {0x76, 0x72},
	device.FamilyLED:      {0x40, 0x44},
}

type harness struct {
	bus     *i2c.SimBus
	engine  *Engine
	events  []Event
	drivers map[device.Family][]*mockDriver
	order   []device.Family
	initErr map[device.Family]error
}

func mockSpecs(h *harness) []device.Spec {
	ping := func(bus i2c.Bus, addr uint16) bool { return bus.Ping(addr) == nil }
	spec := func(f device.Family, min int, missing status.Code, msg, initMsg string, shared bool) device.Spec {
		return device.Spec{
			Family:            f,
			Label:             string(f),
			Min:               min,
			Missing:           missing,
			MissingMessage:    msg,
			InitFailedMessage: initMsg,
			SharedOptions:     shared,
			Ping:              ping,
			New: func(env device.Env, addr uint16, id int) (device.Driver, error) {
				d := &mockDriver{family: f, id: id, addr: addr}
				d.On("Init").Run(func(mock.Arguments) { h.order = append(h.order, f) }).Return(h.initErr[f]).Maybe()
				d.On("GetOptions").Maybe()
				d.On("Command", mock.Anything).Return(nil).Maybe()
				h.drivers[f] = append(h.drivers[f], d)
				return d, nil
			},
		}
	}
	return []device.Spec{
		spec(device.FamilyCore, 1, status.MissingGT1724, "Core module not found!", "", false),
		spec(device.FamilyEEPROM, 1, status.MissingEEPROM, "Data EEPROM not found!", "", false),
		spec(device.FamilyClock, 1, status.MissingLMX, "Clock synthesizer module not found!", "Frequency synthesizer set up error!", true),
		spec(device.FamilyIO, 1, status.MissingPCA, "IO controller module not found!", "IO Controller set up error!", true),
		spec(device.FamilyRefClock, 0, status.OK, "", "", true),
		spec(device.FamilyLED, 0, status.OK, "", "", false),
	}
}

// newHarness attaches present[f] chips of each family to a simulated bus.
func newHarness(t *testing.T, present map[device.Family]int) *harness {
	t.Helper()
	h := &harness{
		bus:     i2c.NewSimBus(),
		drivers: make(map[device.Family][]*mockDriver),
		initErr: make(map[device.Family]error),
	}
	for f, n := range present {
		for _, addr := range mockAddresses[f][:n] {
			h.bus.Attach(addr, &i2c.RegisterFile{})
		}
	}
	profile := Profile{Name: "mock", Addresses: mockAddresses}
	h.engine = NewEngine(h.bus, profile, mockSpecs(h), func(ev Event) { h.events = append(h.events, ev) })
	return h
}

func allPresent() map[device.Family]int {
	return map[device.Family]int{
		device.FamilyCore:     2,
		device.FamilyEEPROM:   1,
		device.FamilyClock:    1,
		device.FamilyIO:       1,
		device.FamilyRefClock: 1,
		device.FamilyLED:      1,
	}
}

func (h *harness) countDrivers() int {
	n := 0
	for _, f := range InitOrder {
		n += len(h.engine.Drivers(f))
	}
	return n
}

func (h *harness) eventsSince(i int) []Event {
	return append([]Event(nil), h.events[i:]...)
}

func TestDiscoveryMissingMandatoryFamily(t *testing.T) {
	tests := []struct {
		family  device.Family
		code    status.Code
		message string
	}{
		{device.FamilyCore, status.MissingGT1724, "Core module not found!"},
		{device.FamilyEEPROM, status.MissingEEPROM, "Data EEPROM not found!"},
		{device.FamilyClock, status.MissingLMX, "Clock synthesizer module not found!"},
		{device.FamilyIO, status.MissingPCA, "IO controller module not found!"},
	}
	for _, tt := range tests {
		t.Run(string(tt.family), func(t *testing.T) {
			present := allPresent()
			delete(present, tt.family)
			h := newHarness(t, present)

			h.engine.Connect("sim")

			assert.Zero(t, h.countDrivers())
			assert.False(t, h.bus.IsOpen())
			assert.Equal(t, StateDisconnected, h.engine.State())

			var tail []Event
			for i, ev := range h.events {
				if _, ok := ev.(DriversReleased); ok {
					tail = h.eventsSince(i)
					break
				}
			}
			assert.Equal(t, []Event{
				DriversReleased{},
				Result{Code: tt.code, Lane: status.AllLanes},
				StatusMessage{Text: tt.message},
				StatusMessage{Text: "Connect FAILED: Error setting up system components!"},
				ConnectionChanged{Connected: false},
				StateChanged{State: StateDisconnected},
			}, tail)
			for _, ds := range h.drivers {
				for _, d := range ds {
					d.AssertNotCalled(t, "Init")
				}
			}
		})
	}
}

func TestDiscoveryAnnouncesBeforeInit(t *testing.T) {
	h := newHarness(t, allPresent())
	h.engine.Connect("sim")

	var added []DriverAdded
	for _, ev := range h.events {
		if a, ok := ev.(DriverAdded); ok {
			added = append(added, a)
		}
	}
	require.Len(t, added, 7)
	assert.Equal(t, DriverAdded{Family: device.FamilyCore, Device: 0, Address: 0x12}, added[0])
	assert.Equal(t, DriverAdded{Family: device.FamilyCore, Device: 1, Address: 0x14}, added[1])
	assert.Equal(t, device.FamilyEEPROM, added[2].Family)
	assert.Equal(t, device.FamilyLED, added[6].Family)
	assert.Empty(t, h.order)

	assert.Equal(t, StateComponentsFound, h.engine.State())
	n := len(h.events)
	assert.Equal(t, []Event{StatusMessage{Text: "Connected."}, ConnectionChanged{Connected: true}}, h.events[n-2:])
}

func TestDiscoveryOptionalFamiliesMayBeAbsent(t *testing.T) {
	present := allPresent()
	delete(present, device.FamilyRefClock)
	delete(present, device.FamilyLED)
	h := newHarness(t, present)

	h.engine.Connect("sim")
	assert.Equal(t, StateComponentsFound, h.engine.State())
	assert.True(t, h.bus.IsOpen())
	assert.Empty(t, h.engine.Drivers(device.FamilyRefClock))
}

func TestInitOrder(t *testing.T) {
	h := newHarness(t, allPresent())
	h.engine.Connect("sim")
	h.engine.InitComponents()

	assert.Equal(t, []device.Family{
		device.FamilyRefClock,
		device.FamilyEEPROM,
		device.FamilyClock,
		device.FamilyIO,
		device.FamilyLED,
		device.FamilyCore,
		device.FamilyCore,
	}, h.order)
	assert.Equal(t, StateReady, h.engine.State())
	n := len(h.events)
	assert.Equal(t, []Event{
		Result{Code: status.OK, Lane: status.AllLanes},
		StatusMessage{Text: "Ready."},
		StateChanged{State: StateReady},
	}, h.events[n-3:])
}

func TestInitFailureStopsSequence(t *testing.T) {
	h := newHarness(t, allPresent())
	h.initErr[device.FamilyClock] = status.Timeout
	h.engine.Connect("sim")
	h.engine.InitComponents()

	assert.Equal(t, []device.Family{device.FamilyRefClock, device.FamilyEEPROM, device.FamilyClock}, h.order)
	h.drivers[device.FamilyIO][0].AssertNotCalled(t, "Init")
	for _, d := range h.drivers[device.FamilyCore] {
		d.AssertNotCalled(t, "Init")
	}

	assert.Equal(t, StateMisconfigured, h.engine.State())
	assert.True(t, h.bus.IsOpen(), "init failure must not tear down")
	n := len(h.events)
	assert.Equal(t, []Event{
		Result{Code: status.Timeout, Lane: status.AllLanes},
		StatusMessage{Text: "Frequency synthesizer set up error!"},
		StateChanged{State: StateMisconfigured},
	}, h.events[n-3:])

	// drivers whose own init succeeded still take commands
	mark := len(h.events)
	h.engine.Command(DriverCommand{Family: device.FamilyEEPROM, Device: 0, Name: "x", Lane: status.AllLanes})
	h.engine.Command(DriverCommand{Family: device.FamilyIO, Device: 0, Name: "x", Lane: 3})
	assert.Equal(t, []Event{
		Result{Code: status.OK, Lane: status.AllLanes},
		Result{Code: status.NotInitialised, Lane: 3},
	}, h.eventsSince(mark))

	// a repeated init reports the earlier outcome without touching drivers
	mark = len(h.events)
	h.engine.InitComponents()
	assert.Equal(t, []Event{Result{Code: status.Timeout, Lane: status.AllLanes}}, h.eventsSince(mark))
	assert.Len(t, h.order, 3)
}

func TestInitWhenDisconnected(t *testing.T) {
	h := newHarness(t, allPresent())
	h.engine.InitComponents()
	require.NotEmpty(t, h.events)
	assert.Equal(t, Result{Code: status.NotConnected, Lane: status.AllLanes}, h.events[0])
}

func TestConnectOpenFailure(t *testing.T) {
	h := newHarness(t, allPresent())
	h.bus.OpenErr = status.NotConnected
	h.engine.Connect("COM9")

	assert.Equal(t, []Event{
		Result{Code: status.NotConnected, Lane: status.AllLanes},
		ConnectionChanged{Connected: false},
		StatusMessage{Text: "Couldn't connect to instrument on COM9 (-4)"},
	}, h.events)
}

func TestConnectWhenAlreadyOpen(t *testing.T) {
	h := newHarness(t, allPresent())
	h.engine.Connect("sim")
	mark := len(h.events)
	h.engine.Connect("sim")

	assert.Equal(t, []Event{StatusMessage{Text: "Connected."}, ConnectionChanged{Connected: true}}, h.eventsSince(mark))
	opens, _ := h.bus.SessionCounts()
	assert.Equal(t, 1, opens)
}

func TestGetOptionsSharedFamilies(t *testing.T) {
	present := allPresent()
	present[device.FamilyIO] = 2
	present[device.FamilyClock] = 2
	h := newHarness(t, present)
	h.engine.Connect("sim")
	h.engine.GetOptions()

	for _, d := range h.drivers[device.FamilyCore] {
		d.AssertCalled(t, "GetOptions")
	}
	h.drivers[device.FamilyIO][0].AssertCalled(t, "GetOptions")
	h.drivers[device.FamilyIO][1].AssertNotCalled(t, "GetOptions")
	h.drivers[device.FamilyClock][1].AssertNotCalled(t, "GetOptions")
	assert.Equal(t, OptionsSent{}, h.events[len(h.events)-1])
}

func TestDisconnect(t *testing.T) {
	h := newHarness(t, allPresent())
	h.engine.Connect("sim")
	h.engine.InitComponents()
	mark := len(h.events)
	h.engine.Disconnect()

	assert.Equal(t, []Event{
		DriversReleased{},
		Result{Code: status.OK, Lane: status.AllLanes},
		StatusMessage{Text: "Disconnected."},
		ConnectionChanged{Connected: false},
		StateChanged{State: StateDisconnected},
	}, h.eventsSince(mark))
	assert.False(t, h.bus.IsOpen())
	assert.Zero(t, h.countDrivers())
}

func TestCommandWhenDisconnected(t *testing.T) {
	h := newHarness(t, allPresent())
	h.engine.Command(DriverCommand{Family: device.FamilyCore, Lane: 2})
	assert.Equal(t, []Event{Result{Code: status.NotConnected, Lane: 2}}, h.events)
}

func TestCommandErrorCarriesLane(t *testing.T) {
	h := newHarness(t, allPresent())
	h.engine.Connect("sim")
	h.engine.InitComponents()

	core := h.drivers[device.FamilyCore][1]
	core.ExpectedCalls = nil
	core.On("Command", device.Command{Name: "lane-on", Lane: 9, Value: 1}).Return(status.BadLaneID)

	mark := len(h.events)
	h.engine.Handle(DriverCommand{Family: device.FamilyCore, Device: 1, Name: "lane-on", Lane: 9, Value: 1})
	assert.Equal(t, []Event{Result{Code: status.BadLaneID, Lane: 9}}, h.eventsSince(mark))
}

func TestRefreshPorts(t *testing.T) {
	h := newHarness(t, allPresent())
	h.engine.ports = func() ([]i2c.PortInfo, error) {
		return []i2c.PortInfo{{Name: "/dev/ttyUSB0", IsUSB: true}}, nil
	}
	h.engine.Handle(RefreshPorts{})
	assert.Equal(t, []Event{PortsListed{Ports: []i2c.PortInfo{{Name: "/dev/ttyUSB0", IsUSB: true}}}}, h.events)
}
