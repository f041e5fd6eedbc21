package cmd

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OpenTraceLab/OpenTraceBERT/pkg/device"
	"github.com/OpenTraceLab/OpenTraceBERT/pkg/instrument"
	"github.com/OpenTraceLab/OpenTraceBERT/pkg/status"
)

func newTestShell(port string) (*shell, *[]instrument.Command, *bytes.Buffer) {
	var sent []instrument.Command
	var out bytes.Buffer
	sh := &shell{
		send: func(ctx context.Context, cmd instrument.Command) error {
			sent = append(sent, cmd)
			return nil
		},
		port: port,
		out:  &out,
	}
	return sh, &sent, &out
}

func TestShellCommands(t *testing.T) {
	tests := []struct {
		line string
		want instrument.Command
	}{
		{"connect", instrument.Connect{Port: "sim"}},
		{"connect /dev/ttyUSB1", instrument.Connect{Port: "/dev/ttyUSB1"}},
		{"disconnect", instrument.Disconnect{}},
		{"init", instrument.InitComponents{}},
		{"options", instrument.GetOptions{}},
		{"ports", instrument.RefreshPorts{}},
		{"lock", instrument.ReadLockDetect{}},
		{"cmd gt1724 0 setPRBSPattern", instrument.DriverCommand{
			Family: device.FamilyCore, Device: 0, Name: "setPRBSPattern", Lane: status.AllLanes}},
		{"cmd gt1724 1 setPRBSPattern 2 0x3", instrument.DriverCommand{
			Family: device.FamilyCore, Device: 1, Name: "setPRBSPattern", Lane: 2, Value: 3}},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			sh, sent, _ := newTestShell("sim")
			require.NoError(t, sh.exec(context.Background(), tt.line))
			require.Len(t, *sent, 1)
			assert.Equal(t, tt.want, (*sent)[0])
		})
	}
}

func TestShellLocalCommands(t *testing.T) {
	sh, sent, out := newTestShell("")

	require.NoError(t, sh.exec(context.Background(), "   "))
	require.NoError(t, sh.exec(context.Background(), "help"))
	assert.Contains(t, out.String(), "Commands:")

	assert.ErrorIs(t, sh.exec(context.Background(), "quit"), errQuit)
	assert.ErrorIs(t, sh.exec(context.Background(), "exit"), errQuit)
	assert.ErrorIs(t, sh.exec(context.Background(), "connect"), errNoPort)
	assert.Empty(t, *sent)
}

func TestShellErrors(t *testing.T) {
	sh, sent, _ := newTestShell("sim")
	for _, line := range []string{
		"frobnicate",
		"cmd gt1724",
		"cmd gt1724 x setPRBSPattern",
		"cmd gt1724 0 setPRBSPattern lane",
		"cmd gt1724 0 setPRBSPattern 0 zz",
	} {
		assert.Error(t, sh.exec(context.Background(), line), line)
	}
	assert.Empty(t, *sent)

	sh.send = func(context.Context, instrument.Command) error { return instrument.ErrStopped }
	assert.True(t, errors.Is(sh.exec(context.Background(), "init"), instrument.ErrStopped))
}
