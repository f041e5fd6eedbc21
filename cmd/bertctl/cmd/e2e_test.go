package cmd

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// resetFlags clears flag values left over from a previous Execute.
func resetFlags() {
	cfgFile, verbose, profileName, portName = "", false, "", ""
	pinsDevice, pinsMask, pinsValue = 0, "", "0"
	selftestLoopback = false
	macrosVerify = ""
	traceAddr, traceErrors, traceSession = "", false, ""
	journalSession = ""
	serveFor, serveConnect = 0, true
	portsUSB = false
}

// execute runs bertctl with args and returns what it printed on stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	// Read in background to prevent pipe buffer from blocking
	var buf bytes.Buffer
	done := make(chan struct{})
	go func() {
		buf.ReadFrom(r)
		close(done)
	}()

	resetFlags()
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()

	w.Close()
	os.Stdout = old
	<-done
	return buf.String(), err
}

// writeConfig writes a config enabling the bus trace and the journal under
// a temporary directory.
func writeConfig(t *testing.T) (path, tracePath, journalPath string) {
	t.Helper()
	dir := t.TempDir()
	tracePath = filepath.Join(dir, "bus.trace")
	journalPath = filepath.Join(dir, "bertctl.db")
	path = filepath.Join(dir, "bertctl.yaml")
	yaml := fmt.Sprintf(`instrument:
  port: sim
  poll_interval: 200ms
logging:
  output: discard
trace:
  enabled: true
  path: %s
journal:
  enabled: true
  path: %s
`, tracePath, journalPath)
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	return path, tracePath, journalPath
}

// TestCommandsE2E runs the one-shot commands against the simulator
func TestCommandsE2E(t *testing.T) {
	tests := []struct {
		name        string
		args        []string
		wantErr     bool
		wantContain []string
	}{
		{
			name: "scan",
			args: []string{"scan", "--port", "sim"},
			wantContain: []string{
				"Instrument Component Discovery Results",
				"Profile: dual",
				"Found",
				"gt1724",
				"0x12",
				"m24m02",
			},
		},
		{
			name: "scan single board",
			args: []string{"scan", "--port", "sim", "--profile", "pixie"},
			wantContain: []string{
				"Profile: pixie",
				"pca9557",
			},
		},
		{
			name: "init",
			args: []string{"init", "--port", "sim"},
			wantContain: []string{
				"Instrument ready",
				"Options:",
				"listPRBSPattern",
			},
		},
		{
			name: "pins",
			args: []string{"pins", "--port", "sim", "--mask", "0xC0", "--value", "0x40"},
			wantContain: []string{
				"I/O expander #0",
				"input:",
				"lock detect: true",
			},
		},
		{
			name:        "selftest",
			args:        []string{"selftest", "--port", "sim"},
			wantContain: []string{"PASS"},
		},
		{
			name: "eeprom",
			args: []string{"eeprom", "--port", "sim"},
			wantContain: []string{
				"EEPROM #0",
				"PPG-3204-C",
				"SIM0001",
				"Clock profile",
			},
		},
		{
			name:        "macros",
			args:        []string{"macros"},
			wantContain: []string{"Known macros:", "1E0C", "1E1C", "(latest)"},
		},
		{
			name:        "serve",
			args:        []string{"serve", "--port", "sim", "--for", "2s"},
			wantContain: []string{"state: Ready", "connection: up"},
		},
		{
			name:    "no port",
			args:    []string{"scan"},
			wantErr: true,
		},
		{
			name:    "unknown profile",
			args:    []string{"scan", "--port", "sim", "--profile", "nosuch"},
			wantErr: true,
		},
		{
			name:    "bad pin mask",
			args:    []string{"pins", "--port", "sim", "--mask", "0x1FF"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output, err := execute(t, tt.args...)

			if tt.wantErr {
				if err == nil {
					t.Errorf("Expected error but got none")
				}
				return
			}
			if err != nil {
				t.Errorf("Unexpected error: %v\nOutput: %s", err, output)
				return
			}
			for _, want := range tt.wantContain {
				if !strings.Contains(output, want) {
					t.Errorf("Output missing expected string: %q\nGot:\n%s", want, output)
				}
			}
		})
	}
}

// TestTraceE2E records a bus trace during a scan and reads it back
func TestTraceE2E(t *testing.T) {
	config, tracePath, _ := writeConfig(t)

	if out, err := execute(t, "scan", "--config", config); err != nil {
		t.Fatalf("scan: %v\nOutput: %s", err, out)
	}
	if _, err := os.Stat(tracePath); err != nil {
		t.Fatalf("trace file not written: %v", err)
	}

	out, err := execute(t, "trace", tracePath)
	if err != nil {
		t.Fatalf("trace: %v", err)
	}
	for _, want := range []string{"session ", "open", "ping", "entries"} {
		if !strings.Contains(out, want) {
			t.Errorf("Output missing expected string: %q\nGot:\n%s", want, out)
		}
	}

	out, err = execute(t, "trace", tracePath, "--addr", "0x12")
	if err != nil {
		t.Fatalf("trace --addr: %v", err)
	}
	if !strings.Contains(out, "0x12") {
		t.Errorf("filtered output has no 0x12 entries:\n%s", out)
	}

	if _, err := execute(t, "trace", filepath.Join(t.TempDir(), "missing.trace")); err == nil {
		t.Error("Expected error for a missing trace file")
	}
}

// TestJournalE2E serves a session and lists it from the journal
func TestJournalE2E(t *testing.T) {
	config, _, _ := writeConfig(t)

	if out, err := execute(t, "serve", "--config", config, "--for", "1s"); err != nil {
		t.Fatalf("serve: %v\nOutput: %s", err, out)
	}

	out, err := execute(t, "journal", "--config", config)
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 1 || !strings.Contains(lines[0], "dual") || !strings.Contains(lines[0], "sim") {
		t.Fatalf("unexpected session list:\n%s", out)
	}
	id := strings.Fields(lines[0])[0]

	out, err = execute(t, "journal", "--config", config, "--session", id)
	if err != nil {
		t.Fatalf("journal --session: %v", err)
	}
	for _, want := range []string{"Components:", "gt1724", "Results:"} {
		if !strings.Contains(out, want) {
			t.Errorf("Output missing expected string: %q\nGot:\n%s", want, out)
		}
	}
}
