package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceBERT/pkg/device"
	"github.com/OpenTraceLab/OpenTraceBERT/pkg/instrument"
	"github.com/OpenTraceLab/OpenTraceBERT/pkg/status"
)

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Interactive instrument console",
	Long: `Start an interactive console driving the instrument worker. Events are
printed as they arrive. Type "help" for the command list.`,
	RunE: runShell,
}

func init() {
	rootCmd.AddCommand(shellCmd)
}

var errQuit = errors.New("quit")

// shell turns console lines into worker commands.
type shell struct {
	send func(ctx context.Context, cmd instrument.Command) error
	port string
	out  io.Writer
}

func (sh *shell) printHelp() {
	fmt.Fprint(sh.out, `Commands:
  connect [port]                              connect and discover
  disconnect                                  release the instrument
  init                                        initialise the components
  options                                     list driver options
  ports                                       list serial ports
  lock                                        read the lock-detect input
  cmd <family> <device> <name> [lane] [value] run a driver command
  help                                        this text
  quit                                        leave the console
`)
}

// exec runs one console line. errQuit asks the caller to leave.
func (sh *shell) exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	args := fields[1:]
	var cmd instrument.Command
	switch strings.ToLower(fields[0]) {
	case "help", "?":
		sh.printHelp()
		return nil
	case "quit", "exit", "q":
		return errQuit
	case "connect", "c":
		port := sh.port
		if len(args) > 0 {
			port = args[0]
		}
		if port == "" {
			return errNoPort
		}
		cmd = instrument.Connect{Port: port}
	case "disconnect", "d":
		cmd = instrument.Disconnect{}
	case "init", "i":
		cmd = instrument.InitComponents{}
	case "options", "o":
		cmd = instrument.GetOptions{}
	case "ports":
		cmd = instrument.RefreshPorts{}
	case "lock", "l":
		cmd = instrument.ReadLockDetect{}
	case "cmd":
		dc, err := parseDriverCommand(args)
		if err != nil {
			return err
		}
		cmd = dc
	default:
		return fmt.Errorf("unknown command %q (try help)", fields[0])
	}
	return sh.send(ctx, cmd)
}

func parseDriverCommand(args []string) (instrument.DriverCommand, error) {
	if len(args) < 3 {
		return instrument.DriverCommand{}, errors.New("usage: cmd <family> <device> <name> [lane] [value]")
	}
	dc := instrument.DriverCommand{Family: device.Family(args[0]), Name: args[2], Lane: status.AllLanes}
	var err error
	if dc.Device, err = strconv.Atoi(args[1]); err != nil {
		return dc, fmt.Errorf("invalid device %q", args[1])
	}
	if len(args) > 3 {
		if dc.Lane, err = strconv.Atoi(args[3]); err != nil {
			return dc, fmt.Errorf("invalid lane %q", args[3])
		}
	}
	if len(args) > 4 {
		v, err := strconv.ParseInt(args[4], 0, 32)
		if err != nil {
			return dc, fmt.Errorf("invalid value %q", args[4])
		}
		dc.Value = int(v)
	}
	return dc, nil
}

func runShell(cmd *cobra.Command, args []string) error {
	p, err := cfg.Profile()
	if err != nil {
		return err
	}
	bus, rec, err := openBus(p)
	if err != nil {
		return err
	}
	if rec != nil {
		defer rec.Close()
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "bert> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete: readline.NewPrefixCompleter(
			readline.PcItem("connect"), readline.PcItem("disconnect"), readline.PcItem("init"),
			readline.PcItem("options"), readline.PcItem("ports"), readline.PcItem("lock"),
			readline.PcItem("cmd"), readline.PcItem("help"), readline.PcItem("quit"),
		),
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()

	w := instrument.NewWorker(bus, p, instrument.DefaultSpecs(resources()), instrument.WorkerConfig{
		QueueSize:    cfg.Instrument.QueueSize,
		PollInterval: cfg.Instrument.PollInterval,
		Logger:       logger.Component("worker"),
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	go func() {
		for ev := range w.Events() {
			if s := formatEvent(ev); s != "" {
				fmt.Fprintln(rl.Stdout(), s)
			}
		}
	}()

	sh := &shell{send: w.Send, port: cfg.Instrument.Port, out: rl.Stdout()}
	sh.printHelp()
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err != nil {
			break
		}
		if err := sh.exec(ctx, line); err != nil {
			if errors.Is(err, errQuit) {
				break
			}
			fmt.Fprintln(rl.Stderr(), "error:", err)
		}
	}
	cancel()
	return <-done
}
