package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceBERT/pkg/trace"
)

var (
	traceAddr    string
	traceErrors  bool
	traceSession string
)

var traceCmd = &cobra.Command{
	Use:   "trace <file>",
	Short: "Dump a bus trace file",
	Long: `Print the I2C transactions recorded in a trace file. Tracing is enabled
with trace.enabled in the configuration.`,
	Args: cobra.ExactArgs(1),
	RunE: runTrace,
}

func init() {
	rootCmd.AddCommand(traceCmd)
	traceCmd.Flags().StringVar(&traceAddr, "addr", "", "only this device address (e.g. 0x1C)")
	traceCmd.Flags().BoolVar(&traceErrors, "errors", false, "only failed transactions")
	traceCmd.Flags().StringVar(&traceSession, "session", "", "only this session id")
}

func runTrace(cmd *cobra.Command, args []string) error {
	filter := trace.Filter{ErrorsOnly: traceErrors, Session: traceSession}
	if traceAddr != "" {
		a, err := strconv.ParseUint(traceAddr, 0, 7)
		if err != nil {
			return fmt.Errorf("invalid address %q: %w", traceAddr, err)
		}
		filter.Addr = uint16(a)
	}
	entries, err := trace.ReadFile(args[0], filter)
	if err != nil {
		return err
	}
	session := ""
	for _, e := range entries {
		if e.Session != session {
			session = e.Session
			fmt.Printf("session %s\n", session)
		}
		fmt.Println("  " + e.Format())
	}
	fmt.Printf("%d entries\n", len(entries))
	return nil
}
