package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Discover the instrument components",
	Long: `Open the port and probe every address of the active profile. Mandatory
components that do not answer abort the scan.

Examples:
  bertctl scan --port sim
  bertctl scan --port /dev/ttyUSB0 --profile pixie`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	s, err := newSession()
	if err != nil {
		return err
	}
	defer s.close()

	if err := s.connect(); err != nil {
		return err
	}

	found := s.found()
	fmt.Println("Instrument Component Discovery Results")
	fmt.Println("=======================================")
	fmt.Printf("Profile: %s\n", s.engine.Profile().Name)
	fmt.Printf("Found %d component(s) in %v\n\n", len(found), s.engine.DiscoveryTime.Round(time.Microsecond))
	for _, d := range found {
		fmt.Printf("  %-9s #%d  at 0x%02X\n", d.Family, d.Device, d.Address)
	}
	return nil
}
