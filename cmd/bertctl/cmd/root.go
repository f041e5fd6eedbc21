package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceBERT/internal/config"
	"github.com/OpenTraceLab/OpenTraceBERT/internal/logging"
)

const version = "0.3.0"

var (
	// Global flags
	cfgFile     string
	verbose     bool
	profileName string
	portName    string

	cfg    *config.Config
	logger *logging.Logger
)

var rootCmd = &cobra.Command{
	Use:   "bertctl",
	Short: "BERT instrument controller",
	Long: `Discover, initialise and control a multi-chip BERT instrument reached
through a serial-to-I2C bridge adaptor.

Examples:
  bertctl ports                               # List serial ports and bridge adaptors
  bertctl scan --port sim                     # Discover the simulated instrument
  bertctl init --port /dev/ttyUSB0            # Discover and initialise, print options
  bertctl serve --config bertctl.yaml         # Run with the MQTT bridge and journal
  bertctl shell --port sim                    # Interactive console`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&profileName, "profile", "", "address profile (test, pixie, dual)")
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", `serial port; "sim" selects the simulator`)
}

// loadConfig loads the configuration and applies the global flags on top.
func loadConfig(cmd *cobra.Command, args []string) error {
	c, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if profileName != "" {
		c.Instrument.Profile = profileName
	}
	if portName != "" {
		c.Instrument.Port = portName
	}
	if verbose {
		c.Logging.Level = "debug"
	}
	if err := c.Validate(); err != nil {
		return err
	}
	cfg = c
	logger = logging.New(c.Logging, version)
	return nil
}
