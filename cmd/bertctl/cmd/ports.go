package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceBERT/pkg/i2c"
)

var portsUSB bool

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports and USB bridge adaptors",
	Long: `List the serial ports the instrument may be attached to and, with --usb,
the USB serial bridge adaptors found on the host. The simulator is always
available as port "sim".`,
	RunE: runPorts,
}

func init() {
	rootCmd.AddCommand(portsCmd)
	portsCmd.Flags().BoolVar(&portsUSB, "usb", false, "also scan USB for bridge adaptors")
}

func runPorts(cmd *cobra.Command, args []string) error {
	ports, err := i2c.ListPorts()
	if err != nil {
		return fmt.Errorf("list ports: %w", err)
	}
	fmt.Println("Serial ports:")
	for _, p := range ports {
		if p.IsUSB {
			fmt.Printf("  - %s [%s] (VID:PID %04X:%04X) %s\n", p.Name, p.Kind, p.VendorID, p.ProductID, p.Product)
		} else {
			fmt.Printf("  - %s\n", p.Name)
		}
	}

	if !portsUSB {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	adaptors, err := i2c.DiscoverAdaptors(ctx)
	if err != nil {
		return fmt.Errorf("discover adaptors: %w", err)
	}
	fmt.Println("Bridge adaptors:")
	for _, a := range adaptors {
		fmt.Printf("  - %s [%s] (VID:PID %04X:%04X)\n", a.Label(), a.Kind, a.VendorID, a.ProductID)
	}
	return nil
}
