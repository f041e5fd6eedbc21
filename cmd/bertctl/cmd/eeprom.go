package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceBERT/pkg/device"
	"github.com/OpenTraceLab/OpenTraceBERT/pkg/device/m24m02"
)

var eepromCmd = &cobra.Command{
	Use:   "eeprom",
	Short: "Show the data EEPROM contents",
	Long:  `Print the board identity and the clock profiles stored in each data EEPROM.`,
	RunE:  runEEPROM,
}

func init() {
	rootCmd.AddCommand(eepromCmd)
}

func runEEPROM(cmd *cobra.Command, args []string) error {
	s, err := newSession()
	if err != nil {
		return err
	}
	defer s.close()

	if err := s.connect(); err != nil {
		return err
	}
	for _, drv := range s.drivers(device.FamilyEEPROM) {
		d := drv.(*m24m02.Driver)
		if err := d.Init(); err != nil {
			return fmt.Errorf("eeprom #%d: %w", d.ID(), err)
		}
		fmt.Printf("EEPROM #%d at 0x%02X: %d record(s)\n", d.ID(), d.Address(), len(d.Records()))
		if b, ok := d.Board(); ok {
			fmt.Printf("  Model:  %s\n  Serial: %s\n", b.Model, b.Serial)
		}
		for _, p := range d.ClockProfiles() {
			fmt.Printf("  Clock profile %q: %d register(s)\n", p.Name, len(p.Words))
			if verbose {
				for _, w := range p.Words {
					fmt.Printf("    R%-3d 0x%04X\n", w>>16, w&0xFFFF)
				}
			}
		}
	}
	return nil
}
