package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceBERT/pkg/device"
	"github.com/OpenTraceLab/OpenTraceBERT/pkg/device/pca9557"
)

var selftestLoopback bool

var selftestCmd = &cobra.Command{
	Use:   "selftest",
	Short: "Self test the I/O expanders",
	Long: `Check register access on every I/O expander. With --loopback the test
also drives pin 7 and expects it on pin 6, which needs the loopback jumper.
Registers are restored afterwards.`,
	RunE: runSelftest,
}

func init() {
	rootCmd.AddCommand(selftestCmd)
	selftestCmd.Flags().BoolVar(&selftestLoopback, "loopback", false, "run the pin 7 to pin 6 loopback test")
}

func runSelftest(cmd *cobra.Command, args []string) error {
	s, err := newSession()
	if err != nil {
		return err
	}
	defer s.close()

	if err := s.connect(); err != nil {
		return err
	}
	failed := 0
	for _, drv := range s.drivers(device.FamilyIO) {
		d := drv.(*pca9557.Driver)
		if err := d.SelfTest(selftestLoopback); err != nil {
			failed++
			fmt.Printf("  I/O expander #%d at 0x%02X: FAIL (%v)\n", d.ID(), d.Address(), err)
			continue
		}
		fmt.Printf("  I/O expander #%d at 0x%02X: PASS\n", d.ID(), d.Address())
	}
	if failed > 0 {
		return fmt.Errorf("%d I/O expander(s) failed the self test", failed)
	}
	return nil
}
