package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceBERT/pkg/device"
	"github.com/OpenTraceLab/OpenTraceBERT/pkg/device/pca9557"
)

var (
	pinsDevice int
	pinsMask   string
	pinsValue  string
)

var pinsCmd = &cobra.Command{
	Use:   "pins",
	Short: "Read or update I/O expander pins",
	Long: `Read the I/O expander pins and, when --mask is given, change only the
masked output bits.

Examples:
  bertctl pins --port sim
  bertctl pins --port sim --mask 0xC0 --value 0x40   # trigger divide select`,
	RunE: runPins,
}

func init() {
	rootCmd.AddCommand(pinsCmd)
	pinsCmd.Flags().IntVarP(&pinsDevice, "device", "d", 0, "I/O expander index")
	pinsCmd.Flags().StringVar(&pinsMask, "mask", "", "output bits to change (e.g. 0xC0)")
	pinsCmd.Flags().StringVar(&pinsValue, "value", "0", "new value of the masked bits")
}

func parseByte(s string) (byte, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid byte %q: %w", s, err)
	}
	return byte(v), nil
}

// ioDriver returns the initialised I/O expander at index id.
func ioDriver(s *session, id int) (*pca9557.Driver, error) {
	ds := s.drivers(device.FamilyIO)
	if id < 0 || id >= len(ds) {
		return nil, fmt.Errorf("no I/O expander #%d (found %d)", id, len(ds))
	}
	return ds[id].(*pca9557.Driver), nil
}

func runPins(cmd *cobra.Command, args []string) error {
	s, err := newSession()
	if err != nil {
		return err
	}
	defer s.close()

	if err := s.initialize(); err != nil {
		return err
	}
	d, err := ioDriver(s, pinsDevice)
	if err != nil {
		return err
	}

	if pinsMask != "" {
		mask, err := parseByte(pinsMask)
		if err != nil {
			return err
		}
		value, err := parseByte(pinsValue)
		if err != nil {
			return err
		}
		if err := d.UpdatePins(mask, value); err != nil {
			return err
		}
	}

	pins, err := d.GetPins()
	if err != nil {
		return err
	}
	_, output, polarity, config := d.Shadow()
	fmt.Printf("I/O expander #%d at 0x%02X\n", d.ID(), d.Address())
	fmt.Printf("  input:    0x%02X  %08b\n", pins, pins)
	fmt.Printf("  output:   0x%02X  %08b\n", output, output)
	fmt.Printf("  polarity: 0x%02X  %08b\n", polarity, polarity)
	fmt.Printf("  config:   0x%02X  %08b\n", config, config)
	locked, err := d.ReadLockDetect()
	if err != nil {
		return err
	}
	fmt.Printf("  lock detect: %v\n", locked)
	return nil
}
