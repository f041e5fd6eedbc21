package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceBERT/pkg/instrument"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Discover and initialise the instrument",
	Long: `Discover the components, initialise them in dependency order and print
the option lists the drivers publish.`,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	s, err := newSession()
	if err != nil {
		return err
	}
	defer s.close()

	if err := s.initialize(); err != nil {
		return err
	}
	from := len(s.events)
	s.engine.GetOptions()

	fmt.Printf("Instrument ready (%d components)\n\n", len(s.found()))
	fmt.Println("Options:")
	for _, ev := range s.events[from:] {
		o, ok := ev.(instrument.OptionsList)
		if !ok {
			continue
		}
		fmt.Printf("  %s #%d %s: %s (default %d)\n",
			o.Family, o.Device, o.Name, strings.Join(o.Items, ", "), o.Default)
	}
	return nil
}
