package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceBERT/pkg/macro"
)

var macrosVerify string

var macrosCmd = &cobra.Command{
	Use:   "macros",
	Short: "List the known core macros or verify a macro file",
	Long: `List the macro registry. With --verify, parse the named Intel HEX file
and check its record count against the registry entry of the same name.`,
	RunE: runMacros,
}

func init() {
	rootCmd.AddCommand(macrosCmd)
	macrosCmd.Flags().StringVar(&macrosVerify, "verify", "", "macro file to verify")
}

func runMacros(cmd *cobra.Command, args []string) error {
	if macrosVerify != "" {
		return verifyMacro(macrosVerify)
	}
	latest, _ := macro.Latest()
	fmt.Println("Known macros:")
	for i, f := range macro.Files() {
		if i == macro.UnknownIndex {
			continue
		}
		mark := ""
		if i == latest {
			mark = " (latest)"
		}
		fmt.Printf("  %-6s %-24s %4d records  fingerprint %s%s\n", f.Version, f.Resource, f.Lines, f.Fingerprint, mark)
	}
	return nil
}

func verifyMacro(path string) error {
	name := filepath.Base(path)
	info := macro.FileInfo{Resource: name}
	for _, f := range macro.Files()[1:] {
		if f.Resource == name {
			info = f
		}
	}
	img, err := macro.Load(os.DirFS(filepath.Dir(path)), info)
	if err != nil {
		return err
	}
	version := info.Version
	if version == "" {
		version = "unregistered"
	}
	fmt.Printf("%s: OK, %d records, %d bytes (%s)\n", name, len(img.Records), img.Size(), version)
	return nil
}
