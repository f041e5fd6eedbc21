package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceBERT/internal/journal"
)

var journalSession string

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Show the session journal",
	Long: `List the sessions recorded by "bertctl serve", or with --session the
components and results of one session.`,
	RunE: runJournal,
}

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.Flags().StringVar(&journalSession, "session", "", "session id")
}

func runJournal(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	j, err := journal.Open(ctx, cfg.Journal.Path, logger.Component("journal"))
	if err != nil {
		return err
	}
	defer j.Close()

	if journalSession == "" {
		sessions, err := j.Sessions(ctx)
		if err != nil {
			return err
		}
		for _, s := range sessions {
			ended := "running"
			if s.EndedAt.Valid {
				ended = s.EndedAt.Time.Local().Format(time.DateTime)
			}
			fmt.Printf("%s  %-6s %-14s %s - %s\n", s.ID, s.Profile, s.Port,
				s.StartedAt.Local().Format(time.DateTime), ended)
		}
		return nil
	}

	comps, err := j.Components(ctx, journalSession)
	if err != nil {
		return err
	}
	fmt.Println("Components:")
	for _, c := range comps {
		fmt.Printf("  %-9s #%d  at 0x%02X\n", c.Family, c.Device, c.Address)
	}
	results, err := j.Results(ctx, journalSession)
	if err != nil {
		return err
	}
	fmt.Println("Results:")
	for _, r := range results {
		fmt.Printf("  %s  lane %2d  %d %s\n", r.At.Local().Format(time.TimeOnly), r.Lane, int(r.Code), r.Code.Message())
	}
	return nil
}
