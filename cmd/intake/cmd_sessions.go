package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"waitroom-intake/pkg"
)

var sessionsFlags struct {
	format string
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List stored intake sessions",
	RunE:  runSessions,
}

func init() {
	sessionsCmd.Flags().StringVar(&sessionsFlags.format, "format", "ascii", "Table format: ascii or markdown")
}

func runSessions(cmd *cobra.Command, _ []string) error {
	if cfg.Database.URL == "" {
		return errors.New("sessions needs a database; set DATABASE_URL")
	}
	ctx := cmd.Context()
	b, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	previews, err := b.Store.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	counts := make(map[string]int, len(previews))
	for _, p := range previews {
		n, err := b.Repo.CountPatientMessages(ctx, p.SessionID)
		if err != nil {
			return fmt.Errorf("count messages: %w", err)
		}
		counts[p.SessionID] = n
	}
	out := renderSessions(previews, counts, sessionsFlags.format)
	fmt.Fprintln(cmd.OutOrStdout(), out)
	return nil
}

// renderSessions formats previews as a table; counts maps session IDs to
// patient turn counts.
func renderSessions(previews []pkg.DoctorSessionPreview, counts map[string]int, format string) string {
	w := table.NewWriter()
	w.SetStyle(table.StyleLight)
	w.AppendHeader(table.Row{"Session", "Next action", "Turns", "Created", "Closed", "Key points"})
	for _, p := range previews {
		closed := "-"
		if p.ClosedAt != nil {
			closed = p.ClosedAt.Format(time.DateTime)
		}
		w.AppendRow(table.Row{
			p.SessionID,
			p.NextAction,
			counts[p.SessionID],
			p.CreatedAt.Format(time.DateTime),
			closed,
			strings.Join(p.KeyPoints, "; "),
		})
	}
	w.AppendFooter(table.Row{"", "", "", "", "Total", len(previews)})
	w.SetColumnConfigs([]table.ColumnConfig{{Name: "Key points", WidthMax: 60}})
	if format == "markdown" {
		return w.RenderMarkdown()
	}
	return w.Render()
}
