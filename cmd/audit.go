package cmd

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"objectos/internal/client"
)

var (
	auditObject    string
	auditRecord    string
	auditUser      string
	auditEventType string
	auditSince     string
	auditUntil     string
	auditLimit     int
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the audit trail",
}

var auditQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query audit events",
	Long: `Query audit events, newest first. All filters combine with AND.

--since and --until accept either an RFC3339 timestamp or a relative
duration like 24h, counted back from now.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		q := client.AuditQuery{
			ObjectName: auditObject,
			RecordID:   auditRecord,
			UserID:     auditUser,
			EventType:  auditEventType,
			Limit:      auditLimit,
		}

		var err error
		if q.Start, err = parseTimeFlag("since", auditSince); err != nil {
			return err
		}
		if q.End, err = parseTimeFlag("until", auditUntil); err != nil {
			return err
		}

		events, total, err := apiClient().AuditEvents(cmd.Context(), q)
		if err != nil {
			return err
		}

		tw := table.NewWriter()
		tw.SetOutputMirror(cmd.OutOrStdout())
		tw.SetStyle(table.StyleRounded)
		tw.AppendHeader(table.Row{"TIME", "EVENT", "OBJECT", "RECORD", "USER"})
		for _, event := range events {
			tw.AppendRow(table.Row{
				formatTime(event.Timestamp),
				event.EventType,
				event.ObjectName,
				event.RecordID,
				event.UserID,
			})
		}
		tw.Render()

		if total > len(events) {
			fmt.Fprintf(cmd.OutOrStdout(), "Showing %d of %d matching events\n", len(events), total)
		}
		return nil
	},
}

// parseTimeFlag accepts an RFC3339 timestamp or a duration relative to now.
func parseTimeFlag(name, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(value); err == nil {
		return time.Now().Add(-d), nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing --%s: want RFC3339 or a duration, got %q", name, value)
	}
	return t, nil
}

func init() {
	auditQueryCmd.Flags().StringVar(&auditObject, "object", "", "Filter by object name")
	auditQueryCmd.Flags().StringVar(&auditRecord, "record", "", "Filter by record id")
	auditQueryCmd.Flags().StringVar(&auditUser, "user", "", "Filter by acting user id")
	auditQueryCmd.Flags().StringVar(&auditEventType, "event-type", "", "Filter by event type, e.g. data.update")
	auditQueryCmd.Flags().StringVar(&auditSince, "since", "", "Only events at or after this time")
	auditQueryCmd.Flags().StringVar(&auditUntil, "until", "", "Only events at or before this time")
	auditQueryCmd.Flags().IntVar(&auditLimit, "limit", 50, "Maximum events to return")

	auditCmd.AddCommand(auditQueryCmd)
	rootCmd.AddCommand(auditCmd)
}
