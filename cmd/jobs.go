package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"objectos/internal/client"
	"objectos/internal/jobs"
)

var (
	jobsStatus string

	enqueuePayload    string
	enqueuePriority   string
	enqueueMaxRetries int
	enqueueDelay      string
	enqueueRunAt      string

	watchInterval time.Duration
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage background jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued and historical jobs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := apiClient().ListJobs(cmd.Context(), jobsStatus)
		if err != nil {
			return err
		}

		tw := table.NewWriter()
		tw.SetOutputMirror(cmd.OutOrStdout())
		tw.SetStyle(table.StyleRounded)
		tw.AppendHeader(table.Row{"ID", "NAME", "PRIORITY", "STATE", "ATTEMPTS", "ENQUEUED", "LAST ERROR"})
		for _, job := range list {
			tw.AppendRow(table.Row{
				job.ID,
				job.Name,
				job.Priority,
				job.State,
				fmt.Sprintf("%d/%d", job.Attempts, job.MaxRetries),
				formatTime(job.EnqueuedAt),
				job.LastError,
			})
		}
		tw.Render()
		return nil
	},
}

var jobsGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		job, err := apiClient().GetJob(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printJob(cmd, job)
		return nil
	},
}

var jobsEnqueueCmd = &cobra.Command{
	Use:   "enqueue <name>",
	Short: "Submit a job for background execution",
	Long: `Submit a job by handler name. The payload is free-form JSON handed to
the handler. --delay defers dispatch by a duration; --run-at schedules an
absolute RFC3339 time and wins when both are set.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := client.EnqueueJob{
			Name:       args[0],
			Priority:   enqueuePriority,
			MaxRetries: enqueueMaxRetries,
			Delay:      enqueueDelay,
			RunAt:      enqueueRunAt,
		}
		if enqueuePayload != "" {
			if err := json.Unmarshal([]byte(enqueuePayload), &req.Payload); err != nil {
				return fmt.Errorf("parsing --payload: %w", err)
			}
		}

		id, err := apiClient().EnqueueJob(cmd.Context(), req)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	},
}

var jobsRetryCmd = &cobra.Command{
	Use:   "retry <id>",
	Short: "Requeue a failed job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiClient().RetryJob(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Job %s requeued\n", args[0])
		return nil
	},
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Cancel a pending or scheduled job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiClient().CancelJob(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Job %s cancelled\n", args[0])
		return nil
	},
}

var jobsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue counters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		stats, err := apiClient().JobStats(cmd.Context())
		if err != nil {
			return err
		}

		tw := table.NewWriter()
		tw.SetOutputMirror(cmd.OutOrStdout())
		tw.SetStyle(table.StyleRounded)
		for _, key := range sortedKeys(stats) {
			tw.AppendRow(table.Row{key, fmt.Sprintf("%v", stats[key])})
		}
		tw.Render()
		return nil
	},
}

var jobsWatchCmd = &cobra.Command{
	Use:   "watch <id>",
	Short: "Poll a job until it reaches a terminal state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		api := apiClient()
		id := args[0]

		job, err := api.GetJob(cmd.Context(), id)
		if err != nil {
			return err
		}

		if !job.State.Terminal() {
			s := spinner.New(spinner.CharSets[14], 120*time.Millisecond,
				spinner.WithWriter(cmd.ErrOrStderr()))
			s.Suffix = fmt.Sprintf(" job %s: %s", id, job.State)
			s.Start()

			ticker := time.NewTicker(watchInterval)
			defer ticker.Stop()
			for !job.State.Terminal() {
				select {
				case <-cmd.Context().Done():
					s.Stop()
					return cmd.Context().Err()
				case <-ticker.C:
				}
				job, err = api.GetJob(cmd.Context(), id)
				if err != nil {
					s.Stop()
					return err
				}
				s.Suffix = fmt.Sprintf(" job %s: %s", id, job.State)
			}
			s.Stop()
		}

		printJob(cmd, job)
		if job.State == jobs.StateFailed {
			return fmt.Errorf("job %s failed: %s", id, job.LastError)
		}
		return nil
	},
}

func printJob(cmd *cobra.Command, job *jobs.Job) {
	tw := table.NewWriter()
	tw.SetOutputMirror(cmd.OutOrStdout())
	tw.SetStyle(table.StyleRounded)
	tw.AppendRow(table.Row{"ID", job.ID})
	tw.AppendRow(table.Row{"Name", job.Name})
	tw.AppendRow(table.Row{"Priority", job.Priority})
	tw.AppendRow(table.Row{"State", job.State})
	tw.AppendRow(table.Row{"Attempts", fmt.Sprintf("%d/%d", job.Attempts, job.MaxRetries)})
	tw.AppendRow(table.Row{"Enqueued", formatTime(job.EnqueuedAt)})
	tw.AppendRow(table.Row{"Run at", formatTime(job.RunAt)})
	tw.AppendRow(table.Row{"Last attempt", formatTime(job.LastAttemptAt)})
	tw.AppendRow(table.Row{"Completed", formatTime(job.CompletedAt)})
	if job.LastError != "" {
		tw.AppendRow(table.Row{"Last error", job.LastError})
	}
	if len(job.Payload) > 0 {
		payload, err := json.Marshal(job.Payload)
		if err == nil {
			tw.AppendRow(table.Row{"Payload", string(payload)})
		}
	}
	tw.Render()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.RFC3339)
}

func init() {
	jobsListCmd.Flags().StringVar(&jobsStatus, "status", "",
		"Filter by state (pending, scheduled, running, retrying, completed, failed, cancelled)")

	jobsEnqueueCmd.Flags().StringVar(&enqueuePayload, "payload", "", "Job payload as JSON")
	jobsEnqueueCmd.Flags().StringVar(&enqueuePriority, "priority", "",
		"Priority (low, normal, high, critical)")
	jobsEnqueueCmd.Flags().IntVar(&enqueueMaxRetries, "max-retries", 0,
		"Attempt limit (0 uses the server default)")
	jobsEnqueueCmd.Flags().StringVar(&enqueueDelay, "delay", "",
		"Defer dispatch by a duration, e.g. 30s or 5m")
	jobsEnqueueCmd.Flags().StringVar(&enqueueRunAt, "run-at", "",
		"Schedule dispatch at an RFC3339 time")

	jobsWatchCmd.Flags().DurationVar(&watchInterval, "interval", time.Second,
		"Poll interval")

	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsGetCmd)
	jobsCmd.AddCommand(jobsEnqueueCmd)
	jobsCmd.AddCommand(jobsRetryCmd)
	jobsCmd.AddCommand(jobsCancelCmd)
	jobsCmd.AddCommand(jobsStatsCmd)
	jobsCmd.AddCommand(jobsWatchCmd)
	rootCmd.AddCommand(jobsCmd)
}
