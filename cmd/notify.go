package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"objectos/internal/notify"
)

var (
	notifyChannel    string
	notifyRecipients []string
	notifySubject    string
	notifyBody       string
	notifyTemplate   string
	notifyData       string
)

var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Send notifications and inspect the delivery queue",
}

var notifySendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a notification",
	Long: `Send a notification over a registered channel. --template names a
registered template rendered with --data; otherwise --subject and --body are
delivered as given.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		req := notify.Request{
			Channel:    notifyChannel,
			Recipients: notifyRecipients,
			Subject:    notifySubject,
			Body:       notifyBody,
			Template:   notifyTemplate,
		}
		if notifyData != "" {
			if err := json.Unmarshal([]byte(notifyData), &req.Data); err != nil {
				return fmt.Errorf("parsing --data: %w", err)
			}
		}

		id, err := apiClient().SendNotification(cmd.Context(), req)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	},
}

var notifyChannelsCmd = &cobra.Command{
	Use:   "channels",
	Short: "List registered delivery channels",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		channels, err := apiClient().NotificationChannels(cmd.Context())
		if err != nil {
			return err
		}
		for _, channel := range channels {
			fmt.Fprintln(cmd.OutOrStdout(), channel)
		}
		return nil
	},
}

var notifyQueueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Show delivery queue counters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := apiClient().NotificationQueueStatus(cmd.Context())
		if err != nil {
			return err
		}

		tw := table.NewWriter()
		tw.SetOutputMirror(cmd.OutOrStdout())
		tw.SetStyle(table.StyleRounded)
		for _, key := range sortedKeys(status) {
			tw.AppendRow(table.Row{key, fmt.Sprintf("%v", status[key])})
		}
		tw.Render()
		return nil
	},
}

func init() {
	notifySendCmd.Flags().StringVar(&notifyChannel, "channel", "",
		"Delivery channel (email, sms, push, webhook)")
	notifySendCmd.Flags().StringSliceVar(&notifyRecipients, "to", nil,
		"Recipient, repeatable")
	notifySendCmd.Flags().StringVar(&notifySubject, "subject", "", "Subject line")
	notifySendCmd.Flags().StringVar(&notifyBody, "body", "", "Message body")
	notifySendCmd.Flags().StringVar(&notifyTemplate, "template", "",
		"Registered template name")
	notifySendCmd.Flags().StringVar(&notifyData, "data", "",
		"Template data as JSON")

	notifyCmd.AddCommand(notifySendCmd)
	notifyCmd.AddCommand(notifyChannelsCmd)
	notifyCmd.AddCommand(notifyQueueCmd)
	rootCmd.AddCommand(notifyCmd)
}
