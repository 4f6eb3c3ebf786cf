package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hookwire/hookwire/cli/internal/client"
	"github.com/hookwire/hookwire/cli/pkg/output"
)

var sendCmd = &cobra.Command{
	Use:   "send [file]",
	Short: "Send a signed webhook to the gateway",
	Long:  "Sign a body read from a file, --data or stdin and POST it to the gateway",
	Example: `  hookctl send --event user_created --data '{"user":{"id":1,"username":"test"}}'
  hookctl send payload.json --event notification_created --event-id 42`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s := settings(cmd)
		eventType, _ := cmd.Flags().GetString("event")
		eventID, _ := cmd.Flags().GetString("event-id")
		instance, _ := cmd.Flags().GetString("instance")
		data, _ := cmd.Flags().GetString("data")

		if eventType == "" {
			return fmt.Errorf("--event is required")
		}
		if s.Secret == "" {
			return fmt.Errorf("secret is required (use --secret or set it in the profile)")
		}

		var body []byte
		if data != "" {
			body = []byte(data)
		} else {
			var err error
			if body, err = readBody(cmd, args); err != nil {
				return err
			}
		}

		res, err := client.NewWebhookClient(s.GatewayURL, s.Secret).Send(cmd.Context(), client.Webhook{
			EventType: eventType,
			EventID:   eventID,
			Instance:  instance,
			Body:      body,
		})
		if err != nil {
			return fmt.Errorf("failed to send webhook: %w", err)
		}

		p := printer(cmd)
		if p.Format != output.FormatTable {
			return p.Print(res, nil)
		}
		if !res.Accepted() {
			return fmt.Errorf("gateway rejected webhook: %d %s", res.StatusCode, res.Error)
		}
		p.Success("Webhook queued (message id %s)", res.MessageID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().StringP("event", "e", "", "event type (X-Discourse-Event)")
	sendCmd.Flags().String("event-id", "", "event id (X-Discourse-Event-Id)")
	sendCmd.Flags().String("instance", "", "instance URL (X-Discourse-Instance)")
	sendCmd.Flags().StringP("data", "d", "", "inline JSON body")
	sendCmd.Flags().String("gateway-url", "", "gateway base URL")
	sendCmd.Flags().String("secret", "", "webhook secret")
}
