package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hookwire/hookwire/cli/internal/client"
	"github.com/hookwire/hookwire/cli/internal/seeder"
	"github.com/hookwire/hookwire/cli/pkg/output"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Send fake Discourse webhooks",
	Long:  "Generate realistic Discourse events and send them, signed, to the gateway",
	Example: `  hookctl seed --count 100
  hookctl seed --count 20 --types user_created,notification_created --interval 100ms`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s := settings(cmd)
		if s.Secret == "" {
			return fmt.Errorf("secret is required (use --secret or set it in the profile)")
		}

		count, _ := cmd.Flags().GetInt("count")
		types, _ := cmd.Flags().GetStringSlice("types")
		interval, _ := cmd.Flags().GetDuration("interval")
		seed, _ := cmd.Flags().GetInt64("seed")
		instance, _ := cmd.Flags().GetString("instance")

		runner, err := seeder.NewRunner(seeder.Config{
			Count:      count,
			EventTypes: types,
			Interval:   interval,
			Seed:       seed,
			Instance:   instance,
		}, client.NewWebhookClient(s.GatewayURL, s.Secret))
		if err != nil {
			return err
		}

		p := printer(cmd)
		if p.Format == output.FormatTable {
			p.Info("Seeding %d events to %s", count, s.GatewayURL)
			runner.Progress = func(i int, w client.Webhook, res *client.Result, err error) {
				if err != nil {
					p.Warn("%s #%s: %v", w.EventType, w.EventID, err)
				} else if !res.Accepted() {
					p.Warn("%s #%s: status %d %s", w.EventType, w.EventID, res.StatusCode, res.Error)
				}
			}
		}

		sum, err := runner.Run(cmd.Context())
		if err != nil {
			return err
		}

		return p.Print(sum, func() *output.Table {
			table := output.NewTable("EVENT TYPE", "SENT")
			for _, t := range seeder.EventTypes {
				if n := sum.ByType[t]; n > 0 {
					table.AddRow(t, fmt.Sprint(n))
				}
			}
			table.AddRow("accepted", fmt.Sprint(sum.Accepted))
			table.AddRow("rejected", fmt.Sprint(sum.Rejected))
			table.AddRow("failed", fmt.Sprint(sum.Failed))
			return table
		})
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)

	seedCmd.Flags().IntP("count", "n", 10, "number of events")
	seedCmd.Flags().StringSlice("types", nil, "event types to generate (default: all)")
	seedCmd.Flags().Duration("interval", 0, "delay between events")
	seedCmd.Flags().Int64("seed", 0, "random seed (default: time based)")
	seedCmd.Flags().String("instance", "https://forum.example.com", "instance URL (X-Discourse-Instance)")
	seedCmd.Flags().String("gateway-url", "", "gateway base URL")
	seedCmd.Flags().String("secret", "", "webhook secret")
}
