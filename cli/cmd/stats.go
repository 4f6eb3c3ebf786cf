package cmd

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/hookwire/hookwire/cli/pkg/output"
	"github.com/hookwire/hookwire/common/intakestats"
)

var statsCmd = &cobra.Command{
	Use:   "stats [source]",
	Short: "Show per-instance intake statistics",
	Long:  "Read the webhook intake statistics gateways record in Redis, per Discourse instance",
	Example: `  hookctl stats
  hookctl stats https://forum.example.com -o yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s := settings(cmd)
		since, _ := cmd.Flags().GetDuration("since")

		client, err := intakestats.NewClient(s.RedisURL, "hookctl")
		if err != nil {
			return err
		}
		defer client.Close()

		ctx := cmd.Context()
		sources := args
		if len(sources) == 0 {
			if sources, err = client.ListSources(ctx, since); err != nil {
				return err
			}
			sort.Strings(sources)
		}

		all := make([]*intakestats.Stats, 0, len(sources))
		for _, source := range sources {
			st, err := client.GetStats(ctx, source)
			if err != nil {
				return err
			}
			all = append(all, st)
		}

		p := printer(cmd)
		if len(all) == 0 && p.Format == output.FormatTable {
			p.Info("No webhooks recorded in the last %s", since)
			return nil
		}
		return p.Print(all, func() *output.Table {
			table := output.NewTable("SOURCE", "TOTAL", "LAST HOUR", "LAST 24H", "IPS TODAY", "LAST SEEN", "LAST EVENT")
			for _, st := range all {
				lastSeen := "-"
				if st.LastSeenAt != nil {
					lastSeen = st.LastSeenAt.Format(time.RFC3339)
				}
				table.AddRow(st.Source,
					fmt.Sprint(st.TotalEvents),
					fmt.Sprint(st.EventsLastHour),
					fmt.Sprint(st.EventsLast24h),
					fmt.Sprint(st.UniqueIPsToday),
					lastSeen,
					st.LastEventType,
				)
			}
			return table
		})
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)

	statsCmd.Flags().String("redis-url", "", "Redis URL")
	statsCmd.Flags().Duration("since", 24*time.Hour, "only list sources seen within this window")
}
