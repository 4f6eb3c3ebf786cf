package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hookwire/hookwire/cli/pkg/output"
	"github.com/hookwire/hookwire/common/dlq"
	"github.com/hookwire/hookwire/common/messaging"
	hwnats "github.com/hookwire/hookwire/common/messaging/nats"
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Dead-letter queue commands",
	Long:  "Inspect, replay and purge dead-lettered events (JetStream backend)",
}

var dlqStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show dead-letter stream statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDLQ(cmd, func(ctx context.Context, q *dlq.JetStreamQueue) error {
			stats, err := q.Stats(ctx)
			if err != nil {
				return err
			}
			return printer(cmd).Print(stats, func() *output.Table {
				table := output.NewTable("STREAM", "MESSAGES", "BYTES", "FIRST", "LAST", "OLDEST")
				oldest := "-"
				if !stats.Oldest.IsZero() {
					oldest = stats.Oldest.Format(time.RFC3339)
				}
				table.AddRow(stats.Stream,
					fmt.Sprint(stats.Messages),
					fmt.Sprint(stats.Bytes),
					fmt.Sprint(stats.FirstSeq),
					fmt.Sprint(stats.LastSeq),
					oldest,
				)
				return table
			})
		})
	},
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead-lettered events",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return withDLQ(cmd, func(ctx context.Context, q *dlq.JetStreamQueue) error {
			events, err := q.List(ctx, limit)
			if err != nil {
				return err
			}
			p := printer(cmd)
			if len(events) == 0 && p.Format == output.FormatTable {
				p.Info("No dead-lettered events")
				return nil
			}
			return p.Print(events, func() *output.Table {
				table := output.NewTable("SEQ", "MESSAGE ID", "EVENT TYPE", "ATTEMPTS", "STORED AT", "REASON")
				for _, e := range events {
					table.AddRow(
						fmt.Sprint(e.Sequence),
						e.MessageID,
						e.EventType,
						fmt.Sprint(e.Attempts),
						e.StoredAt.Format(time.RFC3339),
						truncate(e.Reason, 60),
					)
				}
				return table
			})
		})
	},
}

var dlqReplayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Republish dead-lettered events to the work queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return withDLQ(cmd, func(ctx context.Context, q *dlq.JetStreamQueue) error {
			n, err := q.Replay(ctx, limit)
			p := printer(cmd)
			if errors.Is(err, dlq.ErrEmpty) {
				p.Info("No dead-lettered events")
				return nil
			}
			if err != nil {
				return fmt.Errorf("replayed %d before failing: %w", n, err)
			}
			p.Success("Replayed %d events", n)
			return nil
		})
	},
}

var dlqPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete all dead-lettered events",
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		if !force {
			return fmt.Errorf("refusing to purge without --force")
		}
		return withDLQ(cmd, func(ctx context.Context, q *dlq.JetStreamQueue) error {
			if err := q.Purge(ctx); err != nil {
				return err
			}
			printer(cmd).Success("Dead-letter stream purged")
			return nil
		})
	},
}

func withDLQ(cmd *cobra.Command, fn func(ctx context.Context, q *dlq.JetStreamQueue) error) error {
	s := settings(cmd)
	timeout, _ := cmd.Flags().GetDuration("timeout")

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	natsCfg := hwnats.DefaultConfig()
	natsCfg.URL = s.BrokerURL
	natsCfg.Name = "hookctl"
	natsCfg.Timeout = timeout
	natsCfg.Topology = messaging.DefaultTopology(s.Queue)
	natsCfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))

	client, err := hwnats.Connect(ctx, natsCfg)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", s.BrokerURL, err)
	}
	defer client.Close()

	q, err := dlq.NewJetStreamQueue(ctx, client, natsCfg.Logger)
	if err != nil {
		return err
	}
	return fn(ctx, q)
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func init() {
	rootCmd.AddCommand(dlqCmd)
	dlqCmd.AddCommand(dlqStatsCmd)
	dlqCmd.AddCommand(dlqListCmd)
	dlqCmd.AddCommand(dlqReplayCmd)
	dlqCmd.AddCommand(dlqPurgeCmd)

	dlqCmd.PersistentFlags().String("broker-url", "", "NATS URL")
	dlqCmd.PersistentFlags().String("queue", "", "work queue name")
	dlqCmd.PersistentFlags().Duration("timeout", 10*time.Second, "broker timeout")

	dlqListCmd.Flags().IntP("limit", "n", 20, "maximum number of events")
	dlqReplayCmd.Flags().IntP("limit", "n", 100, "maximum number of events")
	dlqPurgeCmd.Flags().Bool("force", false, "confirm the purge")
}
