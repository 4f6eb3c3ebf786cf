package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hookwire/hookwire/cli/pkg/output"
	"github.com/hookwire/hookwire/common/config"
)

var (
	cfgFile string
	cfg     *config.CLIConfig
)

var rootCmd = &cobra.Command{
	Use:   "hookctl",
	Short: "hookwire operator CLI",
	Long: `hookctl is the command-line interface for hookwire.

Sign and send Discourse webhooks to a gateway, seed fake traffic,
and inspect or replay the dead-letter queue.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		output.New("").Error("%v", err)
		return err
	}
	return nil
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.hookctl/config.yaml)")
	rootCmd.PersistentFlags().String("profile", "", "profile to use (default: current profile)")
	rootCmd.PersistentFlags().StringP("output", "o", "table", "output format: table, json, yaml")
}

func initConfig() {
	var err error
	if cfgFile != "" {
		cfg, err = config.LoadCLIFrom(cfgFile)
	} else {
		cfg, err = config.LoadCLI()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not load config: %v\n", err)
		cfg = config.DefaultCLI()
	}
}

// settings resolves the selected profile and applies per-command flag
// overrides on top of it.
func settings(cmd *cobra.Command) config.CLIProfile {
	if cfg == nil {
		cfg = config.DefaultCLI()
	}
	name, _ := cmd.Flags().GetString("profile")
	p := cfg.Resolve(name)

	override := func(flag string, dst *string) {
		if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
			*dst = f.Value.String()
		}
	}
	override("gateway-url", &p.GatewayURL)
	override("secret", &p.Secret)
	override("broker-url", &p.BrokerURL)
	override("queue", &p.Queue)
	override("redis-url", &p.RedisURL)
	return p
}

func printer(cmd *cobra.Command) *output.Printer {
	format, _ := cmd.Flags().GetString("output")
	p := output.New(format)
	p.Out = cmd.OutOrStdout()
	p.Err = cmd.ErrOrStderr()
	return p
}
