package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/hookwire/hookwire/cli/pkg/output"
	"github.com/hookwire/hookwire/common/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage hookctl profiles",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective settings of a profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		s := settings(cmd)
		if s.Secret != "" {
			s.Secret = "********"
		}
		return printer(cmd).Print(s, func() *output.Table {
			table := output.NewTable("KEY", "VALUE")
			table.AddRow("gateway_url", s.GatewayURL)
			table.AddRow("secret", s.Secret)
			table.AddRow("broker_url", s.BrokerURL)
			table.AddRow("queue", s.Queue)
			table.AddRow("redis_url", s.RedisURL)
			return table
		})
	},
}

var configSetProfileCmd = &cobra.Command{
	Use:   "set-profile <name>",
	Short: "Create or update a profile",
	Example: `  hookctl config set-profile staging --gateway-url https://hooks.staging.example.com --secret s3cret
  hookctl config set-profile staging --use`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		p := config.CLIProfile{}
		if existing, ok := cfg.Profiles[name]; ok {
			p = *existing
		}
		set := func(flag string, dst *string) {
			if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
				*dst = f.Value.String()
			}
		}
		set("gateway-url", &p.GatewayURL)
		set("secret", &p.Secret)
		set("broker-url", &p.BrokerURL)
		set("queue", &p.Queue)
		set("redis-url", &p.RedisURL)
		cfg.SetProfile(name, p)

		if use, _ := cmd.Flags().GetBool("use"); use {
			cfg.CurrentProfile = name
		}
		if err := cfg.Save(); err != nil {
			return err
		}
		printer(cmd).Success("Profile %q saved", name)
		return nil
	},
}

var configUseCmd = &cobra.Command{
	Use:   "use <name>",
	Short: "Switch the current profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, ok := cfg.Profiles[args[0]]; !ok {
			return fmt.Errorf("profile %q does not exist", args[0])
		}
		cfg.CurrentProfile = args[0]
		if err := cfg.Save(); err != nil {
			return err
		}
		printer(cmd).Success("Switched to profile %q", args[0])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		names := make([]string, 0, len(cfg.Profiles))
		for name := range cfg.Profiles {
			names = append(names, name)
		}
		sort.Strings(names)

		return printer(cmd).Print(names, func() *output.Table {
			table := output.NewTable("CURRENT", "NAME", "GATEWAY URL")
			for _, name := range names {
				current := ""
				if name == cfg.CurrentProfile {
					current = "*"
				}
				table.AddRow(current, name, cfg.Resolve(name).GatewayURL)
			}
			return table
		})
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetProfileCmd)
	configCmd.AddCommand(configUseCmd)
	configCmd.AddCommand(configListCmd)

	for _, c := range []*cobra.Command{configShowCmd, configSetProfileCmd} {
		c.Flags().String("gateway-url", "", "gateway base URL")
		c.Flags().String("secret", "", "webhook secret")
		c.Flags().String("broker-url", "", "broker URL")
		c.Flags().String("queue", "", "work queue name")
		c.Flags().String("redis-url", "", "Redis URL")
	}
	configSetProfileCmd.Flags().Bool("use", false, "make it the current profile")
}
