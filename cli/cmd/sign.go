package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/hookwire/hookwire/common/signature"
)

var signCmd = &cobra.Command{
	Use:   "sign [file]",
	Short: "Compute a webhook signature header",
	Long:  "Print the X-Discourse-Event-Signature value for a body read from a file or stdin",
	Example: `  hookctl sign payload.json --secret s3cret
  echo -n '{"ping":"OK"}' | hookctl sign`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := settings(cmd).Secret
		if secret == "" {
			return fmt.Errorf("secret is required (use --secret or set it in the profile)")
		}

		body, err := readBody(cmd, args)
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), signature.Sign(body, secret))
		return nil
	},
}

// readBody reads the named file, or stdin when no file or "-" is given.
func readBody(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	body, err := os.ReadFile(args[0])
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

func init() {
	rootCmd.AddCommand(signCmd)

	signCmd.Flags().String("secret", "", "webhook secret")
}
