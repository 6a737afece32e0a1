package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/vhvplatform/go-wellness-notifier/internal/shared/config"
	"github.com/vhvplatform/go-wellness-notifier/internal/signature"
)

// SignCmd prints the signature of a trigger body
var SignCmd = &cobra.Command{
	Use:   "sign",
	Short: "Print the trigger signature of the body read from stdin",
	Long: `Read a request body from stdin and print its hex HMAC-SHA256 signature
under WEBHOOK_SECRET, ready for the ` + signature.Header + ` header.

The body is signed byte for byte; use echo -n to avoid a trailing newline.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return err
		}
		if cfg.Webhook.Secret == "" {
			return fmt.Errorf("WEBHOOK_SECRET is not set")
		}

		body, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), signature.Sign([]byte(cfg.Webhook.Secret), body))
		return nil
	},
}
