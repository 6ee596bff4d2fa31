package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newReconcileCmd(s *state) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile <payload.json>",
		Short: "Apply a fine-tune webhook payload from a file",
		Long: `Apply a provider callback the way the webhook endpoint does. Useful when a
callback was missed or the server had no public url.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read payload: %w", err)
			}
			var payload map[string]interface{}
			if err := json.Unmarshal(body, &payload); err != nil {
				return fmt.Errorf("decode payload: %w", err)
			}

			rec, err := s.app.Reconciler.Reconcile(cmd.Context(), payload)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rec)
		},
	}
}
