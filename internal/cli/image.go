package cli

import (
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/stockroom/internal/core"
)

func newCheckImageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-image <value>",
		Short: "Check a value the way import checks image fields",
		Long: `Run the check an import applies to image fields. Only http(s) URLs and
relative paths pass; Base64 image data is rejected. Prints the JSON result and
exits non-zero when the value is invalid.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v := core.ValidateImageURL(args[0])

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(v); err != nil {
				return err
			}
			if !v.Valid {
				return errors.New(v.Error)
			}
			return nil
		},
	}
}
