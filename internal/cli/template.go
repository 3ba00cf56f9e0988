package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/stockroom/internal/core"
)

func newTemplateCmd(opts Options) *cobra.Command {
	var format, output string

	cmd := &cobra.Command{
		Use:   "template <entity>",
		Short: "Write an import template for an entity",
		Long: `Write an empty import file with the entity's headers and one example row.
Required columns are marked with "*". Without --output the template goes to stdout.`,
		Example: `  importctl template products --format xlsx --output products.xlsx`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := lookupEntity(opts.Registry, args[0])
			if err != nil {
				return err
			}
			f, err := core.ParseFormat(format)
			if err != nil {
				return err
			}

			if output == "" || output == "-" {
				return core.WriteTemplate(cmd.OutOrStdout(), f, def)
			}

			file, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("create %s: %w", output, err)
			}
			if err := core.WriteTemplate(file, f, def); err != nil {
				file.Close()
				return err
			}
			if err := file.Close(); err != nil {
				return fmt.Errorf("close %s: %w", output, err)
			}
			cmd.PrintErrf("wrote %s\n", output)
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "csv", "template format: csv, xlsx or json")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")

	return cmd
}
