package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newEntitiesCmd(opts Options) *cobra.Command {
	return &cobra.Command{
		Use:   "entities",
		Short: "List importable entities and their fields",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			for _, def := range opts.Registry.All() {
				fmt.Fprintf(w, "%s\t%s\n", def.Key, def.Label)
				for _, f := range def.Fields {
					req := ""
					if f.Required {
						req = "required"
					}
					fmt.Fprintf(w, "  %s\t%s\t%s\n", f.Key, f.Type, req)
				}
			}
			return w.Flush()
		},
	}
}
