package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/stockroom/internal/core"
)

func newHistoryCmd(opts Options) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "history [entity]",
		Short: "Show recent import runs",
		Example: `  importctl history
  importctl history products --limit 5 --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var entity string
			if len(args) == 1 {
				if _, err := lookupEntity(opts.Registry, args[0]); err != nil {
					return err
				}
				entity = args[0]
			}

			svc, closeFn, err := opts.Connect(ctx, nil)
			if err != nil {
				return err
			}
			defer closeFn()

			runs, err := svc.History(ctx, entity, limit)
			if err != nil {
				return fmt.Errorf("load history: %w", err)
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(runs)
			}
			if len(runs) == 0 {
				cmd.Println("No imports recorded.")
				return nil
			}
			return renderRuns(cmd, runs)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")

	return cmd
}

func renderRuns(cmd *cobra.Command, runs []core.ImportRun) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tENTITY\tSOURCE\tSTATUS\tTOTAL\tCREATED\tUPDATED\tFAILED\tDURATION")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%dms\n",
			r.CreatedAt.Format("2006-01-02 15:04:05"),
			r.Entity, r.Source, strings.ToUpper(r.Status),
			r.Total, r.Created, r.Updated, r.Failed, r.DurationMs,
		)
	}
	return w.Flush()
}
