package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/stockroom/internal/core"
	"github.com/JonMunkholm/stockroom/internal/logging"
)

// errImportFailed is returned when the import ran but did not succeed. The
// result has already been printed.
var errImportFailed = errors.New("import did not succeed")

type importFlags struct {
	format      string
	concurrency int
	maxRetries  int
	dryRun      bool
	stopOnError bool
}

func newImportCmd(opts Options) *cobra.Command {
	var f importFlags

	cmd := &cobra.Command{
		Use:   "import <entity> <file>",
		Short: "Import a CSV, XLSX or JSON file",
		Long: `Decode a file and upsert its records. The format is taken from the file
extension unless --format is set. Use "-" to read from stdin, which requires --format.

The JSON result is written to stdout. The command exits non-zero when any
record failed.`,
		Example: `  # Import products from a spreadsheet
  importctl import products stock.xlsx

  # Validate a CSV without writing anything
  importctl import customers customers.csv --dry-run

  # Pipe JSON in
  cat suppliers.json | importctl import suppliers - --format json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, opts, args[0], args[1], f)
		},
	}

	cmd.Flags().StringVar(&f.format, "format", "", "input format: csv, xlsx or json (default from extension)")
	cmd.Flags().IntVar(&f.concurrency, "concurrency", 0, "records processed in parallel (default from config)")
	cmd.Flags().IntVar(&f.maxRetries, "max-retries", -1, "retries per record for transient errors (default from config)")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "validate and sanitize without writing")
	cmd.Flags().BoolVar(&f.stopOnError, "stop-on-error", false, "stop at the first failed record")

	return cmd
}

func runImport(cmd *cobra.Command, opts Options, entity, path string, f importFlags) error {
	ctx := cmd.Context()

	def, err := lookupEntity(opts.Registry, entity)
	if err != nil {
		return err
	}

	records, source, err := readRecords(cmd, def, path, f.format)
	if err != nil {
		return err
	}

	logger := logging.FromContext(ctx).With("entity", entity, "source", source)
	svc, closeFn, err := opts.Connect(ctx, logger)
	if err != nil {
		return err
	}
	defer closeFn()

	importOpts := core.ImportOptions{
		Source:      source,
		DryRun:      f.dryRun,
		Concurrency: f.concurrency,
		OnProgress: func(completed, total int) {
			logger.Debug("import progress", "completed", completed, "total", total)
		},
	}
	if f.maxRetries >= 0 {
		importOpts.MaxRetries = &f.maxRetries
	}
	if f.stopOnError {
		cont := false
		importOpts.ContinueOnError = &cont
	}

	result, err := svc.Import(ctx, entity, records, importOpts)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("write result: %w", err)
	}

	logger.Info("import finished",
		"total", result.Stats.Total,
		"created", result.Stats.Created,
		"updated", result.Stats.Updated,
		"failed", result.Stats.Failed,
		"dry_run", result.DryRun,
	)
	if !result.Success {
		return errImportFailed
	}
	return nil
}

// readRecords opens path (or stdin for "-") and decodes it.
func readRecords(cmd *cobra.Command, def core.EntityDefinition, path, formatFlag string) ([]core.Record, string, error) {
	var (
		format core.Format
		err    error
	)
	switch {
	case formatFlag != "":
		format, err = core.ParseFormat(formatFlag)
	case path == "-":
		err = errors.New("--format is required when reading from stdin")
	default:
		format, err = core.FormatFromFilename(path)
	}
	if err != nil {
		return nil, "", err
	}

	var (
		r      io.Reader
		source string
	)
	if path == "-" {
		r = cmd.InOrStdin()
		source = "cli:stdin"
	} else {
		file, err := os.Open(path)
		if err != nil {
			return nil, "", fmt.Errorf("open %s: %w", path, err)
		}
		defer file.Close()
		r = file
		source = "cli:" + filepath.Base(path)
	}

	records, err := core.DecodeRecords(format, r, def)
	if err != nil {
		return nil, "", err
	}
	return records, source, nil
}
