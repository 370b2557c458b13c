package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/irmahq/irma/internal/engine"
	"github.com/irmahq/irma/internal/rules"
	"github.com/irmahq/irma/internal/store"
)

// WriteOutcome is the per-record result in CLI output.
type WriteOutcome struct {
	ID         string            `json:"id"`
	Entity     string            `json:"entity"`
	State      string            `json:"state"`
	Violations []rules.Violation `json:"violations,omitempty"`
	Updates    int               `json:"updates"`
}

// WriteSummary aggregates outcomes over all records of a run.
type WriteSummary struct {
	Committed int            `json:"committed"`
	Rejected  int            `json:"rejected"`
	Outcomes  []WriteOutcome `json:"outcomes"`
}

// NewWriteCommand creates the write command.
func NewWriteCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		dbPath     string
		schemasDir string
		locale     string
	)

	cmd := &cobra.Command{
		Use:   "write <record-file>...",
		Short: "Validate and store records",
		Long: `Validate records against the schemas, recompute affected derived
attributes, and commit the accepted ones.

Record files are YAML (possibly multi-document, for seed imports) or
JSON. Rejected records are reported with their full violation list and
nothing is persisted for them; accepted records commit together with the
derived updates their write implies.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWrite(rootOpts, dbPath, schemasDir, locale, args, cmd)
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "irma.db", "path to the SQLite database")
	cmd.Flags().StringVar(&schemasDir, "schemas", "./schemas", "directory with CUE entity definitions")
	cmd.Flags().StringVar(&locale, "locale", "en", "violation message locale")

	return cmd
}

func runWrite(opts *RootOptions, dbPath, schemasDir, locale string, files []string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	result, loadErrors := LoadSchemas(schemasDir, LoadModeFailFast)
	if len(loadErrors) > 0 {
		return schemaLoadFailure(formatter, loadErrors[0])
	}

	st, err := store.Open(dbPath, result.Registry)
	if err != nil {
		_ = formatter.Error(ErrCodeStoreFailed, err.Error(), nil)
		return WrapExitError(ExitCommandError, "opening database", err)
	}
	defer st.Close()

	eng, err := engine.New(result.Registry, st, engine.WithLocale(locale))
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitCommandError, "building engine", err)
	}

	summary := WriteSummary{}
	ctx := cmd.Context()
	for _, file := range files {
		records, err := LoadRecords(file, result.Registry)
		if err != nil {
			_ = formatter.Error(ErrCodeBadRecord, err.Error(), nil)
			return WrapExitError(ExitCommandError, "reading records", err)
		}
		formatter.VerboseLog("Loaded %d record(s) from %s", len(records), file)

		for _, rec := range records {
			res, err := eng.Write(ctx, rec)
			if err != nil {
				_ = formatter.Error(ErrCodeStoreFailed, err.Error(), nil)
				return WrapExitError(ExitCommandError, "write failed", err)
			}

			outcome := WriteOutcome{
				ID:     res.Record.ID,
				Entity: res.Record.EntityType,
				State:  res.State.String(),
			}

			switch res.State {
			case engine.StateCommitted:
				if err := st.Commit(ctx, res.Record, res.Updates); err != nil {
					_ = formatter.Error(ErrCodeStoreFailed, err.Error(), nil)
					return WrapExitError(ExitCommandError, "commit failed", err)
				}
				outcome.Updates = len(res.Updates)
				summary.Committed++

			case engine.StateRejected:
				outcome.Violations = res.Report
				summary.Rejected++
			}
			summary.Outcomes = append(summary.Outcomes, outcome)
		}
	}

	return outputWriteSummary(formatter, summary)
}

func outputWriteSummary(formatter *OutputFormatter, summary WriteSummary) error {
	if formatter.Format == "json" {
		if err := formatter.Success(summary); err != nil {
			return err
		}
		if summary.Rejected > 0 {
			return NewExitError(ExitFailure, fmt.Sprintf("%d record(s) rejected", summary.Rejected))
		}
		return nil
	}

	for _, o := range summary.Outcomes {
		switch o.State {
		case "committed":
			fmt.Fprintf(formatter.Writer, "✓ %s/%s committed (%d derived update(s))\n", o.Entity, o.ID, o.Updates)
		case "rejected":
			fmt.Fprintf(formatter.Writer, "✗ %s/%s rejected\n", o.Entity, o.ID)
			for _, v := range o.Violations {
				fmt.Fprintf(formatter.Writer, "    %s [%s]: %s\n", v.Attribute, v.Kind, v.Message)
			}
		}
	}
	fmt.Fprintf(formatter.Writer, "%d committed, %d rejected\n", summary.Committed, summary.Rejected)

	if summary.Rejected > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d record(s) rejected", summary.Rejected))
	}
	return nil
}

// schemaLoadFailure reports a schema loading failure as a command error.
func schemaLoadFailure(formatter *OutputFormatter, err error) error {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		_ = formatter.Error(loadErr.Code, loadErr.Message, nil)
		return NewExitError(ExitCommandError, loadErr.Message)
	}
	_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
	return NewExitError(ExitCommandError, err.Error())
}
