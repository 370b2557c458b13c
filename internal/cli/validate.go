package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// ValidationResult holds schema validation results.
type ValidationResult struct {
	Valid    bool          `json:"valid"`
	Entities []string      `json:"entities,omitempty"`
	Errors   []SchemaError `json:"errors,omitempty"`
}

// SchemaError is one schema defect in CLI output.
type SchemaError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <schemas-dir>",
		Short: "Validate schema definitions",
		Long: `Validate CUE entity definitions without opening a database.

Compiles every entity and runs full registration checks: attribute
references, range bounds, composite key arity, transform names, derived
dependency cycles. All defects are reported in one pass.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, schemasDir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	result, loadErrors := LoadSchemas(schemasDir, LoadModeCollectAll)

	// Setup-level failures (missing directory, no files) are command
	// errors, not schema defects.
	if result == nil && len(loadErrors) > 0 {
		var loadErr *LoadError
		if errors.As(loadErrors[0], &loadErr) {
			_ = formatter.Error(loadErr.Code, loadErr.Message, nil)
			return NewExitError(ExitCommandError, loadErr.Message)
		}
		_ = formatter.Error(ErrCodeGeneric, loadErrors[0].Error(), nil)
		return NewExitError(ExitCommandError, loadErrors[0].Error())
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", result.FileCount, schemasDir)
	for _, spec := range result.Specs {
		formatter.VerboseLog("Validated entity: %s (%d attributes, %d derived)",
			spec.Name, len(spec.Attributes), len(spec.Derived))
	}

	if len(loadErrors) > 0 {
		return outputValidationErrors(formatter, loadErrors)
	}

	return outputValidateSuccess(formatter, result)
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, result *LoadResult) error {
	names := make([]string, 0, len(result.Specs))
	for _, spec := range result.Specs {
		names = append(names, spec.Name)
	}

	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true, Entities: names})
	}

	fmt.Fprintf(formatter.Writer, "✓ %d entities valid\n", len(names))
	return nil
}

// outputValidationErrors outputs every collected schema defect.
func outputValidationErrors(formatter *OutputFormatter, errs []error) error {
	schemaErrs := make([]SchemaError, 0, len(errs))
	for _, err := range errs {
		var loadErr *LoadError
		if errors.As(err, &loadErr) {
			se := SchemaError{Code: loadErr.Code, Message: loadErr.Message}
			if loadErr.Pos.IsValid() {
				se.Line = loadErr.Pos.Line()
			}
			schemaErrs = append(schemaErrs, se)
			continue
		}
		schemaErrs = append(schemaErrs, SchemaError{Code: ErrCodeGeneric, Message: err.Error()})
	}

	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: schemaErrs},
			Error: &CLIError{
				Code:    schemaErrs[0].Code,
				Message: schemaErrs[0].Message,
			},
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(schemaErrs)))
	}

	// Text format
	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, se := range schemaErrs {
		if se.Line > 0 {
			fmt.Fprintf(formatter.Writer, "line %d\n", se.Line)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", se.Code, se.Message)
	}

	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(schemaErrs)))
}
