package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/irmahq/irma/internal/schema"
)

// CompileResult is the compiled-schema payload.
type CompileResult struct {
	Entities []*schema.EntitySpec `json:"entities"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "compile <schemas-dir>",
		Short: "Compile schemas to their frozen spec form",
		Long: `Compile CUE entity definitions into the frozen spec form the engine
runs against and emit it as JSON. Fails fast on the first defect; use
validate to see every defect at once.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(rootOpts, args[0], outPath, cmd)
		},
	}

	cmd.Flags().StringVarP(&outPath, "output", "o", "", "write compiled specs to file instead of stdout")

	return cmd
}

func runCompile(opts *RootOptions, schemasDir, outPath string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	result, loadErrors := LoadSchemas(schemasDir, LoadModeFailFast)
	if len(loadErrors) > 0 {
		var loadErr *LoadError
		if errors.As(loadErrors[0], &loadErr) {
			_ = formatter.Error(loadErr.Code, loadErr.Message, nil)
			return NewExitError(ExitFailure, loadErr.Message)
		}
		_ = formatter.Error(ErrCodeGeneric, loadErrors[0].Error(), nil)
		return NewExitError(ExitFailure, loadErrors[0].Error())
	}

	formatter.VerboseLog("Compiled %d entities from %d file(s)", len(result.Specs), result.FileCount)

	payload, err := json.MarshalIndent(CompileResult{Entities: result.Specs}, "", "  ")
	if err != nil {
		return WrapExitError(ExitCommandError, "encoding compiled specs", err)
	}
	payload = append(payload, '\n')

	if outPath != "" {
		if err := os.WriteFile(outPath, payload, 0o644); err != nil {
			_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
			return WrapExitError(ExitCommandError, "writing output file", err)
		}
		if formatter.Format == "text" {
			fmt.Fprintf(formatter.Writer, "✓ Compiled %d entities to %s\n", len(result.Specs), outPath)
		}
		return nil
	}

	_, err = formatter.Writer.Write(payload)
	return err
}
