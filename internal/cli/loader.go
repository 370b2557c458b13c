package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/irmahq/irma/internal/compiler"
	"github.com/irmahq/irma/internal/derive"
	"github.com/irmahq/irma/internal/schema"
)

// LoadMode controls how errors are handled during schema loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// LoadResult contains the results of loading schemas from a directory.
// The registry is populated and frozen only when loading produced no
// errors.
type LoadResult struct {
	Registry  *schema.Registry
	Specs     []*schema.EntitySpec
	CUEValue  cue.Value
	FileCount int
}

// LoadError represents an error that occurred during schema loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadSchemas loads CUE entity definitions from a directory, compiles
// them, and registers them into a fresh registry. If mode is
// LoadModeFailFast, returns on first error. If mode is
// LoadModeCollectAll, collects all compile and registration errors so a
// schema author sees every defect in one run.
func LoadSchemas(dir string, mode LoadMode) (*LoadResult, []error) {
	var errs []error

	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("schemas directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing schemas directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	cueFiles, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(cueFiles) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	ctx := cuecontext.New()
	cfg := &load.Config{Dir: dir}
	instances := load.Instances([]string{"."}, cfg)
	if len(instances) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}}
	}

	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}}
	}

	result := &LoadResult{
		Registry:  schema.NewRegistry(derive.TransformNames()),
		CUEValue:  value,
		FileCount: len(cueFiles),
	}

	entityVal := value.LookupPath(cue.ParsePath("entity"))
	if !entityVal.Exists() {
		return result, []error{&LoadError{Code: ErrCodeGeneric, Message: "no entity definitions found in schemas"}}
	}

	iter, iterErr := entityVal.Fields()
	if iterErr != nil {
		return result, []error{&LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating entities: %v", iterErr)}}
	}

	for iter.Next() {
		name := iter.Label()
		spec, compileErr := compiler.CompileEntity(name, iter.Value())
		if compileErr != nil {
			errs = append(errs, convertCompileError(compileErr, "entity."+name))
			if mode == LoadModeFailFast {
				return result, errs
			}
			continue
		}
		result.Specs = append(result.Specs, spec)

		// Registration validates the spec: all defects for one entity
		// arrive as a single schema.Errors aggregate.
		if regErr := result.Registry.Register(spec); regErr != nil {
			errs = append(errs, convertRegisterError(regErr)...)
			if mode == LoadModeFailFast {
				return result, errs
			}
		}
	}

	if len(result.Specs) == 0 && len(errs) == 0 {
		errs = append(errs, &LoadError{Code: ErrCodeGeneric, Message: "no entities found in schemas"})
	}

	if len(errs) == 0 {
		result.Registry.Freeze()
	}
	return result, errs
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// convertCompileError converts a compiler error to a LoadError with position info.
func convertCompileError(err error, context string) *LoadError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    ErrCodeCompileFailed,
			Message: compileErr.Message + " (" + compileErr.Field + ")",
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{
		Code:    ErrCodeGeneric,
		Message: fmt.Sprintf("%s: %v", context, err),
	}
}

// convertRegisterError flattens a schema.Errors aggregate into one
// LoadError per defect, keeping the registry's stable codes.
func convertRegisterError(err error) []error {
	var agg schema.Errors
	if errors.As(err, &agg) {
		out := make([]error, len(agg))
		for i, e := range agg {
			out[i] = &LoadError{Code: e.Code, Message: e.Error()}
		}
		return out
	}
	return []error{&LoadError{Code: ErrCodeGeneric, Message: err.Error()}}
}

// Error code constants - unified across all CLI commands.
// Schema registration defects keep their schema package codes (S1xx).
const (
	ErrCodeGeneric       = "E001" // Generic/unknown error
	ErrCodeScanError     = "E002" // Directory scan error
	ErrCodeNoFiles       = "E003" // No CUE files found
	ErrCodeLoadFailed    = "E004" // CUE load failed
	ErrCodeNotFound      = "E005" // Path not found
	ErrCodeBuildFailed   = "E006" // CUE build failed
	ErrCodeCompileFailed = "E007" // Entity compilation failed
	ErrCodeBadRecord     = "E008" // Record file malformed
	ErrCodeStoreFailed   = "E009" // Store open/read/write failed
)
