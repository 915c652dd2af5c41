package cli

import (
	"errors"
	"fmt"

	"cuelang.org/go/cue/token"
	"github.com/spf13/cobra"

	"github.com/roach88/rangeplan/internal/compiler"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool                       `json:"valid"`
	Errors []compiler.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <catalog>",
		Short: "Validate a catalog without writing output",
		Long: `Validate a CUE catalog without writing output.

Checks that namespaces are named "db.collection", that index keys are
well formed and unique, that seed document ids are strings or ints, and
that every named query parses and refers to a declared namespace and index.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	validationErrors, err := ValidateCatalogPath(path, formatter)
	if err != nil {
		return outputLoadError(formatter, err)
	}

	if len(validationErrors) > 0 {
		return outputValidationErrors(formatter, validationErrors)
	}

	return outputValidateSuccess(formatter)
}

// ValidateCatalogPath loads the catalog at path and returns every
// validation problem. Compile errors are reported as validation errors; only
// failures that stop loading altogether are returned as err.
func ValidateCatalogPath(path string, formatter *OutputFormatter) ([]compiler.ValidationError, error) {
	loadResult, loadErrors := LoadCatalog(path, LoadModeCollectAll)
	if loadResult == nil && len(loadErrors) > 0 {
		return nil, loadErrors[0]
	}

	if formatter != nil {
		formatter.VerboseLog("Read %d CUE file(s) from %s", len(loadResult.Files), path)
	}

	var errs []compiler.ValidationError
	for _, err := range loadErrors {
		var loadErr *LoadError
		if errors.As(err, &loadErr) {
			errs = append(errs, compiler.ValidationError{
				Field:   "load",
				Message: loadErr.Message,
				Code:    loadErr.Code,
				Line:    lineOf(loadErr.Pos),
			})
		}
	}

	if loadResult.Catalog != nil {
		if formatter != nil {
			for _, ns := range loadResult.Catalog.Namespaces {
				formatter.VerboseLog("Validating namespace: %s", ns.Name)
			}
		}
		errs = append(errs, compiler.Validate(loadResult.Catalog)...)
	}

	return errs, nil
}

func lineOf(pos token.Pos) int {
	if pos.IsValid() {
		return pos.Line()
	}
	return 0
}

func outputValidateSuccess(formatter *OutputFormatter) error {
	if formatter.IsJSON() {
		return formatter.Success(ValidationResult{Valid: true})
	}

	fmt.Fprintln(formatter.Writer, "✓ Catalog valid")
	return nil
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, errs []compiler.ValidationError) error {
	if formatter.IsJSON() {
		if err := formatter.Encode(CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: errs},
			Error: &CLIError{
				Code:    errs[0].Code,
				Message: errs[0].Message,
			},
		}); err != nil {
			return err
		}

		// Validation failures = exit code 1
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range errs {
		if err.Line > 0 {
			fmt.Fprintf(formatter.Writer, "line %d\n", err.Line)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s: %s\n\n", err.Code, err.Field, err.Message)
	}

	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
