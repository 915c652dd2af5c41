package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/rangeplan/internal/compiler"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string // output file path
}

// CompilationStats holds summary statistics.
type CompilationStats struct {
	NamespaceCount int `json:"namespaces"`
	IndexCount     int `json:"indexes"`
	DocumentCount  int `json:"documents"`
	QueryCount     int `json:"queries"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <catalog>",
		Short: "Compile a CUE catalog to JSON",
		Long: `Compile a CUE catalog of namespaces, indexes, seed documents and named
queries to JSON.

The catalog may be a single .cue file or a directory; every .cue file under
a directory is unified into one catalog.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path")

	return cmd
}

func runCompile(opts *CompileOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	loadResult, loadErrors := LoadCatalog(path, LoadModeCollectAll)
	if loadResult == nil && len(loadErrors) > 0 {
		return outputLoadError(formatter, loadErrors[0])
	}

	formatter.VerboseLog("Read %d CUE file(s) from %s", len(loadResult.Files), path)
	for _, ns := range loadResult.Catalog.Namespaces {
		formatter.VerboseLog("Compiled namespace: %s", ns.Name)
	}
	for _, q := range loadResult.Catalog.Queries {
		formatter.VerboseLog("Compiled query: %s", q.Name)
	}

	if len(loadErrors) > 0 {
		return outputCompileErrors(formatter, loadErrors)
	}

	cat := loadResult.Catalog
	stats := calculateStats(cat)

	if opts.Output != "" {
		if err := writeCatalogToFile(cat, opts.Output); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeWriteFailed, "writing output file", err)
		}
	}

	return outputCompileSuccess(formatter, cat, stats, opts.Output)
}

// calculateStats computes summary statistics for a compiled catalog.
func calculateStats(cat *compiler.Catalog) CompilationStats {
	stats := CompilationStats{
		NamespaceCount: len(cat.Namespaces),
		QueryCount:     len(cat.Queries),
	}
	for _, ns := range cat.Namespaces {
		stats.IndexCount += len(ns.Indexes)
		stats.DocumentCount += len(ns.Documents)
	}
	return stats
}

func outputCompileSuccess(formatter *OutputFormatter, cat *compiler.Catalog, stats CompilationStats, outputFile string) error {
	if formatter.IsJSON() {
		return formatter.Success(cat)
	}

	fmt.Fprintf(formatter.Writer, "✓ Compiled %d namespace(s), %d query(ies)\n\n",
		stats.NamespaceCount, stats.QueryCount)

	if len(cat.Namespaces) > 0 {
		fmt.Fprintln(formatter.Writer, "Namespaces:")
		for _, ns := range cat.Namespaces {
			fmt.Fprintf(formatter.Writer, "  %s: %d index(es), %d document(s)\n",
				ns.Name, len(ns.Indexes), len(ns.Documents))
			for _, idx := range ns.Indexes {
				fmt.Fprintf(formatter.Writer, "    %s %s\n", idx.Name, idx.KeyPattern)
			}
		}
		fmt.Fprintln(formatter.Writer)
	}

	if len(cat.Queries) > 0 {
		fmt.Fprintln(formatter.Writer, "Queries:")
		for _, q := range cat.Queries {
			fmt.Fprintf(formatter.Writer, "  %s: %s\n", q.Name, q.Namespace)
		}
		fmt.Fprintln(formatter.Writer)
	}

	if outputFile != "" {
		fmt.Fprintf(formatter.Writer, "Wrote catalog to %s\n", outputFile)
	}

	return nil
}

// outputLoadError reports an error that stopped loading before compilation.
func outputLoadError(formatter *OutputFormatter, err error) error {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		_ = formatter.Error(loadErr.Code, loadErr.Message, nil)
		return WrapExitError(ExitCommandError, fmt.Sprintf("%s: %s", loadErr.Code, loadErr.Message), nil)
	}
	return formatter.Fail(ExitCommandError, ErrCodeGeneric, "loading catalog", err)
}

// outputCompileErrors outputs multiple compilation errors.
func outputCompileErrors(formatter *OutputFormatter, errs []error) error {
	if formatter.IsJSON() {
		cliErrors := make([]CLIError, len(errs))
		for i, err := range errs {
			code, message := parseCompileError(err)
			cliErrors[i] = CLIError{Code: code, Message: message}
		}

		if err := formatter.Encode(CLIResponse{
			Status: "error",
			Error:  &cliErrors[0],
			Data:   cliErrors,
		}); err != nil {
			return err
		}
		return NewExitError(ExitCommandError, fmt.Sprintf("compilation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Compilation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range errs {
		code, message := parseCompileError(err)
		var loadErr *LoadError
		if errors.As(err, &loadErr) && loadErr.Pos.IsValid() {
			fmt.Fprintf(formatter.Writer, "%s:%d:%d\n",
				loadErr.Pos.Filename(),
				loadErr.Pos.Line(),
				loadErr.Pos.Column())
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", code, message)
	}

	return NewExitError(ExitCommandError, fmt.Sprintf("compilation failed with %d error(s)", len(errs)))
}

// parseCompileError extracts error code and message from an error.
func parseCompileError(err error) (string, string) {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		return loadErr.Code, loadErr.Message
	}
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return MapFieldToErrorCode(compileErr.Field, compileErr.Message), compileErr.Message
	}
	return ErrCodeGeneric, err.Error()
}

// writeCatalogToFile writes the compiled catalog as indented JSON.
func writeCatalogToFile(cat *compiler.Catalog, filename string) error {
	data, err := json.MarshalIndent(cat, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling catalog: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}

	return nil
}
