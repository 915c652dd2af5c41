package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/rangeplan/internal/compiler"
)

// LoadMode controls how errors are handled during catalog loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// LoadResult contains a compiled catalog and where it came from.
type LoadResult struct {
	Catalog  *compiler.Catalog
	CUEValue cue.Value // The unified CUE value of every file
	Files    []string  // CUE files read, in lexical order
}

// LoadError represents an error that occurred during catalog loading.
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

// LoadCatalog reads a CUE catalog from a file or from every .cue file
// under a directory. The files are unified into one value, so a namespace
// may be split across files.
// If mode is LoadModeFailFast, returns on first compile error.
// If mode is LoadModeCollectAll, collects all errors.
func LoadCatalog(path string, mode LoadMode) (*LoadResult, []error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("catalog path not found: %s", path)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing catalog path: %v", err)}}
	}

	files := []string{path}
	if info.IsDir() {
		files, err = FindCUEFiles(path)
		if err != nil {
			return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
		}
		if len(files) == 0 {
			return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", path)}}
		}
	}

	ctx := cuecontext.New()
	value := ctx.CompileString("{}")
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("reading %s: %v", f, err)}}
		}
		v := ctx.CompileBytes(data, cue.Filename(f))
		if err := v.Err(); err != nil {
			return nil, []error{cueLoadError(ErrCodeLoadFailed, err)}
		}
		value = value.Unify(v)
	}
	if err := value.Err(); err != nil {
		return nil, []error{cueLoadError(ErrCodeBuildFailed, err)}
	}

	cat, compileErrs := compiler.CompileCatalog(value)
	result := &LoadResult{Catalog: cat, CUEValue: value, Files: files}

	var errs []error
	for _, err := range compileErrs {
		errs = append(errs, convertCompileError(err))
		if mode == LoadModeFailFast {
			return result, errs
		}
	}

	if len(errs) == 0 && len(cat.Namespaces) == 0 && len(cat.Queries) == 0 {
		errs = append(errs, &LoadError{Code: ErrCodeGeneric, Message: "no namespaces or queries found in catalog"})
	}

	return result, errs
}

// FindCUEFiles walks the directory and returns all .cue file paths, sorted.
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
	slices.Sort(files)
	return files, err
}

// cueLoadError keeps the first position CUE reports.
func cueLoadError(code string, err error) *LoadError {
	le := &LoadError{Code: code, Message: err.Error()}
	var cerr cueerrors.Error
	if errors.As(err, &cerr) {
		le.Message = cerr.Error()
		if pos := cueerrors.Positions(cerr); len(pos) > 0 {
			le.Pos = pos[0]
		}
	}
	return le
}

// convertCompileError converts a compiler error to a LoadError with position info.
func convertCompileError(err error) *LoadError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    MapFieldToErrorCode(compileErr.Field, compileErr.Message),
			Message: fmt.Sprintf("%s: %s", compileErr.Field, compileErr.Message),
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{Code: ErrCodeGeneric, Message: err.Error()}
}

// Error code constants - unified across all CLI commands. Catalog content
// errors reuse the compiler's validation codes.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE file does not parse
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE files do not unify
	ErrCodeWriteFailed = "E007" // File write error
	ErrCodeBadInput    = "E008" // Malformed flag or argument
	ErrCodeStore       = "E009" // Database error
	ErrCodeRun         = "E010" // Query execution error
)

// MapFieldToErrorCode maps a compiler error field to an error code.
func MapFieldToErrorCode(field, message string) string {
	switch {
	case strings.Contains(message, "float"):
		return compiler.ErrUnsupportedIRType
	case field == "namespace":
		return compiler.ErrInvalidNamespace
	case strings.HasPrefix(field, "index."):
		return compiler.ErrEmptyKeyPattern
	case strings.HasPrefix(field, "documents"):
		return compiler.ErrInvalidDocument
	case field == "filter":
		return compiler.ErrInvalidFilter
	case field == "sort" || strings.HasPrefix(field, "sort."):
		return compiler.ErrInvalidSort
	default:
		return ErrCodeGeneric
	}
}
