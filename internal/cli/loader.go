package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/token"

	"github.com/veritaslab/claimreg/internal/bundle"
	"github.com/veritaslab/claimreg/internal/ir"
)

// LoadMode controls how errors are handled during bundle loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// LoadResult contains the bundles compiled from a directory.
//
// Each .cue file declares exactly one module's claims, so files compile
// independently; a broken file never poisons its neighbours.
type LoadResult struct {
	Bundles   []ir.ClaimBundle
	FileCount int
}

// LoadError reports a failure to load or compile a bundle file.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error code constants shared across all CLI commands.
const (
	ErrCodeGeneric       = "E001" // generic/unknown error
	ErrCodeScanError     = "E002" // directory scan error
	ErrCodeNoFiles       = "E003" // no CUE files found
	ErrCodeCompileFailed = "E004" // CUE compile failed
	ErrCodeNotFound      = "E005" // path not found
	ErrCodeDuplicate     = "E006" // two files declare the same module
)

// LoadBundles compiles every .cue file under dir into a claim bundle.
// Files load in sorted path order so repeated runs report identically.
func LoadBundles(dir string, mode LoadMode) (*LoadResult, []error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("bundle directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing bundle directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	files, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(files) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	result := &LoadResult{FileCount: len(files)}
	seen := make(map[ir.ModuleID]string, len(files))
	cuectx := cuecontext.New()

	var errs []error
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			errs = append(errs, &LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("reading %s: %v", path, err)})
			if mode == LoadModeFailFast {
				return result, errs
			}
			continue
		}

		v := cuectx.CompileBytes(data, cue.Filename(path))
		b, err := bundle.Compile(v)
		if err != nil {
			errs = append(errs, convertCompileError(err, path))
			if mode == LoadModeFailFast {
				return result, errs
			}
			continue
		}

		if prev, ok := seen[b.ModuleID]; ok {
			errs = append(errs, &LoadError{
				Code:    ErrCodeDuplicate,
				Message: fmt.Sprintf("module %q declared in both %s and %s", b.ModuleID, prev, path),
			})
			if mode == LoadModeFailFast {
				return result, errs
			}
			continue
		}
		seen[b.ModuleID] = path
		result.Bundles = append(result.Bundles, *b)
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
	sort.Strings(files)
	return files, err
}

// convertCompileError converts a bundle compile error to a LoadError
// carrying the CUE source position when one is available.
func convertCompileError(err error, path string) *LoadError {
	var compileErr *bundle.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    ErrCodeCompileFailed,
			Message: fmt.Sprintf("%s: %s", compileErr.Field, compileErr.Message),
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{
		Code:    ErrCodeCompileFailed,
		Message: fmt.Sprintf("%s: %v", path, err),
	}
}
