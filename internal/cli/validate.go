package cli

import (
	"errors"
	"fmt"
	"io"

	"cuelang.org/go/cue/token"
	"github.com/spf13/cobra"

	"github.com/roach88/epicflow/internal/compiler"
	"github.com/roach88/epicflow/pkg/epic"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid     bool                       `json:"valid"`
	Epics     int                        `json:"epics"`
	Listeners int                        `json:"listeners"`
	Errors    []compiler.ValidationError `json:"errors,omitempty"`
	Warnings  []compiler.CycleWarning    `json:"warnings,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <specs-dir>",
		Short: "Validate epic specs",
		Long: `Compile every CUE spec under a directory and register the result
into a scratch store.

Reports compile errors with positions, cross-file checks (duplicate
names, scope updates on epics without scope, param sources) and
registration errors raised by the store. Potential cascade cycles
between epics are reported as warnings and do not fail validation.

Exit codes:
  0 - Specs valid
  1 - Validation failed
  2 - Command error (directory missing, no CUE files)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, specsDir string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	loadResult, loadErrors := LoadSpecs(specsDir, LoadModeCollectAll)
	if loadResult == nil && len(loadErrors) > 0 {
		var loadErr *LoadError
		if errors.As(loadErrors[0], &loadErr) {
			return outputValidateError(formatter, loadErr.Code, loadErr.Message, nil)
		}
		return outputValidateError(formatter, ErrCodeGeneric, loadErrors[0].Error(), nil)
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, specsDir)

	doc := loadResult.Document
	result := ValidationResult{
		Epics:     len(doc.Epics),
		Listeners: len(doc.Listeners),
	}

	for _, err := range loadErrors {
		result.Errors = append(result.Errors, loadErrorToValidation(err))
	}
	if len(result.Errors) == 0 {
		result.Errors = checkDocument(doc, opts, cmd.ErrOrStderr(), formatter)
	}
	result.Warnings = compiler.AnalyzeCycles(doc)

	if len(result.Errors) > 0 {
		return outputValidationErrors(formatter, result)
	}
	result.Valid = true
	return outputValidateSuccess(formatter, result)
}

// checkDocument runs the static checks and, if they pass, registers the
// document into a scratch store.
func checkDocument(doc *compiler.Document, opts *RootOptions, logw io.Writer, formatter *OutputFormatter) []compiler.ValidationError {
	if errs := compiler.Validate(doc); len(errs) > 0 {
		return errs
	}

	storeOpts := []epic.Option{epic.WithLogger(opts.Logger(logw))}
	if opts.Env.Patterns {
		storeOpts = append(storeOpts, epic.WithPatterns())
	}
	st := epic.NewStore(storeOpts...)
	for _, e := range doc.Epics {
		formatter.VerboseLog("Validating epic: %s (%d reducer(s))", e.Name, len(e.Reducers))
	}
	if err := doc.Install(st); err != nil {
		return []compiler.ValidationError{{
			Field:   "install",
			Message: err.Error(),
			Code:    ErrCodeRegistration,
		}}
	}
	return nil
}

func loadErrorToValidation(err error) compiler.ValidationError {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		return compiler.ValidationError{
			Field:   fieldFromPos(loadErr.Pos),
			Message: loadErr.Message,
			Code:    loadErr.Code,
			Line:    getLineFromCuePos(loadErr.Pos),
		}
	}
	return compiler.ValidationError{Field: "load", Message: err.Error(), Code: ErrCodeGeneric}
}

func fieldFromPos(pos token.Pos) string {
	if pos.IsValid() && pos.Filename() != "" {
		return pos.Filename()
	}
	return "load"
}

// getLineFromCuePos extracts line number from a token.Pos.
func getLineFromCuePos(pos token.Pos) int {
	if pos.IsValid() {
		return pos.Line()
	}
	return 0
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.IsJSON() {
		return formatter.Success(result)
	}

	writeWarnings(formatter.Writer, result.Warnings)
	fmt.Fprintf(formatter.Writer, "✓ All specs valid (%d epic(s), %d listener(s))\n", result.Epics, result.Listeners)
	return nil
}

// outputValidateError outputs a single validation error.
func outputValidateError(formatter *OutputFormatter, code, message string, details any) error {
	_ = formatter.Error(code, message, details)
	// Load errors are command-level errors (exit code 2)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, result ValidationResult) error {
	errs := result.Errors
	if formatter.IsJSON() {
		if err := formatter.JSON(errorResponse(errs[0].Code, errs[0].Message, result)); err != nil {
			return err
		}

		// Validation failures = exit code 1 (test/validation failure)
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range errs {
		if err.Line > 0 {
			fmt.Fprintf(formatter.Writer, "%s line %d\n", err.Field, err.Line)
		} else {
			fmt.Fprintln(formatter.Writer, err.Field)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", err.Code, err.Message)
	}
	writeWarnings(formatter.Writer, result.Warnings)

	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}

func writeWarnings(w io.Writer, warnings []compiler.CycleWarning) {
	for _, warn := range warnings {
		fmt.Fprintf(w, "! %s\n", warn.Message)
	}
}
