package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Process exit codes. A failing spec or scenario is 1; anything that stops
// the command from running at all is 2.
const (
	ExitSuccess      = 0
	ExitFailure      = 1
	ExitCommandError = 2
)

// ExitError carries the process exit code out of a command's RunE.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode maps err to a process exit code. Errors that are not an
// ExitError count as failures.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// CLIResponse is the envelope every --format=json command prints.
type CLIResponse struct {
	Status string    `json:"status"`
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError names the first problem of a failed command. Code is one of the
// E-codes from the compiler or a command-level ErrCode* value.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

const (
	statusOK    = "ok"
	statusError = "error"
)

// okResponse wraps a command result.
func okResponse(data any) CLIResponse {
	return CLIResponse{Status: statusOK, Data: data}
}

// errorResponse reports a failure while still carrying the partial result,
// so scripts can read per-scenario or per-epic detail next to the code.
func errorResponse(code, message string, data any) CLIResponse {
	return CLIResponse{Status: statusError, Data: data, Error: &CLIError{Code: code, Message: message}}
}

// OutputFormatter writes command results to Writer as text or as a
// CLIResponse. Verbose progress goes to ErrWriter so stdout stays parseable.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer
	Verbose   bool
}

func (f *OutputFormatter) IsJSON() bool { return f.Format == "json" }

// JSON prints resp indented. All JSON output goes through here.
func (f *OutputFormatter) JSON(resp CLIResponse) error {
	enc := json.NewEncoder(f.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

// Success prints data on its own line, or as an ok response in JSON mode.
func (f *OutputFormatter) Success(data any) error {
	if f.IsJSON() {
		return f.JSON(okResponse(data))
	}
	_, err := fmt.Fprintln(f.Writer, data)
	return err
}

// Error prints a coded failure. Details are shown in text mode only with
// --verbose.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.IsJSON() {
		resp := errorResponse(code, message, nil)
		resp.Error.Details = details
		return f.JSON(resp)
	}
	if _, err := fmt.Fprintf(f.Writer, "✗ %s: %s\n", code, message); err != nil {
		return err
	}
	if f.Verbose && details != nil {
		_, err := fmt.Fprintf(f.Writer, "  details: %v\n", details)
		return err
	}
	return nil
}

// VerboseLog prints a progress line when --verbose is set.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}
