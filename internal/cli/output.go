package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/mutrec/internal/compiler"
	"github.com/roach88/mutrec/internal/diag"
	"github.com/roach88/mutrec/internal/zset"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Query rejected, evaluation failed, or scenarios failed
	ExitCommandError = 2 // Command error (invalid paths, database not found, etc.)
)

// Error codes for failures that carry no diagnostic code of their own.
const (
	ErrCodeGeneric  = "E000"
	ErrCodeCompile  = "E001"
	ErrCodeNotFound = "E005"
	ErrCodeStore    = "E006"
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
	RunID  string    `json:"run_id,omitempty"`
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`              // diagnostic code or "E001", "E005", ...
	Message string `json:"message"`           // human-readable message
	Details any    `json:"details,omitempty"` // additional context
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// VerboseLog outputs a message only if verbose mode is enabled.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

// Fail reports err in the configured format and returns the ExitError the
// command should return.
func (f *OutputFormatter) Fail(exitCode int, message string, err error) error {
	code, details := describeError(err)
	if outErr := f.Error(code, fmt.Sprintf("%s: %v", message, err), details); outErr != nil {
		return outErr
	}
	return WrapExitError(exitCode, fmt.Sprintf("%s [%s]", message, code), err)
}

// describeError picks the code reported for err and any structured details.
func describeError(err error) (string, any) {
	if code := diag.CodeOf(err); code != "" {
		var de *diag.Error
		if errors.As(err, &de) && de.Binding != "" {
			return string(code), map[string]string{"binding": de.Binding}
		}
		return string(code), nil
	}
	var verrs compiler.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return verrs[0].Code, verrs
	}
	var cerr *compiler.CompileError
	if errors.As(err, &cerr) {
		return ErrCodeCompile, map[string]string{"field": cerr.Field}
	}
	return ErrCodeGeneric, nil
}

// rowsOut converts a batch to plain values for JSON output. Rows with a
// multiplicity above one are repeated.
func rowsOut(b zset.Batch) [][]any {
	out := make([][]any, 0, len(b))
	for _, u := range zset.Sorted(b) {
		for range max(u.Diff, 1) {
			out = append(out, u.Row.Natives())
		}
	}
	return out
}

// changesOut converts a batch of changes for JSON output.
func changesOut(b zset.Batch) []ChangeOut {
	out := make([]ChangeOut, 0, len(b))
	for _, u := range zset.Sorted(b) {
		out = append(out, ChangeOut{Row: u.Row.Natives(), Diff: u.Diff})
	}
	return out
}

// ChangeOut is one update in JSON output.
type ChangeOut struct {
	Row  []any `json:"row"`
	Diff int64 `json:"diff"`
}

// writeRows prints a batch as text, one row per line.
func writeRows(w io.Writer, b zset.Batch) {
	for _, u := range zset.Sorted(b) {
		if u.Diff == 1 {
			fmt.Fprintln(w, u.Row)
			continue
		}
		fmt.Fprintf(w, "%s x%d\n", u.Row, u.Diff)
	}
}

// writeChanges prints a batch of changes as text.
func writeChanges(w io.Writer, b zset.Batch) {
	for _, u := range zset.Sorted(b) {
		sign := "+"
		if u.Diff < 0 {
			sign = "-"
		}
		n := u.Diff
		if n < 0 {
			n = -n
		}
		if n == 1 {
			fmt.Fprintf(w, "%s %s\n", sign, u.Row)
			continue
		}
		fmt.Fprintf(w, "%s %s x%d\n", sign, u.Row, n)
	}
}
