package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/mutrec/internal/compiler"
	"github.com/roach88/mutrec/internal/diag"
	"github.com/roach88/mutrec/internal/ir"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Database string
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid       bool                       `json:"valid"`
	Columns     []ir.Column                `json:"columns,omitempty"`
	Loops       int                        `json:"loops,omitempty"`
	Fingerprint string                     `json:"fingerprint,omitempty"`
	Errors      []compiler.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <query.cue>",
		Short: "Check a query without evaluating it",
		Long: `Compile, resolve, and plan a query without evaluating it.

Reports document errors (E1xx codes) and name, type, and recursion
diagnostics such as DuplicateBindingName or SchemaMismatch.

Exit codes:
  0 - Query is valid
  1 - Query was rejected
  2 - Command error (file not found, database error, etc.)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database providing additional relations")

	return cmd
}

func runValidate(opts *ValidateOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	st, err := openStore(opts.Database)
	if err != nil {
		return outputValidateError(formatter, ErrCodeStore, fmt.Sprintf("failed to open database: %v", err))
	}
	if st != nil {
		defer st.Close()
	}

	lq, err := loadQuery(path, st, opts.logger())
	if err != nil {
		var loadErr *LoadError
		if errors.As(err, &loadErr) {
			return outputValidateError(formatter, loadErr.Code, loadErr.Message)
		}
		return outputValidationErrors(formatter, toValidationErrors(err))
	}

	formatter.VerboseLog("Planned %d loop(s), %d block(s) merged", len(lq.Prepared.Program.Loops), lq.Prepared.Plan.Merged)
	return outputValidateSuccess(formatter, ValidationResult{
		Valid:       true,
		Columns:     lq.Prepared.Type.Columns,
		Loops:       len(lq.Prepared.Program.Loops),
		Fingerprint: lq.Prepared.Fingerprint(),
	})
}

// toValidationErrors flattens a query failure into validation errors.
func toValidationErrors(err error) []compiler.ValidationError {
	var verrs compiler.ValidationErrors
	if errors.As(err, &verrs) {
		return verrs
	}
	var de *diag.Error
	if errors.As(err, &de) {
		field := "query"
		if de.Binding != "" {
			field = "binding." + de.Binding
		}
		return []compiler.ValidationError{{Field: field, Message: de.Message, Code: string(de.Code)}}
	}
	var cerr *compiler.CompileError
	if errors.As(err, &cerr) {
		return []compiler.ValidationError{{Field: cerr.Field, Message: cerr.Error(), Code: ErrCodeCompile}}
	}
	return []compiler.ValidationError{{Field: "query", Message: err.Error(), Code: ErrCodeGeneric}}
}

func outputValidateSuccess(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	names := make([]string, len(result.Columns))
	for i, c := range result.Columns {
		names[i] = fmt.Sprintf("%s %s", c.Name, c.Type)
	}
	fmt.Fprintln(formatter.Writer, "✓ Query valid")
	fmt.Fprintf(formatter.Writer, "  columns: (%s)\n", strings.Join(names, ", "))
	fmt.Fprintf(formatter.Writer, "  loops: %d\n", result.Loops)
	return nil
}

// outputValidateError reports a command-level failure (exit code 2).
func outputValidateError(formatter *OutputFormatter, code, message string) error {
	_ = formatter.Error(code, message, nil)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

func outputValidationErrors(formatter *OutputFormatter, errs []compiler.ValidationError) error {
	exitErr := NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s): %s", len(errs), errs[0].Code))

	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: errs},
			Error: &CLIError{
				Code:    errs[0].Code,
				Message: errs[0].Message,
			},
		}
		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}
		return exitErr
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, e := range errs {
		fmt.Fprintf(formatter.Writer, "%s\n", e.Field)
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", e.Code, e.Message)
	}
	return exitErr
}
