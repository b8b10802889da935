package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mutrec/internal/compiler"
	"github.com/roach88/mutrec/internal/diag"
	"github.com/roach88/mutrec/internal/ir"
	"github.com/roach88/mutrec/internal/zset"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, formatter.Success(map[string]string{"result": "success"}))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.NotNil(t, resp.Data)
	assert.Nil(t, resp.Error)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, formatter.Error("SchemaMismatch", "binding type mismatch", map[string]string{"binding": "t"}))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "SchemaMismatch", resp.Error.Code)
	assert.Equal(t, "binding type mismatch", resp.Error.Message)
	assert.Equal(t, map[string]any{"binding": "t"}, resp.Error.Details)
}

func TestOutputFormatter_TextError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Error("E005", "query file not found", "details"))
	assert.Equal(t, "Error [E005]: query file not found\n", buf.String())

	buf.Reset()
	formatter.Verbose = true
	require.NoError(t, formatter.Error("E005", "query file not found", "details"))
	assert.Contains(t, buf.String(), "Details: details")
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: out, ErrWriter: errOut}

	formatter.VerboseLog("hidden %d", 1)
	assert.Empty(t, errOut.String())

	formatter.Verbose = true
	formatter.VerboseLog("shown %d", 2)
	assert.Empty(t, out.String())
	assert.Equal(t, "shown 2\n", errOut.String())
}

func TestOutputFormatter_GetErrWriter(t *testing.T) {
	out := &bytes.Buffer{}
	formatter := &OutputFormatter{Writer: out}
	assert.Same(t, out, formatter.GetErrWriter())
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad path")))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
	wrapped := fmt.Errorf("outer: %w", WrapExitError(ExitSuccess, "fine", nil))
	assert.Equal(t, ExitSuccess, GetExitCode(wrapped))
}

func TestExitErrorMessage(t *testing.T) {
	cause := errors.New("disk full")
	err := WrapExitError(ExitCommandError, "failed to open database", cause)
	assert.Equal(t, "failed to open database: disk full", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "no cause", NewExitError(ExitFailure, "no cause").Error())
}

func TestDescribeError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		code    string
		details any
	}{
		{
			name: "diagnostic",
			err:  diag.Errorf(diag.AmbiguousColumn, "column reference %q is ambiguous", "x"),
			code: "AmbiguousColumn",
		},
		{
			name:    "diagnostic with binding",
			err:     fmt.Errorf("resolve: %w", diag.Errorf(diag.SchemaMismatch, "mismatch").InBinding("t")),
			code:    "SchemaMismatch",
			details: map[string]string{"binding": "t"},
		},
		{
			name:    "validation",
			err:     compiler.ValidationErrors{{Field: "query", Message: "no bindings", Code: compiler.ErrEmptyBindings}},
			code:    "E110",
			details: compiler.ValidationErrors{{Field: "query", Message: "no bindings", Code: compiler.ErrEmptyBindings}},
		},
		{
			name:    "compile",
			err:     &compiler.CompileError{Field: "query.select", Message: "expected a list"},
			code:    ErrCodeCompile,
			details: map[string]string{"field": "query.select"},
		},
		{
			name: "other",
			err:  errors.New("boom"),
			code: ErrCodeGeneric,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, details := describeError(tt.err)
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.details, details)
		})
	}
}

func TestFailReportsAndWraps(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}
	cause := diag.Errorf(diag.EvaluationFailure, "recursion limit 5 reached without convergence")

	err := formatter.Fail(ExitFailure, "evaluation failed", cause)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, diag.EvaluationFailure, diag.CodeOf(err))
	assert.Contains(t, err.Error(), "[EvaluationFailure]")
	assert.Contains(t, buf.String(), "Error [EvaluationFailure]: evaluation failed:")
}

func TestWriteRowsAndChanges(t *testing.T) {
	b := zset.Batch{
		{Row: ir.Row{ir.Int(2)}, Diff: 3},
		{Row: ir.Row{ir.Int(1)}, Diff: 1},
	}
	buf := &bytes.Buffer{}
	writeRows(buf, b)
	assert.Equal(t, "(1)\n(2) x3\n", buf.String())
	assert.Equal(t, [][]any{{int64(1)}, {int64(2)}, {int64(2)}, {int64(2)}}, rowsOut(b))

	changes := zset.Batch{
		{Row: ir.Row{ir.Int(6)}, Diff: 1},
		{Row: ir.Row{ir.Int(3)}, Diff: -2},
	}
	buf.Reset()
	writeChanges(buf, changes)
	assert.Equal(t, "- (3) x2\n+ (6)\n", buf.String())
	assert.Equal(t, []ChangeOut{
		{Row: []any{int64(3)}, Diff: -2},
		{Row: []any{int64(6)}, Diff: 1},
	}, changesOut(changes))
}
