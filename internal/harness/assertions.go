package harness

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/roach88/mutrec/internal/compiler"
	"github.com/roach88/mutrec/internal/diag"
	"github.com/roach88/mutrec/internal/engine"
	"github.com/roach88/mutrec/internal/ir"
	"github.com/roach88/mutrec/internal/zset"
)

// AssertionError describes one failed expectation.
type AssertionError struct {
	Field    string // Scenario field the expectation came from
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	return fmt.Sprintf("%s: expected %s, got %s", e.Field, e.Expected, e.Actual)
}

// ErrorCodes returns every code carried by err: the diagnostic code of a
// resolution, planning or evaluation error, or the codes of document
// validation errors.
func ErrorCodes(err error) []string {
	var codes []string
	if code := diag.CodeOf(err); code != "" {
		codes = append(codes, string(code))
	}
	var verrs compiler.ValidationErrors
	if errors.As(err, &verrs) {
		for _, v := range verrs {
			codes = append(codes, v.Code)
		}
	}
	return codes
}

// checkError compares an evaluation error against the expectation.
func checkError(field string, want Expect, err error) []string {
	var failures []string
	if !want.failure() {
		if err != nil {
			failures = append(failures, (&AssertionError{Field: field, Expected: "success", Actual: "error: " + err.Error()}).Error())
		}
		return failures
	}
	if err == nil {
		return []string{(&AssertionError{Field: field, Expected: "an error", Actual: "success"}).Error()}
	}
	if want.ErrorCode != "" {
		codes := ErrorCodes(err)
		if !slices.Contains(codes, want.ErrorCode) {
			actual := "no code"
			if len(codes) > 0 {
				actual = strings.Join(codes, ", ")
			}
			failures = append(failures, (&AssertionError{
				Field:    field + ".error_code",
				Expected: want.ErrorCode,
				Actual:   fmt.Sprintf("%s (%v)", actual, err),
			}).Error())
		}
	}
	if want.ErrorContains != "" && !strings.Contains(err.Error(), want.ErrorContains) {
		failures = append(failures, (&AssertionError{
			Field:    field + ".error_contains",
			Expected: fmt.Sprintf("message containing %q", want.ErrorContains),
			Actual:   fmt.Sprintf("%q", err.Error()),
		}).Error())
	}
	return failures
}

// checkRows compares a result with the expected multiset. The returned
// error reports expected rows that cannot be converted to values.
func checkRows(field string, want [][]any, got zset.Batch) ([]string, error) {
	if want == nil {
		return nil, nil
	}
	expected, err := toBatch(want)
	if err != nil {
		return nil, fmt.Errorf("%s.rows: %w", field, err)
	}
	diff := zset.Consolidate(zset.Concat(expected, zset.Negate(got)))
	if len(diff) == 0 {
		return nil, nil
	}

	var missing, unexpected []string
	for _, u := range zset.Sorted(diff) {
		switch {
		case u.Diff > 0:
			missing = append(missing, formatUpdate(u.Row, u.Diff))
		case u.Diff < 0:
			unexpected = append(unexpected, formatUpdate(u.Row, -u.Diff))
		}
	}
	var actual []string
	if len(missing) > 0 {
		actual = append(actual, "missing "+strings.Join(missing, ", "))
	}
	if len(unexpected) > 0 {
		actual = append(actual, "unexpected "+strings.Join(unexpected, ", "))
	}
	return []string{(&AssertionError{
		Field:    field + ".rows",
		Expected: fmt.Sprintf("%d row(s)", zset.Count(expected)),
		Actual:   strings.Join(actual, "; "),
	}).Error()}, nil
}

func formatUpdate(r ir.Row, n int64) string {
	if n == 1 {
		return r.String()
	}
	return fmt.Sprintf("%s x%d", r, n)
}

// checkStats compares round and reuse counts.
func checkStats(field string, want Expect, stats engine.Stats) []string {
	var failures []string
	if want.RoundsAtMost > 0 && stats.Rounds > want.RoundsAtMost {
		failures = append(failures, (&AssertionError{
			Field:    field + ".rounds_at_most",
			Expected: fmt.Sprintf("at most %d rounds", want.RoundsAtMost),
			Actual:   fmt.Sprintf("%d rounds", stats.Rounds),
		}).Error())
	}
	if want.ReusedLoops != nil && stats.Reused != *want.ReusedLoops {
		failures = append(failures, (&AssertionError{
			Field:    field + ".reused_loops",
			Expected: fmt.Sprintf("%d reused loop(s)", *want.ReusedLoops),
			Actual:   fmt.Sprintf("%d", stats.Reused),
		}).Error())
	}
	return failures
}

// checkExplain compares explain output with a golden file. The returned
// error reports a golden file that cannot be read.
func checkExplain(field, path, explain string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s.explain_golden: %w", field, err)
	}
	if string(data) == explain {
		return nil, nil
	}
	return []string{(&AssertionError{
		Field:    field + ".explain_golden",
		Expected: fmt.Sprintf("explain output matching %s", path),
		Actual:   "\n" + explain,
	}).Error()}, nil
}

// toBatch converts YAML rows to a batch holding each row once.
func toBatch(rows [][]any) (zset.Batch, error) {
	out := make([]ir.Row, len(rows))
	for i, vals := range rows {
		row := make(ir.Row, len(vals))
		for j, x := range vals {
			v, err := ir.FromNative(x)
			if err != nil {
				return nil, fmt.Errorf("row %d column %d: %w", i, j, err)
			}
			row[j] = v
		}
		out[i] = row
	}
	return zset.FromRows(out...), nil
}
