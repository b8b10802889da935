package harness

import (
	"github.com/roach88/mutrec/internal/engine"
	"github.com/roach88/mutrec/internal/zset"
)

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	Pass bool `json:"pass"`

	// Errors contains assertion failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Rows is the consolidated result of the initial evaluation.
	Rows zset.Batch `json:"-"`

	// Explain is the explain output of the planned query. Empty if the
	// query failed before planning.
	Explain     string `json:"explain,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`

	// Err is the error the query failed with, expected or not.
	Err error `json:"-"`

	Stats engine.Stats `json:"-"`
	Steps []StepResult `json:"-"`
}

// StepResult is the outcome of one update step.
type StepResult struct {
	Epoch   int64
	Rows    zset.Batch
	Changes zset.Batch
	Stats   engine.Stats
	Err     error
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// addErrors adds every message in errs.
func (r *Result) addErrors(errs []string) {
	for _, e := range errs {
		r.AddError(e)
	}
}
