package executor

import (
	"errors"

	"github.com/ManuelReschke/financebee/internal/pkg/subscription"
)

// Code is the machine-readable prefix of every failure reason.
type Code string

const (
	CodeValidation Code = "validation_error"
	CodeTransient  Code = "transient_error"
	CodePermanent  Code = "permanent_error"
	CodeDeadline   Code = "deadline_exceeded"
)

// ReasonDeadlineBeforeCommit is the detail reported when the lease budget runs out.
const ReasonDeadlineBeforeCommit = "deadline exceeded before commit"

// Failure is a classified processing error.
type Failure struct {
	Code   Code
	Detail string
	Err    error
}

func (f *Failure) Error() string {
	return string(f.Code) + ": " + f.Detail
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Retryable reports whether the queue should hand the task out again.
// A deadline abort never reached the store, so a fresh lease may finish it.
func (f *Failure) Retryable() bool {
	return f.Code == CodeTransient || f.Code == CodeDeadline
}

func validationFailure(detail string) *Failure {
	return &Failure{Code: CodeValidation, Detail: detail}
}

func deadlineFailure() *Failure {
	return &Failure{Code: CodeDeadline, Detail: ReasonDeadlineBeforeCommit}
}

func permanentFailure(err error) *Failure {
	return &Failure{Code: CodePermanent, Detail: err.Error(), Err: err}
}

func transientFailure(err error) *Failure {
	return &Failure{Code: CodeTransient, Detail: err.Error(), Err: err}
}

// classify maps an error from a store call onto the failure taxonomy.
func classify(err error) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	if errors.Is(err, subscription.ErrNotFound) {
		return permanentFailure(err)
	}
	// Timeouts, in-flight claims and connectivity errors heal on retry.
	return transientFailure(err)
}
