package query

import (
	"errors"
	"fmt"
)

// Kind classifies query failures. Every stage fails fast and whole-query;
// callers receive exactly one kind plus a human-readable message.
type Kind string

const (
	KindFileNotFound              Kind = "FileNotFound"
	KindFileTooLarge              Kind = "FileTooLarge"
	KindDataLoadFailed            Kind = "DataLoadFailed"
	KindSyntaxError               Kind = "SyntaxError"
	KindUnsupportedStatementShape Kind = "UnsupportedStatementShape"
	KindUnsupportedCondition      Kind = "UnsupportedCondition"
	KindUnsupportedAggregate      Kind = "UnsupportedAggregate"
	KindTableNotFound             Kind = "TableNotFound"
	KindColumnNotFound            Kind = "ColumnNotFound"
	KindExecutionError            Kind = "ExecutionError"
)

// Error is the typed failure returned by every stage of the pipeline.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Errf constructs a typed query error.
func Errf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the failure kind from an error chain, defaulting to
// ExecutionError for unexpected faults.
func KindOf(err error) Kind {
	var qe *Error
	if errors.As(err, &qe) {
		return qe.Kind
	}
	return KindExecutionError
}
