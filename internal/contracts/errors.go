package contracts

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an engine error for retry policy and telemetry.
type ErrorKind string

const (
	KindTemplateParse    ErrorKind = "template-parse"
	KindTemplateRuntime  ErrorKind = "template-runtime"
	KindTemplateTimeout  ErrorKind = "template-timeout"
	KindSchemaValidation ErrorKind = "schema-validation"
	KindSchemaViolation  ErrorKind = "schema-violation"
	KindRemoteTransport  ErrorKind = "remote-transport"
	KindRemoteProtocol   ErrorKind = "remote-protocol"
	KindCatalogLookup    ErrorKind = "catalog-lookup"
	KindGraphValidation  ErrorKind = "graph-validation"
	KindPersistence      ErrorKind = "persistence"
	KindCancelled        ErrorKind = "cancelled"
)

// EngineError carries the kind through component boundaries so the
// conductor can classify failures without string matching.
type EngineError struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *EngineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *EngineError) Unwrap() error {
	return e.Cause
}

// NewError builds an EngineError.
func NewError(kind ErrorKind, message string, cause error) *EngineError {
	return &EngineError{Kind: kind, Message: message, Cause: cause}
}

// KindOf returns the classification of err, or empty when err is not an
// EngineError.
func KindOf(err error) ErrorKind {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return ""
}

// Retriable reports whether the kind maps to RetriableFailure per the
// engine's error taxonomy. Transport problems and template/sandbox
// failures are retried; protocol and schema-violation failures are not.
func (k ErrorKind) Retriable() bool {
	switch k {
	case KindTemplateParse, KindTemplateRuntime, KindTemplateTimeout,
		KindSchemaValidation, KindRemoteTransport:
		return true
	default:
		return false
	}
}
