package dispatch

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for matching with errors.Is.
var (
	// ErrNotFound is returned when an operation names an operator with no
	// entry at all.
	ErrNotFound = errors.New("operator not found")

	// ErrMissingSchema is returned when an operator entry exists (kernels
	// were registered) but no schema was declared for it.
	ErrMissingSchema = errors.New("operator has no schema")

	// ErrSchemaMismatch is returned when a repeated schema registration
	// carries a different signature than the one already stored.
	ErrSchemaMismatch = errors.New("schema mismatch")

	// ErrAliasAnalysisConflict is returned when repeated schema registrations
	// disagree on a concrete alias-analysis classification.
	ErrAliasAnalysisConflict = errors.New("alias analysis conflict")

	// ErrDuplicateFallback is returned when a fallback kernel is already
	// registered for a dispatch key.
	ErrDuplicateFallback = errors.New("duplicate fallback kernel")

	// ErrDispatchResolution is returned when no kernel resolves for a call.
	ErrDispatchResolution = errors.New("no kernel available")
)

// NotFoundError reports an unknown operator name.
type NotFoundError struct {
	Name OperatorName
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("could not find schema for %s", e.Name)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// MissingSchemaError reports an operator that has implementations but no
// declared schema. Distinguished from NotFoundError so callers can tell
// "unknown operator" from "known but undeclared".
type MissingSchemaError struct {
	Name OperatorName
}

func (e *MissingSchemaError) Error() string {
	return fmt.Sprintf("could not find schema for %s but found an implementation; did you forget to register the schema?", e.Name)
}

func (e *MissingSchemaError) Is(target error) bool {
	return target == ErrMissingSchema
}

// SchemaMismatchError reports a repeated schema registration whose signature
// differs from the stored one.
type SchemaMismatchError struct {
	Name     OperatorName
	Stored   string
	Incoming string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("tried to register multiple operators named %s with different schemas: %s vs %s",
		e.Name, e.Incoming, e.Stored)
}

func (e *SchemaMismatchError) Is(target error) bool {
	return target == ErrSchemaMismatch
}

// AliasAnalysisConflictError reports incompatible alias-analysis
// classifications across repeated schema registrations.
type AliasAnalysisConflictError struct {
	Name     OperatorName
	Stored   AliasAnalysisKind
	Incoming AliasAnalysisKind
}

func (e *AliasAnalysisConflictError) Error() string {
	return fmt.Sprintf("tried to define the schema for %s with different alias analysis kinds: %s vs %s",
		e.Name, e.Incoming, e.Stored)
}

func (e *AliasAnalysisConflictError) Is(target error) bool {
	return target == ErrAliasAnalysisConflict
}

// DuplicateFallbackError reports a second fallback registration for the same
// dispatch key.
type DuplicateFallbackError struct {
	Key DispatchKey
}

func (e *DuplicateFallbackError) Error() string {
	return fmt.Sprintf("tried to register a backend fallback kernel for %s but there was already one registered", e.Key)
}

func (e *DuplicateFallbackError) Is(target error) bool {
	return target == ErrDuplicateFallback
}

// DispatchResolutionError reports a call for which no kernel resolved. Two
// cases carry different diagnostics: Undefined means the call had no
// identifiable backend at all; any other key names a concrete but
// unsupported backend.
type DispatchResolutionError struct {
	Name      OperatorName
	Key       DispatchKey
	Available []string // backends the operator does have coverage for
}

func (e *DispatchResolutionError) Error() string {
	avail := strings.Join(e.Available, ", ")
	if avail == "" {
		avail = "none"
	}
	if e.Key == Undefined {
		return fmt.Sprintf("there were no arguments with an identifiable backend for %s and no fallback kernel is registered; "+
			"this usually means the call requires at least one argument with an identifiable backend. Available backends: %s",
			e.Name, avail)
	}
	return fmt.Sprintf("could not run %s with arguments from the %s backend; %s is only available for these backends: %s",
		e.Name, e.Key, e.Name, avail)
}

func (e *DispatchResolutionError) Is(target error) bool {
	return target == ErrDispatchResolution
}
