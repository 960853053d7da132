// Package errors provides the structured error kinds the network
// transformation pipeline can raise, adapted from cldctl's error model:
// a code, a message, an optional cause, and a details bag for
// machine-readable diagnostics.
package errors

import "fmt"

// Code identifies an error kind surfaced by the planning pipeline.
// Only MissingDeployments is expected to surface routinely; the rest
// mark programmer-visible mistakes in a selection or network.
type Code string

const (
	CodeInvalidSelection            Code = "INVALID_SELECTION"
	CodeAmbiguousService            Code = "AMBIGUOUS_SERVICE"
	CodeAmbiguousAutoConnection     Code = "AMBIGUOUS_AUTO_CONNECTION"
	CodeAmbiguousChildConnection    Code = "AMBIGUOUS_CHILD_CONNECTION"
	CodeRecursiveSelection          Code = "RECURSIVE_SELECTION"
	CodeIncompatibleComponentModels Code = "INCOMPATIBLE_COMPONENT_MODELS"
	CodeIncompatibleSelections      Code = "INCOMPATIBLE_SELECTIONS"
	CodeMissingDeployments          Code = "MISSING_DEPLOYMENTS"
	CodeNameResolution              Code = "NAME_RESOLUTION_ERROR"
	CodeInternal                    Code = "INTERNAL_ERROR"
)

// Error is the base error type for the pipeline.
type Error struct {
	Code    Code
	Message string
	Cause   error
	Details map[string]interface{}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message, Details: make(map[string]interface{})}
}

// Newf creates a new error with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap creates a new error wrapping an existing cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause, Details: make(map[string]interface{})}
}

// WithDetail adds a single detail to an error and returns it for chaining.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	e.Details[key] = value
	return e
}

// WithDetails merges details into an error and returns it for chaining.
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// Is reports whether err is a pipeline error of the given code.
func Is(err error, code Code) bool {
	e, ok := err.(*Error)
	return ok && e.Code == code
}

// InvalidSelection creates an InvalidSelection error: the DIR's normalize
// step was given a key/value pair that matches neither allowed category.
func InvalidSelection(message string) *Error {
	return New(CodeInvalidSelection, message)
}

// AmbiguousService creates an AmbiguousService error: more than one
// service on a component fulfills the requested data service.
func AmbiguousService(componentName string, candidates []string) *Error {
	return Newf(CodeAmbiguousService, "component %q provides more than one service matching the request", componentName).
		WithDetail("component", componentName).
		WithDetail("candidates", candidates)
}

// RecursiveSelection creates a RecursiveSelection error: a selection chain
// cycles back on itself through more than a self-loop.
func RecursiveSelection(chain []string) *Error {
	return Newf(CodeRecursiveSelection, "selection chain cycles: %v", chain).
		WithDetail("chain", chain)
}

// IncompatibleComponentModels creates an IncompatibleComponentModels error:
// the required-model-set for a composition child cannot be merged because
// it selects two unrelated concrete classes.
func IncompatibleComponentModels(childName string, a, b string) *Error {
	return Newf(CodeIncompatibleComponentModels, "child %q requires unrelated concrete models %s and %s", childName, a, b).
		WithDetail("child", childName).
		WithDetail("modelA", a).
		WithDetail("modelB", b)
}

// IncompatibleSelections creates an IncompatibleSelections error: merging
// two DIR explicit mappings found two incomparable selections for the
// same key.
func IncompatibleSelections(key string, a, b string) *Error {
	return Newf(CodeIncompatibleSelections, "key %q has incomparable selections %s and %s", key, a, b).
		WithDetail("key", key).
		WithDetail("selectionA", a).
		WithDetail("selectionB", b)
}

// AmbiguousAutoConnection creates an AmbiguousAutoConnection error: two or
// more sibling output ports match an unconnected input during autoconnect.
func AmbiguousAutoConnection(childName, portName string, candidates []string) *Error {
	return Newf(CodeAmbiguousAutoConnection, "input %s.%s matches more than one sibling output", childName, portName).
		WithDetail("child", childName).
		WithDetail("port", portName).
		WithDetail("candidates", candidates)
}

// AmbiguousChildConnection creates an AmbiguousChildConnection error: an
// explicit composition connection references a port that resolves
// ambiguously through a child's fulfilled services.
func AmbiguousChildConnection(childName, portName string) *Error {
	return Newf(CodeAmbiguousChildConnection, "connection to %s.%s is ambiguous", childName, portName).
		WithDetail("child", childName).
		WithDetail("port", portName)
}

// NameResolutionError creates a NameResolutionError: a name used as a DIR
// selection key or orocos_name could not be resolved to anything in scope.
func NameResolutionError(name string) *Error {
	return Newf(CodeNameResolution, "could not resolve name %q", name).
		WithDetail("name", name)
}

// Internal creates an InternalError: an invariant that should be
// unreachable was violated.
func Internal(message string) *Error {
	return New(CodeInternal, message)
}

// CandidateReport records one deployment-slot candidate considered for a
// task and, if it was not used, why.
type CandidateReport struct {
	ProcessServer string
	Deployment    string
	Slot          string
	Rejected      string // why this candidate was not used, e.g. "slot already in use"
	UsedBy        string // task ID currently occupying the slot, if any
}

// MissingDeployments creates the sole externally-meaningful planning
// error the deployer can raise. candidates maps a task ID to the list
// of slot candidates considered and why each one was rejected.
func MissingDeployments(candidates map[string][]CandidateReport) *Error {
	return New(CodeMissingDeployments, "one or more tasks have no available deployment").
		WithDetail("candidates", candidates)
}
