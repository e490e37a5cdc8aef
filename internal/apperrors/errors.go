// Package apperrors defines the control plane's closed error taxonomy and
// its mapping onto HTTP status codes. Every error the Store, Provisioner
// wiring, or Request API can return to a caller is one of these kinds.
package apperrors

import "net/http"

// Kind classifies an Error for status-code mapping and caller handling.
type Kind string

const (
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindPrecondition Kind = "precondition"
	KindValidation   Kind = "validation"
	KindAuth         Kind = "auth"
)

// Error is a structured application error carrying a stable Code, a Kind
// used for status-code mapping, and a human-readable message.
type Error struct {
	Code    string
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func newErr(code string, kind Kind, message string) *Error {
	return &Error{Code: code, Kind: kind, Message: message}
}

// Not-found errors.
func ProjectDoesNotExist(name string) *Error {
	return newErr("ProjectDoesNotExist", KindNotFound, "project does not exist: "+name)
}

func VersionDoesNotExist(project, version string) *Error {
	return newErr("VersionDoesNotExist", KindNotFound, "version does not exist: "+project+"/"+version)
}

func FunctionDoesNotExist(project, version, function string) *Error {
	return newErr("FunctionDoesNotExist", KindNotFound, "function does not exist: "+project+"/"+version+"/"+function)
}

func InvocationDoesNotExist(project, version, function, invocation string) *Error {
	return newErr("InvocationDoesNotExist", KindNotFound, "invocation does not exist: "+project+"/"+version+"/"+function+"/"+invocation)
}

func ExecutionDoesNotExist(id string) *Error {
	return newErr("ExecutionDoesNotExist", KindNotFound, "execution does not exist: "+id)
}

func ParentInvocationDoesNotExist(functionName, invocationID string) *Error {
	return newErr("ParentInvocationDoesNotExist", KindNotFound, "parent invocation does not exist: "+functionName+"/"+invocationID)
}

// Conflict errors.
func ProjectAlreadyExists(name string) *Error {
	return newErr("ProjectAlreadyExists", KindConflict, "project already exists: "+name)
}

func VersionAlreadyExists(project, version string) *Error {
	return newErr("VersionAlreadyExists", KindConflict, "version already exists: "+project+"/"+version)
}

func FunctionAlreadyExists(project, version, function string) *Error {
	return newErr("FunctionAlreadyExists", KindConflict, "function already exists: "+project+"/"+version+"/"+function)
}

func InvocationAlreadyExists(id string) *Error {
	return newErr("InvocationAlreadyExists", KindConflict, "invocation already exists: "+id)
}

func ExecutionAlreadyExists(id string) *Error {
	return newErr("ExecutionAlreadyExists", KindConflict, "execution already exists: "+id)
}

// Precondition errors.
func ExecutionHasAlreadyStarted(id string) *Error {
	return newErr("ExecutionHasAlreadyStarted", KindPrecondition, "execution has already started: "+id)
}

func ExecutionHasNotStarted(id string) *Error {
	return newErr("ExecutionHasNotStarted", KindPrecondition, "execution has not started: "+id)
}

func ExecutionHasAlreadyFinished(id string) *Error {
	return newErr("ExecutionHasAlreadyFinished", KindPrecondition, "execution has already finished: "+id)
}

func ExecutionHasNotFinished(id string) *Error {
	return newErr("ExecutionHasNotFinished", KindPrecondition, "execution has not finished: "+id)
}

func ProjectIsBeingDeleted(name string) *Error {
	return newErr("ProjectIsBeingDeleted", KindPrecondition, "project is being deleted: "+name)
}

// Validation errors.
func OffsetIsInvalid(offset string) *Error {
	return newErr("OffsetIsInvalid", KindValidation, "offset is invalid: "+offset)
}

func ParentFunctionNameIsMissing() *Error {
	return newErr("ParentFunctionNameIsMissing", KindValidation, "parent function name is missing")
}

func ParentInvocationIdIsMissing() *Error {
	return newErr("ParentInvocationIdIsMissing", KindValidation, "parent invocation id is missing")
}

func ProjectNameIsTooLong(name string) *Error {
	return newErr("ProjectNameIsTooLong", KindValidation, "project name is too long: "+name)
}

// Auth errors.
func ApiKeyIsInvalid() *Error {
	return newErr("ApiKeyIsInvalid", KindAuth, "api key is invalid")
}

// StatusCode maps an Error's Kind onto the HTTP status code the Request API
// surfaces to callers.
func StatusCode(err error) int {
	ae, ok := err.(*Error)
	if !ok {
		return http.StatusInternalServerError
	}
	switch ae.Kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict, KindPrecondition:
		return http.StatusConflict
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
