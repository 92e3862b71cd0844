package canvas

import (
	"errors"

	"github.com/hazyhaar/canvas/canvas/internal/component"
	"github.com/hazyhaar/canvas/canvas/internal/datamodel"
	"github.com/hazyhaar/canvas/canvas/internal/surface"
)

// Error codes reported to tool callers.
const (
	CodeSurfaceNotFound    = "SurfaceNotFound"
	CodeInvalidSizePreset  = "InvalidSizePreset"
	CodeInvalidPointer     = "InvalidPointer"
	CodeDanglingReference  = "DanglingComponentReference"
	CodeComponentCycle     = "ComponentCycle"
	CodeInvalidComponent   = "InvalidComponent"
	CodeInvalidValue       = "InvalidValue"
	CodePersistenceFailure = "PersistenceFailure"
)

// Error is the typed error of every engine operation. Two *Error values match
// under errors.Is when their codes are equal, so the sentinels below can be
// used as targets.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Code
}

func (e *Error) Unwrap() error { return e.Err }

// ErrorCode implements kit.Coder.
func (e *Error) ErrorCode() string { return e.Code }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrSurfaceNotFound   = &Error{Code: CodeSurfaceNotFound, Message: "surface not found"}
	ErrInvalidSizePreset = &Error{Code: CodeInvalidSizePreset, Message: "invalid size preset"}
	ErrInvalidPointer    = &Error{Code: CodeInvalidPointer, Message: "invalid pointer"}
	ErrDanglingReference = &Error{Code: CodeDanglingReference, Message: "dangling component reference"}
	ErrComponentCycle    = &Error{Code: CodeComponentCycle, Message: "component cycle"}
	ErrInvalidComponent  = &Error{Code: CodeInvalidComponent, Message: "invalid component"}
	ErrInvalidValue      = &Error{Code: CodeInvalidValue, Message: "invalid value"}
	ErrPersistence       = &Error{Code: CodePersistenceFailure, Message: "persistence failure"}
)

func notFound(id string) error {
	return &Error{Code: CodeSurfaceNotFound, Message: "surface not found: " + id, Err: surface.ErrNotFound}
}

func persistenceFailure(err error) error {
	return &Error{Code: CodePersistenceFailure, Message: "persistence failure: " + err.Error(), Err: err}
}

// classify maps errors of the internal packages to their code.
func classify(err error) error {
	var ce *Error
	if errors.As(err, &ce) {
		return err
	}
	code := ""
	switch {
	case errors.Is(err, surface.ErrInvalidSize):
		code = CodeInvalidSizePreset
	case errors.Is(err, datamodel.ErrInvalidPointer):
		code = CodeInvalidPointer
	case errors.Is(err, datamodel.ErrInvalidValue):
		code = CodeInvalidValue
	case errors.Is(err, component.ErrDanglingReference):
		code = CodeDanglingReference
	case errors.Is(err, component.ErrCycle):
		code = CodeComponentCycle
	case errors.Is(err, component.ErrInvalid):
		code = CodeInvalidComponent
	case errors.Is(err, surface.ErrNotFound):
		code = CodeSurfaceNotFound
	default:
		return err
	}
	return &Error{Code: code, Message: err.Error(), Err: err}
}
