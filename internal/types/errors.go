package types

import (
	"errors"
	"fmt"
)

const (
	CodeCompile           = "COMPILE_ERROR"
	CodeRuntime           = "RUNTIME_ERROR"
	CodeTimeout           = "TIMEOUT"
	CodeCapability        = "CAPABILITY_ERROR"
	CodeAttachmentMissing = "ATTACHMENT_MISSING"
	CodeTerminated        = "TERMINATED"
	CodeValidation        = "VALIDATION"
	CodeNotFound          = "NOT_FOUND"
)

// CodedError is a typed error used for stable API mapping.
type CodedError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *CodedError) Unwrap() error { return e.Cause }

// NewError builds a CodedError.
func NewError(code, msg string, cause error) error {
	return &CodedError{Code: code, Message: msg, Cause: cause}
}

func CompileError(msg string) error    { return NewError(CodeCompile, msg, nil) }
func RuntimeError(msg string) error    { return NewError(CodeRuntime, msg, nil) }
func CapabilityError(msg string) error { return NewError(CodeCapability, msg, nil) }
func ValidationError(msg string) error { return NewError(CodeValidation, msg, nil) }
func NotFoundError(msg string) error   { return NewError(CodeNotFound, msg, nil) }

// AttachmentMissing reports a CSV attachment that does not exist.
func AttachmentMissing(name string) error {
	return NewError(CodeAttachmentMissing, "CSV not found: "+name, nil)
}

// Message returns the human-readable part of err: the Message of a CodedError,
// or err.Error() otherwise.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var ce *CodedError
	if errors.As(err, &ce) {
		return ce.Message
	}
	return err.Error()
}

// HasCode reports whether err is a CodedError carrying code.
func HasCode(err error, code string) bool {
	var ce *CodedError
	return errors.As(err, &ce) && ce.Code == code
}
