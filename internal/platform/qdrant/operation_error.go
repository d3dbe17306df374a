package qdrant

import (
	"errors"
	"fmt"
)

type OperationErrorCode string

const (
	OperationErrorValidation      OperationErrorCode = "validation_failed"
	OperationErrorEncodeFailed    OperationErrorCode = "encode_failed"
	OperationErrorDecodeFailed    OperationErrorCode = "decode_failed"
	OperationErrorTransportFailed OperationErrorCode = "transport_failed"
	OperationErrorTimeout         OperationErrorCode = "timeout"
	OperationErrorRequestFailed   OperationErrorCode = "request_failed"
)

type OperationError struct {
	Code       OperationErrorCode
	Operation  string
	StatusCode int
	Message    string
	Cause      error
}

func (e *OperationError) Error() string {
	detail := e.Message
	if detail == "" && e.Cause != nil {
		detail = e.Cause.Error()
	}
	if detail == "" {
		return fmt.Sprintf("qdrant %s failed (code=%s status=%d)", e.Operation, e.Code, e.StatusCode)
	}
	return fmt.Sprintf("qdrant %s failed (code=%s status=%d): %s", e.Operation, e.Code, e.StatusCode, detail)
}

func (e *OperationError) Unwrap() error { return e.Cause }

// HTTPStatusCode lets httpx classify status failures as retryable.
func (e *OperationError) HTTPStatusCode() int { return e.StatusCode }

// Transient reports whether retrying the operation may succeed.
func (e *OperationError) Transient() bool {
	switch e.Code {
	case OperationErrorTimeout, OperationErrorTransportFailed:
		return true
	case OperationErrorRequestFailed:
		return e.StatusCode == 0 || e.StatusCode == 429 || e.StatusCode >= 500
	}
	return false
}

func opErr(op string, code OperationErrorCode, msg string, cause error) error {
	return &OperationError{Code: code, Operation: op, Message: msg, Cause: cause}
}

// IsTransient reports whether err is a qdrant failure worth retrying.
func IsTransient(err error) bool {
	var oe *OperationError
	if errors.As(err, &oe) {
		return oe.Transient()
	}
	return false
}
