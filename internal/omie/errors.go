package omie

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// ErrTimeout matches any *TimeoutError via errors.Is.
var ErrTimeout = errors.New("omie call timed out")

// TimeoutError is returned when a single call exceeds its deadline.
type TimeoutError struct {
	Call    string
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s timed out after %s", e.Call, e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// FaultError is a business-level error embedded in an Omie response body.
// Omie reports these with a 200 or a 500 status, so the status is not trusted.
type FaultError struct {
	Call    string
	Code    string
	Message string
}

func (e *FaultError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Code == "" {
		return fmt.Sprintf("%s fault: %s", e.Call, e.Message)
	}
	return fmt.Sprintf("%s fault %s: %s", e.Call, e.Code, e.Message)
}

// StatusError captures non-2xx responses that carried no fault message.
type StatusError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Body == "" {
		return fmt.Sprintf("%s request failed: status %d", e.Operation, e.StatusCode)
	}
	return fmt.Sprintf("%s request failed: status %d: %s", e.Operation, e.StatusCode, e.Body)
}

// "ERROR: Não existem registros para a página [3]!"
var noRecordsPattern = regexp.MustCompile(`(?i)n[ãa]o\s+(existem|h[áa])\s+registros|no\s+records`)

// IsNoRecords reports whether err is the fault Omie sends when a page is past the end of the data.
func IsNoRecords(err error) bool {
	var fault *FaultError
	if !errors.As(err, &fault) {
		return false
	}
	return noRecordsPattern.MatchString(fault.Message)
}
