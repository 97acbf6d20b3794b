// Package syncerr defines the error taxonomy shared by the storage,
// codec, deck and session layers.
//
// NotFound and Connectivity are transient under eventual consistency:
// a row that is missing now may replicate in later, and an unreachable
// local substrate recovers without restarting the process. Validation
// and Permission are permanent for a given call.
package syncerr

import (
	"errors"
	"fmt"
)

// NotFoundError reports a row that is not present in the local replica.
// Under an eventually-consistent substrate this is a normal condition:
// the row may simply not have replicated yet. Callers that expect the
// row to appear should retry with backoff.
type NotFoundError struct {
	Collection string
	Key        string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s/%s: not found in local replica", e.Collection, e.Key)
}

// NotFound creates a NotFoundError for a row.
func NotFound(collection, key string) error {
	return &NotFoundError{Collection: collection, Key: key}
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// ValidationError reports caller-supplied input that is structurally
// invalid, such as a slide index outside the deck bounds. Permanent.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Validationf creates a ValidationError with a formatted message.
func Validationf(format string, args ...interface{}) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ConnectivityError reports that the local storage substrate was
// unreachable. Transient; the UI layer surfaces it as an offline
// indicator rather than a fatal failure.
type ConnectivityError struct {
	Op  string
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("storage unreachable during %s: %v", e.Op, e.Err)
}

func (e *ConnectivityError) Unwrap() error {
	return e.Err
}

// Connectivity wraps a substrate failure for the given operation.
func Connectivity(op string, err error) error {
	return &ConnectivityError{Op: op, Err: err}
}

// IsConnectivity reports whether err is (or wraps) a ConnectivityError.
func IsConnectivity(err error) bool {
	var ce *ConnectivityError
	return errors.As(err, &ce)
}

// PermissionError reports a write attempted against a row owned by
// another device. The session layer silently drops the advisory cases
// (non-presenter endSession, non-presenter advanceTo); this error only
// surfaces on direct row-level misuse of the storage adapter.
type PermissionError struct {
	Collection string
	Key        string
	DeviceID   string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("device %s does not own row %s/%s", e.DeviceID, e.Collection, e.Key)
}

// Permission creates a PermissionError for a row write by a device.
func Permission(collection, key, deviceID string) error {
	return &PermissionError{Collection: collection, Key: key, DeviceID: deviceID}
}

// IsPermission reports whether err is (or wraps) a PermissionError.
func IsPermission(err error) bool {
	var pe *PermissionError
	return errors.As(err, &pe)
}
