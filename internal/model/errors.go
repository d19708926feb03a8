package model

import (
	"errors"
	"fmt"
)

// ErrNotReady is returned by prediction entry points before the classifiers
// have finished loading. Callers should poll Status and retry.
var ErrNotReady = errors.New("models are not loaded")

// DecodeError marks input that could not be decoded as an image. It is a
// caller error, local to one request or batch item.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode image: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ProvisionError wraps a failure while provisioning one classifier slot. It is
// terminal for the load attempt and surfaces through Status.Error.
type ProvisionError struct {
	Stage int
	Err   error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("provision stage %d: %v", e.Stage, e.Err)
}

func (e *ProvisionError) Unwrap() error { return e.Err }

// InferenceError marks a classifier that produced unusable output (wrong
// shape, NaN logits). Distinct from a low-confidence result: the model broke,
// it was not merely unsure.
type InferenceError struct {
	Stage int
	Err   error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference stage %d: %v", e.Stage, e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }
