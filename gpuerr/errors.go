// Package gpuerr holds the error categories shared by every part of the
// renderer. Categories are attached with errors.Mark, so errors.Is keeps
// working through any amount of wrapping.
package gpuerr

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	// ErrInitialization means the renderer could not be brought up: no
	// suitable device or queue family, a missing extension or layer, or a
	// surface the pipeline cannot render to. It is reported before any frame.
	ErrInitialization = errors.New("initialization failed")

	// ErrSwapchainStale means the presentable resources no longer match the
	// surface. The frame scheduler recovers from it by recreating the
	// swapchain; it never escapes RenderFrame.
	ErrSwapchainStale = errors.New("swapchain stale")

	// ErrDeviceLost is fatal. Everything created from the device is unusable.
	ErrDeviceLost = errors.New("device lost")

	// ErrResourceExhaustion is reported when host or device memory runs out.
	ErrResourceExhaustion = errors.New("resource exhaustion")

	// ErrUsage marks API misuse that would otherwise be undefined behaviour.
	ErrUsage = errors.New("usage error")
)

type Stage string

const (
	StageInit       Stage = "init"
	StageAllocate   Stage = "allocate"
	StageWaitFence  Stage = "wait-fence"
	StageAcquire    Stage = "acquire"
	StageResetFence Stage = "reset-fence"
	StageUpdate     Stage = "update"
	StageRecord     Stage = "record"
	StageSubmit     Stage = "submit"
	StagePresent    Stage = "present"
	StageRecreate   Stage = "recreate"
	StageTeardown   Stage = "teardown"
)

// StageError records where a failure happened and which handle was involved.
type StageError struct {
	Stage  Stage
	Handle string
	cause  error
}

func (e *StageError) Error() string {
	if e.Handle == "" {
		return fmt.Sprintf("%s: %v", e.Stage, e.cause)
	}
	return fmt.Sprintf("%s (%s): %v", e.Stage, e.Handle, e.cause)
}

func (e *StageError) Unwrap() error { return e.cause }

func (e *StageError) Cause() error { return e.cause }

// At wraps err with the stage and handle it occurred at. A nil err stays nil.
func At(err error, stage Stage, handle string) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Handle: handle, cause: err}
}

// Mark attaches category to err. A nil err stays nil.
func Mark(err error, category error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(err, category)
}

func Initialization(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrInitialization)
}

func Usage(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrUsage)
}

func IsStale(err error) bool {
	return errors.Is(err, ErrSwapchainStale)
}

func IsDeviceLost(err error) bool {
	return errors.Is(err, ErrDeviceLost)
}

// IsFatal reports whether err must stop rendering. Only staleness is
// recoverable.
func IsFatal(err error) bool {
	return err != nil && !IsStale(err)
}

// StageOf returns the stage recorded on err, if any.
func StageOf(err error) (Stage, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}
