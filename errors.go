package ble

import (
	"errors"
	"fmt"
)

// ErrPrecondition is wrapped by every error that reports a programming or
// configuration mistake: a bad UUID length, an undersized arena, too many
// characteristics. Firmware built on this package usually treats these as
// fatal; test with errors.Is(err, ErrPrecondition).
var ErrPrecondition = errors.New("precondition violated")

// Precondition violations.
var (
	ErrNilBuffer              = fmt.Errorf("%w: nil arena buffer", ErrPrecondition)
	ErrArenaTooSmall          = fmt.Errorf("%w: arena buffer too small", ErrPrecondition)
	ErrArenaTooLarge          = fmt.Errorf("%w: arena buffer larger than 65535 bytes", ErrPrecondition)
	ErrInvalidUUID            = fmt.Errorf("%w: uuid must be 2, 4 or 16 bytes", ErrPrecondition)
	ErrTooManyCharacteristics = fmt.Errorf("%w: characteristic count exceeded", ErrPrecondition)
	ErrTooManyDescriptors     = fmt.Errorf("%w: too many descriptors", ErrPrecondition)
	ErrInvalidInterval        = fmt.Errorf("%w: advertising interval out of range", ErrPrecondition)
	ErrServiceRegistered      = fmt.Errorf("%w: service already registered", ErrPrecondition)
)

var (
	// ErrEIRPacketTooLong is the error returned when a field does not fit
	// in an advertising or scan response payload.
	ErrEIRPacketTooLong = errors.New("max packet length is 31")

	// ErrArenaExhausted is returned when the free region of a service
	// arena cannot hold an allocation.
	ErrArenaExhausted = errors.New("service arena exhausted")

	// ErrNotReady is returned when advertising is started before the
	// stack has synced with the controller.
	ErrNotReady = errors.New("ble stack not ready")

	// ErrAdvTimeout is the reason reported when advertising ends
	// because its duration elapsed.
	ErrAdvTimeout = errors.New("advertising duration elapsed")

	ErrAttributeNotFound = errors.New("attribute not found")
	ErrNotPermitted      = errors.New("operation not permitted on characteristic")
	ErrHandleSpace       = errors.New("attribute handle space exhausted")

	// ErrRegistration is wrapped by every RegistrationError.
	ErrRegistration = errors.New("service registration failed")
)

// A RegistrationError reports which registration stage failed.
type RegistrationError struct {
	Stage string // "count" or "add"
	Err   error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("register service: %s: %v", e.Stage, e.Err)
}

func (e *RegistrationError) Unwrap() []error { return []error{ErrRegistration, e.Err} }
