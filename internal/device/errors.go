// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package device

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfiguration is returned for arguments rejected before any bus traffic:
	// unsupported baud rate, address or channel index out of range, wrong value count, unknown variant.
	ErrInvalidConfiguration = errors.New("invalid configuration")
	// ErrNotSupported is returned when the variant lacks the requested capability.
	ErrNotSupported = errors.New("function not supported")
	// ErrTransport matches every *TransportError.
	ErrTransport = errors.New("transport failure")
	// ErrDisconnected is returned once a reconnect failed; the device must be reopened.
	ErrDisconnected = errors.New("device disconnected")
	// ErrClosed is returned by operations after Close.
	ErrClosed = errors.New("device closed")
)

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfiguration, fmt.Sprintf(format, args...))
}

// TransportError records a failed round trip and the transport error that caused it.
type TransportError struct {
	Op      string
	Address int
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s on device %d: %v", e.Op, e.Address, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// ReconnectError is returned when the device accepted a new baud rate but the
// serial port could not be reopened at that rate.
type ReconnectError struct {
	BaudRate int
	Err      error
}

func (e *ReconnectError) Error() string {
	return fmt.Sprintf("reconnect at %d baud: %v", e.BaudRate, e.Err)
}

func (e *ReconnectError) Unwrap() error { return e.Err }

func (e *ReconnectError) Is(target error) bool { return target == ErrDisconnected }
