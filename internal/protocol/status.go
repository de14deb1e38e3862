// Copyright 2016 The PIO Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package protocol

import (
	"errors"

	"github.com/periphlabs/ledshaderd/internal/kv"
	"github.com/periphlabs/ledshaderd/internal/vm"
)

// Status is the v3 command-plane status byte.
type Status uint8

const (
	StatusOK             Status = 0
	StatusInvalidArg     Status = 1
	StatusUnsupportedCmd Status = 2
	StatusTooLarge       Status = 3
	StatusNotReady       Status = 4
	StatusVMError        Status = 5
	StatusInternal       Status = 6
)

// ErrTooLarge marks a payload that exceeded an allowed bound but was
// successfully drained; the session survives it.
var ErrTooLarge = errors.New("protocol: payload too large")

// ErrNotReady is returned by a command handler that needs state this
// session doesn't have yet (e.g. ACTIVATE_SHADER with no uploaded program).
var ErrNotReady = errors.New("protocol: not ready")

// statusFor converts an internal error into the v3 wire status byte: a VM
// status is always vm_error, a
// missing-precondition/not-found is not_ready, an explicitly too-large
// payload keeps its own status, anything else recognized as a bad argument
// is invalid_arg, and everything unclassified is internal.
func statusFor(err error) Status {
	if err == nil {
		return StatusOK
	}
	var vmErr *vm.Error
	if errors.As(err, &vmErr) {
		return StatusVMError
	}
	switch {
	case errors.Is(err, ErrTooLarge):
		return StatusTooLarge
	case errors.Is(err, ErrUnsupportedCmd):
		return StatusUnsupportedCmd
	case errors.Is(err, ErrNotReady), errors.Is(err, kv.ErrNotFound):
		return StatusNotReady
	case errors.Is(err, errInvalidArg):
		return StatusInvalidArg
	default:
		return StatusInternal
	}
}

// errInvalidArg is protocol's own local invalid-argument sentinel, distinct
// from layout/outpipe/vm's packages of the same name; statusFor maps any
// error wrapping it to invalid_arg. No command handler returns it at present.
var errInvalidArg = errors.New("protocol: invalid argument")
