// Copyright 2016 The PIO Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package kv is the persistence interface the controller core consumes to
// survive a reboot with its default shader intact. The underlying
// non-volatile-storage primitive is an external collaborator; this package
// defines the contract the core calls through and a file-backed
// implementation suitable for a Linux target.
package kv

import "errors"

// DefaultNamespace and DefaultKey are the namespace/key the default-shader
// persistence always uses.
const (
	DefaultNamespace = "fw_shader"
	DefaultKey       = "default_bc3"

	// MaxBlobSize bounds a persisted blob the same way the wire upload is
	// bounded, so a corrupt or oversized store entry can never be read back
	// into a buffer larger than the bytecode VM accepts.
	MaxBlobSize = 64 * 1024
)

// ErrNotFound is returned by GetBlobSize/GetBlob when key has never been
// set (or was erased). Callers distinguish this from other failures: a
// missing default shader at boot is not a fault, any other error is.
var ErrNotFound = errors.New("kv: not found")

// Store is the persistence primitive the core requires: open a namespace,
// size/read/write/erase one blob key, commit, close. The shape mirrors an
// embedded NVS partition API so the same call sequence ports to a real
// non-volatile store.
type Store interface {
	Open(namespace string, readWrite bool) error
	GetBlobSize(key string) (int, error)
	GetBlob(key string, buf []byte) (int, error)
	SetBlob(key string, data []byte) error
	Erase(key string) error
	Commit() error
	Close() error
}
