// Copyright 2016 The PIO Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ota is the firmware self-update interface the controller core
// consumes: the core streams an uploaded image through it and, on success,
// reboots. This package defines only that contract plus a reference
// implementation that writes the image to a file and execs a configured
// reboot command; there is no HTTPS OTA fetch or partition-table management
// here.
package ota

import "errors"

// ErrNoPartition is returned by NextPartition when there is no inactive
// partition slot to update into.
var ErrNoPartition = errors.New("ota: no inactive partition available")

// Handle identifies one in-progress update begun by Begin.
type Handle interface{}

// Descriptor identifies a partition slot returned by NextPartition and
// consumed by SetBoot.
type Descriptor interface{}

// Updater is the firmware-update primitive UPLOAD_FIRMWARE streams into:
// find the inactive partition, begin a sized write, stream bytes, finalize,
// mark it bootable, and reboot. Abort releases a handle from Begin without
// marking it bootable, used when the stream is truncated or fails
// validation mid-upload.
type Updater interface {
	NextPartition() (Descriptor, error)
	Begin(size int) (Handle, error)
	Write(h Handle, data []byte) error
	End(h Handle) error
	SetBoot(d Descriptor) error
	Abort(h Handle) error
	Reboot() error
}
