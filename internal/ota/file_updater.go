// Copyright 2016 The PIO Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ota

import (
	"fmt"
	"os"
	"os/exec"
)

// fileDescriptor/fileHandle are the concrete Descriptor/Handle values
// FileUpdater hands back; callers only ever pass them straight back into
// the same Updater, never inspect them.
type fileDescriptor struct{ path string }
type fileHandle struct{ f *os.File }

// FileUpdater implements Updater by writing the streamed image to a
// staging file and re-execing a configured reboot command on success. It
// models a single-slot "partition": the staging path itself, swapped into
// place only once the full image has been written and SetBoot called —
// there is exactly one slot, so NextPartition never fails with
// ErrNoPartition the way a dual-bank scheme could.
type FileUpdater struct {
	stagingPath string
	finalPath   string
	rebootCmd   []string
}

// NewFileUpdater targets finalPath as the image a subsequent boot will run;
// stagingPath holds the in-progress upload until it's complete. rebootCmd,
// if non-empty, is exec'd by Reboot (e.g. []string{"systemctl", "reboot"});
// a nil/empty rebootCmd makes Reboot a no-op, useful under test.
func NewFileUpdater(stagingPath, finalPath string, rebootCmd []string) *FileUpdater {
	return &FileUpdater{stagingPath: stagingPath, finalPath: finalPath, rebootCmd: rebootCmd}
}

func (u *FileUpdater) NextPartition() (Descriptor, error) {
	return fileDescriptor{path: u.finalPath}, nil
}

func (u *FileUpdater) Begin(size int) (Handle, error) {
	f, err := os.OpenFile(u.stagingPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("ota: begin: %w", err)
	}
	return &fileHandle{f: f}, nil
}

func (u *FileUpdater) Write(h Handle, data []byte) error {
	fh, ok := h.(*fileHandle)
	if !ok || fh.f == nil {
		return fmt.Errorf("ota: write: invalid handle")
	}
	_, err := fh.f.Write(data)
	return err
}

func (u *FileUpdater) End(h Handle) error {
	fh, ok := h.(*fileHandle)
	if !ok || fh.f == nil {
		return fmt.Errorf("ota: end: invalid handle")
	}
	return fh.f.Close()
}

func (u *FileUpdater) Abort(h Handle) error {
	fh, ok := h.(*fileHandle)
	if !ok || fh.f == nil {
		return nil
	}
	fh.f.Close()
	return os.Remove(u.stagingPath)
}

func (u *FileUpdater) SetBoot(d Descriptor) error {
	desc, ok := d.(fileDescriptor)
	if !ok {
		return fmt.Errorf("ota: set_boot: invalid descriptor")
	}
	return os.Rename(u.stagingPath, desc.path)
}

func (u *FileUpdater) Reboot() error {
	if len(u.rebootCmd) == 0 {
		return nil
	}
	return exec.Command(u.rebootCmd[0], u.rebootCmd[1:]...).Run()
}
