// Copyright 2016 The PIO Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package render

import (
	"context"
	"time"
)

// startupStep is one color held for a duration in the boot sequence.
type startupStep struct {
	r, g, b  byte
	duration time.Duration
}

// startupSequence is the fixed boot pattern: red, green, blue, white, then
// off with no hold.
var startupSequence = []startupStep{
	{255, 0, 0, 500 * time.Millisecond},
	{0, 255, 0, 500 * time.Millisecond},
	{0, 0, 255, 500 * time.Millisecond},
	{255, 255, 255, 1000 * time.Millisecond},
	{0, 0, 0, 0},
}

// PlayStartupSequence drives the boot color sequence through the same
// PushUniformRGB path a running shader uses, not a special-cased raw buffer
// fill. It returns early if ctx is canceled between steps, leaving whatever
// color was last pushed.
func (o *Orchestrator) PlayStartupSequence(ctx context.Context) error {
	for _, step := range startupSequence {
		if err := o.pipeline.PushUniformRGB(step.r, step.g, step.b); err != nil {
			return err
		}
		if step.duration == 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(step.duration):
		}
	}
	return nil
}
