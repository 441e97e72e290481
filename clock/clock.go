// Copyright 2021 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package clock provides a context-carried clock so that code depending on
// the current time can be tested deterministically with a FakeClock.
package clock

import (
	"context"
	"sync"
	"time"
)

// Clock is an interface for getting the current time, making it possible
// to substitute a fake implementation in tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type clockKeyType struct{}

// NewContext returns a context derived from ctx that carries the given
// clock.
func NewContext(ctx context.Context, c Clock) context.Context {
	return context.WithValue(ctx, clockKeyType{}, c)
}

func fromContext(ctx context.Context) Clock {
	if c, ok := ctx.Value(clockKeyType{}).(Clock); ok {
		return c
	}
	return nil
}

// Now returns the current time according to the clock carried by ctx, or
// the real time when ctx carries no clock.
func Now(ctx context.Context) time.Time {
	if c := fromContext(ctx); c != nil {
		return c.Now()
	}
	return time.Now()
}

// After waits for the given duration on the clock carried by ctx, or on
// the real clock when ctx carries none.
func After(ctx context.Context, d time.Duration) <-chan time.Time {
	if c := fromContext(ctx); c != nil {
		return c.After(d)
	}
	return time.After(d)
}

// FakeClock provides support for mocking the current time. The zero value
// is not usable; use NewFakeClock.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*waiter
}

type waiter struct {
	deadline time.Time
	ch       chan time.Time
}

// NewFakeClock returns a FakeClock starting at the current real time.
func NewFakeClock() *FakeClock {
	return &FakeClock{now: time.Now()}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	w := &waiter{deadline: c.now.Add(d), ch: make(chan time.Time, 1)}
	if !c.now.Before(w.deadline) {
		w.ch <- c.now
		return w.ch
	}
	c.waiters = append(c.waiters, w)
	return w.ch
}

// Advance moves the fake time forward, firing any waiters whose deadline
// has been reached.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	remaining := c.waiters[:0]
	for _, w := range c.waiters {
		if !c.now.Before(w.deadline) {
			w.ch <- c.now
		} else {
			remaining = append(remaining, w)
		}
	}
	c.waiters = remaining
}
