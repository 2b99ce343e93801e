// Package utils holds test support shared by the transport packages.
package utils

import (
	"bytes"
	"runtime"
	"strings"
	"testing"
	"time"
)

// LeakChecker fails a test when goroutines whose stack mentions a given
// function outlive the code under test
type LeakChecker struct {
	t             testing.TB
	match         string
	timeout       time.Duration
	checkInterval time.Duration
}

// NewLeakChecker creates a checker for goroutines whose stack contains match,
// for example "transport.(*Handle)"
func NewLeakChecker(t testing.TB, match string) *LeakChecker {
	return &LeakChecker{
		t:             t,
		match:         match,
		timeout:       2 * time.Second,
		checkInterval: 10 * time.Millisecond,
	}
}

// SetTimeout sets how long Check waits for goroutines to exit
func (c *LeakChecker) SetTimeout(d time.Duration) *LeakChecker {
	c.timeout = d
	return c
}

// Check waits until no matching goroutine remains and reports the stacks of
// the survivors otherwise
func (c *LeakChecker) Check() {
	c.t.Helper()

	deadline := time.Now().Add(c.timeout)
	for {
		leaked := Goroutines(c.match)
		if len(leaked) == 0 {
			return
		}
		if time.Now().After(deadline) {
			c.t.Errorf("Goroutine leak detected: %d goroutines matching %q still running:\n%s",
				len(leaked), c.match, strings.Join(leaked, "\n\n"))
			return
		}
		time.Sleep(c.checkInterval)
	}
}

// Goroutines returns the stacks of all goroutines, other than the caller's,
// that contain match
func Goroutines(match string) []string {
	buf := make([]byte, 1<<20)
	for {
		n := runtime.Stack(buf, true)
		if n < len(buf) {
			buf = buf[:n]
			break
		}
		buf = make([]byte, 2*len(buf))
	}

	// The first stack is always the calling goroutine
	stacks := bytes.Split(buf, []byte("\n\n"))
	var out []string
	for _, stack := range stacks[1:] {
		if bytes.Contains(stack, []byte(match)) {
			out = append(out, string(stack))
		}
	}
	return out
}
