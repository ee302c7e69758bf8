// Package testutil holds helpers shared by the broker and integration
// suites: observed loggers, a recording broker and polling assertions.
package testutil

import (
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// NewObservedLogger returns a logger whose entries at or above level are
// kept in memory for assertions
func NewObservedLogger(level zapcore.Level) (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return zap.New(core), logs
}

// AssertEventually fails the test unless condition holds within timeout
func AssertEventually(t *testing.T, condition func() bool, timeout, interval time.Duration, msgAndArgs ...any) {
	t.Helper()
	if !WaitForCondition(t, condition, timeout, interval) {
		t.Fatalf("condition not met within %v: %v", timeout, msgAndArgs)
	}
}

// WaitForCondition polls condition every interval and reports whether it
// held before timeout
func WaitForCondition(t *testing.T, condition func() bool, timeout, interval time.Duration) bool {
	t.Helper()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	deadline := time.After(timeout)
	for {
		if condition() {
			return true
		}
		select {
		case <-ticker.C:
		case <-deadline:
			return condition()
		}
	}
}
