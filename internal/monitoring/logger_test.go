package monitoring

import (
	"testing"
)

func TestSetLogger(t *testing.T) {
	// Save original logger
	original := Logf
	defer func() { Logf = original }()

	// Test setting a custom logger
	called := false
	customLogger := func(format string, v ...interface{}) {
		called = true
	}

	SetLogger(customLogger)
	Logf("test message")

	if !called {
		t.Error("Custom logger was not called")
	}

	// Setting nil installs a no-op logger that must not panic.
	SetLogger(nil)
	Logf("test message")
	Warnf("test message")
	Errorf("test message")

	noOpCalled := false
	SetLogger(func(format string, v ...interface{}) { noOpCalled = true })
	Warnf("test")
	if !noOpCalled {
		t.Error("Test logger should have been called for Warnf")
	}

	noOpCalled = false
	SetLogger(nil)
	Logf("test")
	if noOpCalled {
		t.Error("No-op logger should not have triggered callback")
	}
}

func TestLogf_Default(t *testing.T) {
	if Logf == nil || Warnf == nil || Errorf == nil {
		t.Fatal("package loggers should not be nil by default")
	}

	defer func() {
		if r := recover(); r != nil {
			t.Errorf("Logf panicked: %v", r)
		}
	}()

	SetLogger(func(string, ...interface{}) {})
	defer SetLogger(nil)
	Logf("test message: %s", "value")
}

func TestWithRank(t *testing.T) {
	if WithRank(3) == nil {
		t.Fatal("WithRank returned nil")
	}
}
