package main

import (
	"os"
	"testing"
	"time"
)

// TestGetenv tests the getenv utility function
func TestGetenv(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		value    string
		def      string
		expected string
	}{
		{
			name:     "environment variable set",
			key:      "TEST_ENV_VAR",
			value:    "test_value",
			def:      "default",
			expected: "test_value",
		},
		{
			name:     "environment variable not set",
			key:      "UNSET_ENV_VAR",
			value:    "",
			def:      "default_value",
			expected: "default_value",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.value != "" {
				os.Setenv(tt.key, tt.value)
				defer os.Unsetenv(tt.key)
			}
			if result := getenv(tt.key, tt.def); result != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, result)
			}
		})
	}
}

// TestGetenvInt tests integer settings, including the fatal path for
// values that do not parse
func TestGetenvInt(t *testing.T) {
	oldLogFatal := logFatal
	defer func() { logFatal = oldLogFatal }()

	fatalCalled := false
	logFatal = func(format string, v ...interface{}) {
		fatalCalled = true
	}

	t.Setenv("GROUP_SIZE", "4")
	if got := getenvInt("GROUP_SIZE", 1); got != 4 {
		t.Errorf("Expected 4, got %d", got)
	}
	if got := getenvInt("UNSET_GROUP_SIZE", 3); got != 3 {
		t.Errorf("Expected default 3, got %d", got)
	}
	if fatalCalled {
		t.Error("Unexpected fatal for valid input")
	}

	t.Setenv("GROUP_SIZE", "four")
	if got := getenvInt("GROUP_SIZE", 1); got != 1 {
		t.Errorf("Expected default after bad value, got %d", got)
	}
	if !fatalCalled {
		t.Error("Expected log.Fatal to be called but it wasn't")
	}
}

// TestGetenvDuration tests duration settings
func TestGetenvDuration(t *testing.T) {
	oldLogFatal := logFatal
	defer func() { logFatal = oldLogFatal }()

	fatalCalled := false
	logFatal = func(format string, v ...interface{}) {
		fatalCalled = true
	}

	t.Setenv("JOB_TIMEOUT", "90s")
	if got := getenvDuration("JOB_TIMEOUT", time.Minute); got != 90*time.Second {
		t.Errorf("Expected 90s, got %v", got)
	}
	t.Setenv("JOB_TIMEOUT", "soon")
	if got := getenvDuration("JOB_TIMEOUT", time.Minute); got != time.Minute {
		t.Errorf("Expected default after bad value, got %v", got)
	}
	if !fatalCalled {
		t.Error("Expected log.Fatal to be called but it wasn't")
	}
}
