package cli

import (
	"testing"
	"time"

	"github.com/doridoridoriand/conwatch/internal/notify"
)

func TestOptionalDuration(t *testing.T) {
	var d OptionalDuration
	if d.String() != "" {
		t.Fatalf("expected empty string for unset duration")
	}
	if _, ok := d.Value(); ok {
		t.Fatalf("expected unset duration to report false")
	}
	if err := d.Set("250ms"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.String() != "250ms" {
		t.Fatalf("expected duration string to be 250ms, got %q", d.String())
	}
	if v, ok := d.Value(); !ok || v != 250*time.Millisecond {
		t.Fatalf("expected duration value 250ms, got %v (ok=%v)", v, ok)
	}
}

func TestOptionalDurationInvalid(t *testing.T) {
	var d OptionalDuration
	if err := d.Set("bad"); err == nil {
		t.Fatalf("expected error for invalid duration")
	}
	if _, ok := d.Value(); ok {
		t.Fatalf("expected invalid duration to remain unset")
	}
}

func TestOptionalInt(t *testing.T) {
	var i OptionalInt
	if i.String() != "" {
		t.Fatalf("expected empty string for unset int")
	}
	if _, ok := i.Value(); ok {
		t.Fatalf("expected unset int to report false")
	}
	if err := i.Set("42"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if i.String() != "42" {
		t.Fatalf("expected int string to be 42, got %q", i.String())
	}
	if v, ok := i.Value(); !ok || v != 42 {
		t.Fatalf("expected int value 42, got %v (ok=%v)", v, ok)
	}
}

func TestOptionalIntInvalid(t *testing.T) {
	var i OptionalInt
	if err := i.Set("bad"); err == nil {
		t.Fatalf("expected error for invalid int")
	}
	if _, ok := i.Value(); ok {
		t.Fatalf("expected invalid int to remain unset")
	}
}

func TestOptionalString(t *testing.T) {
	var s OptionalString
	if s.String() != "" {
		t.Fatalf("expected empty string for unset string")
	}
	if _, ok := s.Value(); ok {
		t.Fatalf("expected unset string to report false")
	}
	if err := s.Set("hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.String() != "hello" {
		t.Fatalf("expected string value to be hello, got %q", s.String())
	}
	if v, ok := s.Value(); !ok || v != "hello" {
		t.Fatalf("expected string value hello, got %q (ok=%v)", v, ok)
	}
}

func TestOptionalBool(t *testing.T) {
	var b OptionalBool
	if b.String() != "" {
		t.Fatalf("expected empty string for unset bool")
	}
	if _, ok := b.Value(); ok {
		t.Fatalf("expected unset bool to report false")
	}
	if !b.IsBoolFlag() {
		t.Fatalf("expected IsBoolFlag to return true")
	}
	if err := b.Set("true"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.String() != "true" {
		t.Fatalf("expected bool string to be true, got %q", b.String())
	}
	if v, ok := b.Value(); !ok || v != true {
		t.Fatalf("expected bool value true, got %v (ok=%v)", v, ok)
	}
}

func TestOptionalBoolInvalid(t *testing.T) {
	var b OptionalBool
	if err := b.Set("bad"); err == nil {
		t.Fatalf("expected error for invalid bool")
	}
	if _, ok := b.Value(); ok {
		t.Fatalf("expected invalid bool to remain unset")
	}
}

// TestOptionalMode tests notification mode flag parsing
func TestOptionalMode(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected notify.Mode
		wantErr  bool
	}{
		{
			name:     "serial mode",
			input:    "serial",
			expected: notify.ModeSerial,
		},
		{
			name:     "parallel mode",
			input:    "parallel",
			expected: notify.ModeParallel,
		},
		{
			name:     "dedicated mode",
			input:    "dedicated",
			expected: notify.ModeDedicated,
		},
		{
			name:     "mixed case",
			input:    "Dedicated",
			expected: notify.ModeDedicated,
		},
		{
			name:    "invalid mode",
			input:   "invalid",
			wantErr: true,
		},
		{
			name:    "empty string",
			input:   "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m OptionalMode

			if m.String() != "" {
				t.Fatalf("expected empty string for unset mode")
			}
			if _, ok := m.Value(); ok {
				t.Fatalf("expected unset mode to report false")
			}

			err := m.Set(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for input %q", tt.input)
				}
				if _, ok := m.Value(); ok {
					t.Fatalf("expected mode to remain unset after error")
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error for input %q: %v", tt.input, err)
			}
			if m.String() != string(tt.expected) {
				t.Fatalf("expected string to be %q, got %q", tt.expected, m.String())
			}
			if v, ok := m.Value(); !ok || v != tt.expected {
				t.Fatalf("expected mode value %q, got %q (ok=%v)", tt.expected, v, ok)
			}
		})
	}
}

// TestOptionalModeErrorMessages tests specific error messages
func TestOptionalModeErrorMessages(t *testing.T) {
	var m OptionalMode
	err := m.Set("broadcast")
	if err == nil {
		t.Fatalf("expected error for invalid notification mode")
	}

	expectedMsg := `invalid notification mode: "broadcast" (valid values: serial, parallel, dedicated)`
	if err.Error() != expectedMsg {
		t.Fatalf("expected error message %q, got %q", expectedMsg, err.Error())
	}
}

// TestAllFlagTypesErrorHandling tests error handling across all flag types
func TestAllFlagTypesErrorHandling(t *testing.T) {
	tests := []struct {
		name     string
		testFunc func() error
	}{
		{
			name: "OptionalDuration invalid",
			testFunc: func() error {
				var d OptionalDuration
				return d.Set("invalid-duration")
			},
		},
		{
			name: "OptionalInt invalid",
			testFunc: func() error {
				var i OptionalInt
				return i.Set("not-a-number")
			},
		},
		{
			name: "OptionalBool invalid",
			testFunc: func() error {
				var b OptionalBool
				return b.Set("not-a-bool")
			},
		},
		{
			name: "OptionalMode invalid",
			testFunc: func() error {
				var m OptionalMode
				return m.Set("invalid-mode")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.testFunc()
			if err == nil {
				t.Fatalf("expected error for %s", tt.name)
			}
		})
	}
}

// TestFlagTypesBoolFlagInterface tests IsBoolFlag interface
func TestFlagTypesBoolFlagInterface(t *testing.T) {
	var b OptionalBool
	if !b.IsBoolFlag() {
		t.Fatalf("expected OptionalBool to implement IsBoolFlag() returning true")
	}
}

// TestFlagTypesStringRepresentation tests String() method for all types
func TestFlagTypesStringRepresentation(t *testing.T) {
	tests := []struct {
		name     string
		testFunc func() (unsetStr, setStr string)
	}{
		{
			name: "OptionalDuration",
			testFunc: func() (string, string) {
				var d OptionalDuration
				unset := d.String()
				d.Set("1s")
				set := d.String()
				return unset, set
			},
		},
		{
			name: "OptionalInt",
			testFunc: func() (string, string) {
				var i OptionalInt
				unset := i.String()
				i.Set("42")
				set := i.String()
				return unset, set
			},
		},
		{
			name: "OptionalString",
			testFunc: func() (string, string) {
				var s OptionalString
				unset := s.String()
				s.Set("test")
				set := s.String()
				return unset, set
			},
		},
		{
			name: "OptionalBool",
			testFunc: func() (string, string) {
				var b OptionalBool
				unset := b.String()
				b.Set("true")
				set := b.String()
				return unset, set
			},
		},
		{
			name: "OptionalMode",
			testFunc: func() (string, string) {
				var m OptionalMode
				unset := m.String()
				m.Set("serial")
				set := m.String()
				return unset, set
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			unsetStr, setStr := tt.testFunc()
			if unsetStr != "" {
				t.Fatalf("expected empty string for unset %s, got %q", tt.name, unsetStr)
			}
			if setStr == "" {
				t.Fatalf("expected non-empty string for set %s", tt.name)
			}
		})
	}
}
