package failfast

import (
	"errors"
	"testing"
)

// recovered runs fn and returns the error it panicked with, or nil
func recovered(t *testing.T, fn func()) (err error) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		e, ok := r.(error)
		if !ok {
			t.Fatalf("Expected error panic value, got: %T", r)
		}
		err = e
	}()
	fn()
	return nil
}

func TestErr(t *testing.T) {
	if err := recovered(t, func() { Err(nil) }); err != nil {
		t.Errorf("Err(nil) panicked: %v", err)
	}

	cause := errors.New("listener gone")
	err := recovered(t, func() { Err(cause) })
	if err == nil {
		t.Fatal("Expected panic, got none")
	}
	if !errors.Is(err, ErrViolation) || !errors.Is(err, cause) {
		t.Errorf("panic value %v should wrap ErrViolation and the cause", err)
	}
}

func TestIf(t *testing.T) {
	if err := recovered(t, func() { If(true, "should not panic") }); err != nil {
		t.Errorf("If(true) panicked: %v", err)
	}

	err := recovered(t, func() { If(false, "worker pool size must be positive, got %d", 0) })
	if err == nil {
		t.Fatal("Expected panic, got none")
	}
	expected := "fail-fast: worker pool size must be positive, got 0"
	if err.Error() != expected {
		t.Errorf("Expected %q, got %q", expected, err.Error())
	}
}

func TestNotNil(t *testing.T) {
	var nilPtr *int
	var nilFunc func()
	var nilMap map[string]int

	cases := []struct {
		name  string
		value interface{}
		panic bool
	}{
		{"untyped nil", nil, true},
		{"typed nil pointer", nilPtr, true},
		{"nil func", nilFunc, true},
		{"nil map", nilMap, true},
		{"value", 42, false},
		{"func", func() {}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := recovered(t, func() { NotNil(tc.value, "v") })
			if tc.panic && err == nil {
				t.Fatal("Expected panic, got none")
			}
			if !tc.panic && err != nil {
				t.Fatalf("Expected no panic, got: %v", err)
			}
		})
	}
}
