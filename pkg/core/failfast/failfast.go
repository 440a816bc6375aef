// Package failfast turns programmer errors into immediate panics.
package failfast

import (
	"errors"
	"fmt"
	"reflect"
	"runtime/debug"
)

// ErrViolation is wrapped by every panic value raised by this package
var ErrViolation = errors.New("fail-fast")

// Err panics if err != nil, attaching the current stack
func Err(err error) {
	if err != nil {
		panic(fmt.Errorf("%w: %w\n%s", ErrViolation, err, debug.Stack()))
	}
}

// If panics with a formatted message when condition is false
func If(condition bool, message string, args ...interface{}) {
	if !condition {
		panic(fmt.Errorf("%w: %s", ErrViolation, fmt.Sprintf(message, args...)))
	}
}

// NotNil panics if v is nil, including typed nil pointers, funcs, maps,
// channels and interfaces.
func NotNil(v interface{}, name string) {
	if v == nil {
		panic(fmt.Errorf("%w: %s is nil", ErrViolation, name))
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Func, reflect.Map, reflect.Chan, reflect.Interface, reflect.Slice:
		if rv.IsNil() {
			panic(fmt.Errorf("%w: %s is nil", ErrViolation, name))
		}
	}
}
