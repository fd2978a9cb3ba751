// Package assert panics on broken invariants. Protocol violations by
// callers are programming errors and are reported this way instead of
// through error returns.
package assert

import (
	"fmt"
	"path/filepath"
	"runtime"
)

// Assert panics unless condition holds. The optional args are a format
// string followed by its operands.
func Assert(condition bool, args ...any) {
	if condition {
		return
	}

	msg := ""
	if len(args) > 0 {
		msg = fmt.Sprintf(args[0].(string), args[1:]...)
	}

	fail(msg)
}

// Cast converts data to T or panics.
func Cast[T any](data any) T {
	res, ok := data.(T)
	if !ok {
		fail(fmt.Sprintf("can't cast %T to %T", data, res))
	}

	return res
}

func fail(msg string) {
	// fail <- Assert/Cast <- caller
	_, file, line, ok := runtime.Caller(2)
	if !ok {
		file = "unknown"
	}

	where := fmt.Sprintf("%s:%d", filepath.Base(file), line)
	if msg == "" {
		panic("assertion failed at " + where)
	}

	panic(fmt.Sprintf("assertion failed: %s at %s", msg, where))
}
