package assert

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func panicMessage(fn func()) (msg string) {
	defer func() {
		msg = fmt.Sprint(recover())
	}()

	fn()

	return ""
}

func TestAssert(t *testing.T) {
	require.NotPanics(t, func() { Assert(true, "unused %d", 1) })

	msg := panicMessage(func() { Assert(false, "page %d is pinned", 7) })
	require.Contains(t, msg, "page 7 is pinned")
	require.Contains(t, msg, "assert_test.go", "the caller is reported")

	require.Panics(t, func() { Assert(false) })
}

func TestCast(t *testing.T) {
	var v any = 42

	require.Equal(t, 42, Cast[int](v))
	require.Contains(t, panicMessage(func() { Cast[string](v) }), "can't cast int to string")
}
