package utils

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireUniqueInRange[T Integer](t *testing.T, values []T, minVal, maxVal T) {
	t.Helper()

	seen := map[T]struct{}{}
	for _, v := range values {
		require.GreaterOrEqual(t, v, minVal)
		require.LessOrEqual(t, v, maxVal)

		_, dup := seen[v]
		require.False(t, dup, "%v picked twice", v)
		seen[v] = struct{}{}
	}
}

func TestGenerateUniqueInts(t *testing.T) {
	r := rand.New(rand.NewSource(42))

	t.Run("sparse", func(t *testing.T) {
		res := GenerateUniqueInts(5, 1000, 2000, r)
		require.Len(t, res, 5)
		requireUniqueInRange(t, res, 1000, 2000)
	})

	t.Run("dense", func(t *testing.T) {
		res := GenerateUniqueInts[uint64](6, 1, 10, r)
		require.Len(t, res, 6)
		requireUniqueInRange(t, res, 1, 10)
	})

	t.Run("whole range", func(t *testing.T) {
		res := GenerateUniqueInts(5, -2, 2, r)
		assert.ElementsMatch(t, []int{-2, -1, 0, 1, 2}, res)
	})

	t.Run("single value", func(t *testing.T) {
		assert.Equal(t, []int64{42}, GenerateUniqueInts[int64](1, 42, 42, r))
	})

	t.Run("nothing", func(t *testing.T) {
		assert.Empty(t, GenerateUniqueInts(0, 1, 10, r))
	})

	t.Run("too many", func(t *testing.T) {
		assert.Panics(t, func() { GenerateUniqueInts(4, 1, 3, r) })
	})
}

func TestMust(t *testing.T) {
	assert.Equal(t, 3, Must(3, nil))
	assert.Panics(t, func() { Must(0, errors.New("boom")) })
}
