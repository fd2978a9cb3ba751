package page

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Blackdeer1524/ariesdb/src/pkg/common"
)

func TestPageLSNLivesInHeader(t *testing.T) {
	p := New(common.VirtualPageNum(1, 7))
	p.SetPageLSN(common.MakeLSN(3, 120))

	assert.Equal(t, common.MakeLSN(3, 120), p.PageLSN())
	assert.False(t, p.IsDirty())

	p.Write(0, []byte("hello"))

	assert.True(t, p.IsDirty())
	assert.Equal(t, []byte("hello"), p.Read(0, 5))
	assert.Equal(t, common.MakeLSN(3, 120), p.PageLSN(), "payload writes must not touch the header")
	assert.Equal(t, []byte("hello"), p.GetData()[HeaderSize:HeaderSize+5])
}

func TestPageSetData(t *testing.T) {
	src := New(common.VirtualPageNum(1, 1))
	src.SetPageLSN(42)
	src.Write(100, []byte{1, 2, 3})

	dst := New(common.VirtualPageNum(1, 1))
	dst.SetData(src.GetData())

	assert.Equal(t, common.LSN(42), dst.PageLSN())
	assert.Equal(t, []byte{1, 2, 3}, dst.Read(100, 3))
}

func TestPageBounds(t *testing.T) {
	p := New(common.VirtualPageNum(1, 1))

	require.NotPanics(t, func() {
		p.Write(EffectivePageSize-1, []byte{0xff})
	})
	require.Panics(t, func() {
		p.Write(EffectivePageSize-1, []byte{0xff, 0xff})
	})
	require.Panics(t, func() {
		_ = p.Read(EffectivePageSize, 1)
	})
}
