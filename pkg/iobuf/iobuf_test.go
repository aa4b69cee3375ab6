package iobuf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixedBuf(t *testing.T) {
	b := NewFixedBuf(make([]byte, 16))
	assert.Equal(t, 0, b.BytesInit())
	assert.Len(t, b.WriteBytes(), 16)

	copy(b.WriteBytes(), "hello")
	b.SetInit(5)

	assert.Equal(t, 5, b.BytesInit())
	assert.Equal(t, "hello", string(b.Bytes()))
}

func TestSliceWindow(t *testing.T) {
	inner := NewFixedBuf(make([]byte, 32))
	s := NewSlice(inner, 8, 16)

	require.Len(t, s.WriteBytes(), 8)
	copy(s.WriteBytes(), "window!!")
	s.SetInit(8)

	assert.Equal(t, "window!!", string(s.Bytes()))
	assert.Equal(t, 16, inner.BytesInit())

	back := s.Into()
	assert.Same(t, inner, back)
}

func TestPoolBucketing(t *testing.T) {
	cases := []uint32{1024, size64k, size64k + 1, size128k, size1m, size1m + 1}
	for _, sz := range cases {
		b := Get(sz)
		require.Len(t, b.WriteBytes(), int(sz))
		Put(b)
	}
}

func TestPoolRoundTrip(t *testing.T) {
	b := Get(size64k)
	copy(b.WriteBytes(), []byte{1, 2, 3})
	b.SetInit(3)
	Put(b)

	b2 := Get(size64k)
	assert.Len(t, b2.WriteBytes(), size64k)
}
