package tl

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStringBytesRoundTrip(t *testing.T) {
	cases := [][]byte{
		{},
		[]byte("hi"),
		make([]byte, 253),
		make([]byte, 254),
		make([]byte, 1000),
	}
	for _, data := range cases {
		w := NewWriter(16)
		w.StringBytes(data)
		require.Zero(t, w.Len()%4)

		r := NewReader(w.Bytes())
		got, err := r.StringBytes()
		require.NoError(t, err)
		require.Equal(t, data, got)
		require.Zero(t, r.Remaining())
	}
}

func TestIntRoundTrip(t *testing.T) {
	w := NewWriter(0)
	w.Int(-1)
	w.Long(1 << 40)
	w.UInt(0xdeadbeef)

	r := NewReader(w.Bytes())
	i, err := r.Int()
	require.NoError(t, err)
	require.EqualValues(t, -1, i)

	l, err := r.Long()
	require.NoError(t, err)
	require.EqualValues(t, 1<<40, l)

	u, err := r.UInt()
	require.NoError(t, err)
	require.EqualValues(t, 0xdeadbeef, u)
}

func TestReaderTruncated(t *testing.T) {
	r := NewReader([]byte{1, 2})
	_, err := r.Long()
	require.ErrorIs(t, err, ErrTruncated)
}
