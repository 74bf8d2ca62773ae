package binary24

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUint24(t *testing.T) {
	for _, ca := range []struct {
		name string
		v    uint32
		be   []byte
		le   []byte
	}{
		{"zero", 0, []byte{0, 0, 0}, []byte{0, 0, 0}},
		{"timestamp", 0x123456, []byte{0x12, 0x34, 0x56}, []byte{0x56, 0x34, 0x12}},
		{"extended marker", MaxUint24, []byte{0xff, 0xff, 0xff}, []byte{0xff, 0xff, 0xff}},
	} {
		t.Run(ca.name, func(t *testing.T) {
			require.Equal(t, ca.v, BigEndian.Uint24(ca.be))
			require.Equal(t, ca.v, LittleEndian.Uint24(ca.le))

			b := make([]byte, 3)
			BigEndian.PutUint24(b, ca.v)
			require.Equal(t, ca.be, b)
			LittleEndian.PutUint24(b, ca.v)
			require.Equal(t, ca.le, b)

			require.Equal(t, ca.be, BigEndian.AppendUint24(nil, ca.v))
			require.Equal(t, ca.le, LittleEndian.AppendUint24(nil, ca.v))
		})
	}
}

func TestAppendUint24Truncates(t *testing.T) {
	require.Equal(t, []byte{0xaa, 0x12, 0x34, 0x56}, BigEndian.AppendUint24([]byte{0xaa}, 0xff123456))
}
