// Package binary24 reads and writes the unsigned 24-bit integers used by RTMP chunk message headers
// (timestamps, timestamp deltas and payload lengths).
package binary24

// MaxUint24 is the largest value that fits in 3 bytes. In a chunk header it doubles as the marker
// for an extended timestamp.
const MaxUint24 = 0xFFFFFF

var BigEndian bigEndian

var LittleEndian littleEndian

type bigEndian struct{}

func (bigEndian) Uint24(b []byte) uint32 {
	_ = b[2]
	return uint32(b[2]) | uint32(b[1])<<8 | uint32(b[0])<<16
}

func (bigEndian) PutUint24(b []byte, v uint32) {
	_ = b[2] // early bounds check to guarantee safety of writes below
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

// AppendUint24 appends the low 24 bits of v to b and returns the extended slice.
func (bigEndian) AppendUint24(b []byte, v uint32) []byte {
	return append(b, byte(v>>16), byte(v>>8), byte(v))
}

type littleEndian struct{}

func (littleEndian) Uint24(b []byte) uint32 {
	_ = b[2]
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
}

func (littleEndian) PutUint24(b []byte, v uint32) {
	_ = b[2] // early bounds check to guarantee safety of writes below
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
}

// AppendUint24 appends the low 24 bits of v to b and returns the extended slice.
func (littleEndian) AppendUint24(b []byte, v uint32) []byte {
	return append(b, byte(v), byte(v>>8), byte(v>>16))
}
