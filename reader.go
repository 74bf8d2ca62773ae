package rtmp

import (
	"bufio"
	"bytes"
	"io"

	"github.com/torresjeff/rtmp-protocol/config"
)

// Reader is a buffered reader that counts the bytes consumed from it. The count drives acknowledgements, so
// bytes that are only peeked are not counted until they are read or discarded.
type Reader struct {
	ReadByteReaderCounter

	src    io.Reader
	reader *bufio.Reader
	n      uint64
}

type ByteCounter interface {
	ReadBytes() uint64
}

type ByteReader interface {
	ReadByte() (byte, error)
}

// ReadByteReaderCounter is the interface that groups Reader, ByteReader, and ByteCounter interfaces.
type ReadByteReaderCounter interface {
	io.Reader
	ByteCounter
	ByteReader
}

func NewReader(reader io.Reader) (*Reader, error) {
	return NewReaderSize(reader, config.ReadBufferSize)
}

// NewReaderSize is NewReader with an explicit buffer size.
func NewReaderSize(reader io.Reader, size int) (*Reader, error) {
	if reader == nil {
		return nil, ErrNilReader
	}
	return &Reader{src: reader, reader: bufio.NewReaderSize(reader, size)}, nil
}

// Read reads exactly len(p) bytes from the underlying bufio.Reader into p.
// It returns the number of bytes copied and an error if fewer bytes were read.
// The error is EOF only if no bytes were read.
// If an EOF happens after reading some but not all the bytes,
// Read returns ErrUnexpectedEOF.
// On return, n == len(buf) if and only if err == nil.
func (r *Reader) Read(p []byte) (n int, err error) {
	n, err = io.ReadFull(r.reader, p)
	r.n += uint64(n)
	return n, err
}

// ReadByte reads and returns a single byte from the underlying bufio.Reader.
// If no byte is available, returns an error.
func (r *Reader) ReadByte() (byte, error) {
	b, err := r.reader.ReadByte()
	if err == nil {
		r.n++
	}

	return b, err
}

// Peek returns the next n bytes without consuming them.
func (r *Reader) Peek(n int) ([]byte, error) {
	return r.reader.Peek(n)
}

// Discard skips the next n bytes and counts them as read.
func (r *Reader) Discard(n int) (int, error) {
	d, err := r.reader.Discard(n)
	r.n += uint64(d)
	return d, err
}

// Buffered returns the number of bytes that can be read without touching the connection.
func (r *Reader) Buffered() int {
	return r.reader.Buffered()
}

// Size returns the size of the read buffer.
func (r *Reader) Size() int {
	return r.reader.Size()
}

// Returns the number of bytes read so far from the underlying bufio.Reader since the instantiation of the Reader.
func (r *Reader) ReadBytes() uint64 {
	return r.n
}

// Resize replaces the read buffer with one of the given size. Bytes already buffered are kept and
// returned before anything else is read from the connection.
func (r *Reader) Resize(size int) {
	if size == r.reader.Size() {
		return
	}

	src := r.src
	if pending := r.reader.Buffered(); pending > 0 {
		buffered, _ := r.reader.Peek(pending)
		src = io.MultiReader(bytes.NewReader(append([]byte(nil), buffered...)), r.src)
	}
	r.src = src
	r.reader = bufio.NewReaderSize(src, size)
}
