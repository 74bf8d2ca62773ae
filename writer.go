package rtmp

import (
	"io"
	"net"
)

// Writer counts the bytes written to the connection. Buffers handed to WriteBuffers go out in a single
// vectored write when the connection supports it.
type Writer struct {
	WriteFlusher

	writer io.Writer
	n      uint64
}

type WriteFlusher interface {
	io.Writer
	Flusher
}

type Flusher interface {
	Flush() error
}

func NewWriter(writer io.Writer) (*Writer, error) {
	if writer == nil {
		return nil, ErrNilWriter
	}
	return &Writer{writer: writer}, nil
}

// Write writes the contents of p into the underlying writer.
// It returns the number of bytes written.
// If n < len(p), it also returns an error explaining
// why the write is short.
func (w *Writer) Write(p []byte) (n int, err error) {
	n, err = w.writer.Write(p)
	w.n += uint64(n)
	return n, err
}

// WriteBuffers writes every buffer in bufs, in order. bufs is consumed.
func (w *Writer) WriteBuffers(bufs *net.Buffers) (int64, error) {
	n, err := bufs.WriteTo(w.writer)
	w.n += uint64(n)
	return n, err
}

// Flush flushes the underlying writer if it buffers, like a bufio.Writer does.
func (w *Writer) Flush() error {
	if f, ok := w.writer.(Flusher); ok {
		return f.Flush()
	}
	return nil
}

// WrittenBytes returns the number of bytes written since the instantiation of the Writer.
func (w *Writer) WrittenBytes() uint64 {
	return w.n
}
