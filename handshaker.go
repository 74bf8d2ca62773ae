package rtmp

import "io"

// Handshaker performs the handshake that precedes the chunk stream. Bytes it reads and writes go through
// the Protocol's counting reader and writer.
type Handshaker interface {
	Handshake(reader io.Reader, writer io.Writer) error
}
