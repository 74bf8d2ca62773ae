package rtmp

import "github.com/pkg/errors"

var ErrNilWriter = errors.New("Expected a non-nil io.Writer, but got a nil value")
var ErrNilReader = errors.New("Expected a non-nil io.Reader, but got a nil value")

// Framing errors. Once one of these is returned the byte stream can't be trusted any more and the
// connection must be closed.
var (
	// ErrBadHeader is returned when a chunk header can't be reconciled with the chunk stream state.
	ErrBadHeader = errors.New("rtmp: bad chunk header")
	// ErrMessageTooLarge is returned when a peer announces a message above the configured ceiling.
	ErrMessageTooLarge = errors.New("rtmp: message too large")
	// ErrUnknownControlSubtype is returned for protocol control messages carrying reserved or invalid values.
	ErrUnknownControlSubtype = errors.New("rtmp: unknown protocol control subtype")
)

// Packet decoding errors.
var (
	ErrTruncated       = errors.New("rtmp: truncated packet")
	ErrMalformedPacket = errors.New("rtmp: malformed packet")
)

// ErrChannelOverflow is returned by the send path for chunk stream ids that can't be encoded.
// Nothing is written to the connection when it is returned.
var ErrChannelOverflow = errors.New("rtmp: chunk stream id out of range")

// IoError wraps a failure of the underlying connection, including timeouts and EOF.
type IoError struct {
	Err error
}

func (e *IoError) Error() string {
	return "rtmp: io: " + e.Err.Error()
}

func (e *IoError) Unwrap() error {
	return e.Err
}

// IsIoError reports whether err was caused by the underlying connection.
func IsIoError(err error) bool {
	var ioErr *IoError
	return errors.As(err, &ioErr)
}

func ioError(err error, step string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(&IoError{Err: err}, step)
}
