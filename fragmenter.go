package rtmp

import (
	"net"

	"github.com/pkg/errors"
	"github.com/torresjeff/rtmp-protocol/config"
	"github.com/torresjeff/rtmp-protocol/internal/binary24"
)

// fragmenter is the send path. It splits messages into chunks and gathers a whole batch into a single
// vectored write.
type fragmenter struct {
	writer *Writer

	// chunkSize is the maximum payload size of an outbound chunk.
	chunkSize uint32

	streams map[uint32]*outChunkStream

	// headers holds the chunk header bytes referenced by buffers until they are written.
	headers []byte
	buffers net.Buffers
}

func newFragmenter(writer *Writer) *fragmenter {
	return &fragmenter{
		writer:    writer,
		chunkSize: config.DefaultChunkSize,
		streams:   make(map[uint32]*outChunkStream),
		headers:   make([]byte, 0, config.HeaderCacheSize),
		buffers:   make(net.Buffers, 0, config.MaxWriteSegments),
	}
}

// validate checks that every message can be encoded, so that a rejected batch writes nothing.
func validate(messages []*Message) error {
	for _, msg := range messages {
		if msg.ChunkStreamID < MinChunkStreamID || msg.ChunkStreamID > MaxChunkStreamID {
			return errors.Wrapf(ErrChannelOverflow, "chunk stream id %d", msg.ChunkStreamID)
		}
		if len(msg.Payload) > binary24.MaxUint24 {
			return errors.Wrapf(ErrMessageTooLarge, "payload of %d bytes", len(msg.Payload))
		}
	}
	return nil
}

// writeMessages writes messages as chunks. Either every message is written or an error is returned.
func (f *fragmenter) writeMessages(messages []*Message) error {
	if err := validate(messages); err != nil {
		return err
	}

	defer f.reset()

	for _, msg := range messages {
		if err := f.appendMessage(msg); err != nil {
			return err
		}
	}
	return f.flush()
}

func (f *fragmenter) appendMessage(msg *Message) error {
	// Both headers of a message stay in the arena until the message is written.
	if len(f.headers)+2*maxChunkHeaderLength > cap(f.headers) {
		if err := f.flush(); err != nil {
			return err
		}
		f.headers = f.headers[:0]
	}

	h := f.firstHeader(msg)

	start := len(f.headers)
	headers, err := appendChunkHeader(f.headers, &h)
	if err != nil {
		return err
	}
	first := headers[start:]

	start = len(headers)
	headers, err = appendChunkHeader(headers, &chunkHeader{
		fmt:           ChunkType3,
		chunkStreamID: h.chunkStreamID,
		timestamp:     h.timestamp,
		extended:      h.extended,
	})
	if err != nil {
		return err
	}
	continuation := headers[start:]
	f.headers = headers

	payload := msg.Payload
	header := first
	for {
		n := uint32(len(payload))
		if n > f.chunkSize {
			n = f.chunkSize
		}

		if err := f.push(header); err != nil {
			return err
		}
		if n > 0 {
			if err := f.push(payload[:n]); err != nil {
				return err
			}
		}

		payload = payload[n:]
		header = continuation
		if len(payload) == 0 {
			return nil
		}
	}
}

// firstHeader picks the header of the first chunk of msg and records what the peer will have cached once
// it reads it.
func (f *fragmenter) firstHeader(msg *Message) chunkHeader {
	cs, ok := f.streams[msg.ChunkStreamID]
	if !ok {
		cs = &outChunkStream{}
		f.streams[msg.ChunkStreamID] = cs
	}

	h := chunkHeader{
		chunkStreamID: msg.ChunkStreamID,
		length:        uint32(len(msg.Payload)),
		messageType:   msg.Type,
		streamID:      msg.StreamID,
	}

	delta := msg.Timestamp - cs.timestamp
	switch {
	case !cs.initialized || msg.StreamID != cs.streamID || msg.Timestamp < cs.timestamp:
		h.fmt = ChunkType0
		h.timestamp = msg.Timestamp
	case msg.Type != cs.messageType || h.length != cs.payloadLength:
		h.fmt = ChunkType1
		h.timestamp = delta
	case delta != cs.timestampDelta || cs.extended:
		h.fmt = ChunkType2
		h.timestamp = delta
	default:
		// A type 3 header starting a message makes the peer advance by the delta it has cached.
		h.fmt = ChunkType3
	}

	if h.fmt != ChunkType3 {
		h.extended = h.timestamp >= extendedTimestamp
		cs.timestampDelta = h.timestamp
		cs.extended = h.extended
		cs.extendedValue = h.timestamp
	}

	cs.initialized = true
	cs.messageType = msg.Type
	cs.streamID = msg.StreamID
	cs.payloadLength = h.length
	cs.timestamp = msg.Timestamp

	return h
}

func (f *fragmenter) push(b []byte) error {
	if len(f.buffers) == config.MaxWriteSegments {
		if err := f.flush(); err != nil {
			return err
		}
	}
	f.buffers = append(f.buffers, b)
	return nil
}

// flush writes the gathered buffers. The header arena is left alone, the message being appended may
// still reference it.
func (f *fragmenter) flush() error {
	if len(f.buffers) == 0 {
		return nil
	}

	buffers := f.buffers
	_, err := f.writer.WriteBuffers(&buffers)
	f.buffers = f.buffers[:0]
	if err != nil {
		return ioError(err, "send messages")
	}

	if err := f.writer.Flush(); err != nil {
		return ioError(err, "send messages")
	}
	return nil
}

func (f *fragmenter) reset() {
	f.headers = f.headers[:0]
	f.buffers = f.buffers[:0]
}
