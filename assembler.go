package rtmp

import (
	"github.com/pkg/errors"
	"github.com/torresjeff/rtmp-protocol/config"
	"go.uber.org/zap"
)

// assembler is the receive path. It reads one chunk at a time and puts the messages of all chunk streams
// back together.
type assembler struct {
	reader *Reader
	logger *zap.SugaredLogger

	// chunkSize is the maximum payload size of an inbound chunk, changed by the peer's Set Chunk Size.
	chunkSize      uint32
	maxMessageSize uint32

	streams map[uint32]*chunkStream
}

func newAssembler(reader *Reader, logger *zap.SugaredLogger) *assembler {
	return &assembler{
		reader:         reader,
		logger:         logger,
		chunkSize:      config.DefaultChunkSize,
		maxMessageSize: config.DefaultMaxMessageSize,
		streams:        make(map[uint32]*chunkStream),
	}
}

// readChunk reads a single chunk. It returns the message the chunk belongs to when the chunk completes it,
// and nil otherwise. Empty messages and messages of unknown types are dropped once complete.
func (a *assembler) readChunk() (*Message, error) {
	fmt, csid, err := readBasicHeader(a.reader)
	if err != nil {
		return nil, err
	}

	cs, ok := a.streams[csid]
	if !ok {
		cs = newChunkStream(csid)
		a.streams[csid] = cs
	}

	if err := a.readMessageHeader(cs, fmt); err != nil {
		return nil, err
	}

	if cs.message == nil {
		if cs.payloadLength > a.maxMessageSize {
			return nil, errors.Wrapf(ErrMessageTooLarge, "chunk stream %d announced %d bytes, limit is %d",
				csid, cs.payloadLength, a.maxMessageSize)
		}
		cs.message = &Message{
			ChunkStreamID: csid,
			Payload:       make([]byte, cs.payloadLength),
		}
		cs.writeOffset = 0
		cs.messagesSeen++
	}
	cs.message.Timestamp = cs.timestamp
	cs.message.Type = cs.messageType
	cs.message.StreamID = cs.streamID

	size := cs.payloadLength - cs.writeOffset
	if size > a.chunkSize {
		size = a.chunkSize
	}
	if size > 0 {
		if _, err := a.reader.Read(cs.message.Payload[cs.writeOffset : cs.writeOffset+size]); err != nil {
			return nil, ioError(err, "read payload")
		}
		cs.writeOffset += size
	}

	if cs.writeOffset < cs.payloadLength {
		return nil, nil
	}

	message := cs.message
	cs.message = nil
	cs.writeOffset = 0

	if len(message.Payload) == 0 {
		a.logger.Debugw("dropping empty message", "chunkStreamID", csid, "type", message.Type,
			"timestamp", message.Timestamp, "streamID", message.StreamID)
		return nil, nil
	}
	if !message.Type.Known() {
		a.logger.Debugw("dropping message of unknown type", "chunkStreamID", csid, "type", message.Type,
			"length", len(message.Payload))
		return nil, nil
	}

	return message, nil
}

// abort discards the message partially read on chunk stream csid.
func (a *assembler) abort(csid uint32) {
	if cs, ok := a.streams[csid]; ok && cs.message != nil {
		a.logger.Debugw("aborting partial message", "chunkStreamID", csid, "read", cs.writeOffset,
			"length", cs.payloadLength)
		cs.message = nil
		cs.writeOffset = 0
	}
}
