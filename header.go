package rtmp

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
	"github.com/torresjeff/rtmp-protocol/internal/binary24"
)

// extendedTimestamp in a timestamp field means the real value follows the message header as a 4 byte integer.
const extendedTimestamp = binary24.MaxUint24

// readBasicHeader reads the chunk type and chunk stream id. It reads 1, 2 or 3 bytes depending on the
// form announced in the first byte, never more.
func readBasicHeader(r *Reader) (ChunkType, uint32, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, 0, ioError(err, "read basic header")
	}

	fmt := ChunkType(b >> 6)
	csid := uint32(b & 0x3f)

	switch csid {
	case 0:
		// 2 byte form: ids 64-319
		b, err = r.ReadByte()
		if err != nil {
			return 0, 0, ioError(err, "read basic header")
		}
		csid = 64 + uint32(b)
	case 1:
		// 3 byte form: ids 64-65599, little endian
		var ext [2]byte
		if _, err := r.Read(ext[:]); err != nil {
			return 0, 0, ioError(err, "read basic header")
		}
		csid = 64 + uint32(binary.LittleEndian.Uint16(ext[:]))
	}

	return fmt, csid, nil
}

// appendBasicHeader appends the smallest basic header form that can carry csid.
func appendBasicHeader(b []byte, fmt ChunkType, csid uint32) ([]byte, error) {
	first := byte(fmt) << 6
	switch {
	case csid < MinChunkStreamID || csid > MaxChunkStreamID:
		return b, errors.Wrapf(ErrChannelOverflow, "chunk stream id %d", csid)
	case csid < 64:
		return append(b, first|byte(csid)), nil
	case csid < 320:
		return append(b, first, byte(csid-64)), nil
	default:
		id := csid - 64
		return append(b, first|1, byte(id), byte(id>>8)), nil
	}
}

// basicHeaderLength returns the size of the basic header for csid.
func basicHeaderLength(csid uint32) int {
	switch {
	case csid < 64:
		return 1
	case csid < 320:
		return 2
	default:
		return 3
	}
}

// chunkHeader is one chunk header as written on the wire.
type chunkHeader struct {
	fmt           ChunkType
	chunkStreamID uint32
	// timestamp is the absolute timestamp for type 0 and the delta for types 1 and 2. Type 3 headers
	// carry it only as the extended timestamp, when extended is set.
	timestamp   uint32
	length      uint32
	messageType MessageType
	streamID    uint32
	extended    bool
}

func appendChunkHeader(b []byte, h *chunkHeader) ([]byte, error) {
	b, err := appendBasicHeader(b, h.fmt, h.chunkStreamID)
	if err != nil {
		return b, err
	}

	field := h.timestamp
	if h.extended {
		field = extendedTimestamp
	}

	switch h.fmt {
	case ChunkType0:
		b = binary24.BigEndian.AppendUint24(b, field)
		b = binary24.BigEndian.AppendUint24(b, h.length)
		b = append(b, byte(h.messageType))
		b = binary.LittleEndian.AppendUint32(b, h.streamID)
	case ChunkType1:
		b = binary24.BigEndian.AppendUint24(b, field)
		b = binary24.BigEndian.AppendUint24(b, h.length)
		b = append(b, byte(h.messageType))
	case ChunkType2:
		b = binary24.BigEndian.AppendUint24(b, field)
	}

	if h.extended {
		b = binary.BigEndian.AppendUint32(b, h.timestamp)
	}
	return b, nil
}

// readMessageHeader reads the message header of a chunk of type fmt and folds it into the chunk stream state.
func (a *assembler) readMessageHeader(cs *chunkStream, fmt ChunkType) error {
	firstChunk := cs.message == nil

	// A chunk stream can only be compressed against a header we have seen. librtmp sends its first ping
	// with a type 1 header though.
	if cs.messagesSeen == 0 && fmt != ChunkType0 {
		if fmt == ChunkType1 && cs.id == ProtocolChannel {
			a.logger.Warnw("fresh chunk stream starts with a type 1 header", "chunkStreamID", cs.id)
		} else {
			return errors.Wrapf(ErrBadHeader, "fresh chunk stream %d starts with a type %d header", cs.id, fmt)
		}
	}
	if !firstChunk && fmt == ChunkType0 {
		return errors.Wrapf(ErrBadHeader, "type 0 header on chunk stream %d while a message is partially read", cs.id)
	}

	var header [11]byte
	if n := messageHeaderLength[fmt]; n > 0 {
		if _, err := a.reader.Read(header[:n]); err != nil {
			return ioError(err, "read message header")
		}
	}

	var value uint32
	if fmt <= ChunkType2 {
		value = binary24.BigEndian.Uint24(header[0:3])
		cs.extended = value == extendedTimestamp

		if fmt <= ChunkType1 {
			length := binary24.BigEndian.Uint24(header[3:6])
			if !firstChunk && length != cs.payloadLength {
				return errors.Wrapf(ErrBadHeader, "payload length of chunk stream %d changed from %d to %d in the middle of a message",
					cs.id, cs.payloadLength, length)
			}
			cs.payloadLength = length
			cs.messageType = MessageType(header[6])

			if fmt == ChunkType0 {
				cs.streamID = binary.LittleEndian.Uint32(header[7:11])
			}
		}
	} else {
		value = cs.timestampDelta
	}

	if cs.extended {
		if fmt == ChunkType3 && !firstChunk {
			// Peers following the 2009 revision omit the extended timestamp on continuation chunks, so it's
			// only consumed when it repeats the value of the first chunk. The peek waits for 4 bytes, so a peer
			// that omits it and then goes quiet holds the read until the receive timeout.
			b, err := a.reader.Peek(extendedTimestampLength)
			if err != nil && err != io.EOF {
				return ioError(err, "read extended timestamp")
			}
			if err == nil && binary.BigEndian.Uint32(b) == cs.extendedValue {
				if _, err := a.reader.Discard(extendedTimestampLength); err != nil {
					return ioError(err, "read extended timestamp")
				}
			}
		} else {
			var ext [extendedTimestampLength]byte
			if _, err := a.reader.Read(ext[:]); err != nil {
				return ioError(err, "read extended timestamp")
			}
			value = binary.BigEndian.Uint32(ext[:])
			cs.extendedValue = value
		}
	}

	if fmt == ChunkType0 {
		cs.timestamp = value
	} else if firstChunk {
		cs.timestamp += value
	}
	if fmt != ChunkType3 || firstChunk {
		cs.timestampDelta = value
	}
	cs.fmt = fmt

	return nil
}
