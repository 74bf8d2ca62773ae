package rtmp

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/torresjeff/rtmp-protocol/config"
)

// Protocol control messages have fixed layouts. They are always sent on the protocol channel with message
// stream id 0.

func requireLength(payload []byte, n int, what string) error {
	if len(payload) < n {
		return errors.Wrapf(ErrTruncated, "%s needs %d bytes, got %d", what, n, len(payload))
	}
	return nil
}

type SetWindowAckSizePacket struct {
	AcknowledgementWindowSize uint32
}

func (p *SetWindowAckSizePacket) MessageType() MessageType { return WindowAcknowledgementSize }
func (p *SetWindowAckSizePacket) ChunkStreamID() uint32    { return ProtocolChannel }

func (p *SetWindowAckSizePacket) MarshalPacket() ([]byte, error) {
	return binary.BigEndian.AppendUint32(nil, p.AcknowledgementWindowSize), nil
}

func (p *SetWindowAckSizePacket) UnmarshalPacket(payload []byte) error {
	if err := requireLength(payload, 4, "window acknowledgement size"); err != nil {
		return err
	}
	p.AcknowledgementWindowSize = binary.BigEndian.Uint32(payload)
	return nil
}

type AcknowledgementPacket struct {
	SequenceNumber uint32
}

func (p *AcknowledgementPacket) MessageType() MessageType { return Acknowledgement }
func (p *AcknowledgementPacket) ChunkStreamID() uint32    { return ProtocolChannel }

func (p *AcknowledgementPacket) MarshalPacket() ([]byte, error) {
	return binary.BigEndian.AppendUint32(nil, p.SequenceNumber), nil
}

func (p *AcknowledgementPacket) UnmarshalPacket(payload []byte) error {
	if err := requireLength(payload, 4, "acknowledgement"); err != nil {
		return err
	}
	p.SequenceNumber = binary.BigEndian.Uint32(payload)
	return nil
}

type SetChunkSizePacket struct {
	ChunkSize uint32
}

func (p *SetChunkSizePacket) MessageType() MessageType { return SetChunkSize }
func (p *SetChunkSizePacket) ChunkStreamID() uint32    { return ProtocolChannel }

func (p *SetChunkSizePacket) MarshalPacket() ([]byte, error) {
	if err := validChunkSize(p.ChunkSize); err != nil {
		return nil, err
	}
	return binary.BigEndian.AppendUint32(nil, p.ChunkSize), nil
}

func (p *SetChunkSizePacket) UnmarshalPacket(payload []byte) error {
	if err := requireLength(payload, 4, "set chunk size"); err != nil {
		return err
	}
	p.ChunkSize = binary.BigEndian.Uint32(payload)
	return validChunkSize(p.ChunkSize)
}

// validChunkSize checks a chunk size is usable. The top bit must be 0, and a chunk can't be larger
// than the biggest message the header can describe.
func validChunkSize(size uint32) error {
	if size == 0 || size&0x80000000 != 0 || size > config.MaxChunkSize {
		return errors.Wrapf(ErrUnknownControlSubtype, "invalid chunk size %d", size)
	}
	return nil
}

type BandwidthLimitType uint8

const (
	LimitHard BandwidthLimitType = iota
	LimitSoft
	LimitDynamic
)

type SetPeerBandwidthPacket struct {
	Bandwidth uint32
	LimitType BandwidthLimitType
}

func (p *SetPeerBandwidthPacket) MessageType() MessageType { return SetPeerBandwidth }
func (p *SetPeerBandwidthPacket) ChunkStreamID() uint32    { return ProtocolChannel }

func (p *SetPeerBandwidthPacket) MarshalPacket() ([]byte, error) {
	if p.LimitType > LimitDynamic {
		return nil, errors.Wrapf(ErrUnknownControlSubtype, "bandwidth limit type %d", p.LimitType)
	}
	b := binary.BigEndian.AppendUint32(make([]byte, 0, 5), p.Bandwidth)
	return append(b, byte(p.LimitType)), nil
}

func (p *SetPeerBandwidthPacket) UnmarshalPacket(payload []byte) error {
	if err := requireLength(payload, 5, "set peer bandwidth"); err != nil {
		return err
	}
	p.Bandwidth = binary.BigEndian.Uint32(payload)
	p.LimitType = BandwidthLimitType(payload[4])
	if p.LimitType > LimitDynamic {
		return errors.Wrapf(ErrUnknownControlSubtype, "bandwidth limit type %d", p.LimitType)
	}
	return nil
}

type UserControlEvent uint16

const (
	StreamBegin      UserControlEvent = 0
	StreamEOF        UserControlEvent = 1
	StreamDry        UserControlEvent = 2
	SetBufferLength  UserControlEvent = 3
	StreamIsRecorded UserControlEvent = 4
	PingRequest      UserControlEvent = 6
	PingResponse     UserControlEvent = 7
	// FmsEvent0 is sent by FMS to Flash players. Its data is a single byte.
	FmsEvent0   UserControlEvent = 0x1a
	BufferEmpty UserControlEvent = 0x1f
	BufferReady UserControlEvent = 0x20
)

func (e UserControlEvent) known() bool {
	switch e {
	case StreamBegin, StreamEOF, StreamDry, SetBufferLength, StreamIsRecorded, PingRequest, PingResponse,
		FmsEvent0, BufferEmpty, BufferReady:
		return true
	}
	return false
}

// UserControlPacket is a user control message. Data is the stream id for stream events, the timestamp for
// pings and the buffer length for Set Buffer Length.
type UserControlPacket struct {
	Event UserControlEvent
	Data  uint32
	// Extra is only carried by Set Buffer Length: the buffer length in milliseconds, with Data being the
	// stream id.
	Extra uint32
}

func (p *UserControlPacket) MessageType() MessageType { return UserControlMessage }
func (p *UserControlPacket) ChunkStreamID() uint32    { return ProtocolChannel }

func (p *UserControlPacket) MarshalPacket() ([]byte, error) {
	if !p.Event.known() {
		return nil, errors.Wrapf(ErrUnknownControlSubtype, "user control event %d", p.Event)
	}

	b := binary.BigEndian.AppendUint16(make([]byte, 0, 10), uint16(p.Event))
	if p.Event == FmsEvent0 {
		b = append(b, byte(p.Data))
	} else {
		b = binary.BigEndian.AppendUint32(b, p.Data)
	}
	if p.Event == SetBufferLength {
		b = binary.BigEndian.AppendUint32(b, p.Extra)
	}
	return b, nil
}

func (p *UserControlPacket) UnmarshalPacket(payload []byte) error {
	if err := requireLength(payload, 2, "user control event"); err != nil {
		return err
	}
	p.Event = UserControlEvent(binary.BigEndian.Uint16(payload))
	if !p.Event.known() {
		return errors.Wrapf(ErrUnknownControlSubtype, "user control event %d", p.Event)
	}
	payload = payload[2:]

	if p.Event == FmsEvent0 {
		if err := requireLength(payload, 1, "user control event data"); err != nil {
			return err
		}
		p.Data = uint32(payload[0])
		return nil
	}

	if err := requireLength(payload, 4, "user control event data"); err != nil {
		return err
	}
	p.Data = binary.BigEndian.Uint32(payload)

	if p.Event == SetBufferLength {
		if err := requireLength(payload[4:], 4, "buffer length"); err != nil {
			return err
		}
		p.Extra = binary.BigEndian.Uint32(payload[4:])
	}
	return nil
}

// AbortPacket tells the peer to discard the partially received message on a chunk stream.
type AbortPacket struct {
	ChunkStream uint32
}

func (p *AbortPacket) MessageType() MessageType { return AbortMessage }
func (p *AbortPacket) ChunkStreamID() uint32    { return ProtocolChannel }

func (p *AbortPacket) MarshalPacket() ([]byte, error) {
	return binary.BigEndian.AppendUint32(nil, p.ChunkStream), nil
}

func (p *AbortPacket) UnmarshalPacket(payload []byte) error {
	if err := requireLength(payload, 4, "abort"); err != nil {
		return err
	}
	p.ChunkStream = binary.BigEndian.Uint32(payload)
	return nil
}
