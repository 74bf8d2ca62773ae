// Package video describes the first bytes of an RTMP video message, which follow the FLV VIDEODATA layout.
package video

import "github.com/pkg/errors"

// As defined in the FLV spec: https://www.adobe.com/content/dam/acom/en/devnet/flv/video_file_format_spec_v10_1.pdf

type FrameType uint8

const (
	KeyFrame             FrameType = 1
	InterFrame           FrameType = 2
	DisposableInterFrame FrameType = 3
	GeneratedKeyFrame    FrameType = 4
	// Video info/command frame
	CommandFrame FrameType = 5
)

type Codec uint8

const (
	SorensonH263    Codec = 2
	ScreenVideo     Codec = 3
	VP6             Codec = 4
	VP6AlphaChannel Codec = 5
	ScreenVideoV2   Codec = 6
	H264            Codec = 7
)

type AVCPacketType uint8

const (
	AVCSequenceHeader AVCPacketType = 0
	AVCNALU           AVCPacketType = 1
	AVCEndOfSequence  AVCPacketType = 2
)

var ErrEmptyPayload = errors.New("video: empty payload")

type Header struct {
	FrameType FrameType
	Codec     Codec
	// PacketType is only meaningful for H264.
	PacketType AVCPacketType
}

// ParseHeader reads the header at the start of payload.
func ParseHeader(payload []byte) (Header, error) {
	if len(payload) == 0 {
		return Header{}, ErrEmptyPayload
	}
	h := Header{
		FrameType: FrameType(payload[0] >> 4),
		Codec:     Codec(payload[0] & 0x0f),
	}
	if h.Codec == H264 {
		if len(payload) < 2 {
			return Header{}, errors.New("video: AVC payload without packet type")
		}
		h.PacketType = AVCPacketType(payload[1])
	}
	return h, nil
}

// IsSequenceHeader reports whether payload is an AVC sequence header (the decoder configuration record).
func IsSequenceHeader(payload []byte) bool {
	h, err := ParseHeader(payload)
	return err == nil && h.Codec == H264 && h.PacketType == AVCSequenceHeader
}

// IsKeyFrame reports whether payload starts a group of pictures.
func IsKeyFrame(payload []byte) bool {
	h, err := ParseHeader(payload)
	return err == nil && h.FrameType == KeyFrame
}
