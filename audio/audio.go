// Package audio describes the first bytes of an RTMP audio message, which follow the FLV AUDIODATA layout.
package audio

import "github.com/pkg/errors"

// As defined in the FLV spec: https://www.adobe.com/content/dam/acom/en/devnet/flv/video_file_format_spec_v10_1.pdf

type Format uint8

const (
	LinearPCMPlatformEndian Format = 0
	ADPCM                   Format = 1
	MP3                     Format = 2
	LinearPCMLittleEndian   Format = 3
	Nellymoser16KHzMono     Format = 4
	Nellymoser8KHzMono      Format = 5
	Nellymoser              Format = 6
	G711AlawLogPCM          Format = 7
	G711MulawLogPCM         Format = 8
	AAC                     Format = 10
	Speex                   Format = 11
	MP38KHz                 Format = 14
	DeviceSpecificSound     Format = 15
)

type SampleRate uint8

const (
	Rate5p5KHz SampleRate = 0
	Rate11KHz  SampleRate = 1
	Rate22KHz  SampleRate = 2
	Rate44KHz  SampleRate = 3
)

type SampleSize uint8

const (
	Size8Bit  SampleSize = 0
	Size16Bit SampleSize = 1
)

type Channel uint8

const (
	Mono   Channel = 0
	Stereo Channel = 1
)

type AACPacketType uint8

const (
	AACSequenceHeader AACPacketType = 0
	AACRaw            AACPacketType = 1
)

var ErrEmptyPayload = errors.New("audio: empty payload")

// Header is the sound description carried by the first byte of every audio message.
type Header struct {
	Format     Format
	SampleRate SampleRate
	SampleSize SampleSize
	Channels   Channel
	// PacketType is only meaningful for AAC.
	PacketType AACPacketType
}

// ParseHeader reads the header at the start of payload.
func ParseHeader(payload []byte) (Header, error) {
	if len(payload) == 0 {
		return Header{}, ErrEmptyPayload
	}
	h := Header{
		Format:     Format(payload[0] >> 4),
		SampleRate: SampleRate((payload[0] >> 2) & 0x03),
		SampleSize: SampleSize((payload[0] >> 1) & 0x01),
		Channels:   Channel(payload[0] & 0x01),
	}
	if h.Format == AAC {
		if len(payload) < 2 {
			return Header{}, errors.New("audio: AAC payload without packet type")
		}
		h.PacketType = AACPacketType(payload[1])
	}
	return h, nil
}

// IsSequenceHeader reports whether payload is an AAC sequence header, which players need before any raw frame.
func IsSequenceHeader(payload []byte) bool {
	h, err := ParseHeader(payload)
	return err == nil && h.Format == AAC && h.PacketType == AACSequenceHeader
}
