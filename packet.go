package rtmp

import (
	"github.com/pkg/errors"
	"github.com/torresjeff/rtmp-protocol/amf/amf0"
)

// Packet is a command, data or protocol control message in decoded form. Each packet knows its message type,
// the chunk stream id it's usually sent on and its payload layout.
type Packet interface {
	MessageType() MessageType
	ChunkStreamID() uint32
	MarshalPacket() ([]byte, error)
	UnmarshalPacket(payload []byte) error
}

// Command names.
const (
	CommandConnect       = "connect"
	CommandCreateStream  = "createStream"
	CommandCloseStream   = "closeStream"
	CommandDeleteStream  = "deleteStream"
	CommandPlay          = "play"
	CommandPause         = "pause"
	CommandOnBWDone      = "onBWDone"
	CommandOnStatus      = "onStatus"
	CommandResult        = "_result"
	CommandError         = "_error"
	CommandReleaseStream = "releaseStream"
	CommandFCPublish     = "FCPublish"
	CommandFCUnpublish   = "FCUnpublish"
	CommandOnFCPublish   = "onFCPublish"
	CommandOnFCUnpublish = "onFCUnpublish"
	CommandPublish       = "publish"
)

// Data message names.
const (
	DataSetDataFrame = "@setDataFrame"
	DataOnMetaData   = "onMetaData"
	DataSampleAccess = "|RtmpSampleAccess"
	DataOnStatus     = "onStatus"
)

// Status codes sent in onStatus and _result info objects.
const (
	StatusLevel = "status"
	ErrorLevel  = "error"

	NetConnectionConnectSuccess  = "NetConnection.Connect.Success"
	NetConnectionConnectFailed   = "NetConnection.Connect.Failed"
	NetConnectionConnectRejected = "NetConnection.Connect.Rejected"

	NetStreamPublishStart       = "NetStream.Publish.Start"
	NetStreamPublishBadName     = "NetStream.Publish.BadName"
	NetStreamUnpublishSuccess   = "NetStream.Unpublish.Success"
	NetStreamPlayReset          = "NetStream.Play.Reset"
	NetStreamPlayStart          = "NetStream.Play.Start"
	NetStreamPlayStop           = "NetStream.Play.Stop"
	NetStreamPlayStreamNotFound = "NetStream.Play.StreamNotFound"
	NetStreamDataStart          = "NetStream.Data.Start"
	NetStreamPauseNotify        = "NetStream.Pause.Notify"
	NetStreamUnpauseNotify      = "NetStream.Unpause.Notify"
)

// Transaction ids used by the commands that always run in the same order.
const (
	TransactionConnect       = 1
	TransactionReleaseStream = 2
	TransactionFCPublish     = 3
	TransactionCreateStream  = 4
	TransactionPublish       = 5
)

// commandDecoder wraps an amf0.Decoder and turns its errors into packet errors. The first error sticks, so a
// packet can read all its fields and check once.
type commandDecoder struct {
	*amf0.Decoder
	err error
}

func newCommandDecoder(payload []byte) *commandDecoder {
	return &commandDecoder{Decoder: amf0.NewDecoder(payload)}
}

func (d *commandDecoder) fail(err error, field string) {
	if d.err == nil {
		d.err = packetError(err, field)
	}
}

func (d *commandDecoder) readString(field string) string {
	if d.err != nil {
		return ""
	}
	s, err := d.ReadString()
	if err != nil {
		d.fail(err, field)
	}
	return s
}

func (d *commandDecoder) readNumber(field string) float64 {
	if d.err != nil {
		return 0
	}
	n, err := d.ReadNumber()
	if err != nil {
		d.fail(err, field)
	}
	return n
}

func (d *commandDecoder) readBoolean(field string) bool {
	if d.err != nil {
		return false
	}
	b, err := d.ReadBoolean()
	if err != nil {
		d.fail(err, field)
	}
	return b
}

func (d *commandDecoder) readNull(field string) {
	if d.err != nil {
		return
	}
	if err := d.ReadNull(); err != nil {
		d.fail(err, field)
	}
}

func (d *commandDecoder) readUndefined(field string) {
	if d.err != nil {
		return
	}
	if err := d.ReadUndefined(); err != nil {
		d.fail(err, field)
	}
}

func (d *commandDecoder) readObject(field string) amf0.Object {
	if d.err != nil {
		return nil
	}
	o, err := d.ReadObject()
	if err != nil {
		d.fail(err, field)
	}
	return o
}

func (d *commandDecoder) readValue(field string) interface{} {
	if d.err != nil {
		return nil
	}
	v, err := d.ReadValue()
	if err != nil {
		d.fail(err, field)
	}
	return v
}

// readName reads the command name and checks it's one of names.
func (d *commandDecoder) readName(names ...string) string {
	name := d.readString("command name")
	if d.err != nil {
		return name
	}
	for _, n := range names {
		if name == n {
			return name
		}
	}
	d.err = errors.Wrapf(ErrMalformedPacket, "unexpected command name %q", name)
	return name
}

// more reports whether there are optional fields left to read.
func (d *commandDecoder) more() bool {
	return d.err == nil && !d.Empty()
}

// packetError classifies a decoding error. Running out of bytes is ErrTruncated, anything else ErrMalformedPacket.
func packetError(err error, field string) error {
	if errors.Is(err, amf0.ErrBufferTooShort) {
		return errors.Wrapf(ErrTruncated, "decode %s", field)
	}
	return errors.Wrapf(ErrMalformedPacket, "decode %s: %v", field, err)
}

// toObject turns an object or ECMA array into an Object. It returns nil for anything else.
func toObject(v interface{}) amf0.Object {
	switch v := v.(type) {
	case amf0.Object:
		return v
	case amf0.ECMAArray:
		return amf0.Object(v)
	}
	return nil
}
