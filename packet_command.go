package rtmp

import (
	"github.com/pkg/errors"
	"github.com/torresjeff/rtmp-protocol/amf/amf0"
)

func encodeCommand(name string, values ...interface{}) ([]byte, error) {
	b, err := amf0.EncodeAll(append([]interface{}{name}, values...)...)
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s", name)
	}
	return b, nil
}

// ConnectPacket is the first command a client sends, asking to connect to an application.
type ConnectPacket struct {
	TransactionID float64
	// CommandObject holds app, tcUrl, flashVer and the other connection properties.
	CommandObject amf0.Object
	// Args is optional user data. It is only kept when it's an object.
	Args amf0.Object
}

func NewConnectPacket(commandObject amf0.Object) *ConnectPacket {
	return &ConnectPacket{TransactionID: TransactionConnect, CommandObject: commandObject}
}

func (p *ConnectPacket) MessageType() MessageType { return CommandMessageAMF0 }
func (p *ConnectPacket) ChunkStreamID() uint32    { return CommandChannel }

func (p *ConnectPacket) MarshalPacket() ([]byte, error) {
	if p.Args != nil {
		return encodeCommand(CommandConnect, p.TransactionID, p.CommandObject, p.Args)
	}
	return encodeCommand(CommandConnect, p.TransactionID, p.CommandObject)
}

func (p *ConnectPacket) UnmarshalPacket(payload []byte) error {
	d := newCommandDecoder(payload)
	d.readName(CommandConnect)
	p.TransactionID = d.readNumber("transaction id")
	p.CommandObject = d.readObject("command object")
	p.Args = nil
	if d.more() {
		p.Args, _ = d.readValue("args").(amf0.Object)
	}
	return d.err
}

// ConnectResultPacket is the server's answer to connect.
type ConnectResultPacket struct {
	TransactionID float64
	// Properties holds fmsVer, capabilities and mode.
	Properties amf0.Object
	// Info holds level, code and description.
	Info amf0.Object
}

func NewConnectResultPacket() *ConnectResultPacket {
	return &ConnectResultPacket{TransactionID: TransactionConnect}
}

func (p *ConnectResultPacket) MessageType() MessageType { return CommandMessageAMF0 }
func (p *ConnectResultPacket) ChunkStreamID() uint32    { return CommandChannel }

func (p *ConnectResultPacket) MarshalPacket() ([]byte, error) {
	return encodeCommand(CommandResult, p.TransactionID, p.Properties, p.Info)
}

func (p *ConnectResultPacket) UnmarshalPacket(payload []byte) error {
	d := newCommandDecoder(payload)
	d.readName(CommandResult)
	p.TransactionID = d.readNumber("transaction id")

	// Red5 sends null instead of the properties object.
	p.Properties, _ = d.readValue("properties").(amf0.Object)
	p.Info = d.readObject("info")
	return d.err
}

// CallPacket is any command this package has no dedicated packet for.
type CallPacket struct {
	CommandName   string
	TransactionID float64
	// CommandObject is usually null.
	CommandObject interface{}
	Arguments     []interface{}
}

func (p *CallPacket) MessageType() MessageType { return CommandMessageAMF0 }
func (p *CallPacket) ChunkStreamID() uint32    { return CommandChannel }

func (p *CallPacket) MarshalPacket() ([]byte, error) {
	if p.CommandName == "" {
		return nil, errors.Wrap(ErrMalformedPacket, "empty command name")
	}
	return encodeCommand(p.CommandName, append([]interface{}{p.TransactionID, p.CommandObject}, p.Arguments...)...)
}

func (p *CallPacket) UnmarshalPacket(payload []byte) error {
	d := newCommandDecoder(payload)
	p.CommandName = d.readString("command name")
	if d.err == nil && p.CommandName == "" {
		return errors.Wrap(ErrMalformedPacket, "empty command name")
	}
	p.TransactionID = d.readNumber("transaction id")

	p.CommandObject = nil
	p.Arguments = nil
	if d.more() {
		p.CommandObject = d.readValue("command object")
	}
	for d.more() {
		p.Arguments = append(p.Arguments, d.readValue("argument"))
	}
	return d.err
}

// CallResultPacket is a _result or _error answering a command that has no dedicated result packet.
type CallResultPacket struct {
	// CommandName is _result or _error.
	CommandName   string
	TransactionID float64
	CommandObject interface{}
	Response      []interface{}
}

func (p *CallResultPacket) MessageType() MessageType { return CommandMessageAMF0 }
func (p *CallResultPacket) ChunkStreamID() uint32    { return CommandChannel }

func (p *CallResultPacket) MarshalPacket() ([]byte, error) {
	name := p.CommandName
	if name == "" {
		name = CommandResult
	}
	return encodeCommand(name, append([]interface{}{p.TransactionID, p.CommandObject}, p.Response...)...)
}

func (p *CallResultPacket) UnmarshalPacket(payload []byte) error {
	d := newCommandDecoder(payload)
	p.CommandName = d.readName(CommandResult, CommandError)
	p.TransactionID = d.readNumber("transaction id")

	p.CommandObject = nil
	p.Response = nil
	if d.more() {
		p.CommandObject = d.readValue("command object")
	}
	for d.more() {
		p.Response = append(p.Response, d.readValue("response"))
	}
	return d.err
}

// IsError reports whether the peer answered with _error.
func (p *CallResultPacket) IsError() bool {
	return p.CommandName == CommandError
}

type CreateStreamPacket struct {
	TransactionID float64
}

func NewCreateStreamPacket() *CreateStreamPacket {
	return &CreateStreamPacket{TransactionID: TransactionCreateStream}
}

func (p *CreateStreamPacket) MessageType() MessageType { return CommandMessageAMF0 }
func (p *CreateStreamPacket) ChunkStreamID() uint32    { return CommandChannel }

func (p *CreateStreamPacket) MarshalPacket() ([]byte, error) {
	return encodeCommand(CommandCreateStream, p.TransactionID, nil)
}

func (p *CreateStreamPacket) UnmarshalPacket(payload []byte) error {
	d := newCommandDecoder(payload)
	d.readName(CommandCreateStream)
	p.TransactionID = d.readNumber("transaction id")
	d.readNull("command object")
	return d.err
}

// CreateStreamResultPacket carries the message stream id the server allocated.
type CreateStreamResultPacket struct {
	TransactionID float64
	StreamID      float64
}

func (p *CreateStreamResultPacket) MessageType() MessageType { return CommandMessageAMF0 }
func (p *CreateStreamResultPacket) ChunkStreamID() uint32    { return CommandChannel }

func (p *CreateStreamResultPacket) MarshalPacket() ([]byte, error) {
	return encodeCommand(CommandResult, p.TransactionID, nil, p.StreamID)
}

func (p *CreateStreamResultPacket) UnmarshalPacket(payload []byte) error {
	d := newCommandDecoder(payload)
	d.readName(CommandResult)
	p.TransactionID = d.readNumber("transaction id")
	d.readNull("command object")
	p.StreamID = d.readNumber("stream id")
	return d.err
}

// CloseStreamPacket is sent by players to stop playing.
type CloseStreamPacket struct {
	TransactionID float64
}

func (p *CloseStreamPacket) MessageType() MessageType { return CommandMessageAMF0 }
func (p *CloseStreamPacket) ChunkStreamID() uint32    { return StreamChannel }

func (p *CloseStreamPacket) MarshalPacket() ([]byte, error) {
	return encodeCommand(CommandCloseStream, p.TransactionID, nil)
}

func (p *CloseStreamPacket) UnmarshalPacket(payload []byte) error {
	d := newCommandDecoder(payload)
	d.readName(CommandCloseStream)
	p.TransactionID = d.readNumber("transaction id")
	d.readNull("command object")
	return d.err
}

// FMLEStartPacket is one of releaseStream, FCPublish or FCUnpublish, sent by encoders around publish.
type FMLEStartPacket struct {
	CommandName   string
	TransactionID float64
	StreamName    string
}

func NewReleaseStreamPacket(stream string) *FMLEStartPacket {
	return &FMLEStartPacket{CommandName: CommandReleaseStream, TransactionID: TransactionReleaseStream, StreamName: stream}
}

func NewFCPublishPacket(stream string) *FMLEStartPacket {
	return &FMLEStartPacket{CommandName: CommandFCPublish, TransactionID: TransactionFCPublish, StreamName: stream}
}

func NewFCUnpublishPacket(stream string) *FMLEStartPacket {
	return &FMLEStartPacket{CommandName: CommandFCUnpublish, StreamName: stream}
}

func (p *FMLEStartPacket) MessageType() MessageType { return CommandMessageAMF0 }
func (p *FMLEStartPacket) ChunkStreamID() uint32    { return CommandChannel }

func (p *FMLEStartPacket) MarshalPacket() ([]byte, error) {
	return encodeCommand(p.CommandName, p.TransactionID, nil, p.StreamName)
}

func (p *FMLEStartPacket) UnmarshalPacket(payload []byte) error {
	d := newCommandDecoder(payload)
	p.CommandName = d.readName(CommandReleaseStream, CommandFCPublish, CommandFCUnpublish)
	p.TransactionID = d.readNumber("transaction id")
	d.readNull("command object")
	p.StreamName = d.readString("stream name")
	return d.err
}

// FMLEStartResultPacket answers releaseStream, FCPublish and FCUnpublish.
type FMLEStartResultPacket struct {
	TransactionID float64
}

func (p *FMLEStartResultPacket) MessageType() MessageType { return CommandMessageAMF0 }
func (p *FMLEStartResultPacket) ChunkStreamID() uint32    { return CommandChannel }

func (p *FMLEStartResultPacket) MarshalPacket() ([]byte, error) {
	return encodeCommand(CommandResult, p.TransactionID, nil, amf0.Undefined{})
}

func (p *FMLEStartResultPacket) UnmarshalPacket(payload []byte) error {
	d := newCommandDecoder(payload)
	d.readName(CommandResult)
	p.TransactionID = d.readNumber("transaction id")
	d.readNull("command object")
	// Usually undefined. Some servers send null or nothing at all.
	if d.more() {
		d.readValue("response")
	}
	return d.err
}

type PublishPacket struct {
	TransactionID float64
	StreamName    string
	// Type is live, record or append.
	Type string
}

func NewPublishPacket(stream string) *PublishPacket {
	return &PublishPacket{TransactionID: TransactionPublish, StreamName: stream, Type: "live"}
}

func (p *PublishPacket) MessageType() MessageType { return CommandMessageAMF0 }
func (p *PublishPacket) ChunkStreamID() uint32    { return StreamChannel }

func (p *PublishPacket) MarshalPacket() ([]byte, error) {
	return encodeCommand(CommandPublish, p.TransactionID, nil, p.StreamName, p.Type)
}

func (p *PublishPacket) UnmarshalPacket(payload []byte) error {
	d := newCommandDecoder(payload)
	d.readName(CommandPublish)
	p.TransactionID = d.readNumber("transaction id")
	d.readNull("command object")
	p.StreamName = d.readString("stream name")
	p.Type = "live"
	if d.more() {
		p.Type = d.readString("publishing type")
	}
	return d.err
}

type PausePacket struct {
	TransactionID float64
	IsPause       bool
	// TimeMs is the stream time at which the stream was paused or resumed.
	TimeMs float64
}

func (p *PausePacket) MessageType() MessageType { return CommandMessageAMF0 }
func (p *PausePacket) ChunkStreamID() uint32    { return StreamChannel }

func (p *PausePacket) MarshalPacket() ([]byte, error) {
	return encodeCommand(CommandPause, p.TransactionID, nil, p.IsPause, p.TimeMs)
}

func (p *PausePacket) UnmarshalPacket(payload []byte) error {
	d := newCommandDecoder(payload)
	d.readName(CommandPause)
	p.TransactionID = d.readNumber("transaction id")
	d.readNull("command object")
	p.IsPause = d.readBoolean("pause")
	p.TimeMs = d.readNumber("time")
	return d.err
}

// Defaults of the optional play arguments.
const (
	PlayStartLiveOrRecorded float64 = -2
	PlayDurationAll         float64 = -1
)

type PlayPacket struct {
	TransactionID float64
	StreamName    string
	// Start is -2 for live or recorded, -1 for live only, or a position in seconds.
	Start float64
	// Duration is -1 to play until the end, or a duration in seconds.
	Duration float64
	// Reset flushes any previous playlist.
	Reset bool
}

func NewPlayPacket(stream string) *PlayPacket {
	return &PlayPacket{StreamName: stream, Start: PlayStartLiveOrRecorded, Duration: PlayDurationAll, Reset: true}
}

func (p *PlayPacket) MessageType() MessageType { return CommandMessageAMF0 }
func (p *PlayPacket) ChunkStreamID() uint32    { return StreamChannel }

// MarshalPacket leaves out the trailing arguments that hold their default value.
func (p *PlayPacket) MarshalPacket() ([]byte, error) {
	values := []interface{}{p.TransactionID, nil, p.StreamName}
	if p.Start != PlayStartLiveOrRecorded || p.Duration != PlayDurationAll || !p.Reset {
		values = append(values, p.Start)
	}
	if p.Duration != PlayDurationAll || !p.Reset {
		values = append(values, p.Duration)
	}
	if !p.Reset {
		values = append(values, p.Reset)
	}
	return encodeCommand(CommandPlay, values...)
}

func (p *PlayPacket) UnmarshalPacket(payload []byte) error {
	d := newCommandDecoder(payload)
	d.readName(CommandPlay)
	p.TransactionID = d.readNumber("transaction id")
	d.readNull("command object")
	p.StreamName = d.readString("stream name")

	p.Start = PlayStartLiveOrRecorded
	p.Duration = PlayDurationAll
	p.Reset = true
	if d.more() {
		p.Start = d.readNumber("start")
	}
	if d.more() {
		p.Duration = d.readNumber("duration")
	}
	if d.more() {
		// Flash sends a boolean, some players a number.
		switch v := d.readValue("reset").(type) {
		case bool:
			p.Reset = v
		case float64:
			p.Reset = v != 0
		default:
			if d.err == nil {
				d.err = errors.Wrapf(ErrMalformedPacket, "reset must be a boolean or a number, got %T", v)
			}
		}
	}
	return d.err
}

// PlayResultPacket answers play.
type PlayResultPacket struct {
	TransactionID float64
	Desc          amf0.Object
}

func (p *PlayResultPacket) MessageType() MessageType { return CommandMessageAMF0 }
func (p *PlayResultPacket) ChunkStreamID() uint32    { return StreamChannel }

func (p *PlayResultPacket) MarshalPacket() ([]byte, error) {
	return encodeCommand(CommandResult, p.TransactionID, nil, p.Desc)
}

func (p *PlayResultPacket) UnmarshalPacket(payload []byte) error {
	d := newCommandDecoder(payload)
	d.readName(CommandResult)
	p.TransactionID = d.readNumber("transaction id")
	d.readNull("command object")
	p.Desc = d.readObject("description")
	return d.err
}

// OnBWDonePacket is sent by servers after connect. Flash players wait for it before checking bandwidth.
type OnBWDonePacket struct{}

func (p *OnBWDonePacket) MessageType() MessageType { return CommandMessageAMF0 }
func (p *OnBWDonePacket) ChunkStreamID() uint32    { return CommandChannel }

func (p *OnBWDonePacket) MarshalPacket() ([]byte, error) {
	return encodeCommand(CommandOnBWDone, 0, nil)
}

func (p *OnBWDonePacket) UnmarshalPacket(payload []byte) error {
	d := newCommandDecoder(payload)
	d.readName(CommandOnBWDone)
	d.readNumber("transaction id")
	if d.more() {
		d.readNull("command object")
	}
	return d.err
}

// OnStatusCallPacket is an onStatus command, the way servers report stream state changes.
type OnStatusCallPacket struct {
	TransactionID float64
	// Data holds level, code and description, plus anything else the sender adds.
	Data amf0.Object
}

func NewOnStatusCallPacket(level, code, description string) *OnStatusCallPacket {
	return &OnStatusCallPacket{Data: amf0.Object{
		{Key: "level", Value: level},
		{Key: "code", Value: code},
		{Key: "description", Value: description},
	}}
}

func (p *OnStatusCallPacket) MessageType() MessageType { return CommandMessageAMF0 }
func (p *OnStatusCallPacket) ChunkStreamID() uint32    { return StreamChannel }

func (p *OnStatusCallPacket) MarshalPacket() ([]byte, error) {
	return encodeCommand(CommandOnStatus, p.TransactionID, nil, p.Data)
}

func (p *OnStatusCallPacket) UnmarshalPacket(payload []byte) error {
	d := newCommandDecoder(payload)
	d.readName(CommandOnStatus)
	p.TransactionID = d.readNumber("transaction id")
	d.readNull("command object")
	p.Data = d.readObject("data")
	return d.err
}

// Code returns the status code, like NetStream.Play.Start.
func (p *OnStatusCallPacket) Code() string {
	code, _ := p.Data.GetString("code")
	return code
}

// OnStatusDataPacket is an onStatus sent as a data message.
type OnStatusDataPacket struct {
	Data amf0.Object
}

func (p *OnStatusDataPacket) MessageType() MessageType { return DataMessageAMF0 }
func (p *OnStatusDataPacket) ChunkStreamID() uint32    { return StreamChannel }

func (p *OnStatusDataPacket) MarshalPacket() ([]byte, error) {
	return encodeCommand(DataOnStatus, p.Data)
}

func (p *OnStatusDataPacket) UnmarshalPacket(payload []byte) error {
	d := newCommandDecoder(payload)
	d.readName(DataOnStatus)
	p.Data = d.readObject("data")
	return d.err
}

// SampleAccessPacket tells a Flash player whether it may access the raw audio and video data.
type SampleAccessPacket struct {
	VideoSampleAccess bool
	AudioSampleAccess bool
}

func (p *SampleAccessPacket) MessageType() MessageType { return DataMessageAMF0 }
func (p *SampleAccessPacket) ChunkStreamID() uint32    { return StreamChannel }

func (p *SampleAccessPacket) MarshalPacket() ([]byte, error) {
	return encodeCommand(DataSampleAccess, p.VideoSampleAccess, p.AudioSampleAccess)
}

func (p *SampleAccessPacket) UnmarshalPacket(payload []byte) error {
	d := newCommandDecoder(payload)
	d.readName(DataSampleAccess)
	p.VideoSampleAccess = d.readBoolean("video sample access")
	p.AudioSampleAccess = d.readBoolean("audio sample access")
	return d.err
}

// OnMetaDataPacket carries stream metadata. Encoders send it wrapped in @setDataFrame, which is removed here.
type OnMetaDataPacket struct {
	Metadata amf0.Object
}

func (p *OnMetaDataPacket) MessageType() MessageType { return DataMessageAMF0 }
func (p *OnMetaDataPacket) ChunkStreamID() uint32    { return CommandChannel2 }

func (p *OnMetaDataPacket) MarshalPacket() ([]byte, error) {
	return encodeCommand(DataOnMetaData, p.Metadata)
}

func (p *OnMetaDataPacket) UnmarshalPacket(payload []byte) error {
	d := newCommandDecoder(payload)
	name := d.readName(DataSetDataFrame, DataOnMetaData)
	if d.err == nil && name == DataSetDataFrame {
		// onMetaData, though not every encoder spells it the same
		d.readString("metadata name")
	}

	p.Metadata = nil
	if d.more() {
		p.Metadata = toObject(d.readValue("metadata"))
	}
	return d.err
}

// DataPacket is any data message this package has no dedicated packet for.
type DataPacket struct {
	Name   string
	Values []interface{}
}

func (p *DataPacket) MessageType() MessageType { return DataMessageAMF0 }
func (p *DataPacket) ChunkStreamID() uint32    { return StreamDataChannel }

func (p *DataPacket) MarshalPacket() ([]byte, error) {
	return encodeCommand(p.Name, p.Values...)
}

func (p *DataPacket) UnmarshalPacket(payload []byte) error {
	d := newCommandDecoder(payload)
	p.Name = d.readString("name")
	p.Values = nil
	for d.more() {
		p.Values = append(p.Values, d.readValue("value"))
	}
	return d.err
}
