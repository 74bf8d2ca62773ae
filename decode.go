package rtmp

import (
	"github.com/pkg/errors"
	"github.com/torresjeff/rtmp-protocol/amf/amf0"
)

// DecodeMessage decodes the payload of msg into a packet. Audio, video, shared object and aggregate messages
// have no packet form, for those (and for FFmpeg timecodes) a nil packet is returned with no error.
func (p *Protocol) DecodeMessage(msg *Message) (Packet, error) {
	packet, err := p.decodeMessage(msg)
	if err != nil {
		return nil, errors.Wrapf(err, "decode packet of type %d", msg.Type)
	}
	return packet, nil
}

func (p *Protocol) decodeMessage(msg *Message) (Packet, error) {
	payload := msg.Payload

	switch {
	case msg.Type.isCommand() || msg.Type.isData():
		// FFmpeg sends a 4 byte timecode as a data message.
		if len(payload) == 4 && payload[0] == 0x00 {
			p.logger.Warnw("ignoring FFmpeg timecode", "payload", payload)
			return nil, nil
		}
		if msg.Type.isAMF3() && len(payload) > 0 {
			payload = payload[1:]
		}

		packet, err := p.commandPacket(msg.Type, payload)
		if err != nil {
			return nil, err
		}
		if err := packet.UnmarshalPacket(payload); err != nil {
			return nil, err
		}
		if c, ok := packet.(*ConnectPacket); ok && c.TransactionID != TransactionConnect {
			p.logger.Warnw("connect with unexpected transaction id", "transactionID", c.TransactionID)
		}
		return packet, nil

	case msg.Type == UserControlMessage:
		return unmarshal(&UserControlPacket{}, payload)
	case msg.Type == WindowAcknowledgementSize:
		return unmarshal(&SetWindowAckSizePacket{}, payload)
	case msg.Type == Acknowledgement:
		return unmarshal(&AcknowledgementPacket{}, payload)
	case msg.Type == SetChunkSize:
		return unmarshal(&SetChunkSizePacket{}, payload)
	case msg.Type == SetPeerBandwidth:
		return unmarshal(&SetPeerBandwidthPacket{}, payload)
	case msg.Type == AbortMessage:
		return unmarshal(&AbortPacket{}, payload)
	}

	return nil, nil
}

func unmarshal(packet Packet, payload []byte) (Packet, error) {
	if err := packet.UnmarshalPacket(payload); err != nil {
		return nil, err
	}
	return packet, nil
}

// commandPacket picks the packet for a command or data message from its leading name. Results are matched
// with the command that was sent under the same transaction id.
func (p *Protocol) commandPacket(t MessageType, payload []byte) (Packet, error) {
	d := amf0.NewDecoder(payload)
	name, err := d.ReadString()
	if err != nil {
		return nil, packetError(err, "command name")
	}

	if t.isCommand() && (name == CommandResult || name == CommandError) {
		transactionID, err := d.ReadNumber()
		if err != nil {
			return nil, packetError(err, "transaction id")
		}
		request := p.requestName(transactionID)
		if name == CommandError {
			return &CallResultPacket{}, nil
		}
		switch request {
		case CommandConnect:
			return &ConnectResultPacket{}, nil
		case CommandCreateStream:
			return &CreateStreamResultPacket{}, nil
		case CommandReleaseStream, CommandFCPublish, CommandFCUnpublish:
			return &FMLEStartResultPacket{}, nil
		}
		return &CallResultPacket{}, nil
	}

	switch name {
	case CommandConnect:
		return commandOrData(t, &ConnectPacket{}), nil
	case CommandCreateStream:
		return commandOrData(t, &CreateStreamPacket{}), nil
	case CommandPlay:
		return commandOrData(t, &PlayPacket{}), nil
	case CommandPause:
		return commandOrData(t, &PausePacket{}), nil
	case CommandReleaseStream, CommandFCPublish, CommandFCUnpublish:
		return commandOrData(t, &FMLEStartPacket{}), nil
	case CommandPublish:
		return commandOrData(t, &PublishPacket{}), nil
	case CommandCloseStream:
		return commandOrData(t, &CloseStreamPacket{}), nil
	case CommandOnBWDone:
		return commandOrData(t, &OnBWDonePacket{}), nil
	case DataSetDataFrame, DataOnMetaData:
		return &OnMetaDataPacket{}, nil
	case DataSampleAccess:
		if t.isData() {
			return &SampleAccessPacket{}, nil
		}
	case CommandOnStatus:
		if t.isData() {
			return &OnStatusDataPacket{}, nil
		}
		return &OnStatusCallPacket{}, nil
	}

	if t.isCommand() {
		return &CallPacket{}, nil
	}
	return &DataPacket{}, nil
}

// commandOrData keeps command names that arrive in data messages generic.
func commandOrData(t MessageType, packet Packet) Packet {
	if t.isCommand() {
		return packet
	}
	return &DataPacket{}
}
