package rtmp

import (
	"fmt"

	"github.com/pkg/errors"
)

// ExpectPacket receives messages until one decodes to a packet of type T, and returns it with its message.
// Every other message is discarded, which makes it suitable for the request/response steps of connecting
// (connect, createStream) and nothing else.
func ExpectPacket[T Packet](p *Protocol) (*Message, T, error) {
	var zero T
	for {
		msg, err := p.ReceiveMessage()
		if err != nil {
			return nil, zero, errors.Wrapf(err, "expect %T", zero)
		}

		packet, err := p.DecodeMessage(msg)
		if err != nil {
			return nil, zero, errors.Wrapf(err, "expect %T", zero)
		}

		if expected, ok := packet.(T); ok {
			return msg, expected, nil
		}
		p.logger.Debugw("discarding message while waiting for a packet", "expected", fmt.Sprintf("%T", zero),
			"type", msg.Type, "packet", fmt.Sprintf("%T", packet))
	}
}
