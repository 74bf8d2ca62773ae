package rtmp

import (
	"bytes"
	"io"

	"github.com/pkg/errors"
	"github.com/torresjeff/rtmp-protocol/rand"
)

var ErrUnsupportedRTMPVersion error = errors.New("The version of RTMP is not supported")
var ErrWrongC2Message error = errors.New("server handshake: s1 and c2 handshake messages do not match")
var ErrWrongS2Message error = errors.New("client handshake: c1 and s2 handshake messages do not match")

const RtmpVersion3 = 3

// handshakeSize is the size of C1, S1, C2 and S2.
const handshakeSize = 1536

// ServerHandshaker is the plain (digest-less) handshake as done by a server: read C0C1, send S0S1S2, read C2.
type ServerHandshaker struct {
	// Strict fails the handshake when C2 doesn't echo S1. Flash players using the digest handshake
	// don't echo it, so it's off by default.
	Strict bool
}

func (h ServerHandshaker) Handshake(reader io.Reader, writer io.Writer) error {
	c1, err := readC0C1(reader)
	if err != nil {
		return err
	}
	s1, err := sendS0S1S2(writer, c1)
	if err != nil {
		return err
	}
	c2, err := readC2(reader)
	if err != nil {
		return err
	}

	if h.Strict && !bytes.Equal(s1, c2) {
		return ErrWrongC2Message
	}

	return nil
}

// ClientHandshaker is the plain handshake as done by a client: send C0C1, read S0S1S2, send C2.
type ClientHandshaker struct {
	Strict bool
}

func (h ClientHandshaker) Handshake(reader io.Reader, writer io.Writer) error {
	c1, err := sendC0C1(writer)
	if err != nil {
		return err
	}
	s1, s2, err := readS0S1S2(reader)
	if err != nil {
		return err
	}
	if h.Strict && !bytes.Equal(c1, s2) {
		return ErrWrongS2Message
	}
	return sendC2(writer, s1)
}

func sendC2(writer io.Writer, s1 []byte) error {
	var c2 [handshakeSize]byte
	copy(c2[:], s1)
	return send(writer, c2[:], "send c2")
}

// Returns s1 and s2
func readS0S1S2(reader io.Reader) ([]byte, []byte, error) {
	var s0s1s2 [1 + 2*handshakeSize]byte

	if _, err := io.ReadFull(reader, s0s1s2[:]); err != nil {
		return nil, nil, ioError(err, "read s0s1s2")
	}

	if s0s1s2[0] != RtmpVersion3 {
		return nil, nil, errors.Wrapf(ErrUnsupportedRTMPVersion, "version %d", s0s1s2[0])
	}

	return s0s1s2[1 : 1+handshakeSize], s0s1s2[1+handshakeSize:], nil
}

// Returns the C1 message that was sent
func sendC0C1(writer io.Writer) ([]byte, error) {
	var c0c1 [1 + handshakeSize]byte
	c0c1[0] = RtmpVersion3
	if err := generateRandomData(c0c1[1:]); err != nil {
		return nil, err
	}

	if err := send(writer, c0c1[:], "send c0c1"); err != nil {
		return nil, err
	}

	return c0c1[1:], nil
}

// If successful returns the C1 handshake data (random data sent by the client), it does not return c0 + c1.
func readC0C1(reader io.Reader) ([]byte, error) {
	var c0c1 [1 + handshakeSize]byte

	if _, err := io.ReadFull(reader, c0c1[:]); err != nil {
		return nil, ioError(err, "read c0c1")
	}

	if c0c1[0] != RtmpVersion3 {
		return nil, errors.Wrapf(ErrUnsupportedRTMPVersion, "version %d", c0c1[0])
	}

	return c0c1[1:], nil
}

func readC2(reader io.Reader) ([]byte, error) {
	var c2 [handshakeSize]byte
	if _, err := io.ReadFull(reader, c2[:]); err != nil {
		return nil, ioError(err, "read c2")
	}
	return c2[:], nil
}

// Sends the s0, s1, and s2 sequence and returns the s1 message that was generated
func sendS0S1S2(writer io.Writer, c1 []byte) ([]byte, error) {
	var s0s1s2 [1 + 2*handshakeSize]byte
	s0s1s2[0] = RtmpVersion3
	if err := generateRandomData(s0s1s2[1 : 1+handshakeSize]); err != nil {
		return nil, err
	}
	// s2 echoes c1
	copy(s0s1s2[1+handshakeSize:], c1)

	if err := send(writer, s0s1s2[:], "send s0s1s2"); err != nil {
		return nil, err
	}
	return s0s1s2[1 : 1+handshakeSize], nil
}

// generateRandomData fills a C1 or S1 message. The time and zero fields (first 8 bytes) are left at 0.
func generateRandomData(b []byte) error {
	return errors.Wrap(rand.GenerateCryptoSafeRandomData(b[8:]), "generate handshake data")
}

func send(writer io.Writer, b []byte, step string) error {
	if _, err := writer.Write(b); err != nil {
		return ioError(err, step)
	}
	if f, ok := writer.(Flusher); ok {
		if err := f.Flush(); err != nil {
			return ioError(err, step)
		}
	}
	return nil
}
