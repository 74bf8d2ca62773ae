package amf0

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/pkg/errors"
)

// Decode returns the first value encoded in b.
// Possible return types: float64, bool, string, Object, ECMAArray, StrictArray, nil, Undefined, time.Time.
// Numbers are always returned as float64.
func Decode(b []byte) (interface{}, error) {
	v, _, err := decodeValue(b, 0)
	return v, err
}

// DecodeAll decodes every value in b, in order.
func DecodeAll(b []byte) ([]interface{}, error) {
	var values []interface{}
	for len(b) > 0 {
		v, n, err := decodeValue(b, 0)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
		b = b[n:]
	}
	return values, nil
}

// Decoder reads AMF0 values one after another from a message payload.
type Decoder struct {
	buf []byte
	pos int
}

func NewDecoder(b []byte) *Decoder {
	return &Decoder{buf: b}
}

// Len returns the number of bytes not read yet.
func (d *Decoder) Len() int {
	return len(d.buf) - d.pos
}

func (d *Decoder) Empty() bool {
	return d.Len() == 0
}

// Skip discards the next n bytes.
func (d *Decoder) Skip(n int) error {
	if d.Len() < n {
		return ErrBufferTooShort
	}
	d.pos += n
	return nil
}

// ReadValue decodes the next value, whatever its type.
func (d *Decoder) ReadValue() (interface{}, error) {
	v, n, err := decodeValue(d.buf[d.pos:], 0)
	if err != nil {
		return nil, err
	}
	d.pos += n
	return v, nil
}

func (d *Decoder) ReadString() (string, error) {
	if err := d.expect(TypeString, TypeLongString); err != nil {
		return "", err
	}
	v, err := d.ReadValue()
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (d *Decoder) ReadNumber() (float64, error) {
	if err := d.expect(TypeNumber); err != nil {
		return 0, err
	}
	v, err := d.ReadValue()
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}

func (d *Decoder) ReadBoolean() (bool, error) {
	if err := d.expect(TypeBoolean); err != nil {
		return false, err
	}
	v, err := d.ReadValue()
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

func (d *Decoder) ReadNull() error {
	if err := d.expect(TypeNull); err != nil {
		return err
	}
	d.pos++
	return nil
}

func (d *Decoder) ReadUndefined() error {
	if err := d.expect(TypeUndefined); err != nil {
		return err
	}
	d.pos++
	return nil
}

func (d *Decoder) ReadObject() (Object, error) {
	if err := d.expect(TypeObject); err != nil {
		return nil, err
	}
	v, err := d.ReadValue()
	if err != nil {
		return nil, err
	}
	return v.(Object), nil
}

func (d *Decoder) expect(markers ...byte) error {
	if d.Empty() {
		return ErrBufferTooShort
	}
	got := d.buf[d.pos]
	for _, m := range markers {
		if got == m {
			return nil
		}
	}
	return errors.Wrapf(ErrUnexpectedType, "got marker 0x%02x, want 0x%02x", got, markers[0])
}

// decodeValue returns the value at the start of b and the number of bytes it spans.
func decodeValue(b []byte, depth int) (interface{}, int, error) {
	if len(b) < 1 {
		return nil, 0, ErrBufferTooShort
	}
	if depth > maxDepth {
		return nil, 0, errors.Errorf("amf0: nesting deeper than %d levels", maxDepth)
	}

	switch b[0] {
	case TypeNumber:
		if len(b) < 9 {
			return nil, 0, ErrBufferTooShort
		}
		return math.Float64frombits(binary.BigEndian.Uint64(b[1:9])), 9, nil
	case TypeBoolean:
		if len(b) < 2 {
			return nil, 0, ErrBufferTooShort
		}
		return b[1] != 0, 2, nil
	case TypeString:
		s, n, err := decodeUTF8(b[1:])
		return s, 1 + n, err
	case TypeLongString, TypeXMLDocument:
		if len(b) < 5 {
			return nil, 0, ErrBufferTooShort
		}
		length := binary.BigEndian.Uint32(b[1:5])
		if uint64(len(b)-5) < uint64(length) {
			return nil, 0, ErrBufferTooShort
		}
		return string(b[5 : 5+length]), 5 + int(length), nil
	case TypeObject:
		entries, n, err := decodeProperties(b[1:], depth)
		if err != nil {
			return nil, 0, err
		}
		return Object(entries), 1 + n, nil
	case TypeECMAArray:
		if len(b) < 5 {
			return nil, 0, ErrBufferTooShort
		}
		// The associative count is only a hint; the object end marker terminates the array.
		entries, n, err := decodeProperties(b[5:], depth)
		if err != nil {
			return nil, 0, err
		}
		return ECMAArray(entries), 5 + n, nil
	case TypeStrictArray:
		if len(b) < 5 {
			return nil, 0, ErrBufferTooShort
		}
		count := binary.BigEndian.Uint32(b[1:5])
		off := 5
		arr := StrictArray{}
		for i := uint32(0); i < count; i++ {
			v, n, err := decodeValue(b[off:], depth+1)
			if err != nil {
				return nil, 0, err
			}
			arr = append(arr, v)
			off += n
		}
		return arr, off, nil
	case TypeNull:
		return nil, 1, nil
	case TypeUndefined:
		return Undefined{}, 1, nil
	case TypeDate:
		if len(b) < 11 {
			return nil, 0, ErrBufferTooShort
		}
		// Milliseconds since the epoch as a double, then a 2 byte time zone that is always 0.
		ms := math.Float64frombits(binary.BigEndian.Uint64(b[1:9]))
		return time.Unix(0, int64(ms)*int64(time.Millisecond)).UTC(), 11, nil
	default:
		return nil, 0, errors.Wrapf(ErrUnsupportedType, "marker 0x%02x", b[0])
	}
}

// decodeProperties reads key/value pairs until the object end marker (an empty key followed by 0x09).
func decodeProperties(b []byte, depth int) ([]ObjectEntry, int, error) {
	entries := []ObjectEntry{}
	off := 0
	for {
		key, n, err := decodeUTF8(b[off:])
		if err != nil {
			return nil, 0, err
		}
		off += n
		if key == "" {
			if len(b) < off+1 {
				return nil, 0, ErrBufferTooShort
			}
			if b[off] != TypeObjectEnd {
				return nil, 0, errors.Wrap(ErrUnexpectedType, "object end not found")
			}
			return entries, off + 1, nil
		}

		v, n, err := decodeValue(b[off:], depth+1)
		if err != nil {
			return nil, 0, err
		}
		off += n
		entries = append(entries, ObjectEntry{Key: key, Value: v})
	}
}

// decodeUTF8 reads a string without type marker: 2 bytes of length followed by the bytes.
func decodeUTF8(b []byte) (string, int, error) {
	if len(b) < 2 {
		return "", 0, ErrBufferTooShort
	}
	length := int(binary.BigEndian.Uint16(b))
	if len(b) < 2+length {
		return "", 0, ErrBufferTooShort
	}
	return string(b[2 : 2+length]), 2 + length, nil
}
