package amf0

import (
	"encoding/binary"
	"math"
	"sort"
	"time"

	"github.com/pkg/errors"
)

// Encode returns the AMF0 representation of v.
func Encode(v interface{}) ([]byte, error) {
	return Append(nil, v)
}

// EncodeAll encodes every value in order, as command messages lay out their arguments.
func EncodeAll(values ...interface{}) ([]byte, error) {
	var b []byte
	for _, v := range values {
		var err error
		b, err = Append(b, v)
		if err != nil {
			return nil, err
		}
	}
	return b, nil
}

// Append appends the AMF0 representation of v to b.
func Append(b []byte, v interface{}) ([]byte, error) {
	switch v := v.(type) {
	case float64:
		return appendNumber(b, v), nil
	case float32:
		return appendNumber(b, float64(v)), nil
	case int:
		return appendNumber(b, float64(v)), nil
	case int32:
		return appendNumber(b, float64(v)), nil
	case int64:
		return appendNumber(b, float64(v)), nil
	case uint8:
		return appendNumber(b, float64(v)), nil
	case uint16:
		return appendNumber(b, float64(v)), nil
	case uint32:
		return appendNumber(b, float64(v)), nil
	case uint64:
		return appendNumber(b, float64(v)), nil
	case bool:
		if v {
			return append(b, TypeBoolean, 1), nil
		}
		return append(b, TypeBoolean, 0), nil
	case string:
		if len(v) > math.MaxUint16 {
			b = append(b, TypeLongString)
			b = binary.BigEndian.AppendUint32(b, uint32(len(v)))
			return append(b, v...), nil
		}
		b = append(b, TypeString)
		return appendUTF8(b, v), nil
	case Object:
		return appendProperties(append(b, TypeObject), v)
	case map[string]interface{}:
		return appendProperties(append(b, TypeObject), sortedEntries(v))
	case ECMAArray:
		b = append(b, TypeECMAArray)
		b = binary.BigEndian.AppendUint32(b, uint32(len(v)))
		return appendProperties(b, v)
	case StrictArray:
		b = append(b, TypeStrictArray)
		b = binary.BigEndian.AppendUint32(b, uint32(len(v)))
		for _, item := range v {
			var err error
			if b, err = Append(b, item); err != nil {
				return nil, err
			}
		}
		return b, nil
	case nil:
		return append(b, TypeNull), nil
	case Undefined:
		return append(b, TypeUndefined), nil
	case time.Time:
		b = append(b, TypeDate)
		b = binary.BigEndian.AppendUint64(b, math.Float64bits(float64(v.UnixNano()/int64(time.Millisecond))))
		// time zone, always 0
		return append(b, 0, 0), nil
	default:
		return nil, errors.Wrapf(ErrUnsupportedType, "cannot encode type %T", v)
	}
}

// Size returns the number of bytes v spans once encoded, or 0 if v cannot be encoded.
func Size(v interface{}) int {
	b, err := Encode(v)
	if err != nil {
		return 0
	}
	return len(b)
}

func appendNumber(b []byte, f float64) []byte {
	b = append(b, TypeNumber)
	return binary.BigEndian.AppendUint64(b, math.Float64bits(f))
}

// appendUTF8 writes a string without its type marker, as used by object keys.
func appendUTF8(b []byte, s string) []byte {
	b = binary.BigEndian.AppendUint16(b, uint16(len(s)))
	return append(b, s...)
}

func appendProperties(b []byte, entries []ObjectEntry) ([]byte, error) {
	for _, entry := range entries {
		if len(entry.Key) > math.MaxUint16 {
			return nil, errors.Errorf("amf0: object key of %d bytes is too long", len(entry.Key))
		}
		b = appendUTF8(b, entry.Key)
		var err error
		if b, err = Append(b, entry.Value); err != nil {
			return nil, errors.Wrapf(err, "property %q", entry.Key)
		}
	}
	return append(b, 0x00, 0x00, TypeObjectEnd), nil
}

// sortedEntries gives plain maps a stable wire order.
func sortedEntries(m map[string]interface{}) []ObjectEntry {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	entries := make([]ObjectEntry, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, ObjectEntry{Key: k, Value: m[k]})
	}
	return entries
}
