// Package amf0 encodes and decodes the AMF0 values carried by RTMP command and data messages.
package amf0

import "github.com/pkg/errors"

const (
	TypeNumber      byte = 0x00
	TypeBoolean     byte = 0x01
	TypeString      byte = 0x02
	TypeObject      byte = 0x03
	TypeMovieClip   byte = 0x04 // reserved, not supported
	TypeNull        byte = 0x05
	TypeUndefined   byte = 0x06
	TypeReference   byte = 0x07
	TypeECMAArray   byte = 0x08
	TypeObjectEnd   byte = 0x09
	TypeStrictArray byte = 0x0A
	TypeDate        byte = 0x0B
	TypeLongString  byte = 0x0C
	TypeUnsupported byte = 0x0D
	TypeRecordSet   byte = 0x0E // reserved, not supported
	TypeXMLDocument byte = 0x0F
	TypeTypedObject byte = 0x10
)

// maxDepth bounds the nesting of objects and arrays a decoder accepts.
const maxDepth = 64

var ErrBufferTooShort = errors.New("amf0: buffer is too short")
var ErrUnexpectedType = errors.New("amf0: unexpected type marker")
var ErrUnsupportedType = errors.New("amf0: unsupported type")

// ObjectEntry is a single property of an Object or ECMAArray.
type ObjectEntry struct {
	Key   string
	Value interface{}
}

// Object is an anonymous AMF0 object. Properties keep their wire order.
type Object []ObjectEntry

// ECMAArray is an associative array. It is encoded like an Object, preceded by a property count.
type ECMAArray []ObjectEntry

// StrictArray is an ordinal array.
type StrictArray []interface{}

// Undefined is the AMF0 undefined value. Null decodes to a nil interface{}.
type Undefined struct{}

// Get returns the value stored under key.
func (o Object) Get(key string) (interface{}, bool) {
	for _, entry := range o {
		if entry.Key == key {
			return entry.Value, true
		}
	}
	return nil, false
}

// GetString returns the value stored under key if it is a string.
func (o Object) GetString(key string) (string, bool) {
	v, ok := o.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// GetFloat64 returns the value stored under key if it is a number.
func (o Object) GetFloat64(key string) (float64, bool) {
	v, ok := o.Get(key)
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

// GetBool returns the value stored under key if it is a boolean.
func (o Object) GetBool(key string) (bool, bool) {
	v, ok := o.Get(key)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// Set replaces the value stored under key, or appends a new property if key is not present.
func (o Object) Set(key string, value interface{}) Object {
	for i, entry := range o {
		if entry.Key == key {
			o[i].Value = value
			return o
		}
	}
	return append(o, ObjectEntry{Key: key, Value: value})
}
