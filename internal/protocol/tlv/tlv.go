// Package tlv encodes typed fields as id(2) type(1) length(4) value, big-endian.
package tlv

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const HeaderLen = 7

var (
	ErrShortFieldHeader = errors.New("tlv: short field header")
	ErrShortFieldValue  = errors.New("tlv: short field value")
	ErrFieldType        = errors.New("tlv: field type mismatch")
)

type Type uint8

const (
	TypeU8      Type = 1
	TypeString  Type = 6
	TypeBytes   Type = 7
	TypeFloat64 Type = 8
	TypeJSON    Type = 9
)

func (t Type) String() string {
	switch t {
	case TypeU8:
		return "u8"
	case TypeString:
		return "string"
	case TypeBytes:
		return "bytes"
	case TypeFloat64:
		return "float64"
	case TypeJSON:
		return "json"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// Field is one decoded TLV field.
type Field struct {
	ID    uint16
	Type  Type
	Value []byte
}

func U8(id uint16, v uint8) Field {
	return Field{ID: id, Type: TypeU8, Value: []byte{v}}
}

func String(id uint16, v string) Field {
	return Field{ID: id, Type: TypeString, Value: []byte(v)}
}

func Float64(id uint16, v float64) Field {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, math.Float64bits(v))
	return Field{ID: id, Type: TypeFloat64, Value: buf}
}

// JSON carries an already encoded JSON value.
func JSON(id uint16, raw []byte) Field {
	return Field{ID: id, Type: TypeJSON, Value: raw}
}

func (f Field) AsU8() (uint8, error) {
	if err := f.expect(TypeU8, 1); err != nil {
		return 0, err
	}
	return f.Value[0], nil
}

func (f Field) AsString() (string, error) {
	if err := f.expect(TypeString, -1); err != nil {
		return "", err
	}
	return string(f.Value), nil
}

func (f Field) AsFloat64() (float64, error) {
	if err := f.expect(TypeFloat64, 8); err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.BigEndian.Uint64(f.Value)), nil
}

func (f Field) expect(t Type, size int) error {
	if f.Type != t {
		return fmt.Errorf("%w: field %d got %s want %s", ErrFieldType, f.ID, f.Type, t)
	}
	if size >= 0 && len(f.Value) != size {
		return fmt.Errorf("%w: field %d %s length %d", ErrFieldType, f.ID, t, len(f.Value))
	}
	return nil
}

func AppendField(dst []byte, f Field) []byte {
	var hdr [HeaderLen]byte
	binary.BigEndian.PutUint16(hdr[0:2], f.ID)
	hdr[2] = byte(f.Type)
	binary.BigEndian.PutUint32(hdr[3:7], uint32(len(f.Value)))
	dst = append(dst, hdr[:]...)
	return append(dst, f.Value...)
}

func EncodeFields(fields []Field) []byte {
	n := 0
	for _, f := range fields {
		n += HeaderLen + len(f.Value)
	}
	out := make([]byte, 0, n)
	for _, f := range fields {
		out = AppendField(out, f)
	}
	return out
}

// DecodeFields splits b into fields in wire order. Values are copied.
func DecodeFields(b []byte) ([]Field, error) {
	fields := make([]Field, 0, 4)
	i := 0
	for i < len(b) {
		if len(b)-i < HeaderLen {
			return nil, fmt.Errorf("%w: offset %d", ErrShortFieldHeader, i)
		}
		id := binary.BigEndian.Uint16(b[i : i+2])
		typ := Type(b[i+2])
		l := binary.BigEndian.Uint32(b[i+3 : i+7])
		i += HeaderLen
		if uint64(len(b)-i) < uint64(l) {
			return nil, fmt.Errorf("%w: field %d wants %d bytes, %d left", ErrShortFieldValue, id, l, len(b)-i)
		}
		val := make([]byte, l)
		copy(val, b[i:i+int(l)])
		i += int(l)
		fields = append(fields, Field{ID: id, Type: typ, Value: val})
	}
	return fields, nil
}

// Get returns the first field with id.
func Get(fields []Field, id uint16) (Field, bool) {
	for _, f := range fields {
		if f.ID == id {
			return f, true
		}
	}
	return Field{}, false
}

// All returns every field with id in wire order.
func All(fields []Field, id uint16) []Field {
	var out []Field
	for _, f := range fields {
		if f.ID == id {
			out = append(out, f)
		}
	}
	return out
}
