package tlv

import (
	"fmt"

	"github.com/danmuck/atrpc/internal/logging"
)

// Kind identifies what a TLV body describes. It is carried in FieldKind.
type Kind uint8

const (
	KindRequest  Kind = 1
	KindResponse Kind = 2
)

const (
	FieldKind uint16 = 1

	FieldFunc uint16 = 100
	FieldArg  uint16 = 101

	FieldStatus  uint16 = 200
	FieldResult  uint16 = 201
	FieldMessage uint16 = 202
)

type Requirement struct {
	ID   uint16
	Type Type
}

type ValidationError struct {
	Kind    Kind
	FieldID uint16
	Reason  string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("tlv: kind=%d: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("tlv: kind=%d field=%d: %s", e.Kind, e.FieldID, e.Reason)
}

var requirements = map[Kind][]Requirement{
	KindRequest: {
		{FieldKind, TypeU8},
		{FieldFunc, TypeString},
	},
	KindResponse: {
		{FieldKind, TypeU8},
		{FieldStatus, TypeU8},
	},
}

// Validate checks that fields carry kind and every field kind requires.
// Unknown fields are ignored.
func Validate(kind Kind, fields []Field) error {
	logger := logging.Component("tlv")
	reqs, ok := requirements[kind]
	if !ok {
		return ValidationError{Kind: kind, Reason: "unknown kind"}
	}
	for _, req := range reqs {
		f, found := Get(fields, req.ID)
		if !found {
			logger.Debug().Uint8("kind", uint8(kind)).Uint16("field", req.ID).Msg("missing required field")
			return ValidationError{Kind: kind, FieldID: req.ID, Reason: "missing required field"}
		}
		if f.Type != req.Type {
			logger.Debug().Uint8("kind", uint8(kind)).Uint16("field", req.ID).Stringer("got", f.Type).Msg("field type mismatch")
			return ValidationError{Kind: kind, FieldID: req.ID, Reason: "type mismatch"}
		}
	}
	got, _ := Get(fields, FieldKind)
	if v, _ := got.AsU8(); Kind(v) != kind {
		return ValidationError{Kind: kind, FieldID: FieldKind, Reason: fmt.Sprintf("body is kind %d", v)}
	}
	return nil
}
