package payload

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/danmuck/atrpc/internal/protocol/tlv"
)

const (
	CodecJSON = "json"
	CodecTLV  = "tlv"
)

// ByName resolves a codec name from config or flags. Empty selects JSON.
func ByName(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", CodecJSON:
		return JSON{}, nil
	case CodecTLV:
		return TLV{}, nil
	default:
		return nil, fmt.Errorf("payload: unknown codec %q (expected json or tlv)", name)
	}
}

// TLV is a binary Codec. Strings and floats travel as typed fields; any other
// argument or result is carried as an embedded JSON value.
type TLV struct{}

var _ Codec = TLV{}

func (TLV) EncodeRequest(fn string, args ...any) ([]byte, error) {
	fn = strings.TrimSpace(fn)
	if fn == "" {
		return nil, fmt.Errorf("%w: missing func", ErrInvalidRequest)
	}
	fields := make([]tlv.Field, 0, 2+len(args))
	fields = append(fields,
		tlv.U8(tlv.FieldKind, uint8(tlv.KindRequest)),
		tlv.String(tlv.FieldFunc, fn),
	)
	for i, arg := range args {
		f, err := argField(arg)
		if err != nil {
			return nil, fmt.Errorf("%w: args[%d]: %v", ErrInvalidRequest, i, err)
		}
		fields = append(fields, f)
	}
	return tlv.EncodeFields(fields), nil
}

func argField(arg any) (tlv.Field, error) {
	switch v := arg.(type) {
	case float64:
		return tlv.Float64(tlv.FieldArg, v), nil
	case float32:
		return tlv.Float64(tlv.FieldArg, float64(v)), nil
	case string:
		return tlv.String(tlv.FieldArg, v), nil
	case json.RawMessage:
		if !json.Valid(v) {
			return tlv.Field{}, fmt.Errorf("invalid raw json")
		}
		return tlv.JSON(tlv.FieldArg, v), nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return tlv.Field{}, err
		}
		return tlv.JSON(tlv.FieldArg, b), nil
	}
}

func (TLV) DecodeRequest(body []byte) (Request, error) {
	fields, err := tlv.DecodeFields(body)
	if err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := tlv.Validate(tlv.KindRequest, fields); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	fnField, _ := tlv.Get(fields, tlv.FieldFunc)
	fn, _ := fnField.AsString()
	if fn = strings.TrimSpace(fn); fn == "" {
		return Request{}, fmt.Errorf("%w: missing func", ErrInvalidRequest)
	}

	argFields := tlv.All(fields, tlv.FieldArg)
	req := Request{Func: fn, Args: make(Args, 0, len(argFields))}
	for i, f := range argFields {
		raw, err := fieldJSON(f)
		if err != nil {
			return Request{}, fmt.Errorf("%w: args[%d]: %v", ErrInvalidRequest, i, err)
		}
		req.Args = append(req.Args, raw)
	}
	return req, nil
}

// fieldJSON converts a typed field to the JSON form Args and Response.Result use.
func fieldJSON(f tlv.Field) (json.RawMessage, error) {
	switch f.Type {
	case tlv.TypeFloat64:
		v, err := f.AsFloat64()
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	case tlv.TypeString:
		s, _ := f.AsString()
		return json.Marshal(s)
	case tlv.TypeJSON:
		if !json.Valid(f.Value) {
			return nil, fmt.Errorf("field %d: invalid json", f.ID)
		}
		return json.RawMessage(f.Value), nil
	default:
		return nil, fmt.Errorf("field %d: unsupported type %s", f.ID, f.Type)
	}
}

const (
	tlvStatusSuccess uint8 = 0
	tlvStatusError   uint8 = 1
)

func (TLV) EncodeResponse(resp Response) ([]byte, error) {
	fields := []tlv.Field{tlv.U8(tlv.FieldKind, uint8(tlv.KindResponse))}
	switch resp.Status {
	case StatusSuccess:
		result := resp.Result
		if len(result) == 0 {
			result = json.RawMessage("null")
		}
		fields = append(fields,
			tlv.U8(tlv.FieldStatus, tlvStatusSuccess),
			tlv.JSON(tlv.FieldResult, result),
		)
	case StatusError:
		msg := resp.Message
		if msg == "" {
			msg = "unknown remote error"
		}
		fields = append(fields,
			tlv.U8(tlv.FieldStatus, tlvStatusError),
			tlv.String(tlv.FieldMessage, msg),
		)
	default:
		return nil, fmt.Errorf("%w: status %q", ErrInvalidResponse, resp.Status)
	}
	return tlv.EncodeFields(fields), nil
}

func (TLV) DecodeResponse(body []byte) (Response, error) {
	fields, err := tlv.DecodeFields(body)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if err := tlv.Validate(tlv.KindResponse, fields); err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	statusField, _ := tlv.Get(fields, tlv.FieldStatus)
	status, _ := statusField.AsU8()

	switch status {
	case tlvStatusSuccess:
		resp := Response{Status: StatusSuccess, Result: json.RawMessage("null")}
		if f, ok := tlv.Get(fields, tlv.FieldResult); ok {
			raw, err := fieldJSON(f)
			if err != nil {
				return Response{}, fmt.Errorf("%w: result: %v", ErrInvalidResponse, err)
			}
			resp.Result = raw
		}
		return resp, nil
	case tlvStatusError:
		resp := Response{Status: StatusError}
		if f, ok := tlv.Get(fields, tlv.FieldMessage); ok {
			resp.Message, _ = f.AsString()
		}
		return resp, nil
	default:
		return Response{}, fmt.Errorf("%w: status %d", ErrInvalidResponse, status)
	}
}
