// Package payload encodes call descriptions and results carried in frame bodies.
//
// The protocol engine treats these bytes as opaque; any Codec may be plugged in.
package payload

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

var (
	ErrInvalidRequest  = errors.New("payload: invalid request")
	ErrInvalidResponse = errors.New("payload: invalid response")
	ErrArgIndex        = errors.New("payload: argument index out of range")
	ErrArgType         = errors.New("payload: argument type mismatch")
)

// Request is one call: a function name and its positional arguments.
type Request struct {
	Func string `json:"func"`
	Args Args   `json:"args"`
}

// Response is a call outcome. Result is set on success, Message on error.
type Response struct {
	Status  string          `json:"status"`
	Result  json.RawMessage `json:"result,omitempty"`
	Message string          `json:"message,omitempty"`
}

func (r Response) IsError() bool {
	return r.Status != StatusSuccess
}

// Codec converts calls and outcomes to and from body bytes.
type Codec interface {
	EncodeRequest(fn string, args ...any) ([]byte, error)
	DecodeRequest(body []byte) (Request, error)
	EncodeResponse(resp Response) ([]byte, error)
	DecodeResponse(body []byte) (Response, error)
}

// JSON is the default Codec.
type JSON struct{}

var _ Codec = JSON{}

func (JSON) EncodeRequest(fn string, args ...any) ([]byte, error) {
	fn = strings.TrimSpace(fn)
	if fn == "" {
		return nil, fmt.Errorf("%w: missing func", ErrInvalidRequest)
	}
	raw := make(Args, 0, len(args))
	for i, arg := range args {
		b, err := json.Marshal(arg)
		if err != nil {
			return nil, fmt.Errorf("%w: args[%d]: %v", ErrInvalidRequest, i, err)
		}
		raw = append(raw, b)
	}
	return json.Marshal(Request{Func: fn, Args: raw})
}

func (JSON) DecodeRequest(body []byte) (Request, error) {
	var wire struct {
		Func *string         `json:"func"`
		Args json.RawMessage `json:"args"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if wire.Func == nil || strings.TrimSpace(*wire.Func) == "" {
		return Request{}, fmt.Errorf("%w: missing func", ErrInvalidRequest)
	}
	req := Request{Func: strings.TrimSpace(*wire.Func), Args: Args{}}
	trimmed := bytes.TrimSpace(wire.Args)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return req, nil
	}
	if trimmed[0] != '[' {
		return Request{}, fmt.Errorf("%w: args must be an array", ErrInvalidRequest)
	}
	if err := json.Unmarshal(trimmed, &req.Args); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return req, nil
}

func (JSON) EncodeResponse(resp Response) ([]byte, error) {
	switch resp.Status {
	case StatusSuccess:
		if len(resp.Result) == 0 {
			resp.Result = json.RawMessage("null")
		}
	case StatusError:
		resp.Result = nil
		if resp.Message == "" {
			resp.Message = "unknown remote error"
		}
	default:
		return nil, fmt.Errorf("%w: status %q", ErrInvalidResponse, resp.Status)
	}
	return json.Marshal(resp)
}

func (JSON) DecodeResponse(body []byte) (Response, error) {
	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if resp.Status != StatusSuccess && resp.Status != StatusError {
		return Response{}, fmt.Errorf("%w: status %q", ErrInvalidResponse, resp.Status)
	}
	return resp, nil
}

// Success builds a success Response carrying result.
func Success(result any) (Response, error) {
	b, err := json.Marshal(result)
	if err != nil {
		return Response{}, fmt.Errorf("%w: result: %v", ErrInvalidResponse, err)
	}
	return Response{Status: StatusSuccess, Result: b}, nil
}

// Failure builds an error Response.
func Failure(msg string) Response {
	return Response{Status: StatusError, Message: msg}
}
