// Package wire defines the logical request/response exchange between a host
// and a worker session, and the JSON forms they take on byte transports.
package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"strings"
)

const maxExponent = 400

// Error codes carried in Response.Error.
const (
	CodeInvalidRequest = "invalid_request"
	CodeTimeout        = "timeout"
)

// ErrInvalidRequest is returned when a payload is not an integer request.
var ErrInvalidRequest = errors.New("invalid request")

// Request is one inbound message. ID is optional and opaque; it is echoed in
// the matching Response.
type Request struct {
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload"`

	// tooLarge is the limit a discarded frame exceeded, or zero.
	tooLarge int
}

// TooLarge stands in for a frame the transport discarded for exceeding limit
// bytes. It is answered like any other invalid request.
func TooLarge(limit int) Request {
	return Request{tooLarge: limit}
}

// Int decodes the request payload. See DecodeInt.
func (r Request) Int() (int64, error) {
	if r.tooLarge > 0 {
		return 0, fmt.Errorf("%w: frame exceeds %d bytes", ErrInvalidRequest, r.tooLarge)
	}
	return DecodeInt(r.Payload)
}

// Response is the single outbound message produced for one Request. Exactly
// one of Result and Error is set.
type Response struct {
	ID     string `json:"id,omitempty"`
	Seq    uint64 `json:"seq"`
	Result *bool  `json:"result,omitempty"`
	Error  *Error `json:"error,omitempty"`
}

// Error is a per-message failure.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// OK reports whether the response carries a result.
func (r Response) OK() bool { return r.Error == nil }

// NewResult builds a successful response.
func NewResult(seq uint64, id string, even bool) Response {
	return Response{ID: id, Seq: seq, Result: &even}
}

// NewFailure builds an error response.
func NewFailure(seq uint64, id, code, message string) Response {
	return Response{ID: id, Seq: seq, Error: &Error{Code: code, Message: message}}
}

// ParseFrame turns one transport frame into a Request.
//
// A frame that is a JSON object with a "payload" member is an envelope. Any
// other frame is taken as the bare payload, so `4` and `{"payload":4}` mean
// the same thing. ParseFrame never fails; bad payloads surface later from
// DecodeInt.
func ParseFrame(frame []byte) Request {
	trimmed := bytes.TrimSpace(frame)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var env struct {
			ID      json.RawMessage `json:"id"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := json.Unmarshal(trimmed, &env); err == nil && env.Payload != nil {
			return Request{ID: idString(env.ID), Payload: env.Payload}
		}
	}
	return Request{Payload: json.RawMessage(trimmed)}
}

// idString accepts string or numeric ids and renders them as text.
func idString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(bytes.TrimSpace(raw))
}

// DecodeInt interprets a payload as a signed 64-bit integer.
//
// JSON numbers are accepted when their value is an integer in range, so 4,
// -4, 4.0 and 4e0 all decode to 4. Strings, booleans, null, containers,
// fractional values and out-of-range integers are rejected with an error
// wrapping ErrInvalidRequest.
func DecodeInt(payload json.RawMessage) (int64, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return 0, fmt.Errorf("%w: trailing data after payload", ErrInvalidRequest)
	}

	num, ok := v.(json.Number)
	if !ok {
		return 0, fmt.Errorf("%w: expected integer, got %s", ErrInvalidRequest, kind(v))
	}

	if n, err := strconv.ParseInt(num.String(), 10, 64); err == nil {
		return n, nil
	}

	if exponentTooLarge(num.String()) {
		return 0, fmt.Errorf("%w: %s is out of range", ErrInvalidRequest, num)
	}
	r, ok := new(big.Rat).SetString(num.String())
	if !ok {
		return 0, fmt.Errorf("%w: malformed number %s", ErrInvalidRequest, num)
	}
	if !r.IsInt() {
		return 0, fmt.Errorf("%w: %s is not an integer", ErrInvalidRequest, num)
	}
	if !r.Num().IsInt64() {
		return 0, fmt.Errorf("%w: %s is out of range", ErrInvalidRequest, num)
	}
	return r.Num().Int64(), nil
}

// exponentTooLarge bounds the work big.Rat would do expanding 1e999999999.
func exponentTooLarge(s string) bool {
	i := strings.IndexAny(s, "eE")
	if i < 0 {
		return false
	}
	exp, err := strconv.Atoi(s[i+1:])
	return err != nil || exp > maxExponent || exp < -maxExponent
}

func kind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
