// Package jsontime provides time types with wire-friendly encodings.
//
// The session state files produced by this server store timestamps as plain
// Unix seconds, so they can be read by any client without parsing RFC 3339.
package jsontime

import (
	"encoding/json"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

var (
	_ json.Marshaler        = Unix{}
	_ json.Unmarshaler      = (*Unix)(nil)
	_ msgpack.CustomEncoder = Unix{}
	_ msgpack.CustomDecoder = (*Unix)(nil)
)

// Unix is a time.Time that encodes as Unix seconds in both JSON and msgpack.
type Unix time.Time

// Now returns the current time as Unix.
func Now() Unix {
	return Unix(time.Now())
}

// Time returns the underlying time.Time value.
func (u Unix) Time() time.Time {
	return time.Time(u)
}

// IsZero reports whether u represents the zero time instant.
func (u Unix) IsZero() bool {
	return time.Time(u).IsZero()
}

// Before reports whether u is before t.
func (u Unix) Before(t Unix) bool {
	return time.Time(u).Before(time.Time(t))
}

// String returns the time formatted with time.Time's default layout.
func (u Unix) String() string {
	return time.Time(u).String()
}

// MarshalJSON implements json.Marshaler.
func (u Unix) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(u).Unix())
}

// UnmarshalJSON implements json.Unmarshaler.
func (u *Unix) UnmarshalJSON(b []byte) error {
	var sec int64
	if err := json.Unmarshal(b, &sec); err != nil {
		return err
	}
	*u = Unix(time.Unix(sec, 0))
	return nil
}

// EncodeMsgpack implements msgpack.CustomEncoder.
func (u Unix) EncodeMsgpack(enc *msgpack.Encoder) error {
	return enc.EncodeInt64(time.Time(u).Unix())
}

// DecodeMsgpack implements msgpack.CustomDecoder.
func (u *Unix) DecodeMsgpack(dec *msgpack.Decoder) error {
	sec, err := dec.DecodeInt64()
	if err != nil {
		return err
	}
	*u = Unix(time.Unix(sec, 0))
	return nil
}
