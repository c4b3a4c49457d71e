package job

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// EncodeValue marshals a typed value to its msgpack wire form. Payloads,
// placeholders, and cached results all use this encoding.
func EncodeValue(v any) ([]byte, error) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("job: encode %T: %w", v, err)
	}
	return data, nil
}

// DecodeValue unmarshals a msgpack-encoded value into out.
func DecodeValue(data []byte, out any) error {
	if err := msgpack.Unmarshal(data, out); err != nil {
		return fmt.Errorf("job: decode into %T: %w", out, err)
	}
	return nil
}

// MustEncodeValue is EncodeValue panicking on error. Use for literal
// placeholder values whose encodability is known at compile time.
func MustEncodeValue(v any) []byte {
	data, err := EncodeValue(v)
	if err != nil {
		panic(err.Error())
	}
	return data
}
