package recovery

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// StateBytes is an opaque serialized resume position. Only the input
// type that produced it knows how to interpret it.
type StateBytes []byte

// Ser serializes v as StateBytes. A nil v produces the "no state"
// sentinel, which De decodes back into a nil pointer.
func Ser(v any) (StateBytes, error) {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("serialize state: %w", err)
	}
	return b, nil
}

// De deserializes StateBytes produced by Ser.
func De[T any](b StateBytes) (T, error) {
	var v T
	if err := msgpack.Unmarshal(b, &v); err != nil {
		return v, fmt.Errorf("deserialize state: %w", err)
	}
	return v, nil
}

// Len returns the size of the snapshot in bytes.
func (b StateBytes) Len() int {
	return len(b)
}
