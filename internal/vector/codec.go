// Package vector provides the embedding blob codec, cosine similarity, and
// the linear similarity ranker.
package vector

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ElementSize is the serialized size of one vector component in bytes.
// Vectors are stored as IEEE-754 float32, little-endian, so any language
// can decode blobs written by another.
const ElementSize = 4

// ErrCorruptVector marks a stored blob that does not decode to a vector of
// the expected dimension. During retrieval such items are skipped, not fatal.
var ErrCorruptVector = errors.New("corrupt vector blob")

// Encode serializes a vector as little-endian float32 bytes.
func Encode(v []float32) []byte {
	out := make([]byte, len(v)*ElementSize)
	for i, x := range v {
		binary.LittleEndian.PutUint32(out[i*ElementSize:(i+1)*ElementSize], math.Float32bits(x))
	}
	return out
}

// Decode deserializes a blob produced by Encode, validating that it holds
// exactly dimensions components. A wrong length is a corruption error, never
// a silent truncation.
func Decode(b []byte, dimensions int) ([]float32, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive, got %d", dimensions)
	}
	if len(b)%ElementSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of element size %d", ErrCorruptVector, len(b), ElementSize)
	}
	if len(b)/ElementSize != dimensions {
		return nil, fmt.Errorf("%w: got %d components, expected %d", ErrCorruptVector, len(b)/ElementSize, dimensions)
	}
	out := make([]float32, dimensions)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*ElementSize : (i+1)*ElementSize]))
	}
	return out, nil
}
