package store

import (
	"encoding/binary"
	"fmt"
	"math"
)

// EncodeVector packs a float32 vector into a little-endian byte blob
// for the embedding bytea column.
func EncodeVector(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	blob := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// DecodeVector unpacks a blob produced by EncodeVector.
func DecodeVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of 4", len(blob))
	}
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec, nil
}
