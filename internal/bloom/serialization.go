package bloom

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/golang/snappy"
)

// Algorithm names the hash scheme in serialized filters.
const Algorithm = "murmur3_128"

// SerializedFilter is the JSON form kept in archive manifests. Data holds
// the snappy-compressed little-endian bit array, base64 encoded.
type SerializedFilter struct {
	Algorithm string `json:"algorithm"`
	NumBits   int    `json:"num_bits"`
	NumHashes int    `json:"num_hashes"`
	Count     uint64 `json:"count"`
	Data      string `json:"data"`
}

// Serialize returns the JSON form of f.
func (f *Filter) Serialize() *SerializedFilter {
	raw := make([]byte, len(f.bits)*8)
	for i, word := range f.bits {
		binary.LittleEndian.PutUint64(raw[i*8:], word)
	}
	return &SerializedFilter{
		Algorithm: Algorithm,
		NumBits:   int(f.numBits),
		NumHashes: int(f.numHashes),
		Count:     f.count,
		Data:      base64.StdEncoding.EncodeToString(snappy.Encode(nil, raw)),
	}
}

// Deserialize rebuilds a filter from its JSON form.
func Deserialize(sf *SerializedFilter) (*Filter, error) {
	if sf == nil {
		return nil, errors.New("bloom: nil filter")
	}
	if sf.Algorithm != Algorithm {
		return nil, fmt.Errorf("bloom: unsupported algorithm %q", sf.Algorithm)
	}
	if sf.NumBits <= 0 || sf.NumBits%64 != 0 || sf.NumHashes <= 0 {
		return nil, fmt.Errorf("bloom: invalid parameters bits=%d hashes=%d", sf.NumBits, sf.NumHashes)
	}

	compressed, err := base64.StdEncoding.DecodeString(sf.Data)
	if err != nil {
		return nil, fmt.Errorf("bloom: invalid base64 data: %w", err)
	}
	raw, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, fmt.Errorf("bloom: snappy decompress failed: %w", err)
	}
	numWords := sf.NumBits / 64
	if len(raw) != numWords*8 {
		return nil, fmt.Errorf("bloom: expected %d bytes, got %d", numWords*8, len(raw))
	}

	bits := make([]uint64, numWords)
	for i := range bits {
		bits[i] = binary.LittleEndian.Uint64(raw[i*8:])
	}
	return &Filter{
		bits:      bits,
		numBits:   uint64(sf.NumBits),
		numHashes: uint64(sf.NumHashes),
		count:     sf.Count,
	}, nil
}
