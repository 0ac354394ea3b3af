// Package bloom provides the key filters stored with archive segments. A
// filter answers whether a segment may hold history for a record without
// downloading it.
package bloom

import (
	"fmt"
	"math"

	"github.com/spaolacci/murmur3"
)

// Filter is a murmur3 double-hashing bloom filter. It has no false
// negatives. A filter is built by one goroutine and may then be read
// concurrently.
type Filter struct {
	bits      []uint64
	numBits   uint64
	numHashes uint64
	count     uint64
}

// New creates a filter with at least numBits bits and numHashes hashes.
func New(numBits, numHashes int) *Filter {
	if numBits <= 0 {
		numBits = 1024
	}
	if numHashes <= 0 {
		numHashes = 7
	}
	words := (numBits + 63) / 64
	return &Filter{
		bits:      make([]uint64, words),
		numBits:   uint64(words * 64),
		numHashes: uint64(numHashes),
	}
}

// NewWithEstimates sizes a filter for expectedItems at targetFPR.
func NewWithEstimates(expectedItems int, targetFPR float64) *Filter {
	return New(OptimalParameters(expectedItems, targetFPR))
}

// OptimalParameters returns m = -n ln(p) / ln(2)^2 bits and k = (m/n) ln(2)
// hashes. Out of range inputs fall back to 1000 items at 1%.
func OptimalParameters(expectedItems int, targetFPR float64) (numBits, numHashes int) {
	if expectedItems <= 0 {
		expectedItems = 1000
	}
	if targetFPR <= 0 || targetFPR >= 1 {
		targetFPR = 0.01
	}
	n := float64(expectedItems)
	m := -n * math.Log(targetFPR) / (math.Ln2 * math.Ln2)
	numBits = max(int(math.Ceil(m)), 64)
	numHashes = max(int(math.Ceil(m/n*math.Ln2)), 1)
	return numBits, numHashes
}

// probe calls fn with the word index and mask of each bit item maps to,
// stopping when fn returns false.
func (f *Filter) probe(item []byte, fn func(word int, mask uint64) bool) {
	h1, h2 := murmur3.Sum128(item)
	for i := uint64(0); i < f.numHashes; i++ {
		pos := (h1 + i*h2) % f.numBits
		if !fn(int(pos/64), 1<<(pos%64)) {
			return
		}
	}
}

// Add inserts item.
func (f *Filter) Add(item []byte) {
	f.probe(item, func(word int, mask uint64) bool {
		f.bits[word] |= mask
		return true
	})
	f.count++
}

// AddKey inserts the string form of a record key.
func (f *Filter) AddKey(key interface{}) {
	f.Add(keyBytes(key))
}

// Contains reports whether item may have been added.
func (f *Filter) Contains(item []byte) bool {
	found := true
	f.probe(item, func(word int, mask uint64) bool {
		found = f.bits[word]&mask != 0
		return found
	})
	return found
}

// ContainsKey is Contains for a key added with AddKey.
func (f *Filter) ContainsKey(key interface{}) bool {
	return f.Contains(keyBytes(key))
}

// keyBytes renders int, int64 and json.Number keys alike.
func keyBytes(key interface{}) []byte {
	return []byte(fmt.Sprint(key))
}

func (f *Filter) NumBits() int   { return int(f.numBits) }
func (f *Filter) NumHashes() int { return int(f.numHashes) }
func (f *Filter) Count() uint64  { return f.count }

// FalsePositiveRate estimates (1 - e^(-kn/m))^k for the current fill.
func (f *Filter) FalsePositiveRate() float64 {
	if f.count == 0 {
		return 0
	}
	k := float64(f.numHashes)
	n := float64(f.count)
	m := float64(f.numBits)
	return math.Pow(1-math.Exp(-k*n/m), k)
}
