package bloom

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Every added key is reported present, before and after a round trip
// through the manifest form.
func TestNoFalseNegativesProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("added keys are always contained", prop.ForAll(
		func(keys []int64) bool {
			bf := NewWithEstimates(len(keys), 0.01)
			for _, k := range keys {
				bf.AddKey(k)
			}
			restored, err := Deserialize(bf.Serialize())
			if err != nil {
				return false
			}
			for _, k := range keys {
				if !bf.ContainsKey(k) || !restored.ContainsKey(k) {
					return false
				}
			}
			return restored.Count() == uint64(len(keys))
		},
		gen.SliceOf(gen.Int64Range(1, 1<<40)),
	))

	properties.TestingRun(t)
}

func TestKeyFormsCompareEqual(t *testing.T) {
	bf := New(256, 3)
	bf.AddKey(int64(42))
	if !bf.ContainsKey(42) {
		t.Error("int key not found after adding int64 key")
	}
	if !bf.ContainsKey("42") {
		t.Error("string key not found after adding int64 key")
	}
}

func TestOptimalParameters(t *testing.T) {
	tests := []struct {
		items    int
		fpr      float64
		wantBits int
		wantK    int
	}{
		{1000, 0.01, 9586, 7},
		{1, 0.1, 64, 4},
		{0, 0, 9586, 7},
	}
	for _, tt := range tests {
		bits, k := OptimalParameters(tt.items, tt.fpr)
		if bits != tt.wantBits || k != tt.wantK {
			t.Errorf("OptimalParameters(%d, %v) = (%d, %d), want (%d, %d)",
				tt.items, tt.fpr, bits, k, tt.wantBits, tt.wantK)
		}
	}
}

func TestDeserializeRejectsBadInput(t *testing.T) {
	good := New(128, 2).Serialize()

	tests := []struct {
		name   string
		mutate func(sf *SerializedFilter)
	}{
		{"algorithm", func(sf *SerializedFilter) { sf.Algorithm = "fnv" }},
		{"bits", func(sf *SerializedFilter) { sf.NumBits = 100 }},
		{"hashes", func(sf *SerializedFilter) { sf.NumHashes = 0 }},
		{"base64", func(sf *SerializedFilter) { sf.Data = "!!" }},
		{"length", func(sf *SerializedFilter) { sf.NumBits = 256 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sf := *good
			tt.mutate(&sf)
			if _, err := Deserialize(&sf); err == nil {
				t.Error("expected error")
			}
		})
	}
	if _, err := Deserialize(nil); err == nil {
		t.Error("expected error for nil filter")
	}
}

func TestFalsePositiveRate(t *testing.T) {
	bf := NewWithEstimates(100, 0.01)
	if bf.FalsePositiveRate() != 0 {
		t.Error("empty filter should report zero")
	}
	for i := 0; i < 100; i++ {
		bf.AddKey(i)
	}
	if rate := bf.FalsePositiveRate(); rate <= 0 || rate > 0.05 {
		t.Errorf("FalsePositiveRate = %v", rate)
	}
}
