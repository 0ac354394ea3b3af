package store

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/arkilian/chronicle/pkg/types"
)

func TestEncodeValue(t *testing.T) {
	intField := types.FieldDef{Name: "n", Kind: types.KindInteger}
	fkField := types.FieldDef{Name: "author", Kind: types.KindForeignKey}
	realField := types.FieldDef{Name: "price", Kind: types.KindReal}
	ts := time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC)

	tests := []struct {
		name  string
		field types.FieldDef
		in    interface{}
		want  interface{}
	}{
		{"int", intField, 7, int64(7)},
		{"whole float on integer", intField, float64(7), int64(7)},
		{"whole float on foreign key", fkField, float64(3), int64(3)},
		{"fractional float stays", intField, 7.5, 7.5},
		{"float on real", realField, float64(7), float64(7)},
		{"json integer", intField, json.Number("12"), int64(12)},
		{"json float", realField, json.Number("1.5"), 1.5},
		{"bool", intField, true, int64(1)},
		{"time", intField, ts, ts.UnixNano()},
		{"zero time", intField, time.Time{}, nil},
		{"bytes", intField, []byte("x"), "x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := encodeValue(tt.field, tt.in); got != tt.want {
				t.Errorf("encodeValue(%v) = %v (%T), want %v (%T)", tt.in, got, got, tt.want, tt.want)
			}
		})
	}
}

func TestNormalizeValue_Time(t *testing.T) {
	f := types.FieldDef{Name: "at", Kind: types.KindTime}
	local := time.Date(2026, 1, 2, 3, 4, 5, 0, time.FixedZone("X", 3600))
	got, ok := normalizeValue(f, local).(time.Time)
	if !ok || !got.Equal(local) || got.Location() != time.UTC {
		t.Errorf("normalizeValue = %v", got)
	}
}
