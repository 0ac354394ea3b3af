// Package types provides core data types for chronicle.
package types

import (
	"fmt"
	"time"
)

// ChangeKind tags a historical row with the kind of change that produced it.
type ChangeKind string

const (
	// Created marks the snapshot written when a record was first persisted.
	Created ChangeKind = "+"
	// Changed marks a snapshot written on update.
	Changed ChangeKind = "~"
	// Deleted is a valid tag value but is never written.
	Deleted ChangeKind = "-"
)

// Label returns the human readable name of the change kind.
func (k ChangeKind) Label() string {
	switch k {
	case Created:
		return "Created"
	case Changed:
		return "Changed"
	case Deleted:
		return "Deleted"
	default:
		return "Unknown"
	}
}

// ParseChangeKind converts a stored tag into a ChangeKind.
func ParseChangeKind(s string) (ChangeKind, error) {
	switch k := ChangeKind(s); k {
	case Created, Changed, Deleted:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidChangeKind, s)
	}
}

// ChangeKindChoices lists every allowed history_type value.
func ChangeKindChoices() []Choice {
	return []Choice{
		{Value: string(Created), Label: Created.Label()},
		{Value: string(Changed), Label: Changed.Label()},
		{Value: string(Deleted), Label: Deleted.Label()},
	}
}

// Record holds column values keyed by column name.
// Values are int64, float64, string, bool, time.Time or nil.
type Record map[string]any

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	cp := make(Record, len(r))
	for k, v := range r {
		cp[k] = v
	}
	return cp
}

// Instance is one row of a model plus the per-write history overrides.
type Instance struct {
	// Model is the model name.
	Model string
	// Values are the column values.
	Values Record

	// HistoryUser, when set, is recorded as the acting user instead of the context's actor.
	HistoryUser *int64
	// HistoryDate, when non-zero, is recorded instead of the current time.
	HistoryDate time.Time

	// SkipHistory suppresses history capture for the next write.
	SkipHistory bool
}

// NewInstance creates an instance of model with a copy of values.
func NewInstance(model string, values Record) *Instance {
	if values == nil {
		values = Record{}
	}
	return &Instance{Model: model, Values: values.Clone()}
}

// Get returns the value stored under column.
func (i *Instance) Get(column string) any {
	return i.Values[column]
}

// Set stores a value under column.
func (i *Instance) Set(column string, value any) {
	if i.Values == nil {
		i.Values = Record{}
	}
	i.Values[column] = value
}
