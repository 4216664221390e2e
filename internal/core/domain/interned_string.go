// Package domain contains the core types shared by the autodep and
// build-graph halves of the engine: nodes, jobs, reqs, access events and
// the digests exchanged between a job supervisor and the make loop.
package domain

import "unique"

// InternedString is a value object that wraps a unique.Handle[string].
// Node and job identities are paths and rule names that repeat constantly
// across a build; interning keeps comparisons to a pointer compare and
// keeps the graph's memory footprint proportional to distinct strings.
type InternedString struct {
	h unique.Handle[string]
}

// NewInternedString creates a new InternedString from a string.
func NewInternedString(s string) InternedString {
	return InternedString{h: unique.Make(s)}
}

// NewInternedStrings interns every element of ss, preserving order.
func NewInternedStrings(ss []string) []InternedString {
	out := make([]InternedString, len(ss))
	for i, s := range ss {
		out[i] = NewInternedString(s)
	}
	return out
}

// String returns the underlying string value.
func (is InternedString) String() string {
	var zero unique.Handle[string]
	if is.h == zero {
		return ""
	}
	return is.h.Value()
}

// Value returns the underlying unique.Handle[string].
func (is InternedString) Value() unique.Handle[string] {
	return is.h
}

// IsZero reports whether is was never assigned via NewInternedString.
func (is InternedString) IsZero() bool {
	var zero unique.Handle[string]
	return is.h == zero
}

// MarshalText implements encoding.TextMarshaler.
func (is InternedString) MarshalText() ([]byte, error) {
	return []byte(is.h.Value()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (is *InternedString) UnmarshalText(text []byte) error {
	is.h = unique.Make(string(text))
	return nil
}

// GobEncode implements gob.GobEncoder. gob only sees exported struct
// fields, and h is deliberately private, so InternedString round-trips
// through its text form instead (the rpc transport's wire codec gob-encodes
// every JobDigest and TargetSpec that carries one of these).
func (is InternedString) GobEncode() ([]byte, error) {
	return is.MarshalText()
}

// GobDecode implements gob.GobDecoder.
func (is *InternedString) GobDecode(data []byte) error {
	return is.UnmarshalText(data)
}
