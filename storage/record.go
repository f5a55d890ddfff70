package storage

import (
	"iter"
	"slices"
	"time"
)

// Record is one session: an id, its lifetime in Unix seconds and its
// variables.
type Record struct {
	ID        string
	CreatedAt int64
	ExpiresAt int64
	Vars      *Variables
}

func NewRecord(id string, createdAt, expiresAt time.Time) *Record {
	return &Record{
		ID:        id,
		CreatedAt: createdAt.Unix(),
		ExpiresAt: expiresAt.Unix(),
		Vars:      NewVariables(),
	}
}

// Expired reports whether the record is dead at now. A record whose expiry
// equals the current second is already expired.
func (r *Record) Expired(now time.Time) bool {
	return r.ExpiresAt <= now.Unix()
}

func (r *Record) Clone() *Record {
	c := *r
	c.Vars = r.Vars.Clone()
	return &c
}

// Variables is a string map that remembers insertion order. The zero value
// is not usable; use NewVariables.
type Variables struct {
	keys   []string
	values map[string]string
}

func NewVariables() *Variables {
	return &Variables{values: make(map[string]string)}
}

func (v *Variables) Get(key string) (string, bool) {
	if v == nil {
		return "", false
	}
	val, ok := v.values[key]
	return val, ok
}

// Set stores value under key. Overwriting keeps the key's original position.
func (v *Variables) Set(key, value string) {
	if _, ok := v.values[key]; !ok {
		v.keys = append(v.keys, key)
	}
	v.values[key] = value
}

// Delete removes key and reports whether it was present.
func (v *Variables) Delete(key string) bool {
	if _, ok := v.values[key]; !ok {
		return false
	}
	delete(v.values, key)
	v.keys = slices.DeleteFunc(v.keys, func(k string) bool { return k == key })
	return true
}

func (v *Variables) Len() int {
	if v == nil {
		return 0
	}
	return len(v.keys)
}

func (v *Variables) Keys() []string {
	if v == nil {
		return nil
	}
	return slices.Clone(v.keys)
}

// All iterates the pairs in insertion order.
func (v *Variables) All() iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		if v == nil {
			return
		}
		for _, k := range v.keys {
			if !yield(k, v.values[k]) {
				return
			}
		}
	}
}

// Map returns an unordered copy.
func (v *Variables) Map() map[string]string {
	out := make(map[string]string, v.Len())
	for k, val := range v.All() {
		out[k] = val
	}
	return out
}

func (v *Variables) Clone() *Variables {
	c := NewVariables()
	for k, val := range v.All() {
		c.Set(k, val)
	}
	return c
}
