// Package storage defines session records, their on-disk line format and the
// Backend contract implemented by the flatfile, memory, bbolt, postgres and
// redis packages.
package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a session is absent, expired or unreadable.
	ErrNotFound = errors.New("session not found")
	// ErrMalformedLine indicates a stored line does not have exactly four fields.
	ErrMalformedLine = errors.New("malformed record line")
	// ErrMalformedRecord indicates a decrypted field holds a bad number or blob.
	ErrMalformedRecord = errors.New("malformed record")
	// ErrInvalidID indicates a session id that cannot be stored safely.
	ErrInvalidID = errors.New("invalid session id")
	// ErrInvalidDelimiters indicates an unusable delimiter configuration.
	ErrInvalidDelimiters = errors.New("invalid delimiters")
)

// Backend persists records keyed by session id.
//
// Writes lazily drop expired and undecodable records. Implementations do not
// coordinate concurrent writers; the last rename or commit wins.
type Backend interface {
	// Get returns the live record for id or ErrNotFound.
	Get(ctx context.Context, id string) (*Record, error)
	Exists(ctx context.Context, id string) (bool, error)
	// Put inserts or replaces the record with the same id.
	Put(ctx context.Context, rec *Record) error
	// Delete removes id. Deleting an absent id is not an error.
	Delete(ctx context.Context, id string) error
	// Sweep drops expired and undecodable records and reports how many
	// were removed.
	Sweep(ctx context.Context) (int, error)
}
