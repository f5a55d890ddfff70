package storage

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/jmcleod/ironsession/crypto"
	"github.com/jmcleod/ironsession/key"
)

const lineFields = 4

// LineCodec converts records to single delimited lines of four encoded
// fields: id, created_at, expires_at and the variables blob.
type LineCodec struct {
	codec  crypto.FieldCodec
	delims Delimiters
}

func NewLineCodec(codec crypto.FieldCodec, delims Delimiters) (*LineCodec, error) {
	if err := delims.Validate(); err != nil {
		return nil, err
	}
	return &LineCodec{codec: codec, delims: delims}, nil
}

func (c *LineCodec) Delimiters() Delimiters {
	return c.delims
}

// ValidateID rejects ids that are empty or contain control or delimiter
// characters.
func (c *LineCodec) ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidID)
	}
	for _, r := range id {
		if unicode.IsControl(r) || c.delims.reserved(r) {
			return fmt.Errorf("%w: contains reserved character %q", ErrInvalidID, r)
		}
	}
	return nil
}

// EncodeLine returns the line for rec without a trailing newline.
func (c *LineCodec) EncodeLine(rec *Record) (string, error) {
	if err := c.ValidateID(rec.ID); err != nil {
		return "", err
	}
	plain := [lineFields]string{
		rec.ID,
		strconv.FormatInt(rec.CreatedAt, 10),
		strconv.FormatInt(rec.ExpiresAt, 10),
		c.delims.EncodeVariables(rec.Vars),
	}
	var fields [lineFields]string
	for i, p := range plain {
		enc, err := c.codec.Encrypt(p)
		if err != nil {
			return "", fmt.Errorf("encoding field %d: %w", i, err)
		}
		fields[i] = enc
	}
	return strings.Join(fields[:], c.delims.Field), nil
}

func (c *LineCodec) split(line string) ([]string, error) {
	fields := strings.Split(line, c.delims.Field)
	if len(fields) != lineFields {
		return nil, fmt.Errorf("%w: got %d fields", ErrMalformedLine, len(fields))
	}
	return fields, nil
}

// DecodeID decrypts only the id field.
func (c *LineCodec) DecodeID(line string) (string, error) {
	fields, err := c.split(line)
	if err != nil {
		return "", err
	}
	return c.codec.Decrypt(fields[0])
}

// DecodeExpiry decrypts only the expires_at field.
func (c *LineCodec) DecodeExpiry(line string) (int64, error) {
	fields, err := c.split(line)
	if err != nil {
		return 0, err
	}
	return c.decodeInt(fields[2])
}

func (c *LineCodec) decodeInt(field string) (int64, error) {
	s, err := c.codec.Decrypt(field)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad timestamp", ErrMalformedRecord)
	}
	return n, nil
}

// DecodeLine decrypts and parses all four fields.
func (c *LineCodec) DecodeLine(line string) (*Record, error) {
	fields, err := c.split(line)
	if err != nil {
		return nil, err
	}
	id, err := c.codec.Decrypt(fields[0])
	if err != nil {
		return nil, err
	}
	created, err := c.decodeInt(fields[1])
	if err != nil {
		return nil, err
	}
	expires, err := c.decodeInt(fields[2])
	if err != nil {
		return nil, err
	}
	blob, err := c.codec.Decrypt(fields[3])
	if err != nil {
		return nil, err
	}
	vars, err := c.delims.DecodeVariables(blob)
	if err != nil {
		return nil, err
	}
	return &Record{ID: id, CreatedAt: created, ExpiresAt: expires, Vars: vars}, nil
}

// Resolve decodes a stored line for id. Expired, mismatched and undecodable
// lines map to ErrNotFound; key failures are returned as-is.
func (c *LineCodec) Resolve(line, id string, now time.Time) (*Record, error) {
	rec, err := c.DecodeLine(line)
	if errors.Is(err, key.ErrKeyUnavailable) {
		return nil, err
	}
	if err != nil || rec.ID != id || rec.Expired(now) {
		return nil, ErrNotFound
	}
	return rec, nil
}

// Live reports whether a stored line should survive a rewrite: it must
// decode and must not be expired. Key failures are returned.
func (c *LineCodec) Live(line string, now time.Time) (bool, error) {
	expires, err := c.DecodeExpiry(line)
	if errors.Is(err, key.ErrKeyUnavailable) {
		return false, err
	}
	if err != nil {
		return false, nil
	}
	return expires > now.Unix(), nil
}
