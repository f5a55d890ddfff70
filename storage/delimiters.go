package storage

import (
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"
)

// encodedAlphabet covers hex and standard base64, the characters that appear
// in encrypted fields.
const encodedAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/="

const upperHex = "0123456789ABCDEF"

// Delimiters separate the fields of a line and the pairs of a variables blob.
type Delimiters struct {
	Field    string `yaml:"field" env:"FIELD"`
	Entry    string `yaml:"entry" env:"ENTRY"`
	KeyValue string `yaml:"key_value" env:"KEY_VALUE"`
}

func DefaultDelimiters() Delimiters {
	return Delimiters{
		Field:    "\t",
		Entry:    "|",
		KeyValue: "^^",
	}
}

// Validate rejects empty delimiters, delimiters using line breaks, the
// escape character or the encoded-field alphabet, and any delimiter that
// occurs inside another.
func (d Delimiters) Validate() error {
	named := []struct{ name, value string }{
		{"field", d.Field},
		{"entry", d.Entry},
		{"key/value", d.KeyValue},
	}
	for _, n := range named {
		if n.value == "" {
			return fmt.Errorf("%w: %s delimiter is empty", ErrInvalidDelimiters, n.name)
		}
		if strings.ContainsAny(n.value, "\r\n%") {
			return fmt.Errorf("%w: %s delimiter contains a line break or %%", ErrInvalidDelimiters, n.name)
		}
		if strings.ContainsAny(n.value, encodedAlphabet) {
			return fmt.Errorf("%w: %s delimiter overlaps the encoded-field alphabet", ErrInvalidDelimiters, n.name)
		}
	}
	for i, a := range named {
		for j, b := range named {
			if i != j && strings.Contains(a.value, b.value) {
				return fmt.Errorf("%w: %s delimiter contains the %s delimiter", ErrInvalidDelimiters, a.name, b.name)
			}
		}
	}
	return nil
}

func (d Delimiters) reserved(r rune) bool {
	switch r {
	case '%', '\r', '\n':
		return true
	}
	return strings.ContainsRune(d.Field, r) ||
		strings.ContainsRune(d.Entry, r) ||
		strings.ContainsRune(d.KeyValue, r)
}

// escape percent-encodes every reserved character so the result never
// contains a delimiter.
func (d Delimiters) escape(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError || !d.reserved(r) {
			b.WriteString(s[i : i+size])
			i += size
			continue
		}
		for j := i; j < i+size; j++ {
			b.WriteByte('%')
			b.WriteByte(upperHex[s[j]>>4])
			b.WriteByte(upperHex[s[j]&0x0f])
		}
		i += size
	}
	return b.String()
}

func (d Delimiters) unescape(s string) (string, error) {
	out, err := url.PathUnescape(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	return out, nil
}

// EncodeVariables renders vars as key<KV>value<ENTRY> pairs in insertion
// order. An empty set encodes to "".
func (d Delimiters) EncodeVariables(vars *Variables) string {
	var b strings.Builder
	for k, v := range vars.All() {
		b.WriteString(d.escape(k))
		b.WriteString(d.KeyValue)
		b.WriteString(d.escape(v))
		b.WriteString(d.Entry)
	}
	return b.String()
}

// DecodeVariables parses a blob produced by EncodeVariables.
func (d Delimiters) DecodeVariables(blob string) (*Variables, error) {
	vars := NewVariables()
	if blob == "" {
		return vars, nil
	}
	body, ok := strings.CutSuffix(blob, d.Entry)
	if !ok {
		return nil, fmt.Errorf("%w: missing trailing entry delimiter", ErrMalformedRecord)
	}
	for _, pair := range strings.Split(body, d.Entry) {
		rawKey, rawValue, found := strings.Cut(pair, d.KeyValue)
		if !found || strings.Contains(rawValue, d.KeyValue) {
			return nil, fmt.Errorf("%w: bad variable pair", ErrMalformedRecord)
		}
		k, err := d.unescape(rawKey)
		if err != nil {
			return nil, err
		}
		v, err := d.unescape(rawValue)
		if err != nil {
			return nil, err
		}
		vars.Set(k, v)
	}
	return vars, nil
}
