// Package crypto encrypts individual stored fields.
package crypto

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/jmcleod/ironsession/internal/util"
	"github.com/jmcleod/ironsession/key"
)

// ErrDecrypt indicates a field could not be decrypted: bad encoding, a
// wrong key or tampered ciphertext.
var ErrDecrypt = errors.New("decrypt failure")

// ivHexLen is the fixed width of the hex-encoded IV prefix.
const ivHexLen = util.IVSize * 2

// FieldCodec converts a plaintext field to its stored form and back.
type FieldCodec interface {
	Encrypt(plain string) (string, error)
	Decrypt(encoded string) (string, error)
}

// AESCodec encrypts fields with AES-256-GCM. The stored form is
// hex(IV) followed by base64(ciphertext||tag).
type AESCodec struct {
	keys key.Source
}

var _ FieldCodec = (*AESCodec)(nil)

func NewAESCodec(keys key.Source) *AESCodec {
	return &AESCodec{keys: keys}
}

func (c *AESCodec) Encrypt(plain string) (string, error) {
	if plain == "" {
		return "", nil
	}
	k, err := c.keys.Key()
	if err != nil {
		return "", err
	}
	defer util.WipeBytes(k)

	iv, err := util.RandomBytes(util.IVSize)
	if err != nil {
		return "", err
	}
	sealed, err := util.EncryptAESWithIV([]byte(plain), k, iv, nil)
	if err != nil {
		return "", fmt.Errorf("encrypting field: %w", err)
	}
	return hex.EncodeToString(iv) + base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *AESCodec) Decrypt(encoded string) (string, error) {
	if encoded == "" {
		return "", nil
	}
	if len(encoded) <= ivHexLen {
		return "", fmt.Errorf("%w: field too short", ErrDecrypt)
	}
	iv, err := hex.DecodeString(encoded[:ivHexLen])
	if err != nil {
		return "", fmt.Errorf("%w: bad IV encoding", ErrDecrypt)
	}
	sealed, err := base64.StdEncoding.DecodeString(encoded[ivHexLen:])
	if err != nil {
		return "", fmt.Errorf("%w: bad ciphertext encoding", ErrDecrypt)
	}

	k, err := c.keys.Key()
	if err != nil {
		return "", err
	}
	defer util.WipeBytes(k)

	plain, err := util.DecryptAESWithIV(sealed, k, iv, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return string(plain), nil
}

// PlainCodec stores fields as-is. It is used when encryption is disabled.
type PlainCodec struct{}

var _ FieldCodec = PlainCodec{}

func (PlainCodec) Encrypt(plain string) (string, error)   { return plain, nil }
func (PlainCodec) Decrypt(encoded string) (string, error) { return encoded, nil }
