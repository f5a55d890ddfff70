package util

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
)

const (
	AESKeySize = 32
	// IVSize is the per-encryption nonce length. GCM is run with a 16-byte
	// nonce so the IV matches the AES block size on the wire.
	IVSize = 16
)

// EncryptAESWithIV seals plainText with AES-256-GCM under rawKey using the
// caller-supplied iv. The returned slice is ciphertext||tag; the iv is not
// prepended.
func EncryptAESWithIV(plainText, rawKey, iv, aad []byte) ([]byte, error) {
	gcm, err := newGCM(rawKey)
	if err != nil {
		return nil, err
	}
	if len(iv) != IVSize {
		return nil, fmt.Errorf("invalid IV size: got %d, want %d", len(iv), IVSize)
	}
	return gcm.Seal(nil, iv, plainText, aad), nil
}

// DecryptAESWithIV is the inverse of EncryptAESWithIV.
func DecryptAESWithIV(cipherText, rawKey, iv, aad []byte) ([]byte, error) {
	gcm, err := newGCM(rawKey)
	if err != nil {
		return nil, err
	}
	if len(iv) != IVSize {
		return nil, fmt.Errorf("invalid IV size: got %d, want %d", len(iv), IVSize)
	}
	if len(cipherText) < gcm.Overhead() {
		return nil, fmt.Errorf("ciphertext shorter than tag size")
	}
	plainText, err := gcm.Open(nil, iv, cipherText, aad)
	if err != nil {
		return nil, fmt.Errorf("decrypting ciphertext: %w", err)
	}
	return plainText, nil
}

func newGCM(rawKey []byte) (cipher.AEAD, error) {
	if len(rawKey) != AESKeySize {
		return nil, fmt.Errorf("invalid AES key size: got %d, want %d", len(rawKey), AESKeySize)
	}

	block, err := aes.NewCipher(rawKey)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	gcm, err := cipher.NewGCMWithNonceSize(block, IVSize)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return gcm, nil
}

func NewAESKey() ([]byte, error) {
	rawKey := make([]byte, AESKeySize)
	if _, err := rand.Read(rawKey); err != nil {
		return nil, fmt.Errorf("generating AES key: %w", err)
	}
	return rawKey, nil
}
