package util

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DeriveKey expands master into an AESKeySize key bound to salt and info.
// Distinct info labels give independent keys from one master.
func DeriveKey(master []byte, salt, info string) ([]byte, error) {
	if len(master) < AESKeySize {
		return nil, errors.New("master key too short")
	}
	r := hkdf.New(sha256.New, master, []byte(salt), []byte(info))
	k := make([]byte, AESKeySize)
	if _, err := io.ReadFull(r, k); err != nil {
		return nil, fmt.Errorf("reading from HKDF: %w", err)
	}
	return k, nil
}
