package key

import (
	"fmt"

	"github.com/jmcleod/ironsession/internal/util"
)

const deriveSalt = "ironsession:subkey:v1"

// Sub-key labels.
const (
	InfoCookie = "cookie"
	InfoIndex  = "index"
)

type derived struct {
	src  Source
	info string
}

// Derive returns a Source whose key is HKDF-SHA256 of src's key with the
// given info label. Each label yields an independent 32-byte key.
func Derive(src Source, info string) Source {
	return &derived{src: src, info: info}
}

func (d *derived) Key() ([]byte, error) {
	master, err := d.src.Key()
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(master)

	k, err := util.DeriveKey(master, deriveSalt, d.info)
	if err != nil {
		return nil, fmt.Errorf("%w: deriving %s key: %v", ErrKeyUnavailable, d.info, err)
	}
	return k, nil
}

// Static is a fixed in-memory key, mostly useful in tests.
type Static []byte

func (s Static) Key() ([]byte, error) {
	if len(s) != util.AESKeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes, got %d", ErrKeyUnavailable, util.AESKeySize, len(s))
	}
	return util.CopyBytes(s), nil
}
