package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/jmcleod/ironsession/internal/util"
	"github.com/jmcleod/ironsession/key"
)

// Indexer maps a session id to the lookup key used by keyed backends.
type Indexer interface {
	Index(id string) (string, error)
}

// PlainIndexer uses the id itself. Only suitable when encryption is off.
type PlainIndexer struct{}

func (PlainIndexer) Index(id string) (string, error) {
	return id, nil
}

// HMACIndexer keys records by HMAC-SHA256 of the id so stored keys reveal
// nothing about session ids.
type HMACIndexer struct {
	keys key.Source
}

func NewHMACIndexer(keys key.Source) *HMACIndexer {
	return &HMACIndexer{keys: keys}
}

func (h *HMACIndexer) Index(id string) (string, error) {
	k, err := h.keys.Key()
	if err != nil {
		return "", err
	}
	defer util.WipeBytes(k)

	mac := hmac.New(sha256.New, k)
	mac.Write([]byte(id))
	return hex.EncodeToString(mac.Sum(nil)), nil
}
