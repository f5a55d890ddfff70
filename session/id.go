package session

import (
	"github.com/jmcleod/ironsession/internal/util"
	"github.com/jmcleod/ironsession/internal/uuid"
)

// Scheme selects how session ids are generated.
type Scheme string

const (
	SchemeUUID  Scheme = "uuid"
	SchemeHex27 Scheme = "hex27"
	SchemeHex40 Scheme = "hex40"
)

// ParseScheme maps a configured name to a Scheme. Unknown names fall back
// to SchemeUUID.
func ParseScheme(name string) Scheme {
	switch s := Scheme(name); s {
	case SchemeUUID, SchemeHex27, SchemeHex40:
		return s
	default:
		return SchemeUUID
	}
}

// NewID generates a fresh id: a random UUID, or 27 or 40 random bytes as
// lower-case hex.
func (s Scheme) NewID() (string, error) {
	switch s {
	case SchemeHex27:
		return util.RandomHex(27)
	case SchemeHex40:
		return util.RandomHex(40)
	default:
		return uuid.New(), nil
	}
}
