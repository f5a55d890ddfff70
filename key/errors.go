package key

import "errors"

// ErrKeyUnavailable indicates the key file could not be created, read or
// decoded. It is fatal for any operation that needs the key.
var ErrKeyUnavailable = errors.New("key unavailable")
