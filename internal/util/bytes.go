package util

// CopyBytes returns a copy of src that shares no memory with it. Key bytes
// handed to callers are always copies so the caller can wipe them.
func CopyBytes(src []byte) []byte {
	return append(make([]byte, 0, len(src)), src...)
}

// WipeBytes best-effort zeroes b in place.
func WipeBytes(b []byte) {
	clear(b)
}
