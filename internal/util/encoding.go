package util

import "golang.org/x/text/unicode/norm"

// Normalize returns the NFC form of s. Request paths are compared in this
// form so that visually identical paths match.
func Normalize(s string) string {
	return norm.NFC.String(s)
}
