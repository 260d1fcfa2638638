package util

import (
	"regexp"
	"strings"
)

var hashRegexp = regexp.MustCompile(`^[0-9a-f]{64}$`)

// NormalizeHash lowercases a hex encoded sha256 digest
// and reports whether it is well-formed.
func NormalizeHash(hash string) (string, bool) {
	hash = strings.ToLower(hash)

	return hash, hashRegexp.MatchString(hash)
}
