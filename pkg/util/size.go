package util

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// ErrInvalidSizeFormat is returned by ParseFileSize for anything not looking like "500MB".
var ErrInvalidSizeFormat = errors.New("invalid size format")

var fileSizeRegexp = regexp.MustCompile(`(?i)^(\d+(?:\.\d+)?)(KB|MB|GB)$`)

var fileSizeMultipliers = map[string]float64{
	"KB": 1 << 10,
	"MB": 1 << 20,
	"GB": 1 << 30,
}

// ParseFileSize parses a size string like "1GB", "500mb" or "0.5KB" into bytes.
// Units are binary, fractional bytes are truncated.
func ParseFileSize(s string) (int64, error) {
	m := fileSizeRegexp.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("%w: %q, use a format like \"1GB\", \"500MB\" or \"100KB\"", ErrInvalidSizeFormat, s)
	}

	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrInvalidSizeFormat, s, err)
	}

	size := math.Floor(value * fileSizeMultipliers[strings.ToUpper(m[2])])
	if size > math.MaxInt64 {
		return 0, fmt.Errorf("%w: %q overflows", ErrInvalidSizeFormat, s)
	}

	return int64(size), nil
}
