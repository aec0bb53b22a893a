package update

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// errMalformedVersion is returned when a version string is not a dotted
// sequence of non-negative integers.
var errMalformedVersion = errors.New("malformed version")

// Version is a dotted numeric release identifier such as "1.21.131.1".
// Ordering is component-wise, left to right, with missing trailing
// components treated as zero; "1.2" and "1.2.0.0" are equal. There is no
// pre-release or build-metadata handling.
type Version struct {
	parts []int
	raw   string
}

// ZeroVersion is the minimum possible version. An indeterminate current
// version is treated as ZeroVersion so that any real release orders above it.
var ZeroVersion = Version{}

// ParseVersion parses a dotted numeric identifier with one or more components.
func ParseVersion(s string) (Version, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Version{}, fmt.Errorf("%w: empty string", errMalformedVersion)
	}

	tokens := strings.Split(s, ".")
	parts := make([]int, 0, len(tokens))

	for _, token := range tokens {
		number, err := strconv.Atoi(token)
		if err != nil || number < 0 {
			return Version{}, fmt.Errorf("%w: %q", errMalformedVersion, s)
		}

		parts = append(parts, number)
	}

	return Version{parts: parts, raw: s}, nil
}

// Compare returns -1, 0, or 1 if v orders below, equal to, or above other.
func (v Version) Compare(other Version) int {
	length := len(v.parts)
	if len(other.parts) > length {
		length = len(other.parts)
	}

	for i := 0; i < length; i++ {
		a, b := 0, 0
		if i < len(v.parts) {
			a = v.parts[i]
		}

		if i < len(other.parts) {
			b = other.parts[i]
		}

		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		}
	}

	return 0
}

// IsZero reports whether the version is indeterminate or all-zero.
func (v Version) IsZero() bool {
	return v.Compare(ZeroVersion) == 0
}

// String returns the original dotted form, or "0" for ZeroVersion.
func (v Version) String() string {
	if v.raw == "" {
		return "0"
	}

	return v.raw
}
