// Package entity provides canonicalization of registry entity identifiers.
//
// Upstream systems and API callers spell the same identifier in several ways:
// with a two-letter country-code prefix ("RO000123"), with leading zeros
// ("000123"), or as the bare decimal form ("123"). All of them refer to the
// same entity. Every component in this module keys its state on the canonical
// form produced by Parse.
package entity

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalid indicates the raw value is not a valid entity identifier.
var ErrInvalid = errors.New("invalid entity identifier")

// ID is a canonical entity identifier: a decimal digit string with no
// country-code prefix and no leading zeros.
type ID string

// Parse canonicalizes a raw identifier.
//
// A two-letter alphabetic prefix (case-insensitive country code) is stripped,
// then leading zeros. The remainder must be a non-empty decimal digit string.
// Two raw values are the same entity iff their Parse results are equal.
func Parse(raw string) (ID, error) {
	s := strings.TrimSpace(raw)
	if len(s) >= 2 && isLetter(s[0]) && isLetter(s[1]) {
		s = s[2:]
	}
	if s == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalid, raw)
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return "", fmt.Errorf("%w: %q", ErrInvalid, raw)
		}
	}
	s = strings.TrimLeft(s, "0")
	if s == "" {
		// All-zero identifiers canonicalize to "0".
		s = "0"
	}
	return ID(s), nil
}

// MustParse is Parse for trusted inputs; it panics on invalid values.
func MustParse(raw string) ID {
	id, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return id
}

// String returns the canonical digit string.
func (id ID) String() string {
	return string(id)
}

// StatementKey returns the store key for an entity's yearly statement record.
func StatementKey(id ID, year int) string {
	return fmt.Sprintf("%s:%d", id, year)
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
