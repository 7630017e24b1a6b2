// Package certid generates and validates public certificate identifiers of
// the form CERT-YYYY-XXXXXXXX-XXXX-XXXX-XXXX-XXXXXXXXXXXX.
package certid

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/certkeeper/internal/common"
)

const prefix = "CERT-"

// MaxSegments is the number of hex groups a caller may pin.
const MaxSegments = 5

var (
	pattern = regexp.MustCompile(`^CERT-\d{4}-[0-9A-F]{8}-[0-9A-F]{4}-[0-9A-F]{4}-[0-9A-F]{4}-[0-9A-F]{12}$`)

	groupWidths = [MaxSegments]int{8, 4, 4, 4, 12}

	hexOnly = regexp.MustCompile(`^[0-9A-Fa-f]+$`)
)

// newRandom is the entropy source; tests replace it.
var newRandom = uuid.New

// Generate returns a fresh identifier for the given issuance year.
func Generate(year int) (string, error) {
	return GenerateWithSegments(year, nil)
}

// GenerateWithSegments returns an identifier whose hex groups are taken
// from segments by position. Empty segments are filled randomly; a
// non-empty segment must be hex of exactly the group's width.
func GenerateWithSegments(year int, segments []string) (string, error) {
	if year < 0 || year > 9999 {
		return "", common.NewValidationError("year", "must have four digits")
	}
	if len(segments) > MaxSegments {
		return "", common.NewValidationError("segments", fmt.Sprintf("at most %d segments are allowed", MaxSegments))
	}

	id := newRandom()
	random := strings.ToUpper(hex.EncodeToString(id[:]))

	groups := make([]string, 0, MaxSegments)
	offset := 0
	for i, width := range groupWidths {
		group := random[offset : offset+width]
		offset += width

		if i < len(segments) && segments[i] != "" {
			seg := segments[i]
			if len(seg) != width || !hexOnly.MatchString(seg) {
				return "", common.NewValidationError(
					fmt.Sprintf("segments[%d]", i),
					fmt.Sprintf("must be %d hexadecimal characters", width),
				)
			}
			group = strings.ToUpper(seg)
		}
		groups = append(groups, group)
	}

	return fmt.Sprintf("%s%04d-%s", prefix, year, strings.Join(groups, "-")), nil
}

// FullyPinned reports whether segments leave no group to chance, in which
// case regenerating cannot produce a different identifier.
func FullyPinned(segments []string) bool {
	if len(segments) < MaxSegments {
		return false
	}
	for _, s := range segments[:MaxSegments] {
		if s == "" {
			return false
		}
	}
	return true
}

// IsValid reports whether candidate matches the canonical grammar exactly.
// Lowercase hex is rejected.
func IsValid(candidate string) bool {
	return pattern.MatchString(candidate)
}

// Validate returns a validation error for malformed identifiers.
func Validate(candidate string) error {
	if !IsValid(candidate) {
		return common.NewValidationError("certificate_id", "malformed certificate identifier")
	}
	return nil
}

// Year extracts the issuance year encoded in a valid identifier.
func Year(id string) (int, error) {
	if !IsValid(id) {
		return 0, Validate(id)
	}
	return strconv.Atoi(id[len(prefix) : len(prefix)+4])
}
