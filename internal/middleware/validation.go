package middleware

import (
	"errors"
	"fmt"
	"regexp"
	"unicode/utf8"
)

const (
	maxQueryBytes = 16 << 10
	maxIDLength   = 64
)

var (
	identifierPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:-]*$`)
	htsPattern        = regexp.MustCompile(`^\d{4}\.\d{2}(\.\d{2,4})?$`)
	lanePattern       = regexp.MustCompile(`^[A-Z]{2}-[A-Z]{2}$`)
)

// ValidateQuery validates the text of a conversational turn.
func ValidateQuery(query string) error {
	if len(query) == 0 {
		return errors.New("query cannot be empty")
	}
	if len(query) > maxQueryBytes {
		return errors.New("query exceeds maximum length")
	}
	if !utf8.ValidString(query) {
		return errors.New("query must be valid UTF-8")
	}
	return nil
}

// ValidateIdentifier validates an opaque id such as a client or session id.
// Empty values are accepted; callers decide which ids are required.
func ValidateIdentifier(field, id string) error {
	if id == "" {
		return nil
	}
	if len(id) > maxIDLength {
		return fmt.Errorf("%s exceeds maximum length", field)
	}
	if !identifierPattern.MatchString(id) {
		return fmt.Errorf("%s contains invalid characters", field)
	}
	return nil
}

// ValidateProductID validates an HTS code such as 8517.12.00.
func ValidateProductID(id string) error {
	if id != "" && !htsPattern.MatchString(id) {
		return errors.New("product_id must be an HTS code like 8517.12.00")
	}
	return nil
}

// ValidateLaneID validates an origin-destination lane such as CN-US.
func ValidateLaneID(id string) error {
	if id != "" && !lanePattern.MatchString(id) {
		return errors.New("lane_id must look like CN-US")
	}
	return nil
}
