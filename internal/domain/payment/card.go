// Package payment performs offline card checks. No payment provider is
// contacted; a card that passes is only well-formed.
package payment

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	cardNumberRe = regexp.MustCompile(`^\d{16}$`)
	expiryRe     = regexp.MustCompile(`^(0[1-9]|1[0-2])/\d{2}$`)
	cvcRe        = regexp.MustCompile(`^\d{3,4}$`)
)

// Card holds the fields submitted by the checkout form.
type Card struct {
	Number string
	Expiry string // MM/YY
	CVC    string
	Name   string
}

// ValidationError describes the first failed check.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Validate checks card number (Luhn), expiry against now and CVC format.
func Validate(c Card, now time.Time) error {
	if c.Number == "" || c.Expiry == "" || c.CVC == "" || strings.TrimSpace(c.Name) == "" {
		return &ValidationError{Field: "card", Reason: "all payment fields are required"}
	}

	number := strings.NewReplacer(" ", "", "-", "").Replace(c.Number)
	if !cardNumberRe.MatchString(number) {
		return &ValidationError{Field: "number", Reason: "must be 16 digits"}
	}
	if !Luhn(number) {
		return &ValidationError{Field: "number", Reason: "luhn check failed"}
	}

	if !expiryRe.MatchString(c.Expiry) {
		return &ValidationError{Field: "expiry", Reason: "use MM/YY"}
	}
	month, _ := strconv.Atoi(c.Expiry[:2])
	year, _ := strconv.Atoi(c.Expiry[3:])
	curYear, curMonth := now.Year()%100, int(now.Month())
	if year < curYear || (year == curYear && month < curMonth) {
		return &ValidationError{Field: "expiry", Reason: "card has expired"}
	}

	if !cvcRe.MatchString(c.CVC) {
		return &ValidationError{Field: "cvc", Reason: "must be 3 or 4 digits"}
	}
	return nil
}

// Luhn reports whether the digit string passes the Luhn checksum.
func Luhn(digits string) bool {
	var sum int
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if d < 0 || d > 9 {
			return false
		}
		if double {
			if d *= 2; d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}
