package invoice

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// ErrNoDigits is wrapped by ParseError when a literal contains no digit at all
var ErrNoDigits = errors.New("no digit in amount literal")

// ParseError reports a numeric literal that could not be normalized.
// Callers keep processing other candidates; the raw text stays available for diagnostics.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cannot parse amount %q: %v", e.Raw, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

var (
	// "12.–" and "12.-" mean whole francs
	dashNotation = regexp.MustCompile(`[.,]\s*[-–—]+\s*$`)
	commaDecimal = regexp.MustCompile(`^\d+,\d{2}$`)
	// 1.234,56 with dots grouping thousands
	dotGroupedCommaDecimal = regexp.MustCompile(`^\d{1,3}(\.\d{3})+,\d{2}$`)
)

// NormalizeAmount parses a locale-formatted monetary literal into an exact decimal.
//
// Apostrophes and spaces are thousands separators. A comma followed by exactly two
// trailing digits is the decimal marker; any other comma is dropped. On failure the
// returned value is zero and the error is a *ParseError. A leading separator means a
// zero integer part, so ".50" is 0.50.
func NormalizeAmount(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	s = dashNotation.ReplaceAllString(s, "")

	var b strings.Builder
	negative := false
	runes := []rune(s)
	for i, r := range runes {
		switch {
		case isDigit(r):
			b.WriteRune(r)
		case r == '.' || r == ',':
			// a separator counts only before a digit and not right after a letter, as in "Fr."
			if i+1 < len(runes) && isDigit(runes[i+1]) && (i == 0 || !unicode.IsLetter(runes[i-1])) {
				b.WriteRune(r)
			}
		case r == '-' || r == '−':
			negative = true
		}
	}
	s = b.String()
	if strings.HasPrefix(s, ".") || strings.HasPrefix(s, ",") {
		s = "0" + s
	}

	if !strings.ContainsAny(s, "0123456789") {
		return decimal.Zero, &ParseError{Raw: raw, Err: ErrNoDigits}
	}

	switch {
	case commaDecimal.MatchString(s):
		s = strings.Replace(s, ",", ".", 1)
	case dotGroupedCommaDecimal.MatchString(s):
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	default:
		s = strings.ReplaceAll(s, ",", "")
		if strings.Count(s, ".") > 1 {
			s = strings.ReplaceAll(s, ".", "")
		}
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, &ParseError{Raw: raw, Err: err}
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

// MustNormalizeAmount is NormalizeAmount for literals known to be valid, such as test fixtures
func MustNormalizeAmount(raw string) decimal.Decimal {
	d, err := NormalizeAmount(raw)
	if err != nil {
		panic(err)
	}
	return d
}

// parsePercent reads a VAT percentage such as "8.1", "8,1" or "7.70".
// Unlike amounts, a single comma is always a decimal marker here.
func parsePercent(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(raw), "%"))
	s = strings.Replace(s, ",", ".", 1)
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, &ParseError{Raw: raw, Err: err}
	}
	return d, nil
}
