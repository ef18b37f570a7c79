package invoice

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

var (
	businessIDPrefix = regexp.MustCompile(`(?i)^\s*CHE[\s\-.]*`)
	// MWST / TVA / IVA trailer after the UID marks VAT registration
	businessIDSuffix = regexp.MustCompile(`(?i)\s*(MWST|TVA|IVA|VAT)\s*$`)
	bankAccountFormat = regexp.MustCompile(`^(CH|LI)\d{2}\d{5}[0-9A-Z]{12}$`)
)

var businessIDWeights = [8]int{5, 4, 3, 2, 7, 6, 5, 4}

// businessIDDigits returns the nine UID digits, or false if the id does not have exactly nine
func businessIDDigits(id string) ([]int, bool) {
	s := businessIDSuffix.ReplaceAllString(id, "")
	s = businessIDPrefix.ReplaceAllString(s, "")

	digits := make([]int, 0, 9)
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits = append(digits, int(r-'0'))
		case r == '.' || r == '-' || r == ' ' || r == '\u00a0':
		default:
			return nil, false
		}
	}
	if len(digits) != 9 {
		return nil, false
	}
	return digits, true
}

// ValidateBusinessID checks a Swiss UID such as "CHE-123.456.788" against its mod-11 check digit.
// The "CHE" prefix and a trailing MWST/TVA/IVA marker are optional.
func ValidateBusinessID(id string) bool {
	digits, ok := businessIDDigits(id)
	if !ok {
		return false
	}
	sum := 0
	for i, w := range businessIDWeights {
		sum += digits[i] * w
	}
	check := (11 - sum%11) % 11
	// no UID is ever issued with check value 10
	if check == 10 {
		return false
	}
	return check == digits[8]
}

// NormalizeBusinessID formats a UID as CHE-XXX.XXX.XXX; ids without nine digits come back unchanged
func NormalizeBusinessID(id string) string {
	digits, ok := businessIDDigits(id)
	if !ok {
		return strings.TrimSpace(id)
	}
	var b strings.Builder
	b.WriteString("CHE-")
	for i, d := range digits {
		if i == 3 || i == 6 {
			b.WriteByte('.')
		}
		fmt.Fprintf(&b, "%d", d)
	}
	return b.String()
}

// CompactIBAN removes spaces and upper-cases an IBAN
func CompactIBAN(iban string) string {
	return strings.ToUpper(strings.Join(strings.Fields(iban), ""))
}

// ValidateBankAccount checks the fixed Swiss/Liechtenstein IBAN layout:
// country prefix, 2 check digits, 5-digit institution, 12 alphanumerics.
// It does not verify the check digits; see IBANChecksumValid.
func ValidateBankAccount(iban string) bool {
	return bankAccountFormat.MatchString(CompactIBAN(iban))
}

// IBANChecksumValid runs the ISO 13616 mod-97 check over an IBAN of any country
func IBANChecksumValid(iban string) bool {
	s := CompactIBAN(iban)
	if len(s) < 5 {
		return false
	}
	rearranged := s[4:] + s[:4]

	var numeric strings.Builder
	for _, r := range rearranged {
		switch {
		case r >= '0' && r <= '9':
			numeric.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			fmt.Fprintf(&numeric, "%d", int(r-'A')+10)
		default:
			return false
		}
	}

	n, ok := new(big.Int).SetString(numeric.String(), 10)
	if !ok {
		return false
	}
	return new(big.Int).Mod(n, big.NewInt(97)).Int64() == 1
}
