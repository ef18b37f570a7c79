package invoice

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateBusinessID(t *testing.T) {
	tests := []struct {
		name     string
		id       string
		expected bool
	}{
		{name: "registered UID", id: "CHE-109.322.551", expected: true},
		{name: "check digit 8 matches weighted sum", id: "CHE-123.456.788", expected: true},
		{name: "wrong check digit", id: "CHE-123.456.789", expected: false},
		{name: "with MWST suffix", id: "CHE-109.322.551 MWST", expected: true},
		{name: "with TVA suffix", id: "CHE-109.322.551 TVA", expected: true},
		{name: "compact form", id: "CHE109322551", expected: true},
		{name: "without prefix", id: "109.322.551", expected: true},
		{name: "lower case prefix", id: "che-109.322.551", expected: true},
		{name: "check value 10 is never valid", id: "CHE-030.000.000", expected: false},
		{name: "too few digits", id: "CHE-123.456.78", expected: false},
		{name: "too many digits", id: "CHE-123.456.7880", expected: false},
		{name: "letters inside", id: "CHE-12A.456.788", expected: false},
		{name: "empty", id: "", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ValidateBusinessID(tt.id))
		})
	}
}

func TestNormalizeBusinessID(t *testing.T) {
	assert.Equal(t, "CHE-109.322.551", NormalizeBusinessID("CHE109322551"))
	assert.Equal(t, "CHE-109.322.551", NormalizeBusinessID("che 109 322 551 MWST"))
	assert.Equal(t, "CHE-12", NormalizeBusinessID(" CHE-12 "))
}

func TestValidateBankAccount(t *testing.T) {
	tests := []struct {
		name     string
		iban     string
		expected bool
	}{
		{name: "swiss compact", iban: "CH9300762011623852957", expected: true},
		{name: "swiss grouped", iban: "CH93 0076 2011 6238 5295 7", expected: true},
		{name: "lower case", iban: "ch93 0076 2011 6238 5295 7", expected: true},
		{name: "liechtenstein alphanumeric account", iban: "LI21 0881 0000 2324 013A A", expected: true},
		{name: "format only, wrong check digits", iban: "CH00 0076 2011 6238 5295 7", expected: true},
		{name: "german iban", iban: "DE89 3704 0044 0532 0130 00", expected: false},
		{name: "too short", iban: "CH93 0076 2011 6238 5295", expected: false},
		{name: "letters in institution", iban: "CH93 00A6 2011 6238 5295 7", expected: false},
		{name: "empty", iban: "", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ValidateBankAccount(tt.iban))
		})
	}
}

func TestIBANChecksumValid(t *testing.T) {
	assert.True(t, IBANChecksumValid("CH93 0076 2011 6238 5295 7"))
	assert.True(t, IBANChecksumValid("LI21 0881 0000 2324 013A A"))
	assert.True(t, IBANChecksumValid("DE89 3704 0044 0532 0130 00"))
	assert.False(t, IBANChecksumValid("CH00 0076 2011 6238 5295 7"))
	assert.False(t, IBANChecksumValid("CH9"))
	assert.False(t, IBANChecksumValid("CH93-0076"))
}
