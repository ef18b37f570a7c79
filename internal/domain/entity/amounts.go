package entity

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Direction tells whether a VAT rate applies to sales (output tax) or purchases (input tax)
type Direction string

const (
	DirectionSale     Direction = "SALE"
	DirectionPurchase Direction = "PURCHASE"
)

// IsValid reports whether d is a known direction
func (d Direction) IsValid() bool {
	return d == DirectionSale || d == DirectionPurchase
}

// RateCategory is the Swiss VAT rate category
type RateCategory string

const (
	RateNormal        RateCategory = "NORMAL"
	RateReduced       RateCategory = "REDUCED"
	RateAccommodation RateCategory = "ACCOMMODATION"
	RateExempt        RateCategory = "EXEMPT"
	RateExport        RateCategory = "EXPORT"
)

// IsValid reports whether c is a known rate category
func (c RateCategory) IsValid() bool {
	switch c {
	case RateNormal, RateReduced, RateAccommodation, RateExempt, RateExport:
		return true
	}
	return false
}

// RateCode is one effective-dated VAT rate for a category and direction.
// Percent is a fraction: 8.1 % is stored as 0.081.
type RateCode struct {
	Code          string          `json:"code"`
	Category      RateCategory    `json:"category"`
	Direction     Direction       `json:"direction"`
	Percent       decimal.Decimal `json:"percent"`
	EffectiveFrom time.Time       `json:"effective_from"`
	EffectiveTo   *time.Time      `json:"effective_to,omitempty"`
}

// ActiveOn reports whether the rate is in force on date.
// The lower bound is inclusive, the upper bound exclusive.
func (r RateCode) ActiveOn(date time.Time) bool {
	if date.Before(r.EffectiveFrom) {
		return false
	}
	if r.EffectiveTo != nil && !date.Before(*r.EffectiveTo) {
		return false
	}
	return true
}

// PercentagePoints returns the rate as percentage points, e.g. 8.1
func (r RateCode) PercentagePoints() decimal.Decimal {
	return r.Percent.Shift(2)
}

func (r RateCode) String() string {
	return fmt.Sprintf("%s(%s %s %s%%)", r.Code, r.Direction, r.Category, r.PercentagePoints().String())
}

// DocumentAmounts is the resolved amount set for one document
type DocumentAmounts struct {
	Net      decimal.Decimal `json:"net"`
	VAT      decimal.Decimal `json:"vat"`
	Gross    decimal.Decimal `json:"gross"`
	RateCode RateCode        `json:"rate_code"`
	Currency string          `json:"currency"`
	// LowConfidence marks amounts whose rate code came from the permissive default
	// or whose total was picked by a fallback heuristic.
	LowConfidence bool `json:"low_confidence"`
}

// Error kinds reported by document validation
const (
	KindMissingField    = "MISSING_FIELD"
	KindAmountMismatch  = "AMOUNT_MISMATCH"
	KindUnknownRateCode = "UNKNOWN_RATE_CODE"
	KindInvalidChecksum = "INVALID_CHECKSUM"
	KindAmbiguousTotal  = "AMBIGUOUS_TOTAL"
)

// ErrorKind is one validation failure.
// Field is set for MISSING_FIELD and INVALID_CHECKSUM, Expected/Actual for AMOUNT_MISMATCH.
type ErrorKind struct {
	Kind     string           `json:"kind"`
	Field    string           `json:"field,omitempty"`
	Expected *decimal.Decimal `json:"expected,omitempty"`
	Actual   *decimal.Decimal `json:"actual,omitempty"`
	Message  string           `json:"message,omitempty"`
}

// MissingField builds a MISSING_FIELD error
func MissingField(name string) ErrorKind {
	return ErrorKind{Kind: KindMissingField, Field: name, Message: name + " is required"}
}

// AmountMismatch builds an AMOUNT_MISMATCH error; expected is net+vat, actual the gross amount
func AmountMismatch(expected, actual decimal.Decimal) ErrorKind {
	return ErrorKind{
		Kind:     KindAmountMismatch,
		Expected: &expected,
		Actual:   &actual,
		Message:  fmt.Sprintf("net + vat = %s does not match gross %s", expected.StringFixed(2), actual.StringFixed(2)),
	}
}

// UnknownRateCode builds an UNKNOWN_RATE_CODE error
func UnknownRateCode(msg string) ErrorKind {
	return ErrorKind{Kind: KindUnknownRateCode, Message: msg}
}

// InvalidChecksum builds an INVALID_CHECKSUM error for the named identifier field
func InvalidChecksum(field, value string) ErrorKind {
	return ErrorKind{Kind: KindInvalidChecksum, Field: field, Message: fmt.Sprintf("%s %q fails checksum", field, value)}
}

// AmbiguousTotal builds an AMBIGUOUS_TOTAL error
func AmbiguousTotal(msg string) ErrorKind {
	return ErrorKind{Kind: KindAmbiguousTotal, Message: msg}
}

func (e ErrorKind) Error() string {
	if e.Message != "" {
		return e.Kind + ": " + e.Message
	}
	return e.Kind
}

// ValidationResult is the outcome of one document validation.
// Warnings never affect Valid.
type ValidationResult struct {
	Valid    bool        `json:"valid"`
	Errors   []ErrorKind `json:"errors"`
	Warnings []ErrorKind `json:"warnings,omitempty"`
}

// Has reports whether the result contains an error of the given kind
func (r ValidationResult) Has(kind string) bool {
	for _, e := range r.Errors {
		if e.Kind == kind {
			return true
		}
	}
	return false
}

// HasWarning reports whether the result carries a warning of the given kind
func (r ValidationResult) HasWarning(kind string) bool {
	for _, e := range r.Warnings {
		if e.Kind == kind {
			return true
		}
	}
	return false
}
