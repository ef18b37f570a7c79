// Package validation checks a resolved document for completeness and internal consistency.
package validation

import (
	"time"

	"github.com/garyjia/docledger/internal/domain/entity"
	"github.com/shopspring/decimal"
)

// Names used in MISSING_FIELD errors
const (
	FieldSupplier       = "supplier"
	FieldGrossAmount    = "gross_amount"
	FieldDate           = "date"
	FieldDocumentNumber = "document_number"
	FieldBusinessID     = "business_id"
	FieldIBAN           = "iban"
)

// DefaultTolerance is the largest accepted |net+vat-gross|. It absorbs the drift of cash
// rounding each of the three amounts and must move together with vat.CashRound.
var DefaultTolerance = decimal.New(2, -2)

// RequiredFields are the textual fields a document must carry, plus the identifiers and
// upstream issues that validation reports on.
type RequiredFields struct {
	Supplier       string
	Date           *time.Time
	DocumentNumber string
	BusinessIDs    []entity.BusinessIDCandidate
	BankAccounts   []entity.BankAccountCandidate
	Issues         []entity.ErrorKind
}

// RequiredFieldsFrom collects the required fields from an extraction result.
// issues are the problems reported while resolving amounts.
func RequiredFieldsFrom(fields entity.ExtractedFields, issues []entity.ErrorKind) RequiredFields {
	req := RequiredFields{
		Supplier:       fields.SupplierName,
		DocumentNumber: fields.DocumentNumber(),
		BusinessIDs:    fields.BusinessIDs,
		BankAccounts:   fields.BankAccounts,
		Issues:         issues,
	}
	if d, ok := fields.FirstDate(); ok {
		req.Date = &d
	}
	return req
}

// Validator runs the cross-field checks
type Validator struct {
	tolerance decimal.Decimal
	strict    bool
}

// Option configures a Validator
type Option func(*Validator)

// WithTolerance overrides DefaultTolerance; negative values are ignored
func WithTolerance(t decimal.Decimal) Option {
	return func(v *Validator) {
		if !t.IsNegative() {
			v.tolerance = t
		}
	}
}

// WithStrict turns rate-code and checksum warnings into errors
func WithStrict(strict bool) Option {
	return func(v *Validator) {
		v.strict = strict
	}
}

// NewValidator creates a validator
func NewValidator(opts ...Option) *Validator {
	v := &Validator{tolerance: DefaultTolerance}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ValidateDocument validates with the default tolerance in lenient mode
func ValidateDocument(amounts *entity.DocumentAmounts, required RequiredFields) entity.ValidationResult {
	return NewValidator().Validate(amounts, required)
}

// Validate checks required fields and amount consistency. amounts may be nil when no
// total could be resolved, which is reported as a missing gross amount.
func (v *Validator) Validate(amounts *entity.DocumentAmounts, required RequiredFields) entity.ValidationResult {
	var res entity.ValidationResult

	if required.Supplier == "" {
		res.Errors = append(res.Errors, entity.MissingField(FieldSupplier))
	}
	if amounts == nil || amounts.Gross.IsZero() {
		res.Errors = append(res.Errors, entity.MissingField(FieldGrossAmount))
	}
	if required.Date == nil || required.Date.IsZero() {
		res.Errors = append(res.Errors, entity.MissingField(FieldDate))
	}
	if required.DocumentNumber == "" {
		res.Errors = append(res.Errors, entity.MissingField(FieldDocumentNumber))
	}

	if amounts != nil && !amounts.Gross.IsZero() {
		expected := amounts.Net.Add(amounts.VAT)
		if expected.Sub(amounts.Gross).Abs().GreaterThan(v.tolerance) {
			res.Errors = append(res.Errors, entity.AmountMismatch(expected, amounts.Gross))
		}
	}

	for _, id := range required.BusinessIDs {
		if !id.Valid {
			v.soft(&res, entity.InvalidChecksum(FieldBusinessID, id.RawText))
		}
	}
	for _, acct := range required.BankAccounts {
		if !acct.FormatValid || !acct.ChecksumValid {
			v.soft(&res, entity.InvalidChecksum(FieldIBAN, acct.IBAN))
		}
	}

	for _, issue := range required.Issues {
		switch issue.Kind {
		case entity.KindUnknownRateCode, entity.KindInvalidChecksum:
			v.soft(&res, issue)
		default:
			res.Errors = append(res.Errors, issue)
		}
	}

	res.Valid = len(res.Errors) == 0
	return res
}

func (v *Validator) soft(res *entity.ValidationResult, e entity.ErrorKind) {
	if v.strict {
		res.Errors = append(res.Errors, e)
		return
	}
	res.Warnings = append(res.Warnings, e)
}
