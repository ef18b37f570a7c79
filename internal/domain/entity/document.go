package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Lang is a document language hint
type Lang string

const (
	LangUnknown Lang = ""
	LangGerman  Lang = "de"
	LangFrench  Lang = "fr"
	LangItalian Lang = "it"
	LangEnglish Lang = "en"
)

// IsValid reports whether the hint is one of the supported languages or empty
func (l Lang) IsValid() bool {
	switch l {
	case LangUnknown, LangGerman, LangFrench, LangItalian, LangEnglish:
		return true
	}
	return false
}

// RawDocument is the text of one invoice or receipt as returned by the document-to-text service.
// It is never modified after it is received.
type RawDocument struct {
	ID       string `json:"id"`
	Text     string `json:"text"`
	Language Lang   `json:"language,omitempty"`
}

// AmountCandidate is one monetary literal found in a document
type AmountCandidate struct {
	RawText  string          `json:"raw_text"`
	Value    decimal.Decimal `json:"value"`
	Currency string          `json:"currency"`
	Offset   int             `json:"offset"`
	Context  string          `json:"context"`
	Pattern  string          `json:"pattern"`
	// ParseErr is set when the literal could not be normalized; Value is zero in that case.
	ParseErr string `json:"parse_error,omitempty"`
}

// End returns the byte offset just past the candidate's raw text
func (c AmountCandidate) End() int {
	return c.Offset + len(c.RawText)
}

// VATRateMatch is a VAT percentage found next to a VAT label
type VATRateMatch struct {
	RawText string          `json:"raw_text"`
	Percent decimal.Decimal `json:"percent"`
	Offset  int             `json:"offset"`
	Context string          `json:"context"`
	Locale  string          `json:"locale"`
}

// DateCandidate is a date literal found in a document
type DateCandidate struct {
	RawText string    `json:"raw_text"`
	Date    time.Time `json:"date"`
	Offset  int       `json:"offset"`
	Context string    `json:"context"`
	Format  string    `json:"format"`
}

// BusinessIDCandidate is a Swiss UID (CHE-xxx.xxx.xxx) found in a document
type BusinessIDCandidate struct {
	RawText    string `json:"raw_text"`
	Normalized string `json:"normalized"`
	Valid      bool   `json:"valid"`
	Offset     int    `json:"offset"`
	Context    string `json:"context"`
}

// BankAccountCandidate is an IBAN found in a document
type BankAccountCandidate struct {
	RawText       string `json:"raw_text"`
	IBAN          string `json:"iban"`
	FormatValid   bool   `json:"format_valid"`
	ChecksumValid bool   `json:"checksum_valid"`
	Offset        int    `json:"offset"`
	Context       string `json:"context"`
}

// Reference kinds
const (
	ReferenceInvoiceNumber  = "invoice_number"
	ReferenceQR             = "qr_reference"
	ReferenceCustomerNumber = "customer_number"
	ReferenceOrderNumber    = "order_number"
)

// ReferenceCandidate is a document number or payment reference
type ReferenceCandidate struct {
	Kind    string `json:"kind"`
	Value   string `json:"value"`
	Offset  int    `json:"offset"`
	Context string `json:"context"`
}

// AddressCandidate is a postal code and locality pair
type AddressCandidate struct {
	PostalCode string `json:"postal_code"`
	City       string `json:"city"`
	Offset     int    `json:"offset"`
	Context    string `json:"context"`
}

// Supplier sources
const (
	SupplierSourceKnown       = "known"
	SupplierSourceLabel       = "label"
	SupplierSourceLegalSuffix = "legal_suffix"
)

// SupplierCandidate is a possible issuer of the document
type SupplierCandidate struct {
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
	Source   string `json:"source"`
	Offset   int    `json:"offset"`
	Context  string `json:"context"`
}

// ExtractedFields is the full candidate set for one document.
// Nothing is chosen at this stage except the supplier name, which is the first known or
// legal-suffix candidate.
type ExtractedFields struct {
	DocumentID       string                 `json:"document_id,omitempty"`
	Language         Lang                   `json:"language,omitempty"`
	Text             string                 `json:"-"`
	SupplierName     string                 `json:"supplier_name,omitempty"`
	SupplierCategory string                 `json:"supplier_category,omitempty"`
	Suppliers        []SupplierCandidate    `json:"suppliers"`
	Amounts          []AmountCandidate      `json:"amounts"`
	NetAmounts       []AmountCandidate      `json:"net_amounts"`
	VATAmounts       []AmountCandidate      `json:"vat_amounts"`
	VATRates         []VATRateMatch         `json:"vat_rates"`
	BusinessIDs      []BusinessIDCandidate  `json:"business_ids"`
	BankAccounts     []BankAccountCandidate `json:"bank_accounts"`
	Dates            []DateCandidate        `json:"dates"`
	References       []ReferenceCandidate   `json:"references"`
	Addresses        []AddressCandidate     `json:"addresses"`
}

// DocumentNumber returns the first invoice-number reference, or empty
func (f *ExtractedFields) DocumentNumber() string {
	for _, r := range f.References {
		if r.Kind == ReferenceInvoiceNumber {
			return r.Value
		}
	}
	return ""
}

// FirstDate returns the earliest-positioned date candidate, if any
func (f *ExtractedFields) FirstDate() (time.Time, bool) {
	if len(f.Dates) == 0 {
		return time.Time{}, false
	}
	return f.Dates[0].Date, true
}
