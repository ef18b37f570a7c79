package voucher

import (
	"fmt"
	"time"

	"github.com/garyjia/docledger/internal/domain/entity"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Booking is what the journal builder needs to know about an accepted document
type Booking struct {
	DocumentID       string
	DocumentNumber   string
	Date             time.Time
	Supplier         string
	SupplierCategory string
	Direction        entity.Direction
	Amounts          *entity.DocumentAmounts
}

// JournalBuilder turns accepted documents into draft journal entries
type JournalBuilder struct {
	mapper *AccountMapper
	newID  func() string
}

// NewJournalBuilder creates a builder; a nil mapper uses the built-in accounts
func NewJournalBuilder(mapper *AccountMapper) *JournalBuilder {
	if mapper == nil {
		mapper = NewAccountMapper(nil)
	}
	return &JournalBuilder{
		mapper: mapper,
		newID:  func() string { return uuid.NewString() },
	}
}

// Build creates a DRAFT entry for the booking.
//
// Purchases debit the expense account with gross-vat and input tax with vat, and credit
// payables with gross. Sales debit receivables with gross and credit revenue and output tax.
// The expense or revenue line takes gross-vat instead of the stated net so that the entry is
// always balanced. Negative amounts (credit notes) swap sides.
func (b *JournalBuilder) Build(bk Booking) (entity.JournalEntry, error) {
	if bk.Amounts == nil {
		return entity.JournalEntry{}, fmt.Errorf("document %s: %w", bk.DocumentID, ErrNoAmounts)
	}
	gross, vat := bk.Amounts.Gross, bk.Amounts.VAT
	if gross.IsZero() {
		return entity.JournalEntry{}, fmt.Errorf("document %s: %w", bk.DocumentID, ErrZeroAmount)
	}
	base := gross.Sub(vat)
	text := bk.Supplier
	if bk.DocumentNumber != "" {
		text = fmt.Sprintf("%s %s", bk.Supplier, bk.DocumentNumber)
	}

	var lines []entity.JournalLine
	switch bk.Direction {
	case entity.DirectionPurchase:
		lines = append(lines, line(b.mapper.MapExpense(bk.SupplierCategory), base, text))
		if !vat.IsZero() {
			lines = append(lines, line(AccountInputTax, vat, "Vorsteuer "+bk.Amounts.RateCode.Code))
		}
		lines = append(lines, line(AccountPayables, gross.Neg(), text))
	case entity.DirectionSale:
		lines = append(lines, line(AccountReceivables, gross, text))
		lines = append(lines, line(b.mapper.Revenue(), base.Neg(), text))
		if !vat.IsZero() {
			lines = append(lines, line(AccountOutputTax, vat.Neg(), "MWST "+bk.Amounts.RateCode.Code))
		}
	default:
		return entity.JournalEntry{}, fmt.Errorf("document %s: %w %q", bk.DocumentID, ErrUnknownDirection, bk.Direction)
	}

	return entity.JournalEntry{
		ID:         b.newID(),
		Date:       bk.Date,
		Status:     entity.EntryDraft,
		Memo:       text,
		DocumentID: bk.DocumentID,
		Lines:      lines,
	}, nil
}

// line books a positive amount as debit and a negative one as credit
func line(account string, amount decimal.Decimal, text string) entity.JournalLine {
	l := entity.JournalLine{AccountNumber: account, Debit: decimal.Zero, Credit: decimal.Zero, Text: text}
	if amount.IsNegative() {
		l.Credit = amount.Neg()
	} else {
		l.Debit = amount
	}
	return l
}
