package invoice

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/garyjia/docledger/internal/domain/entity"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const germanInvoice = `Muster Elektro GmbH
Bahnhofstrasse 12
8001 Zürich
UID CHE-109.322.551 MWST

Rechnung Nr. RE-2024-117
Datum: 15.03.2024
Kundennummer: 40021

Installation Steckdose        842.00
Material                      300.00
Zwischentotal CHF 1'142.00
MWST 8.1% CHF 92.50
Total: CHF 1'234.50

Zahlbar innert 30 Tagen auf IBAN CH93 0076 2011 6238 5295 7
Referenz: 21 00000 00003 13947 14300 09017
`

const frenchReceipt = `Boulangerie Dupont Sàrl
1003 Lausanne
Facture n° 2024/881
Date: 2 avril 2024
Total TTC CHF 54.10
dont TVA 2.6% CHF 1.37
`

func values(cands []entity.AmountCandidate) []string {
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.Value.StringFixed(2)
	}
	return out
}

func TestExtractFields_GermanInvoice(t *testing.T) {
	e := NewExtractor(nil)
	f := e.ExtractFields(entity.RawDocument{ID: "doc-1", Text: germanInvoice, Language: entity.LangGerman})

	assert.Equal(t, "doc-1", f.DocumentID)
	assert.Equal(t, []string{"842.00", "300.00", "1142.00", "92.50", "1234.50"}, values(f.Amounts))
	for _, a := range f.Amounts {
		assert.Empty(t, a.ParseErr)
		assert.Equal(t, a.RawText, germanInvoice[a.Offset:a.End()], "offset must point at the raw text")
	}
	assert.Equal(t, "CHF", f.Amounts[4].Currency)
	assert.Equal(t, "", f.Amounts[0].Currency)

	assert.Equal(t, []string{"1142.00"}, values(f.NetAmounts))
	assert.Equal(t, []string{"92.50"}, values(f.VATAmounts))

	require.Len(t, f.VATRates, 1)
	assert.True(t, decimal.RequireFromString("8.1").Equal(f.VATRates[0].Percent))

	require.Len(t, f.Dates, 1)
	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), f.Dates[0].Date)
	assert.Equal(t, "swiss", f.Dates[0].Format)

	require.Len(t, f.BusinessIDs, 1)
	assert.Equal(t, "CHE-109.322.551", f.BusinessIDs[0].Normalized)
	assert.True(t, f.BusinessIDs[0].Valid)

	require.Len(t, f.BankAccounts, 1)
	assert.Equal(t, "CH9300762011623852957", f.BankAccounts[0].IBAN)
	assert.True(t, f.BankAccounts[0].FormatValid)
	assert.True(t, f.BankAccounts[0].ChecksumValid)

	kinds := map[string]string{}
	for _, r := range f.References {
		kinds[r.Kind] = r.Value
	}
	assert.Equal(t, "RE-2024-117", kinds[entity.ReferenceInvoiceNumber])
	assert.Equal(t, "40021", kinds[entity.ReferenceCustomerNumber])
	assert.Equal(t, "210000000003139471430009017", kinds[entity.ReferenceQR])
	assert.Equal(t, "RE-2024-117", f.DocumentNumber())

	require.Len(t, f.Addresses, 1)
	assert.Equal(t, "8001", f.Addresses[0].PostalCode)
	assert.Equal(t, "Zürich", f.Addresses[0].City)

	assert.Equal(t, "Muster Elektro GmbH", f.SupplierName)
	require.NotEmpty(t, f.Suppliers)
	assert.Equal(t, entity.SupplierSourceLegalSuffix, f.Suppliers[0].Source)
}

func TestExtractFields_FrenchReceipt(t *testing.T) {
	e := NewExtractor(nil)
	f := e.Extract(frenchReceipt, entity.LangFrench)

	assert.Equal(t, []string{"54.10", "1.37"}, values(f.Amounts))
	assert.Equal(t, []string{"1.37"}, values(f.VATAmounts))
	require.Len(t, f.VATRates, 1)
	assert.True(t, decimal.RequireFromString("2.6").Equal(f.VATRates[0].Percent))
	assert.Equal(t, "fr", f.VATRates[0].Locale)

	require.Len(t, f.Dates, 1)
	assert.Equal(t, time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC), f.Dates[0].Date)
	assert.Equal(t, "2024/881", f.DocumentNumber())
	assert.Equal(t, "Boulangerie Dupont Sàrl", f.SupplierName)
	require.Len(t, f.Addresses, 1)
	assert.Equal(t, "Lausanne", f.Addresses[0].City)
}

func TestExtractFields_KnownSupplierWins(t *testing.T) {
	text := "Swisscom (Schweiz) AG\n3050 Bern\nRechnungsnummer: 77120\nTotal CHF 49.90\n"
	f := NewExtractor(nil).Extract(text, entity.LangGerman)

	assert.Equal(t, "Swisscom", f.SupplierName)
	assert.Equal(t, "telecom", f.SupplierCategory)

	sources := map[string]string{}
	for _, s := range f.Suppliers {
		sources[s.Source] = s.Name
	}
	assert.Equal(t, "Swisscom (Schweiz) AG", sources[entity.SupplierSourceLegalSuffix])
}

func TestExtractFields_SupplierLabel(t *testing.T) {
	text := "Lieferant: Holzbau Meier\nTotal CHF 120.00\n"
	f := NewExtractor(nil).Extract(text, entity.LangUnknown)

	assert.Equal(t, "Holzbau Meier", f.SupplierName)
	require.Len(t, f.Suppliers, 1)
	assert.Equal(t, entity.SupplierSourceLabel, f.Suppliers[0].Source)
}

func TestExtractFields_Deterministic(t *testing.T) {
	e := NewExtractor(nil)
	for _, text := range []string{germanInvoice, frenchReceipt} {
		first := e.Extract(text, entity.LangUnknown)
		second := e.Extract(text, entity.LangUnknown)
		assert.Equal(t, first, second)
	}
}

func TestExtractFields_LanguageHintNeverSuppresses(t *testing.T) {
	e := NewExtractor(nil)
	de := e.Extract(germanInvoice, entity.LangGerman)
	fr := e.Extract(germanInvoice, entity.LangFrench)
	none := e.Extract(germanInvoice, entity.LangUnknown)

	assert.Equal(t, values(de.Amounts), values(fr.Amounts))
	assert.Equal(t, values(de.Amounts), values(none.Amounts))
	assert.Equal(t, len(de.VATRates), len(fr.VATRates))
	assert.Equal(t, len(de.References), len(fr.References))
}

func TestExtractFields_Dates(t *testing.T) {
	tests := []struct {
		text     string
		expected time.Time
		format   string
	}{
		{"Datum 2024-01-31", time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), "iso"},
		{"Datum 31/01/2024", time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), "slash"},
		{"vom 5.1.24", time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), "swiss_short"},
		{"Zürich, 15. März 2024", time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), "month_name"},
		{"Lugano, 3 giugno 2023", time.Date(2023, 6, 3, 0, 0, 0, 0, time.UTC), "month_name"},
		{"Genève, le 1er décembre 2023", time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC), "month_name"},
		{"issued 7 May 2024", time.Date(2024, 5, 7, 0, 0, 0, 0, time.UTC), "month_name"},
	}
	e := NewExtractor(nil)
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			f := e.Extract(tt.text, entity.LangUnknown)
			require.Len(t, f.Dates, 1)
			assert.Equal(t, tt.expected, f.Dates[0].Date)
			assert.Equal(t, tt.format, f.Dates[0].Format)
		})
	}

	f := e.Extract("Datum 31.02.2024", entity.LangUnknown)
	assert.Empty(t, f.Dates, "impossible dates are not candidates")
}

func TestExtractFields_SkipsPercentages(t *testing.T) {
	f := NewExtractor(nil).Extract("Rabatt 10.00 % auf 250.00", entity.LangUnknown)
	assert.Equal(t, []string{"250.00"}, values(f.Amounts))
}

func TestExtractFields_ContextWindow(t *testing.T) {
	text := strings.Repeat("ü", 80) + " CHF 12.50 " + strings.Repeat("é", 80)
	f := NewExtractor(nil).Extract(text, entity.LangUnknown)

	require.Len(t, f.Amounts, 1)
	ctx := f.Amounts[0].Context
	assert.True(t, utf8.ValidString(ctx))
	assert.Contains(t, ctx, "CHF 12.50")
	assert.Equal(t, 50+len("12.50")+50, utf8.RuneCountInString(ctx))

	small := NewExtractor(nil, WithContextWindow(3)).Extract("abcdef CHF 7.00 ghijkl", entity.LangUnknown)
	require.Len(t, small.Amounts, 1)
	assert.Equal(t, "HF 7.00 gh", small.Amounts[0].Context)
}

func TestCompilePatterns_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "no patterns", yaml: "patterns: []"},
		{name: "unknown category", yaml: "patterns: [{category: colour, pattern: '(?P<value>x)'}]"},
		{name: "unknown locale", yaml: "patterns: [{category: amount, locale: rm, pattern: '(?P<value>x)'}]"},
		{name: "missing value group", yaml: "patterns: [{category: amount, pattern: 'x'}]"},
		{name: "bad regexp", yaml: "patterns: [{category: amount, pattern: '(?P<value>x'}]"},
		{name: "undefined name", yaml: "patterns: [{category: amount, pattern: '(?P<value>{{nope}})'}]"},
		{name: "supplier without aliases", yaml: "patterns: [{category: total_label, pattern: 'Total'}]\nsuppliers: [{name: X}]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CompilePatterns([]byte(tt.yaml))
			assert.ErrorIs(t, err, ErrInvalidPatterns)
		})
	}
}

func TestPatternSet_LanguageOrdering(t *testing.T) {
	ps := DefaultPatterns()
	fr := ps.Patterns(CategoryVATRate, entity.LangFrench)
	require.NotEmpty(t, fr)
	assert.Equal(t, entity.LangFrench, fr[0].Locale)
	assert.Len(t, fr, len(ps.Patterns(CategoryVATRate, entity.LangUnknown)))
}

func TestPatternHolder_Reload(t *testing.T) {
	h := NewPatternHolder(DefaultPatterns())
	before := h.Load()

	assert.Error(t, h.Reload(t.TempDir()+"/missing.yaml"))
	assert.Same(t, before, h.Load())

	require.NoError(t, h.Reload(""))
	assert.NotSame(t, before, h.Load())
	assert.Equal(t, before.Len(), h.Load().Len())
}

func TestExtractFields_VATAmountExclusions(t *testing.T) {
	tests := []struct {
		name string
		text string
		net  []string
		vat  []string
	}{
		{name: "exkl. MWST", text: "Total exkl. MWST CHF 1'000.00\nMWST 8.1% CHF 81.00\n", net: []string{"1000.00"}, vat: []string{"81.00"}},
		{name: "inkl. MwSt", text: "Total inkl. MwSt. CHF 1'081.00\n", vat: []string{}},
		{name: "hors TVA", text: "Total hors TVA CHF 1'000.00\nTVA 8.1% CHF 81.00\n", net: []string{"1000.00"}, vat: []string{"81.00"}},
		{name: "excl. VAT", text: "Total excl. VAT CHF 1'000.00\nVAT 8.1% CHF 81.00\n", net: []string{"1000.00"}, vat: []string{"81.00"}},
		{name: "taxable base only", text: "MWST 8.1% von CHF 1'000.00\n", vat: []string{}},
		{name: "taxable base then amount", text: "MWST 8.1% von CHF 1'000.00 CHF 81.00\n", vat: []string{"81.00"}},
		{name: "base in french", text: "TVA 8.1% sur CHF 1'000.00\n", vat: []string{}},
	}
	e := NewExtractor(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := e.Extract(tt.text, entity.LangUnknown)
			assert.Equal(t, tt.vat, values(f.VATAmounts))
			if tt.net != nil {
				assert.Equal(t, tt.net, values(f.NetAmounts))
			}
		})
	}
}

func TestCompilePatterns_NestedDefinitionsAndSkipGroups(t *testing.T) {
	ps, err := CompilePatterns([]byte(`
definitions:
  num: '\d+'
  tagged: 'EUR {{num}}'
patterns:
  - {category: amount, pattern: '(?P<skip_tag>no )?(?P<value>{{tagged}})'}
`))
	require.NoError(t, err)

	ms := ps.find(CategoryAmount, "EUR 10, no EUR 20, EUR 30", entity.LangUnknown)
	require.Len(t, ms, 2)
	assert.Equal(t, Span{Start: 0, End: 6}, ms[0].span)
	assert.Equal(t, Span{Start: 19, End: 25}, ms[1].span)
}
