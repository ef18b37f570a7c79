package invoice

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/garyjia/docledger/internal/domain/entity"
)

// DefaultContextWindow is the number of characters kept on either side of a candidate
const DefaultContextWindow = 50

// Extractor finds every candidate field in document text.
// It picks nothing except the supplier name; disambiguation happens downstream.
type Extractor struct {
	patterns *PatternHolder
	window   int
}

// ExtractorOption configures an Extractor
type ExtractorOption func(*Extractor)

// WithContextWindow sets the context size in characters on each side of a candidate
func WithContextWindow(n int) ExtractorOption {
	return func(e *Extractor) {
		if n >= 0 {
			e.window = n
		}
	}
}

// NewExtractor creates an extractor reading patterns from holder.
// A nil holder uses the built-in table.
func NewExtractor(holder *PatternHolder, opts ...ExtractorOption) *Extractor {
	if holder == nil {
		holder = NewPatternHolder(DefaultPatterns())
	}
	e := &Extractor{patterns: holder, window: DefaultContextWindow}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Patterns returns the pattern set currently in use
func (e *Extractor) Patterns() *PatternSet {
	return e.patterns.Load()
}

// Extract is ExtractFields for a bare text
func (e *Extractor) Extract(text string, lang entity.Lang) entity.ExtractedFields {
	return e.ExtractFields(entity.RawDocument{Text: text, Language: lang})
}

// ExtractFields collects amount, VAT, date, identifier, reference, address and supplier
// candidates from doc. Identical input always yields identical output.
func (e *Extractor) ExtractFields(doc entity.RawDocument) entity.ExtractedFields {
	ps := e.patterns.Load()
	text := doc.Text
	lang := doc.Language

	fields := entity.ExtractedFields{
		DocumentID: doc.ID,
		Language:   lang,
		Text:       text,
	}

	fields.Amounts = e.amounts(ps.find(CategoryAmount, text, lang), text)
	fields.NetAmounts = e.amounts(ps.find(CategoryNetAmount, text, lang), text)
	fields.VATAmounts = e.amounts(ps.find(CategoryVATAmount, text, lang), text)

	for _, m := range ps.find(CategoryVATRate, text, lang) {
		raw := text[m.span.Start:m.span.End]
		pct, err := parsePercent(raw)
		if err != nil {
			continue
		}
		fields.VATRates = append(fields.VATRates, entity.VATRateMatch{
			RawText: raw,
			Percent: pct,
			Offset:  m.span.Start,
			Context: e.context(text, m.span),
			Locale:  string(m.pattern.Locale),
		})
	}

	for _, m := range ps.find(CategoryDate, text, lang) {
		raw := text[m.span.Start:m.span.End]
		d, ok := parseDate(raw, m.pattern.Subcategory)
		if !ok {
			continue
		}
		fields.Dates = append(fields.Dates, entity.DateCandidate{
			RawText: raw,
			Date:    d,
			Offset:  m.span.Start,
			Context: e.context(text, m.span),
			Format:  m.pattern.Subcategory,
		})
	}

	for _, m := range ps.find(CategoryBusinessID, text, lang) {
		raw := text[m.span.Start:m.span.End]
		fields.BusinessIDs = append(fields.BusinessIDs, entity.BusinessIDCandidate{
			RawText:    raw,
			Normalized: NormalizeBusinessID(raw),
			Valid:      ValidateBusinessID(raw),
			Offset:     m.span.Start,
			Context:    e.context(text, m.span),
		})
	}

	for _, m := range ps.find(CategoryBankAccount, text, lang) {
		raw := text[m.span.Start:m.span.End]
		fields.BankAccounts = append(fields.BankAccounts, entity.BankAccountCandidate{
			RawText:       raw,
			IBAN:          CompactIBAN(raw),
			FormatValid:   ValidateBankAccount(raw),
			ChecksumValid: IBANChecksumValid(raw),
			Offset:        m.span.Start,
			Context:       e.context(text, m.span),
		})
	}

	for _, m := range ps.find(CategoryReference, text, lang) {
		value := strings.TrimRight(text[m.span.Start:m.span.End], "-/")
		if m.pattern.Subcategory == entity.ReferenceQR {
			value = strings.Join(strings.Fields(value), "")
		}
		fields.References = append(fields.References, entity.ReferenceCandidate{
			Kind:    m.pattern.Subcategory,
			Value:   value,
			Offset:  m.span.Start,
			Context: e.context(text, m.span),
		})
	}

	for _, m := range ps.find(CategoryAddress, text, lang) {
		fields.Addresses = append(fields.Addresses, entity.AddressCandidate{
			PostalCode: text[m.span.Start:m.span.End],
			City:       strings.TrimRight(m.city, ".-"),
			Offset:     m.span.Start,
			Context:    e.context(text, m.span),
		})
	}

	fields.Suppliers = e.suppliers(ps, text, lang)
	if s, ok := pickSupplier(fields.Suppliers); ok {
		fields.SupplierName = s.Name
		fields.SupplierCategory = s.Category
	}

	return fields
}

func (e *Extractor) amounts(ms []match, text string) []entity.AmountCandidate {
	var out []entity.AmountCandidate
	for _, m := range ms {
		if followedByPercent(text, m.span.End) {
			continue
		}
		raw := text[m.span.Start:m.span.End]
		c := entity.AmountCandidate{
			RawText:  raw,
			Currency: normalizeCurrency(m.currency),
			Offset:   m.span.Start,
			Context:  e.context(text, m.span),
			Pattern:  m.pattern.Name,
		}
		v, err := NormalizeAmount(raw)
		if err != nil {
			c.ParseErr = err.Error()
		} else {
			c.Value = v
		}
		out = append(out, c)
	}
	return out
}

// suppliers lists known-supplier hits, labelled names and legal-suffix names, ordered by offset
func (e *Extractor) suppliers(ps *PatternSet, text string, lang entity.Lang) []entity.SupplierCandidate {
	var out []entity.SupplierCandidate

	for _, s := range ps.suppliers {
		loc := s.re.FindStringIndex(text)
		if loc == nil {
			continue
		}
		out = append(out, entity.SupplierCandidate{
			Name:     s.Name,
			Category: s.Category,
			Source:   entity.SupplierSourceKnown,
			Offset:   loc[0],
			Context:  e.context(text, Span{Start: loc[0], End: loc[1]}),
		})
	}

	for _, m := range ps.find(CategorySupplier, text, lang) {
		out = append(out, entity.SupplierCandidate{
			Name:     strings.TrimSpace(text[m.span.Start:m.span.End]),
			Category: knownCategoryOf(ps, text[m.span.Start:m.span.End]),
			Source:   entity.SupplierSourceLabel,
			Offset:   m.span.Start,
			Context:  e.context(text, m.span),
		})
	}

	for _, m := range ps.find(CategoryLegalSuffix, text, lang) {
		name := strings.TrimSpace(text[m.span.Start:m.span.End])
		out = append(out, entity.SupplierCandidate{
			Name:     name,
			Category: knownCategoryOf(ps, name),
			Source:   entity.SupplierSourceLegalSuffix,
			Offset:   m.span.Start,
			Context:  e.context(text, m.span),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Offset < out[j].Offset
	})
	return out
}

func knownCategoryOf(ps *PatternSet, name string) string {
	for _, s := range ps.suppliers {
		if s.re.MatchString(name) {
			return s.Category
		}
	}
	return ""
}

var supplierSourceRank = map[string]int{
	entity.SupplierSourceKnown:       0,
	entity.SupplierSourceLabel:       1,
	entity.SupplierSourceLegalSuffix: 2,
}

// pickSupplier prefers known suppliers, then labelled names, then legal-suffix names; earliest wins within a source
func pickSupplier(cands []entity.SupplierCandidate) (entity.SupplierCandidate, bool) {
	best := -1
	for i, c := range cands {
		if best < 0 || supplierSourceRank[c.Source] < supplierSourceRank[cands[best].Source] {
			best = i
		}
	}
	if best < 0 {
		return entity.SupplierCandidate{}, false
	}
	return cands[best], true
}

// context returns up to window characters on each side of span, cut on rune boundaries
func (e *Extractor) context(text string, s Span) string {
	start := s.Start
	for n := 0; n < e.window && start > 0; n++ {
		_, size := utf8.DecodeLastRuneInString(text[:start])
		start -= size
	}
	end := s.End
	for n := 0; n < e.window && end < len(text); n++ {
		_, size := utf8.DecodeRuneInString(text[end:])
		end += size
	}
	return text[start:end]
}

func followedByPercent(text string, end int) bool {
	rest := strings.TrimLeftFunc(text[end:], func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\u00a0'
	})
	return strings.HasPrefix(rest, "%")
}

func normalizeCurrency(c string) string {
	switch strings.ToUpper(strings.TrimSpace(c)) {
	case "":
		return ""
	case "CHF", "SFR.", "FR.":
		return "CHF"
	case "EUR", "€":
		return "EUR"
	case "USD", "US$", "$":
		return "USD"
	default:
		return strings.ToUpper(c)
	}
}

var dateLayouts = map[string][]string{
	"swiss":       {"2.1.2006"},
	"iso":         {"2006-01-02"},
	"slash":       {"2/1/2006"},
	"swiss_short": {"2.1.06"},
}

var monthDate = regexp.MustCompile(`(?i)^(\d{1,2}|1er)\.?\s*([\p{L}]+)\.?\s+(\d{4})$`)

var monthNames = map[string]time.Month{
	// de
	"januar": 1, "jan": 1, "februar": 2, "feb": 2, "märz": 3, "mär": 3, "april": 4, "apr": 4,
	"mai": 5, "juni": 6, "juli": 7, "august": 8, "aug": 8, "september": 9, "sept": 9, "sep": 9,
	"oktober": 10, "okt": 10, "november": 11, "nov": 11, "dezember": 12, "dez": 12,
	// fr
	"janvier": 1, "février": 2, "fevrier": 2, "mars": 3, "avril": 4, "juin": 6, "juillet": 7,
	"août": 8, "aout": 8, "septembre": 9, "octobre": 10, "novembre": 11, "décembre": 12, "decembre": 12,
	// it
	"gennaio": 1, "febbraio": 2, "marzo": 3, "aprile": 4, "maggio": 5, "giugno": 6, "luglio": 7,
	"agosto": 8, "settembre": 9, "ottobre": 10, "dicembre": 12,
	// en
	"january": 1, "february": 2, "march": 3, "may": 5, "june": 6, "july": 7, "october": 10, "december": 12,
}

// parseDate reads a date literal in the format named by a date pattern's subcategory
func parseDate(raw, format string) (time.Time, bool) {
	if format == "month_name" {
		return parseMonthDate(raw)
	}
	for _, layout := range dateLayouts[format] {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseMonthDate(raw string) (time.Time, bool) {
	parts := monthDate.FindStringSubmatch(strings.Join(strings.Fields(raw), " "))
	if parts == nil {
		return time.Time{}, false
	}
	day := 1
	if !strings.EqualFold(parts[1], "1er") {
		n, err := strconv.Atoi(parts[1])
		if err != nil {
			return time.Time{}, false
		}
		day = n
	}
	month, ok := monthNames[strings.ToLower(parts[2])]
	if !ok {
		return time.Time{}, false
	}
	year, err := strconv.Atoi(parts[3])
	if err != nil {
		return time.Time{}, false
	}
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	// time.Date normalizes 31 April to 1 May; reject instead
	if t.Day() != day || t.Month() != month {
		return time.Time{}, false
	}
	return t, true
}
