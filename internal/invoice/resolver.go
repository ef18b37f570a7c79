package invoice

import (
	"time"

	"github.com/garyjia/docledger/internal/domain/entity"
	"github.com/garyjia/docledger/internal/vat"
	"github.com/shopspring/decimal"
)

// Resolution explains how a DocumentAmounts was derived
type Resolution struct {
	Total     TotalSelection `json:"total"`
	Detection *vat.Detection `json:"detection,omitempty"`
	// NetFromText and VATFromText are set when the amount was read from a labelled line
	// instead of being computed from the gross amount.
	NetFromText bool               `json:"net_from_text"`
	VATFromText bool               `json:"vat_from_text"`
	Issues      []entity.ErrorKind `json:"issues,omitempty"`
}

// Resolver turns extracted candidates into one canonical amount set per document
type Resolver struct {
	patterns  *PatternHolder
	rates     *vat.Holder
	direction entity.Direction
	currency  string
	now       func() time.Time
}

// ResolverOption configures a Resolver
type ResolverOption func(*Resolver)

// WithDirection sets the direction used for rate detection; purchases by default
func WithDirection(d entity.Direction) ResolverOption {
	return func(r *Resolver) {
		if d.IsValid() {
			r.direction = d
		}
	}
}

// WithDefaultCurrency sets the currency used when no candidate names one
func WithDefaultCurrency(c string) ResolverOption {
	return func(r *Resolver) {
		if c != "" {
			r.currency = c
		}
	}
}

// WithResolverClock sets the reference date for undated documents
func WithResolverClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) {
		r.now = now
	}
}

// NewResolver creates a resolver; nil holders fall back to the built-in tables
func NewResolver(patterns *PatternHolder, rates *vat.Holder, opts ...ResolverOption) *Resolver {
	if patterns == nil {
		patterns = NewPatternHolder(DefaultPatterns())
	}
	if rates == nil {
		rates = vat.NewHolder(vat.DefaultTable())
	}
	r := &Resolver{
		patterns:  patterns,
		rates:     rates,
		direction: entity.DirectionPurchase,
		currency:  "CHF",
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveAmounts resolves fields with the resolver's default direction
func (r *Resolver) ResolveAmounts(fields entity.ExtractedFields) (*entity.DocumentAmounts, Resolution) {
	return r.ResolveAmountsFor(fields, r.direction)
}

// ResolveAmountsFor picks the gross total, detects the VAT rate and derives net and VAT.
// A labelled net amount wins over the computed one so that inconsistent documents surface
// in validation. A labelled VAT amount is only used when it fits the detected rate or the
// labelled net. It returns nil when there is no amount.
func (r *Resolver) ResolveAmountsFor(fields entity.ExtractedFields, direction entity.Direction) (*entity.DocumentAmounts, Resolution) {
	if !direction.IsValid() {
		direction = r.direction
	}

	var res Resolution
	res.Total = r.patterns.Load().SelectTotal(fields.Amounts, fields.Text)
	if res.Total.Candidate == nil {
		return nil, res
	}
	if res.Total.Outcome == OutcomeAmbiguous {
		res.Issues = append(res.Issues, entity.AmbiguousTotal(res.Total.Reason))
	}

	gross := res.Total.Candidate.Value
	table := r.rates.Load()

	date, dated := fields.FirstDate()
	ref := date
	if !dated {
		ref = r.now()
	}

	var det vat.Detection
	switch {
	case len(fields.VATRates) > 0 && dated:
		det = table.DetectRateCodeOn(direction, fields.VATRates[0].Percent, date)
	case len(fields.VATRates) > 0:
		det = table.DetectRateCode(direction, fields.VATRates[0].Percent)
	default:
		code := table.StandardRate(direction, ref)
		issue := entity.UnknownRateCode("no VAT rate in document, assuming " + code.Code)
		det = vat.Detection{RateCode: code, LowConfidence: true, Issue: &issue}
	}
	res.Detection = &det
	if det.Issue != nil {
		res.Issues = append(res.Issues, *det.Issue)
	}

	computed := vat.FromGross(gross, det.RateCode)
	labelledNet, netOK := firstBelow(fields.NetAmounts, gross, true)

	vatAmount := computed.VAT
	if v, ok := plausibleVAT(fields.VATAmounts, gross, det.RateCode, labelledNet, netOK); ok {
		vatAmount = v
		res.VATFromText = true
	}
	net := gross.Sub(vatAmount)
	if netOK {
		net = labelledNet
		res.NetFromText = true
	}

	amounts := &entity.DocumentAmounts{
		Net:           net,
		VAT:           vatAmount,
		Gross:         gross,
		RateCode:      det.RateCode,
		Currency:      r.currencyOf(res.Total.Candidate, fields.Amounts),
		LowConfidence: det.LowConfidence || !res.Total.Confident(),
	}
	return amounts, res
}

// firstBelow returns the first parsed, positive candidate below limit (or equal to it when inclusive)
func firstBelow(cands []entity.AmountCandidate, limit decimal.Decimal, inclusive bool) (decimal.Decimal, bool) {
	for _, c := range cands {
		if c.ParseErr != "" || !c.Value.IsPositive() {
			continue
		}
		if c.Value.LessThan(limit) || (inclusive && c.Value.Equal(limit)) {
			return c.Value, true
		}
	}
	return decimal.Zero, false
}

var (
	minVATTolerance      = decimal.New(5, -2)
	relativeVATTolerance = decimal.New(5, -3)
	one                  = decimal.NewFromInt(1)
)

// plausibleVAT returns the first labelled VAT amount below gross that either matches
// gross*p/(1+p) for code or completes a labelled net to gross. The tolerance is 0.5% of
// gross but at least 0.05.
func plausibleVAT(cands []entity.AmountCandidate, gross decimal.Decimal, code entity.RateCode, net decimal.Decimal, netOK bool) (decimal.Decimal, bool) {
	tolerance := decimal.Max(minVATTolerance, gross.Mul(relativeVATTolerance))
	expected := gross.Mul(code.Percent).DivRound(one.Add(code.Percent), 16)

	for _, c := range cands {
		if c.ParseErr != "" || !c.Value.IsPositive() || !c.Value.LessThan(gross) {
			continue
		}
		if c.Value.Sub(expected).Abs().LessThanOrEqual(tolerance) {
			return c.Value, true
		}
		if netOK && net.Add(c.Value).Sub(gross).Abs().LessThanOrEqual(tolerance) {
			return c.Value, true
		}
	}
	return decimal.Zero, false
}

func (r *Resolver) currencyOf(total *entity.AmountCandidate, all []entity.AmountCandidate) string {
	if total.Currency != "" {
		return total.Currency
	}
	counts := make(map[string]int)
	best := ""
	for _, a := range all {
		if a.Currency == "" {
			continue
		}
		counts[a.Currency]++
		if best == "" || counts[a.Currency] > counts[best] {
			best = a.Currency
		}
	}
	if best != "" {
		return best
	}
	return r.currency
}
