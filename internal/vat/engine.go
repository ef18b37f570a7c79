package vat

import (
	"fmt"
	"time"

	"github.com/garyjia/docledger/internal/domain/entity"
	"github.com/shopspring/decimal"
)

var (
	twenty = decimal.NewFromInt(20)
	one    = decimal.NewFromInt(1)
	// DetectEpsilon is the matching tolerance for detection, 0.05 percentage points as a fraction
	DetectEpsilon = decimal.RequireFromString("0.0005")
)

// CashRound rounds x to the nearest 0.05 (round(x*20)/20), halves away from zero
func CashRound(x decimal.Decimal) decimal.Decimal {
	return x.Mul(twenty).Round(0).Div(twenty).Round(2)
}

// FromNet computes VAT and gross from a net amount.
// Rounding happens once on the exact results: gross and VAT are cash-rounded and net is their
// difference, so all three are multiples of 0.05 and net+vat equals gross exactly.
// The returned Net is therefore not always CashRound(net): it can be off by 0.05, as for a
// net of 10.02 at 8.1%, which yields 10.05 + 0.80 = 10.85 where CashRound(10.02) is 10.00.
func FromNet(net decimal.Decimal, code entity.RateCode) entity.DocumentAmounts {
	vat := net.Mul(code.Percent)
	gross := net.Add(vat)
	return rounded(gross, vat, code)
}

// FromGross computes VAT and net from a gross amount: vat = gross*p/(1+p)
func FromGross(gross decimal.Decimal, code entity.RateCode) entity.DocumentAmounts {
	vat := gross.Mul(code.Percent).DivRound(one.Add(code.Percent), 16)
	return rounded(gross, vat, code)
}

func rounded(gross, vat decimal.Decimal, code entity.RateCode) entity.DocumentAmounts {
	g := CashRound(gross)
	v := CashRound(vat)
	return entity.DocumentAmounts{
		Net:      g.Sub(v),
		VAT:      v,
		Gross:    g,
		RateCode: code,
	}
}

// Detection is the outcome of matching a raw percentage against the rate table
type Detection struct {
	RateCode entity.RateCode `json:"rate_code"`
	// LowConfidence is set when the code is a fallback or is not in force on the reference date
	LowConfidence bool `json:"low_confidence"`
	// Issue carries an UNKNOWN_RATE_CODE error when the standard rate was substituted
	Issue *entity.ErrorKind `json:"issue,omitempty"`
}

// Matched reports whether the percentage matched a table entry
func (d Detection) Matched() bool {
	return d.Issue == nil
}

// ToFraction accepts 8.1 or 0.081 style percentages and returns the fraction.
// Values of 1 and above are read as percentage points.
func ToFraction(percent decimal.Decimal) decimal.Decimal {
	if percent.Abs().GreaterThanOrEqual(one) {
		return percent.Shift(-2)
	}
	return percent
}

// DetectRateCode matches percent against the rates of direction, preferring rates in force today
func (t *Table) DetectRateCode(direction entity.Direction, percent decimal.Decimal) Detection {
	return t.detect(direction, percent, t.now(), false)
}

// DetectRateCodeOn matches percent against the rates of direction in force on date.
// A rate that matches but is not in force on date is returned with LowConfidence.
func (t *Table) DetectRateCodeOn(direction entity.Direction, percent decimal.Decimal, date time.Time) Detection {
	return t.detect(direction, percent, date, true)
}

func (t *Table) detect(direction entity.Direction, percent decimal.Decimal, ref time.Time, dated bool) Detection {
	fraction := ToFraction(percent)

	var cands []entity.RateCode
	for _, c := range t.codes {
		if c.Direction != direction {
			continue
		}
		if c.Percent.Sub(fraction).Abs().LessThanOrEqual(DetectEpsilon) {
			cands = append(cands, c)
		}
	}

	if len(cands) == 0 {
		fallback := t.StandardRate(direction, ref)
		issue := entity.UnknownRateCode(fmt.Sprintf("no %s rate matches %s%%, assuming %s", direction, fraction.Shift(2).String(), fallback.Code))
		return Detection{RateCode: fallback, LowConfidence: true, Issue: &issue}
	}

	sortByPreference(cands, ref)
	best := cands[0]
	return Detection{
		RateCode:      best,
		LowConfidence: dated && !best.ActiveOn(ref),
	}
}
