package invoice

import (
	"fmt"
	"sort"
	"strings"

	"github.com/garyjia/docledger/internal/domain/entity"
)

// LabelReach is how far after the end of a total label its amount may start, in bytes
const LabelReach = 40

// Outcome says how a total was chosen
type Outcome string

const (
	// OutcomeSelected means a grand-total label pointed at the amount
	OutcomeSelected Outcome = "selected"
	// OutcomeByMaximum means no label matched and the largest amount was taken
	OutcomeByMaximum Outcome = "by_maximum"
	// OutcomeAmbiguous means the document needs review; Candidate is only a suggestion
	OutcomeAmbiguous Outcome = "ambiguous"
	// OutcomeNone means there was no usable amount
	OutcomeNone Outcome = "none"
)

// TotalSelection is the result of total disambiguation
type TotalSelection struct {
	Candidate *entity.AmountCandidate `json:"candidate,omitempty"`
	Outcome   Outcome                 `json:"outcome"`
	Reason    string                  `json:"reason,omitempty"`
}

// Confident reports whether the total can be used without review
func (s TotalSelection) Confident() bool {
	return s.Outcome == OutcomeSelected
}

// SelectTotal picks the grand total among amounts.
//
// A grand-total label (one not overlapping a subtotal label) selects the first amount that
// starts inside it or at most LabelReach bytes after it. Without any labelled amount the
// largest value wins. Labels resolving to different values, or amounts in more than one
// currency, make the outcome ambiguous.
func SelectTotal(amounts []entity.AmountCandidate, labels Labels) TotalSelection {
	usable := make([]entity.AmountCandidate, 0, len(amounts))
	for _, a := range amounts {
		if a.ParseErr == "" {
			usable = append(usable, a)
		}
	}
	if len(usable) == 0 {
		return TotalSelection{Outcome: OutcomeNone, Reason: "no amount candidates"}
	}
	sort.SliceStable(usable, func(i, j int) bool {
		return usable[i].Offset < usable[j].Offset
	})

	currencies := currenciesOf(usable)

	var labelled []entity.AmountCandidate
	for _, label := range grandTotalLabels(labels) {
		for _, a := range usable {
			if a.Offset >= label.Start && a.Offset <= label.End+LabelReach {
				labelled = append(labelled, a)
				break
			}
		}
	}

	if len(labelled) > 0 {
		pick := labelled[0]
		for _, other := range labelled[1:] {
			if !other.Value.Equal(pick.Value) {
				return TotalSelection{
					Candidate: &pick,
					Outcome:   OutcomeAmbiguous,
					Reason:    fmt.Sprintf("total labels point at %s and %s", pick.Value.StringFixed(2), other.Value.StringFixed(2)),
				}
			}
		}
		if len(currencies) > 1 {
			return TotalSelection{
				Candidate: &pick,
				Outcome:   OutcomeAmbiguous,
				Reason:    "amounts in several currencies: " + strings.Join(currencies, ", "),
			}
		}
		return TotalSelection{Candidate: &pick, Outcome: OutcomeSelected}
	}

	pick := usable[0]
	for _, a := range usable[1:] {
		if a.Value.GreaterThan(pick.Value) {
			pick = a
		}
	}
	if len(currencies) > 1 {
		return TotalSelection{
			Candidate: &pick,
			Outcome:   OutcomeAmbiguous,
			Reason:    "no total label and amounts in several currencies: " + strings.Join(currencies, ", "),
		}
	}
	return TotalSelection{Candidate: &pick, Outcome: OutcomeByMaximum, Reason: "no total label, took the largest amount"}
}

func grandTotalLabels(l Labels) []Span {
	var out []Span
	for _, t := range l.Totals {
		sub := false
		for _, s := range l.Subtotals {
			if t.overlaps(s) {
				sub = true
				break
			}
		}
		if !sub {
			out = append(out, t)
		}
	}
	return out
}

func currenciesOf(amounts []entity.AmountCandidate) []string {
	seen := make(map[string]bool)
	var out []string
	for _, a := range amounts {
		if a.Currency != "" && !seen[a.Currency] {
			seen[a.Currency] = true
			out = append(out, a.Currency)
		}
	}
	sort.Strings(out)
	return out
}

// SelectTotal runs total disambiguation with the labels of this pattern set
func (ps *PatternSet) SelectTotal(amounts []entity.AmountCandidate, text string) TotalSelection {
	return SelectTotal(amounts, ps.FindLabels(text))
}
