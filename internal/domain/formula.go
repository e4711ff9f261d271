package domain

import (
	"encoding/json"
	"fmt"
	"math"
)

// FormulaKind discriminates the closed set of formula types.
type FormulaKind string

const (
	FormulaFixed  FormulaKind = "fixed"
	FormulaRate   FormulaKind = "rate"
	FormulaTable  FormulaKind = "table"
	FormulaHybrid FormulaKind = "hybrid"
)

// PointsFormula computes the points a rule yields for an event.
// Evaluation is pure: no I/O, no side effects, total over all inputs.
type PointsFormula interface {
	Kind() FormulaKind
	Points(ev *EventContext) int64
}

// SimpleFormula is the subset of formulas allowed as a hybrid base or
// bonus. Only fixed and rate implement it, so nested hybrids are
// unrepresentable.
type SimpleFormula interface {
	PointsFormula
	simpleFormula()
}

// FixedFormula awards a constant number of points.
type FixedFormula struct {
	Value int64 `json:"points"`
}

func (f *FixedFormula) Kind() FormulaKind          { return FormulaFixed }
func (f *FixedFormula) Points(*EventContext) int64 { return f.Value }
func (f *FixedFormula) simpleFormula()             {}

// RateFormula awards round(amount * rate) points, clamped to the
// optional [MinPoints, MaxPoints] range. Clamping happens after rounding.
type RateFormula struct {
	Rate        float64        `json:"rate"`
	AmountField AmountField    `json:"amountField,omitempty"`
	Rounding    RoundingPolicy `json:"roundingPolicy,omitempty"`
	MinPoints   *int64         `json:"minPoints,omitempty"`
	MaxPoints   *int64         `json:"maxPoints,omitempty"`
}

func (f *RateFormula) Kind() FormulaKind { return FormulaRate }
func (f *RateFormula) simpleFormula()    {}

func (f *RateFormula) Points(ev *EventContext) int64 {
	raw := ev.AmountFor(f.AmountField) * f.Rate
	pts := roundPoints(raw, f.Rounding)
	if f.MinPoints != nil && pts < *f.MinPoints {
		pts = *f.MinPoints
	}
	if f.MaxPoints != nil && pts > *f.MaxPoints {
		pts = *f.MaxPoints
	}
	return pts
}

func roundPoints(raw float64, policy RoundingPolicy) int64 {
	switch policy {
	case RoundCeil:
		return int64(math.Ceil(raw))
	case RoundNearest:
		return int64(math.Round(raw))
	default:
		return int64(math.Floor(raw))
	}
}

// TableBand maps a half-open amount range [Min, Max) to a point value.
// A nil Max means the band is unbounded above.
type TableBand struct {
	Min    float64  `json:"min"`
	Max    *float64 `json:"max,omitempty"`
	Points int64    `json:"points"`
}

// Contains reports whether amount falls inside the band.
func (b TableBand) Contains(amount float64) bool {
	if amount < b.Min {
		return false
	}
	return b.Max == nil || amount < *b.Max
}

// TableFormula awards a flat value per amount band. Bands are checked
// in declared order and the first match wins; no match yields zero.
type TableFormula struct {
	AmountField AmountField `json:"amountField,omitempty"`
	Bands       []TableBand `json:"bands"`
}

func (f *TableFormula) Kind() FormulaKind { return FormulaTable }

func (f *TableFormula) Points(ev *EventContext) int64 {
	amount := ev.AmountFor(f.AmountField)
	for _, band := range f.Bands {
		if band.Contains(amount) {
			return band.Points
		}
	}
	return 0
}

// HybridBonus is a conditional add-on to a hybrid base formula.
type HybridBonus struct {
	Conditions *Eligibility
	Formula    SimpleFormula
}

// HybridFormula awards base points plus every bonus whose conditions
// match the event. Bonus order is preserved for diagnostics.
type HybridFormula struct {
	Base    SimpleFormula
	Bonuses []HybridBonus
}

func (f *HybridFormula) Kind() FormulaKind { return FormulaHybrid }

func (f *HybridFormula) Points(ev *EventContext) int64 {
	total := int64(0)
	if f.Base != nil {
		total = f.Base.Points(ev)
	}
	for _, b := range f.Bonuses {
		if b.Conditions.Matches(ev) && b.Formula != nil {
			total += b.Formula.Points(ev)
		}
	}
	return total
}

// Formula wraps a PointsFormula with a JSON codec keyed on the "type"
// discriminator, so rules round-trip through storage and the API.
type Formula struct {
	PointsFormula
}

type formulaEnvelope struct {
	Type FormulaKind `json:"type"`

	// fixed
	Points *int64 `json:"points,omitempty"`

	// rate
	Rate           *float64       `json:"rate,omitempty"`
	AmountField    AmountField    `json:"amountField,omitempty"`
	RoundingPolicy RoundingPolicy `json:"roundingPolicy,omitempty"`
	MinPoints      *int64         `json:"minPoints,omitempty"`
	MaxPoints      *int64         `json:"maxPoints,omitempty"`

	// table
	Bands []TableBand `json:"bands,omitempty"`

	// hybrid
	Base    *Formula        `json:"base,omitempty"`
	Bonuses []bonusEnvelope `json:"bonuses,omitempty"`
}

type bonusEnvelope struct {
	Conditions *Eligibility `json:"conditions,omitempty"`
	Formula    Formula      `json:"formula"`
}

// MarshalJSON encodes the wrapped formula with its type discriminator.
func (f Formula) MarshalJSON() ([]byte, error) {
	if f.PointsFormula == nil {
		return []byte("null"), nil
	}

	env := formulaEnvelope{Type: f.PointsFormula.Kind()}
	switch v := f.PointsFormula.(type) {
	case *FixedFormula:
		pts := v.Value
		env.Points = &pts
	case *RateFormula:
		rate := v.Rate
		env.Rate = &rate
		env.AmountField = v.AmountField
		env.RoundingPolicy = v.Rounding
		env.MinPoints = v.MinPoints
		env.MaxPoints = v.MaxPoints
	case *TableFormula:
		env.AmountField = v.AmountField
		env.Bands = v.Bands
	case *HybridFormula:
		base := Formula{v.Base}
		env.Base = &base
		for _, b := range v.Bonuses {
			env.Bonuses = append(env.Bonuses, bonusEnvelope{
				Conditions: b.Conditions,
				Formula:    Formula{b.Formula},
			})
		}
	default:
		return nil, fmt.Errorf("unknown formula kind: %s", f.PointsFormula.Kind())
	}

	return json.Marshal(env)
}

// UnmarshalJSON decodes a formula from its type discriminator.
func (f *Formula) UnmarshalJSON(data []byte) error {
	var env formulaEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}

	switch env.Type {
	case FormulaFixed:
		pts := int64(0)
		if env.Points != nil {
			pts = *env.Points
		}
		f.PointsFormula = &FixedFormula{Value: pts}

	case FormulaRate:
		rate := 0.0
		if env.Rate != nil {
			rate = *env.Rate
		}
		f.PointsFormula = &RateFormula{
			Rate:        rate,
			AmountField: env.AmountField,
			Rounding:    env.RoundingPolicy,
			MinPoints:   env.MinPoints,
			MaxPoints:   env.MaxPoints,
		}

	case FormulaTable:
		f.PointsFormula = &TableFormula{
			AmountField: env.AmountField,
			Bands:       env.Bands,
		}

	case FormulaHybrid:
		hybrid := &HybridFormula{}
		if env.Base != nil && env.Base.PointsFormula != nil {
			simple, ok := env.Base.PointsFormula.(SimpleFormula)
			if !ok {
				return fmt.Errorf("hybrid base must be fixed or rate, got %s", env.Base.Kind())
			}
			hybrid.Base = simple
		}
		for i, b := range env.Bonuses {
			simple, ok := b.Formula.PointsFormula.(SimpleFormula)
			if !ok {
				return fmt.Errorf("hybrid bonus %d must be fixed or rate", i)
			}
			hybrid.Bonuses = append(hybrid.Bonuses, HybridBonus{
				Conditions: b.Conditions,
				Formula:    simple,
			})
		}
		f.PointsFormula = hybrid

	default:
		return fmt.Errorf("unknown formula type: %q", env.Type)
	}

	return nil
}
