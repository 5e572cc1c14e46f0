package airquality

import (
	"fmt"
	"math"
	"sort"
)

// Category is a compliance category. Lower values are stricter.
type Category int

const (
	// CategoryMeetsGuideline means the value meets the health guideline.
	CategoryMeetsGuideline Category = iota
	// CategoryMeetsTarget means the value meets the forward-looking target.
	CategoryMeetsTarget
	// CategoryMeetsLimit means the value only meets the national limit.
	CategoryMeetsLimit
	// CategoryExceedsAll means the value exceeds every limit.
	CategoryExceedsAll
)

// String returns the wire name of the category.
func (c Category) String() string {
	switch c {
	case CategoryMeetsGuideline:
		return "meets_guideline"
	case CategoryMeetsTarget:
		return "meets_target"
	case CategoryMeetsLimit:
		return "meets_limit"
	case CategoryExceedsAll:
		return "exceeds_all"
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (c Category) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// Limits is the three-tier limit set for one pollutant, in µg/m³.
type Limits struct {
	// Limit is the loosest, legally binding national limit.
	Limit float64
	// Target is the stricter forward-looking limit.
	Target float64
	// Guideline is the strictest health guideline.
	Guideline float64
}

// Classify returns the strictest tier that v meets. Equality meets a tier.
func (l Limits) Classify(v float64) Category {
	switch {
	case v <= l.Guideline:
		return CategoryMeetsGuideline
	case v <= l.Target:
		return CategoryMeetsTarget
	case v <= l.Limit:
		return CategoryMeetsLimit
	default:
		return CategoryExceedsAll
	}
}

// ThresholdTable maps each pollutant to its limit set.
type ThresholdTable map[Pollutant]Limits

// requiredPollutants must always be present in a threshold table.
var requiredPollutants = []Pollutant{PollutantNO2, PollutantPM25, PollutantPM10}

// Validate checks that the table covers the required pollutants and that
// each limit set is ordered Guideline <= Target <= Limit.
func (t ThresholdTable) Validate() error {
	for _, p := range requiredPollutants {
		if _, ok := t[p]; !ok {
			return fmt.Errorf("%w: no thresholds for %s", ErrInvalidConfig, p)
		}
	}
	for p, l := range t {
		if !positiveFinite(l.Limit) || !positiveFinite(l.Target) || !positiveFinite(l.Guideline) {
			return fmt.Errorf("%w: thresholds for %s must be positive", ErrInvalidConfig, p)
		}
		if l.Guideline > l.Target || l.Target > l.Limit {
			return fmt.Errorf("%w: thresholds for %s must satisfy guideline <= target <= limit", ErrInvalidConfig, p)
		}
	}
	return nil
}

// PollutantStatus is the classification of one pollutant value.
type PollutantStatus struct {
	Pollutant Pollutant `json:"pollutant"`
	Value     float64   `json:"value"`
	Category  Category  `json:"category"`
	Limits    Limits    `json:"-"`
}

// ThresholdStatus is the classification of a whole estimate.
type ThresholdStatus struct {
	Pollutants []PollutantStatus

	// Overall is the worst category across the classified pollutants. It is
	// only meaningful when Classified is true.
	Overall    Category
	Classified bool
}

// Classifier compares estimates against a threshold table.
type Classifier struct {
	table ThresholdTable
}

// NewClassifier creates a Classifier. The table is copied.
func NewClassifier(table ThresholdTable) (*Classifier, error) {
	if err := table.Validate(); err != nil {
		return nil, err
	}
	copied := make(ThresholdTable, len(table))
	for p, l := range table {
		copied[p] = l
	}
	return &Classifier{table: copied}, nil
}

// Limits returns the configured limits for p.
func (c *Classifier) Limits(p Pollutant) (Limits, bool) {
	l, ok := c.table[p]
	return l, ok
}

// Classify classifies every present pollutant in values that has a limit
// set. Absent pollutants are not classified.
func (c *Classifier) Classify(values Concentrations) ThresholdStatus {
	var status ThresholdStatus

	for _, p := range Pollutants {
		limits, ok := c.table[p]
		if !ok {
			continue
		}
		v := Concentration(values.Get(p))
		if !v.Valid {
			continue
		}

		category := limits.Classify(v.Float64)
		status.Pollutants = append(status.Pollutants, PollutantStatus{
			Pollutant: p,
			Value:     v.Float64,
			Category:  category,
			Limits:    limits,
		})
		if !status.Classified || category > status.Overall {
			status.Overall = category
		}
		status.Classified = true
	}

	return status
}

// Pollutants returns the pollutants in the table in display order.
func (t ThresholdTable) Pollutants() []Pollutant {
	out := make([]Pollutant, 0, len(t))
	for p := range t {
		out = append(out, p)
	}
	order := make(map[Pollutant]int, len(Pollutants))
	for i, p := range Pollutants {
		order[p] = i
	}
	sort.Slice(out, func(a, b int) bool {
		ia, oka := order[out[a]]
		ib, okb := order[out[b]]
		if !oka {
			ia = math.MaxInt
		}
		if !okb {
			ib = math.MaxInt
		}
		if ia != ib {
			return ia < ib
		}
		return out[a] < out[b]
	})
	return out
}
