package pipeline

import (
	"fmt"
	"sort"

	"treeconv/record"
)

// Validator checks one or more columns of a raw tree batch against a rule.
// Validators never mutate the batch. A non-nil error is always a
// *ValidationError; it aborts the entire run.
//
// All rules except Required skip fields that are absent from the batch, so
// a module may declare rules for optional source fields.
type Validator interface {
	Validate(b *record.Batch) error
}

// Required fails when any of the named fields is missing from the batch.
type Required []string

func (v Required) Validate(b *record.Batch) error {
	for _, f := range v {
		if !b.Has(f) {
			return &ValidationError{
				Tree:   -1,
				Field:  f,
				Rule:   "required",
				Reason: "missing required field",
			}
		}
	}
	return nil
}

// TreeLocalIndex checks that an integer field holds either -1 or a valid
// index into the same tree, i.e. a value in [-1, rows).
type TreeLocalIndex []string

func (v TreeLocalIndex) Validate(b *record.Batch) error {
	n := b.NumRows()
	for _, f := range v {
		vals, err := intField(b, f, "tree-local-index")
		if vals == nil {
			if err != nil {
				return err
			}
			continue
		}
		var rows []int
		for i, x := range vals {
			if x < -1 || x >= int64(n) {
				rows = append(rows, i)
			}
		}
		if len(rows) > 0 {
			return &ValidationError{
				Tree:   -1,
				Field:  f,
				Rule:   "tree-local-index",
				Rows:   rows,
				Reason: fmt.Sprintf("values must be in [-1, %d)", n),
			}
		}
	}
	return nil
}

// Positive rejects negative values.
type Positive []string

func (v Positive) Validate(b *record.Batch) error {
	for _, f := range v {
		vals, err := numericField(b, f, "positive")
		if vals == nil {
			if err != nil {
				return err
			}
			continue
		}
		var rows []int
		for i, x := range vals {
			if x < 0 {
				rows = append(rows, i)
			}
		}
		if len(rows) > 0 {
			return &ValidationError{
				Tree:   -1,
				Field:  f,
				Rule:   "positive",
				Rows:   rows,
				Reason: "values must not be negative",
			}
		}
	}
	return nil
}

// NonZero rejects zero values.
type NonZero []string

func (v NonZero) Validate(b *record.Batch) error {
	for _, f := range v {
		vals, err := numericField(b, f, "non-zero")
		if vals == nil {
			if err != nil {
				return err
			}
			continue
		}
		var rows []int
		for i, x := range vals {
			if x == 0 {
				rows = append(rows, i)
			}
		}
		if len(rows) > 0 {
			return &ValidationError{
				Tree:   -1,
				Field:  f,
				Rule:   "non-zero",
				Rows:   rows,
				Reason: "values must be non-zero",
			}
		}
	}
	return nil
}

// WithinRange checks values against the inclusive interval [Lower, Upper].
type WithinRange struct {
	Lower  float64
	Upper  float64
	Fields []string
}

func (v WithinRange) Validate(b *record.Batch) error {
	for _, f := range v.Fields {
		vals, err := numericField(b, f, "within-range")
		if vals == nil {
			if err != nil {
				return err
			}
			continue
		}
		var rows []int
		for i, x := range vals {
			if x < v.Lower || x > v.Upper {
				rows = append(rows, i)
			}
		}
		if len(rows) > 0 {
			return &ValidationError{
				Tree:   -1,
				Field:  f,
				Rule:   "within-range",
				Rows:   rows,
				Reason: fmt.Sprintf("values must be within [%g, %g]", v.Lower, v.Upper),
			}
		}
	}
	return nil
}

// WithinCRange checks values against the half-open interval [Lower, Upper).
type WithinCRange struct {
	Lower  float64
	Upper  float64
	Fields []string
}

func (v WithinCRange) Validate(b *record.Batch) error {
	for _, f := range v.Fields {
		vals, err := numericField(b, f, "within-crange")
		if vals == nil {
			if err != nil {
				return err
			}
			continue
		}
		var rows []int
		for i, x := range vals {
			if x < v.Lower || x >= v.Upper {
				rows = append(rows, i)
			}
		}
		if len(rows) > 0 {
			return &ValidationError{
				Tree:   -1,
				Field:  f,
				Rule:   "within-crange",
				Rows:   rows,
				Reason: fmt.Sprintf("values must be within [%g, %g)", v.Lower, v.Upper),
			}
		}
	}
	return nil
}

// Choice checks that every value is a member of a finite integer set.
type Choice struct {
	Choices []int64
	Fields  []string
}

func (v Choice) Validate(b *record.Batch) error {
	allowed := make(map[int64]struct{}, len(v.Choices))
	for _, c := range v.Choices {
		allowed[c] = struct{}{}
	}
	for _, f := range v.Fields {
		vals, err := intField(b, f, "choice")
		if vals == nil {
			if err != nil {
				return err
			}
			continue
		}
		var rows []int
		for i, x := range vals {
			if _, ok := allowed[x]; !ok {
				rows = append(rows, i)
			}
		}
		if len(rows) > 0 {
			return &ValidationError{
				Tree:   -1,
				Field:  f,
				Rule:   "choice",
				Rows:   rows,
				Reason: fmt.Sprintf("values must be one of %v", sortedChoices(v.Choices)),
			}
		}
	}
	return nil
}

// ValidatorFunc adapts a closure into a Validator for custom rules.
type ValidatorFunc func(b *record.Batch) error

func (f ValidatorFunc) Validate(b *record.Batch) error { return f(b) }

func numericField(b *record.Batch, field, rule string) ([]float64, error) {
	col, ok := b.Column(field)
	if !ok {
		return nil, nil
	}
	vals, ok := col.AsFloat64()
	if !ok {
		return nil, &ValidationError{
			Tree:   -1,
			Field:  field,
			Rule:   rule,
			Reason: fmt.Sprintf("column type %s is not numeric", col.DataType()),
		}
	}
	return vals, nil
}

func intField(b *record.Batch, field, rule string) ([]int64, error) {
	col, ok := b.Column(field)
	if !ok {
		return nil, nil
	}
	vals, ok := col.AsInt64()
	if !ok {
		return nil, &ValidationError{
			Tree:   -1,
			Field:  field,
			Rule:   rule,
			Reason: fmt.Sprintf("column type %s is not integral", col.DataType()),
		}
	}
	return vals, nil
}

func sortedChoices(choices []int64) []int64 {
	out := append([]int64(nil), choices...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
