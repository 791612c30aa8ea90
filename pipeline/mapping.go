package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"treeconv/record"
)

// TransformFunc computes one destination column from the full tree batch
// (raw plus generated fields). Transforms carry the user's unit conversions
// and derived physics; the pipeline treats them as opaque.
type TransformFunc func(b *record.Batch) (record.Column, error)

// Mapping translates a tree's raw and generated fields into a module's
// destination fields through three composable mechanisms:
//
//   - Rename: destination field copied from a differently named source field
//   - Transform: destination field computed by a TransformFunc
//   - Passthrough: source field copied unchanged under the same name
//
// A destination field may be produced by at most one mechanism; naming it
// twice is a configuration error reported when the module is built.
// Destination names are compared case-insensitively, matching the
// case-insensitive field model of the downstream platform.
type Mapping struct {
	Rename      map[string]string
	Transform   map[string]TransformFunc
	Passthrough []string
}

// check rejects a destination field claimed by more than one mechanism.
func (m *Mapping) check() error {
	seen := make(map[string]string)
	claim := func(dst, mechanism string) error {
		key := strings.ToLower(dst)
		if prev, ok := seen[key]; ok {
			return &ConfigError{
				Reason: fmt.Sprintf("destination field %q is produced by both %s and %s", dst, prev, mechanism),
			}
		}
		seen[key] = mechanism
		return nil
	}
	for dst := range m.Rename {
		if err := claim(dst, "rename"); err != nil {
			return err
		}
	}
	for dst := range m.Transform {
		if err := claim(dst, "transform"); err != nil {
			return err
		}
	}
	for _, dst := range m.Passthrough {
		if err := claim(dst, "passthrough"); err != nil {
			return err
		}
	}
	return nil
}

// destinations returns every destination field the mapping produces,
// lower-cased.
func (m *Mapping) destinations() map[string]struct{} {
	out := make(map[string]struct{})
	for dst := range m.Rename {
		out[strings.ToLower(dst)] = struct{}{}
	}
	for dst := range m.Transform {
		out[strings.ToLower(dst)] = struct{}{}
	}
	for _, dst := range m.Passthrough {
		out[strings.ToLower(dst)] = struct{}{}
	}
	return out
}

// Apply produces the destination batch for one tree. Transforms see the
// full input batch, including generated fields. A rename or passthrough
// whose source field is absent from the batch is a validation failure:
// the schema was checked at startup, so a missing column means bad input.
func (m *Mapping) Apply(b *record.Batch) (*record.Batch, error) {
	out := record.NewBatch(b.NumRows())

	for _, dst := range sortedKeys(m.Transform) {
		col, err := m.Transform[dst](b)
		if err != nil {
			return nil, fmt.Errorf("transform for field %q: %w", dst, err)
		}
		if err := out.Set(dst, col); err != nil {
			return nil, fmt.Errorf("transform for field %q: %w", dst, err)
		}
	}
	for _, dst := range sortedRenameKeys(m.Rename) {
		src := m.Rename[dst]
		col, ok := b.Column(src)
		if !ok {
			return nil, &ValidationError{
				Tree:   -1,
				Field:  src,
				Rule:   "mapped",
				Reason: fmt.Sprintf("source field for %q is missing from the tree", dst),
			}
		}
		if err := out.Set(dst, col); err != nil {
			return nil, err
		}
	}
	for _, name := range m.Passthrough {
		col, ok := b.Column(name)
		if !ok {
			return nil, &ValidationError{
				Tree:   -1,
				Field:  name,
				Rule:   "passthrough",
				Reason: "source field is missing from the tree",
			}
		}
		if err := out.Set(name, col); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func sortedKeys(m map[string]TransformFunc) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedRenameKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
