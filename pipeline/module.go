package pipeline

import (
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"treeconv/record"
)

// Module composes one mapping, an ordered list of validators (run first,
// against the raw input) and an ordered list of generators (run after
// validation; the mapping may consume the fields they produce) into one
// named destination record group. The schema is the authoritative, ordered
// field list of that group.
type Module struct {
	name       string
	schema     *arrow.Schema
	mapping    *Mapping
	validators []Validator
	generators []Generator
	alloc      memory.Allocator
}

// NewModule builds a module and checks its configuration: the mapping must
// not claim a destination field twice, generated fields must not collide
// with mapped fields, and every schema field must be produced by exactly
// one mechanism. All failures are ConfigErrors raised before any tree is
// processed.
func NewModule(name string, schema *arrow.Schema, mapping *Mapping, validators []Validator, generators []Generator) (*Module, error) {
	if name == "" {
		return nil, &ConfigError{Reason: "module name is empty"}
	}
	if schema == nil || schema.NumFields() == 0 {
		return nil, &ConfigError{Reason: fmt.Sprintf("module %q has no destination schema", name)}
	}
	if mapping == nil {
		mapping = &Mapping{}
	}
	if err := mapping.check(); err != nil {
		return nil, err
	}

	produced := mapping.destinations()
	for _, g := range generators {
		for _, f := range g.Fields() {
			key := strings.ToLower(f.Name)
			if _, ok := produced[key]; ok {
				return nil, &ConfigError{
					Reason: fmt.Sprintf("module %q: field %q is both mapped and generated", name, f.Name),
				}
			}
			produced[key] = struct{}{}
		}
	}
	for _, f := range schema.Fields() {
		if _, ok := produced[strings.ToLower(f.Name)]; !ok {
			return nil, &ConfigError{
				Reason: fmt.Sprintf("module %q: no mapping or generator produces schema field %q", name, f.Name),
			}
		}
	}

	return &Module{
		name:       name,
		schema:     schema,
		mapping:    mapping,
		validators: validators,
		generators: generators,
		alloc:      memory.DefaultAllocator,
	}, nil
}

// Name returns the module's destination group name.
func (m *Module) Name() string { return m.name }

// Schema returns the module's ordered destination field list.
func (m *Module) Schema() *arrow.Schema { return m.schema }

// GeneratedFields lists every derived field the module's generators
// produce, in declaration order.
func (m *Module) GeneratedFields() []arrow.Field {
	var out []arrow.Field
	for _, g := range m.generators {
		out = append(out, g.Fields()...)
	}
	return out
}

// Process runs the module's pipeline over one tree: validators against the
// raw input, then generators in declared order (mutating the shared batch
// and advancing the running state), then the mapping. The result is the
// destination record in schema field order; the caller must Release it.
func (m *Module) Process(b *record.Batch, st *State) (arrow.Record, error) {
	for _, v := range m.validators {
		if err := v.Validate(b); err != nil {
			return nil, err
		}
	}
	for _, g := range m.generators {
		if err := g.Generate(b, st); err != nil {
			return nil, err
		}
	}
	out, err := m.mapping.Apply(b)
	if err != nil {
		return nil, err
	}
	// Generated fields flow into the destination group directly.
	for _, f := range m.schema.Fields() {
		if out.Has(f.Name) {
			continue
		}
		col, ok := b.Column(f.Name)
		if !ok {
			return nil, &ConfigError{
				Reason: fmt.Sprintf("module %q: schema field %q was not produced for this tree", m.name, f.Name),
			}
		}
		if err := out.Set(f.Name, col); err != nil {
			return nil, err
		}
	}
	rec, err := record.ToArrow(out, m.schema, m.alloc)
	if err != nil {
		return nil, fmt.Errorf("module %q: %w", m.name, err)
	}
	return rec, nil
}

// NewStructureModule builds the standard structural destination group: the
// raw descendant column validated and passed through, plus every built-in
// derived identity and ordering field. Most conversions configure this
// module and add simulation-specific physics groups beside it.
func NewStructureModule(name string) (*Module, error) {
	schema := arrow.NewSchema([]arrow.Field{
		{Name: FieldDescendant, Type: arrow.PrimitiveTypes.Int32},
		{Name: FieldTreeLocalIndex, Type: arrow.PrimitiveTypes.Int32},
		{Name: FieldGlobalIndex, Type: arrow.PrimitiveTypes.Int64},
		{Name: FieldGlobalDescendant, Type: arrow.PrimitiveTypes.Int64},
		{Name: FieldTreeIndex, Type: arrow.PrimitiveTypes.Int32},
		{Name: FieldDepthFirstRank, Type: arrow.PrimitiveTypes.Int32},
		{Name: FieldSubtreeSize, Type: arrow.PrimitiveTypes.Int32},
	}, nil)
	mapping := &Mapping{Passthrough: []string{FieldDescendant}}
	validators := []Validator{
		Required{FieldDescendant},
		TreeLocalIndex{FieldDescendant},
	}
	generators := []Generator{
		TreeLocalIndices{},
		GlobalIndices{},
		GlobalDescendants{},
		TreeIndices{},
		DepthFirstOrdering{},
	}
	return NewModule(name, schema, mapping, validators, generators)
}
