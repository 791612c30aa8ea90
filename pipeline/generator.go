package pipeline

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"

	"treeconv/record"
)

// Derived field names produced by the built-in generators.
const (
	FieldDescendant       = "descendant"
	FieldGlobalIndex      = "global_index"
	FieldTreeIndex        = "tree_index"
	FieldTreeLocalIndex   = "tree_local_index"
	FieldGlobalDescendant = "global_descendant"
	FieldDepthFirstRank   = "depth_first_rank"
	FieldSubtreeSize      = "subtree_size"
)

// NoDescendant marks a galaxy with no further descendant (the tree root),
// both in the local descendant column and in global_descendant.
const NoDescendant int64 = -1

// State carries the running cross-tree counters. The converter owns a
// single State for the whole run and passes it to every generator; there
// is no ambient shared state.
type State struct {
	NextGlobalIndex int64
	NextTreeIndex   int32
}

// Generator computes derived columns for one tree and advances the running
// state. Generators must be deterministic given the state and the tree's
// existing columns, and run in the order their module declares them, since
// later generators may consume fields earlier ones produced.
type Generator interface {
	// Fields lists the columns the generator adds, in output order.
	Fields() []arrow.Field
	Generate(b *record.Batch, st *State) error
}

// GlobalIndices assigns each galaxy a dense, unique identifier that is
// strictly increasing across the whole run, ordered by (tree arrival order,
// tree-local position).
type GlobalIndices struct{}

func (GlobalIndices) Fields() []arrow.Field {
	return []arrow.Field{{Name: FieldGlobalIndex, Type: arrow.PrimitiveTypes.Int64}}
}

func (GlobalIndices) Generate(b *record.Batch, st *State) error {
	n := b.NumRows()
	idx := make([]int64, n)
	for i := range idx {
		idx[i] = st.NextGlobalIndex + int64(i)
	}
	st.NextGlobalIndex += int64(n)
	return b.Set(FieldGlobalIndex, record.NewInt64Column(idx))
}

// TreeIndices assigns the current tree's ordinal to every galaxy in it.
// The converter advances the ordinal once per tree.
type TreeIndices struct{}

func (TreeIndices) Fields() []arrow.Field {
	return []arrow.Field{{Name: FieldTreeIndex, Type: arrow.PrimitiveTypes.Int32}}
}

func (TreeIndices) Generate(b *record.Batch, st *State) error {
	idx := make([]int32, b.NumRows())
	for i := range idx {
		idx[i] = st.NextTreeIndex
	}
	return b.Set(FieldTreeIndex, record.NewInt32Column(idx))
}

// TreeLocalIndices renumbers galaxies 0..n-1 in the order they appear in
// the input tree.
type TreeLocalIndices struct{}

func (TreeLocalIndices) Fields() []arrow.Field {
	return []arrow.Field{{Name: FieldTreeLocalIndex, Type: arrow.PrimitiveTypes.Int32}}
}

func (TreeLocalIndices) Generate(b *record.Batch, st *State) error {
	idx := make([]int32, b.NumRows())
	for i := range idx {
		idx[i] = int32(i)
	}
	return b.Set(FieldTreeLocalIndex, record.NewInt32Column(idx))
}

// GlobalDescendants resolves each galaxy's tree-local descendant index into
// the global_index assigned for the same tree, so descendant references
// stay valid once galaxies from many trees are interleaved in the output.
// Requires GlobalIndices to have already run on this tree.
type GlobalDescendants struct{}

func (GlobalDescendants) Fields() []arrow.Field {
	return []arrow.Field{{Name: FieldGlobalDescendant, Type: arrow.PrimitiveTypes.Int64}}
}

func (GlobalDescendants) Generate(b *record.Batch, st *State) error {
	desc, err := descendantColumn(b)
	if err != nil {
		return err
	}
	gcol, ok := b.Column(FieldGlobalIndex)
	if !ok {
		return &ConfigError{
			Reason: "global_descendant requires global_index; declare GlobalIndices before GlobalDescendants",
		}
	}
	gidx, ok := gcol.Int64s()
	if !ok {
		return &ConfigError{Reason: fmt.Sprintf("global_index has type %s, want int64", gcol.DataType())}
	}
	n := b.NumRows()
	out := make([]int64, n)
	for i, d := range desc {
		switch {
		case d == NoDescendant:
			out[i] = NoDescendant
		case d < 0 || d >= int64(n):
			return &StructuralError{
				Tree:   -1,
				Reason: fmt.Sprintf("descendant %d of galaxy %d is outside [0, %d)", d, i, n),
			}
		default:
			out[i] = gidx[d]
		}
	}
	return b.Set(FieldGlobalDescendant, record.NewInt64Column(out))
}

// DepthFirstOrdering ranks every galaxy by a depth-first traversal of the
// merger hierarchy, so consumers can rely on hierarchy locality in the
// output layout. The traversal starts at the tree's single root (rank 0)
// and visits each galaxy's progenitors in ascending input-row order before
// moving to the next sibling. It also emits subtree_size, the number of
// galaxies in each galaxy's progenitor subtree including itself.
//
// Zero roots, multiple roots, an out-of-bounds descendant and any
// descendant cycle are structural corruption and abort the run.
type DepthFirstOrdering struct{}

func (DepthFirstOrdering) Fields() []arrow.Field {
	return []arrow.Field{
		{Name: FieldDepthFirstRank, Type: arrow.PrimitiveTypes.Int32},
		{Name: FieldSubtreeSize, Type: arrow.PrimitiveTypes.Int32},
	}
}

func (DepthFirstOrdering) Generate(b *record.Batch, st *State) error {
	desc, err := descendantColumn(b)
	if err != nil {
		return err
	}
	n := b.NumRows()

	// Progenitor adjacency: descendant row -> rows merging into it,
	// in input order.
	children := make([][]int32, n)
	root := -1
	for i, d := range desc {
		switch {
		case d == NoDescendant:
			if root >= 0 {
				return &StructuralError{
					Tree:   -1,
					Reason: fmt.Sprintf("multiple roots: galaxies %d and %d both have no descendant", root, i),
				}
			}
			root = i
		case d == int64(i):
			return &StructuralError{
				Tree:   -1,
				Reason: fmt.Sprintf("galaxy %d is its own descendant", i),
			}
		case d < 0 || d >= int64(n):
			return &StructuralError{
				Tree:   -1,
				Reason: fmt.Sprintf("descendant %d of galaxy %d is outside [0, %d)", d, i, n),
			}
		default:
			children[d] = append(children[d], int32(i))
		}
	}
	if root < 0 {
		return &StructuralError{Tree: -1, Reason: "tree has no root galaxy (descendant == -1)"}
	}

	rank := make([]int32, n)
	order := make([]int32, 0, n)
	stack := make([]int32, 0, n)
	stack = append(stack, int32(root))
	for len(stack) > 0 {
		idx := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		rank[idx] = int32(len(order))
		order = append(order, idx)
		// Push progenitors in reverse so the lowest input row is
		// visited first.
		kids := children[idx]
		for i := len(kids) - 1; i >= 0; i-- {
			stack = append(stack, kids[i])
		}
	}
	if len(order) != n {
		return &StructuralError{
			Tree:   -1,
			Reason: fmt.Sprintf("descendant cycle: %d of %d galaxies unreachable from root", n-len(order), n),
		}
	}

	// Subtree sizes accumulate bottom-up: reverse traversal order visits
	// every galaxy after all of its progenitors.
	size := make([]int32, n)
	for i := n - 1; i >= 0; i-- {
		idx := order[i]
		size[idx]++
		if d := desc[idx]; d != NoDescendant {
			size[d] += size[idx]
		}
	}

	if err := b.Set(FieldDepthFirstRank, record.NewInt32Column(rank)); err != nil {
		return err
	}
	return b.Set(FieldSubtreeSize, record.NewInt32Column(size))
}

// GeneratorFunc adapts a closure into a Generator for custom derived
// fields.
type GeneratorFunc struct {
	Out []arrow.Field
	Fn  func(b *record.Batch, st *State) error
}

func (g GeneratorFunc) Fields() []arrow.Field { return g.Out }

func (g GeneratorFunc) Generate(b *record.Batch, st *State) error { return g.Fn(b, st) }

func descendantColumn(b *record.Batch) ([]int64, error) {
	col, ok := b.Column(FieldDescendant)
	if !ok {
		return nil, &StructuralError{Tree: -1, Reason: "tree has no descendant column"}
	}
	desc, ok := col.AsInt64()
	if !ok {
		return nil, &StructuralError{
			Tree:   -1,
			Reason: fmt.Sprintf("descendant column type %s is not integral", col.DataType()),
		}
	}
	return desc, nil
}
