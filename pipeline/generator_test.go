package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"

	"treeconv/record"
)

func treeBatch(t *testing.T, descendants []int32) *record.Batch {
	t.Helper()
	b := record.NewBatch(len(descendants))
	require.NoError(t, b.Set(FieldDescendant, record.NewInt32Column(descendants)))
	return b
}

func int32Col(t *testing.T, b *record.Batch, name string) []int32 {
	t.Helper()
	col, ok := b.Column(name)
	require.True(t, ok, "missing column %q", name)
	v, ok := col.Int32s()
	require.True(t, ok)
	return v
}

func int64Col(t *testing.T, b *record.Batch, name string) []int64 {
	t.Helper()
	col, ok := b.Column(name)
	require.True(t, ok, "missing column %q", name)
	v, ok := col.Int64s()
	require.True(t, ok)
	return v
}

func TestGlobalIndicesContiguousAcrossTrees(t *testing.T) {
	st := &State{}
	first := treeBatch(t, []int32{2, 2, -1})
	second := treeBatch(t, []int32{4, 4, 4, 4, -1})

	require.NoError(t, GlobalIndices{}.Generate(first, st))
	require.NoError(t, GlobalIndices{}.Generate(second, st))

	require.Equal(t, []int64{0, 1, 2}, int64Col(t, first, FieldGlobalIndex))
	require.Equal(t, []int64{3, 4, 5, 6, 7}, int64Col(t, second, FieldGlobalIndex))
	require.EqualValues(t, 8, st.NextGlobalIndex)
}

func TestTreeIndices(t *testing.T) {
	st := &State{NextTreeIndex: 4}
	b := treeBatch(t, []int32{1, -1})
	require.NoError(t, TreeIndices{}.Generate(b, st))
	require.Equal(t, []int32{4, 4}, int32Col(t, b, FieldTreeIndex))
	// The converter, not the generator, advances the tree ordinal.
	require.EqualValues(t, 4, st.NextTreeIndex)
}

func TestTreeLocalIndicesFollowInputOrder(t *testing.T) {
	b := treeBatch(t, []int32{2, 2, -1})
	require.NoError(t, TreeLocalIndices{}.Generate(b, &State{}))
	require.Equal(t, []int32{0, 1, 2}, int32Col(t, b, FieldTreeLocalIndex))
}

func TestGlobalDescendantsRoundTrip(t *testing.T) {
	st := &State{NextGlobalIndex: 100}
	b := treeBatch(t, []int32{2, 2, -1})
	require.NoError(t, GlobalIndices{}.Generate(b, st))
	require.NoError(t, GlobalDescendants{}.Generate(b, st))

	gidx := int64Col(t, b, FieldGlobalIndex)
	gdesc := int64Col(t, b, FieldGlobalDescendant)
	require.Equal(t, []int64{102, 102, NoDescendant}, gdesc)

	// Resolving a global descendant back through the global index table
	// yields the galaxy the local descendant pointed to.
	desc, _ := mustColumn(t, b, FieldDescendant).AsInt64()
	for i, d := range desc {
		if d == NoDescendant {
			require.Equal(t, NoDescendant, gdesc[i])
			continue
		}
		require.Equal(t, gidx[d], gdesc[i])
	}
}

func TestGlobalDescendantsRequiresGlobalIndices(t *testing.T) {
	b := treeBatch(t, []int32{-1})
	err := GlobalDescendants{}.Generate(b, &State{})
	require.IsType(t, &ConfigError{}, err)
}

// The traversal convention: the root takes rank 0 and each galaxy's
// progenitors are visited in ascending input-row order before the next
// sibling. For descendants = [2, 2, -1] (A->C, B->C, C root) the rank
// order is C, A, B.
func TestDepthFirstOrderingConvention(t *testing.T) {
	b := treeBatch(t, []int32{2, 2, -1})
	require.NoError(t, DepthFirstOrdering{}.Generate(b, &State{}))

	require.Equal(t, []int32{1, 2, 0}, int32Col(t, b, FieldDepthFirstRank))
	require.Equal(t, []int32{1, 1, 3}, int32Col(t, b, FieldSubtreeSize))
}

func TestDepthFirstOrderingDeepChain(t *testing.T) {
	// 0 -> 1 -> 2 -> 3(root), plus 4 -> 3.
	b := treeBatch(t, []int32{1, 2, 3, -1, 3})
	require.NoError(t, DepthFirstOrdering{}.Generate(b, &State{}))

	// Traversal: 3, then its progenitors in input order: 2 (then 1, 0), 4.
	require.Equal(t, []int32{3, 2, 1, 0, 4}, int32Col(t, b, FieldDepthFirstRank))
	require.Equal(t, []int32{1, 2, 3, 5, 1}, int32Col(t, b, FieldSubtreeSize))
}

// Permuting the rows (with descendants remapped consistently) must not
// change which galaxy precedes which in the traversal, up to the sibling
// input-order tie-break applied to the permuted layout.
func TestDepthFirstOrderingPermutationInvariant(t *testing.T) {
	// Chain 0 -> 1 -> 2(root): unambiguous traversal, no sibling ties.
	b := treeBatch(t, []int32{1, 2, -1})
	require.NoError(t, DepthFirstOrdering{}.Generate(b, &State{}))
	rank := int32Col(t, b, FieldDepthFirstRank)

	// Permutation sigma maps old row i to new row sigma[i].
	sigma := []int32{2, 0, 1}
	permuted := make([]int32, 3)
	for i, d := range []int32{1, 2, -1} {
		if d == -1 {
			permuted[sigma[i]] = -1
		} else {
			permuted[sigma[i]] = sigma[d]
		}
	}
	pb := treeBatch(t, permuted)
	require.NoError(t, DepthFirstOrdering{}.Generate(pb, &State{}))
	prank := int32Col(t, pb, FieldDepthFirstRank)

	// The same galaxy identity receives the same rank.
	for i := range rank {
		require.Equal(t, rank[i], prank[sigma[i]], "galaxy originally at row %d", i)
	}
}

func TestDepthFirstOrderingStructuralErrors(t *testing.T) {
	tests := []struct {
		name        string
		descendants []int32
	}{
		{"self reference", []int32{1, 1, 2}},
		{"two-cycle", []int32{1, 0, -1}},
		{"no root", []int32{1, 0}},
		{"multiple roots", []int32{-1, -1}},
		{"descendant out of bounds", []int32{5, -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := treeBatch(t, tt.descendants)
			err := DepthFirstOrdering{}.Generate(b, &State{})
			require.Error(t, err)
			require.IsType(t, &StructuralError{}, err)
		})
	}
}

func TestDepthFirstOrderingMissingDescendant(t *testing.T) {
	b := record.NewBatch(2)
	require.NoError(t, b.Set("mass", record.NewFloat64Column([]float64{1, 2})))
	err := DepthFirstOrdering{}.Generate(b, &State{})
	require.IsType(t, &StructuralError{}, err)
}

func mustColumn(t *testing.T, b *record.Batch, name string) record.Column {
	t.Helper()
	col, ok := b.Column(name)
	require.True(t, ok)
	return col
}
