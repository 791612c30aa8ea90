package pipeline_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"treeconv/export"
	"treeconv/pipeline"
	"treeconv/record"
	"treeconv/source"
)

func testParams() pipeline.SimulationParameters {
	return pipeline.SimulationParameters{
		BoxSize: 62.5,
		Hubble:  73.0,
		OmegaM:  0.25,
		OmegaL:  0.75,
	}
}

func testSnapshots() pipeline.SnapshotTable {
	return pipeline.SnapshotTable{127.0, 4.2, 1.5, 0.0}
}

func tree(t *testing.T, descendants []int32) *record.Batch {
	t.Helper()
	b := record.NewBatch(len(descendants))
	require.NoError(t, b.Set(pipeline.FieldDescendant, record.NewInt32Column(descendants)))
	return b
}

func newRun(t *testing.T, path string, opts export.Options) (*pipeline.Converter, *export.Exporter) {
	t.Helper()
	mod, err := pipeline.NewStructureModule("galaxies")
	require.NoError(t, err)
	conv, err := pipeline.NewConverter(pipeline.Config{
		Params:    testParams(),
		Snapshots: testSnapshots(),
		Modules:   []*pipeline.Module{mod},
	})
	require.NoError(t, err)
	exp, err := export.New(path, []export.ModuleSpec{
		{Name: mod.Name(), Schema: mod.Schema()},
	}, opts)
	require.NoError(t, err)
	return conv, exp
}

func TestConverterEndToEnd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.trcv")
	conv, exp := newRun(t, path, export.Options{})

	// Two trees of sizes 3 and 5.
	src := source.NewSliceSource(
		tree(t, []int32{2, 2, -1}),
		tree(t, []int32{4, 4, 4, 4, -1}),
	)
	require.NoError(t, conv.Run(context.Background(), src, exp))

	r, err := export.OpenDataset(path)
	require.NoError(t, err)
	defer r.Close()

	h := r.Header()
	require.EqualValues(t, 8, h.Galaxies)
	require.EqualValues(t, 2, h.Trees)
	require.Equal(t, testParams().BoxSize, h.Simulation.BoxSize)
	require.Equal(t, []float64(testSnapshots()), h.Redshifts)
	require.Len(t, h.Modules, 1)
	require.Equal(t, "galaxies", h.Modules[0].Name)
	require.Len(t, h.Modules[0].Trees, 2)
	require.EqualValues(t, 0, h.Modules[0].Trees[0].Offset)
	require.EqualValues(t, 3, h.Modules[0].Trees[0].Count)
	require.EqualValues(t, 3, h.Modules[0].Trees[1].Offset)
	require.EqualValues(t, 5, h.Modules[0].Trees[1].Count)

	// Global index ranges [0,3) and [3,8), tree indices 0 and 1.
	rec, err := r.ReadTree("galaxies", 0)
	require.NoError(t, err)
	gidx := colInt64(t, rec, "global_index")
	require.Equal(t, []int64{0, 1, 2}, gidx)
	require.Equal(t, []int32{0, 0, 0}, colInt32(t, rec, "tree_index"))
	require.Equal(t, []int64{2, 2, -1}, colInt64(t, rec, "global_descendant"))
	rec.Release()

	rec, err = r.ReadTree("galaxies", 1)
	require.NoError(t, err)
	require.Equal(t, []int64{3, 4, 5, 6, 7}, colInt64(t, rec, "global_index"))
	require.Equal(t, []int32{1, 1, 1, 1, 1}, colInt32(t, rec, "tree_index"))
	rec.Release()
}

func TestConverterAbortsOnBadTree(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.trcv")
	conv, exp := newRun(t, path, export.Options{})

	src := source.NewSliceSource(
		tree(t, []int32{1, -1}),
		tree(t, []int32{0, 2, -1}), // galaxy 0 points at itself
	)
	err := conv.Run(context.Background(), src, exp)
	var serr *pipeline.StructuralError
	require.ErrorAs(t, err, &serr)
	require.Equal(t, 1, serr.Tree)

	// An aborted run leaves no dataset behind.
	_, statErr := os.Stat(path)
	require.True(t, os.IsNotExist(statErr))
}

func TestConverterReportsValidationTree(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.trcv")
	conv, exp := newRun(t, path, export.Options{})

	src := source.NewSliceSource(
		tree(t, []int32{-1}),
		tree(t, []int32{9, -1}),
	)
	err := conv.Run(context.Background(), src, exp)
	var verr *pipeline.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, 1, verr.Tree)
	require.Equal(t, pipeline.FieldDescendant, verr.Field)
	require.Equal(t, []int{0}, verr.Rows)
}

func TestConverterRejectsEmptyTree(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.trcv")
	conv, exp := newRun(t, path, export.Options{})

	src := source.NewSliceSource(record.NewBatch(0))
	err := conv.Run(context.Background(), src, exp)
	var serr *pipeline.StructuralError
	require.ErrorAs(t, err, &serr)
}

func TestConverterConfigErrors(t *testing.T) {
	mod, err := pipeline.NewStructureModule("galaxies")
	require.NoError(t, err)

	// Missing simulation parameters.
	_, err = pipeline.NewConverter(pipeline.Config{
		Snapshots: testSnapshots(),
		Modules:   []*pipeline.Module{mod},
	})
	require.IsType(t, &pipeline.ConfigError{}, err)

	// Missing snapshot table.
	_, err = pipeline.NewConverter(pipeline.Config{
		Params:  testParams(),
		Modules: []*pipeline.Module{mod},
	})
	require.IsType(t, &pipeline.ConfigError{}, err)

	// Two modules may not generate the same derived field.
	other, err := pipeline.NewStructureModule("shadow")
	require.NoError(t, err)
	_, err = pipeline.NewConverter(pipeline.Config{
		Params:    testParams(),
		Snapshots: testSnapshots(),
		Modules:   []*pipeline.Module{mod, other},
	})
	require.IsType(t, &pipeline.ConfigError{}, err)
}

func TestConverterDeterministicOutput(t *testing.T) {
	dir := t.TempDir()
	id := uuid.MustParse("9f0a1b2c-3d4e-5f60-7182-93a4b5c6d7e8")
	created := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	run := func(path string) {
		conv, exp := newRun(t, path, export.Options{
			DatasetID: id,
			CreatedAt: created,
			// Force both buffered and flushed paths.
			FlushTrees: 2,
		})
		src := source.NewSliceSource(
			tree(t, []int32{2, 2, -1}),
			tree(t, []int32{1, -1}),
			tree(t, []int32{4, 4, 4, 4, -1}),
		)
		require.NoError(t, conv.Run(context.Background(), src, exp))
	}

	first := filepath.Join(dir, "a.trcv")
	second := filepath.Join(dir, "b.trcv")
	run(first)
	run(second)

	fb, err := os.ReadFile(first)
	require.NoError(t, err)
	sb, err := os.ReadFile(second)
	require.NoError(t, err)
	require.Equal(t, fb, sb)
}

func colInt64(t *testing.T, rec arrow.Record, name string) []int64 {
	t.Helper()
	idxs := rec.Schema().FieldIndices(name)
	require.Len(t, idxs, 1)
	a, ok := rec.Column(idxs[0]).(*array.Int64)
	require.True(t, ok, "column %q is not int64", name)
	return append([]int64(nil), a.Int64Values()...)
}

func colInt32(t *testing.T, rec arrow.Record, name string) []int32 {
	t.Helper()
	idxs := rec.Schema().FieldIndices(name)
	require.Len(t, idxs, 1)
	a, ok := rec.Column(idxs[0]).(*array.Int32)
	require.True(t, ok, "column %q is not int32", name)
	return append([]int32(nil), a.Int32Values()...)
}
