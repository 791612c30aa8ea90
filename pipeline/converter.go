package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"

	"treeconv/metrics"
	"treeconv/record"
	"treeconv/source"
)

// TreeExporter receives the converted record batches. It is implemented by
// export.Exporter; the converter only depends on this contract.
type TreeExporter interface {
	Begin(params SimulationParameters, snapshots SnapshotTable) error
	Append(tree int, module string, rec arrow.Record) error
	Finalize() error
	Abort() error
	Close() error
}

// Config assembles a conversion run.
type Config struct {
	Params    SimulationParameters
	Snapshots SnapshotTable
	Modules   []*Module
	Logger    *slog.Logger     // nil means slog.Default()
	Metrics   *metrics.Metrics // nil disables instrumentation
}

// Converter orchestrates the per-tree loop: it pulls trees from the
// source, runs each module's validators, generators and mapping in order,
// forwards every module's output to the exporter and owns the running
// cross-tree counters. Trees are processed strictly one at a time in
// arrival order; reordering would change the assigned identifiers.
type Converter struct {
	params  SimulationParameters
	snaps   SnapshotTable
	modules []*Module
	log     *slog.Logger
	metrics *metrics.Metrics
	state   State
}

// NewConverter validates the whole configuration up front: simulation
// parameters, snapshot table, module composition and field conflicts are
// all rejected before the first tree is pulled.
func NewConverter(cfg Config) (*Converter, error) {
	if err := cfg.Params.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Snapshots.Validate(); err != nil {
		return nil, err
	}
	if len(cfg.Modules) == 0 {
		return nil, &ConfigError{Reason: "no modules configured"}
	}

	names := make(map[string]struct{}, len(cfg.Modules))
	generated := make(map[string]string)
	for _, mod := range cfg.Modules {
		if _, dup := names[mod.Name()]; dup {
			return nil, &ConfigError{Reason: fmt.Sprintf("duplicate module name %q", mod.Name())}
		}
		names[mod.Name()] = struct{}{}
		// Generators mutate the shared tree batch, so a derived field may
		// be produced by only one module per run.
		for _, f := range mod.GeneratedFields() {
			key := strings.ToLower(f.Name)
			if owner, dup := generated[key]; dup {
				return nil, &ConfigError{
					Reason: fmt.Sprintf("field %q is generated by both module %q and module %q",
						f.Name, owner, mod.Name()),
				}
			}
			generated[key] = mod.Name()
		}
	}

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Converter{
		params:  cfg.Params,
		snaps:   cfg.Snapshots,
		modules: cfg.Modules,
		log:     log,
		metrics: cfg.Metrics,
	}, nil
}

// Run converts every tree the source yields and finalizes the dataset.
// Any validator, generator, mapping or exporter failure aborts the whole
// run and discards partial output; there is no per-tree skip mode because
// the global counters and the finalized header require a complete, ordered
// pass. Context cancellation is honored between trees.
func (c *Converter) Run(ctx context.Context, src source.TreeSource, exp TreeExporter) (err error) {
	defer func() {
		if err != nil {
			exp.Abort()
		}
	}()

	if err = exp.Begin(c.params, c.snaps); err != nil {
		return fmt.Errorf("failed to open exporter: %w", err)
	}

	start := time.Now()
	for {
		if err = ctx.Err(); err != nil {
			return fmt.Errorf("conversion canceled: %w", err)
		}
		tree := int(c.state.NextTreeIndex)

		var b *record.Batch
		b, err = src.Next()
		if errors.Is(err, io.EOF) {
			err = nil
			break
		}
		if err != nil {
			return fmt.Errorf("tree source failed at tree %d: %w", tree, err)
		}
		if b.NumRows() == 0 {
			err = &StructuralError{Tree: tree, Reason: "tree has no galaxies"}
			return err
		}

		treeStart := time.Now()
		for _, mod := range c.modules {
			var rec arrow.Record
			rec, err = mod.Process(b, &c.state)
			if err != nil {
				return attachTree(err, tree)
			}
			err = exp.Append(tree, mod.Name(), rec)
			rec.Release()
			if err != nil {
				return fmt.Errorf("failed to export tree %d: %w", tree, err)
			}
		}
		c.state.NextTreeIndex++
		c.metrics.RecordTree(b.NumRows(), time.Since(treeStart))
		c.log.Debug("tree converted", "tree", tree, "galaxies", b.NumRows())
	}

	if err = exp.Finalize(); err != nil {
		return fmt.Errorf("failed to finalize dataset: %w", err)
	}
	if err = exp.Close(); err != nil {
		return fmt.Errorf("failed to close exporter: %w", err)
	}
	c.log.Info("conversion complete",
		"trees", c.state.NextTreeIndex,
		"galaxies", c.state.NextGlobalIndex,
		"elapsed", time.Since(start))
	return nil
}

// attachTree fills the tree ordinal into errors raised below the
// converter, which do not know which tree they were processing.
func attachTree(err error, tree int) error {
	var verr *ValidationError
	if errors.As(err, &verr) && verr.Tree < 0 {
		verr.Tree = tree
	}
	var serr *StructuralError
	if errors.As(err, &serr) && serr.Tree < 0 {
		serr.Tree = tree
	}
	return err
}
