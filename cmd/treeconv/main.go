// Command treeconv converts a stream of merger trees (an Arrow IPC stream
// file, one record batch per tree) into a consolidated dataset container.
// Simulation-specific extraction and field mapping belong to conversion
// scripts built on the pipeline package; this binary wires the standard
// structural group for sources that already provide a descendant column.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"treeconv/export"
	"treeconv/metrics"
	"treeconv/pipeline"
	"treeconv/source"
)

func main() {
	if err := run(); err != nil {
		slog.Error("conversion failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		input       = flag.String("input", "", "Arrow IPC stream file of tree batches (required)")
		output      = flag.String("output", "", "output dataset path (required)")
		boxSize     = flag.Float64("box-size", 0, "simulation box size (required)")
		hubble      = flag.Float64("hubble", 0, "Hubble constant (required)")
		omegaM      = flag.Float64("omega-m", 0, "matter density fraction (required)")
		omegaL      = flag.Float64("omega-l", 0, "dark-energy density fraction")
		redshifts   = flag.String("redshifts", "", "comma-separated snapshot redshifts, index = snapshot number (required)")
		flushTrees  = flag.Int("flush-trees", 64, "trees buffered before spilling to disk")
		metricsAddr = flag.String("metrics-addr", "", "expose Prometheus metrics on this address (optional)")
		verbose     = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	if *input == "" || *output == "" {
		flag.Usage()
		return fmt.Errorf("both -input and -output are required")
	}
	snaps, err := parseRedshifts(*redshifts)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	var m *metrics.Metrics
	if *metricsAddr != "" {
		m = metrics.NewMetrics("treeconv")
		srv := metrics.NewMetricsServer(*metricsAddr)
		srv.StartAsync()
		defer srv.Stop()
	}

	structure, err := pipeline.NewStructureModule("galaxies")
	if err != nil {
		return err
	}
	conv, err := pipeline.NewConverter(pipeline.Config{
		Params: pipeline.SimulationParameters{
			BoxSize: *boxSize,
			Hubble:  *hubble,
			OmegaM:  *omegaM,
			OmegaL:  *omegaL,
		},
		Snapshots: snaps,
		Modules:   []*pipeline.Module{structure},
		Logger:    log,
		Metrics:   m,
	})
	if err != nil {
		return err
	}

	src, err := source.OpenIPCFile(*input)
	if err != nil {
		return err
	}
	defer src.Close()

	exp, err := export.New(*output, []export.ModuleSpec{
		{Name: structure.Name(), Schema: structure.Schema()},
	}, export.Options{
		FlushTrees: *flushTrees,
		Logger:     log,
		Metrics:    m,
	})
	if err != nil {
		return err
	}

	return conv.Run(context.Background(), src, exp)
}

func parseRedshifts(s string) (pipeline.SnapshotTable, error) {
	if s == "" {
		return nil, fmt.Errorf("-redshifts is required")
	}
	parts := strings.Split(s, ",")
	table := make(pipeline.SnapshotTable, 0, len(parts))
	for i, p := range parts {
		z, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("bad redshift at snapshot %d: %w", i, err)
		}
		table = append(table, z)
	}
	return table, nil
}
