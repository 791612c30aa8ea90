// Package export writes the consolidated output dataset. The Exporter is
// the single writer for a run: it buffers per-tree record batches, spills
// them to per-module region files as Arrow IPC streams, and on finalization
// assembles the dataset container with a header carrying the simulation
// parameters, snapshot redshifts, totals and a per-module tree index table.
// DatasetReader reads any single tree back without scanning other regions.
package export
