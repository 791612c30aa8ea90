// Package pipeline implements the tree-conversion pipeline: field
// validators, derived-field generators, field mapping, module composition
// and the converter that drives them over a stream of merger trees.
// This package implements:
// - Validators: per-field integrity rules, fail-fast
// - Generators: global/tree-local identity, depth-first ordering,
//   cross-tree descendant resolution
// - Mapping: rename / transform / passthrough field translation
// - Converter: the per-tree orchestration loop
package pipeline
