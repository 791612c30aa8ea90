package source

import (
	"io"

	"treeconv/record"
)

// TreeSource yields one merger tree per call. Next returns io.EOF once the
// stream is exhausted; any other error is fatal to the run.
type TreeSource interface {
	Next() (*record.Batch, error)
}

// SliceSource serves a fixed set of in-memory trees, mainly for tests.
type SliceSource struct {
	batches []*record.Batch
	pos     int
}

// NewSliceSource creates a source yielding the given trees in order.
func NewSliceSource(batches ...*record.Batch) *SliceSource {
	return &SliceSource{batches: batches}
}

// Next returns the next tree, or io.EOF when all trees have been served.
func (s *SliceSource) Next() (*record.Batch, error) {
	if s.pos >= len(s.batches) {
		return nil, io.EOF
	}
	b := s.batches[s.pos]
	s.pos++
	return b, nil
}
