package source

import (
	"fmt"
	"io"
	"os"

	"github.com/apache/arrow-go/v18/arrow/ipc"

	"treeconv/record"
)

// IPCSource reads trees from an Arrow IPC stream in which every record
// batch is one merger tree.
type IPCSource struct {
	reader *ipc.Reader
	closer io.Closer
}

// NewIPCSource wraps an IPC stream. If r is also an io.Closer it is closed
// by Close.
func NewIPCSource(r io.Reader) (*IPCSource, error) {
	reader, err := ipc.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open ipc stream: %w", err)
	}
	s := &IPCSource{reader: reader}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	return s, nil
}

// OpenIPCFile opens an Arrow IPC stream file as a tree source.
func OpenIPCFile(path string) (*IPCSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	s, err := NewIPCSource(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

// Next returns the next tree, or io.EOF when the stream is exhausted.
func (s *IPCSource) Next() (*record.Batch, error) {
	if !s.reader.Next() {
		if err := s.reader.Err(); err != nil {
			return nil, fmt.Errorf("ipc stream: %w", err)
		}
		return nil, io.EOF
	}
	return record.FromArrow(s.reader.Record())
}

// Close releases the IPC reader and the underlying file, if any.
func (s *IPCSource) Close() error {
	s.reader.Release()
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}
