package export

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
)

// DatasetReader opens a finalized dataset container and serves header
// metadata and per-tree record access. Any tree's records are decoded
// from their byte range alone; no other region is touched.
type DatasetReader struct {
	f            *os.File
	header       Header
	regionsStart int64
	byName       map[string]*ModuleIndex
}

// maxHeaderBytes bounds header allocation when reading untrusted files.
const maxHeaderBytes = 1 << 30

// OpenDataset opens a dataset container for reading.
func OpenDataset(path string) (*DatasetReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	r, err := newReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

func newReader(f *os.File) (*DatasetReader, error) {
	var magic [8]byte
	if _, err := io.ReadFull(f, magic[:]); err != nil {
		return nil, fmt.Errorf("failed to read magic: %w", err)
	}
	if string(magic[:]) != Magic {
		return nil, fmt.Errorf("not a dataset container (magic %q)", magic)
	}
	var hlenBuf [8]byte
	if _, err := io.ReadFull(f, hlenBuf[:]); err != nil {
		return nil, fmt.Errorf("failed to read header length: %w", err)
	}
	hlen := binary.LittleEndian.Uint64(hlenBuf[:])
	if hlen > maxHeaderBytes {
		return nil, fmt.Errorf("header length %d exceeds limit", hlen)
	}
	hb := make([]byte, hlen)
	if _, err := io.ReadFull(f, hb); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	r := &DatasetReader{
		f:            f,
		regionsStart: int64(16 + hlen),
		byName:       make(map[string]*ModuleIndex),
	}
	if err := json.Unmarshal(hb, &r.header); err != nil {
		return nil, fmt.Errorf("failed to decode header: %w", err)
	}
	if r.header.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported format version %d", r.header.Version)
	}
	for i := range r.header.Modules {
		mi := &r.header.Modules[i]
		r.byName[mi.Name] = mi
	}
	return r, nil
}

// Header returns the dataset-wide metadata.
func (r *DatasetReader) Header() *Header { return &r.header }

// ReadTree decodes one tree's records for a module group. The caller must
// Release the returned record.
func (r *DatasetReader) ReadTree(module string, tree int) (arrow.Record, error) {
	mi, ok := r.byName[module]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModule, module)
	}
	if tree < 0 || tree >= len(mi.Trees) {
		return nil, fmt.Errorf("tree %d out of range [0, %d)", tree, len(mi.Trees))
	}
	tr := mi.Trees[tree]
	sec := io.NewSectionReader(r.f, r.regionsStart+mi.Offset+tr.ByteOffset, tr.ByteLength)
	ir, err := ipc.NewReader(sec)
	if err != nil {
		return nil, fmt.Errorf("group %q tree %d: %w", module, tree, err)
	}
	defer ir.Release()
	if !ir.Next() {
		if err := ir.Err(); err != nil {
			return nil, fmt.Errorf("group %q tree %d: %w", module, tree, err)
		}
		return nil, fmt.Errorf("group %q tree %d: empty record range", module, tree)
	}
	rec := ir.Record()
	rec.Retain()
	return rec, nil
}

// Close releases the underlying file.
func (r *DatasetReader) Close() error {
	return r.f.Close()
}
