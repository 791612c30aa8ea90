package export

// Dataset container layout:
//
//	magic "TRCV0001" | header length uint64 LE | header JSON | module regions
//
// Each module region is a concatenation of self-contained Arrow IPC
// streams, one per tree, so any tree can be decoded from its byte range
// alone. Region and tree offsets in the header are relative to the start
// of the region area (right after the header JSON), which keeps the header
// length independent of the offsets it records.

// Magic identifies a finalized dataset container.
const Magic = "TRCV0001"

// FormatVersion is the container format version written into the header.
const FormatVersion = 1

// TreeRange locates one tree's records inside a module region.
type TreeRange struct {
	Offset     int64 `json:"offset"`      // first record row within the region
	Count      int64 `json:"count"`       // number of records
	ByteOffset int64 `json:"byte_offset"` // relative to the region start
	ByteLength int64 `json:"byte_length"`
}

// FieldSpec describes one destination field of a module group.
type FieldSpec struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// ModuleIndex describes one module's record region and its tree index
// table.
type ModuleIndex struct {
	Name   string      `json:"name"`
	Fields []FieldSpec `json:"fields"`
	Offset int64       `json:"offset"` // relative to the region area start
	Length int64       `json:"length"`
	Trees  []TreeRange `json:"trees"`
}

// Simulation carries the cosmology parameters in the header.
type Simulation struct {
	BoxSize float64 `json:"box_size"`
	Hubble  float64 `json:"hubble"`
	OmegaM  float64 `json:"omega_m"`
	OmegaL  float64 `json:"omega_l"`
}

// Header is the dataset-wide metadata, finalized only after the last tree.
type Header struct {
	Version    int           `json:"version"`
	DatasetID  string        `json:"dataset_id"`
	CreatedAt  string        `json:"created_at"`
	Simulation Simulation    `json:"simulation"`
	Redshifts  []float64     `json:"snapshot_redshifts"`
	Galaxies   int64         `json:"total_galaxies"`
	Trees      int64         `json:"total_trees"`
	Modules    []ModuleIndex `json:"modules"`
}
