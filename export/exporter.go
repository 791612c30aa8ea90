package export

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/google/uuid"

	"treeconv/metrics"
	"treeconv/pipeline"
)

// Exporter state machine errors.
var (
	ErrNotStreaming  = errors.New("exporter is not streaming")
	ErrUnknownModule = errors.New("unknown module group")
	ErrClosed        = errors.New("exporter is closed")
)

type state int

const (
	stateOpen state = iota
	stateStreaming
	stateFinalizing
	stateClosed
)

// ModuleSpec declares one destination record group to the exporter.
type ModuleSpec struct {
	Name   string
	Schema *arrow.Schema
}

// Options tunes the exporter. The zero value is usable.
type Options struct {
	// FlushTrees is the number of complete trees buffered before their
	// records are spilled to disk. Default 64.
	FlushTrees int
	// DatasetID overrides the random run identifier; used to make output
	// reproducible byte for byte.
	DatasetID uuid.UUID
	// CreatedAt overrides the header timestamp; used alongside DatasetID.
	CreatedAt time.Time
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

const defaultFlushTrees = 64

type moduleRegion struct {
	spec      ModuleSpec
	spill     *os.File
	pending   []arrow.Record
	ranges    []TreeRange
	records   int64 // rows appended so far
	flushed   int   // trees written to the spill file
	spillSize int64 // bytes written to the spill file
}

type flushJob struct {
	region *moduleRegion
	recs   []arrow.Record
}

// Exporter streams per-tree record batches into the output dataset. It
// moves strictly Open -> Streaming -> Finalizing -> Closed; no tree may be
// appended once finalization has begun. Buffered records are spilled by a
// single background writer so the next tree's extraction can overlap I/O;
// the exporter remains the only writer of the backing store.
type Exporter struct {
	path    string
	opts    Options
	regions []*moduleRegion
	byName  map[string]*moduleRegion
	log     *slog.Logger

	mu       sync.Mutex
	state    state
	appends  int
	buffered int
	flushErr error

	params  pipeline.SimulationParameters
	snaps   pipeline.SnapshotTable
	created time.Time
	id      uuid.UUID

	flushCh chan flushJob
	wg      sync.WaitGroup
	flowing bool
}

// New creates an exporter for the given output path and module groups.
// Nothing is written until Begin.
func New(path string, modules []ModuleSpec, opts Options) (*Exporter, error) {
	if len(modules) == 0 {
		return nil, fmt.Errorf("no module groups configured")
	}
	if opts.FlushTrees <= 0 {
		opts.FlushTrees = defaultFlushTrees
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	ex := &Exporter{
		path:   path,
		opts:   opts,
		byName: make(map[string]*moduleRegion, len(modules)),
		log:    log,
	}
	for _, spec := range modules {
		if _, dup := ex.byName[spec.Name]; dup {
			return nil, fmt.Errorf("duplicate module group %q", spec.Name)
		}
		region := &moduleRegion{spec: spec}
		ex.regions = append(ex.regions, region)
		ex.byName[spec.Name] = region
	}
	return ex, nil
}

// Begin records the run metadata and moves the exporter into the
// Streaming state. Spill files are created next to the output path.
func (ex *Exporter) Begin(params pipeline.SimulationParameters, snapshots pipeline.SnapshotTable) error {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	if ex.state != stateOpen {
		return fmt.Errorf("begin: exporter already started")
	}
	ex.params = params
	ex.snaps = append(pipeline.SnapshotTable(nil), snapshots...)
	ex.id = ex.opts.DatasetID
	if ex.id == uuid.Nil {
		ex.id = uuid.New()
	}
	ex.created = ex.opts.CreatedAt
	if ex.created.IsZero() {
		ex.created = time.Now().UTC()
	}

	dir := filepath.Dir(ex.path)
	base := filepath.Base(ex.path)
	for _, region := range ex.regions {
		f, err := os.CreateTemp(dir, "."+base+"."+region.spec.Name+".spill-*")
		if err != nil {
			ex.removeSpillsLocked()
			return fmt.Errorf("failed to create spill file: %w", err)
		}
		region.spill = f
	}

	ex.flushCh = make(chan flushJob, 2*len(ex.regions))
	ex.flowing = true
	ex.wg.Add(1)
	go ex.flusher()

	ex.state = stateStreaming
	return nil
}

// Append buffers one tree's record batch for a module group. Trees must
// arrive in order: tree ordinal n is accepted only after every group has
// seen trees 0..n-1. The exporter retains the record until it is spilled.
func (ex *Exporter) Append(tree int, module string, rec arrow.Record) error {
	ex.mu.Lock()
	if ex.state != stateStreaming {
		ex.mu.Unlock()
		return ErrNotStreaming
	}
	if err := ex.flushErr; err != nil {
		ex.mu.Unlock()
		return err
	}
	region, ok := ex.byName[module]
	if !ok {
		ex.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownModule, module)
	}
	if tree != len(region.ranges) {
		ex.mu.Unlock()
		return fmt.Errorf("tree %d appended out of order to group %q (expected %d)",
			tree, module, len(region.ranges))
	}

	rec.Retain()
	region.pending = append(region.pending, rec)
	region.ranges = append(region.ranges, TreeRange{
		Offset: region.records,
		Count:  rec.NumRows(),
	})
	region.records += rec.NumRows()

	ex.appends++
	var jobs []flushJob
	if ex.appends%len(ex.regions) == 0 {
		ex.buffered++
		ex.opts.Metrics.SetBufferedTrees(ex.buffered)
		if ex.buffered >= ex.opts.FlushTrees {
			jobs = ex.takePendingLocked()
		}
	}
	ex.mu.Unlock()

	for _, job := range jobs {
		ex.flushCh <- job
	}
	return nil
}

// takePendingLocked collects every region's buffered records into flush
// jobs. Caller holds ex.mu; jobs must be sent after unlocking.
func (ex *Exporter) takePendingLocked() []flushJob {
	var jobs []flushJob
	for _, region := range ex.regions {
		if len(region.pending) == 0 {
			continue
		}
		jobs = append(jobs, flushJob{region: region, recs: region.pending})
		region.pending = nil
	}
	ex.buffered = 0
	ex.opts.Metrics.SetBufferedTrees(0)
	return jobs
}

// flusher serializes buffered records to the spill files. It is the only
// goroutine that writes; ordering within a region follows job order.
func (ex *Exporter) flusher() {
	defer ex.wg.Done()
	for job := range ex.flushCh {
		start := time.Now()
		var written int64
		for _, rec := range job.recs {
			n, err := writeIPCStream(job.region.spill, rec)
			rec.Release()
			if err != nil {
				ex.setFlushErr(fmt.Errorf("failed to spill group %q: %w", job.region.spec.Name, err))
				continue
			}
			ex.mu.Lock()
			r := &job.region.ranges[job.region.flushed]
			r.ByteOffset = job.region.spillSize
			r.ByteLength = n
			job.region.flushed++
			job.region.spillSize += n
			ex.mu.Unlock()
			written += n
		}
		ex.opts.Metrics.RecordFlush(written, time.Since(start))
	}
}

func (ex *Exporter) setFlushErr(err error) {
	ex.mu.Lock()
	if ex.flushErr == nil {
		ex.flushErr = err
	}
	ex.mu.Unlock()
}

// writeIPCStream appends one record as a self-contained Arrow IPC stream
// and returns the number of bytes written. Self-contained streams let the
// tree index table address any tree's records by byte range alone.
func writeIPCStream(w io.Writer, rec arrow.Record) (int64, error) {
	cw := &countingWriter{w: w}
	wr := ipc.NewWriter(cw, ipc.WithSchema(rec.Schema()))
	if err := wr.Write(rec); err != nil {
		wr.Close()
		return cw.n, err
	}
	if err := wr.Close(); err != nil {
		return cw.n, err
	}
	return cw.n, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

// Finalize drains the buffers, computes the header and tree index tables
// from the accumulated counts and assembles the dataset container. The
// output path appears only after the container is complete and synced;
// an interrupted run never leaves a seemingly valid dataset behind.
func (ex *Exporter) Finalize() error {
	ex.mu.Lock()
	if ex.state != stateStreaming {
		ex.mu.Unlock()
		return ErrNotStreaming
	}
	ex.state = stateFinalizing
	jobs := ex.takePendingLocked()
	ex.mu.Unlock()

	for _, job := range jobs {
		ex.flushCh <- job
	}
	ex.stopFlusher()

	if err := ex.flushErr; err != nil {
		ex.discard()
		return err
	}
	if err := ex.assemble(); err != nil {
		ex.discard()
		return err
	}

	ex.mu.Lock()
	ex.removeSpillsLocked()
	ex.mu.Unlock()
	return nil
}

func (ex *Exporter) stopFlusher() {
	if ex.flowing {
		close(ex.flushCh)
		ex.flowing = false
	}
	ex.wg.Wait()
}

// assemble writes magic, header and module regions into a temporary file
// and renames it onto the output path.
func (ex *Exporter) assemble() error {
	trees := len(ex.regions[0].ranges)
	for _, region := range ex.regions {
		if len(region.ranges) != trees {
			return fmt.Errorf("group %q holds %d trees, group %q holds %d",
				ex.regions[0].spec.Name, trees, region.spec.Name, len(region.ranges))
		}
	}

	header := ex.buildHeader()
	hb, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to encode header: %w", err)
	}

	tmp := ex.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tmp, err)
	}
	defer func() {
		if f != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()

	if _, err := f.Write([]byte(Magic)); err != nil {
		return fmt.Errorf("failed to write magic: %w", err)
	}
	var hlen [8]byte
	binary.LittleEndian.PutUint64(hlen[:], uint64(len(hb)))
	if _, err := f.Write(hlen[:]); err != nil {
		return fmt.Errorf("failed to write header length: %w", err)
	}
	if _, err := f.Write(hb); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, region := range ex.regions {
		if _, err := region.spill.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("failed to rewind spill for group %q: %w", region.spec.Name, err)
		}
		if _, err := io.Copy(f, region.spill); err != nil {
			return fmt.Errorf("failed to copy group %q region: %w", region.spec.Name, err)
		}
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync dataset: %w", err)
	}
	if err := f.Close(); err != nil {
		f = nil
		os.Remove(tmp)
		return fmt.Errorf("failed to close dataset: %w", err)
	}
	f = nil
	if err := os.Rename(tmp, ex.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to commit dataset: %w", err)
	}

	ex.log.Info("dataset finalized",
		"path", ex.path,
		"trees", trees,
		"galaxies", ex.regions[0].records,
		"dataset_id", ex.id.String())
	return nil
}

func (ex *Exporter) buildHeader() Header {
	header := Header{
		Version:   FormatVersion,
		DatasetID: ex.id.String(),
		CreatedAt: ex.created.UTC().Format(time.RFC3339),
		Simulation: Simulation{
			BoxSize: ex.params.BoxSize,
			Hubble:  ex.params.Hubble,
			OmegaM:  ex.params.OmegaM,
			OmegaL:  ex.params.OmegaL,
		},
		Redshifts: []float64(ex.snaps),
		Galaxies:  ex.regions[0].records,
		Trees:     int64(len(ex.regions[0].ranges)),
	}
	var offset int64
	for _, region := range ex.regions {
		mi := ModuleIndex{
			Name:   region.spec.Name,
			Offset: offset,
			Length: region.spillSize,
			Trees:  region.ranges,
		}
		for _, field := range region.spec.Schema.Fields() {
			mi.Fields = append(mi.Fields, FieldSpec{Name: field.Name, Type: field.Type.Name()})
		}
		header.Modules = append(header.Modules, mi)
		offset += region.spillSize
	}
	return header
}

// Abort discards all buffered and spilled output. The output path is
// never created by an aborted run.
func (ex *Exporter) Abort() error {
	ex.mu.Lock()
	if ex.state == stateClosed {
		ex.mu.Unlock()
		return nil
	}
	ex.state = stateFinalizing
	ex.mu.Unlock()

	ex.stopFlusher()
	ex.discard()

	ex.mu.Lock()
	ex.state = stateClosed
	ex.mu.Unlock()
	return nil
}

// discard releases buffered records and removes spill files and any
// partially written container.
func (ex *Exporter) discard() {
	ex.mu.Lock()
	for _, region := range ex.regions {
		for _, rec := range region.pending {
			rec.Release()
		}
		region.pending = nil
	}
	ex.removeSpillsLocked()
	ex.mu.Unlock()
	os.Remove(ex.path + ".tmp")
}

func (ex *Exporter) removeSpillsLocked() {
	for _, region := range ex.regions {
		if region.spill == nil {
			continue
		}
		name := region.spill.Name()
		region.spill.Close()
		os.Remove(name)
		region.spill = nil
	}
}

// Close releases the exporter's resources. Closing before Finalize aborts
// the run; closing afterwards only completes the state transition. Close
// is idempotent.
func (ex *Exporter) Close() error {
	ex.mu.Lock()
	st := ex.state
	ex.mu.Unlock()

	switch st {
	case stateClosed:
		return nil
	case stateFinalizing:
		ex.mu.Lock()
		ex.state = stateClosed
		ex.mu.Unlock()
		return nil
	default:
		return ex.Abort()
	}
}
