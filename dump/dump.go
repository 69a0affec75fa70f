// Package dump implements the on-disk dump file format written by a job
// entry's release callback and consumed by the profile consolidator,
// grounded on src/proxy/profile.c's tau_metric_dump_load/save.
package dump

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/netresearch/tauproxy/metricstore"
	"github.com/netresearch/tauproxy/wire"
)

// ErrBadTrailer is returned when a dump file's trailer canary doesn't match.
var ErrBadTrailer = errors.New("dump: bad trailer canary")

// ErrBadSnapshotCanary is returned when an individual snapshot's canary
// doesn't match 0x1337.
var ErrBadSnapshotCanary = errors.New("dump: bad snapshot canary")

// Snapshot is one metric's point-in-time value as stored in a dump file.
type Snapshot struct {
	Type     wire.MetricType
	Doc      string
	Name     string
	Value    float64
	UpdateTS float64
}

// File is a fully loaded dump: the job descriptor header plus its
// snapshots.
type File struct {
	Desc      wire.JobDescriptor
	Snapshots []Snapshot
}

const snapshotWireSize = 4 /*type*/ + wire.DocSize + wire.NameSize + 8 + 8 + 4 /*canary*/

func writeSnapshot(w io.Writer, s Snapshot) error {
	buf := make([]byte, snapshotWireSize)
	off := 0
	binary.NativeEndian.PutUint32(buf[off:], uint32(s.Type))
	off += 4
	if len(s.Doc) > wire.DocSize-1 {
		s.Doc = s.Doc[:wire.DocSize-1]
	}
	copy(buf[off:off+wire.DocSize], s.Doc)
	off += wire.DocSize
	if len(s.Name) > wire.NameSize-1 {
		s.Name = s.Name[:wire.NameSize-1]
	}
	copy(buf[off:off+wire.NameSize], s.Name)
	off += wire.NameSize
	binary.NativeEndian.PutUint64(buf[off:], math.Float64bits(s.Value))
	off += 8
	binary.NativeEndian.PutUint64(buf[off:], math.Float64bits(s.UpdateTS))
	off += 8
	binary.NativeEndian.PutUint32(buf[off:], wire.SnapshotCanary)
	_, err := w.Write(buf)
	return err
}

func readSnapshot(r io.Reader) (Snapshot, error) {
	buf := make([]byte, snapshotWireSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Snapshot{}, err
	}
	off := 0
	typ := wire.MetricType(binary.NativeEndian.Uint32(buf[off:]))
	off += 4
	doc := cstring(buf[off : off+wire.DocSize])
	off += wire.DocSize
	name := cstring(buf[off : off+wire.NameSize])
	off += wire.NameSize
	value := math.Float64frombits(binary.NativeEndian.Uint64(buf[off:]))
	off += 8
	ts := math.Float64frombits(binary.NativeEndian.Uint64(buf[off:]))
	off += 8
	canary := binary.NativeEndian.Uint32(buf[off:])
	if canary != wire.SnapshotCanary {
		return Snapshot{}, ErrBadSnapshotCanary
	}
	return Snapshot{Type: typ, Doc: doc, Name: name, Value: value, UpdateTS: ts}, nil
}

func cstring(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// Save writes a dump file to path: header (metric count + job descriptor),
// one snapshot per metric in store, then the 0x77 trailer canary.
func Save(path string, desc wire.JobDescriptor, store *metricstore.Store) (err error) {
	f, err := os.Create(path) // #nosec G304 -- path is constructed from the configured profile root
	if err != nil {
		return fmt.Errorf("dump: create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("dump: close %s: %w", path, cerr)
		}
	}()

	w := bufio.NewWriter(f)

	var countBuf [4]byte
	binary.NativeEndian.PutUint32(countBuf[:], uint32(store.Count()))
	if _, err = w.Write(countBuf[:]); err != nil {
		return fmt.Errorf("dump: write header: %w", err)
	}
	if err = wire.WriteJobDescriptor(w, desc); err != nil {
		return fmt.Errorf("dump: write job descriptor: %w", err)
	}

	var werr error
	store.Iterate(func(r *metricstore.Record) bool {
		s := Snapshot{
			Type:     r.Type,
			Doc:      r.Doc,
			Name:     r.Name,
			Value:    r.Value(),
			UpdateTS: float64(r.LastUpdateTS.Unix()),
		}
		if werr = writeSnapshot(w, s); werr != nil {
			return true
		}
		return false
	})
	if werr != nil {
		return fmt.Errorf("dump: write snapshot: %w", werr)
	}

	if _, err = w.Write([]byte{wire.DumpCanary}); err != nil {
		return fmt.Errorf("dump: write trailer: %w", err)
	}
	return w.Flush()
}

// Load reads and fully validates a dump file. Any I/O error or canary
// mismatch, including a short read, which is the expected signature of a
// file still being written by a concurrent Save, causes Load to fail; the
// caller (the consolidator) treats that as "retry next tick", never
// partially applying a dump.
func Load(path string) (*File, error) {
	f, err := os.Open(path) // #nosec G304 -- path is constructed from the configured profile root
	if err != nil {
		return nil, fmt.Errorf("dump: open %s: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)

	var countBuf [4]byte
	if _, err := io.ReadFull(r, countBuf[:]); err != nil {
		return nil, fmt.Errorf("dump: read header: %w", err)
	}
	count := binary.NativeEndian.Uint32(countBuf[:])

	desc, err := wire.ReadJobDescriptor(r)
	if err != nil {
		return nil, fmt.Errorf("dump: read job descriptor: %w", err)
	}

	snapshots := make([]Snapshot, 0, count)
	for i := uint32(0); i < count; i++ {
		s, err := readSnapshot(r)
		if err != nil {
			return nil, fmt.Errorf("dump: read snapshot %d/%d: %w", i, count, err)
		}
		snapshots = append(snapshots, s)
	}

	var trailer [1]byte
	if _, err := io.ReadFull(r, trailer[:]); err != nil {
		return nil, fmt.Errorf("dump: read trailer: %w", err)
	}
	if trailer[0] != wire.DumpCanary {
		return nil, ErrBadTrailer
	}

	return &File{Desc: desc, Snapshots: snapshots}, nil
}

// Apply folds every snapshot in f into store: existing metrics are updated
// per metricstore's type-specific semantics, new metrics are created with
// the snapshot's initial value.
func Apply(f *File, store *metricstore.Store) {
	now := time.Now()
	for _, s := range f.Snapshots {
		ts := now
		if s.UpdateTS != 0 {
			ts = time.Unix(int64(s.UpdateTS), 0)
		}
		store.ApplySnapshot(s.Name, s.Doc, s.Type, s.Value, ts)
	}
}
