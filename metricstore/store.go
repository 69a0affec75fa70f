// Package metricstore implements the sharded in-memory metric map, grounded
// on src/proxy/metrics.c's metric_array_t (DJB2-hashed bucket array with
// per-bucket and per-record locking).
package metricstore

import (
	"errors"
	"sync"
	"time"

	"github.com/netresearch/tauproxy/wire"
)

// BucketCount matches the original's 1024-bucket metric_array_t.
const BucketCount = 1024

// ErrTypeMismatch is returned by Register when a name already exists with a
// different type: re-registering the same name with a different type is a
// protocol violation.
var ErrTypeMismatch = errors.New("metricstore: type mismatch on re-registration")

// ErrUnknownMetric is returned by Update when no record exists for the name.
var ErrUnknownMetric = errors.New("metricstore: unknown metric")

// Counter is a single non-negative-monotone accumulator. Update is additive.
type Counter struct {
	Value float64
}

// Gauge tracks min/max and a weight-½ rolling average. The averaging
// formula is preserved exactly as the original tool computed it: it is not
// a true mean, and must not be "fixed".
type Gauge struct {
	Min, Max, Avg float64
}

// Record is one named, typed metric cell.
type Record struct {
	mu sync.Mutex

	Name         string
	Doc          string
	Type         wire.MetricType
	LastUpdateTS time.Time

	Counter Counter
	Gauge   Gauge
}

// Value returns the metric's current scalar value: the counter's value, or
// the gauge's rolling average.
func (r *Record) Value() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Type == wire.TypeGauge {
		return r.Gauge.Avg
	}
	return r.Counter.Value
}

// apply mutates the cell per its type's update semantics. Caller must hold
// r.mu.
func (r *Record) apply(x float64) {
	switch r.Type {
	case wire.TypeCounter:
		r.Counter.Value += x
	case wire.TypeGauge:
		g := &r.Gauge
		if g.Min == 0 || x < g.Min {
			g.Min = x
		}
		if g.Max == 0 || x > g.Max {
			g.Max = x
		}
		g.Avg = (g.Avg + x) / 2
	}
}

type bucket struct {
	mu      sync.Mutex
	records []*Record
}

// Store is a bucketed map from metric name to metric record.
type Store struct {
	buckets [BucketCount]bucket
}

// New creates an empty Store.
func New() *Store {
	return &Store{}
}

// djb2 hashes a name the same way utils_string_hash does in the C source.
func djb2(name string) uint32 {
	var hash uint32 = 5381
	for i := 0; i < len(name); i++ {
		hash = hash*33 + uint32(name[i])
	}
	return hash
}

func bucketIndex(name string) uint32 {
	return djb2(name) % BucketCount
}

// Get returns the record for name, if any.
func (s *Store) Get(name string) (*Record, bool) {
	b := &s.buckets[bucketIndex(name)]
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range b.records {
		if r.Name == name {
			return r, true
		}
	}
	return nil, false
}

// Register inserts a new record for (name, type, doc) if absent. If a
// record already exists with the same type, Register is a no-op and
// returns the existing record with inserted=false. If it exists with a
// different type, ErrTypeMismatch is returned.
func (s *Store) Register(name, doc string, typ wire.MetricType) (rec *Record, inserted bool, err error) {
	b := &s.buckets[bucketIndex(name)]
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, r := range b.records {
		if r.Name == name {
			if r.Type != typ {
				return r, false, ErrTypeMismatch
			}
			return r, false, nil
		}
	}

	r := &Record{Name: name, Doc: doc, Type: typ}
	b.records = append(b.records, r)
	return r, true, nil
}

// Update applies an observation to the named metric, updating
// LastUpdateTS. ErrUnknownMetric is returned if the name is not registered.
func (s *Store) Update(name string, value float64) error {
	r, ok := s.Get(name)
	if !ok {
		return ErrUnknownMetric
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.apply(value)
	r.LastUpdateTS = time.Now()
	return nil
}

// ApplySnapshot installs or updates a record directly from dump/profile
// data. A name not yet present takes the snapshot's value as-is: a gauge's
// snapshot already carries its rolled-up average, so a fresh record must
// not fold it through the rolling formula again. A name already present is
// being merged with a second dump's snapshot, and folds through apply as
// usual.
func (s *Store) ApplySnapshot(name, doc string, typ wire.MetricType, value float64, ts time.Time) {
	b := &s.buckets[bucketIndex(name)]
	b.mu.Lock()
	for _, r := range b.records {
		if r.Name == name {
			b.mu.Unlock()
			r.mu.Lock()
			r.apply(value)
			if ts.After(r.LastUpdateTS) {
				r.LastUpdateTS = ts
			}
			r.mu.Unlock()
			return
		}
	}
	r := &Record{Name: name, Doc: doc, Type: typ, LastUpdateTS: ts}
	switch typ {
	case wire.TypeCounter:
		r.Counter.Value = value
	case wire.TypeGauge:
		r.Gauge.Min = value
		r.Gauge.Max = value
		r.Gauge.Avg = value
	}
	b.records = append(b.records, r)
	b.mu.Unlock()
}

// Visitor is called once per record during Iterate, holding that record's
// lock. A true return aborts iteration of the *current bucket's* chain
// only, other buckets still run. This asymmetric abort semantics is
// intentional and is relied upon by the
// LIST_ALL/GET_ALL query handlers to implement "stop after N written"
// without it silently becoming a global abort.
type Visitor func(r *Record) (stop bool)

// Iterate walks every bucket in order, invoking visit under each visited
// record's lock.
func (s *Store) Iterate(visit Visitor) {
	for i := range s.buckets {
		b := &s.buckets[i]
		b.mu.Lock()
		for _, r := range b.records {
			r.mu.Lock()
			stop := visit(r)
			r.mu.Unlock()
			if stop {
				break
			}
		}
		b.mu.Unlock()
	}
}

// Count returns the total number of registered records.
func (s *Store) Count() int {
	n := 0
	s.Iterate(func(*Record) bool {
		n++
		return false
	})
	return n
}
