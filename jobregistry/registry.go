// Package jobregistry tracks the set of currently-active per-job metric
// stores, grounded on src/proxy/metrics.c's metric_array_list_t (a
// refcounted, singly-linked list of per-job entries under one lock).
package jobregistry

import (
	"sync"
	"time"

	"github.com/netresearch/tauproxy/metricstore"
	"github.com/netresearch/tauproxy/wire"
)

// Descriptor identifies the job a connection contributes to. An empty
// JobID means "unaffiliated", callers must skip per-job storage entirely.
type Descriptor struct {
	JobID     string
	Command   string
	Size      int32
	Nodelist  string
	Partition string
	Cluster   string
	RunDir    string
	StartTime time.Time
	EndTime   time.Time
}

// FromWire converts a wire.JobDescriptor into a Descriptor, resolving the
// integer epoch fields into time.Time.
func FromWire(jd wire.JobDescriptor) Descriptor {
	d := Descriptor{
		JobID:     jd.JobID,
		Command:   jd.Command,
		Size:      jd.Size,
		Nodelist:  jd.Nodelist,
		Partition: jd.Partition,
		Cluster:   jd.Cluster,
		RunDir:    jd.RunDir,
	}
	if jd.StartTime != 0 {
		d.StartTime = time.Unix(jd.StartTime, 0)
	}
	if jd.EndTime != 0 {
		d.EndTime = time.Unix(jd.EndTime, 0)
	}
	return d
}

// ToWire converts a Descriptor back into wire format for persistence.
func (d Descriptor) ToWire() wire.JobDescriptor {
	jd := wire.JobDescriptor{
		JobID:     d.JobID,
		Command:   d.Command,
		Size:      d.Size,
		Nodelist:  d.Nodelist,
		Partition: d.Partition,
		Cluster:   d.Cluster,
		RunDir:    d.RunDir,
	}
	if !d.StartTime.IsZero() {
		jd.StartTime = d.StartTime.Unix()
	}
	if !d.EndTime.IsZero() {
		jd.EndTime = d.EndTime.Unix()
	}
	return jd
}

// Entry is one per-job registry entry: the job's descriptor, its dedicated
// metric store, and the number of live handlers that hold it. An entry
// exists in the map only while refcount > 0.
type Entry struct {
	Desc     Descriptor
	Store    *metricstore.Store
	refcount int
}

// ReleaseFunc is invoked when an entry's refcount drops to zero, with the
// entry's final descriptor and store. Called from Relax it runs with the
// registry lock held and therefore must not call back into the registry;
// Drain calls it after releasing the lock.
type ReleaseFunc func(desc Descriptor, store *metricstore.Store)

// Registry holds all currently-active per-job entries under one lock.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*Entry
	release ReleaseFunc
}

// New creates a Registry that invokes release whenever an entry's refcount
// reaches zero.
func New(release ReleaseFunc) *Registry {
	return &Registry{
		entries: make(map[string]*Entry),
		release: release,
	}
}

// Acquire finds or creates the entry for desc.JobID and increments its
// refcount, returning its store. An empty JobID returns nil, the caller
// must treat that as "no per-job store for this connection".
func (r *Registry) Acquire(desc Descriptor) *metricstore.Store {
	if desc.JobID == "" {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ent, ok := r.entries[desc.JobID]
	if !ok {
		ent = &Entry{Desc: desc, Store: metricstore.New()}
		r.entries[desc.JobID] = ent
	}
	ent.refcount++
	return ent.Store
}

// Relax decrements the refcount for jobid. When it reaches zero, the entry
// is removed and the configured release callback is invoked with the
// entry's own descriptor and store.
//
// EndTime is stamped onto the releasing entry itself, not onto whichever
// entry happens to be first in the registry.
func (r *Registry) Relax(jobid string) {
	if jobid == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ent, ok := r.entries[jobid]
	if !ok {
		return
	}

	ent.refcount--
	if ent.refcount > 0 {
		return
	}

	ent.Desc.EndTime = time.Now()
	delete(r.entries, jobid)

	if r.release != nil {
		r.release(ent.Desc, ent.Store)
	}
}

// Len reports the number of currently-active job entries (for tests and
// diagnostics).
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Drain forcibly releases every remaining entry, invoking the release
// callback for each, used during supervisor shutdown so in-flight job
// stores are not lost when the proxy exits.
func (r *Registry) Drain() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*Entry)
	r.mu.Unlock()

	for _, ent := range entries {
		ent.Desc.EndTime = time.Now()
		if r.release != nil {
			r.release(ent.Desc, ent.Store)
		}
	}
}
