package exporter

import (
	"fmt"
	"strings"

	"github.com/netresearch/tauproxy/logging"
	"github.com/netresearch/tauproxy/metricstore"
	"github.com/netresearch/tauproxy/wire"
)

// maxSiblings caps the number of full metric names grouped under a single
// basename, matching METRIC_TREE_MAX_SIBLINGS in exporter.c. Metrics beyond
// the cap are dropped from rendering with a warning; ingest is unaffected.
const maxSiblings = 4096

// basenameOf returns the metric name's prefix before the first '{', or the
// whole name if there is none.
func basenameOf(name string) string {
	if i := strings.IndexByte(name, '{'); i >= 0 {
		return name[:i]
	}
	return name
}

type treeNode struct {
	basename string
	doc      string
	typ      wire.MetricType
	siblings []*metricstore.Record
}

// Render builds the basename tree from store and serializes it as
// Prometheus text exposition, in first-sibling-wins HELP/TYPE order.
func Render(store *metricstore.Store, logger logging.Logger) []byte {
	order := []string{}
	nodes := map[string]*treeNode{}

	store.Iterate(func(r *metricstore.Record) bool {
		base := basenameOf(r.Name)
		n, ok := nodes[base]
		if !ok {
			n = &treeNode{basename: base, doc: r.Doc, typ: r.Type}
			nodes[base] = n
			order = append(order, base)
		}
		if len(n.siblings) >= maxSiblings {
			logger.Warningf("exporter: submetric overflow, some metrics dropped: %s", r.Name)
			return false
		}
		n.siblings = append(n.siblings, r)
		return false
	})

	var b strings.Builder
	for _, base := range order {
		n := nodes[base]
		fmt.Fprintf(&b, "# HELP %s %s\n", n.basename, n.doc)
		fmt.Fprintf(&b, "# TYPE %s %s\n", n.basename, n.typ.String())
		for _, r := range n.siblings {
			fmt.Fprintf(&b, "%s %v\n", r.Name, r.Value())
		}
	}
	return []byte(b.String())
}
