package api

import (
	"runtime"

	"github.com/prometheus/client_golang/prometheus"

	"charhub/pkg/events"
	"charhub/pkg/ingest/queue"
	"charhub/pkg/store"
)

var (
	gcPauseTotal = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "go_gc_pause_total_ns",
			Help: "Total GC pause time in nanoseconds.",
		},
		func() float64 {
			var stats runtime.MemStats
			runtime.ReadMemStats(&stats)
			return float64(stats.PauseTotalNs)
		},
	)

	heapAlloc = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "go_heap_alloc_bytes",
			Help: "Current heap allocation in bytes.",
		},
		func() float64 {
			var stats runtime.MemStats
			runtime.ReadMemStats(&stats)
			return float64(stats.HeapAlloc)
		},
	)

	goroutines = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "go_goroutines",
			Help: "Number of active goroutines.",
		},
		func() float64 { return float64(runtime.NumGoroutine()) },
	)
)

// newRegistry builds the registry behind /admin/debug/prometheus. Each server
// gets its own so tests can build several.
func newRegistry(d Deps) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(gcPauseTotal, heapAlloc, goroutines)

	if d.Workspaces != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "charhub_workspaces_open",
			Help: "Signed-in users with a live workspace.",
		}, func() float64 { return float64(d.Workspaces.Len()) }))
	}
	if d.Queue != nil {
		reg.MustRegister(queueCollector{d.Queue})
	}
	if d.Store != nil {
		reg.MustRegister(storeCollector{d.Store})
	}
	if d.Bus != nil {
		reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "charhub_permission_errors_total",
			Help: "Failed document writes reported on the event bus.",
		}, func() float64 { return float64(d.Bus.Count(events.KindPermissionError)) }))
		reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "charhub_notifications_total",
			Help: "User notifications published, including Generation Failed.",
		}, func() float64 { return float64(d.Bus.Count(events.KindNotification)) }))
	}
	if d.Sensor != nil {
		s := d.Sensor
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "charhub_disk_used_percent",
			Help: "Used space on the data directory filesystem.",
		}, func() float64 { return s.Last().DiskUsedPct }))
	}
	return reg
}

var (
	queueLenDesc   = prometheus.NewDesc("charhub_queue_length", "Writes waiting to be applied.", nil, nil)
	queueOpsDesc   = prometheus.NewDesc("charhub_queue_ops_total", "Queued writes by outcome.", []string{"outcome"}, nil)
	storeOpsDesc   = prometheus.NewDesc("charhub_store_ops_total", "Document store operations by kind.", []string{"op"}, nil)
	storeSubsDesc  = prometheus.NewDesc("charhub_store_subscriptions", "Open collection subscriptions.", nil, nil)
	storeSnapsDesc = prometheus.NewDesc("charhub_store_snapshots_total", "Snapshots delivered to subscribers.", nil, nil)
)

type queueCollector struct{ q *queue.IngestQueue }

func (c queueCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- queueLenDesc
	ch <- queueOpsDesc
}

func (c queueCollector) Collect(ch chan<- prometheus.Metric) {
	st := c.q.Stats()
	ch <- prometheus.MustNewConstMetric(queueLenDesc, prometheus.GaugeValue, float64(st.Len))
	ch <- prometheus.MustNewConstMetric(queueOpsDesc, prometheus.CounterValue, float64(st.Applied), "applied")
	ch <- prometheus.MustNewConstMetric(queueOpsDesc, prometheus.CounterValue, float64(st.Failed), "failed")
	ch <- prometheus.MustNewConstMetric(queueOpsDesc, prometheus.CounterValue, float64(st.Dropped), "dropped")
}

type storeCollector struct{ s *store.Store }

func (c storeCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- storeOpsDesc
	ch <- storeSubsDesc
	ch <- storeSnapsDesc
}

func (c storeCollector) Collect(ch chan<- prometheus.Metric) {
	st := c.s.Stats()
	ch <- prometheus.MustNewConstMetric(storeOpsDesc, prometheus.CounterValue, float64(st.Sets), "set")
	ch <- prometheus.MustNewConstMetric(storeOpsDesc, prometheus.CounterValue, float64(st.Updates), "update")
	ch <- prometheus.MustNewConstMetric(storeOpsDesc, prometheus.CounterValue, float64(st.Deletes), "delete")
	ch <- prometheus.MustNewConstMetric(storeOpsDesc, prometheus.CounterValue, float64(st.Failures), "failure")
	ch <- prometheus.MustNewConstMetric(storeSubsDesc, prometheus.GaugeValue, float64(st.Subscriptions))
	ch <- prometheus.MustNewConstMetric(storeSnapsDesc, prometheus.CounterValue, float64(st.Snapshots))
}
