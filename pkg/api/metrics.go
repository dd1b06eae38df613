package api

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/psaab/vtnflow/pkg/filter"
	"github.com/psaab/vtnflow/pkg/redirect"
)

// vtnflowCollector implements prometheus.Collector, reading engine counters
// and the active snapshot on each scrape.
type vtnflowCollector struct {
	srv *Server

	// Engine counters
	decisionsTotal *prometheus.Desc
	dropsTotal     *prometheus.Desc
	redirectsTotal *prometheus.Desc
	filterHits     *prometheus.Desc

	// Snapshot gauges
	generation *prometheus.Desc
	filters    *prometheus.Desc
	warnings   *prometheus.Desc

	// Trace buffer
	traceRecords *prometheus.Desc
}

func newCollector(srv *Server) *vtnflowCollector {
	return &vtnflowCollector{
		srv: srv,

		decisionsTotal: prometheus.NewDesc(
			"vtnflow_decisions_total",
			"Total forwarding decisions by final verdict.",
			[]string{"verdict"}, nil,
		),
		dropsTotal: prometheus.NewDesc(
			"vtnflow_drops_total",
			"Total dropped packets by reason.",
			[]string{"reason"}, nil,
		),
		redirectsTotal: prometheus.NewDesc(
			"vtnflow_redirects_total",
			"Total redirect hops taken.",
			nil, nil,
		),
		filterHits: prometheus.NewDesc(
			"vtnflow_filter_hits_total",
			"Total packets selected by a flow filter.",
			[]string{"tenant", "location", "index"}, nil,
		),
		generation: prometheus.NewDesc(
			"vtnflow_config_generation",
			"Generation of the active configuration snapshot.",
			nil, nil,
		),
		filters: prometheus.NewDesc(
			"vtnflow_filters",
			"Number of configured flow filters.",
			[]string{"state"}, nil,
		),
		warnings: prometheus.NewDesc(
			"vtnflow_config_warnings",
			"Warnings raised while building the active configuration.",
			nil, nil,
		),
		traceRecords: prometheus.NewDesc(
			"vtnflow_trace_records",
			"Records held in the decision trace buffer.",
			nil, nil,
		),
	}
}

func (c *vtnflowCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.decisionsTotal
	ch <- c.dropsTotal
	ch <- c.redirectsTotal
	ch <- c.filterHits
	ch <- c.generation
	ch <- c.filters
	ch <- c.warnings
	ch <- c.traceRecords
}

func (c *vtnflowCollector) Collect(ch chan<- prometheus.Metric) {
	if e := c.srv.engine; e != nil {
		c.collectEngine(ch, e.Stats())
	}
	if c.srv.store != nil {
		c.collectSnapshot(ch)
	}
	if c.srv.trace != nil {
		ch <- prometheus.MustNewConstMetric(c.traceRecords, prometheus.GaugeValue,
			float64(c.srv.trace.Len()))
	}
}

func (c *vtnflowCollector) collectEngine(ch chan<- prometheus.Metric, st redirect.Stats) {
	var dropped uint64
	for reason, n := range st.Dropped {
		dropped += n
		ch <- prometheus.MustNewConstMetric(c.dropsTotal, prometheus.CounterValue,
			float64(n), reason.String())
	}
	ch <- prometheus.MustNewConstMetric(c.decisionsTotal, prometheus.CounterValue,
		float64(st.Passed), filter.VerdictPass.String())
	ch <- prometheus.MustNewConstMetric(c.decisionsTotal, prometheus.CounterValue,
		float64(dropped), filter.VerdictDrop.String())
	ch <- prometheus.MustNewConstMetric(c.redirectsTotal, prometheus.CounterValue,
		float64(st.Redirects))
	for hit, n := range st.FilterHits {
		ch <- prometheus.MustNewConstMetric(c.filterHits, prometheus.CounterValue,
			float64(n), hit.Location.Tenant, hit.Location.String(), strconv.Itoa(hit.Index))
	}
}

func (c *vtnflowCollector) collectSnapshot(ch chan<- prometheus.Metric) {
	snap := c.srv.store.Current()
	var valid, invalid int
	for _, ll := range snap.Lists() {
		for _, f := range ll.List.Filters() {
			if f.Valid() {
				valid++
			} else {
				invalid++
			}
		}
	}
	ch <- prometheus.MustNewConstMetric(c.generation, prometheus.GaugeValue,
		float64(snap.Generation()))
	ch <- prometheus.MustNewConstMetric(c.filters, prometheus.GaugeValue, float64(valid), "valid")
	ch <- prometheus.MustNewConstMetric(c.filters, prometheus.GaugeValue, float64(invalid), "invalid")
	ch <- prometheus.MustNewConstMetric(c.warnings, prometheus.GaugeValue,
		float64(len(snap.Warnings())))
}

// Metrics holds instruments fed directly by engine observers.
type Metrics struct {
	hops prometheus.Histogram
}

// NewMetrics creates the decision instruments. Register Observe with
// redirect.WithObserver and pass the Metrics to the server Config.
func NewMetrics() *Metrics {
	return &Metrics{
		hops: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "vtnflow_redirect_hops",
			Help:    "Redirect hops taken per decision.",
			Buckets: []float64{0, 1, 2, 4, 8, 16, 32, 64, 128},
		}),
	}
}

// Observe records one decision.
func (m *Metrics) Observe(_ filter.Location, d *redirect.Decision) {
	m.hops.Observe(float64(d.Hops))
}
