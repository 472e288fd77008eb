// Package metrics exposes live counter readings from a monitoring session
// as prometheus metrics
package metrics

import (
	"log"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hpmon/pmcmon/alloc"
	"github.com/hpmon/pmcmon/session"
)

// Namespace to use for all metrics
const prometheusNamespace = "pmcmon"

// Collector is a prometheus.Collector over one monitoring session. Sessions
// are single-owner, so all reads are serialized behind a mutex. Readings
// taken from a running session are live and carry no cross-register
// consistency guarantee.
type Collector struct {
	mu          sync.Mutex
	sess        *session.Session
	assignments []alloc.Assignment
	counterDesc *prometheus.Desc
	stateDesc   *prometheus.Desc
}

// NewCollector creates a collector for a session and its armed assignments
func NewCollector(sess *session.Session, assignments []alloc.Assignment) *Collector {
	counterDesc := prometheus.NewDesc(
		prometheus.BuildFQName(prometheusNamespace, "", "counter_value"),
		"Raw value of one hardware counter register",
		[]string{"event", "register", "cpu"},
		nil,
	)

	stateDesc := prometheus.NewDesc(
		prometheus.BuildFQName(prometheusNamespace, "", "session_state"),
		"Lifecycle state of the monitoring session",
		[]string{"state", "cpu"},
		nil,
	)

	return &Collector{
		sess:        sess,
		assignments: assignments,
		counterDesc: counterDesc,
		stateDesc:   stateDesc,
	}
}

// Sync runs fn while holding the collector's lock. The session owner uses
// this to stop and destroy the session without racing a concurrent scrape.
func (c *Collector) Sync(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fn()
}

// Describe satisfies prometheus.Collector interface by sending descriptions
// for all metrics the collector can possibly report
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.counterDesc
	ch <- c.stateDesc
}

// Collect satisfies prometheus.Collector interface and sends all metrics
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cpu := strconv.Itoa(c.sess.CPU())

	ch <- prometheus.MustNewConstMetric(c.stateDesc, prometheus.GaugeValue, 1, c.sess.State().String(), cpu)

	readings, err := c.sess.Read()
	if err != nil {
		log.Printf("Error reading session counters: %s", err)
		return
	}

	for _, a := range c.assignments {
		ch <- prometheus.MustNewConstMetric(
			c.counterDesc,
			prometheus.CounterValue,
			float64(readings[a.Register]),
			a.Event.Name,
			strconv.Itoa(a.Register),
			cpu,
		)
	}
}
