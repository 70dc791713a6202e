package memcat

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	liveBytesDesc = prometheus.NewDesc(
		"portmem_category_live_bytes",
		"Bytes currently attributed to a memory category",
		[]string{"category", "id"}, nil,
	)
	liveAllocationsDesc = prometheus.NewDesc(
		"portmem_category_live_allocations",
		"Allocations currently attributed to a memory category",
		[]string{"category", "id"}, nil,
	)
	peakBytesDesc = prometheus.NewDesc(
		"portmem_category_peak_bytes",
		"Highest number of bytes ever attributed to a memory category",
		[]string{"category", "id"}, nil,
	)
)

// Collector exports the counters of a Registry as prometheus gauges
type Collector struct {
	registry *Registry
}

var _ prometheus.Collector = &Collector{}

func NewCollector(registry *Registry) *Collector {
	return &Collector{registry: registry}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- liveBytesDesc
	ch <- liveAllocationsDesc
	ch <- peakBytesDesc
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, category := range c.registry.Categories() {
		id := strconv.FormatUint(uint64(category.ID()), 10)
		ch <- prometheus.MustNewConstMetric(liveBytesDesc, prometheus.GaugeValue, float64(category.LiveBytes()), category.Name(), id)
		ch <- prometheus.MustNewConstMetric(liveAllocationsDesc, prometheus.GaugeValue, float64(category.LiveAllocations()), category.Name(), id)
		ch <- prometheus.MustNewConstMetric(peakBytesDesc, prometheus.GaugeValue, float64(category.PeakBytes()), category.Name(), id)
	}
}
