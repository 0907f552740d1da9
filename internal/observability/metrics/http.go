// Package metrics records HTTP request metrics and renders them in the
// Prometheus text exposition format.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type requestKey struct {
	route  string
	method string
	code   string
}

type routeKey struct {
	route  string
	method string
}

type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

// Collector aggregates request counters and latency histograms per route.
type Collector struct {
	namespace string

	mu       sync.Mutex
	requests map[requestKey]uint64
	errors   map[routeKey]uint64
	latency  map[routeKey]*histogram
}

// NewCollector creates a collector whose metric names start with namespace.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "tasks"
	}
	return &Collector{
		namespace: namespace,
		requests:  make(map[requestKey]uint64),
		errors:    make(map[routeKey]uint64),
		latency:   make(map[routeKey]*histogram),
	}
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func (c *Collector) ObserveHTTPRequest(route, method string, status int, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requests[requestKey{route: route, method: method, code: strconv.Itoa(status)}]++
	key := routeKey{route: route, method: method}
	if status >= 500 {
		c.errors[key]++
	}
	hist := c.latency[key]
	if hist == nil {
		hist = newHistogram()
		c.latency[key] = hist
	}
	hist.observe(duration.Seconds())
}

func newHistogram() *histogram {
	buckets := []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

// observe adds value to every cumulative bucket whose bound it fits under.
// Values above the last bound only show up in the +Inf bucket via count.
func (h *histogram) observe(value float64) {
	h.count++
	h.sum += value
	for idx, bound := range h.buckets {
		if value <= bound {
			for i := idx; i < len(h.counts); i++ {
				h.counts[i]++
			}
			return
		}
	}
}

// Handler exposes the metrics in Prometheus text exposition format.
func (c *Collector) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = fmt.Fprint(w, c.render())
	})
}

func (c *Collector) render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	reqKeys := make([]requestKey, 0, len(c.requests))
	for key := range c.requests {
		reqKeys = append(reqKeys, key)
	}
	sort.Slice(reqKeys, func(i, j int) bool {
		a, b := reqKeys[i], reqKeys[j]
		if a.route != b.route {
			return a.route < b.route
		}
		if a.method != b.method {
			return a.method < b.method
		}
		return a.code < b.code
	})
	errKeys := sortedRouteKeys(c.errors)
	latKeys := make([]routeKey, 0, len(c.latency))
	for key := range c.latency {
		latKeys = append(latKeys, key)
	}
	sortRouteKeys(latKeys)

	ns := c.namespace
	var b strings.Builder
	b.Grow(1024)

	fmt.Fprintf(&b, "# HELP %s_http_requests_total Total number of HTTP requests processed.\n", ns)
	fmt.Fprintf(&b, "# TYPE %s_http_requests_total counter\n", ns)
	for _, key := range reqKeys {
		fmt.Fprintf(&b, "%s_http_requests_total{route=\"%s\",method=\"%s\",code=\"%s\"} %d\n",
			ns, escape(key.route), escape(key.method), key.code, c.requests[key])
	}

	fmt.Fprintf(&b, "# HELP %s_http_request_errors_total Total number of HTTP requests that resulted in a server error.\n", ns)
	fmt.Fprintf(&b, "# TYPE %s_http_request_errors_total counter\n", ns)
	for _, key := range errKeys {
		fmt.Fprintf(&b, "%s_http_request_errors_total{route=\"%s\",method=\"%s\"} %d\n",
			ns, escape(key.route), escape(key.method), c.errors[key])
	}

	fmt.Fprintf(&b, "# HELP %s_http_request_duration_seconds HTTP request duration in seconds.\n", ns)
	fmt.Fprintf(&b, "# TYPE %s_http_request_duration_seconds histogram\n", ns)
	for _, key := range latKeys {
		hist := c.latency[key]
		labels := fmt.Sprintf("route=\"%s\",method=\"%s\"", escape(key.route), escape(key.method))
		for idx, bound := range hist.buckets {
			fmt.Fprintf(&b, "%s_http_request_duration_seconds_bucket{%s,le=\"%s\"} %d\n", ns, labels, formatFloat(bound), hist.counts[idx])
		}
		fmt.Fprintf(&b, "%s_http_request_duration_seconds_bucket{%s,le=\"+Inf\"} %d\n", ns, labels, hist.count)
		fmt.Fprintf(&b, "%s_http_request_duration_seconds_sum{%s} %s\n", ns, labels, formatFloat(hist.sum))
		fmt.Fprintf(&b, "%s_http_request_duration_seconds_count{%s} %d\n", ns, labels, hist.count)
	}

	return b.String()
}

func sortedRouteKeys(m map[routeKey]uint64) []routeKey {
	keys := make([]routeKey, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sortRouteKeys(keys)
	return keys
}

func sortRouteKeys(keys []routeKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].route != keys[j].route {
			return keys[i].route < keys[j].route
		}
		return keys[i].method < keys[j].method
	})
}

func escape(value string) string {
	value = strings.ReplaceAll(value, "\\", "\\\\")
	value = strings.ReplaceAll(value, "\"", "\\\"")
	value = strings.ReplaceAll(value, "\n", "")
	return value
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
