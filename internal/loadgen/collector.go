// Package loadgen drives synthetic comment traffic at a running moderator
// over NATS and summarizes decision latency and outcomes.
package loadgen

import (
	"fmt"
	"io"
	"math"
	"sort"
	"sync"
	"time"
)

// Collector aggregates results from many sender goroutines. All methods are
// goroutine-safe.
type Collector struct {
	mu        sync.Mutex
	latencies map[string][]time.Duration // per event kind
	outcomes  map[string]int
	errors    int
	startTime time.Time
}

// NewCollector creates a Collector with the start time set to now.
func NewCollector() *Collector {
	return &Collector{
		latencies: make(map[string][]time.Duration),
		outcomes:  make(map[string]int),
		startTime: time.Now(),
	}
}

// AddDecision records one answered request.
func (c *Collector) AddDecision(event, outcome string, d time.Duration) {
	c.mu.Lock()
	c.latencies[event] = append(c.latencies[event], d)
	c.outcomes[outcome]++
	c.mu.Unlock()
}

// AddError increments the error counter.
func (c *Collector) AddError() {
	c.mu.Lock()
	c.errors++
	c.mu.Unlock()
}

// Sent returns the number of answered requests.
func (c *Collector) Sent() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.outcomes {
		n += v
	}
	return n
}

// ErrorCount returns the number of failed requests.
func (c *Collector) ErrorCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errors
}

// Outcomes returns a copy of the per-outcome counts.
func (c *Collector) Outcomes() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int, len(c.outcomes))
	for k, v := range c.outcomes {
		out[k] = v
	}
	return out
}

// Percentiles summarizes a latency sample.
type Percentiles struct {
	N                       int
	Avg, P50, P95, P99, Max time.Duration
}

// Latency returns the percentiles for one event kind.
func (c *Collector) Latency(event string) (Percentiles, bool) {
	c.mu.Lock()
	sample := append([]time.Duration(nil), c.latencies[event]...)
	c.mu.Unlock()
	if len(sample) == 0 {
		return Percentiles{}, false
	}
	return percentiles(sample), true
}

func percentiles(durations []time.Duration) Percentiles {
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	n := len(durations)
	var sum time.Duration
	for _, d := range durations {
		sum += d
	}
	return Percentiles{
		N:   n,
		Avg: sum / time.Duration(n),
		P50: durations[n/2],
		P95: durations[int(math.Ceil(float64(n)*0.95))-1],
		P99: durations[int(math.Ceil(float64(n)*0.99))-1],
		Max: durations[n-1],
	}
}

// Report writes a summary of everything collected so far.
func (c *Collector) Report(w io.Writer) {
	elapsed := time.Since(c.startTime)
	sent, errs := c.Sent(), c.ErrorCount()

	fmt.Fprintln(w, "\n=== Load Test Results ===")
	fmt.Fprintf(w, "Duration:     %s\n", elapsed.Round(time.Second))
	fmt.Fprintf(w, "Decisions:    %d\n", sent)
	fmt.Fprintf(w, "Errors:       %d\n", errs)
	if total := sent + errs; total > 0 {
		fmt.Fprintf(w, "Error rate:   %.2f%%\n", float64(errs)/float64(total)*100)
	}

	outcomes := c.Outcomes()
	keys := make([]string, 0, len(outcomes))
	for k := range outcomes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > 0 {
		fmt.Fprintln(w, "\n--- Outcomes ---")
		for _, k := range keys {
			fmt.Fprintf(w, "  %-10s %d\n", k, outcomes[k])
		}
	}

	for _, event := range []string{"comment", "edit"} {
		p, ok := c.Latency(event)
		if !ok {
			continue
		}
		fmt.Fprintf(w, "\n--- %s latency ---\n", event)
		fmt.Fprintf(w, "  avg: %v  p50: %v  p95: %v  p99: %v  max: %v  (n=%d)\n",
			p.Avg.Round(time.Microsecond),
			p.P50.Round(time.Microsecond),
			p.P95.Round(time.Microsecond),
			p.P99.Round(time.Microsecond),
			p.Max.Round(time.Microsecond),
			p.N,
		)
	}
	fmt.Fprintln(w)
}
