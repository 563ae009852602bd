// Package loadgen drives synthetic relay traffic against a running server and
// aggregates per-step latencies into a percentile report.
package loadgen

import (
	"fmt"
	"io"
	"math"
	"sort"
	"sync"
	"time"
)

// Step names a measured phase of a relay flow.
type Step string

const (
	StepCreate   Step = "create"
	StepWatch    Step = "watch"
	StepRedirect Step = "redirect"
	StepComplete Step = "complete"
	StepNotify   Step = "notify" // complete call until the watcher sees "completed"
)

var stepOrder = []Step{StepCreate, StepWatch, StepRedirect, StepComplete, StepNotify}

// Collector aggregates results from many concurrent flows. All methods are
// safe for concurrent use.
type Collector struct {
	mu        sync.Mutex
	latencies map[Step][]time.Duration
	errors    map[Step]int
	flows     int
	startTime time.Time
}

// NewCollector creates a Collector with the start time set to now.
func NewCollector() *Collector {
	return &Collector{
		latencies: make(map[Step][]time.Duration),
		errors:    make(map[Step]int),
		startTime: time.Now(),
	}
}

// Observe records one latency sample for step.
func (c *Collector) Observe(step Step, d time.Duration) {
	c.mu.Lock()
	c.latencies[step] = append(c.latencies[step], d)
	c.mu.Unlock()
}

// AddError records a failure at step.
func (c *Collector) AddError(step Step) {
	c.mu.Lock()
	c.errors[step]++
	c.mu.Unlock()
}

// FlowDone counts a flow that ran to completion.
func (c *Collector) FlowDone() {
	c.mu.Lock()
	c.flows++
	c.mu.Unlock()
}

// Flows returns the number of completed flows.
func (c *Collector) Flows() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flows
}

// ErrorCount returns the total number of recorded errors.
func (c *Collector) ErrorCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.errors {
		n += e
	}
	return n
}

// Summary holds the percentile distribution of one step.
type Summary struct {
	Count              int
	Avg, P50, P95, P99 time.Duration
	Max                time.Duration
}

// Summarize returns the distribution for step. ok is false when no samples
// were recorded.
func (c *Collector) Summarize(step Step) (s Summary, ok bool) {
	c.mu.Lock()
	samples := append([]time.Duration(nil), c.latencies[step]...)
	c.mu.Unlock()

	if len(samples) == 0 {
		return Summary{}, false
	}
	return summarize(samples), true
}

func summarize(durations []time.Duration) Summary {
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	n := len(durations)
	var sum time.Duration
	for _, d := range durations {
		sum += d
	}
	return Summary{
		Count: n,
		Avg:   sum / time.Duration(n),
		P50:   durations[n/2],
		P95:   durations[int(math.Ceil(float64(n)*0.95))-1],
		P99:   durations[int(math.Ceil(float64(n)*0.99))-1],
		Max:   durations[n-1],
	}
}

// Report writes a formatted summary of everything collected so far.
func (c *Collector) Report(w io.Writer) {
	elapsed := time.Since(c.startTime)
	flows, errs := c.Flows(), c.ErrorCount()

	fmt.Fprintln(w, "\n=== Relay Load Results ===")
	fmt.Fprintf(w, "Duration:  %s\n", elapsed.Round(time.Second))
	fmt.Fprintf(w, "Flows:     %d\n", flows)
	fmt.Fprintf(w, "Errors:    %d\n", errs)
	if elapsed > 0 {
		fmt.Fprintf(w, "Throughput: %.1f flows/s\n", float64(flows)/elapsed.Seconds())
	}

	for _, step := range stepOrder {
		s, ok := c.Summarize(step)
		if !ok {
			continue
		}
		c.mu.Lock()
		stepErrs := c.errors[step]
		c.mu.Unlock()
		fmt.Fprintf(w, "\n--- %s ---\n", step)
		fmt.Fprintf(w, "  avg: %v  p50: %v  p95: %v  p99: %v  max: %v  (n=%d, errors=%d)\n",
			s.Avg.Round(time.Microsecond),
			s.P50.Round(time.Microsecond),
			s.P95.Round(time.Microsecond),
			s.P99.Round(time.Microsecond),
			s.Max.Round(time.Microsecond),
			s.Count,
			stepErrs,
		)
	}
	fmt.Fprintln(w)
}
