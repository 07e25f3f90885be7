package main

import (
	"fmt"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

type Stats struct {
	totalRequests atomic.Int64
	successCount  atomic.Int64
	errorCount    atomic.Int64
	cacheHits     atomic.Int64
	zeroResults   atomic.Int64
	latencies     []time.Duration
	latenciesMu   sync.Mutex
	statusCodes   map[int]*atomic.Int64
	statusCodesMu sync.Mutex
}

func NewStats() *Stats {
	return &Stats{
		latencies:   make([]time.Duration, 0, 100000),
		statusCodes: make(map[int]*atomic.Int64),
	}
}

// RecordRequest records one request. err is a transport failure; an HTTP
// error status is counted through statusCode.
func (s *Stats) RecordRequest(duration time.Duration, statusCode int, err error) {
	s.totalRequests.Add(1)

	if err != nil {
		s.errorCount.Add(1)
		return
	}

	if statusCode >= 200 && statusCode < 300 {
		s.successCount.Add(1)
	} else {
		s.errorCount.Add(1)
	}

	s.latenciesMu.Lock()
	s.latencies = append(s.latencies, duration)
	s.latenciesMu.Unlock()

	s.statusCodesMu.Lock()
	if _, ok := s.statusCodes[statusCode]; !ok {
		s.statusCodes[statusCode] = &atomic.Int64{}
	}
	s.statusCodes[statusCode].Add(1)
	s.statusCodesMu.Unlock()
}

// RecordLookup records what a successful lookup returned.
func (s *Stats) RecordLookup(count int, cacheHit bool) {
	if cacheHit {
		s.cacheHits.Add(1)
	}
	if count == 0 {
		s.zeroResults.Add(1)
	}
}

// LatencySummary holds the sorted latency distribution.
type LatencySummary struct {
	Min, Avg, P50, P90, P95, P99, Max, StdDev time.Duration
}

// Summary returns the latency distribution, or false when nothing completed.
func (s *Stats) Summary() (LatencySummary, bool) {
	s.latenciesMu.Lock()
	latencies := slices.Clone(s.latencies)
	s.latenciesMu.Unlock()
	if len(latencies) == 0 {
		return LatencySummary{}, false
	}
	slices.Sort(latencies)

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	avg := sum / time.Duration(len(latencies))

	var sumSquared float64
	for _, l := range latencies {
		diff := float64(l) - float64(avg)
		sumSquared += diff * diff
	}
	return LatencySummary{
		Min:    latencies[0],
		Avg:    avg,
		P50:    percentile(latencies, 50),
		P90:    percentile(latencies, 90),
		P95:    percentile(latencies, 95),
		P99:    percentile(latencies, 99),
		Max:    latencies[len(latencies)-1],
		StdDev: time.Duration(math.Sqrt(sumSquared / float64(len(latencies)))),
	}, true
}

func (s *Stats) Print(duration time.Duration) {
	total := s.totalRequests.Load()
	success := s.successCount.Load()
	errs := s.errorCount.Load()

	fmt.Println("=== Results ===")
	fmt.Printf("Total Requests:  %d\n", total)
	fmt.Printf("Successful:      %d\n", success)
	fmt.Printf("Errors:          %d\n", errs)
	fmt.Printf("Cache Hits:      %d\n", s.cacheHits.Load())
	fmt.Printf("Zero Results:    %d\n", s.zeroResults.Load())

	if total > 0 {
		fmt.Printf("Error Rate:      %.2f%%\n", float64(errs)/float64(total)*100)
		fmt.Printf("Requests/sec:    %.2f\n", float64(total)/duration.Seconds())
	}

	if sum, ok := s.Summary(); ok {
		fmt.Println()
		fmt.Println("=== Latency ===")
		fmt.Printf("Min:    %s\n", sum.Min)
		fmt.Printf("Avg:    %s\n", sum.Avg)
		fmt.Printf("P50:    %s\n", sum.P50)
		fmt.Printf("P90:    %s\n", sum.P90)
		fmt.Printf("P95:    %s\n", sum.P95)
		fmt.Printf("P99:    %s\n", sum.P99)
		fmt.Printf("Max:    %s\n", sum.Max)
		fmt.Printf("StdDev: %s\n", sum.StdDev)
	}

	fmt.Println()
	fmt.Println("=== Status Codes ===")
	s.statusCodesMu.Lock()
	codes := make([]int, 0, len(s.statusCodes))
	for code := range s.statusCodes {
		codes = append(codes, code)
	}
	slices.Sort(codes)
	for _, code := range codes {
		fmt.Printf("  %d: %d\n", code, s.statusCodes[code].Load())
	}
	s.statusCodesMu.Unlock()
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	idx = max(idx, 0)
	idx = min(idx, len(sorted)-1)
	return sorted[idx]
}
