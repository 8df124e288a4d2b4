// Command loadtest drives searchd with similarity batches and reports
// throughput, latency percentiles and how often each cache tier answered.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

type Config struct {
	BaseURL     string
	Project     string
	Concurrency int
	Duration    time.Duration
	TopK        int
	Batches     [][]byte
}

type Stats struct {
	totalRequests atomic.Int64
	successCount  atomic.Int64
	errorCount    atomic.Int64

	mu          sync.Mutex
	latencies   []time.Duration
	statusCodes map[int]int64
	cacheStatus map[string]int64
}

func NewStats() *Stats {
	return &Stats{
		latencies:   make([]time.Duration, 0, 100000),
		statusCodes: make(map[int]int64),
		cacheStatus: make(map[string]int64),
	}
}

func (s *Stats) RecordRequest(duration time.Duration, statusCode int, cacheStatus string, err error) {
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

	s.mu.Lock()
	defer s.mu.Unlock()
	s.latencies = append(s.latencies, duration)
	s.statusCodes[statusCode]++
	if cacheStatus != "" {
		s.cacheStatus[cacheStatus]++
	}
}

// defaultBatches cycle through a few call and field shapes so that both
// cache misses and repeats are exercised.
var defaultBatches = [][]byte{
	[]byte(`[{"sig":"save(Order)","function":["validate(Order)","persist(Order)"],"field":["repository"]}]`),
	[]byte(`[{"sig":"load(long)","function":["find(long)"],"field":["cache","repository"]}]`),
	[]byte(`[{"sig":"close()","function":["flush()","release()"],"field":[]},{"sig":"open()","function":["acquire()"],"field":["pool"]}]`),
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "base URL of searchd")
	project := flag.String("project", "", "project to query (required)")
	batchFile := flag.String("batch", "", "file holding one query batch (JSON array); built-in batches otherwise")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	topK := flag.Int("top-k", 10, "top_k sent with every batch")
	flag.Parse()

	if *project == "" {
		fmt.Fprintln(os.Stderr, "-project is required")
		os.Exit(2)
	}
	batches := defaultBatches
	if *batchFile != "" {
		data, err := os.ReadFile(*batchFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "reading batch file: %v\n", err)
			os.Exit(2)
		}
		batches = [][]byte{data}
	}

	cfg := Config{
		BaseURL:     *baseURL,
		Project:     *project,
		Concurrency: *concurrency,
		Duration:    *duration,
		TopK:        *topK,
		Batches:     batches,
	}

	fmt.Println("=== Similarity Search Load Test ===")
	fmt.Printf("Target:      %s\n", similarURL(cfg))
	fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("Duration:    %s\n", cfg.Duration)
	fmt.Printf("Batches:     %d unique\n", len(cfg.Batches))
	fmt.Println()

	stats := runLoadTest(context.Background(), cfg)
	if !printReport(os.Stdout, stats, cfg.Duration) {
		os.Exit(1)
	}
}

func similarURL(cfg Config) string {
	return fmt.Sprintf("%s/api/v1/projects/%s/similar?top_k=%d",
		cfg.BaseURL, url.PathEscape(cfg.Project), cfg.TopK)
}

func runLoadTest(parent context.Context, cfg Config) *Stats {
	stats := NewStats()
	client := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.Concurrency * 2,
			MaxIdleConnsPerHost: cfg.Concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	target := similarURL(cfg)

	ctx, cancel := context.WithTimeout(parent, cfg.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for w := 0; w < cfg.Concurrency; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			next := workerID
			for ctx.Err() == nil {
				body := cfg.Batches[next%len(cfg.Batches)]
				next++

				req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
				if err != nil {
					stats.RecordRequest(0, 0, "", err)
					return
				}
				req.Header.Set("Content-Type", "application/json")

				start := time.Now()
				resp, err := client.Do(req)
				elapsed := time.Since(start)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					stats.RecordRequest(elapsed, 0, "", err)
					continue
				}
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				stats.RecordRequest(elapsed, resp.StatusCode, resp.Header.Get("X-Cache-Status"), nil)
			}
		}(w)
	}
	wg.Wait()
	return stats
}

// printReport writes the summary and reports whether any request completed.
func printReport(w io.Writer, stats *Stats, duration time.Duration) bool {
	total := stats.totalRequests.Load()
	success := stats.successCount.Load()
	failed := stats.errorCount.Load()

	fmt.Fprintln(w, "=== Results ===")
	fmt.Fprintf(w, "Total Requests:  %d\n", total)
	fmt.Fprintf(w, "Successful:      %d\n", success)
	fmt.Fprintf(w, "Errors:          %d\n", failed)
	if total > 0 {
		fmt.Fprintf(w, "Error Rate:      %.2f%%\n", float64(failed)/float64(total)*100)
		fmt.Fprintf(w, "Batches/sec:     %.2f\n", float64(total)/duration.Seconds())
	}

	stats.mu.Lock()
	defer stats.mu.Unlock()

	if len(stats.latencies) > 0 {
		latencies := append([]time.Duration(nil), stats.latencies...)
		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, "=== Latency ===")
		fmt.Fprintf(w, "Min:    %s\n", latencies[0])
		fmt.Fprintf(w, "Avg:    %s\n", sum/time.Duration(len(latencies)))
		fmt.Fprintf(w, "P50:    %s\n", percentile(latencies, 50))
		fmt.Fprintf(w, "P95:    %s\n", percentile(latencies, 95))
		fmt.Fprintf(w, "P99:    %s\n", percentile(latencies, 99))
		fmt.Fprintf(w, "Max:    %s\n", latencies[len(latencies)-1])
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "=== Status Codes ===")
	codes := make([]int, 0, len(stats.statusCodes))
	for code := range stats.statusCodes {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	for _, code := range codes {
		fmt.Fprintf(w, "  %d: %d\n", code, stats.statusCodes[code])
	}

	if len(stats.cacheStatus) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "=== Cache ===")
		tiers := make([]string, 0, len(stats.cacheStatus))
		for tier := range stats.cacheStatus {
			tiers = append(tiers, tier)
		}
		sort.Strings(tiers)
		for _, tier := range tiers {
			fmt.Fprintf(w, "  %s: %d\n", tier, stats.cacheStatus[tier])
		}
	}

	if total == 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "WARNING: No requests completed. Is searchd running?")
		return false
	}
	return true
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	idx = max(0, min(idx, len(sorted)-1))
	return sorted[idx]
}
