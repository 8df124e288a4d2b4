package analytics

import (
	"sort"
	"sync"
	"time"
)

const (
	maxLatencySamples  = 10000
	defaultTopProjects = 10
	maxTopProjects     = 100
)

// AggregatedStats is the snapshot served by the stats endpoint.
type AggregatedStats struct {
	TotalSearches    int64            `json:"total_searches"`
	FailedSearches   int64            `json:"failed_searches"`
	ZeroResultCount  int64            `json:"zero_result_count"`
	CacheStatus      map[string]int64 `json:"cache_status"`
	AvgLatencyMs     float64          `json:"avg_latency_ms"`
	P50LatencyMs     int64            `json:"p50_latency_ms"`
	P95LatencyMs     int64            `json:"p95_latency_ms"`
	P99LatencyMs     int64            `json:"p99_latency_ms"`
	TopProjects      []ProjectCount   `json:"top_projects"`
	QueriesPerMinute float64          `json:"queries_per_minute"`
}

type ProjectCount struct {
	Project string `json:"project"`
	Count   int64  `json:"count"`
}

// ProjectTotals are the counters kept for one project.
type ProjectTotals struct {
	Project     string `json:"project"`
	Searches    int64  `json:"searches"`
	Failed      int64  `json:"failed"`
	ZeroResults int64  `json:"zero_results"`
	Queries     int64  `json:"queries"`
}

// Aggregator keeps running totals over tracked search events. Latency
// percentiles cover the most recent samples only.
type Aggregator struct {
	mu            sync.RWMutex
	totalSearches int64
	failed        int64
	zeroResults   int64
	totalQueries  int64
	cacheStatus   map[string]int64
	latencies     []int64
	next          int
	projects      map[string]*ProjectTotals
	startTime     time.Time
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		cacheStatus:   make(map[string]int64),
		latencies:     make([]int64, 0, 1024),
		projects:      make(map[string]*ProjectTotals),
		startTime:     time.Now(),
	}
}

// Record implements Recorder.
func (a *Aggregator) Record(ev SearchEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.totalSearches++
	p, ok := a.projects[ev.Project]
	if !ok {
		p = &ProjectTotals{Project: ev.Project}
		a.projects[ev.Project] = p
	}
	p.Searches++
	switch ev.Type {
	case EventFailed:
		a.failed++
		p.Failed++
		return
	case EventZeroResult:
		a.zeroResults++
		p.ZeroResults++
	}
	a.totalQueries += int64(ev.Queries)
	p.Queries += int64(ev.Queries)
	if ev.CacheStatus != "" {
		a.cacheStatus[ev.CacheStatus]++
	}
	if len(a.latencies) < maxLatencySamples {
		a.latencies = append(a.latencies, ev.LatencyMs)
	} else {
		a.latencies[a.next] = ev.LatencyMs
		a.next = (a.next + 1) % maxLatencySamples
	}
}

// Stats is Snapshot with the default number of busiest projects.
func (a *Aggregator) Stats() AggregatedStats {
	return a.Snapshot(defaultTopProjects)
}

// Project returns the totals of one project, if it has been searched.
func (a *Aggregator) Project(name string) (ProjectTotals, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	p, ok := a.projects[name]
	if !ok {
		return ProjectTotals{}, false
	}
	return *p, true
}

// Snapshot copies the running totals, listing at most top projects.
func (a *Aggregator) Snapshot(top int) AggregatedStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := AggregatedStats{
		TotalSearches:   a.totalSearches,
		FailedSearches:  a.failed,
		ZeroResultCount: a.zeroResults,
		CacheStatus:     make(map[string]int64, len(a.cacheStatus)),
	}
	for k, v := range a.cacheStatus {
		stats.CacheStatus[k] = v
	}
	if len(a.latencies) > 0 {
		sorted := make([]int64, len(a.latencies))
		copy(sorted, a.latencies)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		var sum int64
		for _, l := range sorted {
			sum += l
		}
		stats.AvgLatencyMs = float64(sum) / float64(len(sorted))
		stats.P50LatencyMs = percentile(sorted, 50)
		stats.P95LatencyMs = percentile(sorted, 95)
		stats.P99LatencyMs = percentile(sorted, 99)
	}
	stats.TopProjects = topN(a.projects, top)
	if elapsed := time.Since(a.startTime).Minutes(); elapsed > 0 {
		stats.QueriesPerMinute = float64(a.totalQueries) / elapsed
	}
	return stats
}

func percentile(sorted []int64, pct int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func topN(projects map[string]*ProjectTotals, n int) []ProjectCount {
	result := make([]ProjectCount, 0, len(projects))
	for name, p := range projects {
		result = append(result, ProjectCount{Project: name, Count: p.Searches})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Project < result[j].Project
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}
