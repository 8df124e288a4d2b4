// Package analytics records what searchd answers: it publishes search
// events to Kafka in batches and keeps running totals for the stats
// endpoint.
package analytics

import "time"

type EventType string

const (
	EventSearch     EventType = "search"
	EventZeroResult EventType = "zero_result"
	EventFailed     EventType = "search_failed"
)

// SearchEvent describes one batch search.
type SearchEvent struct {
	Type        EventType `json:"type"`
	Project     string    `json:"project"`
	Segment     string    `json:"segment,omitempty"`
	Queries     int       `json:"queries"`
	Returned    int       `json:"returned"`
	TopK        int       `json:"top_k"`
	LatencyMs   int64     `json:"latency_ms"`
	CacheStatus string    `json:"cache_status"`
	Error       string    `json:"error,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	RequestID   string    `json:"request_id,omitempty"`
}

// NewSearchEvent fills Type from the outcome.
func NewSearchEvent(project string, queries, returned int, latency time.Duration, cacheStatus string, err error) SearchEvent {
	ev := SearchEvent{
		Type:        EventSearch,
		Project:     project,
		Queries:     queries,
		Returned:    returned,
		LatencyMs:   latency.Milliseconds(),
		CacheStatus: cacheStatus,
		Timestamp:   time.Now().UTC(),
	}
	switch {
	case err != nil:
		ev.Type = EventFailed
		ev.Error = err.Error()
	case returned == 0:
		ev.Type = EventZeroResult
	}
	return ev
}
