package analytics

import (
	"context"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/code-usage-search/pkg/kafka"
)

// HandleEvent returns a Kafka handler that feeds decoded search events to
// rec. Undecodable messages are logged and acknowledged.
func HandleEvent(rec Recorder) kafka.MessageHandler {
	logger := slog.Default().With("component", "analytics-consumer")
	return func(_ context.Context, key []byte, value []byte) error {
		ev, err := kafka.DecodeJSON[SearchEvent](value)
		if err != nil {
			logger.Warn("dropping undecodable search event", "key", string(key), "error", err)
			return nil
		}
		if ev.Project == "" {
			ev.Project = string(key)
		}
		rec.Record(ev)
		return nil
	}
}
