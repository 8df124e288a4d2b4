// Package consumer reads index build requests from Kafka and rebuilds the
// named project through the indexer, then tells the catalog to pick up the
// new segment.
package consumer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/code-usage-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/internal/indexer/catalog"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/internal/indexer/codeinfo"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/internal/indexer/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/code-usage-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/pkg/kafka"
)

// BuildRequest asks for one project to be (re)indexed. Exactly one of
// CodeInfo (inline extraction JSON) or CodeInfoPath must be set.
type BuildRequest struct {
	Project      string          `json:"project"`
	CodeInfo     json.RawMessage `json:"code_info,omitempty"`
	CodeInfoPath string          `json:"code_info_path,omitempty"`
}

// Reloader is notified after a project's index has been replaced.
type Reloader interface {
	Reload(project string)
}

// IndexConsumer wraps a Kafka consumer to drive index builds.
type IndexConsumer struct {
	consumer *kafka.Consumer
	logger   *slog.Logger
}

// New creates an IndexConsumer backed by the given Kafka consumer.
func New(kafkaConsumer *kafka.Consumer) *IndexConsumer {
	return &IndexConsumer{
		consumer: kafkaConsumer,
		logger:   slog.Default().With("component", "index-consumer"),
	}
}

// Start begins consuming Kafka messages. It blocks until ctx is cancelled.
func (ic *IndexConsumer) Start(ctx context.Context) error {
	ic.logger.Info("index consumer starting")
	return ic.consumer.Start(ctx)
}

// HandleMessage returns a Kafka MessageHandler that builds each requested
// project into cat's data directory. Undecodable or invalid requests are
// logged and acknowledged; other build failures are returned so the message
// is not committed.
func HandleMessage(builder *indexer.Builder, cat *catalog.Catalog, reloader Reloader) kafka.MessageHandler {
	logger := slog.Default().With("component", "index-consumer")
	return func(ctx context.Context, key []byte, value []byte) error {
		req, err := kafka.DecodeJSON[BuildRequest](value)
		if err != nil {
			logger.Error("failed to decode build request",
				"error", err,
				"key", string(key),
			)
			return nil
		}
		docs, err := requestDocuments(req)
		if err != nil {
			logger.Error("rejecting build request",
				"project", req.Project,
				"error", err,
			)
			return nil
		}

		logger.Debug("processing build request",
			"project", req.Project,
			"docs", len(docs),
		)
		res, err := builder.BuildDocuments(ctx, req.Project, docs, cat.Dir(req.Project))
		if err != nil {
			if apperrors.Is(err, apperrors.ErrInvalidInput) {
				logger.Error("rejecting build request", "project", req.Project, "error", err)
				return nil
			}
			return fmt.Errorf("building project %s: %w", req.Project, err)
		}
		if reloader != nil {
			reloader.Reload(req.Project)
		}
		logger.Info("project rebuilt",
			"project", req.Project,
			"docs", res.Docs,
			"segment", res.Segment,
		)
		return nil
	}
}

func requestDocuments(req BuildRequest) ([]index.Document, error) {
	if !catalog.ValidProject(req.Project) {
		return nil, fmt.Errorf("invalid project name %q", req.Project)
	}
	switch {
	case len(req.CodeInfo) > 0 && req.CodeInfoPath != "":
		return nil, fmt.Errorf("code_info and code_info_path are mutually exclusive")
	case len(req.CodeInfo) > 0:
		return codeinfo.Parse(bytes.NewReader(req.CodeInfo))
	case req.CodeInfoPath != "":
		return codeinfo.ParseFile(req.CodeInfoPath)
	default:
		return nil, fmt.Errorf("one of code_info or code_info_path is required")
	}
}
