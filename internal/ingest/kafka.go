package ingest

import (
	"context"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"hostsentry/internal/config"
	"hostsentry/internal/metrics"
	"hostsentry/internal/model"
)

// StartKafka consumes Event Records from a trusted topic. Messages on this
// path are produced by an already-authenticated collector, so only schema
// validation applies; signature, replay and duplicate checks belong to the
// HTTP gateway.
func StartKafka(ctx context.Context, cfg *config.Manager, out chan<- model.EventRecord, logger *slog.Logger) {
	current := cfg.Get().Ingest.Kafka
	if !current.Enabled {
		if logger != nil {
			logger.Info("kafka ingest disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("kafka ingest enabled", "brokers", current.Brokers, "topic", current.Topic, "group_id", current.GroupID)
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  current.Brokers,
		Topic:    current.Topic,
		GroupID:  current.GroupID,
		MinBytes: 1e3,
		MaxBytes: 10e6,
	})
	go func() {
		defer reader.Close()
		for {
			m, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if logger != nil {
					logger.Warn("kafka read error", "err", err)
				}
				continue
			}
			ev, err := ParseEvent(m.Value)
			if err != nil {
				if logger != nil {
					logger.Warn("kafka event rejected", "err", err)
				}
				continue
			}
			if SendNonBlocking(ctx, out, ev, logger) {
				metrics.EventsIngested.WithLabelValues("kafka").Inc()
			}
		}
	}()
}
