package ingest

import (
	"context"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"wifiwatch/internal/config"
	"wifiwatch/internal/model"
	"wifiwatch/internal/normalize"
)

// StartKafka consumes one measurement per message. The message key, when
// set, is used as the location for records that carry none.
func StartKafka(ctx context.Context, cfg *config.Manager, parser *Parser, out chan<- model.Measurement, logger *slog.Logger) {
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
				if !BackoffSleep(ctx, 0) {
					return
				}
				continue
			}
			handleKafkaMessage(ctx, m, cfg.Get(), parser, out, logger)
		}
	}()
}

func handleKafkaMessage(ctx context.Context, msg kafka.Message, cfg *config.Config, parser *Parser, out chan<- model.Measurement, logger *slog.Logger) bool {
	fields, err := parser.ParseLine(string(msg.Value))
	if err != nil || fields == nil {
		return false
	}
	if fields.Location == "" {
		fields.Location = string(msg.Key)
	}
	if fields.Source == "" || fields.Source == "nmcli" || fields.Source == "csv" {
		fields.Source = "kafka"
	}
	m, err := normalize.Normalize(*fields, cfg)
	if err != nil {
		rejected("kafka")
		if logger != nil {
			logger.Warn("kafka normalize error", "err", err)
		}
		return false
	}
	return SendNonBlocking(ctx, out, m, logger)
}
