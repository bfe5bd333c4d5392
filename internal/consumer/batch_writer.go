package consumer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/RedHatInsights/notifications-backend-sub014/internal/domain"
)

// BatchWriterConfig configures the batch writer
type BatchWriterConfig struct {
	MaxBatchSize int
	FlushTimeout time.Duration
}

// BatchWriter batches dispatched envelopes and writes their history records
// to the sink before acknowledging the source messages
type BatchWriter struct {
	sink   HistoryWriter
	config BatchWriterConfig
	log    *zap.Logger
}

// NewBatchWriter creates a new batch writer
func NewBatchWriter(sink HistoryWriter, config BatchWriterConfig, log *zap.Logger) *BatchWriter {
	return &BatchWriter{
		sink:   sink,
		config: config,
		log:    log,
	}
}

// Start begins processing envelopes, batching, and writing to the sink
func (w *BatchWriter) Start(ctx context.Context, in <-chan *Envelope) {
	ticker := time.NewTicker(w.config.FlushTimeout)
	defer ticker.Stop()

	batch := make([]*Envelope, 0, w.config.MaxBatchSize)

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Batch writer shutting down")
			if len(batch) > 0 {
				w.log.Info("Flushing final batch", zap.Int("envelope_count", len(batch)))
				w.processBatch(context.WithoutCancel(ctx), batch)
			}
			return

		case envelope, ok := <-in:
			if !ok {
				w.log.Info("Batch writer input channel closed")
				if len(batch) > 0 {
					w.log.Info("Flushing final batch", zap.Int("envelope_count", len(batch)))
					w.processBatch(ctx, batch)
				}
				return
			}

			batch = append(batch, envelope)

			if len(batch) >= w.config.MaxBatchSize {
				w.log.Info("Batch size threshold reached", zap.Int("batch_size", len(batch)))
				w.processBatch(ctx, batch)
				batch = make([]*Envelope, 0, w.config.MaxBatchSize)
				ticker.Reset(w.config.FlushTimeout)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.log.Info("Batch timeout reached", zap.Int("envelope_count", len(batch)))
				w.processBatch(ctx, batch)
				batch = make([]*Envelope, 0, w.config.MaxBatchSize)
			}
		}
	}
}

// processBatch handles the atomic transaction: insert + ack/nack
func (w *BatchWriter) processBatch(ctx context.Context, envelopes []*Envelope) {
	if len(envelopes) == 0 {
		return
	}

	var histories []*domain.NotificationHistory
	for _, env := range envelopes {
		histories = append(histories, env.Histories...)
	}

	if len(histories) == 0 {
		w.log.Info("No history records in batch", zap.Int("envelope_count", len(envelopes)))
		w.ackAll(ctx, envelopes)
		return
	}

	insertedCount, err := w.sink.InsertBatch(ctx, histories)

	if err != nil {
		w.log.Error("Failed to insert history batch",
			zap.Error(err),
			zap.Int("history_count", len(histories)))
		w.nackAll(ctx, envelopes)
		return
	}

	if insertedCount != len(histories) {
		w.log.Warn("Partial insert success",
			zap.Int("inserted", insertedCount),
			zap.Int("expected", len(histories)))
		w.nackAll(ctx, envelopes)
		return
	}

	w.log.Info("Successfully inserted history records",
		zap.Int("count", insertedCount),
		zap.Int("event_count", len(envelopes)))
	w.ackAll(ctx, envelopes)
}

// ackAll acknowledges all envelopes (deletes from SQS)
func (w *BatchWriter) ackAll(ctx context.Context, envelopes []*Envelope) {
	for _, env := range envelopes {
		if err := env.Ack(ctx); err != nil {
			w.log.Error("Failed to ack envelope",
				zap.String("event_id", env.Event.EventID),
				zap.Error(err))
		}
	}
}

// nackAll negatively acknowledges all envelopes so they are redelivered
func (w *BatchWriter) nackAll(ctx context.Context, envelopes []*Envelope) {
	for _, env := range envelopes {
		if err := env.Nack(ctx); err != nil {
			w.log.Error("Failed to nack envelope",
				zap.String("event_id", env.Event.EventID),
				zap.Error(err))
		}
	}
}
