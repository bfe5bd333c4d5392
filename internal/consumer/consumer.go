package consumer

import (
	"context"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	"github.com/RedHatInsights/notifications-backend-sub014/internal/config"
	"github.com/RedHatInsights/notifications-backend-sub014/internal/payload"
	"github.com/RedHatInsights/notifications-backend-sub014/internal/queue"
	"github.com/RedHatInsights/notifications-backend-sub014/internal/repository"
)

// Consumer orchestrates a pipeline of stages to process SQS messages
type Consumer struct {
	receiver    *Receiver
	parser      *ParserStage
	dispatch    *DispatchStage
	batchWriter *BatchWriter
}

// NewConsumer creates a new consumer with a pipeline architecture
func NewConsumer(
	cfg *config.Config,
	queueConsumer queue.QueueConsumer,
	dispatcher EventDispatcher,
	endpoints repository.EndpointRepository,
	fetcher payload.Fetcher,
	sink HistoryWriter,
	log *zap.Logger,
) *Consumer {
	receiver := NewReceiver(queueConsumer, ReceiverConfig{
		MaxMessages:     10,
		WaitTimeSeconds: 20,
		BufferSize:      100,
	}, log)

	parser := NewParserStage(queueConsumer, NewJSONEventParser(), int32(cfg.Consumer.NackVisibilitySec), log)

	dispatch := NewDispatchStage(dispatcher, endpoints, fetcher, cfg.Consumer.Concurrency, log)

	batchWriter := NewBatchWriter(sink, BatchWriterConfig{
		MaxBatchSize: cfg.Consumer.BatchSizeMax,
		FlushTimeout: time.Duration(cfg.Consumer.BatchTimeoutSec) * time.Second,
	}, log)

	return &Consumer{
		receiver:    receiver,
		parser:      parser,
		dispatch:    dispatch,
		batchWriter: batchWriter,
	}
}

// Start begins the consumer pipeline
func (c *Consumer) Start(ctx context.Context) error {
	messageChan := make(chan types.Message, c.receiver.config.BufferSize)
	parsedChan := make(chan *Envelope, c.receiver.config.BufferSize)
	dispatchedChan := make(chan *Envelope, c.receiver.config.BufferSize)

	var wg sync.WaitGroup

	wg.Add(4)

	// Stage 1: Receive messages from SQS
	go func() {
		defer wg.Done()
		c.receiver.Start(ctx, messageChan)
	}()

	// Stage 2: Parse messages into envelopes
	go func() {
		defer wg.Done()
		c.parser.Start(ctx, messageChan, parsedChan)
	}()

	// Stage 3: Dispatch events to their endpoints
	go func() {
		defer wg.Done()
		c.dispatch.Start(ctx, parsedChan, dispatchedChan)
	}()

	// Stage 4: Batch and write history to the sink
	go func() {
		defer wg.Done()
		c.batchWriter.Start(ctx, dispatchedChan)
	}()

	wg.Wait()
	return nil
}
