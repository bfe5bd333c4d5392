package consumer

import (
	"context"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/RedHatInsights/notifications-backend-sub014/internal/queue"
)

const receiveCountAttribute = string(types.MessageSystemAttributeNameApproximateReceiveCount)

// ReceiverConfig configures the SQS receiver
type ReceiverConfig struct {
	MaxMessages     int32
	WaitTimeSeconds int32
	BufferSize      int
	// ErrorBackoff bounds the pause between failed receive calls.
	ErrorBackoffInitial time.Duration
	ErrorBackoffMax     time.Duration
}

// Receiver long-polls the ingress queue and feeds raw messages to the parser
type Receiver struct {
	consumer queue.QueueConsumer
	config   ReceiverConfig
	log      *zap.Logger
}

func NewReceiver(consumer queue.QueueConsumer, config ReceiverConfig, log *zap.Logger) *Receiver {
	if config.ErrorBackoffInitial <= 0 {
		config.ErrorBackoffInitial = 500 * time.Millisecond
	}
	if config.ErrorBackoffMax < config.ErrorBackoffInitial {
		config.ErrorBackoffMax = 30 * time.Second
	}
	return &Receiver{
		consumer: consumer,
		config:   config,
		log:      log,
	}
}

// Start polls until ctx is done, then closes out
func (r *Receiver) Start(ctx context.Context, out chan<- types.Message) {
	defer close(out)

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = r.config.ErrorBackoffInitial
	retry.MaxInterval = r.config.ErrorBackoffMax

	for ctx.Err() == nil {
		result, err := r.consumer.ReceiveMessages(ctx, &awssqs.ReceiveMessageInput{
			QueueUrl:                    aws.String(r.consumer.QueueURL()),
			MaxNumberOfMessages:         r.config.MaxMessages,
			WaitTimeSeconds:             r.config.WaitTimeSeconds,
			MessageAttributeNames:       []string{"All"},
			MessageSystemAttributeNames: []types.MessageSystemAttributeName{types.MessageSystemAttributeNameApproximateReceiveCount},
		})
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			wait := retry.NextBackOff()
			r.log.Error("Error receiving messages from SQS",
				zap.Duration("retry_in", wait),
				zap.Error(err))
			if !sleepCtx(ctx, wait) {
				break
			}
			continue
		}
		retry.Reset()

		if len(result.Messages) == 0 {
			continue
		}

		r.log.Debug("Received messages from SQS", zap.Int("message_count", len(result.Messages)))

		for _, msg := range result.Messages {
			if n := receiveCount(msg); n > 1 {
				r.log.Info("Redelivered message",
					zap.String("message_id", aws.ToString(msg.MessageId)),
					zap.Int("receive_count", n))
			}

			select {
			case <-ctx.Done():
				r.log.Info("Receiver shutting down while sending messages")
				return
			case out <- msg:
			}
		}
	}

	r.log.Info("Receiver shutting down")
}

func receiveCount(msg types.Message) int {
	n, err := strconv.Atoi(msg.Attributes[receiveCountAttribute])
	if err != nil {
		return 0
	}
	return n
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
