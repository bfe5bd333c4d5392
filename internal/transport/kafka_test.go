package transport

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestKafkaPublisher_Publish_Success(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "platform.notifications.drawer" {
			return fmt.Errorf("unexpected topic %s", msg.Topic)
		}
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != "o1" {
			return fmt.Errorf("unexpected key %s", key)
		}
		return nil
	})

	publisher := NewKafkaPublisher(producer, "platform.notifications.drawer", zap.NewNop())

	err := publisher.Publish(context.Background(), "o1", []byte(`{"org_id":"o1"}`))

	require.NoError(t, err)
	assert.NoError(t, producer.Close())
}

func TestKafkaPublisher_Publish_Failure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrNotLeaderForPartition)

	publisher := NewKafkaPublisher(producer, "platform.notifications.tocamel", zap.NewNop())

	err := publisher.Publish(context.Background(), "ep-1", []byte(`{}`))

	require.Error(t, err)
	assert.True(t, errors.Is(err, sarama.ErrNotLeaderForPartition))
	assert.Contains(t, err.Error(), "platform.notifications.tocamel")
	assert.NoError(t, producer.Close())
}
