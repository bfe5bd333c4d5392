package consumer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/RedHatInsights/notifications-backend-sub014/internal/domain"
)

var testTimestamp = time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)

// MockMessageParser is a mock implementation of MessageParser
type MockMessageParser struct {
	mock.Mock
}

func (m *MockMessageParser) Parse(body []byte) (*domain.Event, error) {
	args := m.Called(body)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Event), args.Error(1)
}

func testEvent(eventID string) *domain.Event {
	return &domain.Event{
		EventID:         eventID,
		OrgID:           "o1",
		BundleName:      "rhel",
		ApplicationName: "advisor",
		EventTypeID:     "new-recommendation",
		Payload:         map[string]interface{}{"msg": "hi"},
		Timestamp:       testTimestamp,
	}
}

func runParserStage(t *testing.T, stage *ParserStage, messages ...types.Message) []*Envelope {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	in := make(chan types.Message, len(messages))
	out := make(chan *Envelope, len(messages))
	for _, msg := range messages {
		in <- msg
	}
	close(in)

	stage.Start(ctx, in, out)

	var envelopes []*Envelope
	for env := range out {
		envelopes = append(envelopes, env)
	}
	return envelopes
}

func TestParserStage_Start_Success(t *testing.T) {
	mockConsumer := new(MockQueueConsumer)
	mockParser := new(MockMessageParser)
	stage := NewParserStage(mockConsumer, mockParser, 30, zap.NewNop())

	msg := sqsMessage(1)
	mockParser.On("Parse", []byte(aws.ToString(msg.Body))).Return(testEvent("evt-1"), nil)

	envelopes := runParserStage(t, stage, msg)

	require.Len(t, envelopes, 1)
	assert.Equal(t, "evt-1", envelopes[0].Event.EventID)
	assert.Empty(t, envelopes[0].Histories)
	mockConsumer.AssertNotCalled(t, "DeleteMessage", mock.Anything, mock.Anything)
	mockParser.AssertExpectations(t)
}

func TestParserStage_Start_MalformedMessageIsDeleted(t *testing.T) {
	mockConsumer := new(MockQueueConsumer)
	mockParser := new(MockMessageParser)
	stage := NewParserStage(mockConsumer, mockParser, 30, zap.NewNop())

	msg := sqsMessage(1)
	mockConsumer.On("QueueURL").Return(testQueueURL)
	mockConsumer.On("DeleteMessage", mock.Anything, mock.MatchedBy(func(in *sqs.DeleteMessageInput) bool {
		return aws.ToString(in.ReceiptHandle) == "receipt-1" && aws.ToString(in.QueueUrl) == testQueueURL
	})).Return(&sqs.DeleteMessageOutput{}, nil)
	mockParser.On("Parse", mock.Anything).Return(nil, ErrInvalidEvent)

	envelopes := runParserStage(t, stage, msg)

	assert.Empty(t, envelopes)
	mockConsumer.AssertExpectations(t)
}

func TestParserStage_Start_DeleteMessageFailure(t *testing.T) {
	mockConsumer := new(MockQueueConsumer)
	mockParser := new(MockMessageParser)
	stage := NewParserStage(mockConsumer, mockParser, 30, zap.NewNop())

	mockConsumer.On("QueueURL").Return(testQueueURL)
	mockConsumer.On("DeleteMessage", mock.Anything, mock.Anything).Return(nil, errors.New("access denied"))
	mockParser.On("Parse", mock.Anything).Return(nil, ErrInvalidEvent)

	envelopes := runParserStage(t, stage, sqsMessage(1))

	assert.Empty(t, envelopes)
	mockConsumer.AssertNumberOfCalls(t, "DeleteMessage", 1)
}

func TestParserStage_Envelope_AckDeletesAndNackReleases(t *testing.T) {
	mockConsumer := new(MockQueueConsumer)
	mockParser := new(MockMessageParser)
	stage := NewParserStage(mockConsumer, mockParser, 45, zap.NewNop())

	mockConsumer.On("QueueURL").Return(testQueueURL)
	mockConsumer.On("DeleteMessage", mock.Anything, mock.MatchedBy(func(in *sqs.DeleteMessageInput) bool {
		return aws.ToString(in.ReceiptHandle) == "receipt-1"
	})).Return(&sqs.DeleteMessageOutput{}, nil).Once()
	mockConsumer.On("ChangeMessageVisibility", mock.Anything, mock.MatchedBy(func(in *sqs.ChangeMessageVisibilityInput) bool {
		return aws.ToString(in.ReceiptHandle) == "receipt-2" && in.VisibilityTimeout == 45
	})).Return(&sqs.ChangeMessageVisibilityOutput{}, nil).Once()
	mockParser.On("Parse", mock.Anything).Return(testEvent("evt"), nil)

	envelopes := runParserStage(t, stage, sqsMessage(1), sqsMessage(2))
	require.Len(t, envelopes, 2)

	assert.NoError(t, envelopes[0].Ack(context.Background()))
	assert.NoError(t, envelopes[1].Nack(context.Background()))
	mockConsumer.AssertExpectations(t)
}

func TestParserStage_Start_ContextCancellation(t *testing.T) {
	stage := NewParserStage(new(MockQueueConsumer), new(MockMessageParser), 30, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	in := make(chan types.Message)
	out := make(chan *Envelope)

	stage.Start(ctx, in, out)

	_, ok := <-out
	assert.False(t, ok, "Output channel should be closed")
}

func TestParserStage_Start_MixedMessages(t *testing.T) {
	mockConsumer := new(MockQueueConsumer)
	mockParser := new(MockMessageParser)
	stage := NewParserStage(mockConsumer, mockParser, 30, zap.NewNop())

	good, bad := sqsMessage(1), sqsMessage(2)
	mockConsumer.On("QueueURL").Return(testQueueURL)
	mockConsumer.On("DeleteMessage", mock.Anything, mock.Anything).Return(&sqs.DeleteMessageOutput{}, nil)
	mockParser.On("Parse", []byte(aws.ToString(good.Body))).Return(testEvent("evt-1"), nil)
	mockParser.On("Parse", []byte(aws.ToString(bad.Body))).Return(nil, ErrInvalidEvent)

	envelopes := runParserStage(t, stage, good, bad, good)

	assert.Len(t, envelopes, 2)
	mockConsumer.AssertNumberOfCalls(t, "DeleteMessage", 1)
}
