package sqs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	envConfig "github.com/RedHatInsights/notifications-backend-sub014/internal/config"
	"github.com/RedHatInsights/notifications-backend-sub014/internal/domain"
)

// API is the subset of the SQS client used by the ingress queue
type API interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Client is the ingress event queue. It publishes events for the HTTP
// surface and serves the consumer pipeline.
type Client struct {
	api      API
	queueURL string
	log      *zap.Logger
}

// New wraps an existing SQS API
func New(api API, queueURL string, log *zap.Logger) *Client {
	return &Client{api: api, queueURL: queueURL, log: log}
}

// NewClient builds the SQS API from configuration. A configured endpoint
// selects a local ElasticMQ with static credentials.
func NewClient(ctx context.Context, sqsConfig envConfig.SQS, log *zap.Logger) (*Client, error) {
	configOpts := []func(*config.LoadOptions) error{
		config.WithRegion(sqsConfig.Region),
	}

	var clientOpts []func(*sqs.Options)
	if sqsConfig.Endpoint != "" {
		log.Info("Using local SQS endpoint", zap.String("endpoint", sqsConfig.Endpoint))
		configOpts = append(configOpts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("dummy", "dummy", "")))
		clientOpts = append(clientOpts, func(o *sqs.Options) {
			o.BaseEndpoint = aws.String(sqsConfig.Endpoint)
		})
	}

	cfg, err := config.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	log.Info("SQS client created",
		zap.String("region", sqsConfig.Region),
		zap.String("queue_url", sqsConfig.QueueURL))

	return New(sqs.NewFromConfig(cfg, clientOpts...), sqsConfig.QueueURL, log), nil
}

func (c *Client) ReceiveMessages(ctx context.Context, input *sqs.ReceiveMessageInput) (*sqs.ReceiveMessageOutput, error) {
	return c.api.ReceiveMessage(ctx, input)
}

func (c *Client) DeleteMessage(ctx context.Context, input *sqs.DeleteMessageInput) (*sqs.DeleteMessageOutput, error) {
	return c.api.DeleteMessage(ctx, input)
}

func (c *Client) ChangeMessageVisibility(ctx context.Context, input *sqs.ChangeMessageVisibilityInput) (*sqs.ChangeMessageVisibilityOutput, error) {
	return c.api.ChangeMessageVisibility(ctx, input)
}

func (c *Client) QueueURL() string {
	return c.queueURL
}

// PublishEvent enqueues an event for dispatch. The routing triple travels as
// message attributes so queue policies can filter without parsing the body.
func (c *Client) PublishEvent(ctx context.Context, event *domain.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", event.EventID, err)
	}

	out, err := c.api.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:          aws.String(c.queueURL),
		MessageBody:       aws.String(string(body)),
		MessageAttributes: eventAttributes(event),
	})
	if err != nil {
		c.log.Error("Failed to send event to SQS",
			zap.String("event_id", event.EventID),
			zap.String("org_id", event.OrgID),
			zap.Error(err))
		return fmt.Errorf("failed to send message to SQS: %w", err)
	}

	c.log.Debug("Event enqueued",
		zap.String("event_id", event.EventID),
		zap.String("org_id", event.OrgID),
		zap.String("message_id", aws.ToString(out.MessageId)))

	return nil
}

func eventAttributes(event *domain.Event) map[string]types.MessageAttributeValue {
	attrs := make(map[string]types.MessageAttributeValue, 4)
	for name, value := range map[string]string{
		"OrgId":       event.OrgID,
		"Bundle":      event.BundleName,
		"Application": event.ApplicationName,
		"EventType":   event.EventTypeID,
	} {
		if value == "" {
			continue
		}
		attrs[name] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(value),
		}
	}
	return attrs
}
