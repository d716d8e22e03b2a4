package propagation

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"
)

// HandlerSNSForward is the subscription name of the SNS forwarder
const HandlerSNSForward = "sns-forward"

// SNSPublisher is the part of the SNS client the forwarder uses
type SNSPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// NewSNSClient creates an SNS client from the default AWS credential chain
func NewSNSClient(ctx context.Context, region, endpoint string) (*sns.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return sns.NewFromConfig(cfg, func(o *sns.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

// SNSForwarder publishes committed results and generated reports to an SNS
// topic for consumers outside this process
type SNSForwarder struct {
	client   SNSPublisher
	topicARN string
	logger   *zap.Logger
}

// NewSNSForwarder creates a forwarder for topicARN
func NewSNSForwarder(client SNSPublisher, topicARN string, logger *zap.Logger) *SNSForwarder {
	return &SNSForwarder{client: client, topicARN: topicARN, logger: logger}
}

// Register subscribes the forwarder to the topics it forwards
func (f *SNSForwarder) Register(bus *Bus) {
	bus.Subscribe(TopicResultCalculated, HandlerSNSForward, f.forward)
	bus.Subscribe(TopicReportGenerated, HandlerSNSForward, f.forward)
}

func (f *SNSForwarder) forward(ctx context.Context, n Notification) ([]Notification, error) {
	body, err := encodeNotification(n)
	if err != nil {
		return nil, Permanent(err)
	}

	out, err := f.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(f.topicARN),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"topic": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(n.Topic)),
			},
			"notification_id": {
				DataType:    aws.String("String"),
				StringValue: aws.String(n.ID.String()),
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to publish to SNS: %w", err)
	}

	f.logger.Debug("Notification forwarded to SNS",
		zap.String("topic", string(n.Topic)),
		zap.String("message_id", aws.ToString(out.MessageId)),
	)
	return nil, nil
}
