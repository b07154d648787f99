package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

type snsAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSPublisher sends transactional SMS through Amazon SNS.
type SNSPublisher struct {
	client   snsAPI
	senderID string
}

// NewSNSPublisher loads the default AWS credential chain for region.
func NewSNSPublisher(ctx context.Context, region, senderID string) (*SNSPublisher, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("notify: load aws config: %w", err)
	}
	return &SNSPublisher{client: sns.NewFromConfig(cfg), senderID: senderID}, nil
}

// SendSMS texts message to phone.
func (p *SNSPublisher) SendSMS(ctx context.Context, phone, message string) error {
	attrs := map[string]types.MessageAttributeValue{
		"AWS.SNS.SMS.SMSType": {
			DataType:    aws.String("String"),
			StringValue: aws.String("Transactional"),
		},
	}
	if p.senderID != "" {
		attrs["AWS.SNS.SMS.SenderID"] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(p.senderID),
		}
	}

	_, err := p.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber:       aws.String(phone),
		Message:           aws.String(message),
		MessageAttributes: attrs,
	})
	if err != nil {
		return fmt.Errorf("notify: sns publish: %w", err)
	}
	return nil
}
