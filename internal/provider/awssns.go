package provider

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/acteon-dev/acteon/internal/action"
)

// SNSProvider publishes the action payload to an AWS SNS topic,
// adapted from the teacher pack's aws-sdk-go-v2 client construction
// pattern used for S3 in the storage backend.
type SNSProvider struct {
	name     string
	topicARN string
	client   *sns.Client
}

func NewSNSProvider(name, topicARN string, client *sns.Client) *SNSProvider {
	return &SNSProvider{name: name, topicARN: topicARN, client: client}
}

func (p *SNSProvider) Name() string { return p.name }

func (p *SNSProvider) SupportsAttachments() bool { return false }

func (p *SNSProvider) Execute(ctx context.Context, act *action.Action) (Result, error) {
	_, err := p.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Message:  aws.String(string(act.Payload)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"action_id":   {DataType: aws.String("String"), StringValue: aws.String(act.ID)},
			"action_type": {DataType: aws.String("String"), StringValue: aws.String(act.Type)},
		},
	})
	if err != nil {
		return Result{Retryable: true}, fmt.Errorf("sns publish: %w", err)
	}
	return Result{Success: true}, nil
}

func (p *SNSProvider) HealthCheck(ctx context.Context) error {
	_, err := p.client.GetTopicAttributes(ctx, &sns.GetTopicAttributesInput{TopicArn: aws.String(p.topicARN)})
	if err != nil {
		return fmt.Errorf("sns topic attributes: %w", err)
	}
	return nil
}
