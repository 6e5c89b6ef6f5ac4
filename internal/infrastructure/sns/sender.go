package sns

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/email-confirmation-service/internal/config"
	"github.com/email-confirmation-service/internal/infrastructure/awsconf"
)

// Publisher publishes alert messages to an SNS topic.
type Publisher struct {
	client   *sns.Client
	topicARN string
}

func NewPublisher(awsCfg aws.Config, cfg *config.Config) *Publisher {
	clientOpts := []func(*sns.Options){}
	if ep := awsconf.Endpoint(cfg); ep != nil {
		clientOpts = append(clientOpts, func(o *sns.Options) {
			o.BaseEndpoint = ep
		})
	}
	return &Publisher{client: sns.NewFromConfig(awsCfg, clientOpts...), topicARN: cfg.DeadLetterTopicARN}
}

// Publish sends message to the configured topic. SNS subjects are limited to 100 characters.
func (p *Publisher) Publish(ctx context.Context, subject, message string) error {
	if len(subject) > 100 {
		subject = subject[:100]
	}
	_, err := p.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Subject:  aws.String(subject),
		Message:  aws.String(message),
	})
	if err != nil {
		return fmt.Errorf("sns publish: %w", err)
	}
	return nil
}
