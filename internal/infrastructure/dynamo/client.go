package dynamo

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodbstreams"
	"github.com/email-confirmation-service/internal/config"
	"github.com/email-confirmation-service/internal/infrastructure/awsconf"
)

// NewClient creates a DynamoDB client. When cfg.AWSEndpointURL is set (LocalStack),
// it overrides the endpoint so all traffic goes to the local instance.
func NewClient(awsCfg aws.Config, cfg *config.Config) *dynamodb.Client {
	clientOpts := []func(*dynamodb.Options){}
	if ep := awsconf.Endpoint(cfg); ep != nil {
		clientOpts = append(clientOpts, func(o *dynamodb.Options) {
			o.BaseEndpoint = ep
		})
	}
	return dynamodb.NewFromConfig(awsCfg, clientOpts...)
}

// NewStreamsClient creates a DynamoDB Streams client with the same endpoint rules.
func NewStreamsClient(awsCfg aws.Config, cfg *config.Config) *dynamodbstreams.Client {
	clientOpts := []func(*dynamodbstreams.Options){}
	if ep := awsconf.Endpoint(cfg); ep != nil {
		clientOpts = append(clientOpts, func(o *dynamodbstreams.Options) {
			o.BaseEndpoint = ep
		})
	}
	return dynamodbstreams.NewFromConfig(awsCfg, clientOpts...)
}
