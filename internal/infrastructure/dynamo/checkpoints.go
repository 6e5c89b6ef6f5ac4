package dynamo

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// checkpoint records the last fully settled sequence number of a shard.
// PK: shard_id
type checkpoint struct {
	ShardID        string    `dynamodbav:"shard_id"`
	StreamARN      string    `dynamodbav:"stream_arn"`
	SequenceNumber string    `dynamodbav:"sequence_number"`
	UpdatedAt      time.Time `dynamodbav:"updated_at,unixtime"`
}

type CheckpointRepo struct {
	client    *dynamodb.Client
	tableName string
}

func NewCheckpointRepo(client *dynamodb.Client, tableName string) *CheckpointRepo {
	return &CheckpointRepo{client: client, tableName: tableName}
}

// Get returns the stored sequence number for shardID, or "" if none.
func (r *CheckpointRepo) Get(ctx context.Context, shardID string) (string, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            strKey("shard_id", shardID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("get checkpoint %s: %w", shardID, err)
	}
	if out.Item == nil {
		return "", nil
	}
	var cp checkpoint
	if err := attributevalue.UnmarshalMap(out.Item, &cp); err != nil {
		return "", fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	return cp.SequenceNumber, nil
}

func (r *CheckpointRepo) Save(ctx context.Context, streamARN, shardID, sequence string) error {
	item, err := attributevalue.MarshalMap(checkpoint{
		ShardID:        shardID,
		StreamARN:      streamARN,
		SequenceNumber: sequence,
		UpdatedAt:      time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("put checkpoint %s: %w", shardID, err)
	}
	return nil
}
