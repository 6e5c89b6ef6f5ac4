package dynamo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodbstreams"
	streamtypes "github.com/aws/aws-sdk-go-v2/service/dynamodbstreams/types"
	"github.com/email-confirmation-service/internal/config"
	"github.com/email-confirmation-service/internal/domain"
	"golang.org/x/sync/errgroup"
)

const shardRefreshInterval = 30 * time.Second

// BatchFunc settles one batch of change records. A nil return means every
// record is either acknowledged or dead-lettered and the shard checkpoint
// may advance past the batch.
type BatchFunc func(ctx context.Context, batch []domain.ChangeRecord) error

// StreamReader follows the confirmations table stream. Each shard is polled
// by its own goroutine; a child shard starts only after its parent is drained,
// so per-key order is preserved across shard splits.
type StreamReader struct {
	client      *dynamodbstreams.Client
	checkpoints *CheckpointRepo
	streamARN   string
	cfg         config.StreamConfig
	process     BatchFunc
	log         *slog.Logger
}

func NewStreamReader(client *dynamodbstreams.Client, checkpoints *CheckpointRepo, streamARN string, cfg config.StreamConfig, process BatchFunc, log *slog.Logger) *StreamReader {
	return &StreamReader{
		client:      client,
		checkpoints: checkpoints,
		streamARN:   streamARN,
		cfg:         cfg,
		process:     process,
		log:         log.With("stream", streamARN),
	}
}

// Run polls until ctx is cancelled.
func (r *StreamReader) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	done := make(map[string]chan struct{})

	discover := func() {
		shards, err := r.listShards(ctx)
		if err != nil {
			r.log.Error("list shards", "err", err)
			return
		}
		var fresh []streamtypes.Shard
		for _, sh := range shards {
			id := aws.ToString(sh.ShardId)
			if _, ok := done[id]; ok {
				continue
			}
			done[id] = make(chan struct{})
			fresh = append(fresh, sh)
		}
		for _, sh := range fresh {
			finished := done[aws.ToString(sh.ShardId)]
			parent := done[aws.ToString(sh.ParentShardId)]
			g.Go(func() error {
				defer close(finished)
				if parent != nil {
					select {
					case <-parent:
					case <-ctx.Done():
						return nil
					}
				}
				r.pollShard(ctx, aws.ToString(sh.ShardId))
				return nil
			})
		}
	}

	discover()
	ticker := time.NewTicker(shardRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return g.Wait()
		case <-ticker.C:
			discover()
		}
	}
}

func (r *StreamReader) listShards(ctx context.Context) ([]streamtypes.Shard, error) {
	var shards []streamtypes.Shard
	var start *string
	for {
		out, err := r.client.DescribeStream(ctx, &dynamodbstreams.DescribeStreamInput{
			StreamArn:             aws.String(r.streamARN),
			ExclusiveStartShardId: start,
		})
		if err != nil {
			return nil, fmt.Errorf("describe stream: %w", err)
		}
		shards = append(shards, out.StreamDescription.Shards...)
		start = out.StreamDescription.LastEvaluatedShardId
		if start == nil {
			return shards, nil
		}
	}
}

func (r *StreamReader) iterator(ctx context.Context, shardID, after string) (*string, error) {
	in := &dynamodbstreams.GetShardIteratorInput{
		StreamArn: aws.String(r.streamARN),
		ShardId:   aws.String(shardID),
	}
	switch {
	case after != "":
		in.ShardIteratorType = streamtypes.ShardIteratorTypeAfterSequenceNumber
		in.SequenceNumber = aws.String(after)
	case r.cfg.StartPosition == "LATEST":
		in.ShardIteratorType = streamtypes.ShardIteratorTypeLatest
	default:
		in.ShardIteratorType = streamtypes.ShardIteratorTypeTrimHorizon
	}
	out, err := r.client.GetShardIterator(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("get shard iterator %s: %w", shardID, err)
	}
	return out.ShardIterator, nil
}

// pollShard reads shardID from its checkpoint until the shard is closed or
// ctx ends. A batch that fails to settle is re-read from the checkpoint.
func (r *StreamReader) pollShard(ctx context.Context, shardID string) {
	log := r.log.With("shard", shardID)

	var it *string
	var checkpoint string
	resume := func() bool {
		for ctx.Err() == nil {
			var err error
			checkpoint, err = r.checkpoints.Get(ctx, shardID)
			if err == nil {
				it, err = r.iterator(ctx, shardID, checkpoint)
			}
			if err == nil {
				return true
			}
			log.Error("resume shard", "err", err)
			sleep(ctx, r.cfg.PollInterval)
		}
		return false
	}
	if !resume() {
		return
	}

	for it != nil && ctx.Err() == nil {
		out, err := r.client.GetRecords(ctx, &dynamodbstreams.GetRecordsInput{
			ShardIterator: it,
			Limit:         aws.Int32(int32(r.cfg.BatchSize)),
		})
		if err != nil {
			var expired *streamtypes.ExpiredIteratorException
			if !errors.As(err, &expired) {
				log.Error("get records", "err", err)
				sleep(ctx, r.cfg.PollInterval)
			}
			if !resume() {
				return
			}
			continue
		}

		if len(out.Records) == 0 {
			it = out.NextShardIterator
			sleep(ctx, r.cfg.PollInterval)
			continue
		}

		batch := make([]domain.ChangeRecord, 0, len(out.Records))
		for _, rec := range out.Records {
			if cr, ok := toChangeRecord(rec); ok {
				batch = append(batch, cr)
			}
		}
		if len(batch) > 0 {
			if err := r.process(ctx, batch); err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Error("batch not settled, re-reading from checkpoint", "err", err)
				sleep(ctx, r.cfg.PollInterval)
				if !resume() {
					return
				}
				continue
			}
		}

		last := lastSequence(out.Records)
		if err := r.checkpoints.Save(ctx, r.streamARN, shardID, last); err != nil {
			log.Error("save checkpoint", "sequence", last, "err", err)
		} else {
			checkpoint = last
		}
		it = out.NextShardIterator
	}
	if it == nil {
		log.Info("shard closed", "checkpoint", checkpoint)
	}
}

// toChangeRecord converts a stream record. Removals carry no new image and are
// skipped. A record whose images cannot be decoded is returned with DecodeErr set.
func toChangeRecord(rec streamtypes.Record) (domain.ChangeRecord, bool) {
	if rec.Dynamodb == nil || rec.EventName == streamtypes.OperationTypeRemove {
		return domain.ChangeRecord{}, false
	}
	cr := domain.ChangeRecord{Sequence: aws.ToString(rec.Dynamodb.SequenceNumber)}
	if k, ok := rec.Dynamodb.Keys["key"].(*streamtypes.AttributeValueMemberS); ok {
		cr.Key = k.Value
	}

	next, err := decodeImage(rec.Dynamodb.NewImage)
	if err != nil {
		cr.DecodeErr = fmt.Errorf("new image: %w", err)
		return cr, true
	}
	cr.New = *next
	if rec.EventName == streamtypes.OperationTypeModify {
		prior, err := decodeImage(rec.Dynamodb.OldImage)
		if err != nil {
			cr.DecodeErr = fmt.Errorf("old image: %w", err)
			return cr, true
		}
		cr.Prior = prior
	}
	if cr.Key == "" {
		cr.Key = cr.New.Key
	}
	return cr, true
}

func decodeImage(img map[string]streamtypes.AttributeValue) (*domain.ConfirmationRequest, error) {
	if len(img) == 0 {
		return nil, errors.New("image missing")
	}
	item, err := attributevalue.FromDynamoDBStreamsMap(img)
	if err != nil {
		return nil, err
	}
	var c domain.ConfirmationRequest
	if err := attributevalue.UnmarshalMap(item, &c); err != nil {
		return nil, err
	}
	if c.Key == "" {
		return nil, errors.New("image has no key")
	}
	return &c, nil
}

func lastSequence(records []streamtypes.Record) string {
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].Dynamodb != nil && records[i].Dynamodb.SequenceNumber != nil {
			return *records[i].Dynamodb.SequenceNumber
		}
	}
	return ""
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
