package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/email-confirmation-service/internal/domain"
	"github.com/juju/clock"
)

// ConfirmationRepo stores confirmation requests. Every successful write is
// published on the table's stream with old and new images.
type ConfirmationRepo struct {
	client    *dynamodb.Client
	tableName string
	clock     clock.Clock
}

func NewConfirmationRepo(client *dynamodb.Client, tableName string, clk clock.Clock) *ConfirmationRepo {
	if clk == nil {
		clk = clock.WallClock
	}
	return &ConfirmationRepo{client: client, tableName: tableName, clock: clk}
}

func (r *ConfirmationRepo) now() time.Time {
	return r.clock.Now().UTC().Truncate(time.Second)
}

func (r *ConfirmationRepo) Create(ctx context.Context, key string, n domain.NewConfirmation) (*domain.ConfirmationRequest, error) {
	c := n.Build(key, r.now())
	item, err := attributevalue.MarshalMap(c)
	if err != nil {
		return nil, fmt.Errorf("marshal confirmation: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(r.tableName),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_not_exists(#k)"),
		ExpressionAttributeNames: map[string]string{"#k": "key"},
	})
	if err != nil {
		if isConditionFailed(err) {
			return nil, fmt.Errorf("create %s: %w", key, domain.ErrDuplicateKey)
		}
		return nil, fmt.Errorf("put confirmation %s: %w", key, err)
	}
	return &c, nil
}

func (r *ConfirmationRepo) Get(ctx context.Context, key string) (*domain.ConfirmationRequest, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            strKey("key", key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get confirmation %s: %w", key, err)
	}
	if out.Item == nil {
		return nil, fmt.Errorf("confirmation %s: %w", key, domain.ErrNotFound)
	}
	var c domain.ConfirmationRequest
	if err := attributevalue.UnmarshalMap(out.Item, &c); err != nil {
		return nil, fmt.Errorf("unmarshal confirmation: %w", err)
	}
	return &c, nil
}

// Transition moves key to state to if its stored version is expectedVersion.
// The read-then-write is guarded by a conditional update on the version, so
// of two concurrent callers at most one succeeds.
func (r *ConfirmationRepo) Transition(ctx context.Context, key string, expectedVersion int64, to domain.State) (*domain.ConfirmationRequest, error) {
	cur, err := r.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if cur.Version != expectedVersion {
		return nil, fmt.Errorf("confirmation %s at version %d, expected %d: %w", key, cur.Version, expectedVersion, domain.ErrVersionConflict)
	}
	next, err := cur.Apply(to, r.now())
	if err != nil {
		return nil, fmt.Errorf("confirmation %s: %w", key, err)
	}

	updates := map[string]interface{}{
		"state":      string(next.State),
		"version":    next.Version,
		"updated_at": next.UpdatedAt.Unix(),
	}
	if next.ConfirmedAt != nil {
		updates["confirmed_at"] = next.ConfirmedAt.Unix()
	}
	ue, err := buildUpdateExpr(updates)
	if err != nil {
		return nil, err
	}
	ue.Names["#expected"] = "version"
	ue.Values[":expected"], err = attributevalue.Marshal(expectedVersion)
	if err != nil {
		return nil, fmt.Errorf("marshal version: %w", err)
	}

	out, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       strKey("key", key),
		UpdateExpression:          aws.String(ue.Expr),
		ConditionExpression:       aws.String("#expected = :expected"),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		if isConditionFailed(err) {
			return nil, fmt.Errorf("confirmation %s changed concurrently: %w", key, domain.ErrVersionConflict)
		}
		return nil, fmt.Errorf("update confirmation %s: %w", key, err)
	}
	var updated domain.ConfirmationRequest
	if err := attributevalue.UnmarshalMap(out.Attributes, &updated); err != nil {
		return nil, fmt.Errorf("unmarshal confirmation: %w", err)
	}
	return &updated, nil
}

// ListExpirable scans for Created or EmailSent records with expires_at before
// now. Results are ordered by expiry and capped at limit.
func (r *ConfirmationRepo) ListExpirable(ctx context.Context, now time.Time, limit int) ([]domain.ConfirmationRequest, error) {
	created, _ := attributevalue.Marshal(string(domain.StateCreated))
	sent, _ := attributevalue.Marshal(string(domain.StateEmailSent))
	cutoff, _ := attributevalue.Marshal(now.Unix())

	p := dynamodb.NewScanPaginator(r.client, &dynamodb.ScanInput{
		TableName:        aws.String(r.tableName),
		FilterExpression: aws.String("#s IN (:created, :sent) AND #e < :now"),
		ExpressionAttributeNames: map[string]string{
			"#s": "state",
			"#e": "expires_at",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":created": created,
			":sent":    sent,
			":now":     cutoff,
		},
	})

	var out []domain.ConfirmationRequest
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan expirable: %w", err)
		}
		var batch []domain.ConfirmationRequest
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("unmarshal confirmations: %w", err)
		}
		out = append(out, batch...)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Ping checks that the table is reachable.
func (r *ConfirmationRepo) Ping(ctx context.Context) error {
	_, err := r.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(r.tableName)})
	if err != nil {
		return fmt.Errorf("describe table %s: %w", r.tableName, err)
	}
	return nil
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}
