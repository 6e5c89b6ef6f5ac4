package dynamo

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	streamtypes "github.com/aws/aws-sdk-go-v2/service/dynamodbstreams/types"
	"github.com/email-confirmation-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func image(state string, version string) map[string]streamtypes.AttributeValue {
	return map[string]streamtypes.AttributeValue{
		"key":             &streamtypes.AttributeValueMemberS{Value: "k1"},
		"email":           &streamtypes.AttributeValueMemberS{Value: "a@example.com"},
		"state":           &streamtypes.AttributeValueMemberS{Value: state},
		"callback_target": &streamtypes.AttributeValueMemberS{Value: "https://cb.example/hook"},
		"created_at":      &streamtypes.AttributeValueMemberN{Value: "1767225600"},
		"expires_at":      &streamtypes.AttributeValueMemberN{Value: "1767229200"},
		"updated_at":      &streamtypes.AttributeValueMemberN{Value: "1767225600"},
		"version":         &streamtypes.AttributeValueMemberN{Value: version},
	}
}

func keys() map[string]streamtypes.AttributeValue {
	return map[string]streamtypes.AttributeValue{"key": &streamtypes.AttributeValueMemberS{Value: "k1"}}
}

func TestToChangeRecord_Insert(t *testing.T) {
	cr, ok := toChangeRecord(streamtypes.Record{
		EventName: streamtypes.OperationTypeInsert,
		Dynamodb: &streamtypes.StreamRecord{
			Keys:           keys(),
			NewImage:       image("Created", "1"),
			SequenceNumber: aws.String("100"),
		},
	})
	require.True(t, ok)
	require.NoError(t, cr.DecodeErr)
	assert.Equal(t, domain.ChangeCreated, cr.Kind())
	assert.Equal(t, "k1", cr.Key)
	assert.Equal(t, "100", cr.Sequence)
	assert.Equal(t, domain.StateCreated, cr.New.State)
	assert.Equal(t, int64(1767229200), cr.New.ExpiresAt.Unix())
}

func TestToChangeRecord_Modify(t *testing.T) {
	cr, ok := toChangeRecord(streamtypes.Record{
		EventName: streamtypes.OperationTypeModify,
		Dynamodb: &streamtypes.StreamRecord{
			Keys:           keys(),
			OldImage:       image("EmailSent", "2"),
			NewImage:       image("Confirmed", "3"),
			SequenceNumber: aws.String("200"),
		},
	})
	require.True(t, ok)
	require.NoError(t, cr.DecodeErr)
	assert.Equal(t, domain.ChangeUpdated, cr.Kind())
	assert.True(t, cr.StateChanged())
	assert.Equal(t, int64(2), cr.Prior.Version)
	assert.Equal(t, int64(3), cr.New.Version)
}

func TestToChangeRecord_RemoveSkipped(t *testing.T) {
	_, ok := toChangeRecord(streamtypes.Record{
		EventName: streamtypes.OperationTypeRemove,
		Dynamodb:  &streamtypes.StreamRecord{Keys: keys(), SequenceNumber: aws.String("300")},
	})
	assert.False(t, ok)
}

func TestToChangeRecord_UndecodableImageFlagged(t *testing.T) {
	bad := image("Created", "1")
	bad["version"] = &streamtypes.AttributeValueMemberS{Value: "not-a-number"}

	cr, ok := toChangeRecord(streamtypes.Record{
		EventName: streamtypes.OperationTypeInsert,
		Dynamodb: &streamtypes.StreamRecord{
			Keys:           keys(),
			NewImage:       bad,
			SequenceNumber: aws.String("400"),
		},
	})
	require.True(t, ok)
	assert.Error(t, cr.DecodeErr)
	assert.Equal(t, "k1", cr.Key)
	assert.Equal(t, "400", cr.Sequence)
}

func TestLastSequence(t *testing.T) {
	recs := []streamtypes.Record{
		{Dynamodb: &streamtypes.StreamRecord{SequenceNumber: aws.String("1")}},
		{Dynamodb: &streamtypes.StreamRecord{SequenceNumber: aws.String("2")}},
		{},
	}
	assert.Equal(t, "2", lastSequence(recs))
}
