package session

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// dynamoAPI is the subset of *dynamodb.Client used by DynamoStore.
type dynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

var _ dynamoAPI = (*dynamodb.Client)(nil)

// dynamoItem is the table layout. expiresAt is the table's TTL attribute.
type dynamoItem struct {
	PK        string `dynamodbav:"PK"`
	Record    string `dynamodbav:"record"`
	ExpiresAt int64  `dynamodbav:"expiresAt"`
	UpdatedAt int64  `dynamodbav:"updatedAt"`
}

// DynamoStore keeps records in a DynamoDB table keyed by PK.
type DynamoStore struct {
	client    dynamoAPI
	tableName string
	opts      Options
}

var _ Store = (*DynamoStore)(nil)

// NewDynamoStore creates a store for the given table.
func NewDynamoStore(client *dynamodb.Client, tableName string, opts Options) *DynamoStore {
	return newDynamoStore(client, tableName, opts)
}

func newDynamoStore(client dynamoAPI, tableName string, opts Options) *DynamoStore {
	return &DynamoStore{client: client, tableName: tableName, opts: opts.withDefaults()}
}

// Load reads the item for userID. DynamoDB deletes expired items lazily, so
// expiresAt is checked here as well.
func (s *DynamoStore) Load(ctx context.Context, userID string) (Record, error) {
	pk := s.opts.Key(userID)
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &s.tableName,
		Key:            map[string]types.AttributeValue{"PK": &types.AttributeValueMemberS{Value: pk}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return Record{}, fmt.Errorf("session: GetItem PK=%s: %w", pk, err)
	}
	if out == nil || out.Item == nil {
		return Fresh(""), nil
	}
	var item dynamoItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return Record{}, fmt.Errorf("%w: unmarshal PK=%s: %v", ErrDecode, pk, err)
	}
	if item.ExpiresAt <= s.opts.Now().Unix() {
		return Fresh(""), nil
	}
	return s.opts.load(ctx, "dynamodb", userID, []byte(item.Record))
}

// Save writes the full item, replacing any previous one.
func (s *DynamoStore) Save(ctx context.Context, userID string, rec Record, ttl time.Duration) error {
	data, err := Encode(rec)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = s.opts.MaxAge
	}
	now := s.opts.Now()
	item, err := attributevalue.MarshalMap(dynamoItem{
		PK:        s.opts.Key(userID),
		Record:    string(data),
		ExpiresAt: now.Add(ttl).Unix(),
		UpdatedAt: now.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("session: marshal: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	}); err != nil {
		return fmt.Errorf("session: PutItem PK=%s: %w", s.opts.Key(userID), err)
	}
	return nil
}
