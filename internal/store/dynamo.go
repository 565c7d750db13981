package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// DynamoDB key constants for the single-table design. Every record of a
// user shares the partition USER#{id}; sort keys carry a zero-padded
// millisecond timestamp so a prefix query returns records in time order.
const (
	pkPrefix   = "USER#"
	skProfile  = "PROFILE"
	skGen      = "GEN#"
	skRecharge = "RECHARGE#"
	skHistory  = "HISTORY#"

	// maxBatchWrite is the DynamoDB BatchWriteItem limit per call.
	maxBatchWrite = 25
)

// dynamoAPI is the subset of the DynamoDB client used by DynamoStore.
type dynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, opts ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// DynamoStore implements Store using AWS DynamoDB. History image bytes
// are written to the ImageSink and only the object key is stored.
type DynamoStore struct {
	client    dynamoAPI
	tableName string
	images    ImageSink
}

// Compile-time interface checks.
var (
	_ Store     = (*DynamoStore)(nil)
	_ dynamoAPI = (*dynamodb.Client)(nil)
)

// NewDynamoStore creates a DynamoStore for the given table. images may be
// nil, in which case history entries are stored without their image.
func NewDynamoStore(client *dynamodb.Client, tableName string, images ImageSink) *DynamoStore {
	return &DynamoStore{client: client, tableName: tableName, images: images}
}

// --- Internal helpers ---

func userPK(userID string) string {
	return pkPrefix + userID
}

// timedSK builds a sort key that orders by timestamp, then id.
func timedSK(prefix string, ts int64, id string) string {
	return fmt.Sprintf("%s%013d#%s", prefix, ts, id)
}

func keyOf(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

// putItem marshals a domain object and writes it with PK and SK.
func (s *DynamoStore) putItem(ctx context.Context, pk, sk string, data any, condition *string) error {
	item, err := attributevalue.MarshalMap(data)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	item["PK"] = &types.AttributeValueMemberS{Value: pk}
	item["SK"] = &types.AttributeValueMemberS{Value: sk}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: condition,
	})
	if err != nil {
		return fmt.Errorf("PutItem PK=%s SK=%s: %w", pk, sk, err)
	}
	return nil
}

// getItem reads a single item and unmarshals it into out.
// Returns false if the item does not exist (out is not modified).
func (s *DynamoStore) getItem(ctx context.Context, pk, sk string, out any) (bool, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &s.tableName,
		Key:            keyOf(pk, sk),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return false, fmt.Errorf("GetItem PK=%s SK=%s: %w", pk, sk, err)
	}
	if result.Item == nil {
		return false, nil
	}
	if err := attributevalue.UnmarshalMap(result.Item, out); err != nil {
		return false, fmt.Errorf("unmarshal PK=%s SK=%s: %w", pk, sk, err)
	}
	return true, nil
}

// queryBySKPrefix returns every item in a user's partition whose SK begins
// with skPrefix, oldest first.
func (s *DynamoStore) queryBySKPrefix(ctx context.Context, userID, skPrefix string) ([]map[string]types.AttributeValue, error) {
	pk := userPK(userID)
	input := &dynamodb.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :skPrefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":       &types.AttributeValueMemberS{Value: pk},
			":skPrefix": &types.AttributeValueMemberS{Value: skPrefix},
		},
	}

	var all []map[string]types.AttributeValue
	for {
		result, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("Query PK=%s SK prefix=%s: %w", pk, skPrefix, err)
		}
		all = append(all, result.Items...)
		if result.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
	return all, nil
}

// scanBySKPrefix returns matching items across all users. Used only by
// admin listings.
func (s *DynamoStore) scanBySKPrefix(ctx context.Context, skPrefix string) ([]map[string]types.AttributeValue, error) {
	input := &dynamodb.ScanInput{
		TableName:        &s.tableName,
		FilterExpression: aws.String("begins_with(SK, :skPrefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":skPrefix": &types.AttributeValueMemberS{Value: skPrefix},
		},
	}

	var all []map[string]types.AttributeValue
	for {
		result, err := s.client.Scan(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("Scan SK prefix=%s: %w", skPrefix, err)
		}
		all = append(all, result.Items...)
		if result.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
	return all, nil
}

func (s *DynamoStore) listPrefix(ctx context.Context, userID, skPrefix string) ([]map[string]types.AttributeValue, error) {
	if userID == "" {
		return s.scanBySKPrefix(ctx, skPrefix)
	}
	return s.queryBySKPrefix(ctx, userID, skPrefix)
}

// batchDeleteKeys deletes items by key in chunks of maxBatchWrite.
func (s *DynamoStore) batchDeleteKeys(ctx context.Context, keys []map[string]types.AttributeValue) error {
	for i := 0; i < len(keys); i += maxBatchWrite {
		end := min(i+maxBatchWrite, len(keys))

		requests := make([]types.WriteRequest, 0, end-i)
		for _, key := range keys[i:end] {
			requests = append(requests, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{Key: key},
			})
		}

		_, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{s.tableName: requests},
		})
		if err != nil {
			return fmt.Errorf("BatchWriteItem delete (%d items): %w", len(requests), err)
		}
	}
	return nil
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

// --- Users and balances ---

func (s *DynamoStore) GetUser(ctx context.Context, userID string) (*User, error) {
	var u User
	found, err := s.getItem(ctx, userPK(userID), skProfile, &u)
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", userID, err)
	}
	if !found {
		return nil, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	u.ID = userID
	return &u, nil
}

func (s *DynamoStore) EnsureUser(ctx context.Context, u User) (*User, error) {
	if u.CreatedAt == 0 {
		u.CreatedAt = time.Now().UnixMilli()
	}
	err := s.putItem(ctx, userPK(u.ID), skProfile, u, aws.String("attribute_not_exists(PK)"))
	switch {
	case err == nil:
		log.Info().Str("user_id", u.ID).Str("role", string(u.Role)).Int("credits", u.Credits).Msg("User created")
		return &u, nil
	case isConditionFailed(err):
		return s.GetUser(ctx, u.ID)
	default:
		return nil, fmt.Errorf("ensure user %s: %w", u.ID, err)
	}
}

func (s *DynamoStore) ListUsers(ctx context.Context) ([]User, error) {
	items, err := s.scanBySKPrefix(ctx, skProfile)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	users := make([]User, 0, len(items))
	for _, item := range items {
		var u User
		if err := attributevalue.UnmarshalMap(item, &u); err != nil {
			return nil, fmt.Errorf("unmarshal user: %w", err)
		}
		if pk, ok := item["PK"].(*types.AttributeValueMemberS); ok {
			u.ID = pk.Value[len(pkPrefix):]
		}
		users = append(users, u)
	}
	sortUsers(users)
	return users, nil
}

func (s *DynamoStore) GetBalance(ctx context.Context, userID string) (int, error) {
	u, err := s.GetUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	return u.Credits, nil
}

// setCredits writes an absolute balance and returns the previous one.
func (s *DynamoStore) setCredits(ctx context.Context, userID string, balance int) (int, error) {
	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 keyOf(userPK(userID), skProfile),
		UpdateExpression:    aws.String("SET credits = :c"),
		ConditionExpression: aws.String("attribute_exists(PK)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":c": &types.AttributeValueMemberN{Value: strconv.Itoa(balance)},
		},
		ReturnValues: types.ReturnValueUpdatedOld,
	})
	if err != nil {
		if isConditionFailed(err) {
			return 0, fmt.Errorf("user %s: %w", userID, ErrNotFound)
		}
		return 0, fmt.Errorf("update credits %s: %w", userID, err)
	}
	var old struct {
		Credits int `dynamodbav:"credits"`
	}
	if err := attributevalue.UnmarshalMap(out.Attributes, &old); err != nil {
		return 0, fmt.Errorf("unmarshal previous credits: %w", err)
	}
	return old.Credits, nil
}

func (s *DynamoStore) SetBalance(ctx context.Context, userID string, balance int) error {
	prev, err := s.setCredits(ctx, userID, balance)
	if err != nil {
		return err
	}
	log.Debug().Str("user_id", userID).Int("previous", prev).Int("balance", balance).Msg("Balance written")
	return nil
}

func (s *DynamoStore) SetBalanceIf(ctx context.Context, userID string, prev, next int) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 keyOf(userPK(userID), skProfile),
		UpdateExpression:    aws.String("SET credits = :c"),
		ConditionExpression: aws.String("attribute_exists(PK) AND credits = :prev"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":c":    &types.AttributeValueMemberN{Value: strconv.Itoa(next)},
			":prev": &types.AttributeValueMemberN{Value: strconv.Itoa(prev)},
		},
	})
	switch {
	case err == nil:
		log.Debug().Str("user_id", userID).Int("previous", prev).Int("balance", next).Msg("Balance written")
		return nil
	case isConditionFailed(err):
		// Missing user and stale balance share one condition.
		if _, gerr := s.GetUser(ctx, userID); gerr != nil {
			return gerr
		}
		return fmt.Errorf("user %s expected %d: %w", userID, prev, ErrBalanceChanged)
	default:
		return fmt.Errorf("update credits %s: %w", userID, err)
	}
}

func (s *DynamoStore) SetCredits(ctx context.Context, userID string, credits int, admin User) (*RechargeLog, error) {
	if !admin.IsAdmin() {
		return nil, fmt.Errorf("set credits by %s: %w", admin.ID, ErrForbidden)
	}
	u, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	prev, err := s.setCredits(ctx, userID, credits)
	if err != nil {
		return nil, err
	}
	u.Credits = prev
	rl := newRecharge(uuid.NewString(), *u, credits, admin)
	if err := s.putItem(ctx, userPK(userID), timedSK(skRecharge, rl.Timestamp, rl.ID), rl, nil); err != nil {
		return nil, fmt.Errorf("put recharge log %s: %w", userID, err)
	}
	return &rl, nil
}

// --- Logs ---

func (s *DynamoStore) AppendGeneration(ctx context.Context, entry GenerationLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp == 0 {
		entry.Timestamp = time.Now().UnixMilli()
	}
	if err := s.putItem(ctx, userPK(entry.UserID), timedSK(skGen, entry.Timestamp, entry.ID), entry, nil); err != nil {
		return fmt.Errorf("put generation log %s: %w", entry.UserID, err)
	}
	return nil
}

func (s *DynamoStore) ListGenerations(ctx context.Context, userID string) ([]GenerationLog, error) {
	items, err := s.listPrefix(ctx, userID, skGen)
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}
	var logs []GenerationLog
	if err := attributevalue.UnmarshalListOfMaps(items, &logs); err != nil {
		return nil, fmt.Errorf("unmarshal generations: %w", err)
	}
	sortGenerations(logs)
	return logs, nil
}

func (s *DynamoStore) ListRecharges(ctx context.Context, userID string) ([]RechargeLog, error) {
	items, err := s.listPrefix(ctx, userID, skRecharge)
	if err != nil {
		return nil, fmt.Errorf("list recharges: %w", err)
	}
	var logs []RechargeLog
	if err := attributevalue.UnmarshalListOfMaps(items, &logs); err != nil {
		return nil, fmt.Errorf("unmarshal recharges: %w", err)
	}
	sortRecharges(logs)
	return logs, nil
}

// --- History ---

func (s *DynamoStore) AppendHistory(ctx context.Context, entry *HistoryEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp == 0 {
		entry.Timestamp = time.Now().UnixMilli()
	}
	if len(entry.Image) > 0 && s.images != nil {
		key := historyKey(entry.UserID, entry.ID, entry.MIMEType)
		if err := s.images.PutImage(ctx, key, entry.Image, entry.MIMEType); err != nil {
			return fmt.Errorf("store history image %s: %w", entry.ID, err)
		}
		entry.ImageKey = key
	}

	pk := userPK(entry.UserID)
	if err := s.putItem(ctx, pk, timedSK(skHistory, entry.Timestamp, entry.ID), entry, nil); err != nil {
		return fmt.Errorf("put history %s: %w", entry.ID, err)
	}

	items, err := s.queryBySKPrefix(ctx, entry.UserID, skHistory)
	if err != nil {
		return fmt.Errorf("trim history %s: %w", entry.UserID, err)
	}
	if len(items) <= HistoryLimit {
		return nil
	}

	// Items are oldest first; everything before the newest HistoryLimit goes.
	excess := items[:len(items)-HistoryLimit]
	keys := make([]map[string]types.AttributeValue, 0, len(excess))
	for _, item := range excess {
		keys = append(keys, map[string]types.AttributeValue{"PK": item["PK"], "SK": item["SK"]})
		if k, ok := item["imageKey"].(*types.AttributeValueMemberS); ok {
			s.deleteImage(ctx, k.Value)
		}
	}
	if err := s.batchDeleteKeys(ctx, keys); err != nil {
		return fmt.Errorf("trim history %s: %w", entry.UserID, err)
	}
	log.Debug().Str("user_id", entry.UserID).Int("evicted", len(keys)).Msg("History trimmed")
	return nil
}

func (s *DynamoStore) deleteImage(ctx context.Context, key string) {
	d, ok := s.images.(interface {
		DeleteImage(ctx context.Context, key string) error
	})
	if !ok {
		return
	}
	if err := d.DeleteImage(ctx, key); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to delete history image")
	}
}

func (s *DynamoStore) ListHistory(ctx context.Context, userID string) ([]HistoryEntry, error) {
	items, err := s.listPrefix(ctx, userID, skHistory)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	var entries []HistoryEntry
	if err := attributevalue.UnmarshalListOfMaps(items, &entries); err != nil {
		return nil, fmt.Errorf("unmarshal history: %w", err)
	}
	sortHistory(entries)
	return entries, nil
}

func (s *DynamoStore) DeleteHistory(ctx context.Context, historyID string, requester User) error {
	owner := requester.ID
	if requester.IsAdmin() {
		owner = ""
	}
	items, err := s.listPrefix(ctx, owner, skHistory)
	if err != nil {
		return fmt.Errorf("delete history %s: %w", historyID, err)
	}
	for _, item := range items {
		var h HistoryEntry
		if err := attributevalue.UnmarshalMap(item, &h); err != nil {
			continue
		}
		if h.ID != historyID {
			continue
		}
		pk := item["PK"].(*types.AttributeValueMemberS).Value
		sk := item["SK"].(*types.AttributeValueMemberS).Value
		if _, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: &s.tableName,
			Key:       keyOf(pk, sk),
		}); err != nil {
			return fmt.Errorf("DeleteItem PK=%s SK=%s: %w", pk, sk, err)
		}
		if h.ImageKey != "" {
			s.deleteImage(ctx, h.ImageKey)
		}
		return nil
	}
	return fmt.Errorf("history %s: %w", historyID, ErrNotFound)
}
