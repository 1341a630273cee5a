package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"codetapasya-backend/internal/domain"
)

const (
	skPrefixMsg = "MSG#"
	skMeta      = "META#"
	ttlDuration = 30 * 24 * time.Hour // 30-day TTL

	// Fixed width so lexical SK order matches time order.
	sortKeyLayout = "2006-01-02T15:04:05.000000000Z"
)

// DefaultMaxTurns is the per-conversation retention cap.
const DefaultMaxTurns = 50

// dynamodbAPI is the minimal DynamoDB interface required by DynamoTurnStore.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// DynamoTurnStore keeps conversation turns in a single table. Each
// (subject, conversation) pair owns one partition holding its MSG# turns and
// a META# record with the current turn count.
type DynamoTurnStore struct {
	api       dynamodbAPI
	tableName string
	maxTurns  int
	now       func() time.Time
}

func NewDynamoTurnStore(api dynamodbAPI, tableName string, maxTurns int) (*DynamoTurnStore, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &DynamoTurnStore{api: api, tableName: tableName, maxTurns: maxTurns, now: time.Now}, nil
}

func convPK(subjectID, conversationID string) string {
	return "USER#" + subjectID + "#CONV#" + conversationID
}

func msgSK(ts time.Time, nonce string) string {
	return skPrefixMsg + ts.UTC().Format(sortKeyLayout) + "#" + nonce
}

func (c *DynamoTurnStore) ttlValue() int64 {
	return c.now().Add(ttlDuration).Unix()
}

// QueryRecent returns up to limit of the newest turns, oldest first.
func (c *DynamoTurnStore) QueryRecent(ctx context.Context, subjectID, conversationID string, limit int) ([]domain.ConversationTurn, error) {
	if limit <= 0 || limit > c.maxTurns {
		limit = c.maxTurns
	}
	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: convPK(subjectID, conversationID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixMsg},
		},
		// Newest first so LIMIT keeps the most recent turns.
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: QueryRecent query: %w", err)
	}

	turns := make([]domain.ConversationTurn, 0, len(out.Items))
	for _, item := range out.Items {
		turn, err := itemToTurn(item)
		if err != nil {
			return nil, fmt.Errorf("repository: QueryRecent unmarshal: %w", err)
		}
		turns = append(turns, turn)
	}
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// Count returns the number of unexpired turns in a conversation.
func (c *DynamoTurnStore) Count(ctx context.Context, subjectID, conversationID string) (int, error) {
	n, err := c.liveCount(ctx, convPK(subjectID, conversationID))
	if err != nil {
		return 0, fmt.Errorf("repository: Count: %w", err)
	}
	return n, nil
}

// storedCount reads the META# counter that guards concurrent appends.
func (c *DynamoTurnStore) storedCount(ctx context.Context, pk string) (int, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pk},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return 0, fmt.Errorf("meta get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return 0, nil
	}
	turns, err := intAttr(out.Item, "turns")
	if err != nil {
		return 0, fmt.Errorf("meta decode turns: %w", err)
	}
	return turns, nil
}

// liveCount counts MSG# items whose TTL has not passed. DynamoDB removes
// expired items lazily, so the filter hides the ones still on disk.
func (c *DynamoTurnStore) liveCount(ctx context.Context, pk string) (int, error) {
	in := c.msgQuery(pk)
	in.Select = types.SelectCount
	in.ConsistentRead = aws.Bool(true)

	total := 0
	for {
		out, err := c.api.Query(ctx, in)
		if err != nil {
			return 0, fmt.Errorf("live count query: %w", err)
		}
		total += int(out.Count)
		if len(out.LastEvaluatedKey) == 0 {
			return total, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// msgQuery selects the unexpired MSG# items of one partition.
func (c *DynamoTurnStore) msgQuery(pk string) *dynamodb.QueryInput {
	return &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		FilterExpression:       aws.String("#ttl > :now"),
		ExpressionAttributeNames: map[string]string{
			"#ttl": "ttl",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: pk},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixMsg},
			":now":    &types.AttributeValueMemberN{Value: strconv.FormatInt(c.now().Unix(), 10)},
		},
	}
}

// Append writes turn. When the conversation already holds maxTurns live
// turns the oldest one is deleted in the same transaction. The META# update
// is conditioned on the counter read beforehand, so a concurrent writer
// makes this call fail instead of overshooting the cap. Once the counter
// reaches the cap it is recomputed from the live turns, since turns that
// expire through TTL never decrement it.
func (c *DynamoTurnStore) Append(ctx context.Context, turn domain.ConversationTurn) error {
	if turn.SubjectID == "" || turn.ConversationID == "" {
		return errors.New("repository: Append: subject and conversation are required")
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = c.now()
	}

	pk := convPK(turn.SubjectID, turn.ConversationID)
	stored, err := c.storedCount(ctx, pk)
	if err != nil {
		return fmt.Errorf("repository: Append: %w", err)
	}
	count := stored
	if stored >= c.maxTurns {
		if count, err = c.liveCount(ctx, pk); err != nil {
			return fmt.Errorf("repository: Append: %w", err)
		}
	}

	items := make([]types.TransactWriteItem, 0, 3)
	next := count + 1
	if count >= c.maxTurns {
		oldestSK, err := c.oldestSK(ctx, pk)
		if err != nil {
			return fmt.Errorf("repository: Append: %w", err)
		}
		if oldestSK != "" {
			items = append(items, types.TransactWriteItem{
				Delete: &types.Delete{
					TableName: aws.String(c.tableName),
					Key: map[string]types.AttributeValue{
						"PK": &types.AttributeValueMemberS{Value: pk},
						"SK": &types.AttributeValueMemberS{Value: oldestSK},
					},
					ConditionExpression: aws.String("attribute_exists(SK)"),
				},
			})
			next = count
		}
	}

	items = append(items,
		types.TransactWriteItem{
			Put: &types.Put{
				TableName:           aws.String(c.tableName),
				Item:                c.turnItem(turn),
				ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
			},
		},
		types.TransactWriteItem{
			Put: &types.Put{
				TableName:           aws.String(c.tableName),
				Item:                c.metaItem(turn, next),
				ConditionExpression: aws.String("attribute_not_exists(PK) OR turns = :prev"),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":prev": &types.AttributeValueMemberN{Value: strconv.Itoa(stored)},
				},
			},
		},
	)

	if _, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items}); err != nil {
		return fmt.Errorf("repository: Append: %w", err)
	}
	return nil
}

func (c *DynamoTurnStore) oldestSK(ctx context.Context, pk string) (string, error) {
	in := c.msgQuery(pk)
	in.ScanIndexForward = aws.Bool(true)
	in.Limit = aws.Int32(1)
	in.ExpressionAttributeNames["#sk"] = "SK"
	in.ProjectionExpression = aws.String("#sk")

	// Limit applies before the filter, so a page may come back empty while
	// expired items remain ahead of the oldest live one.
	for {
		out, err := c.api.Query(ctx, in)
		if err != nil {
			return "", fmt.Errorf("oldest turn query: %w", err)
		}
		if len(out.Items) > 0 {
			return strAttr(out.Items[0], "SK")
		}
		if len(out.LastEvaluatedKey) == 0 {
			return "", nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func (c *DynamoTurnStore) turnItem(turn domain.ConversationTurn) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: convPK(turn.SubjectID, turn.ConversationID)},
		"SK":             &types.AttributeValueMemberS{Value: msgSK(turn.Timestamp, newNonce())},
		"subjectId":      &types.AttributeValueMemberS{Value: turn.SubjectID},
		"conversationId": &types.AttributeValueMemberS{Value: turn.ConversationID},
		"role":           &types.AttributeValueMemberS{Value: string(turn.Role)},
		"content":        &types.AttributeValueMemberS{Value: turn.Content},
		"timestamp":      &types.AttributeValueMemberS{Value: turn.Timestamp.UTC().Format(time.RFC3339Nano)},
		"ttl":            &types.AttributeValueMemberN{Value: strconv.FormatInt(c.ttlValue(), 10)},
	}
	if len(turn.Metadata) > 0 {
		meta := make(map[string]types.AttributeValue, len(turn.Metadata))
		for k, v := range turn.Metadata {
			meta[k] = &types.AttributeValueMemberS{Value: v}
		}
		item["metadata"] = &types.AttributeValueMemberM{Value: meta}
	}
	return item
}

func (c *DynamoTurnStore) metaItem(turn domain.ConversationTurn, turns int) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: convPK(turn.SubjectID, turn.ConversationID)},
		"SK":             &types.AttributeValueMemberS{Value: skMeta},
		"subjectId":      &types.AttributeValueMemberS{Value: turn.SubjectID},
		"conversationId": &types.AttributeValueMemberS{Value: turn.ConversationID},
		"lastActivity":   &types.AttributeValueMemberS{Value: turn.Timestamp.UTC().Format(time.RFC3339)},
		"turns":          &types.AttributeValueMemberN{Value: strconv.Itoa(turns)},
		"ttl":            &types.AttributeValueMemberN{Value: strconv.FormatInt(c.ttlValue(), 10)},
	}
}

func itemToTurn(item map[string]types.AttributeValue) (domain.ConversationTurn, error) {
	subjectID, err := strAttr(item, "subjectId")
	if err != nil {
		return domain.ConversationTurn{}, err
	}
	conversationID, err := strAttr(item, "conversationId")
	if err != nil {
		return domain.ConversationTurn{}, err
	}
	role, err := strAttr(item, "role")
	if err != nil {
		return domain.ConversationTurn{}, err
	}
	content, err := strAttr(item, "content")
	if err != nil {
		return domain.ConversationTurn{}, err
	}
	rawTS, err := strAttr(item, "timestamp")
	if err != nil {
		return domain.ConversationTurn{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, rawTS)
	if err != nil {
		return domain.ConversationTurn{}, fmt.Errorf("repository: parse timestamp: %w", err)
	}

	turn := domain.ConversationTurn{
		SubjectID:      subjectID,
		ConversationID: conversationID,
		Role:           domain.Role(role),
		Content:        content,
		Timestamp:      ts,
	}
	if m, ok := item["metadata"].(*types.AttributeValueMemberM); ok {
		turn.Metadata = make(map[string]string, len(m.Value))
		for k, v := range m.Value {
			if s, ok := v.(*types.AttributeValueMemberS); ok {
				turn.Metadata[k] = s.Value
			}
		}
	}
	return turn, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

var newNonce = func() string {
	return uuid.NewString()[:8]
}
