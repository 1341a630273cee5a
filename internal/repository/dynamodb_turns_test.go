package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"codetapasya-backend/internal/domain"
)

// ----------------------------------------------------------------------------
// Recording fake: returns canned outputs and keeps the last inputs.
// ----------------------------------------------------------------------------

type fakeDynamo struct {
	getOut       *dynamodb.GetItemOutput
	getErr       error
	queryOut     *dynamodb.QueryOutput
	queryErr     error
	txErr        error
	lastGetInput *dynamodb.GetItemInput
	lastQueryIn  *dynamodb.QueryInput
	lastTxInput  *dynamodb.TransactWriteItemsInput
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.lastGetInput = in
	return f.getOut, f.getErr
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.lastQueryIn = in
	return f.queryOut, f.queryErr
}

func (f *fakeDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.lastTxInput = in
	return &dynamodb.TransactWriteItemsOutput{}, f.txErr
}

// ----------------------------------------------------------------------------
// In-memory table honoring the key, ordering and condition expressions used
// by DynamoTurnStore.
// ----------------------------------------------------------------------------

type memDynamo struct {
	mu    sync.Mutex
	items map[string]map[string]map[string]types.AttributeValue
}

func newMemDynamo() *memDynamo {
	return &memDynamo{items: map[string]map[string]map[string]types.AttributeValue{}}
}

func keyOf(item map[string]types.AttributeValue) (string, string) {
	return item["PK"].(*types.AttributeValueMemberS).Value, item["SK"].(*types.AttributeValueMemberS).Value
}

func (m *memDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pk, sk := keyOf(in.Key)
	return &dynamodb.GetItemOutput{Item: m.items[pk][sk]}, nil
}

func (m *memDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pk := in.ExpressionAttributeValues[":pk"].(*types.AttributeValueMemberS).Value
	prefix := in.ExpressionAttributeValues[":prefix"].(*types.AttributeValueMemberS).Value
	forward := aws.ToBool(in.ScanIndexForward)

	var start string
	if in.ExclusiveStartKey != nil {
		_, start = keyOf(in.ExclusiveStartKey)
	}
	var sks []string
	for sk := range m.items[pk] {
		if !strings.HasPrefix(sk, prefix) {
			continue
		}
		if start != "" && (forward && sk <= start || !forward && sk >= start) {
			continue
		}
		sks = append(sks, sk)
	}
	sort.Strings(sks)
	if !forward {
		sort.Sort(sort.Reverse(sort.StringSlice(sks)))
	}

	out := &dynamodb.QueryOutput{}
	if in.Limit != nil && int(*in.Limit) < len(sks) {
		sks = sks[:*in.Limit]
		last := m.items[pk][sks[len(sks)-1]]
		out.LastEvaluatedKey = map[string]types.AttributeValue{"PK": last["PK"], "SK": last["SK"]}
	}
	for _, sk := range sks {
		item := m.items[pk][sk]
		if !passesTTLFilter(in, item) {
			continue
		}
		out.Count++
		if in.Select != types.SelectCount {
			out.Items = append(out.Items, item)
		}
	}
	return out, nil
}

func passesTTLFilter(in *dynamodb.QueryInput, item map[string]types.AttributeValue) bool {
	if aws.ToString(in.FilterExpression) != "#ttl > :now" {
		return true
	}
	now, _ := strconv.ParseInt(in.ExpressionAttributeValues[":now"].(*types.AttributeValueMemberN).Value, 10, 64)
	ttl, _ := strconv.ParseInt(item["ttl"].(*types.AttributeValueMemberN).Value, 10, 64)
	return ttl > now
}

func (m *memDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ti := range in.TransactItems {
		switch {
		case ti.Put != nil:
			pk, sk := keyOf(ti.Put.Item)
			existing, exists := m.items[pk][sk]
			cond := aws.ToString(ti.Put.ConditionExpression)
			if cond == "attribute_not_exists(PK) AND attribute_not_exists(SK)" && exists {
				return nil, errors.New("ConditionalCheckFailed: item exists")
			}
			if strings.Contains(cond, "turns = :prev") && exists {
				prev := ti.Put.ExpressionAttributeValues[":prev"].(*types.AttributeValueMemberN).Value
				if existing["turns"].(*types.AttributeValueMemberN).Value != prev {
					return nil, errors.New("ConditionalCheckFailed: turns changed")
				}
			}
		case ti.Delete != nil:
			pk, sk := keyOf(ti.Delete.Key)
			if _, exists := m.items[pk][sk]; !exists {
				return nil, errors.New("ConditionalCheckFailed: item missing")
			}
		}
	}
	for _, ti := range in.TransactItems {
		switch {
		case ti.Put != nil:
			pk, sk := keyOf(ti.Put.Item)
			if m.items[pk] == nil {
				m.items[pk] = map[string]map[string]types.AttributeValue{}
			}
			m.items[pk][sk] = ti.Put.Item
		case ti.Delete != nil:
			pk, sk := keyOf(ti.Delete.Key)
			delete(m.items[pk], sk)
		}
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func (m *memDynamo) setTurns(pk string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[pk][skMeta]["turns"] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", n)}
}

// sweep drops expired items the way the TTL process eventually does.
func (m *memDynamo) sweep(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, part := range m.items {
		for sk, item := range part {
			ttl, _ := strconv.ParseInt(item["ttl"].(*types.AttributeValueMemberN).Value, 10, 64)
			if ttl <= now.Unix() {
				delete(part, sk)
			}
		}
	}
}

func (m *memDynamo) messageCount(pk string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for sk := range m.items[pk] {
		if strings.HasPrefix(sk, skPrefixMsg) {
			n++
		}
	}
	return n
}

func mustNewStore(t *testing.T, api dynamodbAPI, maxTurns int) *DynamoTurnStore {
	t.Helper()
	s, err := NewDynamoTurnStore(api, "test-table", maxTurns)
	require.NoError(t, err)
	s.now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return s
}

var baseTime = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func testTurn(i int) domain.ConversationTurn {
	role := domain.RoleUser
	if i%2 == 1 {
		role = domain.RoleAssistant
	}
	return domain.ConversationTurn{
		SubjectID:      "u1",
		ConversationID: "c1",
		Role:           role,
		Content:        fmt.Sprintf("turn-%d", i),
		Timestamp:      baseTime.Add(time.Duration(i) * time.Second),
		Metadata:       map[string]string{"intent": "general_question"},
	}
}

// ----------------------------------------------------------------------------
// Tests
// ----------------------------------------------------------------------------

func TestNewDynamoTurnStore_Validates(t *testing.T) {
	_, err := NewDynamoTurnStore(nil, "t", 0)
	require.Error(t, err)
	_, err = NewDynamoTurnStore(&fakeDynamo{}, " ", 0)
	require.Error(t, err)

	s, err := NewDynamoTurnStore(&fakeDynamo{}, "t", 0)
	require.NoError(t, err)
	require.Equal(t, DefaultMaxTurns, s.maxTurns)
}

func TestDynamoAppend_CapEvictsExactlyOldest(t *testing.T) {
	db := newMemDynamo()
	s := mustNewStore(t, db, 50)
	ctx := context.Background()

	for i := 0; i < 51; i++ {
		require.NoError(t, s.Append(ctx, testTurn(i)))
	}

	pk := convPK("u1", "c1")
	require.Equal(t, 50, db.messageCount(pk))
	count, err := s.Count(ctx, "u1", "c1")
	require.NoError(t, err)
	require.Equal(t, 50, count)

	turns, err := s.QueryRecent(ctx, "u1", "c1", 50)
	require.NoError(t, err)
	require.Len(t, turns, 50)
	require.Equal(t, "turn-1", turns[0].Content)
	require.Equal(t, "turn-50", turns[49].Content)
	for i := 1; i < len(turns); i++ {
		require.True(t, turns[i].Timestamp.After(turns[i-1].Timestamp))
	}
}

func TestDynamoQueryRecent_NewestLimitOldestFirst(t *testing.T) {
	db := newMemDynamo()
	s := mustNewStore(t, db, 50)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Append(ctx, testTurn(i)))
	}

	turns, err := s.QueryRecent(ctx, "u1", "c1", 2)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	require.Equal(t, "turn-3", turns[0].Content)
	require.Equal(t, domain.RoleAssistant, turns[0].Role)
	require.Equal(t, "turn-4", turns[1].Content)
	require.Equal(t, "general_question", turns[1].Metadata["intent"])
	require.True(t, baseTime.Add(4*time.Second).Equal(turns[1].Timestamp))

	other, err := s.QueryRecent(ctx, "u2", "c1", 10)
	require.NoError(t, err)
	require.Empty(t, other)
}

func TestDynamoAppend_ConcurrentCountChangeFails(t *testing.T) {
	db := newMemDynamo()
	s := mustNewStore(t, db, 50)
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, testTurn(0)))

	// Simulate another writer bumping the count between read and write.
	s.api = &racingDynamo{memDynamo: db, onTx: func() { db.setTurns(convPK("u1", "c1"), 7) }}
	err := s.Append(ctx, testTurn(1))
	require.Error(t, err)
	require.Equal(t, 1, db.messageCount(convPK("u1", "c1")))
}

type racingDynamo struct {
	*memDynamo
	onTx func()
}

func (r *racingDynamo) TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, opts ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	r.onTx()
	return r.memDynamo.TransactWriteItems(ctx, in, opts...)
}

func TestDynamoAppend_TransactionShape(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
		"turns": &types.AttributeValueMemberN{Value: "3"},
	}}}
	s := mustNewStore(t, db, 50)

	require.NoError(t, s.Append(context.Background(), testTurn(0)))
	require.NotNil(t, db.lastGetInput)
	require.True(t, aws.ToBool(db.lastGetInput.ConsistentRead))

	items := db.lastTxInput.TransactItems
	require.Len(t, items, 2)
	msg := items[0].Put
	require.Equal(t, "attribute_not_exists(PK) AND attribute_not_exists(SK)", aws.ToString(msg.ConditionExpression))
	require.Equal(t, "USER#u1#CONV#c1", msg.Item["PK"].(*types.AttributeValueMemberS).Value)
	require.True(t, strings.HasPrefix(msg.Item["SK"].(*types.AttributeValueMemberS).Value, "MSG#2024-03-01T09:00:00.000000000Z#"))
	require.Equal(t, fmt.Sprintf("%d", time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC).Unix()), msg.Item["ttl"].(*types.AttributeValueMemberN).Value)

	meta := items[1].Put
	require.Equal(t, skMeta, meta.Item["SK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "4", meta.Item["turns"].(*types.AttributeValueMemberN).Value)
	require.Equal(t, "3", meta.ExpressionAttributeValues[":prev"].(*types.AttributeValueMemberN).Value)
}

func TestDynamoAppend_AtCapDeletesOldestInSameTransaction(t *testing.T) {
	oldest := msgSK(baseTime, "aaaa")
	db := &fakeDynamo{
		getOut: &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
			"turns": &types.AttributeValueMemberN{Value: "50"},
		}},
		queryOut: &dynamodb.QueryOutput{Count: 50, Items: []map[string]types.AttributeValue{
			{"SK": &types.AttributeValueMemberS{Value: oldest}},
		}},
	}
	s := mustNewStore(t, db, 50)

	require.NoError(t, s.Append(context.Background(), testTurn(9)))
	require.True(t, aws.ToBool(db.lastQueryIn.ScanIndexForward))
	require.Equal(t, int32(1), aws.ToInt32(db.lastQueryIn.Limit))

	items := db.lastTxInput.TransactItems
	require.Len(t, items, 3)
	require.NotNil(t, items[0].Delete)
	require.Equal(t, oldest, items[0].Delete.Key["SK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "50", items[2].Put.Item["turns"].(*types.AttributeValueMemberN).Value)
}

func TestDynamoAppend_ExpiredTurnsFreeCapacity(t *testing.T) {
	db := newMemDynamo()
	s := mustNewStore(t, db, 3)
	ctx := context.Background()
	pk := convPK("u1", "c1")
	start := s.now()
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Append(ctx, testTurn(i)))
	}

	// A later write keeps the conversation and its META# record alive.
	s.now = func() time.Time { return start.Add(20 * 24 * time.Hour) }
	require.NoError(t, s.Append(ctx, testTurn(3)))
	require.Equal(t, 3, db.messageCount(pk))

	// turn-1 and turn-2 expire. Count ignores them before the sweep too.
	later := start.Add(40 * 24 * time.Hour)
	s.now = func() time.Time { return later }
	count, err := s.Count(ctx, "u1", "c1")
	require.NoError(t, err)
	require.Equal(t, 1, count)
	db.sweep(later)
	require.Equal(t, 1, db.messageCount(pk))

	require.NoError(t, s.Append(ctx, testTurn(4)))
	require.NoError(t, s.Append(ctx, testTurn(5)))

	turns, err := s.QueryRecent(ctx, "u1", "c1", 3)
	require.NoError(t, err)
	require.Len(t, turns, 3)
	require.Equal(t, "turn-3", turns[0].Content)
	require.Equal(t, "turn-5", turns[2].Content)

	require.NoError(t, s.Append(ctx, testTurn(6)))
	turns, err = s.QueryRecent(ctx, "u1", "c1", 3)
	require.NoError(t, err)
	require.Equal(t, []string{"turn-4", "turn-5", "turn-6"}, []string{turns[0].Content, turns[1].Content, turns[2].Content})
	count, err = s.Count(ctx, "u1", "c1")
	require.NoError(t, err)
	require.Equal(t, 3, count)
}

func TestDynamoOldestSK_SkipsExpiredPages(t *testing.T) {
	db := newMemDynamo()
	s := mustNewStore(t, db, 50)
	ctx := context.Background()
	start := s.now()
	require.NoError(t, s.Append(ctx, testTurn(0)))
	require.NoError(t, s.Append(ctx, testTurn(1)))

	s.now = func() time.Time { return start.Add(20 * 24 * time.Hour) }
	require.NoError(t, s.Append(ctx, testTurn(2)))

	s.now = func() time.Time { return start.Add(35 * 24 * time.Hour) }
	sk, err := s.oldestSK(ctx, convPK("u1", "c1"))
	require.NoError(t, err)
	require.Contains(t, sk, baseTime.Add(2*time.Second).UTC().Format(sortKeyLayout))
}

func TestDynamo_ErrorsAreWrapped(t *testing.T) {
	s := mustNewStore(t, &fakeDynamo{getErr: errors.New("throttled")}, 50)
	err := s.Append(context.Background(), testTurn(0))
	require.ErrorContains(t, err, "throttled")

	s = mustNewStore(t, &fakeDynamo{getOut: &dynamodb.GetItemOutput{}, txErr: errors.New("tx failed")}, 50)
	require.ErrorContains(t, s.Append(context.Background(), testTurn(0)), "tx failed")

	s = mustNewStore(t, &fakeDynamo{queryErr: errors.New("query failed")}, 50)
	_, err = s.QueryRecent(context.Background(), "u1", "c1", 5)
	require.ErrorContains(t, err, "query failed")

	require.Error(t, s.Append(context.Background(), domain.ConversationTurn{Content: "x"}))
}

func TestDynamoQueryRecent_RejectsMalformedItems(t *testing.T) {
	s := mustNewStore(t, &fakeDynamo{queryOut: &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{
		{"role": &types.AttributeValueMemberS{Value: "user"}},
	}}}, 50)
	_, err := s.QueryRecent(context.Background(), "u1", "c1", 5)
	require.Error(t, err)
}
