package store

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/mizuhara/suiro/internal/suiro/domain"
	"github.com/mizuhara/suiro/pkg/errors"
)

// fakeDynamoDB is an in-memory stand-in honoring the condition expressions
// the store relies on.
type fakeDynamoDB struct {
	sessionItems    map[string]map[string]types.AttributeValue
	checkpointItems map[string]map[string]types.AttributeValue // key: sessionId/sequence
}

func newFakeDynamoDB() *fakeDynamoDB {
	return &fakeDynamoDB{
		sessionItems:    make(map[string]map[string]types.AttributeValue),
		checkpointItems: make(map[string]map[string]types.AttributeValue),
	}
}

func (f *fakeDynamoDB) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if params.TableName != nil && *params.TableName == "suiro-checkpoints" {
		sid := params.Item["sessionId"].(*types.AttributeValueMemberS).Value
		seq := params.Item["sequence"].(*types.AttributeValueMemberN).Value
		key := sid + "/" + seq
		if _, exists := f.checkpointItems[key]; exists {
			return nil, &types.ConditionalCheckFailedException{}
		}
		f.checkpointItems[key] = params.Item
		return &dynamodb.PutItemOutput{}, nil
	}

	sid := params.Item["sessionId"].(*types.AttributeValueMemberS).Value
	_, exists := f.sessionItems[sid]
	cond := ""
	if params.ConditionExpression != nil {
		cond = *params.ConditionExpression
	}
	if strings.Contains(cond, "attribute_not_exists") && exists {
		return nil, &types.ConditionalCheckFailedException{}
	}
	if cond == "attribute_exists(sessionId)" && !exists {
		return nil, &types.ConditionalCheckFailedException{}
	}
	f.sessionItems[sid] = params.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamoDB) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	sid := params.Key["sessionId"].(*types.AttributeValueMemberS).Value
	item, ok := f.sessionItems[sid]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: item}, nil
}

func (f *fakeDynamoDB) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	sid := params.ExpressionAttributeValues[":sid"].(*types.AttributeValueMemberS).Value

	var items []map[string]types.AttributeValue
	for key, item := range f.checkpointItems {
		if strings.HasPrefix(key, sid+"/") {
			items = append(items, item)
		}
	}
	// Sequence ascending, matching the range-key ordering of the real table
	for i := 0; i < len(items); i++ {
		for j := i + 1; j < len(items); j++ {
			si, _ := strconv.ParseInt(items[i]["sequence"].(*types.AttributeValueMemberN).Value, 10, 64)
			sj, _ := strconv.ParseInt(items[j]["sequence"].(*types.AttributeValueMemberN).Value, 10, 64)
			if sj < si {
				items[i], items[j] = items[j], items[i]
			}
		}
	}
	return &dynamodb.QueryOutput{Items: items}, nil
}

func (f *fakeDynamoDB) Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	pid := params.ExpressionAttributeValues[":pid"].(*types.AttributeValueMemberS).Value

	var items []map[string]types.AttributeValue
	for _, item := range f.sessionItems {
		if v, ok := item["pipelineId"].(*types.AttributeValueMemberS); ok && v.Value == pid {
			items = append(items, item)
		}
	}
	return &dynamodb.ScanOutput{Items: items}, nil
}

func (f *fakeDynamoDB) DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	return &dynamodb.DescribeTableOutput{}, nil
}

func newDynamoTestStore() Store {
	return NewDynamoDBStoreWithClient(newFakeDynamoDB(), "suiro-sessions", "suiro-checkpoints")
}

func TestDynamoDBSessionRoundTrip(t *testing.T) {
	s := newDynamoTestStore()
	ctx := context.Background()

	started := time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC)
	session := &domain.Session{
		ID:              "sess-1",
		PipelineID:      "pipe-1",
		PipelineVersion: "2",
		Status:          domain.SessionRunning,
		JobStates: map[string]domain.JobState{
			"extract": domain.JobSucceeded,
			"load":    domain.JobDispatched,
		},
		Sequence:      4,
		Parameters:    map[string]interface{}{"target_date": "2026-03-01"},
		RecoveredFrom: "sess-0",
		Metadata:      map[string]string{"trigger": "schedule"},
		CreatedAt:     started.Add(-time.Minute),
		UpdatedAt:     started,
		StartedAt:     &started,
	}

	if err := s.CreateSession(ctx, session); err != nil {
		t.Fatalf("CreateSession error = %v", err)
	}

	got, err := s.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetSession error = %v", err)
	}
	if got.Status != domain.SessionRunning || got.Sequence != 4 {
		t.Errorf("got status=%s sequence=%d", got.Status, got.Sequence)
	}
	if got.JobStates["extract"] != domain.JobSucceeded || got.JobStates["load"] != domain.JobDispatched {
		t.Errorf("job states = %v", got.JobStates)
	}
	if got.Parameters["target_date"] != "2026-03-01" {
		t.Errorf("parameters = %v", got.Parameters)
	}
	if got.RecoveredFrom != "sess-0" {
		t.Errorf("recoveredFrom = %q", got.RecoveredFrom)
	}
	if got.StartedAt == nil || !got.StartedAt.Equal(started) {
		t.Errorf("startedAt = %v, want %v", got.StartedAt, started)
	}
	if got.CompletedAt != nil {
		t.Errorf("completedAt = %v, want nil", got.CompletedAt)
	}
}

func TestDynamoDBCreateSessionDuplicate(t *testing.T) {
	s := newDynamoTestStore()
	ctx := context.Background()

	session := newSession("sess-1", "pipe-1", time.Now())
	if err := s.CreateSession(ctx, session); err != nil {
		t.Fatalf("CreateSession error = %v", err)
	}
	if err := s.CreateSession(ctx, session); !errors.Is(err, errors.ErrSessionExists) {
		t.Errorf("duplicate create error = %v, want ErrSessionExists", err)
	}
}

func TestDynamoDBUpdateMissingSession(t *testing.T) {
	s := newDynamoTestStore()
	session := newSession("sess-1", "pipe-1", time.Now())
	if err := s.UpdateSession(context.Background(), session); !errors.Is(err, errors.ErrSessionNotFound) {
		t.Errorf("error = %v, want ErrSessionNotFound", err)
	}
}

func TestDynamoDBGetMissingSession(t *testing.T) {
	s := newDynamoTestStore()
	if _, err := s.GetSession(context.Background(), "nope"); !errors.Is(err, errors.ErrSessionNotFound) {
		t.Errorf("error = %v, want ErrSessionNotFound", err)
	}
}

func TestDynamoDBCheckpointConflict(t *testing.T) {
	s := newDynamoTestStore()
	ctx := context.Background()

	cp := &domain.Checkpoint{
		SessionID: "sess-1",
		Sequence:  7,
		JobStates: map[string]domain.JobState{"a": domain.JobSucceeded},
		Event:     domain.EventJobCompleted,
		JobID:     "a",
		CreatedAt: time.Now().UTC(),
	}
	if err := s.PutCheckpoint(ctx, cp); err != nil {
		t.Fatalf("PutCheckpoint error = %v", err)
	}
	if err := s.PutCheckpoint(ctx, cp); !errors.Is(err, errors.ErrCheckpointConflict) {
		t.Fatalf("conflicting PutCheckpoint error = %v, want ErrCheckpointConflict", err)
	}
}

func TestDynamoDBListCheckpoints(t *testing.T) {
	s := newDynamoTestStore()
	ctx := context.Background()

	for _, seq := range []int64{2, 1, 3} {
		cp := &domain.Checkpoint{
			SessionID: "sess-1",
			Sequence:  seq,
			JobStates: map[string]domain.JobState{"a": domain.JobDispatched},
			Event:     domain.EventJobRetrying,
			JobID:     "a",
			CreatedAt: time.Now().UTC(),
		}
		if err := s.PutCheckpoint(ctx, cp); err != nil {
			t.Fatalf("PutCheckpoint(%d) error = %v", seq, err)
		}
	}

	cps, err := s.ListCheckpoints(ctx, "sess-1")
	if err != nil {
		t.Fatalf("ListCheckpoints error = %v", err)
	}
	if len(cps) != 3 {
		t.Fatalf("got %d checkpoints, want 3", len(cps))
	}
	for i, want := range []int64{1, 2, 3} {
		if cps[i].Sequence != want {
			t.Errorf("checkpoint %d sequence = %d, want %d", i, cps[i].Sequence, want)
		}
	}
	if cps[0].JobStates["a"] != domain.JobDispatched {
		t.Errorf("job states = %v", cps[0].JobStates)
	}
}

func TestDynamoDBListByPipeline(t *testing.T) {
	s := newDynamoTestStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for _, sess := range []*domain.Session{
		newSession("sess-old", "pipe-1", base),
		newSession("sess-new", "pipe-1", base.Add(time.Hour)),
		newSession("sess-other", "pipe-2", base),
	} {
		if err := s.CreateSession(ctx, sess); err != nil {
			t.Fatalf("CreateSession(%s) error = %v", sess.ID, err)
		}
	}

	got, err := s.ListByPipeline(ctx, "pipe-1", nil)
	if err != nil {
		t.Fatalf("ListByPipeline error = %v", err)
	}
	if len(got) != 2 || got[0].ID != "sess-new" || got[1].ID != "sess-old" {
		t.Errorf("sessions = %v, want [sess-new sess-old]", ids(got))
	}
}
