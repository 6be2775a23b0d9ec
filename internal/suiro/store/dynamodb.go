package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/mizuhara/suiro/internal/suiro/domain"
	"github.com/mizuhara/suiro/pkg/errors"
)

// DynamoDBAPI is the subset of the DynamoDB client the store uses.
// Narrowed for test injection.
type DynamoDBAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// dynamoDBStore persists sessions in one table and the append-only checkpoint
// log in a second table keyed by (sessionId, sequence). The conditional put
// on the checkpoint table is the cross-writer concurrency guard.
type dynamoDBStore struct {
	client          DynamoDBAPI
	sessionTable    string
	checkpointTable string
}

// NewDynamoDBStore creates a DynamoDB-backed store.
func NewDynamoDBStore(cfg *DynamoDBConfig) (Store, error) {
	if cfg == nil {
		return nil, errors.NewValidationError("store.dynamodb", nil, "DynamoDB configuration is required")
	}
	if cfg.SessionTable == "" || cfg.CheckpointTable == "" {
		return nil, errors.NewValidationError("store.dynamodb", nil, "session_table and checkpoint_table are required")
	}

	ctx := context.Background()

	awsCfg, err := loadAWSConfig(ctx, cfg.Region)
	if err != nil {
		return nil, errors.WrapStoreError("dynamodb", "load-config", err)
	}

	var clientOpts []func(*dynamodb.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	s := &dynamoDBStore{
		client:          dynamodb.NewFromConfig(awsCfg, clientOpts...),
		sessionTable:    cfg.SessionTable,
		checkpointTable: cfg.CheckpointTable,
	}

	if err := s.HealthCheck(ctx); err != nil {
		return nil, errors.WrapStoreError("dynamodb", "health-check", err)
	}
	return s, nil
}

// NewDynamoDBStoreWithClient creates a DynamoDB store with an injected client
// (for testing).
func NewDynamoDBStoreWithClient(client DynamoDBAPI, sessionTable, checkpointTable string) Store {
	return &dynamoDBStore{
		client:          client,
		sessionTable:    sessionTable,
		checkpointTable: checkpointTable,
	}
}

func loadAWSConfig(ctx context.Context, region string) (aws.Config, error) {
	// Auto-detect region from EC2 metadata if not specified
	if region == "" {
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err == nil {
			imdsClient := imds.NewFromConfig(cfg)
			regionResp, err := imdsClient.GetRegion(ctx, &imds.GetRegionInput{})
			if err == nil {
				region = regionResp.Region
			}
		}
	}

	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	return awsconfig.LoadDefaultConfig(ctx, opts...)
}

func (d *dynamoDBStore) CreateSession(ctx context.Context, session *domain.Session) error {
	item, err := sessionToItem(session)
	if err != nil {
		return errors.WrapStoreError("dynamodb", "create-session", err)
	}

	input := &dynamodb.PutItemInput{
		TableName:           aws.String(d.sessionTable),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(sessionId)"),
	}

	if _, err := d.client.PutItem(ctx, input); err != nil {
		if isConditionalCheckFailed(err) {
			return errors.WrapStoreError("dynamodb", "create-session", errors.ErrSessionExists)
		}
		return errors.WrapStoreError("dynamodb", "create-session", err)
	}
	return nil
}

func (d *dynamoDBStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	input := &dynamodb.GetItemInput{
		TableName:      aws.String(d.sessionTable),
		Key:            map[string]types.AttributeValue{"sessionId": &types.AttributeValueMemberS{Value: sessionID}},
		ConsistentRead: aws.Bool(true),
	}

	result, err := d.client.GetItem(ctx, input)
	if err != nil {
		return nil, errors.WrapStoreError("dynamodb", "get-session", err)
	}
	if result.Item == nil {
		return nil, errors.ErrSessionNotFound
	}
	return itemToSession(result.Item)
}

func (d *dynamoDBStore) UpdateSession(ctx context.Context, session *domain.Session) error {
	item, err := sessionToItem(session)
	if err != nil {
		return errors.WrapStoreError("dynamodb", "update-session", err)
	}

	input := &dynamodb.PutItemInput{
		TableName:           aws.String(d.sessionTable),
		Item:                item,
		ConditionExpression: aws.String("attribute_exists(sessionId)"),
	}

	if _, err := d.client.PutItem(ctx, input); err != nil {
		if isConditionalCheckFailed(err) {
			return errors.ErrSessionNotFound
		}
		return errors.WrapStoreError("dynamodb", "update-session", err)
	}
	return nil
}

func (d *dynamoDBStore) PutCheckpoint(ctx context.Context, checkpoint *domain.Checkpoint) error {
	states, err := json.Marshal(checkpoint.JobStates)
	if err != nil {
		return errors.WrapStoreError("dynamodb", "put-checkpoint", err)
	}

	item := map[string]types.AttributeValue{
		"sessionId": &types.AttributeValueMemberS{Value: checkpoint.SessionID},
		"sequence":  &types.AttributeValueMemberN{Value: strconv.FormatInt(checkpoint.Sequence, 10)},
		"jobStates": &types.AttributeValueMemberS{Value: string(states)},
		"event":     &types.AttributeValueMemberS{Value: string(checkpoint.Event)},
		"createdAt": &types.AttributeValueMemberS{Value: checkpoint.CreatedAt.Format(time.RFC3339Nano)},
	}
	if checkpoint.JobID != "" {
		item["jobId"] = &types.AttributeValueMemberS{Value: checkpoint.JobID}
	}
	if checkpoint.Status != "" {
		item["sessionStatus"] = &types.AttributeValueMemberS{Value: string(checkpoint.Status)}
	}

	// Append-only: the write loses on a sequence collision and the caller
	// is told to reread.
	input := &dynamodb.PutItemInput{
		TableName:           aws.String(d.checkpointTable),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(sessionId) AND attribute_not_exists(#seq)"),
		ExpressionAttributeNames: map[string]string{
			"#seq": "sequence",
		},
	}

	if _, err := d.client.PutItem(ctx, input); err != nil {
		if isConditionalCheckFailed(err) {
			return errors.NewConsistencyError(checkpoint.SessionID, checkpoint.Sequence, errors.ErrCheckpointConflict)
		}
		return errors.WrapStoreError("dynamodb", "put-checkpoint", err)
	}
	return nil
}

func (d *dynamoDBStore) ListCheckpoints(ctx context.Context, sessionID string) ([]domain.Checkpoint, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(d.checkpointTable),
		KeyConditionExpression: aws.String("sessionId = :sid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":sid": &types.AttributeValueMemberS{Value: sessionID},
		},
		ScanIndexForward: aws.Bool(true), // sequence ascending
		ConsistentRead:   aws.Bool(true),
	}

	var checkpoints []domain.Checkpoint
	for {
		result, err := d.client.Query(ctx, input)
		if err != nil {
			return nil, errors.WrapStoreError("dynamodb", "list-checkpoints", err)
		}
		for _, item := range result.Items {
			cp, err := itemToCheckpoint(item)
			if err != nil {
				return nil, errors.WrapStoreError("dynamodb", "list-checkpoints", err)
			}
			checkpoints = append(checkpoints, cp)
		}
		if result.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
	return checkpoints, nil
}

func (d *dynamoDBStore) ListByPipeline(ctx context.Context, pipelineID string, filter *Filter) ([]*domain.Session, error) {
	input := &dynamodb.ScanInput{
		TableName:        aws.String(d.sessionTable),
		FilterExpression: aws.String("pipelineId = :pid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pid": &types.AttributeValueMemberS{Value: pipelineID},
		},
	}

	var sessions []*domain.Session
	for {
		result, err := d.client.Scan(ctx, input)
		if err != nil {
			return nil, errors.WrapStoreError("dynamodb", "list-by-pipeline", err)
		}
		for _, item := range result.Items {
			session, err := itemToSession(item)
			if err != nil {
				return nil, errors.WrapStoreError("dynamodb", "list-by-pipeline", err)
			}
			if filter.Matches(session) {
				sessions = append(sessions, session)
			}
		}
		if result.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}

	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})

	if filter != nil && filter.Limit > 0 && len(sessions) > filter.Limit {
		sessions = sessions[:filter.Limit]
	}
	return sessions, nil
}

func (d *dynamoDBStore) Close() error {
	return nil
}

func (d *dynamoDBStore) HealthCheck(ctx context.Context) error {
	for _, table := range []string{d.sessionTable, d.checkpointTable} {
		_, err := d.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
			TableName: aws.String(table),
		})
		if err != nil {
			return fmt.Errorf("table %s unavailable: %w", table, err)
		}
	}
	return nil
}

func isConditionalCheckFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

// sessionDocument is the JSON payload carried inside the session item for
// fields that don't need to be queryable.
type sessionDocument struct {
	JobStates  map[string]domain.JobState `json:"jobStates"`
	Parameters map[string]interface{}     `json:"parameters,omitempty"`
	Errors     []domain.ErrorRecord       `json:"errors,omitempty"`
	Metadata   map[string]string          `json:"metadata,omitempty"`
}

func sessionToItem(session *domain.Session) (map[string]types.AttributeValue, error) {
	doc, err := json.Marshal(sessionDocument{
		JobStates:  session.JobStates,
		Parameters: session.Parameters,
		Errors:     session.Errors,
		Metadata:   session.Metadata,
	})
	if err != nil {
		return nil, err
	}

	item := map[string]types.AttributeValue{
		"sessionId":       &types.AttributeValueMemberS{Value: session.ID},
		"pipelineId":      &types.AttributeValueMemberS{Value: session.PipelineID},
		"pipelineVersion": &types.AttributeValueMemberS{Value: session.PipelineVersion},
		"sessionStatus":   &types.AttributeValueMemberS{Value: string(session.Status)},
		"sequence":        &types.AttributeValueMemberN{Value: strconv.FormatInt(session.Sequence, 10)},
		"document":        &types.AttributeValueMemberS{Value: string(doc)},
		"createdAt":       &types.AttributeValueMemberS{Value: session.CreatedAt.Format(time.RFC3339Nano)},
		"updatedAt":       &types.AttributeValueMemberS{Value: session.UpdatedAt.Format(time.RFC3339Nano)},
	}
	if session.RecoveredFrom != "" {
		item["recoveredFrom"] = &types.AttributeValueMemberS{Value: session.RecoveredFrom}
	}
	if session.StartedAt != nil {
		item["startedAt"] = &types.AttributeValueMemberS{Value: session.StartedAt.Format(time.RFC3339Nano)}
	}
	if session.CompletedAt != nil {
		item["completedAt"] = &types.AttributeValueMemberS{Value: session.CompletedAt.Format(time.RFC3339Nano)}
	}
	return item, nil
}

func itemToSession(item map[string]types.AttributeValue) (*domain.Session, error) {
	session := &domain.Session{
		ID:              stringAttr(item, "sessionId"),
		PipelineID:      stringAttr(item, "pipelineId"),
		PipelineVersion: stringAttr(item, "pipelineVersion"),
		Status:          domain.SessionStatus(stringAttr(item, "sessionStatus")),
		RecoveredFrom:   stringAttr(item, "recoveredFrom"),
	}

	if n, ok := item["sequence"].(*types.AttributeValueMemberN); ok {
		seq, err := strconv.ParseInt(n.Value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid sequence: %w", err)
		}
		session.Sequence = seq
	}

	var doc sessionDocument
	if raw := stringAttr(item, "document"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, fmt.Errorf("invalid session document: %w", err)
		}
	}
	session.JobStates = doc.JobStates
	if session.JobStates == nil {
		session.JobStates = make(map[string]domain.JobState)
	}
	session.Parameters = doc.Parameters
	session.Errors = doc.Errors
	session.Metadata = doc.Metadata

	var err error
	if session.CreatedAt, err = timeAttr(item, "createdAt"); err != nil {
		return nil, err
	}
	if session.UpdatedAt, err = timeAttr(item, "updatedAt"); err != nil {
		return nil, err
	}
	if raw := stringAttr(item, "startedAt"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("invalid startedAt: %w", err)
		}
		session.StartedAt = &t
	}
	if raw := stringAttr(item, "completedAt"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("invalid completedAt: %w", err)
		}
		session.CompletedAt = &t
	}
	return session, nil
}

func itemToCheckpoint(item map[string]types.AttributeValue) (domain.Checkpoint, error) {
	cp := domain.Checkpoint{
		SessionID: stringAttr(item, "sessionId"),
		Event:     domain.CheckpointEvent(stringAttr(item, "event")),
		JobID:     stringAttr(item, "jobId"),
		Status:    domain.SessionStatus(stringAttr(item, "sessionStatus")),
	}

	if n, ok := item["sequence"].(*types.AttributeValueMemberN); ok {
		seq, err := strconv.ParseInt(n.Value, 10, 64)
		if err != nil {
			return cp, fmt.Errorf("invalid sequence: %w", err)
		}
		cp.Sequence = seq
	}

	if raw := stringAttr(item, "jobStates"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &cp.JobStates); err != nil {
			return cp, fmt.Errorf("invalid jobStates: %w", err)
		}
	}

	var err error
	if cp.CreatedAt, err = timeAttr(item, "createdAt"); err != nil {
		return cp, err
	}
	return cp, nil
}

func stringAttr(item map[string]types.AttributeValue, key string) string {
	if v, ok := item[key].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func timeAttr(item map[string]types.AttributeValue, key string) (time.Time, error) {
	raw := stringAttr(item, key)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s: %w", key, err)
	}
	return t, nil
}
