package executor

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"

	"github.com/mizuhara/suiro/internal/suiro/session"
	"github.com/mizuhara/suiro/pkg/errors"
	"github.com/mizuhara/suiro/pkg/logger"
)

// SFNAPI is the subset of the Step Functions client the adapter uses.
type SFNAPI interface {
	StartExecution(ctx context.Context, params *sfn.StartExecutionInput, optFns ...func(*sfn.Options)) (*sfn.StartExecutionOutput, error)
}

// SFNAdapter dispatches managed-workflow operations as Step Functions
// executions.
type SFNAdapter struct {
	client SFNAPI
	log    *logger.Logger
}

// NewSFNAdapter creates a Step Functions adapter from an AWS config.
func NewSFNAdapter(cfg aws.Config, log *logger.Logger) *SFNAdapter {
	return NewSFNAdapterWithClient(sfn.NewFromConfig(cfg), log)
}

// NewSFNAdapterWithClient creates a Step Functions adapter with an injected
// client (for testing).
func NewSFNAdapterWithClient(client SFNAPI, log *logger.Logger) *SFNAdapter {
	return &SFNAdapter{client: client, log: log.WithField("adapter", "sfn")}
}

func (a *SFNAdapter) Dispatch(ctx context.Context, req session.DispatchRequest) error {
	body, err := buildPayload(req)
	if err != nil {
		return errors.WrapDispatchError(req.JobID, req.Operation.ID, err)
	}

	// Execution names must be unique per state machine; session and job ids
	// make dispatches idempotent against accidental double-starts.
	name := executionName(req.SessionID, req.JobID)

	input := &sfn.StartExecutionInput{
		StateMachineArn: aws.String(req.Operation.Target),
		Name:            aws.String(name),
		Input:           aws.String(string(body)),
	}

	if _, err := a.client.StartExecution(ctx, input); err != nil {
		return errors.WrapDispatchError(req.JobID, req.Operation.ID, err)
	}
	a.log.Debug("started execution",
		"session_id", req.SessionID, "job_id", req.JobID, "execution", name)
	return nil
}

const maxExecutionNameLen = 80

func executionName(sessionID, jobID string) string {
	name := fmt.Sprintf("%s-%s", sessionID, jobID)
	if len(name) > maxExecutionNameLen {
		name = name[:maxExecutionNameLen]
	}
	return name
}
