package executor

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"

	"github.com/mizuhara/suiro/internal/suiro/session"
	"github.com/mizuhara/suiro/pkg/errors"
	"github.com/mizuhara/suiro/pkg/logger"
)

// LambdaAPI is the subset of the Lambda client the adapter uses.
type LambdaAPI interface {
	Invoke(ctx context.Context, params *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

// LambdaAdapter dispatches function-invoke operations as asynchronous Lambda
// invocations. The function reports its outcome out of band.
type LambdaAdapter struct {
	client LambdaAPI
	log    *logger.Logger
}

// NewLambdaAdapter creates a Lambda adapter from an AWS config.
func NewLambdaAdapter(cfg aws.Config, log *logger.Logger) *LambdaAdapter {
	return NewLambdaAdapterWithClient(lambda.NewFromConfig(cfg), log)
}

// NewLambdaAdapterWithClient creates a Lambda adapter with an injected client
// (for testing).
func NewLambdaAdapterWithClient(client LambdaAPI, log *logger.Logger) *LambdaAdapter {
	return &LambdaAdapter{client: client, log: log.WithField("adapter", "lambda")}
}

func (a *LambdaAdapter) Dispatch(ctx context.Context, req session.DispatchRequest) error {
	body, err := buildPayload(req)
	if err != nil {
		return errors.WrapDispatchError(req.JobID, req.Operation.ID, err)
	}

	input := &lambda.InvokeInput{
		FunctionName:   aws.String(req.Operation.Target),
		InvocationType: types.InvocationTypeEvent,
		Payload:        body,
	}

	if _, err := a.client.Invoke(ctx, input); err != nil {
		return errors.WrapDispatchError(req.JobID, req.Operation.ID, err)
	}
	a.log.Debug("invoked function",
		"session_id", req.SessionID, "job_id", req.JobID, "target", req.Operation.Target)
	return nil
}
