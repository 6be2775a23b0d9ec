package executor

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/ecs/types"

	"github.com/mizuhara/suiro/internal/suiro/session"
	"github.com/mizuhara/suiro/pkg/errors"
	"github.com/mizuhara/suiro/pkg/logger"
)

// ECSAPI is the subset of the ECS client the adapter uses.
type ECSAPI interface {
	RunTask(ctx context.Context, params *ecs.RunTaskInput, optFns ...func(*ecs.Options)) (*ecs.RunTaskOutput, error)
}

// ECSConfig locates where container tasks run. ContainerName is the container
// within the task definition that receives the dispatch payload.
type ECSConfig struct {
	Cluster       string `yaml:"cluster"`
	ContainerName string `yaml:"container_name"`
	LaunchType    string `yaml:"launch_type"` // default FARGATE
}

// ECSAdapter dispatches container-task operations as ECS task runs. The task
// receives the dispatch payload through the SUIRO_PAYLOAD environment
// variable.
type ECSAdapter struct {
	client ECSAPI
	cfg    ECSConfig
	log    *logger.Logger
}

// NewECSAdapter creates an ECS adapter from an AWS config.
func NewECSAdapter(awsCfg aws.Config, cfg ECSConfig, log *logger.Logger) *ECSAdapter {
	return NewECSAdapterWithClient(ecs.NewFromConfig(awsCfg), cfg, log)
}

// NewECSAdapterWithClient creates an ECS adapter with an injected client
// (for testing).
func NewECSAdapterWithClient(client ECSAPI, cfg ECSConfig, log *logger.Logger) *ECSAdapter {
	if cfg.LaunchType == "" {
		cfg.LaunchType = string(types.LaunchTypeFargate)
	}
	return &ECSAdapter{client: client, cfg: cfg, log: log.WithField("adapter", "ecs")}
}

func (a *ECSAdapter) Dispatch(ctx context.Context, req session.DispatchRequest) error {
	body, err := buildPayload(req)
	if err != nil {
		return errors.WrapDispatchError(req.JobID, req.Operation.ID, err)
	}

	input := &ecs.RunTaskInput{
		TaskDefinition: aws.String(req.Operation.Target),
		Cluster:        aws.String(a.cfg.Cluster),
		LaunchType:     types.LaunchType(a.cfg.LaunchType),
		Overrides: &types.TaskOverride{
			ContainerOverrides: []types.ContainerOverride{{
				Name: aws.String(a.cfg.ContainerName),
				Environment: []types.KeyValuePair{{
					Name:  aws.String("SUIRO_PAYLOAD"),
					Value: aws.String(string(body)),
				}},
			}},
		},
	}

	if _, err := a.client.RunTask(ctx, input); err != nil {
		return errors.WrapDispatchError(req.JobID, req.Operation.ID, err)
	}
	a.log.Debug("started task",
		"session_id", req.SessionID, "job_id", req.JobID, "target", req.Operation.Target)
	return nil
}
