package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/haatos/deplora/internal/jenkins"
	"github.com/jonboulle/clockwork"
)

type BuildClient interface {
	TriggerBuild(context.Context, jenkins.Path) error
	LastBuildNumber(context.Context, jenkins.Path) (int64, error)
	StopBuild(context.Context, jenkins.Path, int64) error
}

type BuildController struct {
	client      BuildClient
	clock       clockwork.Clock
	settleDelay time.Duration
}

func NewBuildController(client BuildClient, clock clockwork.Clock, settleDelay time.Duration) *BuildController {
	return &BuildController{client: client, clock: clock, settleDelay: settleDelay}
}

// Trigger starts a build and predicts its number as the last build number
// plus one. Concurrent triggers on one job may make the prediction off by
// the number of racing triggers. The prediction is returned once the settle
// delay has passed.
func (bc *BuildController) Trigger(ctx context.Context, scope PipelineScope) (int64, error) {
	job := scope.JobPath()
	last, err := bc.client.LastBuildNumber(ctx, job)
	if err != nil {
		last = 0
	}

	if err := bc.client.TriggerBuild(ctx, job); err != nil {
		var apiErr *jenkins.APIError
		if errors.As(err, &apiErr) {
			return 0, fmt.Errorf("triggering %s: %w: %w", job, ErrProvisioningFailure, err)
		}
		return 0, fmt.Errorf("triggering %s: %w", job, err)
	}
	id := last + 1

	if bc.settleDelay > 0 {
		select {
		case <-bc.clock.After(bc.settleDelay):
		case <-ctx.Done():
			return 0, fmt.Errorf("waiting for build %d of %s to register: %w", id, job, ctx.Err())
		}
	}
	return id, nil
}

// Abort asks the backend to stop a build. Stopping a finished build is not
// an error; the resulting state is observed by polling.
func (bc *BuildController) Abort(ctx context.Context, scope PipelineScope, id int64) error {
	job := scope.JobPath()
	if err := bc.client.StopBuild(ctx, job, id); err != nil {
		if errors.Is(err, jenkins.ErrNotFound) {
			return fmt.Errorf("%w: %s #%d: %w", ErrBuildNotFound, job, id, err)
		}
		return fmt.Errorf("stopping %s #%d: %w", job, id, err)
	}
	return nil
}
