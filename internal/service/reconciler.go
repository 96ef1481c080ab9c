package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/haatos/deplora/internal/jenkins"
	"github.com/haatos/deplora/internal/store"
	"golang.org/x/sync/errgroup"
)

// FallbackStageName names the stage that carries the console log of a build
// which failed before the backend recorded any stage.
const FallbackStageName = "Pipeline"

const defaultLogFetchLimit = 4

type StatusClient interface {
	GetBuild(context.Context, jenkins.Path, int64) (*jenkins.Build, error)
	GetStages(context.Context, jenkins.Path, int64) ([]jenkins.Stage, error)
	GetStageLog(context.Context, jenkins.Path, int64, string) (string, error)
	GetConsoleText(context.Context, jenkins.Path, int64) (string, error)
}

// Reconciler turns the backend's view of a build into a BuildRecord. Poll
// only reads from the backend.
type Reconciler struct {
	client        StatusClient
	logFetchLimit int
}

func NewReconciler(client StatusClient, logFetchLimit int) *Reconciler {
	if logFetchLimit < 1 {
		logFetchLimit = defaultLogFetchLimit
	}
	return &Reconciler{client: client, logFetchLimit: logFetchLimit}
}

// Poll assembles the record of build id. Every stage the script declares is
// present in the result. A finished build without any stage logs gets the
// whole console output on its first stage, marked FAILED.
func (r *Reconciler) Poll(ctx context.Context, scope PipelineScope, script string, id int64) (*store.BuildRecord, error) {
	job := scope.JobPath()

	// the building flag is read before the stage graph so that a finished
	// flag never pairs with a graph older than itself
	build, err := r.client.GetBuild(ctx, job, id)
	if err != nil {
		return nil, pollError(job, id, err)
	}
	stages, err := r.client.GetStages(ctx, job, id)
	if err != nil {
		return nil, pollError(job, id, err)
	}

	rec := &store.BuildRecord{
		BuildID:                 build.Number,
		Building:                build.Building,
		Result:                  build.Result,
		EstimatedDurationMillis: build.EstimatedDuration,
		DurationMillis:          build.Duration,
		Timestamp:               build.Timestamp,
		Stages:                  make([]store.StageRecord, 0, len(stages)),
	}
	for _, s := range stages {
		rec.Stages = append(rec.Stages, store.StageRecord{
			Name:           s.Name,
			Status:         stageStatus(s.Status),
			DurationMillis: s.DurationMillis,
			NodeID:         s.ID,
		})
	}

	if err := r.fetchLogs(ctx, job, id, rec.Stages); err != nil {
		return nil, pollError(job, id, err)
	}

	reported := make(map[string]bool, len(rec.Stages))
	for _, s := range rec.Stages {
		reported[s.Name] = true
	}
	filler := store.StagePending
	if !rec.Building {
		filler = store.StageNotExecuted
	}
	for _, name := range StageNames(script) {
		if !reported[name] {
			rec.Stages = append(rec.Stages, store.StageRecord{Name: name, Status: filler})
		}
	}

	if !rec.Building && !rec.HasLogs() {
		console, err := r.client.GetConsoleText(ctx, job, id)
		if err != nil {
			return nil, pollError(job, id, err)
		}
		if len(rec.Stages) == 0 {
			rec.Stages = append(rec.Stages, store.StageRecord{Name: FallbackStageName})
		}
		rec.Stages[0].Logs = jenkins.SplitLines(console)
		rec.Stages[0].Status = store.StageFailed
	}
	return rec, nil
}

func (r *Reconciler) fetchLogs(ctx context.Context, job jenkins.Path, id int64, stages []store.StageRecord) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.logFetchLimit)
	for i := range stages {
		if stages[i].NodeID == "" {
			continue
		}
		g.Go(func() error {
			text, err := r.client.GetStageLog(ctx, job, id, stages[i].NodeID)
			if errors.Is(err, jenkins.ErrNotFound) {
				// a stage that has not produced a log node yet
				return nil
			}
			if err != nil {
				return fmt.Errorf("log of stage %q: %w", stages[i].Name, err)
			}
			stages[i].Logs = jenkins.SplitLines(text)
			return nil
		})
	}
	return g.Wait()
}

func pollError(job jenkins.Path, id int64, err error) error {
	if errors.Is(err, jenkins.ErrNotFound) {
		return fmt.Errorf("%w: %s #%d: %w", ErrBuildNotFound, job, id, err)
	}
	return fmt.Errorf("polling %s #%d: %w", job, id, err)
}

func stageStatus(s string) store.StageStatus {
	switch s {
	case "SUCCESS":
		return store.StageSuccess
	case "FAILED", "UNSTABLE":
		return store.StageFailed
	case "ABORTED":
		return store.StageAborted
	case "IN_PROGRESS", "PAUSED_PENDING_INPUT":
		return store.StageInProgress
	case "NOT_EXECUTED", "NOT_BUILT":
		return store.StageNotExecuted
	}
	return store.StagePending
}
