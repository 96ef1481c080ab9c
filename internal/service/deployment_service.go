package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/haatos/deplora/internal/store"
	"github.com/jonboulle/clockwork"
)

type DeploymentOptions struct {
	PipelineName string
	PollInterval time.Duration
}

// DeploymentService drives sessions through provision, trigger and poll.
// Every step publishes its transition; failures publish FAILED with the
// error text.
type DeploymentService struct {
	sessionStore store.SessionStore
	provisioner  *Provisioner
	controller   *BuildController
	reconciler   *Reconciler
	publisher    *Publisher
	queue        *DeploymentQueue
	clock        clockwork.Clock
	options      DeploymentOptions
}

func NewDeploymentService(
	sessionStore store.SessionStore,
	provisioner *Provisioner,
	controller *BuildController,
	reconciler *Reconciler,
	publisher *Publisher,
	queue *DeploymentQueue,
	clock clockwork.Clock,
	options DeploymentOptions,
) *DeploymentService {
	return &DeploymentService{
		sessionStore: sessionStore,
		provisioner:  provisioner,
		controller:   controller,
		reconciler:   reconciler,
		publisher:    publisher,
		queue:        queue,
		clock:        clock,
		options:      options,
	}
}

// SaveSession creates or replaces the caller-owned fields of a session. The
// last build and status are kept.
func (s *DeploymentService) SaveSession(ctx context.Context, session *store.Session) (*store.Session, error) {
	existing, err := s.sessionStore.ReadSessionByID(ctx, session.SessionID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if existing != nil {
		session.LastBuild = existing.LastBuild
		session.LastStatus = existing.LastStatus
	} else {
		session.LastBuild = nil
		session.LastStatus = nil
	}
	session.UpdatedOn = s.clock.Now().UTC()
	if err := s.sessionStore.UpsertSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *DeploymentService) GetSession(ctx context.Context, sessionID string) (*store.Session, error) {
	session, err := s.sessionStore.ReadSessionByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return nil, err
	}
	return session, nil
}

func (s *DeploymentService) Scope(session *store.Session) PipelineScope {
	return NewPipelineScope(session, s.options.PipelineName)
}

// Provision makes the session's scope and pipeline exist with its current
// script.
func (s *DeploymentService) Provision(ctx context.Context, sessionID string) error {
	session, script, err := s.load(ctx, sessionID)
	if err != nil {
		return s.fail(ctx, sessionID, err)
	}
	if _, err := s.publisher.Publish(ctx, sessionID, store.KindProvisioning, nil, ""); err != nil {
		return err
	}
	if err := s.provisioner.Provision(ctx, s.Scope(session), session.RepoPath, script); err != nil {
		return s.fail(ctx, sessionID, err)
	}
	_, err = s.publisher.Publish(ctx, sessionID, store.KindProvisioned, nil, "")
	return err
}

// Trigger starts a build of the session's pipeline. The returned record
// lists the declared stages as pending.
func (s *DeploymentService) Trigger(ctx context.Context, sessionID string) (*store.BuildRecord, error) {
	session, script, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, s.fail(ctx, sessionID, err)
	}
	id, err := s.controller.Trigger(ctx, s.Scope(session))
	if err != nil {
		return nil, s.fail(ctx, sessionID, err)
	}
	rec := &store.BuildRecord{BuildID: id, Building: true}
	for _, name := range StageNames(script) {
		rec.Stages = append(rec.Stages, store.StageRecord{Name: name, Status: store.StagePending})
	}
	if _, err := s.publisher.Publish(ctx, sessionID, store.KindTriggered, rec, ""); err != nil {
		return nil, err
	}
	return rec, nil
}

// Poll reconciles the build once and publishes RUNNING or COMPLETED.
func (s *DeploymentService) Poll(ctx context.Context, sessionID string, buildID int64) (*store.BuildRecord, error) {
	session, script, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	rec, err := s.reconciler.Poll(ctx, s.Scope(session), script, buildID)
	if err != nil {
		return nil, err
	}
	kind := store.KindRunning
	if !rec.Building {
		kind = store.KindCompleted
	}
	if _, err := s.publisher.Publish(ctx, sessionID, kind, rec, rec.Result); err != nil {
		return nil, err
	}
	return rec, nil
}

// Monitor polls the build until the backend reports it finished. A poll
// failure publishes FAILED and ends the loop. Cancelling ctx ends the loop
// without publishing.
func (s *DeploymentService) Monitor(ctx context.Context, sessionID string, buildID int64) (*store.BuildRecord, error) {
	for {
		rec, err := s.Poll(ctx, sessionID, buildID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, s.fail(ctx, sessionID, err)
		}
		if !rec.Building {
			return rec, nil
		}
		select {
		case <-s.clock.After(s.options.PollInterval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Abort requests the backend to stop the build. A running Monitor observes
// the outcome on its next poll.
func (s *DeploymentService) Abort(ctx context.Context, sessionID string, buildID int64) error {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := s.controller.Abort(ctx, s.Scope(session), buildID); err != nil {
		return err
	}
	_, err = s.publisher.Publish(
		ctx, sessionID, store.KindAbortRequested, nil,
		fmt.Sprintf("stop requested for build %d", buildID),
	)
	return err
}

// Deploy queues provision, trigger and monitor as one task of the session.
func (s *DeploymentService) Deploy(ctx context.Context, sessionID string) error {
	if _, _, err := s.load(ctx, sessionID); err != nil {
		return err
	}
	return s.queue.Enqueue(sessionID, func(ctx context.Context) {
		if err := s.deploy(ctx, sessionID); err != nil {
			log.Printf("deployment of session %s ended: %+v\n", sessionID, err)
		}
	})
}

// StartMonitor queues Monitor for an already triggered build.
func (s *DeploymentService) StartMonitor(ctx context.Context, sessionID string, buildID int64) error {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return err
	}
	return s.queue.Enqueue(sessionID, func(ctx context.Context) {
		if _, err := s.Monitor(ctx, sessionID, buildID); err != nil {
			log.Printf("monitoring build %d of session %s ended: %+v\n", buildID, sessionID, err)
		}
	})
}

// StopMonitor cancels the session's queued or running task. The build itself
// keeps running.
func (s *DeploymentService) StopMonitor(sessionID string) bool {
	return s.queue.Stop(sessionID)
}

// PipelineScript returns the script stored in the backend for the session.
func (s *DeploymentService) PipelineScript(ctx context.Context, sessionID string) (string, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return s.provisioner.DeployedScript(ctx, s.Scope(session))
}

func (s *DeploymentService) Subscribe(sessionID string) (string, <-chan store.Notification) {
	return s.publisher.Subscribe(sessionID)
}

func (s *DeploymentService) Unsubscribe(sessionID, subscriberID string) {
	s.publisher.Unsubscribe(sessionID, subscriberID)
}

func (s *DeploymentService) deploy(ctx context.Context, sessionID string) error {
	if err := s.Provision(ctx, sessionID); err != nil {
		return err
	}
	rec, err := s.Trigger(ctx, sessionID)
	if err != nil {
		return err
	}
	_, err = s.Monitor(ctx, sessionID, rec.BuildID)
	return err
}

func (s *DeploymentService) load(ctx context.Context, sessionID string) (*store.Session, string, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, "", err
	}
	script, err := ResolvePipelineScript(session)
	if err != nil {
		return nil, "", err
	}
	return session, script, nil
}

// fail publishes a FAILED notification carrying err and returns err. The
// notification is stored even when ctx is already cancelled.
func (s *DeploymentService) fail(ctx context.Context, sessionID string, err error) error {
	if errors.Is(err, ErrSessionNotFound) {
		return err
	}
	log.Printf("session %s failed: %+v\n", sessionID, err)
	if _, pubErr := s.publisher.Publish(
		context.WithoutCancel(ctx), sessionID, store.KindFailed, nil, err.Error(),
	); pubErr != nil {
		return errors.Join(err, pubErr)
	}
	return err
}
