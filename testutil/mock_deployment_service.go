package testutil

import (
	"context"

	"github.com/haatos/deplora/internal/store"
	"github.com/stretchr/testify/mock"
)

type MockDeploymentService struct {
	mock.Mock
}

func (m *MockDeploymentService) SaveSession(
	ctx context.Context,
	session *store.Session,
) (*store.Session, error) {
	args := m.Called(ctx, session)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.Session), args.Error(1)
}

func (m *MockDeploymentService) GetSession(ctx context.Context, sessionID string) (*store.Session, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.Session), args.Error(1)
}

func (m *MockDeploymentService) Provision(ctx context.Context, sessionID string) error {
	args := m.Called(ctx, sessionID)
	return args.Error(0)
}

func (m *MockDeploymentService) Trigger(ctx context.Context, sessionID string) (*store.BuildRecord, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.BuildRecord), args.Error(1)
}

func (m *MockDeploymentService) Poll(
	ctx context.Context,
	sessionID string,
	buildID int64,
) (*store.BuildRecord, error) {
	args := m.Called(ctx, sessionID, buildID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.BuildRecord), args.Error(1)
}

func (m *MockDeploymentService) Abort(ctx context.Context, sessionID string, buildID int64) error {
	args := m.Called(ctx, sessionID, buildID)
	return args.Error(0)
}

func (m *MockDeploymentService) Deploy(ctx context.Context, sessionID string) error {
	args := m.Called(ctx, sessionID)
	return args.Error(0)
}

func (m *MockDeploymentService) StartMonitor(ctx context.Context, sessionID string, buildID int64) error {
	args := m.Called(ctx, sessionID, buildID)
	return args.Error(0)
}

func (m *MockDeploymentService) StopMonitor(sessionID string) bool {
	args := m.Called(sessionID)
	return args.Bool(0)
}

func (m *MockDeploymentService) PipelineScript(ctx context.Context, sessionID string) (string, error) {
	args := m.Called(ctx, sessionID)
	return args.String(0), args.Error(1)
}

func (m *MockDeploymentService) Subscribe(sessionID string) (string, <-chan store.Notification) {
	args := m.Called(sessionID)
	return args.String(0), args.Get(1).(<-chan store.Notification)
}

func (m *MockDeploymentService) Unsubscribe(sessionID, subscriberID string) {
	m.Called(sessionID, subscriberID)
}
