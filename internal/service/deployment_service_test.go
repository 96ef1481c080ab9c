package service

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/haatos/deplora/internal/store"
	"github.com/haatos/deplora/testutil"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPollInterval = 5 * time.Second

type deploymentFixture struct {
	fj    *testutil.FakeJenkins
	ss    *store.SessionSQLStore
	clock *clockwork.FakeClock
	svc   *DeploymentService
}

func newDeploymentFixture(t *testing.T) *deploymentFixture {
	t.Helper()
	fj, client := newTestJenkins(t)
	ss := newTestSessionStore(t)
	clock := clockwork.NewFakeClockAt(time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC))
	queue := NewDeploymentQueue(2, 4)
	queue.Start()
	t.Cleanup(queue.Shutdown)
	svc := NewDeploymentService(
		ss,
		NewProvisioner(client, testProvisionerOptions),
		NewBuildController(client, clock, 0),
		NewReconciler(client, 2),
		NewPublisher(ss, clock),
		queue,
		clock,
		DeploymentOptions{PipelineName: "deployment", PollInterval: testPollInterval},
	)
	return &deploymentFixture{fj: fj, ss: ss, clock: clock, svc: svc}
}

// threeStageBuild finishes on the given poll with every stage successful.
func threeStageBuild(finishAfter int) func() testutil.FakeBuild {
	return func() testutil.FakeBuild {
		return testutil.FakeBuild{
			Building:    true,
			FinishAfter: finishAfter,
			FinalResult: "SUCCESS",
			Stages: []testutil.FakeStage{
				{ID: "6", Name: "Init", Status: "SUCCESS", Log: "init ok\n"},
				{ID: "12", Name: "Plan", Status: "IN_PROGRESS", Log: "planning\n"},
			},
		}
	}
}

// collect reads notifications until a terminal one arrives, advancing the
// fake clock whenever nothing is pending.
func (f *deploymentFixture) collect(t *testing.T, ch <-chan store.Notification) []store.Notification {
	t.Helper()
	var got []store.Notification
	deadline := time.After(5 * time.Second)
	for {
		select {
		case n := <-ch:
			got = append(got, n)
			if n.Kind.Terminal() {
				return got
			}
		case <-time.After(10 * time.Millisecond):
			f.clock.Advance(testPollInterval)
		case <-deadline:
			t.Fatalf("no terminal notification, got %d notifications", len(got))
		}
	}
}

func kinds(ns []store.Notification) []store.StatusKind {
	ks := make([]store.StatusKind, len(ns))
	for i, n := range ns {
		ks[i] = n.Kind
	}
	return ks
}

func TestDeploymentService_Deploy(t *testing.T) {
	t.Run("success - provision trigger and monitor to completion", func(t *testing.T) {
		// arrange
		f := newDeploymentFixture(t)
		f.fj.NewBuild = threeStageBuild(2)
		ctx := context.Background()
		_, err := f.svc.SaveSession(ctx, newTestSession("s-1", "org-1", threeStageScript))
		require.NoError(t, err)
		subID, ch := f.svc.Subscribe("s-1")
		defer f.svc.Unsubscribe("s-1", subID)

		// act
		err = f.svc.Deploy(ctx, "s-1")
		require.NoError(t, err)
		got := f.collect(t, ch)

		// assert
		assert.Equal(t, []store.StatusKind{
			store.KindProvisioning,
			store.KindProvisioned,
			store.KindTriggered,
			store.KindRunning,
			store.KindCompleted,
		}, kinds(got))
		triggered := got[2].Build
		assert.Equal(t, int64(1), triggered.BuildID)
		assert.Equal(t, []string{"Init", "Plan", "Apply"}, triggered.StageNames())
		last := got[len(got)-1]
		assert.False(t, last.Build.Building)
		assert.Equal(t, "SUCCESS", last.Build.Result)
		assert.Equal(t, []string{"Init", "Plan", "Apply"}, last.Build.StageNames())
		assert.Equal(t, store.StageSuccess, last.Build.Stages[1].Status)
		assert.Equal(t, store.StageNotExecuted, last.Build.Stages[2].Status)

		s, err := f.svc.GetSession(ctx, "s-1")
		require.NoError(t, err)
		assert.Equal(t, &last, s.LastStatus)
		assert.Equal(t, last.Build, s.LastBuild)
		script, err := f.svc.PipelineScript(ctx, "s-1")
		assert.NoError(t, err)
		assert.Equal(t, threeStageScript, script)
	})
	t.Run("failure - session busy while deploying", func(t *testing.T) {
		// arrange
		f := newDeploymentFixture(t)
		f.fj.NewBuild = threeStageBuild(0)
		ctx := context.Background()
		_, err := f.svc.SaveSession(ctx, newTestSession("s-1", "org-1", threeStageScript))
		require.NoError(t, err)
		require.NoError(t, f.svc.Deploy(ctx, "s-1"))

		// act
		err = f.svc.Deploy(ctx, "s-1")

		// assert
		assert.ErrorIs(t, err, ErrSessionBusy)
		assert.True(t, f.svc.StopMonitor("s-1"))
	})
	t.Run("failure - unknown session", func(t *testing.T) {
		f := newDeploymentFixture(t)

		err := f.svc.Deploy(context.Background(), "missing")

		assert.ErrorIs(t, err, ErrSessionNotFound)
	})
	t.Run("failure - session without script", func(t *testing.T) {
		f := newDeploymentFixture(t)
		session := newTestSession("s-1", "org-1", "")
		session.RepoPath = t.TempDir()
		_, err := f.svc.SaveSession(context.Background(), session)
		require.NoError(t, err)

		err = f.svc.Deploy(context.Background(), "s-1")

		assert.ErrorIs(t, err, ErrMissingPipelineScript)
	})
}

func TestDeploymentService_Provision(t *testing.T) {
	t.Run("failure - rejected provisioning publishes failed", func(t *testing.T) {
		// arrange
		f := newDeploymentFixture(t)
		f.fj.Fail(http.MethodPost, "/createItem", http.StatusForbidden, "Access Denied: deplora is missing the Job/Create permission")
		ctx := context.Background()
		_, err := f.svc.SaveSession(ctx, newTestSession("s-1", "org-1", threeStageScript))
		require.NoError(t, err)

		// act
		err = f.svc.Provision(ctx, "s-1")

		// assert
		assert.ErrorIs(t, err, ErrProvisioningConflict)
		s, err := f.svc.GetSession(ctx, "s-1")
		require.NoError(t, err)
		assert.Equal(t, store.KindFailed, s.LastStatus.Kind)
		assert.Contains(t, s.LastStatus.Message, "missing the Job/Create permission")
		assert.NotContains(t, s.LastStatus.Message, "<")
	})
	t.Run("success - reprovision converges to latest script", func(t *testing.T) {
		// arrange
		f := newDeploymentFixture(t)
		ctx := context.Background()
		session := newTestSession("s-1", "org-1", threeStageScript)
		_, err := f.svc.SaveSession(ctx, session)
		require.NoError(t, err)
		require.NoError(t, f.svc.Provision(ctx, "s-1"))
		session.PipelineScript = "pipeline { stages { stage('B') { steps { echo 'b' } } } }"
		_, err = f.svc.SaveSession(ctx, session)
		require.NoError(t, err)

		// act
		err = f.svc.Provision(ctx, "s-1")

		// assert
		assert.NoError(t, err)
		script, err := f.svc.PipelineScript(ctx, "s-1")
		assert.NoError(t, err)
		assert.Equal(t, session.PipelineScript, script)
		s, err := f.svc.GetSession(ctx, "s-1")
		assert.NoError(t, err)
		assert.Equal(t, store.KindProvisioned, s.LastStatus.Kind)
	})
}

func TestDeploymentService_Trigger(t *testing.T) {
	t.Run("failure - trigger without pipeline publishes failed", func(t *testing.T) {
		f := newDeploymentFixture(t)
		ctx := context.Background()
		_, err := f.svc.SaveSession(ctx, newTestSession("s-1", "org-1", threeStageScript))
		require.NoError(t, err)

		_, err = f.svc.Trigger(ctx, "s-1")

		assert.ErrorIs(t, err, ErrProvisioningFailure)
		s, err := f.svc.GetSession(ctx, "s-1")
		require.NoError(t, err)
		assert.Equal(t, store.KindFailed, s.LastStatus.Kind)
	})
	t.Run("success - second trigger follows first", func(t *testing.T) {
		// arrange
		f := newDeploymentFixture(t)
		ctx := context.Background()
		_, err := f.svc.SaveSession(ctx, newTestSession("s-1", "org-1", threeStageScript))
		require.NoError(t, err)
		require.NoError(t, f.svc.Provision(ctx, "s-1"))
		first, err := f.svc.Trigger(ctx, "s-1")
		require.NoError(t, err)

		// act
		second, err := f.svc.Trigger(ctx, "s-1")

		// assert
		assert.NoError(t, err)
		assert.Equal(t, int64(1), first.BuildID)
		assert.Equal(t, int64(2), second.BuildID)
		s, err := f.svc.GetSession(ctx, "s-1")
		require.NoError(t, err)
		assert.Equal(t, second, s.LastBuild)
	})
}

func TestDeploymentService_Monitor(t *testing.T) {
	t.Run("success - returns what it last published", func(t *testing.T) {
		// arrange
		f := newDeploymentFixture(t)
		f.fj.NewBuild = threeStageBuild(3)
		ctx := context.Background()
		_, err := f.svc.SaveSession(ctx, newTestSession("s-1", "org-1", threeStageScript))
		require.NoError(t, err)
		require.NoError(t, f.svc.Provision(ctx, "s-1"))
		rec, err := f.svc.Trigger(ctx, "s-1")
		require.NoError(t, err)
		_, ch := f.svc.Subscribe("s-1")

		// act
		type result struct {
			rec *store.BuildRecord
			err error
		}
		done := make(chan result, 1)
		go func() {
			r, err := f.svc.Monitor(ctx, "s-1", rec.BuildID)
			done <- result{r, err}
		}()
		got := f.collect(t, ch)
		res := <-done

		// assert
		require.NoError(t, res.err)
		assert.Equal(t, []store.StatusKind{store.KindRunning, store.KindRunning, store.KindCompleted}, kinds(got))
		assert.Equal(t, res.rec, got[len(got)-1].Build)
		assert.Equal(t, 3, f.fj.Requests(http.MethodGet, "/1/api/json"))
		s, err := f.svc.GetSession(ctx, "s-1")
		require.NoError(t, err)
		assert.Equal(t, res.rec, s.LastBuild)
	})
	t.Run("failure - poll error publishes failed and stops", func(t *testing.T) {
		// arrange
		f := newDeploymentFixture(t)
		ctx := context.Background()
		_, err := f.svc.SaveSession(ctx, newTestSession("s-1", "org-1", threeStageScript))
		require.NoError(t, err)
		require.NoError(t, f.svc.Provision(ctx, "s-1"))

		// act
		_, err = f.svc.Monitor(ctx, "s-1", 99)

		// assert
		assert.ErrorIs(t, err, ErrBuildNotFound)
		s, err := f.svc.GetSession(ctx, "s-1")
		require.NoError(t, err)
		assert.Equal(t, store.KindFailed, s.LastStatus.Kind)
		assert.Equal(t, 1, f.fj.Requests(http.MethodGet, "/99/api/json"))
	})
	t.Run("success - stopped monitor publishes nothing more", func(t *testing.T) {
		// arrange
		f := newDeploymentFixture(t)
		f.fj.NewBuild = threeStageBuild(0)
		ctx := context.Background()
		_, err := f.svc.SaveSession(ctx, newTestSession("s-1", "org-1", threeStageScript))
		require.NoError(t, err)
		require.NoError(t, f.svc.Provision(ctx, "s-1"))
		rec, err := f.svc.Trigger(ctx, "s-1")
		require.NoError(t, err)
		_, ch := f.svc.Subscribe("s-1")
		require.NoError(t, f.svc.StartMonitor(ctx, "s-1", rec.BuildID))
		first := <-ch
		require.Equal(t, store.KindRunning, first.Kind)

		// act
		stopped := f.svc.StopMonitor("s-1")

		// assert
		assert.True(t, stopped)
		assert.Eventually(t, func() bool { return !f.svc.StopMonitor("s-1") }, time.Second, 5*time.Millisecond)
		s, err := f.svc.GetSession(ctx, "s-1")
		require.NoError(t, err)
		assert.Equal(t, store.KindRunning, s.LastStatus.Kind)
	})
}

func TestDeploymentService_Abort(t *testing.T) {
	t.Run("success - abort is observed by poll and repeatable", func(t *testing.T) {
		// arrange
		f := newDeploymentFixture(t)
		f.fj.NewBuild = threeStageBuild(0)
		ctx := context.Background()
		_, err := f.svc.SaveSession(ctx, newTestSession("s-1", "org-1", threeStageScript))
		require.NoError(t, err)
		require.NoError(t, f.svc.Provision(ctx, "s-1"))
		rec, err := f.svc.Trigger(ctx, "s-1")
		require.NoError(t, err)

		// act
		err = f.svc.Abort(ctx, "s-1", rec.BuildID)
		require.NoError(t, err)
		s, err := f.svc.GetSession(ctx, "s-1")
		require.NoError(t, err)
		requested := s.LastStatus
		first, err := f.svc.Poll(ctx, "s-1", rec.BuildID)
		require.NoError(t, err)
		again := f.svc.Abort(ctx, "s-1", rec.BuildID)
		second, err := f.svc.Poll(ctx, "s-1", rec.BuildID)

		// assert
		assert.Equal(t, store.KindAbortRequested, requested.Kind)
		assert.NoError(t, again)
		assert.NoError(t, err)
		assert.False(t, first.Building)
		assert.Equal(t, "ABORTED", first.Result)
		assert.Equal(t, store.StageAborted, first.Stages[1].Status)
		assert.Equal(t, first, second)
	})
	t.Run("failure - unknown build", func(t *testing.T) {
		f := newDeploymentFixture(t)
		ctx := context.Background()
		_, err := f.svc.SaveSession(ctx, newTestSession("s-1", "org-1", threeStageScript))
		require.NoError(t, err)
		require.NoError(t, f.svc.Provision(ctx, "s-1"))

		err = f.svc.Abort(ctx, "s-1", 5)

		assert.ErrorIs(t, err, ErrBuildNotFound)
	})
}

func TestDeploymentService_SaveSession(t *testing.T) {
	t.Run("success - keeps last build and status", func(t *testing.T) {
		// arrange
		f := newDeploymentFixture(t)
		ctx := context.Background()
		session := newTestSession("s-1", "org-1", threeStageScript)
		_, err := f.svc.SaveSession(ctx, session)
		require.NoError(t, err)
		require.NoError(t, f.svc.Provision(ctx, "s-1"))
		rec, err := f.svc.Trigger(ctx, "s-1")
		require.NoError(t, err)

		// act
		saved, err := f.svc.SaveSession(ctx, &store.Session{
			SessionID:      "s-1",
			OrganizationID: "org-1",
			RepoPath:       "/srv/repos/moved",
			PipelineScript: threeStageScript,
		})

		// assert
		require.NoError(t, err)
		assert.Equal(t, rec, saved.LastBuild)
		assert.Equal(t, store.KindTriggered, saved.LastStatus.Kind)
		got, err := f.svc.GetSession(ctx, "s-1")
		require.NoError(t, err)
		assert.Equal(t, "/srv/repos/moved", got.RepoPath)
		assert.Equal(t, rec, got.LastBuild)
	})
}
