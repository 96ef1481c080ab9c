package service

import (
	"context"
	"net/http"
	"testing"

	"github.com/haatos/deplora/internal/jenkins"
	"github.com/haatos/deplora/internal/store"
	"github.com/haatos/deplora/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconciler_Poll(t *testing.T) {
	t.Run("success - unreported stages filled as pending", func(t *testing.T) {
		// arrange
		fj, client := newTestJenkins(t)
		putJob(fj, testScope)
		id := fj.AddBuild(testutil.FakeBuild{
			Building: true,
			Stages: []testutil.FakeStage{
				{ID: "6", Name: "Init", Status: "SUCCESS", DurationMillis: 900, Log: "Initializing the backend...\nTerraform has been successfully initialized!\n"},
				{ID: "14", Name: "Plan", Status: "IN_PROGRESS", DurationMillis: 200, Log: "Refreshing state...\n"},
			},
		}, testScope.JobPath()...)
		r := NewReconciler(client, 2)

		// act
		rec, err := r.Poll(context.Background(), testScope, threeStageScript, id)

		// assert
		require.NoError(t, err)
		assert.True(t, rec.Building)
		assert.Equal(t, id, rec.BuildID)
		assert.Equal(t, []string{"Init", "Plan", "Apply"}, rec.StageNames())
		assert.Equal(t, store.StageRecord{
			Name:           "Init",
			Status:         store.StageSuccess,
			DurationMillis: 900,
			NodeID:         "6",
			Logs:           []string{"Initializing the backend...", "Terraform has been successfully initialized!"},
		}, rec.Stages[0])
		assert.Equal(t, store.StageInProgress, rec.Stages[1].Status)
		assert.Equal(t, []string{"Refreshing state..."}, rec.Stages[1].Logs)
		assert.Equal(t, store.StageRecord{Name: "Apply", Status: store.StagePending}, rec.Stages[2])
	})
	t.Run("success - no stages reported while queued", func(t *testing.T) {
		fj, client := newTestJenkins(t)
		putJob(fj, testScope)
		id := fj.AddBuild(testutil.FakeBuild{Building: true}, testScope.JobPath()...)
		r := NewReconciler(client, 2)

		rec, err := r.Poll(context.Background(), testScope, threeStageScript, id)

		assert.NoError(t, err)
		assert.Equal(t, []string{"Init", "Plan", "Apply"}, rec.StageNames())
		for _, s := range rec.Stages {
			assert.Equal(t, store.StagePending, s.Status)
			assert.Nil(t, s.Logs)
		}
	})
	t.Run("success - stages never reached are not executed", func(t *testing.T) {
		// arrange
		fj, client := newTestJenkins(t)
		putJob(fj, testScope)
		id := fj.AddBuild(testutil.FakeBuild{
			Result: "FAILURE",
			Stages: []testutil.FakeStage{
				{ID: "6", Name: "Init", Status: "FAILED", Log: "Error: Invalid provider configuration\n"},
			},
		}, testScope.JobPath()...)
		r := NewReconciler(client, 2)

		// act
		rec, err := r.Poll(context.Background(), testScope, threeStageScript, id)

		// assert
		require.NoError(t, err)
		assert.False(t, rec.Building)
		assert.Equal(t, "FAILURE", rec.Result)
		assert.Equal(t, store.StageFailed, rec.Stages[0].Status)
		assert.Equal(t, store.StageNotExecuted, rec.Stages[1].Status)
		assert.Equal(t, store.StageNotExecuted, rec.Stages[2].Status)
		assert.Equal(t, 0, fj.Requests(http.MethodGet, "/consoleText"))
	})
	t.Run("success - backend only stages kept", func(t *testing.T) {
		fj, client := newTestJenkins(t)
		putJob(fj, testScope)
		id := fj.AddBuild(testutil.FakeBuild{
			Building: true,
			Stages: []testutil.FakeStage{
				{ID: "3", Name: "Declarative: Checkout SCM", Status: "SUCCESS", Log: "Cloning\n"},
			},
		}, testScope.JobPath()...)
		r := NewReconciler(client, 2)

		rec, err := r.Poll(context.Background(), testScope, threeStageScript, id)

		assert.NoError(t, err)
		assert.Equal(t, []string{"Declarative: Checkout SCM", "Init", "Plan", "Apply"}, rec.StageNames())
	})
	t.Run("success - failure before any stage falls back to console", func(t *testing.T) {
		// arrange
		fj, client := newTestJenkins(t)
		putJob(fj, testScope)
		console := "Started by user admin\norg.codehaus.groovy.control.MultipleCompilationErrorsException: startup failed:\nWorkflowScript: 3: unexpected token: } @ line 3\nFinished: FAILURE\n"
		id := fj.AddBuild(testutil.FakeBuild{Result: "FAILURE", Console: console}, testScope.JobPath()...)
		r := NewReconciler(client, 2)
		script := "pipeline {\n  stages {\n    stage('Only') { }\n}"

		// act
		rec, err := r.Poll(context.Background(), testScope, script, id)

		// assert
		require.NoError(t, err)
		require.Len(t, rec.Stages, 1)
		assert.Equal(t, "Only", rec.Stages[0].Name)
		assert.Equal(t, store.StageFailed, rec.Stages[0].Status)
		assert.Equal(t, jenkins.SplitLines(console), rec.Stages[0].Logs)
		assert.Len(t, rec.Stages[0].Logs, 4)
	})
	t.Run("success - synthetic stage when script declares none", func(t *testing.T) {
		fj, client := newTestJenkins(t)
		putJob(fj, testScope)
		id := fj.AddBuild(testutil.FakeBuild{Result: "FAILURE", Console: "boom\n"}, testScope.JobPath()...)
		r := NewReconciler(client, 2)

		rec, err := r.Poll(context.Background(), testScope, "node { sh 'x' }", id)

		assert.NoError(t, err)
		assert.Equal(t, []store.StageRecord{
			{Name: FallbackStageName, Status: store.StageFailed, Logs: []string{"boom"}},
		}, rec.Stages)
	})
	t.Run("success - fallback overwrites first stage only", func(t *testing.T) {
		fj, client := newTestJenkins(t)
		putJob(fj, testScope)
		id := fj.AddBuild(testutil.FakeBuild{Result: "FAILURE", Console: "a\nb"}, testScope.JobPath()...)
		r := NewReconciler(client, 2)

		rec, err := r.Poll(context.Background(), testScope, threeStageScript, id)

		assert.NoError(t, err)
		assert.Equal(t, store.StageFailed, rec.Stages[0].Status)
		assert.Equal(t, []string{"a", "b"}, rec.Stages[0].Logs)
		assert.True(t, rec.HasLogs())
		assert.Equal(t, store.StageNotExecuted, rec.Stages[1].Status)
	})
	t.Run("failure - unknown build", func(t *testing.T) {
		fj, client := newTestJenkins(t)
		putJob(fj, testScope)
		r := NewReconciler(client, 2)

		_, err := r.Poll(context.Background(), testScope, threeStageScript, 9)

		assert.ErrorIs(t, err, ErrBuildNotFound)
	})
	t.Run("failure - stage log error surfaces", func(t *testing.T) {
		fj, client := newTestJenkins(t)
		putJob(fj, testScope)
		id := fj.AddBuild(testutil.FakeBuild{
			Building: true,
			Stages:   []testutil.FakeStage{{ID: "6", Name: "Init", Status: "IN_PROGRESS"}},
		}, testScope.JobPath()...)
		fj.Fail(http.MethodGet, "/pipeline-console/log", http.StatusInternalServerError, "log storage offline")
		r := NewReconciler(client, 2)

		_, err := r.Poll(context.Background(), testScope, threeStageScript, id)

		assert.Error(t, err)
		assert.Contains(t, err.Error(), "log storage offline")
	})
}

func TestStageStatus(t *testing.T) {
	tests := map[string]store.StageStatus{
		"SUCCESS":              store.StageSuccess,
		"FAILED":               store.StageFailed,
		"UNSTABLE":             store.StageFailed,
		"ABORTED":              store.StageAborted,
		"IN_PROGRESS":          store.StageInProgress,
		"PAUSED_PENDING_INPUT": store.StageInProgress,
		"NOT_EXECUTED":         store.StageNotExecuted,
		"QUEUED":               store.StagePending,
	}
	for in, expected := range tests {
		assert.Equal(t, expected, stageStatus(in), in)
	}
}
