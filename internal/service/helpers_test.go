package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/haatos/deplora/internal/jenkins"
	"github.com/haatos/deplora/internal/store"
	"github.com/haatos/deplora/testutil"
	"github.com/stretchr/testify/require"
)

const threeStageScript = `pipeline {
    agent any
    stages {
        stage('Init') {
            steps { sh 'terraform init' }
        }
        // stage('Disabled') { steps { sh 'true' } }
        stage("Plan") {
            steps { sh 'terraform plan -out tf.plan' }
        }
        stage('Apply') {
            steps { sh 'terraform apply tf.plan' }
        }
    }
}
`

func newTestSessionStore(t *testing.T) *store.SessionSQLStore {
	t.Helper()
	db, err := sql.Open(store.DriverSQLite, ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, store.RunMigrations(db, store.DriverSQLite))
	return store.NewSessionSQLStore(db, db)
}

func newTestJenkins(t *testing.T) (*testutil.FakeJenkins, *jenkins.Client) {
	t.Helper()
	fj := testutil.NewFakeJenkins()
	t.Cleanup(fj.Close)
	return fj, jenkins.NewClient(fj.URL(), testutil.FakeJenkinsUser, testutil.FakeJenkinsToken, 5*time.Second)
}

func newTestSession(id, orgID, script string) *store.Session {
	return &store.Session{
		SessionID:      id,
		OrganizationID: orgID,
		RepoPath:       "/srv/repos/" + id,
		PipelineScript: script,
	}
}

// putJob creates the folders and pipeline job of scope directly in the fake.
func putJob(fj *testutil.FakeJenkins, scope PipelineScope) {
	fj.PutItem(testutil.FakeItem{Folder: true}, scope.Organization)
	fj.PutItem(testutil.FakeItem{Folder: true}, scope.Organization, scope.Project)
	fj.PutItem(testutil.FakeItem{}, scope.Organization, scope.Project, scope.Pipeline)
}

func seedSession(t *testing.T, ss store.SessionStore, s *store.Session) {
	t.Helper()
	require.NoError(t, ss.UpsertSession(context.Background(), s))
}
