package store

import (
	"context"
	"time"
)

type StatusKind string

const (
	KindProvisioning   StatusKind = "PROVISIONING"
	KindProvisioned    StatusKind = "PROVISIONED"
	KindTriggered      StatusKind = "TRIGGERED"
	KindRunning        StatusKind = "RUNNING"
	KindCompleted      StatusKind = "COMPLETED"
	KindAbortRequested StatusKind = "ABORT_REQUESTED"
	KindFailed         StatusKind = "FAILED"
)

// Terminal reports whether no further transition follows this kind within
// the same workflow.
func (k StatusKind) Terminal() bool {
	return k == KindCompleted || k == KindFailed
}

// Notification is one published state transition of a session.
type Notification struct {
	SessionID   string       `json:"session_id"`
	Kind        StatusKind   `json:"kind"`
	Build       *BuildRecord `json:"build,omitempty"`
	Message     string       `json:"message,omitempty"`
	PublishedOn time.Time    `json:"published_on"`
}

// Session is the mutable snapshot of one deployment attempt.
type Session struct {
	SessionID      string            `json:"session_id"`
	OrganizationID string            `json:"organization_id"`
	RepoPath       string            `json:"repo_path"`
	PipelineScript string            `json:"pipeline_script,omitempty"`
	CurrentPlan    map[string]string `json:"current_plan,omitempty"`
	LastBuild      *BuildRecord      `json:"last_build,omitempty"`
	LastStatus     *Notification     `json:"last_status,omitempty"`
	UpdatedOn      time.Time         `json:"updated_on"`
}

// SessionStore is atomic per key. ReadSessionByID returns sql.ErrNoRows for
// an unknown id.
type SessionStore interface {
	ReadSessionByID(context.Context, string) (*Session, error)
	UpsertSession(context.Context, *Session) error
	DeleteSessionsUpdatedBefore(context.Context, time.Time) (int64, error)
}
