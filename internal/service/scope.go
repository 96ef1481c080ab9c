package service

import (
	"github.com/haatos/deplora/internal/jenkins"
	"github.com/haatos/deplora/internal/store"
)

// PipelineScope is the organization folder, project folder and pipeline job
// that a session deploys through. It is derived from the session alone, so
// every call for the same session addresses the same items.
type PipelineScope struct {
	Organization string
	Project      string
	Pipeline     string
}

func NewPipelineScope(s *store.Session, pipelineName string) PipelineScope {
	return PipelineScope{
		Organization: s.OrganizationID,
		Project:      s.SessionID,
		Pipeline:     pipelineName,
	}
}

func (ps PipelineScope) OrganizationPath() jenkins.Path {
	return jenkins.Path{ps.Organization}
}

func (ps PipelineScope) ProjectPath() jenkins.Path {
	return ps.OrganizationPath().Child(ps.Project)
}

func (ps PipelineScope) JobPath() jenkins.Path {
	return ps.ProjectPath().Child(ps.Pipeline)
}
