package handler

type SessionParams struct {
	SessionID string `param:"session_id"`
}

type BuildParams struct {
	SessionID string `param:"session_id"`
	BuildID   int64  `param:"build_id"`
}

type SaveSessionParams struct {
	SessionID      string            `param:"session_id"`
	OrganizationID string            `                   json:"organization_id"`
	RepoPath       string            `                   json:"repo_path"`
	PipelineScript string            `                   json:"pipeline_script"`
	CurrentPlan    map[string]string `                   json:"current_plan"`
}
