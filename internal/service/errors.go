package service

import "errors"

var (
	// ErrProvisioningConflict is a 4xx other than "already exists" while
	// creating scopes, credentials or the pipeline.
	ErrProvisioningConflict = errors.New("provisioning conflict")
	// ErrProvisioningFailure is a 5xx while provisioning or any failure to
	// trigger a build.
	ErrProvisioningFailure   = errors.New("provisioning failure")
	ErrBuildNotFound         = errors.New("build not found")
	ErrSessionNotFound       = errors.New("session not found")
	ErrSessionBusy           = errors.New("session already has an active task")
	ErrMissingPipelineScript = errors.New("session has no pipeline script")
	ErrInvalidPipelineScript = errors.New("invalid pipeline script")
)

type ErrDeploymentQueueFull struct{}

func (e ErrDeploymentQueueFull) Error() string {
	return "deployment queue is full"
}

func NewErrDeploymentQueueFull() *ErrDeploymentQueueFull {
	return &ErrDeploymentQueueFull{}
}
