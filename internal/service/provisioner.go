package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/haatos/deplora/internal"
	"github.com/haatos/deplora/internal/jenkins"
)

type ProvisioningClient interface {
	CreateFolder(context.Context, jenkins.Path, string, jenkins.FolderConfig) error
	UpdateFolder(context.Context, jenkins.Path, jenkins.FolderConfig) error
	CreatePipeline(context.Context, jenkins.Path, string, jenkins.PipelineConfig) error
	UpdatePipeline(context.Context, jenkins.Path, jenkins.PipelineConfig) error
	GetPipelineScript(context.Context, jenkins.Path) (string, error)
	CreateStringCredential(context.Context, jenkins.Path, string, string) error
	ValidatePipelineScript(context.Context, string) (bool, string, error)
}

type ProvisionerOptions struct {
	// OrganizationSecrets are created as empty secret text credentials in
	// every organization folder.
	OrganizationSecrets []string
	// OrganizationEnv is set on an organization folder when it is created.
	OrganizationEnv map[string]string
	// ValidateScript lints the script before it is stored.
	ValidateScript bool
}

// Provisioner makes sure the folders, credentials and pipeline job of a
// scope exist. Every step treats "already exists" as success, so it can run
// before every build and concurrently for sessions of one organization.
type Provisioner struct {
	client  ProvisioningClient
	options ProvisionerOptions
}

func NewProvisioner(client ProvisioningClient, options ProvisionerOptions) *Provisioner {
	return &Provisioner{client: client, options: options}
}

func (p *Provisioner) Provision(ctx context.Context, scope PipelineScope, repoPath, script string) error {
	if p.options.ValidateScript {
		ok, text, err := p.client.ValidatePipelineScript(ctx, script)
		if err != nil {
			return classifyProvisioningError("validating pipeline script", err)
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrInvalidPipelineScript, text)
		}
	}
	if err := p.ensureOrganization(ctx, scope); err != nil {
		return err
	}
	if err := p.ensureProject(ctx, scope, repoPath); err != nil {
		return err
	}
	return p.ensurePipeline(ctx, scope, script)
}

// DeployedScript reads back the script currently stored in the scope's job.
func (p *Provisioner) DeployedScript(ctx context.Context, scope PipelineScope) (string, error) {
	return p.client.GetPipelineScript(ctx, scope.JobPath())
}

func (p *Provisioner) ensureOrganization(ctx context.Context, scope PipelineScope) error {
	err := p.client.CreateFolder(ctx, nil, scope.Organization, jenkins.FolderConfig{
		Description: "Deployments of organization " + scope.Organization,
		Env:         p.options.OrganizationEnv,
	})
	if err != nil && !errors.Is(err, jenkins.ErrAlreadyExists) {
		return classifyProvisioningError("creating organization folder "+scope.Organization, err)
	}
	for _, id := range p.options.OrganizationSecrets {
		err := p.client.CreateStringCredential(ctx, scope.OrganizationPath(), id, "Filled in by an administrator")
		if err != nil && !errors.Is(err, jenkins.ErrAlreadyExists) {
			return classifyProvisioningError("creating credential "+id, err)
		}
	}
	return nil
}

func (p *Provisioner) ensureProject(ctx context.Context, scope PipelineScope, repoPath string) error {
	cfg := jenkins.FolderConfig{
		Description: "Deployment session " + scope.Project,
		Env:         map[string]string{internal.ClonePathVariable: repoPath},
	}
	err := p.client.CreateFolder(ctx, scope.OrganizationPath(), scope.Project, cfg)
	if errors.Is(err, jenkins.ErrAlreadyExists) {
		err = p.client.UpdateFolder(ctx, scope.ProjectPath(), cfg)
	}
	if err != nil {
		return classifyProvisioningError("provisioning project folder "+scope.ProjectPath().String(), err)
	}
	return nil
}

func (p *Provisioner) ensurePipeline(ctx context.Context, scope PipelineScope, script string) error {
	cfg := jenkins.PipelineConfig{Script: script}
	err := p.client.CreatePipeline(ctx, scope.ProjectPath(), scope.Pipeline, cfg)
	if errors.Is(err, jenkins.ErrAlreadyExists) {
		err = p.client.UpdatePipeline(ctx, scope.JobPath(), cfg)
	}
	if err != nil {
		return classifyProvisioningError("provisioning pipeline "+scope.JobPath().String(), err)
	}
	return nil
}

// classifyProvisioningError tags backend answers with the provisioning error
// class. Transport and decoding errors pass through unchanged.
func classifyProvisioningError(op string, err error) error {
	switch {
	case jenkins.IsClientError(err):
		return fmt.Errorf("%s: %w: %w", op, ErrProvisioningConflict, err)
	case jenkins.IsServerError(err):
		return fmt.Errorf("%s: %w: %w", op, ErrProvisioningFailure, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
