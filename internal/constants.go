package internal

const (
	DotEnvPath          = "./.env"
	ConfigPath          = "./config.yml"
	MigrationsDir       = "migrations"
	JenkinsfileName     = "Jenkinsfile"
	ClonePathVariable   = "CLONE_PATH"
	DefaultPipelineName = "deployment"
)
