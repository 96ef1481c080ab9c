package internal

import (
	"errors"
	"io/fs"
	"log"
	"os"
	"time"

	"github.com/goccy/go-yaml"
)

var Config *Configuration

type HoursDuration time.Duration

func NewHoursDuration(hours int64) HoursDuration {
	return HoursDuration(time.Duration(hours) * time.Hour)
}

func (hd HoursDuration) MarshalYAML() (any, error) {
	return float64(time.Duration(hd)) / float64(time.Hour), nil
}

func (hd *HoursDuration) UnmarshalYAML(b []byte) error {
	var hours float64
	if err := yaml.Unmarshal(b, &hours); err != nil {
		return err
	}
	*hd = HoursDuration(hours * float64(time.Hour))
	return nil
}

type SecondsDuration time.Duration

func NewSecondsDuration(seconds int64) SecondsDuration {
	return SecondsDuration(time.Duration(seconds) * time.Second)
}

func (sd SecondsDuration) MarshalYAML() (any, error) {
	return float64(time.Duration(sd)) / float64(time.Second), nil
}

func (sd *SecondsDuration) UnmarshalYAML(b []byte) error {
	var seconds float64
	if err := yaml.Unmarshal(b, &seconds); err != nil {
		return err
	}
	*sd = SecondsDuration(seconds * float64(time.Second))
	return nil
}

type Configuration struct {
	RequestTimeout      SecondsDuration   `yaml:"request_timeout_seconds"`
	SettleDelay         SecondsDuration   `yaml:"settle_delay_seconds"`
	PollInterval        SecondsDuration   `yaml:"poll_interval_seconds"`
	PipelineName        string            `yaml:"pipeline_name"`
	OrganizationSecrets []string          `yaml:"organization_secrets"`
	OrganizationEnv     map[string]string `yaml:"organization_env"`
	ValidateScript      bool              `yaml:"validate_script"`
	Workers             int               `yaml:"workers"`
	QueueSize           int64             `yaml:"queue_size"`
	LogFetchLimit       int               `yaml:"log_fetch_limit"`
	SessionExpiresHours HoursDuration     `yaml:"session_expires_hours"`
}

func DefaultConfiguration() *Configuration {
	return &Configuration{
		RequestTimeout:      NewSecondsDuration(30),
		SettleDelay:         NewSecondsDuration(5),
		PollInterval:        NewSecondsDuration(5),
		PipelineName:        DefaultPipelineName,
		OrganizationSecrets: []string{"AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY"},
		OrganizationEnv:     map[string]string{"AWS_REGION": "us-east-1"},
		Workers:             4,
		QueueSize:           16,
		LogFetchLimit:       4,
		SessionExpiresHours: NewHoursDuration(10),
	}
}

// LoadConfiguration reads the YAML file at path over the defaults. A missing
// file is created with the defaults.
func LoadConfiguration(path string) (*Configuration, error) {
	config := DefaultConfiguration()
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return config, WriteConfiguration(path, config)
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(b, config); err != nil {
		return nil, err
	}
	if config.PipelineName == "" {
		config.PipelineName = DefaultPipelineName
	}
	return config, nil
}

func WriteConfiguration(path string, config *Configuration) error {
	b, err := yaml.Marshal(config)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func InitializeConfiguration(path string) {
	config, err := LoadConfiguration(path)
	if err != nil {
		log.Fatalf("fatal error loading configuration %s: %+v", path, err)
	}
	Config = config
}
