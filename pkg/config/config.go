package config

import (
	"fmt"
	"os"
	"time"

	"github.com/core-tools/hsu-jobobject/pkg/errors"
	"github.com/core-tools/hsu-jobobject/pkg/jobobject"
	"github.com/core-tools/hsu-jobobject/pkg/logcollection"
	"github.com/core-tools/hsu-jobobject/pkg/logging"
	"github.com/core-tools/hsu-jobobject/pkg/monitoring"
	"github.com/core-tools/hsu-jobobject/pkg/process"
	"github.com/core-tools/hsu-jobobject/pkg/processfile"

	"gopkg.in/yaml.v3"
)

// DefaultExitCode is used to terminate the group when none is configured
const DefaultExitCode uint32 = 1

// Config represents the top-level configuration file structure
type Config struct {
	Group     GroupConfig       `yaml:"group"`
	Limits    jobobject.Options `yaml:"limits,omitempty"`
	Processes []ProcessConfig   `yaml:"processes,omitempty"`
	Run       RunConfig         `yaml:"run"`
	Control   ControlConfig     `yaml:"control"`
	LogLevel  string            `yaml:"log_level,omitempty"`

	Monitor monitoring.UsageMonitorConfig `yaml:"monitor,omitempty"`

	// Output controls collection of process stdout and stderr
	Output logcollection.Config `yaml:"output,omitempty"`

	// State enables pid and port files when set
	State *processfile.Config `yaml:"state,omitempty"`
}

// GroupConfig selects the group to create or open
type GroupConfig struct {
	Name               string `yaml:"name,omitempty"`
	RequireNew         bool   `yaml:"require_new,omitempty"`
	SecurityDescriptor string `yaml:"security_descriptor,omitempty"`
	InheritHandle      bool   `yaml:"inherit_handle,omitempty"`
}

// ProcessConfig is one process spawned and admitted at startup
type ProcessConfig struct {
	ID                      string `yaml:"id,omitempty"`
	process.ExecutionConfig `yaml:",inline"`
}

// RunConfig controls the lifecycle of a run
type RunConfig struct {
	WaitForDrain      *bool         `yaml:"wait_for_drain,omitempty"`
	TerminateOnSignal *bool         `yaml:"terminate_on_signal,omitempty"`
	ExitCode          *uint32       `yaml:"exit_code,omitempty"`
	PollInterval      time.Duration `yaml:"poll_interval,omitempty"`
}

// ControlConfig configures the gRPC control server; port 0 disables it
type ControlConfig struct {
	Port int `yaml:"port,omitempty"`
}

// Options translates the group section into construction options
func (c GroupConfig) Options() jobobject.GroupOptions {
	opts := jobobject.GroupOptions{
		Name:       c.Name,
		RequireNew: c.RequireNew,
	}
	if c.SecurityDescriptor != "" || c.InheritHandle {
		opts.Security = &jobobject.SecurityAttributes{
			Descriptor:    c.SecurityDescriptor,
			InheritHandle: c.InheritHandle,
		}
	}
	return opts
}

// LoadConfigFromFile loads configuration from a YAML file
func LoadConfigFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.NewIOError("failed to read configuration file", err).WithContext("filename", filename)
	}

	config, err := ParseConfig(data)
	if err != nil {
		return nil, errors.NewValidationError("failed to load configuration", err).WithContext("filename", filename)
	}
	return config, nil
}

// ParseConfig parses YAML configuration and applies defaults
func ParseConfig(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.NewValidationError("failed to parse YAML configuration", err)
	}

	setConfigDefaults(&config)
	return &config, nil
}

// ValidateConfig validates the entire configuration structure
func ValidateConfig(config *Config) error {
	if config == nil {
		return errors.NewValidationError("configuration cannot be nil", nil)
	}

	if err := jobobject.ValidateName(config.Group.Name); err != nil {
		return errors.NewValidationError("invalid group configuration", err)
	}

	if _, err := jobobject.Build(config.Limits); err != nil {
		return errors.NewValidationError("invalid limits configuration", err)
	}

	if err := validateProcesses(config.Processes); err != nil {
		return errors.NewValidationError("invalid processes configuration", err)
	}

	if config.Run.PollInterval < 0 {
		return errors.NewValidationError("poll interval cannot be negative", nil).
			WithContext("poll_interval", config.Run.PollInterval.String())
	}

	if config.Control.Port < 0 || config.Control.Port > 65535 {
		return errors.NewValidationError(
			fmt.Sprintf("invalid port number: %d", config.Control.Port),
			nil,
		).WithContext("valid_range", "0-65535")
	}

	if err := monitoring.ValidateUsageMonitorConfig(config.Monitor); err != nil {
		return errors.NewValidationError("invalid monitor configuration", err)
	}

	if err := config.Output.Validate(); err != nil {
		return errors.NewValidationError("invalid output configuration", err)
	}

	if config.State != nil {
		switch config.State.ServiceContext {
		case "", processfile.SystemService, processfile.UserService, processfile.SessionService:
		default:
			return errors.NewValidationError(
				fmt.Sprintf("invalid state service context: %s", config.State.ServiceContext),
				nil,
			).WithContext("valid_contexts", "system, user, session")
		}
	}

	if _, ok := logging.ParseLevel(config.LogLevel); !ok {
		return errors.NewValidationError(
			fmt.Sprintf("invalid log level: %s", config.LogLevel),
			nil,
		).WithContext("valid_levels", "debug, info, warn, error")
	}

	return nil
}

// ValidateConfigFile validates a configuration file without running it
func ValidateConfigFile(configFile string) error {
	config, err := LoadConfigFromFile(configFile)
	if err != nil {
		return err
	}
	if err := ValidateConfig(config); err != nil {
		return errors.NewValidationError("configuration validation failed", err).WithContext("config_file", configFile)
	}
	return nil
}

// WaitForDrain reports whether a run waits for the group to drain
func (c *Config) WaitForDrain() bool {
	return c.Run.WaitForDrain == nil || *c.Run.WaitForDrain
}

// TerminateOnSignal reports whether a signal terminates the group
func (c *Config) TerminateOnSignal() bool {
	return c.Run.TerminateOnSignal == nil || *c.Run.TerminateOnSignal
}

// ExitCode returns the exit code used to terminate the group
func (c *Config) ExitCode() uint32 {
	if c.Run.ExitCode == nil {
		return DefaultExitCode
	}
	return *c.Run.ExitCode
}

func setConfigDefaults(config *Config) {
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}
	if config.Run.PollInterval == 0 {
		config.Run.PollInterval = jobobject.DefaultPollInterval
	}
	for i := range config.Processes {
		if config.Processes[i].ID == "" {
			config.Processes[i].ID = fmt.Sprintf("process-%d", i+1)
		}
	}
}

func validateProcesses(processes []ProcessConfig) error {
	if len(processes) > jobobject.MaxMembers {
		return errors.NewValidationError(
			fmt.Sprintf("at most %d processes can be admitted, got %d", jobobject.MaxMembers, len(processes)),
			nil,
		)
	}

	seenIDs := make(map[string]int)
	for i, p := range processes {
		if prevIndex, exists := seenIDs[p.ID]; exists {
			return errors.NewValidationError(
				fmt.Sprintf("duplicate process ID '%s' found at indices %d and %d", p.ID, prevIndex, i),
				nil,
			)
		}
		seenIDs[p.ID] = i

		if err := process.ValidateExecutionConfig(p.ExecutionConfig); err != nil {
			return errors.NewValidationError(
				fmt.Sprintf("invalid execution configuration at index %d", i),
				err,
			).WithContext("process_id", p.ID)
		}
	}
	return nil
}
