package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/core-tools/hsu-jobobject/pkg/errors"
	"github.com/core-tools/hsu-jobobject/pkg/jobobject"
	"github.com/core-tools/hsu-jobobject/pkg/processfile"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// getTestExecutable returns a platform-specific executable path that exists
func getTestExecutable() string {
	if runtime.GOOS == "windows" {
		return "C:\\Windows\\System32\\cmd.exe"
	}
	return "/bin/echo"
}

// escapeForYAML escapes backslashes for double-quoted YAML strings
func escapeForYAML(path string) string {
	return strings.ReplaceAll(path, `\`, `\\`)
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfigFromFile(t *testing.T) {
	executablePath := getTestExecutable()

	tests := []struct {
		name        string
		configYAML  string
		expectError bool
		validate    func(*testing.T, *Config)
	}{
		{
			name: "valid comprehensive config",
			configYAML: `
group:
  name: "build-sandbox"
  require_new: true
  security_descriptor: "D:P(A;;GA;;;SY)"
limits:
  process_memory: 67108864
  kill_on_job_close: true
  job_time: "30s"
processes:
  - id: "echo"
    executable_path: "` + escapeForYAML(executablePath) + `"
    args: ["hello"]
    environment: ["LOG_LEVEL=debug"]
  - executable_path: "` + escapeForYAML(executablePath) + `"
run:
  wait_for_drain: false
  exit_code: 9
  poll_interval: "100ms"
control:
  port: 50061
log_level: "debug"
monitor:
  interval: "5s"
  warn_ratio: 0.8
output:
  parse_structured: true
  exclude_patterns: ["^DEBUG"]
state:
  base_directory: "/var/lib/sandbox"
  use_subdirectory: true
`,
			validate: func(t *testing.T, c *Config) {
				assert.Equal(t, "build-sandbox", c.Group.Name)
				opts := c.Group.Options()
				assert.True(t, opts.RequireNew)
				require.NotNil(t, opts.Security)
				assert.Equal(t, "D:P(A;;GA;;;SY)", opts.Security.Descriptor)

				req, err := jobobject.Build(c.Limits)
				require.NoError(t, err)
				assert.Equal(t, jobobject.LimitProcessMemory|jobobject.LimitKillOnJobClose|jobobject.LimitJobTime, req.Flags())

				require.Len(t, c.Processes, 2)
				assert.Equal(t, "echo", c.Processes[0].ID)
				assert.Equal(t, []string{"hello"}, c.Processes[0].Args)
				assert.Equal(t, "process-2", c.Processes[1].ID)

				assert.False(t, c.WaitForDrain())
				assert.True(t, c.TerminateOnSignal())
				assert.Equal(t, uint32(9), c.ExitCode())
				assert.Equal(t, 100*time.Millisecond, c.Run.PollInterval)
				assert.Equal(t, 50061, c.Control.Port)
				assert.Equal(t, "debug", c.LogLevel)
				assert.Equal(t, 5*time.Second, c.Monitor.Interval)
				assert.Equal(t, 0.8, c.Monitor.WarnRatio)
				assert.True(t, c.Output.ParseStructured)
				assert.Equal(t, []string{"^DEBUG"}, c.Output.ExcludePatterns)
				require.NotNil(t, c.State)
				assert.Equal(t, "/var/lib/sandbox", c.State.BaseDirectory)
				assert.True(t, c.State.UseSubdirectory)
			},
		},
		{
			name:       "minimal config gets defaults",
			configYAML: "group: {}\n",
			validate: func(t *testing.T, c *Config) {
				assert.Empty(t, c.Group.Name)
				assert.Nil(t, c.Group.Options().Security)
				assert.True(t, c.WaitForDrain())
				assert.Equal(t, DefaultExitCode, c.ExitCode())
				assert.Equal(t, jobobject.DefaultPollInterval, c.Run.PollInterval)
				assert.Equal(t, "info", c.LogLevel)
				assert.Zero(t, c.Control.Port)
				assert.Nil(t, c.State)
			},
		},
		{
			name:        "invalid yaml",
			configYAML:  "group: [unterminated\n",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config, err := LoadConfigFromFile(writeConfig(t, tt.configYAML))
			if tt.expectError {
				require.Error(t, err)
				assert.True(t, errors.IsValidationError(err))
				return
			}
			require.NoError(t, err)
			require.NoError(t, ValidateConfig(config))
			if tt.validate != nil {
				tt.validate(t, config)
			}
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfigFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.True(t, errors.IsIOError(err))
}

func TestValidateConfig(t *testing.T) {
	executablePath := getTestExecutable()
	valid := func() *Config {
		c := &Config{
			Processes: []ProcessConfig{{ID: "a"}},
			Limits:    jobobject.Options{"active_process": 2},
		}
		c.Processes[0].ExecutablePath = executablePath
		setConfigDefaults(c)
		return c
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"bad_group_name", func(c *Config) { c.Group.Name = `a\b` }},
		{"unknown_limit", func(c *Config) { c.Limits["bogus"] = 1 }},
		{"bad_limit_value", func(c *Config) { c.Limits["active_process"] = "many" }},
		{"duplicate_process_id", func(c *Config) { c.Processes = append(c.Processes, c.Processes[0]) }},
		{"missing_executable", func(c *Config) { c.Processes[0].ExecutablePath = "" }},
		{"negative_poll_interval", func(c *Config) { c.Run.PollInterval = -time.Second }},
		{"bad_port", func(c *Config) { c.Control.Port = 70000 }},
		{"bad_log_level", func(c *Config) { c.LogLevel = "verbose" }},
		{"bad_warn_ratio", func(c *Config) { c.Monitor.WarnRatio = 3 }},
		{"bad_exclude_pattern", func(c *Config) { c.Output.ExcludePatterns = []string{"["} }},
		{"bad_state_context", func(c *Config) {
			c.State = &processfile.Config{ServiceContext: "cluster"}
		}},
		{"too_many_processes", func(c *Config) {
			c.Processes = make([]ProcessConfig, jobobject.MaxMembers+1)
		}},
	}

	require.NoError(t, ValidateConfig(valid()))
	assert.Error(t, ValidateConfig(nil))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := ValidateConfig(c)
			require.Error(t, err)
			assert.True(t, errors.IsValidationError(err))
		})
	}
}

func TestValidateConfigFile(t *testing.T) {
	assert.NoError(t, ValidateConfigFile(writeConfig(t, "log_level: warn\n")))

	err := ValidateConfigFile(writeConfig(t, "limits:\n  bogus: 1\n"))
	require.Error(t, err)
	assert.True(t, errors.IsInvalidOptionError(err))
}
