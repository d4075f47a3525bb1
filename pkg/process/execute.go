package process

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/core-tools/hsu-jobobject/pkg/errors"
	"github.com/core-tools/hsu-jobobject/pkg/logging"
)

type ExecutionConfig struct {
	ExecutablePath   string   `yaml:"executable_path"`
	Args             []string `yaml:"args,omitempty"`
	Environment      []string `yaml:"environment,omitempty"`
	WorkingDirectory string   `yaml:"working_directory,omitempty"`
}

// Spawned is a started process. Output merges stdout and stderr; it must be
// drained before Wait is called.
type Spawned struct {
	ID      string
	PID     uint32
	Process *os.Process
	Output  io.ReadCloser
	cmd     *exec.Cmd
}

// Wait blocks until the process exits and releases its OS resources
func (s *Spawned) Wait() error {
	return s.cmd.Wait()
}

type ExecuteCmd func(ctx context.Context) (*Spawned, error)

// NewExecuteCmd returns a command that starts the configured process. The
// context only guards the start; the process lifetime is owned by the group
// it is admitted to.
func NewExecuteCmd(execution ExecutionConfig, id string, logger logging.Logger) ExecuteCmd {
	return func(ctx context.Context) (*Spawned, error) {
		if ctx == nil {
			logger.Errorf("Context cannot be nil, id: %s", id)
			return nil, errors.NewValidationError("context cannot be nil", nil).WithContext("id", id)
		}
		if err := ctx.Err(); err != nil {
			return nil, errors.NewCancelledError("execution cancelled", err).WithContext("id", id)
		}

		if err := ValidateExecutionConfig(execution); err != nil {
			logger.Errorf("Execution configuration validation failed, id: %s, error: %v", id, err)
			return nil, errors.NewValidationError("invalid execution configuration", err).WithContext("id", id)
		}

		if err := ensureExecutable(execution.ExecutablePath); err != nil {
			return nil, errors.NewPermissionError("failed to ensure process is executable", err).
				WithContext("id", id).WithContext("executable_path", execution.ExecutablePath)
		}

		workDir := execution.WorkingDirectory
		if workDir == "" {
			absPath, err := filepath.Abs(execution.ExecutablePath)
			if err != nil {
				return nil, errors.NewIOError("failed to get absolute path", err).
					WithContext("id", id).WithContext("executable_path", execution.ExecutablePath)
			}
			workDir = filepath.Dir(absPath)
		}

		logger.Debugf("Executing process, id: %s, executable path: '%s', args: %v, working directory: '%s'",
			id, execution.ExecutablePath, execution.Args, workDir)

		cmd := exec.Command(execution.ExecutablePath, execution.Args...)
		cmd.Dir = workDir
		cmd.Env = append(os.Environ(), execution.Environment...)

		setupProcessAttributes(cmd)

		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, errors.NewProcessError("failed to create stdout pipe", err).
				WithContext("id", id).WithContext("executable_path", execution.ExecutablePath)
		}
		cmd.Stderr = cmd.Stdout

		if err := cmd.Start(); err != nil {
			return nil, errors.NewProcessError("failed to start the process", err).
				WithContext("id", id).WithContext("executable_path", execution.ExecutablePath)
		}

		logger.Infof("Started process, id: %s, pid: %d", id, cmd.Process.Pid)

		return &Spawned{
			ID:      id,
			PID:     uint32(cmd.Process.Pid),
			Process: cmd.Process,
			Output:  stdout,
			cmd:     cmd,
		}, nil
	}
}

// ensureExecutable checks if a file is executable and makes it executable if it's not
func ensureExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return errors.NewIOError("file does not exist", err).WithContext("path", path)
	}

	// Windows decides by extension
	if runtime.GOOS == "windows" {
		return nil
	}

	mode := info.Mode()
	if mode&0111 != 0 {
		return nil
	}

	if err := os.Chmod(path, mode|0111); err != nil {
		return errors.NewPermissionError("failed to make file executable", err).WithContext("path", path)
	}
	return nil
}
