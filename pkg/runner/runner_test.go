package runner

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/core-tools/hsu-jobobject/pkg/config"
	"github.com/core-tools/hsu-jobobject/pkg/domain"
	"github.com/core-tools/hsu-jobobject/pkg/errors"
	"github.com/core-tools/hsu-jobobject/pkg/jobobject"
	"github.com/core-tools/hsu-jobobject/pkg/jobobject/jobobjecttest"
	"github.com/core-tools/hsu-jobobject/pkg/logging"
	"github.com/core-tools/hsu-jobobject/pkg/processfile"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoProcess returns a process section printing a line and exiting
func echoProcess(id string) string {
	if runtime.GOOS == "windows" {
		return `
  - id: "` + id + `"
    executable_path: "C:\\Windows\\System32\\cmd.exe"
    args: ["/c", "echo", "hello"]`
	}
	return `
  - id: "` + id + `"
    executable_path: "/bin/echo"
    args: ["hello"]`
}

func loadConfig(t *testing.T, yaml string, processIDs ...string) *config.Config {
	t.Helper()
	if len(processIDs) > 0 {
		yaml += "\nprocesses:"
		for _, id := range processIDs {
			yaml += echoProcess(id)
		}
		yaml += "\n"
	}
	cfg, err := config.ParseConfig([]byte(yaml))
	require.NoError(t, err)
	return cfg
}

func newFakeSystem() *jobobjecttest.FakeSystem {
	sys := jobobjecttest.NewFakeSystem()
	sys.AutoSpawn = true
	return sys
}

func TestRunDrainsWhenMembersExit(t *testing.T) {
	sys := newFakeSystem()
	stateDir := t.TempDir()
	cfg := loadConfig(t, `
group:
  name: "runner-drain"
limits:
  kill_on_job_close: true
run:
  poll_interval: "10ms"
control:
  port: 50123
monitor:
  interval: "5ms"
state:
  base_directory: "`+strings.ReplaceAll(stateDir, `\`, `\\`)+`"
`, "first", "second")

	files := processfile.NewManager(*cfg.State, logging.NewNopLogger())
	var stopped atomic.Bool
	serve := func(contract domain.Contract) (func(context.Context), error) {
		groupStatus, err := contract.Status(context.Background())
		require.NoError(t, err)
		assert.True(t, groupStatus.Limits.Flags.Has(jobobject.LimitKillOnJobClose))
		assert.Len(t, groupStatus.Members, 2)

		go func() {
			assert.Eventually(t, func() bool {
				port, err := files.ReadPortFile("runner-drain")
				return err == nil && port == 50123
			}, 5*time.Second, 10*time.Millisecond)

			members, err := contract.Members(context.Background())
			if err != nil {
				return
			}
			for _, m := range members {
				sys.Exit(m.PID)
			}
		}()
		return func(context.Context) { stopped.Store(true) }, nil
	}

	result, err := Run(context.Background(), Options{
		Config:  cfg,
		System:  sys,
		Serve:   serve,
		Signals: make(chan os.Signal),
	}, logging.NewNopLogger())
	require.NoError(t, err)

	assert.True(t, result.Drained)
	assert.False(t, result.Terminated)
	assert.Len(t, result.Processes, 2)
	require.NotNil(t, result.Accounting)
	assert.Equal(t, uint32(2), result.Accounting.TotalProcesses)
	assert.Zero(t, result.Accounting.ActiveProcesses)
	assert.True(t, stopped.Load())

	_, err = files.ReadPIDFile("runner-drain")
	assert.True(t, errors.IsIOError(err), "state files are removed after the run")
	assert.Zero(t, sys.OpenHandles())
}

func TestRunTerminatesOnSignal(t *testing.T) {
	sys := newFakeSystem()
	cfg := loadConfig(t, `
run:
  exit_code: 7
  poll_interval: "10ms"
`, "sleeper")

	signals := make(chan os.Signal, 1)
	signals <- syscall.SIGTERM

	result, err := Run(context.Background(), Options{
		Config:  cfg,
		System:  sys,
		Signals: signals,
	}, logging.NewNopLogger())
	require.NoError(t, err)

	assert.True(t, result.Terminated)
	assert.True(t, result.Drained)
	require.Len(t, result.Processes, 1)
	pid := result.Processes[0].PID
	assert.False(t, sys.Running(pid))
	code, ok := sys.LastExitCode(pid)
	assert.True(t, ok)
	assert.Equal(t, uint32(7), code)
}

func TestRunControlAdmitsDuringShutdown(t *testing.T) {
	sys := newFakeSystem()
	cfg := loadConfig(t, `
run:
  exit_code: 3
  poll_interval: "5ms"
control:
  port: 50124
monitor:
  interval: "1ms"
`, "first")

	signals := make(chan os.Signal, 1)
	admitted := make(chan struct{})
	serve := func(contract domain.Contract) (func(context.Context), error) {
		go func() {
			defer close(admitted)
			for i, pid := range []uint32{9001, 9002, 9003, 9004, 9005} {
				// the group may already be closed for the later pids
				_ = contract.Admit(context.Background(), pid)
				_, _ = contract.Status(context.Background())
				if i == 1 {
					signals <- os.Interrupt
				}
			}
		}()
		return func(context.Context) {}, nil
	}

	result, err := Run(context.Background(), Options{
		Config:  cfg,
		System:  sys,
		Serve:   serve,
		Signals: signals,
	}, logging.NewNopLogger())
	require.NoError(t, err)
	<-admitted

	assert.True(t, result.Terminated)
	assert.True(t, result.Drained)
	assert.False(t, sys.Running(9001))
	assert.False(t, sys.Running(9002))
	code, ok := sys.LastExitCode(9001)
	assert.True(t, ok)
	assert.Equal(t, uint32(3), code)
	assert.Zero(t, sys.OpenHandles())
}

func TestRunLeavesGroupRunningWhenConfigured(t *testing.T) {
	sys := newFakeSystem()
	cfg := loadConfig(t, `
run:
  terminate_on_signal: false
  poll_interval: "10ms"
control:
  port: 50124
`, "survivor")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	serve := func(domain.Contract) (func(context.Context), error) {
		cancel()
		return func(context.Context) {}, nil
	}

	result, err := Run(ctx, Options{
		Config:  cfg,
		System:  sys,
		Serve:   serve,
		Signals: make(chan os.Signal),
	}, logging.NewNopLogger())
	require.NoError(t, err)

	assert.False(t, result.Terminated)
	assert.False(t, result.Drained)
	require.Len(t, result.Processes, 1)
	assert.True(t, sys.Running(result.Processes[0].PID))
}

func TestRunWithoutDrainWait(t *testing.T) {
	sys := newFakeSystem()
	cfg := loadConfig(t, "run:\n  wait_for_drain: false\n", "one")

	signals := make(chan os.Signal, 1)
	signals <- os.Interrupt

	result, err := Run(context.Background(), Options{
		Config:  cfg,
		System:  sys,
		Signals: signals,
	}, logging.NewNopLogger())
	require.NoError(t, err)
	assert.True(t, result.Terminated)
	assert.False(t, result.Drained)
	assert.False(t, sys.Running(result.Processes[0].PID))
}

func TestRunAdmitFailure(t *testing.T) {
	sys := newFakeSystem()
	sys.Fail("AssignProcessToJobObject", syscall.Errno(5))
	cfg := loadConfig(t, "run:\n  poll_interval: \"10ms\"\n", "denied")

	_, err := Run(context.Background(), Options{
		Config:          cfg,
		System:          sys,
		Signals:         make(chan os.Signal),
		ShutdownTimeout: 5 * time.Second,
	}, logging.NewNopLogger())
	require.Error(t, err)
	assert.True(t, errors.IsProcessError(err))
	assert.True(t, errors.IsOSResourceError(err))
	assert.Equal(t, "AssignProcessToJobObject", errors.Operation(err))
	assert.Zero(t, sys.OpenHandles())
}

func TestRunGroupFailures(t *testing.T) {
	tests := []struct {
		name  string
		op    string
		yaml  string
		check func(error) bool
	}{
		{"create", "CreateJobObject", "group: {}\n", errors.IsOSResourceError},
		{"configure", "SetInformationJobObject", "limits:\n  active_process: 2\n", errors.IsOSResourceError},
		{"arm", "CreateCompletionPort", "group: {}\n", errors.IsOSResourceError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sys := newFakeSystem()
			sys.Fail(tt.op, syscall.Errno(5))

			_, err := Run(context.Background(), Options{
				Config:  loadConfig(t, tt.yaml),
				System:  sys,
				Signals: make(chan os.Signal),
			}, logging.NewNopLogger())
			require.Error(t, err)
			assert.True(t, tt.check(err))
			assert.Zero(t, sys.OpenHandles())
		})
	}
}

func TestRunRejectsInvalidInput(t *testing.T) {
	logger := logging.NewNopLogger()

	_, err := Run(context.Background(), Options{System: newFakeSystem()}, logger)
	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))

	_, err = Run(context.Background(), Options{Config: loadConfig(t, "group: {}\n")}, logger)
	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))

	var ctx context.Context
	_, err = Run(ctx, Options{Config: loadConfig(t, "group: {}\n"), System: newFakeSystem()}, logger)
	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))

	cfg := loadConfig(t, "limits:\n  bogus: 1\n")
	_, err = Run(context.Background(), Options{Config: cfg, System: newFakeSystem()}, logger)
	require.Error(t, err)
	assert.True(t, errors.IsInvalidOptionError(err))
}

func TestRunCollectsProcessOutput(t *testing.T) {
	sys := newFakeSystem()
	outputFile := filepath.Join(t.TempDir(), "processes.log")
	cfg := loadConfig(t, `
run:
  poll_interval: "10ms"
output:
  file: "`+strings.ReplaceAll(outputFile, `\`, `\\`)+`"
`, "greeter")

	signals := make(chan os.Signal, 1)
	signals <- os.Interrupt

	result, err := Run(context.Background(), Options{
		Config:  cfg,
		System:  sys,
		Signals: signals,
	}, logging.NewNopLogger())
	require.NoError(t, err)
	require.True(t, result.Drained)

	content, err := os.ReadFile(outputFile)
	require.NoError(t, err)
	assert.Contains(t, string(content), "[greeter]")
	assert.Contains(t, string(content), "hello")
}
