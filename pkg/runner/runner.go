package runner

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/core-tools/hsu-jobobject/pkg/config"
	"github.com/core-tools/hsu-jobobject/pkg/domain"
	"github.com/core-tools/hsu-jobobject/pkg/errors"
	"github.com/core-tools/hsu-jobobject/pkg/jobobject"
	"github.com/core-tools/hsu-jobobject/pkg/logcollection"
	"github.com/core-tools/hsu-jobobject/pkg/logging"
	"github.com/core-tools/hsu-jobobject/pkg/monitoring"
	"github.com/core-tools/hsu-jobobject/pkg/process"
	"github.com/core-tools/hsu-jobobject/pkg/processfile"

	"golang.org/x/sync/errgroup"
)

// DefaultShutdownTimeout bounds the wait for a terminated group to drain
const DefaultShutdownTimeout = 30 * time.Second

// ServeFunc exposes the group contract, typically over gRPC, and returns a
// function stopping the server.
type ServeFunc func(contract domain.Contract) (stop func(ctx context.Context), err error)

type Options struct {
	Config *config.Config
	System jobobject.System

	// Serve is called when the control port is configured
	Serve ServeFunc

	// Signals replaces OS signal delivery when set
	Signals <-chan os.Signal

	ShutdownTimeout time.Duration
}

// StartedProcess identifies a process spawned and admitted by a run
type StartedProcess struct {
	ID  string
	PID uint32
}

// Result describes how a run ended
type Result struct {
	GroupID    string
	Processes  []StartedProcess
	Drained    bool
	Terminated bool
	Accounting *jobobject.AccountingSnapshot
}

type runner struct {
	options Options
	config  *config.Config
	logger  logging.Logger

	group   *jobobject.Group
	outputs *logcollection.Service
	started []StartedProcess

	// groupLock guards group once the control handler shares it, and
	// serializes admissions during startup.
	groupLock sync.Mutex
}

// Run creates or opens the configured group, applies its limits, spawns and
// admits the configured processes and waits until the group drains, a signal
// arrives or ctx is done. The group handle is closed before Run returns.
func Run(ctx context.Context, options Options, logger logging.Logger) (*Result, error) {
	if ctx == nil {
		return nil, errors.NewValidationError("context cannot be nil", nil)
	}
	if options.System == nil {
		return nil, errors.NewValidationError("system cannot be nil", nil)
	}
	if err := config.ValidateConfig(options.Config); err != nil {
		return nil, err
	}
	if options.ShutdownTimeout <= 0 {
		options.ShutdownTimeout = DefaultShutdownTimeout
	}

	outputs, err := logcollection.NewService(options.Config.Output, logger)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := outputs.Close(); err != nil {
			logger.Warnf("Failed to close process output, error: %v", err)
		}
	}()

	r := &runner{
		options: options,
		config:  options.Config,
		logger:  logger,
		outputs: outputs,
	}
	return r.run(ctx)
}

func (r *runner) run(ctx context.Context) (*Result, error) {
	cfg := r.config
	r.logger.Infof("Runner starting, group: '%s', processes: %d", cfg.Group.Name, len(cfg.Processes))

	group, err := jobobject.CreateOrOpen(r.options.System, cfg.Group.Options(), r.logger)
	if err != nil {
		return nil, err
	}
	r.group = group
	defer func() {
		r.groupLock.Lock()
		defer r.groupLock.Unlock()
		if err := group.Close(); err != nil {
			r.logger.Warnf("Failed to close group, group: %s, error: %v", group.ID(), err)
		}
	}()

	result := &Result{GroupID: group.ID()}

	if len(cfg.Limits) > 0 {
		if err := group.Configure(cfg.Limits); err != nil {
			return nil, err
		}
		r.logger.Infof("Limits configured, group: %s, options: %d", group.ID(), len(cfg.Limits))
	}

	var waiter *jobobject.DrainWaiter
	if cfg.WaitForDrain() {
		waiter = jobobject.NewDrainWaiter(group, cfg.Run.PollInterval)
		if err := waiter.Arm(); err != nil {
			return nil, err
		}
		defer waiter.Close()
	}

	if err := r.startProcesses(ctx); err != nil {
		if len(group.Members()) > 0 {
			if termErr := group.Terminate(cfg.ExitCode()); termErr != nil {
				r.logger.Errorf("Failed to terminate partially started group, group: %s, error: %v", group.ID(), termErr)
			}
		}
		r.waitOutputs(r.options.ShutdownTimeout)
		return nil, err
	}
	result.Processes = r.started

	stopServing, err := r.serve()
	if err != nil {
		return nil, err
	}
	defer stopServing()

	monitor := monitoring.NewUsageMonitor(cfg.Monitor, &lockedSource{group: group, lock: &r.groupLock}, r.logger)
	if err := monitor.Start(ctx); err != nil {
		return nil, err
	}
	defer monitor.Stop()

	signals := r.options.Signals
	if signals == nil {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sig)
		signals = sig
	}

	var drained <-chan error
	if waiter != nil {
		waitCtx, cancelWait := context.WithCancel(context.Background())
		defer cancelWait()
		drained = r.drain(waitCtx, waiter)
	}

	r.groupLock.Lock()
	members := len(group.Members())
	r.groupLock.Unlock()
	r.logger.Infof("Group is running, group: %s, members: %d", group.ID(), members)

	select {
	case err := <-drained:
		if err != nil {
			return nil, err
		}
		result.Drained = true
	case receivedSignal := <-signals:
		r.logger.Infof("Runner received signal: %v", receivedSignal)
		if err := r.shutdown(result, drained); err != nil {
			return nil, err
		}
	case <-ctx.Done():
		r.logger.Infof("Runner context done: %v", ctx.Err())
		if err := r.shutdown(result, drained); err != nil {
			return nil, err
		}
	}

	if result.Drained {
		r.waitOutputs(r.options.ShutdownTimeout)
	}

	r.groupLock.Lock()
	accounting, err := group.AccountInfo()
	r.groupLock.Unlock()
	if err != nil {
		r.logger.Warnf("Failed to read final accounting, group: %s, error: %v", group.ID(), err)
	} else {
		result.Accounting = accounting
		r.logger.Infof("Runner finished, group: %s, total processes: %d, terminated: %d, user time: %v, kernel time: %v",
			group.ID(), accounting.TotalProcesses, accounting.TotalTerminatedProcesses,
			accounting.TotalUserTime, accounting.TotalKernelTime)
	}
	return result, nil
}

func (r *runner) drain(ctx context.Context, waiter *jobobject.DrainWaiter) <-chan error {
	result := make(chan error, 1)
	go func() {
		result <- waiter.WaitContext(ctx)
	}()
	return result
}

// shutdown terminates the group when configured to and waits a bounded time
// for the drain notification.
func (r *runner) shutdown(result *Result, drained <-chan error) error {
	if !r.config.TerminateOnSignal() {
		r.logger.Infof("Leaving group running, group: %s", r.group.ID())
		return nil
	}

	exitCode := r.config.ExitCode()
	r.logger.Infof("Terminating group, group: %s, exit code: %d", r.group.ID(), exitCode)
	r.groupLock.Lock()
	err := r.group.Terminate(exitCode)
	r.groupLock.Unlock()
	if err != nil {
		return err
	}
	result.Terminated = true

	if drained == nil {
		return nil
	}
	select {
	case err := <-drained:
		if err != nil {
			return err
		}
		result.Drained = true
	case <-time.After(r.options.ShutdownTimeout):
		r.logger.Warnf("Group did not drain in time, group: %s, timeout: %v", r.group.ID(), r.options.ShutdownTimeout)
	}
	return nil
}

func (r *runner) startProcesses(ctx context.Context) error {
	if len(r.config.Processes) == 0 {
		return nil
	}

	eg, egCtx := errgroup.WithContext(ctx)
	for _, p := range r.config.Processes {
		p := p
		eg.Go(func() error {
			return r.startProcess(egCtx, p)
		})
	}
	return eg.Wait()
}

func (r *runner) startProcess(ctx context.Context, p config.ProcessConfig) error {
	processLogger := logging.NewLogger("process: "+p.ID+" , ", logging.LogFuncs{
		Debugf: r.logger.Debugf,
		Infof:  r.logger.Infof,
		Warnf:  r.logger.Warnf,
		Errorf: r.logger.Errorf,
	})

	spawned, err := process.NewExecuteCmd(p.ExecutionConfig, p.ID, processLogger)(ctx)
	if err != nil {
		return err
	}

	r.outputs.Collect(p.ID, spawned.PID, spawned.Output, func() {
		if err := spawned.Wait(); err != nil {
			processLogger.Infof("Process exited, pid: %d, status: %v", spawned.PID, err)
			return
		}
		processLogger.Infof("Process exited, pid: %d", spawned.PID)
	})

	r.groupLock.Lock()
	defer r.groupLock.Unlock()

	if _, err := r.group.Admit(spawned.PID); err != nil {
		processLogger.Errorf("Failed to admit process, pid: %d, error: %v", spawned.PID, err)
		if killErr := spawned.Process.Kill(); killErr != nil {
			processLogger.Warnf("Failed to kill unadmitted process, pid: %d, error: %v", spawned.PID, killErr)
		}
		return errors.NewProcessError("failed to admit process", err).
			WithContext("id", p.ID).WithContext("pid", spawned.PID)
	}

	r.started = append(r.started, StartedProcess{ID: p.ID, PID: spawned.PID})
	return nil
}

func (r *runner) waitOutputs(timeout time.Duration) {
	if !r.outputs.Wait(timeout) {
		r.logger.Warnf("Process output still open after %v", timeout)
	}
}

// serve starts the control server and records the run state files. The
// returned function undoes both.
func (r *runner) serve() (func(), error) {
	cfg := r.config
	var stops []func()
	stopAll := func() {
		for i := len(stops) - 1; i >= 0; i-- {
			stops[i]()
		}
	}

	var files *processfile.Manager
	key := processfile.Key(cfg.Group.Name)
	if cfg.State != nil {
		files = processfile.NewManager(*cfg.State, r.logger)
		if err := files.WritePIDFile(key, os.Getpid()); err != nil {
			return nil, err
		}
		stops = append(stops, func() {
			if err := files.Remove(key); err != nil {
				r.logger.Warnf("Failed to remove state files, key: %s, error: %v", key, err)
			}
		})
	}

	if cfg.Control.Port == 0 || r.options.Serve == nil {
		return stopAll, nil
	}

	stop, err := r.options.Serve(domain.NewGroupHandler(r.group, &r.groupLock, r.logger))
	if err != nil {
		stopAll()
		return nil, errors.NewInternalError("failed to start control server", err).
			WithContext("port", cfg.Control.Port)
	}
	stops = append(stops, func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.options.ShutdownTimeout)
		defer cancel()
		stop(ctx)
	})
	r.logger.Infof("Control server started, port: %d", cfg.Control.Port)

	if files != nil {
		if err := files.WritePortFile(key, cfg.Control.Port); err != nil {
			stopAll()
			return nil, err
		}
	}
	return stopAll, nil
}

// lockedSource reads usage under the lock shared with the control handler
type lockedSource struct {
	group *jobobject.Group
	lock  sync.Locker
}

func (s *lockedSource) ID() string {
	return s.group.ID()
}

func (s *lockedSource) AccountInfo() (*jobobject.AccountingSnapshot, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.group.AccountInfo()
}

func (s *lockedSource) LimitInfo() (*jobobject.LimitInfo, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.group.LimitInfo()
}
