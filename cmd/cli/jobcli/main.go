package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	sprintfLogging "github.com/core-tools/hsu-core/pkg/logging/sprintf"

	coreControl "github.com/core-tools/hsu-core/pkg/control"
	coreDomain "github.com/core-tools/hsu-core/pkg/domain"
	coreLogging "github.com/core-tools/hsu-core/pkg/logging"

	jobControl "github.com/core-tools/hsu-jobobject/pkg/control"
	jobLogging "github.com/core-tools/hsu-jobobject/pkg/logging"
	"github.com/core-tools/hsu-jobobject/pkg/process"
	"github.com/core-tools/hsu-jobobject/pkg/processfile"

	flags "github.com/jessevdk/go-flags"
)

type flagOptions struct {
	ServerPath string   `long:"server" description:"path to the server executable"`
	AttachPort int      `long:"port" description:"port to attach to the server"`
	Group      string   `long:"group" description:"group name, used to look up the port file"`
	StateDir   string   `long:"state-dir" description:"directory holding the port file"`
	Status     bool     `long:"status" description:"print the group status"`
	Members    bool     `long:"members" description:"print the group members"`
	Admit      []string `long:"admit" description:"admit a process by pid, repeatable"`
	Terminate  bool     `long:"terminate" description:"terminate every process in the group"`
	ExitCode   uint32   `long:"exit-code" description:"exit code used by --terminate" default:"1"`
}

func logPrefix(module string) string {
	return fmt.Sprintf("module: %s-client , ", module)
}

func printJSON(value interface{}) {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		fmt.Printf("%+v\n", value)
		return
	}
	fmt.Println(string(data))
}

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	var err error
	_, err = parser.ParseArgs(argv)
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v", err)
		os.Exit(1)
	}

	logger := sprintfLogging.NewStdSprintfLogger()

	logger.Infof("opts: %+v", opts)

	pids := make([]uint32, 0, len(opts.Admit))
	for _, value := range opts.Admit {
		pid, err := process.ValidatePID(value)
		if err != nil {
			fmt.Printf("Invalid pid '%s': %v\n", value, err)
			os.Exit(1)
		}
		pids = append(pids, pid)
	}

	jobLogger := jobLogging.NewLogger(
		logPrefix("hsu-jobobject"), jobLogging.LogFuncs{
			Debugf: logger.Debugf,
			Infof:  logger.Infof,
			Warnf:  logger.Warnf,
			Errorf: logger.Errorf,
		})

	if opts.AttachPort == 0 && opts.ServerPath == "" && (opts.Group != "" || opts.StateDir != "") {
		files := processfile.NewManager(processfile.Config{BaseDirectory: opts.StateDir}, jobLogger)
		port, err := files.ReadPortFile(processfile.Key(opts.Group))
		if err != nil {
			fmt.Printf("Failed to find the control port of group '%s': %v\n", opts.Group, err)
			os.Exit(1)
		}
		opts.AttachPort = port
	}

	if opts.ServerPath == "" && opts.AttachPort == 0 {
		fmt.Println("Server path, attach port or group is required")
		os.Exit(1)
	}

	logger.Infof("Starting...")

	coreLogger := coreLogging.NewLogger(
		logPrefix("hsu-core"), coreLogging.LogFuncs{
			Debugf: logger.Debugf,
			Infof:  logger.Infof,
			Warnf:  logger.Warnf,
			Errorf: logger.Errorf,
		})

	coreConnectionOptions := coreControl.ConnectionOptions{
		ServerPath: opts.ServerPath,
		AttachPort: opts.AttachPort,
	}
	coreConnection, err := coreControl.NewConnection(coreConnectionOptions, coreLogger)
	if err != nil {
		logger.Errorf("Failed to create core connection: %v", err)
		os.Exit(1)
	}

	coreClientGateway := coreControl.NewGRPCClientGateway(coreConnection.GRPC(), coreLogger)
	groupClientGateway := jobControl.NewGRPCClientGateway(coreConnection.GRPC(), jobLogger)

	ctx := context.Background()

	retryPingOptions := coreDomain.RetryPingOptions{
		RetryAttempts: 10,
		RetryInterval: 1 * time.Second,
	}
	err = coreDomain.RetryPing(ctx, coreClientGateway, retryPingOptions, coreLogger)
	if err != nil {
		logger.Errorf("Failed to ping group server: %v", err)
		os.Exit(1)
	}

	for _, pid := range pids {
		if err := groupClientGateway.Admit(ctx, pid); err != nil {
			logger.Errorf("Failed to admit pid %d: %v", pid, err)
			os.Exit(1)
		}
		logger.Infof("Admitted pid %d", pid)
	}

	if opts.Members {
		members, err := groupClientGateway.Members(ctx)
		if err != nil {
			logger.Errorf("Failed to get members: %v", err)
			os.Exit(1)
		}
		printJSON(members)
	}

	if opts.Status || (len(pids) == 0 && !opts.Members && !opts.Terminate) {
		status, err := groupClientGateway.Status(ctx)
		if err != nil {
			logger.Errorf("Failed to get status: %v", err)
			os.Exit(1)
		}
		printJSON(status)
	}

	if opts.Terminate {
		if err := groupClientGateway.Terminate(ctx, opts.ExitCode); err != nil {
			logger.Errorf("Failed to terminate group: %v", err)
			os.Exit(1)
		}
		logger.Infof("Terminated group, exit code: %d", opts.ExitCode)
	}

	logger.Infof("Done")
}
