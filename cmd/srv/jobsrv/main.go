package main

import (
	"context"
	"fmt"
	"os"

	coreControl "github.com/core-tools/hsu-core/pkg/control"
	coreDomain "github.com/core-tools/hsu-core/pkg/domain"
	coreLogging "github.com/core-tools/hsu-core/pkg/logging"

	"github.com/core-tools/hsu-jobobject/pkg/config"
	jobControl "github.com/core-tools/hsu-jobobject/pkg/control"
	"github.com/core-tools/hsu-jobobject/pkg/domain"
	"github.com/core-tools/hsu-jobobject/pkg/jobobject"
	jobLogging "github.com/core-tools/hsu-jobobject/pkg/logging"
	"github.com/core-tools/hsu-jobobject/pkg/runner"

	flags "github.com/jessevdk/go-flags"
)

type flagOptions struct {
	Config    string `long:"config" short:"c" description:"path to the YAML configuration file" required:"true"`
	Port      int    `long:"port" description:"control port, overrides the configuration"`
	LogLevel  string `long:"log-level" description:"log level, overrides the configuration"`
	LogFormat string `long:"log-format" description:"log format: console or json" default:"console"`
	Validate  bool   `long:"validate" description:"validate the configuration and exit"`
}

func logPrefix(module string) string {
	return fmt.Sprintf("module: %s-server , ", module)
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

	if opts.Validate {
		if err := config.ValidateConfigFile(opts.Config); err != nil {
			fmt.Printf("Configuration is invalid: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Configuration is valid")
		return
	}

	cfg, err := config.LoadConfigFromFile(opts.Config)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if opts.Port != 0 {
		cfg.Control.Port = opts.Port
	}
	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}

	zapConfig := jobLogging.DefaultZapConfig()
	zapConfig.Level = cfg.LogLevel
	zapConfig.Format = opts.LogFormat
	logger, syncLogger, err := jobLogging.NewZapLogger("", zapConfig)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer syncLogger()

	logger.Infof("opts: %+v", opts)

	coreLogger := coreLogging.NewLogger(
		logPrefix("hsu-core"), coreLogging.LogFuncs{
			Debugf: logger.Debugf,
			Infof:  logger.Infof,
			Warnf:  logger.Warnf,
			Errorf: logger.Errorf,
		})
	jobLogger := jobLogging.NewLogger(
		logPrefix("hsu-jobobject"), jobLogging.LogFuncs{
			Debugf: logger.Debugf,
			Infof:  logger.Infof,
			Warnf:  logger.Warnf,
			Errorf: logger.Errorf,
		})

	serve := func(contract domain.Contract) (func(context.Context), error) {
		server, err := coreControl.NewServer(coreControl.ServerOptions{Port: cfg.Control.Port}, coreLogger)
		if err != nil {
			return nil, err
		}

		// Register core services
		coreHandler := coreDomain.NewDefaultHandler(coreLogger)
		coreControl.RegisterGRPCServerHandler(server.GRPC(), coreHandler, coreLogger)

		// Register group control services
		jobControl.RegisterGRPCServerHandler(server.GRPC(), contract, jobLogger)

		server.Start(context.Background())
		return func(ctx context.Context) { server.Shutdown(ctx) }, nil
	}

	logger.Infof("Starting...")

	result, err := runner.Run(context.Background(), runner.Options{
		Config: cfg,
		System: jobobject.NewSystem(),
		Serve:  serve,
	}, jobLogger)
	if err != nil {
		logger.Errorf("Run failed: %v", err)
		syncLogger()
		os.Exit(1)
	}

	logger.Infof("Done, group: %s, processes: %d, drained: %t, terminated: %t",
		result.GroupID, len(result.Processes), result.Drained, result.Terminated)
}
