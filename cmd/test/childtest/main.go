// Command childtest is a workload for trying group limits by hand. It can
// allocate memory, burn CPU and start copies of itself, which inherit its group.
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	flags "github.com/jessevdk/go-flags"
)

type flagOptions struct {
	RunDuration int  `long:"run-duration" description:"seconds to run before exiting, 0 runs until signaled"`
	MemoryMB    int  `long:"memory-mb" description:"megabytes to allocate and touch"`
	BurnCPU     bool `long:"burn-cpu" description:"spin on one core while running"`
	Children    int  `long:"children" description:"number of copies of this process to start"`
	ExitCode    int  `long:"exit-code" description:"exit code on normal completion"`
}

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	var err error
	_, err = parser.ParseArgs(argv)
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Running childtest, pid: %d, opts: %+v\n", os.Getpid(), opts)

	ctx := context.Background()
	if opts.RunDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(opts.RunDuration)*time.Second)
		defer cancel()
	}

	var memory []byte
	if opts.MemoryMB > 0 {
		memory = make([]byte, opts.MemoryMB*1024*1024)
		for i := 0; i < len(memory); i += 4096 {
			memory[i] = 1
		}
		fmt.Printf("Allocated %d MB\n", opts.MemoryMB)
	}

	var children []*exec.Cmd
	for i := 0; i < opts.Children; i++ {
		cmd := exec.Command(os.Args[0], "--run-duration", strconv.Itoa(opts.RunDuration))
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Start(); err != nil {
			fmt.Printf("Failed to start child %d: %v\n", i, err)
			os.Exit(1)
		}
		fmt.Printf("Started child, pid: %d\n", cmd.Process.Pid)
		children = append(children, cmd)
	}

	if opts.BurnCPU {
		go func() {
			for ctx.Err() == nil {
			}
		}()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case receivedSignal := <-sig:
		fmt.Printf("Childtest received signal: %v\n", receivedSignal)
	case <-ctx.Done():
		fmt.Printf("Childtest run duration elapsed\n")
	}

	for _, cmd := range children {
		_ = cmd.Wait()
	}

	runtime.KeepAlive(memory)
	fmt.Printf("Childtest exiting, pid: %d\n", os.Getpid())
	os.Exit(opts.ExitCode)
}
