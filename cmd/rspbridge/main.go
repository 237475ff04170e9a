// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The rspbridge command launches or attaches to a process and exposes its
// guest threads over an RSP-style debugger wire protocol, the way
// ogleproxy exposes a local program's Program interface over RPC.
package main

import (
	"fmt"
	"net"
	"os"

	"github.com/spf13/cobra"

	"github.com/sandboxdbg/rspbridge/internal/bridge"
	"github.com/sandboxdbg/rspbridge/internal/debugapi"
	"github.com/sandboxdbg/rspbridge/internal/debuggee"
	"github.com/sandboxdbg/rspbridge/internal/logging"
)

// Exit codes, matching the wire-protocol bridge's documented contract.
const (
	exitOK = iota
	exitNoProgram
	exitListenFailed
	exitStartFailed
	exitInternal
)

var (
	flagPort              int
	flagProgram           string
	flagAttach            int
	flagCompatibilityMode bool
	flagLogFile           string
)

func main() {
	os.Exit(run())
}

func run() int {
	code := exitOK
	cmd := &cobra.Command{
		Use:          "rspbridge",
		Short:        "Attach to a process and serve its guest threads over an RSP-style debugger wire protocol",
		SilenceUsage: true,
		RunE: func(*cobra.Command, []string) error {
			code = serve()
			if code != exitOK {
				return fmt.Errorf("rspbridge: exiting with status %d", code)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&flagPort, "port", 2345, "TCP port the bridge listens on")
	cmd.Flags().StringVar(&flagProgram, "program", "", "path of the program to launch and debug")
	cmd.Flags().IntVar(&flagAttach, "attach", 0, "pid of an already-running process to attach to, instead of --program")
	cmd.Flags().BoolVar(&flagCompatibilityMode, "compatibility-mode", false, "defer accepting a client until the guest reaches its own entry point")
	cmd.Flags().StringVar(&flagLogFile, "log-file", "rspbridge.log", "rotating log file path; logs to stdout if empty")

	if err := cmd.Execute(); err != nil && code == exitOK {
		code = exitInternal
	}
	return code
}

func serve() int {
	if flagProgram == "" && flagAttach == 0 {
		fmt.Fprintln(os.Stderr, "rspbridge: one of --program or --attach is required")
		return exitNoProgram
	}
	if flagProgram != "" && flagAttach != 0 {
		fmt.Fprintln(os.Stderr, "rspbridge: --program and --attach are mutually exclusive")
		return exitNoProgram
	}

	log := logging.New(logging.Options{FilePath: flagLogFile, Stdout: flagLogFile == ""})

	api := debugapi.NewLinuxPtrace()
	engine := debuggee.NewEngine(api)

	var process *debuggee.Process
	var err error
	if flagProgram != "" {
		process, err = engine.StartProcess([]string{flagProgram}, "")
	} else {
		process, err = engine.AttachToProcess(flagAttach)
	}
	if err != nil {
		log.WithError(err).Error("failed to start or attach the debuggee")
		return exitStartFailed
	}

	// localhost only: the bridge is a single-client debug channel, not a
	// service meant to be reachable off the host.
	ln, err := net.Listen("tcp", fmt.Sprintf("localhost:%d", flagPort))
	if err != nil {
		log.WithError(err).WithField("port", flagPort).Error("failed to listen")
		return exitListenFailed
	}
	defer ln.Close()

	log.WithField("port", flagPort).Info("rspbridge listening")
	srv := bridge.NewServer(log, engine, process, bridge.Options{CompatibilityMode: flagCompatibilityMode})
	if err := srv.Serve(ln); err != nil {
		log.WithError(err).Error("server exited with an error")
		return exitInternal
	}
	return exitOK
}
