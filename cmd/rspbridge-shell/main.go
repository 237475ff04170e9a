// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The rspbridge-shell command is an interactive console for sending raw
// RSP commands to a running rspbridge server and watching its replies,
// the developer-facing counterpart to ogledb's interactive session.
package main

import (
	"fmt"
	"io"
	"net"
	"os"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/sandboxdbg/rspbridge/internal/rsp"
)

var flagAddr string

func main() {
	cmd := &cobra.Command{
		Use:   "rspbridge-shell",
		Short: "Interactive console for sending raw RSP commands to a running rspbridge server",
		RunE: func(*cobra.Command, []string) error {
			return runShell(flagAddr)
		},
		SilenceUsage: true,
	}
	cmd.Flags().StringVar(&flagAddr, "addr", "localhost:2345", "address of a running rspbridge server")
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runShell(addr string) error {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("rspbridge-shell: dial %s: %w", addr, err)
	}
	defer conn.Close()

	rl, err := readline.New("rsp> ")
	if err != nil {
		return err
	}
	defer rl.Close()

	go readReplies(conn, rl.Stdout())

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt || err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if line == "" {
			continue
		}
		if _, err := conn.Write(rsp.Frame([]byte(line))); err != nil {
			return fmt.Errorf("rspbridge-shell: write: %w", err)
		}
	}
}

// readReplies feeds every byte the connection produces through a
// Packetizer and prints completed frames until the connection closes, so
// the prompt above stays free for input. Bare ack/nak bytes are consumed
// by the Packetizer and not printed.
func readReplies(conn net.Conn, out io.Writer) {
	framer := rsp.NewPacketizer()
	framer.OnPacket = func(body []byte, valid bool) {
		if !valid {
			fmt.Fprintln(out, "<- (checksum mismatch)")
			return
		}
		fmt.Fprintf(out, "<- %s\n", body)
	}

	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		for _, b := range buf[:n] {
			framer.Feed(b)
		}
	}
}
