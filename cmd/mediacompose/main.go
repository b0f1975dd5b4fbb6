// Package main implements the mediacompose command, a composition node that
// attaches NATS-fed media streams to a presentation and publishes the
// composed visual and audio outputs over NATS and WebSocket.
package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"runtime"
)

// Build information
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "mediacompose"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !stderrors.Is(err, context.Canceled) {
			_, _ = fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
