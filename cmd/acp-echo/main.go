// acp-echo is a minimal ACP agent that echoes the user's message back as a
// JSON string. It speaks ACP over stdin/stdout, so it can stand in for
// `iflow --experimental-acp` in stdio mode without an LLM behind it.
//
// Usage:
//
//	acp-echo --experimental-acp
//
// The flag is accepted and ignored so the binary can be used as the process
// command directly.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ricochet1k/iflowacp/internal/mockpeer"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	agent := &mockpeer.EchoAgent{}
	agent.Serve(ctx, os.Stdout, os.Stdin)
}
