// Command agentcore runs single-agent chats and multi-agent consensus runs from the
// terminal.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"agentcore/pkg/version"
)

const usage = `agentcore - streaming chat and consensus runs

Usage:
  agentcore [global flags] chat [flags] [prompt]
  agentcore [global flags] consensus [flags] [prompt]
  agentcore [global flags] secrets set|delete|list [NAME]

Global flags:
`

var errUsage = errors.New("usage")

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run returns the process exit code so deferred cleanup happens before os.Exit.
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	global := flag.NewFlagSet("agentcore", flag.ContinueOnError)
	global.SetOutput(stderr)
	var g globalFlags
	g.register(global)
	showVersion := global.Bool("version", false, "Show version information")
	global.Usage = func() {
		fmt.Fprint(stderr, usage)
		global.PrintDefaults()
	}
	if err := global.Parse(args); err != nil {
		return 2
	}
	if *showVersion {
		fmt.Fprintln(stdout, version.String())
		return 0
	}
	rest := global.Args()
	if len(rest) == 0 {
		global.Usage()
		return 2
	}

	con := newConsole(stdin, stderr)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch rest[0] {
	case "chat":
		err = withApp(ctx, &g, con, stderr, func(a *app) error { return runChat(ctx, a, rest[1:], con, stdout) })
	case "consensus":
		err = withApp(ctx, &g, con, stderr, func(a *app) error { return runConsensus(ctx, a, rest[1:], con, stdout) })
	case "secrets":
		err = runSecrets(&g, rest[1:], con, stdout)
	default:
		fmt.Fprintf(stderr, "Error: unknown command %q\n\n", rest[0])
		global.Usage()
		return 2
	}

	switch {
	case err == nil:
		return 0
	case errors.Is(err, errUsage), errors.Is(err, flag.ErrHelp):
		return 2
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(stderr, "\ncancelled")
		return 130
	default:
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
}

func withApp(ctx context.Context, g *globalFlags, con *console, stderr io.Writer, fn func(*app) error) error {
	a, err := newApp(ctx, g, con, stderr)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
