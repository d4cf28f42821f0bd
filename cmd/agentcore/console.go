package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"

	"agentcore/pkg/approval"
)

// console is the interactive side of the terminal: prompts go to out, answers come
// from in. Reads are serialized so approvals from parallel tool calls do not interleave.
type console struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
	fd  int
	tty bool
}

func newConsole(in io.Reader, out io.Writer) *console {
	c := &console{in: bufio.NewReader(in), out: out, fd: -1}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		c.fd = int(f.Fd())
		c.tty = true
	}
	return c
}

// readLine prints prompt and returns the next line without its newline.
func (c *console) readLine(prompt string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prompt != "" {
		fmt.Fprint(c.out, prompt)
	}
	line, err := c.in.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// readAll returns the rest of the input.
func (c *console) readAll() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, err := io.ReadAll(c.in)
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return string(data), nil
}

// password returns PasswordEnv when set, otherwise asks.
func (c *console) password(prompt string) (string, error) {
	if pw := os.Getenv(PasswordEnv); pw != "" {
		return pw, nil
	}
	return c.secret(prompt)
}

// secret reads a line without echo on a terminal.
func (c *console) secret(prompt string) (string, error) {
	if !c.tty {
		return c.readLine(prompt)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprint(c.out, prompt)
	pw, err := term.ReadPassword(c.fd)
	fmt.Fprintln(c.out)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	defer zero(pw)
	return string(pw), nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// approver asks on the console before each gated tool call. With autoApprove every
// call is approved without asking.
func (c *console) approver(autoApprove bool) approval.Approver {
	return func(ctx context.Context, req approval.Request) (bool, error) {
		if autoApprove {
			return true, nil
		}
		if err := ctx.Err(); err != nil {
			return false, err //nolint:wrapcheck // cancellation
		}
		answer, err := c.readLine(fmt.Sprintf("\nAllow %s %s? [y/N] ", req.ToolName, describeArgs(req.Args)))
		if err != nil {
			return false, err
		}
		switch strings.ToLower(strings.TrimSpace(answer)) {
		case "y", "yes":
			return true, nil
		default:
			return false, nil
		}
	}
}

func describeArgs(args map[string]any) string {
	for _, key := range []string{"path", "file_path", "url", "command"} {
		if v, ok := args[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
