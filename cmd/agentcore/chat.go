package main

import (
	"context"
	"encoding/base64"
	"flag"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"agentcore/pkg/chat"
	"agentcore/pkg/provider"
	"agentcore/pkg/vfs"
)

type chatFlags struct {
	provider      providerFlags
	agent         bool
	forceAgent    bool
	session       string
	system        string
	images        stringList
	yes           bool
	showReasoning bool
	maxTokens     int
}

type stringList []string

func (s *stringList) String() string     { return strings.Join(*s, ",") }
func (s *stringList) Set(v string) error { *s = append(*s, v); return nil }

func runChat(ctx context.Context, a *app, args []string, con *console, stdout io.Writer) error {
	fs := flag.NewFlagSet("chat", flag.ContinueOnError)
	fs.SetOutput(con.out)
	var f chatFlags
	f.provider.register(fs)
	fs.BoolVar(&f.agent, "agent", false, "Run as a tool-using agent")
	fs.BoolVar(&f.forceAgent, "force-agent", false, "Agent mode with the plan/execute/summarize output contract")
	fs.StringVar(&f.session, "session", "", "Session id; continues and saves the session's conversation")
	fs.StringVar(&f.system, "system", "", "Custom system prompt")
	fs.Var(&f.images, "image", "Attach an image file (repeatable)")
	fs.BoolVar(&f.yes, "yes", false, "Approve every gated tool call without asking")
	fs.BoolVar(&f.showReasoning, "show-reasoning", false, "Print the model's reasoning")
	fs.IntVar(&f.maxTokens, "max-tokens", 0, "Maximum output tokens (0 means provider default)")
	if err := fs.Parse(args); err != nil {
		return err //nolint:wrapcheck // flag reports its own errors
	}

	cfg, err := f.provider.config()
	if err != nil {
		return err
	}
	cfg.SystemPrompt = f.system

	prompt, err := promptText(fs.Args(), con)
	if err != nil {
		return err
	}
	attachments, err := loadImages(f.images)
	if err != nil {
		return err
	}

	var history []chat.Message
	if f.session != "" {
		if history, err = chat.History(ctx, a.memory, f.session); err != nil {
			return err
		}
	}
	history = append(history, chat.NewMessage(chat.RoleUser, prompt, attachments...))

	orch := chat.NewOrchestrator(a.registry, a.creds, chat.Options{
		Config:   a.cfg.Chat,
		Memory:   a.memory,
		Recorder: a.recorder,
	})
	fsys := vfs.New()
	persist := f.session != "" && (f.agent || f.forceAgent)
	if persist {
		n, err := chat.RestoreMemories(ctx, a.memory, f.session, fsys)
		if err != nil {
			return err
		}
		a.logger.Info("Restored %d memory files for session %s", n, f.session)
	}
	printer := &streamPrinter{out: stdout, reasoning: f.showReasoning}
	run := orch.Start(ctx, chat.RunRequest{
		Messages:       history,
		Provider:       cfg,
		AgentMode:      f.agent,
		ForceAgentMode: f.forceAgent,
		SessionID:      f.session,
		Approver:       con.approver(f.yes),
		FS:             fsys,
		MaxTokens:      f.maxTokens,
	}, printer)
	run.Wait()
	if persist {
		if err := chat.SaveMemories(context.WithoutCancel(ctx), a.memory, f.session, fsys); err != nil {
			a.logger.Warn("failed to save memories for session %s: %v", f.session, err)
		}
	}
	return printer.result()
}

// promptText joins the positional arguments, or reads stdin when there are none.
func promptText(args []string, con *console) (string, error) {
	text := strings.Join(args, " ")
	if strings.TrimSpace(text) == "" {
		var err error
		if text, err = con.readAll(); err != nil {
			return "", err
		}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: a prompt is required", errUsage)
	}
	return text, nil
}

func loadImages(paths []string) ([]chat.Attachment, error) {
	out := make([]chat.Attachment, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read image: %w", err)
		}
		mediaType := mime.TypeByExtension(strings.ToLower(filepath.Ext(p)))
		if mediaType == "" {
			mediaType = http.DetectContentType(data)
		}
		if !strings.HasPrefix(mediaType, "image/") {
			return nil, fmt.Errorf("%s is not an image (%s)", p, mediaType)
		}
		out = append(out, chat.Attachment{
			MediaType: mediaType,
			Data:      base64.StdEncoding.EncodeToString(data),
			Name:      filepath.Base(p),
		})
	}
	return out, nil
}

// streamPrinter writes a chat run to the terminal as it streams.
type streamPrinter struct {
	mu        sync.Mutex
	out       io.Writer
	reasoning bool
	inReason  bool
	err       error
	aborted   bool
}

func (p *streamPrinter) OnText(chunk string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inReason {
		fmt.Fprint(p.out, "\n\n")
		p.inReason = false
	}
	fmt.Fprint(p.out, chunk)
}

func (p *streamPrinter) OnReasoning(chunk string) {
	if !p.reasoning {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.inReason {
		fmt.Fprint(p.out, "[thinking] ")
		p.inReason = true
	}
	fmt.Fprint(p.out, chunk)
}

func (p *streamPrinter) OnToolCall(call chat.ToolCall) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "\n[tool] %s %s\n", call.Name, call.Arguments)
}

func (p *streamPrinter) OnToolResult(res chat.ToolResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	status := "ok"
	if res.IsError {
		status = "error"
	}
	fmt.Fprintf(p.out, "[tool] %s %s: %s\n", res.Name, status, truncate(res.Output, 200))
}

func (p *streamPrinter) OnComplete(stopReason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out)
	p.aborted = stopReason == provider.StopReasonAbort
}

func (p *streamPrinter) OnError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out)
	p.err = err
}

func (p *streamPrinter) result() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.aborted {
		return context.Canceled
	}
	return p.err
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ chat.Observer = (*streamPrinter)(nil)
