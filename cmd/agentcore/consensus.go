package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"
	"sync"

	"agentcore/pkg/chat"
	"agentcore/pkg/consensus"
	"agentcore/pkg/provider"
)

func runConsensus(ctx context.Context, a *app, args []string, con *console, stdout io.Writer) error {
	fs := flag.NewFlagSet("consensus", flag.ContinueOnError)
	fs.SetOutput(con.out)
	var (
		pf           providerFlags
		presetPath   string
		timeoutSec   int
		concurrency  int
		analystSteps int
		asJSON       bool
	)
	pf.register(fs)
	fs.StringVar(&presetPath, "preset", "", "YAML panel preset (default: analyst, critic and pragmatist)")
	fs.IntVar(&timeoutSec, "timeout", 0, "Wall-clock limit in seconds (0 means the configured value)")
	fs.IntVar(&concurrency, "concurrency", 0, "Analysts running at once (0 means the configured value)")
	fs.IntVar(&analystSteps, "analyst-steps", -1, "Tool steps per analyst; 0 disables tools (negative means the configured value)")
	fs.BoolVar(&asJSON, "json", false, "Print the final details as JSON after the answer")
	if err := fs.Parse(args); err != nil {
		return err //nolint:wrapcheck // flag reports its own errors
	}

	cfg, err := pf.config()
	if err != nil {
		return err
	}
	panel := consensus.DefaultConfig()
	if presetPath != "" {
		preset, err := consensus.LoadPreset(presetPath)
		if err != nil {
			return err //nolint:wrapcheck // already names the file
		}
		panel = preset.Config
		a.logger.Info("Using preset %q with %d agents", preset.Name, len(panel.Agents))
	}
	prompt, err := promptText(fs.Args(), con)
	if err != nil {
		return err
	}

	opts := a.cfg.Consensus
	if timeoutSec > 0 {
		opts.TimeoutSec = timeoutSec
	}
	if concurrency > 0 {
		opts.MaxConcurrency = concurrency
	}
	if analystSteps >= 0 {
		opts.MaxAnalystSteps = analystSteps
	}

	orch := consensus.NewOrchestrator(a.registry, a.creds, consensus.Options{
		Config:   opts,
		Recorder: a.recorder,
	})
	printer := &panelPrinter{progress: con.out, answer: stdout}
	run := orch.Start(ctx, consensus.Request{
		Messages: []chat.Message{chat.NewMessage(chat.RoleUser, prompt)},
		Provider: cfg,
		Config:   panel,
	}, printer)
	run.Wait()

	if err := printer.result(); err != nil {
		return err
	}
	if asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(printer.last); err != nil {
			return fmt.Errorf("failed to encode details: %w", err)
		}
	}
	return nil
}

// panelPrinter reports progress as status changes and writes the answer separately.
type panelPrinter struct {
	mu       sync.Mutex
	progress io.Writer
	answer   io.Writer
	last     consensus.Details
	seen     bool
	err      error
	aborted  bool
}

func (p *panelPrinter) OnText(chunk string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprint(p.answer, chunk)
}

func (p *panelPrinter) OnDetails(d consensus.Details) {
	p.mu.Lock()
	defer p.mu.Unlock()
	prev := p.last
	for i, r := range d.AgentResults {
		if p.seen && i < len(prev.AgentResults) && prev.AgentResults[i].Status == r.Status {
			continue
		}
		fmt.Fprintf(p.progress, "[%s] %s (%s)\n", r.Role, r.Status, r.ModelRef)
	}
	if !p.seen || prev.Status != d.Status {
		fmt.Fprintf(p.progress, "== %s\n", strings.ReplaceAll(string(d.Status), "_", " "))
	}
	if d.ReviewerVerdict != "" && prev.ReviewerVerdict == "" {
		fmt.Fprintf(p.progress, "\nReviewer (%s):\n%s\n\n", d.ReviewerModel, d.ReviewerVerdict)
	}
	p.last = d
	p.seen = true
}

func (p *panelPrinter) OnNodeError(agentID string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.progress, "[%s] failed: %v\n", agentID, err)
}

func (p *panelPrinter) OnComplete(stopReason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.answer)
	p.aborted = stopReason == provider.StopReasonAbort
}

func (p *panelPrinter) OnError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *panelPrinter) result() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.aborted {
		return context.Canceled
	}
	return p.err
}

var _ consensus.Observer = (*panelPrinter)(nil)
