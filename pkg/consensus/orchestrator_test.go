package consensus

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentcore/pkg/chat"
	"agentcore/pkg/config"
	"agentcore/pkg/credentials"
	"agentcore/pkg/graph"
	"agentcore/pkg/llmerrors"
	"agentcore/pkg/metrics"
	"agentcore/pkg/provider"
	"agentcore/pkg/provider/providertest"
)

const judgeReply = `Here is my assessment.
{"reasoning":"The critic found the flaw.","scores":{"analyst":6,"critic":9,"pragmatist":7},"winner":"critic"}`

// panelResponse answers as whichever participant the system prompt addresses.
func panelResponse(fail map[string]error, block map[string]bool) func(provider.Request) []provider.Event {
	return func(req provider.Request) []provider.Event {
		text := func(s string) []provider.Event {
			return []provider.Event{
				{Type: provider.EventText, Text: s},
				{Type: provider.EventFinish, StopReason: provider.StopReasonStop},
			}
		}
		role := "synthesis"
		switch {
		case strings.HasPrefix(req.System, "You are the reviewer"):
			role = "judge"
		case strings.HasPrefix(req.System, "You are the "):
			role = strings.Fields(strings.TrimPrefix(req.System, "You are the "))[0]
		}
		if err, ok := fail[role]; ok {
			return []provider.Event{{Type: provider.EventError, Err: err}}
		}
		if block[role] {
			return nil
		}
		switch role {
		case "judge":
			return text(judgeReply)
		case "synthesis":
			return text("final answer")
		default:
			return text(role + " says hi")
		}
	}
}

type fakeProviders struct {
	mu       sync.Mutex
	resolved []string
	turn     providertest.Turn
	eps      map[string]*providertest.Endpoint
}

func (f *fakeProviders) registry() *provider.Registry {
	return provider.NewRegistry(provider.WithFamily(provider.FamilyOllama, func() (provider.Factory, error) {
		return func(s provider.Settings) (provider.Endpoint, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.resolved = append(f.resolved, s.Model)
			if f.eps == nil {
				f.eps = make(map[string]*providertest.Endpoint)
			}
			ep, ok := f.eps[s.Model]
			if !ok {
				ep = providertest.New(s.Model, f.turn)
				ep.KindID = s.Kind
				f.eps[s.Model] = ep
			}
			return ep, nil
		}, nil
	}))
}

type panelObserver struct {
	mu        sync.Mutex
	text      []string
	snapshots []Details
	nodeErrs  map[string]error
	completes []string
	errs      []error
	onDetails func(Details)
}

func (p *panelObserver) OnText(chunk string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.text = append(p.text, chunk)
}

func (p *panelObserver) OnDetails(d Details) {
	p.mu.Lock()
	p.snapshots = append(p.snapshots, d)
	p.mu.Unlock()
	if p.onDetails != nil {
		p.onDetails(d)
	}
}

func (p *panelObserver) OnNodeError(id string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.nodeErrs == nil {
		p.nodeErrs = map[string]error{}
	}
	p.nodeErrs[id] = err
}

func (p *panelObserver) OnComplete(stop string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completes = append(p.completes, stop)
}

func (p *panelObserver) OnError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs = append(p.errs, err)
}

func (p *panelObserver) last() Details { return p.snapshots[len(p.snapshots)-1] }

type failureRecorder struct {
	metrics.NoopRecorder
	mu       sync.Mutex
	critical []bool
	runs     []string
}

func (r *failureRecorder) IncNodeFailure(critical bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.critical = append(r.critical, critical)
}

func (r *failureRecorder) ObserveRun(mode, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, mode+"/"+outcome)
}

func testOptions(rec metrics.Recorder) Options {
	return Options{
		Config:   config.ConsensusConfig{TimeoutSec: 10, MaxConcurrency: 3},
		Recorder: rec,
	}
}

func request(prompt string, cfg Config) Request {
	return Request{
		Messages: []chat.Message{chat.NewMessage(chat.RoleUser, prompt)},
		Provider: provider.Config{Kind: provider.KindOllama, ModelID: "shared"},
		Config:   cfg,
	}
}

func waitRun(t *testing.T, run *Run) {
	t.Helper()
	select {
	case <-run.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("consensus run did not finish")
	}
}

// assertNoRegression checks that no agent leaves the complete state once reached.
func assertNoRegression(t *testing.T, snapshots []Details) {
	t.Helper()
	done := map[string]bool{}
	for _, d := range snapshots {
		for _, r := range d.AgentResults {
			if done[r.AgentID] {
				assert.Equal(t, AgentComplete, r.Status, "agent %s regressed", r.AgentID)
			}
			if r.Status == AgentComplete {
				done[r.AgentID] = true
			}
		}
	}
}

func TestConsensusRun(t *testing.T) {
	fp := &fakeProviders{turn: providertest.Turn{Response: panelResponse(nil, nil)}}
	rec := &failureRecorder{}
	obs := &panelObserver{}
	o := NewOrchestrator(fp.registry(), credentials.Static(nil), testOptions(rec))

	run := o.Start(context.Background(), request("Should we ship on Friday?", DefaultConfig()), obs)
	waitRun(t, run)

	require.Empty(t, obs.errs)
	assert.Equal(t, []string{provider.StopReasonStop}, obs.completes)
	assert.Equal(t, []string{"final answer"}, obs.text)
	assert.Equal(t, chat.StateCompleted, run.State())
	assert.Equal(t, []string{"consensus/stop"}, rec.runs)

	first := obs.snapshots[0]
	assert.Equal(t, StatusAgentsRunning, first.Status)
	assert.Empty(t, first.ReviewerModel, "reviewer is recorded when the judge starts")
	for _, r := range first.AgentResults {
		assert.Equal(t, AgentPending, r.Status)
		assert.Equal(t, "ollama/shared", r.ModelRef)
	}

	final := obs.last()
	assert.Equal(t, StatusComplete, final.Status)
	assert.True(t, final.AgentsDone)
	assert.Equal(t, "ollama/shared", final.ReviewerModel)
	require.Len(t, final.AgentResults, 3)
	assert.Equal(t, "Critic", final.AgentResults[1].Role)
	assert.Equal(t, "Critic says hi", final.AgentResults[1].Output)
	for _, r := range final.AgentResults {
		assert.Equal(t, AgentComplete, r.Status)
	}
	assert.Equal(t, "The critic found the flaw.\n\nScores:\n- Analyst: 6\n- Critic: 9\n- Pragmatist: 7\n\nWinner: Critic", final.ReviewerVerdict)
	assertNoRegression(t, obs.snapshots)

	// One shared endpoint, resolved once.
	assert.Equal(t, []string{"shared"}, fp.resolved)
}

func TestJudgeFailureCompletesWithoutVerdict(t *testing.T) {
	fail := map[string]error{"judge": errors.New("reviewer overloaded")}
	fp := &fakeProviders{turn: providertest.Turn{Response: panelResponse(fail, nil)}}
	rec := &failureRecorder{}
	obs := &panelObserver{}
	o := NewOrchestrator(fp.registry(), credentials.Static(nil), testOptions(rec))

	run := o.Start(context.Background(), request("Should we ship on Friday?", DefaultConfig()), obs)
	waitRun(t, run)

	require.Empty(t, obs.errs)
	assert.Equal(t, []string{"final answer"}, obs.text)
	assert.Equal(t, []string{provider.StopReasonStop}, obs.completes)
	require.Contains(t, obs.nodeErrs, stepConsensus)
	assert.ErrorContains(t, obs.nodeErrs[stepConsensus], "reviewer overloaded")

	final := obs.last()
	assert.Equal(t, StatusComplete, final.Status)
	assert.Empty(t, final.ReviewerVerdict)
	assert.Equal(t, "ollama/shared", final.ReviewerModel)
	assert.Equal(t, []bool{false}, rec.critical)
}

func TestAnalystFailureDoesNotAbort(t *testing.T) {
	fail := map[string]error{"Critic": errors.New("rate limited")}
	fp := &fakeProviders{turn: providertest.Turn{Response: panelResponse(fail, nil)}}
	rec := &failureRecorder{}
	obs := &panelObserver{}
	o := NewOrchestrator(fp.registry(), credentials.Static(nil), testOptions(rec))

	run := o.Start(context.Background(), request("q", DefaultConfig()), obs)
	waitRun(t, run)

	require.Empty(t, obs.errs)
	assert.Equal(t, []string{"final answer"}, obs.text)
	require.Contains(t, obs.nodeErrs, "critic")
	assert.ErrorContains(t, obs.nodeErrs["critic"], "rate limited")
	assert.Equal(t, []bool{false}, rec.critical)

	final := obs.last()
	assert.Equal(t, AgentRunning, final.AgentResults[1].Status)
	assert.Empty(t, final.AgentResults[1].Output)
	assert.Equal(t, AgentComplete, final.AgentResults[0].Status)
	assert.Equal(t, AgentComplete, final.AgentResults[2].Status)
	assert.Equal(t, StatusComplete, final.Status)
	assertNoRegression(t, obs.snapshots)

	ep := fp.eps["shared"]
	var judged string
	for _, req := range ep.Requests() {
		if strings.HasPrefix(req.System, "You are the reviewer") {
			judged = req.Messages[0].Content
		}
	}
	assert.Contains(t, judged, "Analyst says hi")
	assert.NotContains(t, judged, "Critic says hi")
}

func TestAllAnalystsFailStillAnswers(t *testing.T) {
	fail := map[string]error{"Analyst": errors.New("x"), "Critic": errors.New("y"), "Pragmatist": errors.New("z")}
	fp := &fakeProviders{turn: providertest.Turn{Response: panelResponse(fail, nil)}}
	obs := &panelObserver{}
	o := NewOrchestrator(fp.registry(), credentials.Static(nil), testOptions(nil))

	run := o.Start(context.Background(), request("q", DefaultConfig()), obs)
	waitRun(t, run)

	assert.Empty(t, obs.errs)
	assert.Len(t, obs.nodeErrs, 3)
	assert.Equal(t, []string{"final answer"}, obs.text)
	assert.Equal(t, []string{provider.StopReasonStop}, obs.completes)
}

func TestSynthesisFailureIsAnError(t *testing.T) {
	fail := map[string]error{"synthesis": errors.New("overloaded")}
	fp := &fakeProviders{turn: providertest.Turn{Response: panelResponse(fail, nil)}}
	rec := &failureRecorder{}
	obs := &panelObserver{}
	o := NewOrchestrator(fp.registry(), credentials.Static(nil), testOptions(rec))

	run := o.Start(context.Background(), request("q", DefaultConfig()), obs)
	waitRun(t, run)

	assert.Empty(t, obs.completes)
	require.Len(t, obs.errs, 1)
	assert.ErrorContains(t, obs.errs[0], "synthesis failed")
	assert.ErrorContains(t, obs.errs[0], "overloaded")
	assert.Equal(t, []bool{true}, rec.critical)
	assert.Equal(t, chat.StateErrored, run.State())
}

func TestEmptyPromptFailsBeforeResolving(t *testing.T) {
	fp := &fakeProviders{turn: providertest.Text("never")}
	obs := &panelObserver{}
	o := NewOrchestrator(fp.registry(), credentials.Static(nil), testOptions(nil))

	req := request("   ", DefaultConfig())
	req.Messages = append(req.Messages, chat.NewMessage(chat.RoleAssistant, "assistant text does not count"))
	run := o.Start(context.Background(), req, obs)
	waitRun(t, run)

	require.Len(t, obs.errs, 1)
	assert.True(t, llmerrors.IsConfiguration(obs.errs[0]))
	assert.Empty(t, fp.resolved)
	assert.Empty(t, obs.snapshots)
}

func TestPerAgentModelsResolvedOncePerAgent(t *testing.T) {
	fp := &fakeProviders{turn: providertest.Turn{Response: panelResponse(nil, nil)}}
	obs := &panelObserver{}
	o := NewOrchestrator(fp.registry(), credentials.Static(nil), testOptions(nil))

	cfg := DefaultConfig()
	cfg.UseSharedModel = false
	cfg.Agents[0].Model = &ModelRef{Kind: provider.KindOllama, ModelID: "model-a"}
	cfg.Agents[1].Model = &ModelRef{ModelID: "model-b"}
	cfg.ReviewerModel = &ModelRef{Kind: provider.KindOllama, ModelID: "model-r"}

	run := o.Start(context.Background(), request("q", cfg), obs)
	waitRun(t, run)

	require.Empty(t, obs.errs)
	assert.ElementsMatch(t, []string{"shared", "model-a", "model-b", "model-r"}, fp.resolved)
	final := obs.last()
	assert.Equal(t, "ollama/model-a", final.AgentResults[0].ModelRef)
	assert.Equal(t, "ollama/model-b", final.AgentResults[1].ModelRef)
	assert.Equal(t, "ollama/shared", final.AgentResults[2].ModelRef)
	assert.Equal(t, "ollama/model-r", final.ReviewerModel)
	assert.Equal(t, 1, fp.eps["model-a"].Calls())
	assert.Equal(t, 1, fp.eps["model-r"].Calls())

	// With a shared model the overrides are ignored.
	fp2 := &fakeProviders{turn: providertest.Turn{Response: panelResponse(nil, nil)}}
	cfg.UseSharedModel = true
	run = NewOrchestrator(fp2.registry(), credentials.Static(nil), testOptions(nil)).Start(context.Background(), request("q", cfg), &panelObserver{})
	waitRun(t, run)
	assert.Equal(t, []string{"shared"}, fp2.resolved)
}

func TestUnresolvableAgentModelIsConfigurationError(t *testing.T) {
	fp := &fakeProviders{turn: providertest.Turn{Response: panelResponse(nil, nil)}}
	obs := &panelObserver{}
	cfg := DefaultConfig()
	cfg.UseSharedModel = false
	cfg.Agents[2].Model = &ModelRef{Kind: "bogus", ModelID: "m"}

	run := NewOrchestrator(fp.registry(), credentials.Static(nil), testOptions(nil)).Start(context.Background(), request("q", cfg), obs)
	waitRun(t, run)

	require.Len(t, obs.errs, 1)
	assert.True(t, llmerrors.IsConfiguration(obs.errs[0]))
	assert.ErrorContains(t, obs.errs[0], "agent Pragmatist")
}

func TestCancelCompletesWithAbort(t *testing.T) {
	block := map[string]bool{"Analyst": true, "Critic": true, "Pragmatist": true}
	fp := &fakeProviders{turn: providertest.Turn{Response: panelResponse(nil, block), Block: true}}
	obs := &panelObserver{}
	o := NewOrchestrator(fp.registry(), credentials.Static(nil), testOptions(nil))

	var (
		run  *Run
		once sync.Once
	)
	ready := make(chan struct{})
	obs.onDetails = func(d Details) {
		if d.AgentResults[0].Status == AgentRunning {
			once.Do(func() { close(ready) })
		}
	}
	run = o.Start(context.Background(), request("q", DefaultConfig()), obs)
	<-ready
	run.Cancel()
	waitRun(t, run)
	run.Cancel()

	assert.Equal(t, []string{provider.StopReasonAbort}, obs.completes)
	assert.Empty(t, obs.errs)
	assert.Equal(t, chat.StateAborted, run.State())
}

func TestTrackerFallbackAndErrors(t *testing.T) {
	handles := []*handle{
		{index: 0, role: AgentRole{ID: "a", Role: "Alpha"}},
		{index: 1, role: AgentRole{ID: "b", Role: "Beta"}},
	}

	t.Run("verdict is shown when synthesis never completes", func(t *testing.T) {
		obs := &panelObserver{}
		tr := newTracker(handles, "ollama/r", obs, metrics.Nop())
		require.NoError(t, tr.apply(&graph.Event{Type: graph.EventConsensusResult, Verdict: &graph.Verdict{Reasoning: "Beta is right", Winner: "b"}}))
		require.NoError(t, tr.finish())
		assert.Equal(t, []string{"Beta is right\n\nWinner: Beta"}, obs.text)
	})

	t.Run("reviewer is recorded at consensus start", func(t *testing.T) {
		obs := &panelObserver{}
		tr := newTracker(handles, "ollama/r", obs, metrics.Nop())
		tr.push()
		assert.Empty(t, obs.last().ReviewerModel)

		require.NoError(t, tr.apply(&graph.Event{Type: graph.EventConsensusStart, Index: graph.NoIndex, Reviewer: "anthropic/judge"}))
		assert.Equal(t, StatusConsensusRunning, obs.last().Status)
		assert.Equal(t, "anthropic/judge", obs.last().ReviewerModel)

		other := newTracker(handles, "ollama/r", obs, metrics.Nop())
		require.NoError(t, other.apply(&graph.Event{Type: graph.EventConsensusStart, Index: graph.NoIndex}))
		assert.Equal(t, "ollama/r", obs.last().ReviewerModel)
	})

	t.Run("judge error completes without a verdict", func(t *testing.T) {
		obs := &panelObserver{}
		tr := newTracker(handles, "ollama/r", obs, metrics.Nop())
		require.NoError(t, tr.apply(&graph.Event{Type: graph.EventConsensusStart, Index: graph.NoIndex}))
		require.NoError(t, tr.apply(&graph.Event{Type: graph.EventNodeError, NodeID: stepConsensus, AgentID: stepConsensus, Index: graph.NoIndex, Err: errors.New("bad json")}))
		assert.Equal(t, StatusComplete, obs.last().Status)
		assert.Empty(t, obs.last().ReviewerVerdict)
		assert.Contains(t, obs.nodeErrs, stepConsensus)
		assert.ErrorIs(t, tr.finish(), ErrNoAnswer)
	})

	t.Run("nothing to show", func(t *testing.T) {
		tr := newTracker(handles, "", &panelObserver{}, metrics.Nop())
		assert.ErrorIs(t, tr.finish(), ErrNoAnswer)
	})

	t.Run("graph error ends the run", func(t *testing.T) {
		tr := newTracker(handles, "", &panelObserver{}, metrics.Nop())
		err := tr.apply(&graph.Event{Type: graph.EventGraphError, Err: graph.ErrTimeout})
		assert.ErrorIs(t, err, graph.ErrTimeout)
	})

	t.Run("partial without agent id falls back to position", func(t *testing.T) {
		obs := &panelObserver{}
		tr := newTracker(handles, "", obs, metrics.Nop())
		require.NoError(t, tr.apply(&graph.Event{Type: graph.EventForkPartial, Index: 1, Output: "beta out"}))
		assert.Equal(t, "beta out", obs.last().AgentResults[1].Output)
		assert.Equal(t, AgentComplete, obs.last().AgentResults[1].Status)
	})

	t.Run("fork start does not regress complete agents", func(t *testing.T) {
		obs := &panelObserver{}
		tr := newTracker(handles, "", obs, metrics.Nop())
		require.NoError(t, tr.apply(&graph.Event{Type: graph.EventForkPartial, AgentID: "a", Index: 0, Output: "x"}))
		require.NoError(t, tr.apply(&graph.Event{Type: graph.EventForkStart, Index: graph.NoIndex}))
		assert.Equal(t, AgentComplete, obs.last().AgentResults[0].Status)
		assert.Equal(t, AgentRunning, obs.last().AgentResults[1].Status)
	})

	t.Run("fork complete reconciles missed partials", func(t *testing.T) {
		obs := &panelObserver{}
		tr := newTracker(handles, "", obs, metrics.Nop())
		require.NoError(t, tr.apply(&graph.Event{Type: graph.EventForkComplete, Results: []graph.NodeResult{
			{AgentID: "a", Index: 0, Output: "late"},
			{AgentID: "b", Index: 1, Err: errors.New("failed")},
		}}))
		d := obs.last()
		assert.Equal(t, "late", d.AgentResults[0].Output)
		assert.Equal(t, AgentComplete, d.AgentResults[0].Status)
		assert.Equal(t, AgentPending, d.AgentResults[1].Status)
		assert.True(t, d.AgentsDone)
	})
}
